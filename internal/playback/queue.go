package playback

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/U1000000000000/Lila/internal/metrics"
	"github.com/U1000000000000/Lila/internal/ports"
)

// DefaultMinClipBytes is the threshold below which a clip is considered a
// backend hiccup (near-empty audio) and skipped without reaching the sink.
const DefaultMinClipBytes = 1000

// Clip is an ephemeral playable audio resource. The queue owns it from
// enqueue until playback completes or is abandoned, at which point it is
// released exactly once.
type Clip struct {
	ID   string
	Data []byte

	releaseOnce sync.Once
	releaseHook func()
}

// NewClip wraps container bytes in a queue-owned resource. releaseHook may
// be nil; it runs once when the clip is released.
func NewClip(data []byte, releaseHook func()) *Clip {
	return &Clip{
		ID:          uuid.NewString(),
		Data:        data,
		releaseHook: releaseHook,
	}
}

// Release drops the clip's payload and runs the release hook. Later calls
// are no-ops.
func (c *Clip) Release() {
	c.releaseOnce.Do(func() {
		c.Data = nil
		if c.releaseHook != nil {
			c.releaseHook()
		}
	})
}

// Callbacks are the queue's lifecycle events. Started fires the moment a
// clip begins playing; Ended fires when it finishes, errors, or is skipped.
type Callbacks struct {
	Started func(clip *Clip)
	Ended   func(clip *Clip)
}

// Queue serializes playback of an unbounded sequence of clips: strict FIFO,
// at most one playing at a time. Every failure path for an item converges on
// release + Ended + advance, so one bad clip never stalls the queue.
type Queue struct {
	ctx          context.Context
	sink         ports.AudioSink
	callbacks    Callbacks
	minClipBytes int
	log          *zap.Logger
	metrics      *metrics.Metrics

	mu      sync.Mutex
	pending []*Clip
	playing bool
}

func NewQueue(ctx context.Context, sink ports.AudioSink, callbacks Callbacks, minClipBytes int, log *zap.Logger, m *metrics.Metrics) *Queue {
	if ctx == nil {
		ctx = context.Background()
	}
	if minClipBytes <= 0 {
		minClipBytes = DefaultMinClipBytes
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Queue{
		ctx:          ctx,
		sink:         sink,
		callbacks:    callbacks,
		minClipBytes: minClipBytes,
		log:          log,
		metrics:      m,
	}
}

// Enqueue appends a clip and starts playback if nothing is playing.
func (q *Queue) Enqueue(clip *Clip) {
	q.mu.Lock()
	q.pending = append(q.pending, clip)
	depth := len(q.pending)
	q.mu.Unlock()

	if q.metrics != nil {
		q.metrics.ClipsEnqueued.Inc()
		q.metrics.QueueDepth.Set(float64(depth))
	}
	q.playNext()
}

// Depth returns the number of clips waiting (not counting one in flight).
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Playing reports whether a clip is currently in flight.
func (q *Queue) Playing() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.playing
}

func (q *Queue) playNext() {
	q.mu.Lock()
	if q.playing || len(q.pending) == 0 {
		q.mu.Unlock()
		return
	}
	clip := q.pending[0]
	q.pending = q.pending[1:]
	depth := len(q.pending)

	if len(clip.Data) < q.minClipBytes {
		q.mu.Unlock()
		q.log.Warn("skipping degenerate audio clip",
			zap.String("clip", clip.ID),
			zap.Int("bytes", len(clip.Data)),
		)
		if q.metrics != nil {
			q.metrics.ClipsSkipped.Inc()
			q.metrics.QueueDepth.Set(float64(depth))
		}
		clip.Release()
		if q.callbacks.Ended != nil {
			q.callbacks.Ended(clip)
		}
		q.playNext()
		return
	}

	q.playing = true
	q.mu.Unlock()
	if q.metrics != nil {
		q.metrics.QueueDepth.Set(float64(depth))
	}
	go q.run(clip)
}

func (q *Queue) run(clip *Clip) {
	done, err := q.sink.Start(q.ctx, clip.Data)
	if err != nil {
		q.log.Warn("clip failed to start", zap.String("clip", clip.ID), zap.Error(err))
		if q.metrics != nil {
			q.metrics.ClipsFailed.Inc()
		}
		q.finish(clip)
		return
	}

	if q.callbacks.Started != nil {
		q.callbacks.Started(clip)
	}

	if playErr := <-done; playErr != nil {
		q.log.Warn("clip playback error", zap.String("clip", clip.ID), zap.Error(playErr))
		if q.metrics != nil {
			q.metrics.ClipsFailed.Inc()
		}
	} else if q.metrics != nil {
		q.metrics.ClipsPlayed.Inc()
	}
	q.finish(clip)
}

// finish is the single convergence point for every exit path of an in-flight
// clip: release once, clear the guard, report Ended, advance.
func (q *Queue) finish(clip *Clip) {
	clip.Release()

	q.mu.Lock()
	q.playing = false
	q.mu.Unlock()

	if q.callbacks.Ended != nil {
		q.callbacks.Ended(clip)
	}
	q.playNext()
}
