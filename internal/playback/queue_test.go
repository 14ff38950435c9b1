package playback

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/U1000000000000/Lila/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
)

type scriptedSink struct {
	mu         sync.Mutex
	calls      int
	startErrAt map[int]error
	playErrAt  map[int]error
}

func (s *scriptedSink) Start(_ context.Context, _ []byte) (<-chan error, error) {
	s.mu.Lock()
	s.calls++
	n := s.calls
	s.mu.Unlock()

	if err := s.startErrAt[n]; err != nil {
		return nil, err
	}
	done := make(chan error, 1)
	done <- s.playErrAt[n]
	return done, nil
}

func (s *scriptedSink) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func newTestQueue(t *testing.T, sink *scriptedSink, events chan string, names map[*Clip]string) *Queue {
	t.Helper()

	var mu sync.Mutex
	name := func(clip *Clip) string {
		mu.Lock()
		defer mu.Unlock()
		return names[clip]
	}
	callbacks := Callbacks{
		Started: func(clip *Clip) { events <- "started " + name(clip) },
		Ended:   func(clip *Clip) { events <- "ended " + name(clip) },
	}
	m := metrics.New(prometheus.NewRegistry())
	return NewQueue(context.Background(), sink, callbacks, DefaultMinClipBytes, zaptest.NewLogger(t), m)
}

func nextEvent(t *testing.T, events chan string) string {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for queue event")
		return ""
	}
}

func expectEvent(t *testing.T, events chan string, want string) {
	t.Helper()
	if got := nextEvent(t, events); got != want {
		t.Fatalf("unexpected event: got %q, want %q", got, want)
	}
}

func TestQueuePlaysInEnqueueOrder(t *testing.T) {
	t.Parallel()

	sink := &scriptedSink{}
	events := make(chan string, 16)
	names := map[*Clip]string{}

	r1 := NewClip(make([]byte, 2000), nil)
	r2 := NewClip(make([]byte, 2000), nil)
	r3 := NewClip(make([]byte, 2000), nil)
	names[r1], names[r2], names[r3] = "R1", "R2", "R3"

	q := newTestQueue(t, sink, events, names)
	q.Enqueue(r1)
	q.Enqueue(r2)
	q.Enqueue(r3)

	for _, want := range []string{
		"started R1", "ended R1",
		"started R2", "ended R2",
		"started R3", "ended R3",
	} {
		expectEvent(t, events, want)
	}
	if q.Depth() != 0 {
		t.Fatalf("expected drained queue, depth=%d", q.Depth())
	}
}

func TestQueueSkipsDegenerateClip(t *testing.T) {
	t.Parallel()

	sink := &scriptedSink{}
	events := make(chan string, 16)
	names := map[*Clip]string{}

	tiny := NewClip(make([]byte, 100), nil)
	full := NewClip(make([]byte, 4000), nil)
	names[tiny], names[full] = "tiny", "full"

	q := newTestQueue(t, sink, events, names)
	q.Enqueue(tiny)
	q.Enqueue(full)

	expectEvent(t, events, "ended tiny")
	expectEvent(t, events, "started full")
	expectEvent(t, events, "ended full")

	if sink.callCount() != 1 {
		t.Fatalf("degenerate clip must never reach the sink, got %d calls", sink.callCount())
	}
	if tiny.Data != nil {
		t.Fatalf("skipped clip was not released")
	}
}

func TestQueueFailureIsolation(t *testing.T) {
	t.Parallel()

	sink := &scriptedSink{playErrAt: map[int]error{2: errors.New("decode blew up")}}
	events := make(chan string, 16)
	names := map[*Clip]string{}

	r1 := NewClip(make([]byte, 2000), nil)
	r2 := NewClip(make([]byte, 2000), nil)
	r3 := NewClip(make([]byte, 2000), nil)
	names[r1], names[r2], names[r3] = "R1", "R2", "R3"

	q := newTestQueue(t, sink, events, names)
	q.Enqueue(r1)
	q.Enqueue(r2)
	q.Enqueue(r3)

	for _, want := range []string{
		"started R1", "ended R1",
		"started R2", "ended R2",
		"started R3", "ended R3",
	} {
		expectEvent(t, events, want)
	}
}

func TestQueueStartFailureAdvancesWithoutStartedEvent(t *testing.T) {
	t.Parallel()

	sink := &scriptedSink{startErrAt: map[int]error{1: errors.New("player missing")}}
	events := make(chan string, 16)
	names := map[*Clip]string{}

	r1 := NewClip(make([]byte, 2000), nil)
	r2 := NewClip(make([]byte, 2000), nil)
	names[r1], names[r2] = "R1", "R2"

	q := newTestQueue(t, sink, events, names)
	q.Enqueue(r1)
	q.Enqueue(r2)

	expectEvent(t, events, "ended R1")
	expectEvent(t, events, "started R2")
	expectEvent(t, events, "ended R2")
}

func TestClipReleaseRunsHookExactlyOnce(t *testing.T) {
	t.Parallel()

	released := 0
	clip := NewClip(make([]byte, 2000), func() { released++ })

	clip.Release()
	clip.Release()

	if released != 1 {
		t.Fatalf("release hook ran %d times", released)
	}
	if clip.Data != nil {
		t.Fatalf("release must drop the payload")
	}
}
