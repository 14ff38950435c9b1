package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/U1000000000000/Lila/internal/audio"
	"github.com/U1000000000000/Lila/internal/domain"
	"github.com/U1000000000000/Lila/internal/metrics"
	"github.com/U1000000000000/Lila/internal/playback"
	"github.com/U1000000000000/Lila/internal/ports"
)

var (
	ErrNoActiveSession = errors.New("no active voice session")
	ErrSessionActive   = errors.New("a voice session is already active")
)

// Orchestrator drives one voice conversation at a time. It owns the
// conversation log, the coarse phase shown to the user, and the playback
// queue for assistant speech; the transport and the queue report into it
// and it renders through a SessionEvents sink.
//
// The phase is derived from connection state and playback activity, never
// from status display text.
type Orchestrator struct {
	provider ports.SessionProvider
	events   ports.SessionEvents
	queue    *playback.Queue
	log      *zap.Logger
	metrics  *metrics.Metrics

	now func() time.Time

	mu            sync.Mutex
	session       ports.RealtimeSession
	speech        *domain.SpeechClock
	messages      []domain.ConversationMessage
	phase         domain.SessionPhase
	thinking      bool
	lastAssistant string
	connState     domain.ConnState
}

// NewOrchestrator builds the conversation layer. The playback queue is
// created here so its lifecycle events feed straight back into phase and
// caption handling.
func NewOrchestrator(
	ctx context.Context,
	provider ports.SessionProvider,
	sink ports.AudioSink,
	events ports.SessionEvents,
	minClipBytes int,
	log *zap.Logger,
	m *metrics.Metrics,
) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	o := &Orchestrator{
		provider:  provider,
		events:    events,
		log:       log,
		metrics:   m,
		now:       time.Now,
		phase:     domain.PhaseIdle,
		connState: domain.ConnStateIdle,
	}
	o.queue = playback.NewQueue(ctx, sink, playback.Callbacks{
		Started: o.clipStarted,
		Ended:   o.clipEnded,
	}, minClipBytes, log, m)
	return o
}

// Start opens a new voice session. The conversation log and transient
// state from any previous session are reset first. Returns
// ErrSessionActive if a session is already running.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.session != nil {
		o.mu.Unlock()
		return ErrSessionActive
	}
	o.messages = nil
	o.thinking = false
	o.lastAssistant = ""
	o.speech = &domain.SpeechClock{}
	o.connState = domain.ConnStateConnecting
	speech := o.speech
	o.mu.Unlock()

	o.setPhase(domain.PhaseListening)

	session, err := o.provider.StartSession(ctx, ports.TransportCallbacks{
		StatusChanged:  o.onStatus,
		AssistantText:  o.onAssistantText,
		UserTranscript: o.onUserTranscript,
		AssistantAudio: o.onAssistantAudio,
	}, speech)
	if err != nil {
		o.setPhase(domain.PhaseIdle)
		return err
	}

	o.mu.Lock()
	o.session = session
	o.mu.Unlock()
	return nil
}

// Stop ends the active session. Clips already queued are allowed to play
// out; only the live connection and microphone are torn down. Returns
// ErrNoActiveSession when nothing is running.
func (o *Orchestrator) Stop() error {
	o.mu.Lock()
	session := o.session
	o.session = nil
	o.mu.Unlock()

	if session == nil {
		return ErrNoActiveSession
	}

	session.Stop()
	o.setThinking(false)
	o.events.CaptionHidden()
	o.setPhase(domain.PhaseIdle)
	return nil
}

// Active reports whether a session is currently running.
func (o *Orchestrator) Active() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.session != nil
}

// Phase returns the current conversational phase.
func (o *Orchestrator) Phase() domain.SessionPhase {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.phase
}

// Messages returns a copy of the conversation log in arrival order.
func (o *Orchestrator) Messages() []domain.ConversationMessage {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]domain.ConversationMessage, len(o.messages))
	copy(out, o.messages)
	return out
}

func (o *Orchestrator) onStatus(status domain.Status) {
	o.mu.Lock()
	o.connState = status.State
	playing := o.queue.Playing()
	o.mu.Unlock()

	o.events.StatusChanged(status)

	switch {
	case status.State == domain.ConnStateTerminated:
		o.setThinking(false)
		if !playing {
			o.setPhase(domain.PhaseIdle)
		}
	case status.State == domain.ConnStateActive && !playing:
		o.setPhase(domain.PhaseListening)
	}
}

func (o *Orchestrator) onUserTranscript(text string) {
	o.appendMessage(domain.RoleUser, text)
	o.setThinking(true)
	o.setPhase(domain.PhaseComputing)
}

func (o *Orchestrator) onAssistantText(text string) {
	o.mu.Lock()
	o.lastAssistant = text
	o.mu.Unlock()

	o.appendMessage(domain.RoleAssistant, text)
	o.setThinking(false)
}

func (o *Orchestrator) onAssistantAudio(container []byte) {
	o.mu.Lock()
	speech := o.speech
	o.mu.Unlock()

	if speech != nil {
		if last := speech.Last(); last != 0 {
			latency := time.Duration(o.now().UnixMilli()-last) * time.Millisecond
			o.log.Info("assistant response latency",
				zap.Duration("latency", latency),
				zap.Float64("clip_seconds", audio.Duration(container)))
			if o.metrics != nil {
				o.metrics.ResponseLatency.Observe(latency.Seconds())
			}
		}
	}

	o.setThinking(false)
	o.queue.Enqueue(playback.NewClip(container, nil))
}

func (o *Orchestrator) clipStarted(clip *playback.Clip) {
	o.mu.Lock()
	caption := o.lastAssistant
	o.mu.Unlock()

	o.setPhase(domain.PhaseSpeaking)
	if caption != "" {
		o.events.CaptionShown(caption)
	}
}

func (o *Orchestrator) clipEnded(clip *playback.Clip) {
	o.mu.Lock()
	depth := o.queue.Depth()
	active := o.session != nil
	terminated := o.connState.Terminal()
	o.mu.Unlock()

	if depth > 0 {
		return
	}

	o.events.CaptionHidden()
	if !active || terminated {
		o.setPhase(domain.PhaseIdle)
		return
	}
	o.setPhase(domain.PhaseListening)
}

func (o *Orchestrator) appendMessage(role domain.Role, text string) {
	o.mu.Lock()
	msg := domain.ConversationMessage{
		Ordinal: len(o.messages) + 1,
		Role:    role,
		Text:    text,
	}
	o.messages = append(o.messages, msg)
	o.mu.Unlock()

	o.events.MessageAppended(msg)
}

func (o *Orchestrator) setPhase(phase domain.SessionPhase) {
	o.mu.Lock()
	if o.phase == phase {
		o.mu.Unlock()
		return
	}
	o.phase = phase
	o.mu.Unlock()

	o.events.PhaseChanged(phase)
}

func (o *Orchestrator) setThinking(thinking bool) {
	o.mu.Lock()
	if o.thinking == thinking {
		o.mu.Unlock()
		return
	}
	o.thinking = thinking
	o.mu.Unlock()

	o.events.ThinkingChanged(thinking)
}
