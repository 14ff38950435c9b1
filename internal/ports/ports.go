package ports

import (
	"context"
	"io"

	"github.com/U1000000000000/Lila/internal/domain"
)

// AudioConfig describes how the microphone should be captured.
type AudioConfig struct {
	SampleRate  int
	Channels    int
	InputFormat string
	InputDevice string
}

// AudioSession is a live microphone capture session. Read returns raw
// little-endian 16-bit mono PCM.
type AudioSession interface {
	io.ReadCloser
	Stop() error
}

// AudioCapture creates microphone capture sessions.
type AudioCapture interface {
	Start(ctx context.Context, cfg AudioConfig) (AudioSession, error)
}

// AudioSink plays one self-contained audio clip at a time. Start returns
// once playback has begun; the returned channel yields the playback result
// when the clip finishes. A non-nil error from Start means playback never
// began and nothing will arrive on the channel.
type AudioSink interface {
	Start(ctx context.Context, container []byte) (<-chan error, error)
}

// TransportCallbacks are the four event channels the transport's caller
// supplies. The transport invokes them from its read loop in frame arrival
// order and never concurrently with each other.
type TransportCallbacks struct {
	// StatusChanged reports every connection lifecycle transition.
	StatusChanged func(status domain.Status)
	// AssistantText delivers a completed assistant reply.
	AssistantText func(text string)
	// UserTranscript delivers the speech-to-text of the user's own speech.
	UserTranscript func(text string)
	// AssistantAudio delivers one playable audio container per utterance turn.
	AssistantAudio func(container []byte)
}

// RealtimeSession is one live voice session. Stop is idempotent: it disables
// reconnection, cancels any pending reconnect timer, closes the socket, and
// releases the microphone, in that order, no matter which state the session
// is in.
type RealtimeSession interface {
	Stop()
	UpdateCallbacks(callbacks TransportCallbacks)
}

// SessionProvider opens realtime voice sessions against the backend.
type SessionProvider interface {
	StartSession(ctx context.Context, callbacks TransportCallbacks, speech *domain.SpeechClock) (RealtimeSession, error)
}

// SessionEvents is the surface the orchestrator renders through. A frontend
// (terminal, GUI bridge) implements it; tests implement it with fakes.
type SessionEvents interface {
	StatusChanged(status domain.Status)
	PhaseChanged(phase domain.SessionPhase)
	MessageAppended(msg domain.ConversationMessage)
	ThinkingChanged(thinking bool)
	CaptionShown(text string)
	CaptionHidden()
}
