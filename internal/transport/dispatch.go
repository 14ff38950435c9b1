package transport

import (
	"encoding/json"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/U1000000000000/Lila/internal/audio"
	"github.com/U1000000000000/Lila/internal/domain"
	"github.com/U1000000000000/Lila/internal/ports"
)

// serverMessage is the text-frame control envelope. All fields are optional
// and independent; a single frame may carry both a response and a
// transcript.
type serverMessage struct {
	Type       string `json:"type"`
	Response   string `json:"response"`
	Transcript string `json:"transcript"`
	Error      string `json:"error"`
}

// dispatch classifies one inbound frame and fires the matching caller
// events. Runs on the read loop, so events fire in frame arrival order.
// Malformed or empty frames are dropped without surfacing anything.
func (s *Session) dispatch(msgType int, payload []byte) {
	switch msgType {
	case websocket.BinaryMessage:
		if len(payload) == 0 {
			s.discard("empty binary frame")
			return
		}
		if s.metrics != nil {
			s.metrics.FramesBinary.Inc()
		}
		container := audio.FromPCM(payload, s.cfg.OutputSampleRate)
		if cb := s.snapshotCallbacks().AssistantAudio; cb != nil {
			cb(container)
		}

	case websocket.TextMessage:
		if s.metrics != nil {
			s.metrics.FramesText.Inc()
		}
		var msg serverMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			s.discard("unparseable text frame")
			return
		}
		if msg.Type == "ping" {
			return // keep-alive
		}
		if msg.Error != "" {
			// Backend-side failures arrive as error frames; they are
			// internal detail, never a caller event.
			s.log.Warn("backend reported error", zap.String("detail", msg.Error))
			return
		}

		cb := s.snapshotCallbacks()
		if msg.Response != "" && cb.AssistantText != nil {
			cb.AssistantText(msg.Response)
		}
		if msg.Transcript != "" && cb.UserTranscript != nil {
			cb.UserTranscript(msg.Transcript)
		}
	}
}

func (s *Session) snapshotCallbacks() ports.TransportCallbacks {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callbacks
}

func (s *Session) discard(why string) {
	s.log.Warn("discarding inbound frame", zap.String("why", why))
	if s.metrics != nil {
		s.metrics.FramesDiscarded.Inc()
	}
}

// statusMessage renders display text for a state transition. The structured
// Status fields are authoritative; this string exists only for humans.
func statusMessage(state domain.ConnState, reason domain.StatusReason) string {
	switch reason {
	case domain.ReasonMicDenied:
		return "Microphone access denied"
	case domain.ReasonRecordingError:
		return "Recording error"
	case domain.ReasonTransportError:
		return "Connection error"
	}

	switch state {
	case domain.ConnStateConnecting:
		return "Connecting…"
	case domain.ConnStateConnected:
		return "Connected"
	case domain.ConnStateActive:
		return "Connected — speak naturally!"
	case domain.ConnStateBackoff:
		return "Reconnecting…"
	case domain.ConnStateTerminated:
		if reason == domain.ReasonRetriesExhausted {
			return "Connection lost. Start a new session."
		}
		return "Disconnected"
	default:
		return ""
	}
}
