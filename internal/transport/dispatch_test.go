package transport

import (
	"encoding/binary"
	"testing"

	"github.com/gorilla/websocket"
	"go.uber.org/zap/zaptest"

	"github.com/U1000000000000/Lila/internal/ports"
)

type capturedEvents struct {
	assistant   []string
	transcripts []string
	audio       [][]byte
}

func newDispatchSession(t *testing.T) (*Session, *capturedEvents) {
	t.Helper()

	events := &capturedEvents{}
	s := &Session{
		cfg: Config{}.withDefaults(),
		log: zaptest.NewLogger(t),
		callbacks: ports.TransportCallbacks{
			AssistantText:  func(text string) { events.assistant = append(events.assistant, text) },
			UserTranscript: func(text string) { events.transcripts = append(events.transcripts, text) },
			AssistantAudio: func(container []byte) { events.audio = append(events.audio, container) },
		},
	}
	return s, events
}

func TestDispatchKeepAliveProducesNoEvents(t *testing.T) {
	t.Parallel()

	s, events := newDispatchSession(t)
	s.dispatch(websocket.TextMessage, []byte(`{"type":"ping"}`))

	if len(events.assistant)+len(events.transcripts)+len(events.audio) != 0 {
		t.Fatalf("ping must not produce events")
	}
}

func TestDispatchAssistantResponse(t *testing.T) {
	t.Parallel()

	s, events := newDispatchSession(t)
	s.dispatch(websocket.TextMessage, []byte(`{"response":"hi"}`))

	if len(events.assistant) != 1 || events.assistant[0] != "hi" {
		t.Fatalf("expected one assistant event, got %v", events.assistant)
	}
	if len(events.transcripts) != 0 {
		t.Fatalf("unexpected transcript events: %v", events.transcripts)
	}
}

func TestDispatchUserTranscript(t *testing.T) {
	t.Parallel()

	s, events := newDispatchSession(t)
	s.dispatch(websocket.TextMessage, []byte(`{"transcript":"hello"}`))

	if len(events.transcripts) != 1 || events.transcripts[0] != "hello" {
		t.Fatalf("expected one transcript event, got %v", events.transcripts)
	}
	if len(events.assistant) != 0 {
		t.Fatalf("unexpected assistant events: %v", events.assistant)
	}
}

func TestDispatchBothFieldsFireIndependently(t *testing.T) {
	t.Parallel()

	s, events := newDispatchSession(t)
	s.dispatch(websocket.TextMessage, []byte(`{"response":"sure","transcript":"how are you"}`))

	if len(events.assistant) != 1 || len(events.transcripts) != 1 {
		t.Fatalf("both events must fire: assistant=%v transcripts=%v", events.assistant, events.transcripts)
	}
}

func TestDispatchMalformedTextIsSilentlyDropped(t *testing.T) {
	t.Parallel()

	s, events := newDispatchSession(t)
	s.dispatch(websocket.TextMessage, []byte(`not json at all`))

	if len(events.assistant)+len(events.transcripts)+len(events.audio) != 0 {
		t.Fatalf("malformed frame must not produce events")
	}
}

func TestDispatchBackendErrorFrameProducesNoEvents(t *testing.T) {
	t.Parallel()

	s, events := newDispatchSession(t)
	s.dispatch(websocket.TextMessage, []byte(`{"error":"STT error: upstream hiccup"}`))

	if len(events.assistant)+len(events.transcripts)+len(events.audio) != 0 {
		t.Fatalf("error frame must not produce events")
	}
}

func TestDispatchEmptyBinaryIsIgnored(t *testing.T) {
	t.Parallel()

	s, events := newDispatchSession(t)
	s.dispatch(websocket.BinaryMessage, nil)

	if len(events.audio) != 0 {
		t.Fatalf("empty binary frame must not produce events")
	}
}

func TestDispatchBinaryBecomesPlayableContainer(t *testing.T) {
	t.Parallel()

	s, events := newDispatchSession(t)
	pcm := make([]byte, 32000) // 16000 zero-valued samples
	s.dispatch(websocket.BinaryMessage, pcm)

	if len(events.audio) != 1 {
		t.Fatalf("expected one audio event, got %d", len(events.audio))
	}
	container := events.audio[0]
	if len(container) != 44+len(pcm) {
		t.Fatalf("unexpected container size: %d", len(container))
	}
	if got := binary.LittleEndian.Uint32(container[24:28]); got != 24000 {
		t.Fatalf("unexpected sample rate in header: %d", got)
	}
}
