package transport

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap/zaptest"

	"github.com/U1000000000000/Lila/internal/domain"
	"github.com/U1000000000000/Lila/internal/metrics"
	"github.com/U1000000000000/Lila/internal/ports"
)

type zeroCapture struct{}

func (zeroCapture) Start(_ context.Context, _ ports.AudioConfig) (ports.AudioSession, error) {
	return newZeroMic(), nil
}

// zeroMic yields silence at a trickle until stopped.
type zeroMic struct {
	stopOnce sync.Once
	stopped  chan struct{}
}

func newZeroMic() *zeroMic {
	return &zeroMic{stopped: make(chan struct{})}
}

func (m *zeroMic) Read(p []byte) (int, error) {
	select {
	case <-m.stopped:
		return 0, io.EOF
	case <-time.After(5 * time.Millisecond):
	}
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}

func (m *zeroMic) Close() error { return m.Stop() }

func (m *zeroMic) Stop() error {
	m.stopOnce.Do(func() { close(m.stopped) })
	return nil
}

type wsHarness struct {
	server   *httptest.Server
	sessions chan *websocket.Conn
	tokens   chan string
}

func newWSHarness(t *testing.T) *wsHarness {
	t.Helper()

	h := &wsHarness{
		sessions: make(chan *websocket.Conn, 4),
		tokens:   make(chan string, 4),
	}
	upgrader := websocket.Upgrader{}
	h.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.tokens <- r.URL.Query().Get("token")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		h.sessions <- conn
	}))
	t.Cleanup(h.server.Close)
	return h
}

func (h *wsHarness) nextConn(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-h.sessions:
		return conn
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for a client connection")
		return nil
	}
}

func testProvider(t *testing.T, serverURL string) *Provider {
	t.Helper()
	cfg := Config{
		ServerURL:        serverURL,
		Token:            func() string { return "test-token" },
		Audio:            ports.AudioConfig{SampleRate: 16000, Channels: 1},
		OutputSampleRate: 24000,
		ChunkInterval:    20 * time.Millisecond,
		SettleDelay:      10 * time.Millisecond,
		MaxRetries:       5,
		BackoffBase:      5 * time.Millisecond,
		BackoffCap:       25 * time.Millisecond,
	}
	return NewProvider(cfg, zeroCapture{}, zaptest.NewLogger(t), metrics.New(prometheus.NewRegistry()))
}

func waitForState(t *testing.T, statuses chan domain.Status, state domain.ConnState) domain.Status {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case st := <-statuses:
			if st.State == state {
				return st
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %v", state)
		}
	}
}

func TestSessionEndToEnd(t *testing.T) {
	t.Parallel()

	h := newWSHarness(t)
	provider := testProvider(t, h.server.URL)

	statuses := make(chan domain.Status, 32)
	audioEvents := make(chan []byte, 8)
	speech := &domain.SpeechClock{}

	session, err := provider.StartSession(context.Background(), ports.TransportCallbacks{
		StatusChanged:  func(st domain.Status) { statuses <- st },
		AssistantAudio: func(container []byte) { audioEvents <- container },
	}, speech)
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer session.Stop()

	conn := h.nextConn(t)
	defer conn.Close()

	if token := <-h.tokens; token != "test-token" {
		t.Fatalf("bearer token not carried in URI: %q", token)
	}

	waitForState(t, statuses, domain.ConnStateConnected)
	waitForState(t, statuses, domain.ConnStateActive)

	// The client must be streaming mic chunks; consume one.
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	msgType, chunk, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("expected a mic chunk: %v", err)
	}
	if msgType != websocket.BinaryMessage || len(chunk) == 0 {
		t.Fatalf("unexpected outbound frame: type=%d len=%d", msgType, len(chunk))
	}
	if speech.Last() == 0 {
		t.Fatalf("speech clock was not stamped on send")
	}

	// One utterance turn: 16000 zero-valued samples of synthesized speech.
	pcm := make([]byte, 32000)
	if err := conn.WriteMessage(websocket.BinaryMessage, pcm); err != nil {
		t.Fatalf("failed to send audio frame: %v", err)
	}

	select {
	case container := <-audioEvents:
		if len(container) < 1000 {
			t.Fatalf("playable container too small: %d bytes", len(container))
		}
		if len(container) != 44+len(pcm) {
			t.Fatalf("unexpected container size: %d", len(container))
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for playable audio event")
	}
}

func TestSessionCleanCloseTerminates(t *testing.T) {
	t.Parallel()

	h := newWSHarness(t)
	provider := testProvider(t, h.server.URL)

	statuses := make(chan domain.Status, 32)
	session, err := provider.StartSession(context.Background(), ports.TransportCallbacks{
		StatusChanged: func(st domain.Status) { statuses <- st },
	}, nil)
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer session.Stop()

	conn := h.nextConn(t)
	waitForState(t, statuses, domain.ConnStateConnected)

	deadline := time.Now().Add(time.Second)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), deadline)
	_ = conn.Close()

	st := waitForState(t, statuses, domain.ConnStateTerminated)
	if st.Reason != domain.ReasonCleanClose {
		t.Fatalf("expected clean close reason, got %+v", st)
	}
}

func TestSessionReconnectsAfterAbnormalClose(t *testing.T) {
	t.Parallel()

	h := newWSHarness(t)
	provider := testProvider(t, h.server.URL)

	statuses := make(chan domain.Status, 64)
	session, err := provider.StartSession(context.Background(), ports.TransportCallbacks{
		StatusChanged: func(st domain.Status) { statuses <- st },
	}, nil)
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer session.Stop()

	first := h.nextConn(t)
	waitForState(t, statuses, domain.ConnStateConnected)

	// Kill the socket without a close handshake.
	_ = first.UnderlyingConn().Close()

	st := waitForState(t, statuses, domain.ConnStateBackoff)
	if st.RetryAttempt != 1 {
		t.Fatalf("expected first retry attempt, got %+v", st)
	}

	second := h.nextConn(t)
	defer second.Close()
	waitForState(t, statuses, domain.ConnStateConnected)
}
