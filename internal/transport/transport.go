package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/U1000000000000/Lila/internal/domain"
	"github.com/U1000000000000/Lila/internal/metrics"
	"github.com/U1000000000000/Lila/internal/ports"
)

// Config controls one realtime session's transport behavior.
type Config struct {
	// ServerURL is the backend endpoint. http(s) schemes are rewritten to
	// ws(s); an empty path defaults to /ws.
	ServerURL string
	// Token returns the current bearer token, empty when unauthenticated.
	// It is carried as a query parameter because the websocket handshake
	// cannot carry custom headers from a browser peer, and the backend
	// accepts only that form.
	Token func() string

	Audio            ports.AudioConfig
	OutputSampleRate int

	ChunkInterval time.Duration
	SettleDelay   time.Duration
	MaxRetries    int
	BackoffBase   time.Duration
	BackoffCap    time.Duration
}

func (c Config) withDefaults() Config {
	if c.OutputSampleRate <= 0 {
		c.OutputSampleRate = 24000
	}
	if c.ChunkInterval <= 0 {
		c.ChunkInterval = 100 * time.Millisecond
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = 100 * time.Millisecond
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = time.Second
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = 5 * time.Second
	}
	return c
}

// Provider opens voice sessions against the Lila backend. It implements
// ports.SessionProvider.
type Provider struct {
	cfg     Config
	capture ports.AudioCapture
	log     *zap.Logger
	metrics *metrics.Metrics
}

func NewProvider(cfg Config, capture ports.AudioCapture, log *zap.Logger, m *metrics.Metrics) *Provider {
	if log == nil {
		log = zap.NewNop()
	}
	return &Provider{cfg: cfg.withDefaults(), capture: capture, log: log, metrics: m}
}

func (p *Provider) StartSession(ctx context.Context, callbacks ports.TransportCallbacks, speech *domain.SpeechClock) (ports.RealtimeSession, error) {
	if strings.TrimSpace(p.cfg.ServerURL) == "" {
		return nil, errors.New("server URL is not configured")
	}
	if speech == nil {
		speech = &domain.SpeechClock{}
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	s := &Session{
		cfg:       p.cfg,
		capture:   p.capture,
		log:       p.log,
		metrics:   p.metrics,
		speech:    speech,
		callbacks: callbacks,
		ctx:       sessionCtx,
		cancel:    cancel,
		timer:     time.AfterFunc,
		state:     domain.ConnStateIdle,
	}
	s.start()
	return s, nil
}

// Session owns one logical realtime session: the socket handle, the retry
// counter, the microphone, and the lifecycle state. At most one live socket
// exists per session; every new attempt supersedes the previous handle.
type Session struct {
	cfg     Config
	capture ports.AudioCapture
	log     *zap.Logger
	metrics *metrics.Metrics
	speech  *domain.SpeechClock

	ctx    context.Context
	cancel context.CancelFunc

	// timer is time.AfterFunc, replaced in tests to observe backoff delays.
	timer func(d time.Duration, f func()) *time.Timer

	mu             sync.Mutex
	callbacks      ports.TransportCallbacks
	state          domain.ConnState
	conn           *websocket.Conn
	mic            ports.AudioSession
	retryCount     int
	reconnectTimer *time.Timer
	stopped        bool
	// gen identifies the current connection attempt; events carrying a
	// stale gen (old read loops, settle timers, reconnect timers) are
	// ignored so a superseded handle can never mutate the session.
	gen int

	writeMu sync.Mutex
}

func (s *Session) start() {
	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.state = domain.ConnStateConnecting
	st := s.statusLocked(domain.ReasonStartRequested)
	s.mu.Unlock()

	s.emit(st)
	go s.connect(gen)
}

// Stop tears the session down: reconnection is disabled, any pending
// reconnect timer is cancelled, the live socket is closed, and the capture
// stream is released. Calling it again is a no-op.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.retryCount = s.cfg.MaxRetries + 1 // suppress any in-flight reconnect
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
	conn := s.conn
	s.conn = nil
	mic := s.detachMicLocked()
	s.state = domain.ConnStateTerminated
	st := s.statusLocked(domain.ReasonStopRequested)
	s.mu.Unlock()

	if conn != nil {
		s.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		s.writeMu.Unlock()
		_ = conn.Close()
	}
	if mic != nil {
		_ = mic.Stop()
	}
	s.cancel()
	s.emit(st)
}

// UpdateCallbacks swaps the event channels mid-session.
func (s *Session) UpdateCallbacks(callbacks ports.TransportCallbacks) {
	s.mu.Lock()
	s.callbacks = callbacks
	s.mu.Unlock()
}

// State returns a snapshot of the current lifecycle state.
func (s *Session) State() domain.ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) connect(gen int) {
	target, err := sessionURL(s.cfg.ServerURL, s.token())
	if err != nil {
		s.log.Warn("invalid server URL", zap.Error(err))
		s.mu.Lock()
		if s.staleLocked(gen) {
			s.mu.Unlock()
			return
		}
		s.terminateLocked(domain.ReasonTransportError)
		return
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(s.ctx, target, nil)
	if err != nil {
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		s.log.Warn("websocket dial failed", zap.Error(err))
		s.mu.Lock()
		if s.staleLocked(gen) {
			s.mu.Unlock()
			return
		}
		s.scheduleOrTerminateLocked(false)
		return
	}

	s.mu.Lock()
	if s.staleLocked(gen) {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	s.conn = conn
	s.retryCount = 0
	s.state = domain.ConnStateConnected
	st := s.statusLocked(domain.ReasonSocketOpen)
	s.timer(s.cfg.SettleDelay, func() { s.beginCapture(gen) })
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.Connects.Inc()
	}
	s.emit(st)
	go s.readLoop(gen, conn)
}

func (s *Session) readLoop(gen int, conn *websocket.Conn) {
	for {
		msgType, payload, err := conn.ReadMessage()
		if err != nil {
			s.socketLost(gen, err)
			return
		}
		s.dispatch(msgType, payload)
	}
}

func (s *Session) socketLost(gen int, err error) {
	s.mu.Lock()
	if s.staleLocked(gen) {
		s.mu.Unlock()
		return
	}
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	mic := s.detachMicLocked()
	clean := websocket.IsCloseError(err, websocket.CloseNormalClosure)
	if !clean {
		s.log.Warn("websocket closed abnormally", zap.Error(err))
	}
	s.scheduleOrTerminateLocked(clean)

	if mic != nil {
		_ = mic.Stop()
	}
}

// scheduleOrTerminateLocked decides what an ended connection attempt means:
// a clean close or exhausted retries terminate the session; anything else
// schedules a reconnect with bounded exponential backoff. Called with mu
// held; releases it.
func (s *Session) scheduleOrTerminateLocked(clean bool) {
	if clean {
		s.terminateLocked(domain.ReasonCleanClose)
		return
	}
	if s.retryCount >= s.cfg.MaxRetries {
		s.terminateLocked(domain.ReasonRetriesExhausted)
		return
	}

	s.retryCount++
	attempt := s.retryCount
	delay := backoffDelay(s.cfg.BackoffBase, s.cfg.BackoffCap, attempt)

	s.gen++
	gen := s.gen
	s.state = domain.ConnStateBackoff
	st := s.statusLocked(domain.ReasonReconnecting)
	st.RetryAttempt = attempt
	st.RetryMax = s.cfg.MaxRetries
	st.RetryDelayMS = int(delay / time.Millisecond)
	st.Message = fmt.Sprintf("Reconnecting in %ds… (%d/%d)", int(delay/time.Second), attempt, s.cfg.MaxRetries)
	s.reconnectTimer = s.timer(delay, func() { s.reconnect(gen) })
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.Reconnects.Inc()
	}
	s.emit(st)
}

func (s *Session) reconnect(gen int) {
	s.mu.Lock()
	if s.staleLocked(gen) || s.retryCount > s.cfg.MaxRetries {
		s.mu.Unlock()
		return
	}
	s.reconnectTimer = nil
	s.state = domain.ConnStateConnecting
	st := s.statusLocked(domain.ReasonStartRequested)
	s.mu.Unlock()

	s.emit(st)
	s.connect(gen)
}

// terminateLocked moves to the terminal state. Called with mu held;
// releases it.
func (s *Session) terminateLocked(reason domain.StatusReason) {
	s.state = domain.ConnStateTerminated
	st := s.statusLocked(reason)
	s.mu.Unlock()
	s.emit(st)
}

func (s *Session) staleLocked(gen int) bool {
	return s.stopped || gen != s.gen
}

func (s *Session) token() string {
	if s.cfg.Token == nil {
		return ""
	}
	return s.cfg.Token()
}

func (s *Session) detachMicLocked() ports.AudioSession {
	mic := s.mic
	s.mic = nil
	return mic
}

func (s *Session) emit(st domain.Status) {
	s.mu.Lock()
	cb := s.callbacks.StatusChanged
	s.mu.Unlock()
	if cb != nil {
		cb(st)
	}
}

func (s *Session) statusLocked(reason domain.StatusReason) domain.Status {
	return domain.Status{
		State:   s.state,
		Reason:  reason,
		Message: statusMessage(s.state, reason),
	}
}

// beginCapture runs after the settle delay: if the connection that scheduled
// it is still the live one, microphone capture starts and the session goes
// active.
func (s *Session) beginCapture(gen int) {
	s.mu.Lock()
	if s.staleLocked(gen) || s.conn == nil {
		s.mu.Unlock()
		return
	}
	ctx := s.ctx
	s.mu.Unlock()

	mic, err := s.capture.Start(ctx, s.cfg.Audio)
	if err != nil {
		s.log.Warn("microphone capture failed to start", zap.Error(err))
		s.mu.Lock()
		if s.staleLocked(gen) {
			s.mu.Unlock()
			return
		}
		st := s.statusLocked(domain.ReasonMicDenied)
		s.mu.Unlock()
		s.emit(st)
		return
	}

	s.mu.Lock()
	if s.staleLocked(gen) || s.conn == nil {
		s.mu.Unlock()
		_ = mic.Stop()
		return
	}
	s.mic = mic
	s.state = domain.ConnStateActive
	st := s.statusLocked(domain.ReasonCaptureStarted)
	conn := s.conn
	s.mu.Unlock()

	s.emit(st)
	go s.pump(gen, mic, conn)
}

// pump forwards fixed-interval microphone chunks to the socket, stamping the
// shared speech clock on every send. It exits when capture or the socket
// dies; capture teardown itself is owned by socketLost/Stop.
func (s *Session) pump(gen int, mic ports.AudioSession, conn *websocket.Conn) {
	chunkBytes := s.cfg.Audio.SampleRate * s.cfg.Audio.Channels * 2 *
		int(s.cfg.ChunkInterval/time.Millisecond) / 1000
	if chunkBytes <= 0 {
		chunkBytes = 3200
	}

	buf := make([]byte, chunkBytes)
	for {
		n, err := io.ReadFull(mic, buf)
		if n > 0 {
			s.writeMu.Lock()
			werr := conn.WriteMessage(websocket.BinaryMessage, buf[:n])
			s.writeMu.Unlock()
			if werr != nil {
				return
			}
			s.speech.Stamp(time.Now().UnixMilli())
			if s.metrics != nil {
				s.metrics.ChunksSent.Inc()
				s.metrics.BytesSent.Add(float64(n))
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				s.log.Warn("microphone read error", zap.Error(err))
				s.mu.Lock()
				if !s.staleLocked(gen) {
					st := s.statusLocked(domain.ReasonRecordingError)
					s.mu.Unlock()
					s.emit(st)
					return
				}
				s.mu.Unlock()
			}
			return
		}
	}
}

// backoffDelay grows exponentially from base and is clamped at cap, so the
// effective sequence for a one second base and five second cap is
// 2s, 4s, 5s, 5s, 5s.
func backoffDelay(base, cap time.Duration, attempt int) time.Duration {
	d := base << uint(attempt)
	if d > cap {
		return cap
	}
	return d
}

// sessionURL builds the websocket endpoint, rewriting http schemes and
// appending the bearer token as a query parameter when one is present.
func sessionURL(serverURL, token string) (string, error) {
	base := strings.TrimSpace(serverURL)
	if strings.HasPrefix(base, "https://") {
		base = "wss://" + strings.TrimPrefix(base, "https://")
	} else if strings.HasPrefix(base, "http://") {
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}

	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/ws"
	}
	if token != "" {
		q := u.Query()
		q.Set("token", token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}
