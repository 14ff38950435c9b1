package domain

import "sync/atomic"

// ConnState models the transport connection lifecycle.
type ConnState string

const (
	ConnStateIdle       ConnState = "idle"
	ConnStateConnecting ConnState = "connecting"
	ConnStateConnected  ConnState = "connected"
	ConnStateActive     ConnState = "active"
	ConnStateBackoff    ConnState = "backoff"
	ConnStateTerminated ConnState = "terminated"
)

// Terminal reports whether the state admits no further transitions.
func (s ConnState) Terminal() bool {
	return s == ConnStateTerminated
}

// StatusReason qualifies a ConnState transition.
type StatusReason string

const (
	ReasonStartRequested   StatusReason = "start_requested"
	ReasonSocketOpen       StatusReason = "socket_open"
	ReasonCaptureStarted   StatusReason = "capture_started"
	ReasonReconnecting     StatusReason = "reconnecting"
	ReasonCleanClose       StatusReason = "clean_close"
	ReasonRetriesExhausted StatusReason = "retries_exhausted"
	ReasonStopRequested    StatusReason = "stop_requested"
	ReasonMicDenied        StatusReason = "mic_denied"
	ReasonRecordingError   StatusReason = "recording_error"
	ReasonTransportError   StatusReason = "transport_error"
)

// Status is the transport's externally visible condition. Message is display
// text derived from State/Reason, never the other way around.
type Status struct {
	State   ConnState    `json:"state"`
	Reason  StatusReason `json:"reason,omitempty"`
	Message string       `json:"message"`

	// Populated while State == ConnStateBackoff.
	RetryAttempt int `json:"retryAttempt,omitempty"`
	RetryMax     int `json:"retryMax,omitempty"`
	RetryDelayMS int `json:"retryDelayMs,omitempty"`
}

// SessionPhase is the coarse conversational mode shown to the user.
type SessionPhase string

const (
	PhaseIdle      SessionPhase = "idle"
	PhaseListening SessionPhase = "listening"
	PhaseComputing SessionPhase = "computing"
	PhaseSpeaking  SessionPhase = "speaking"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ConversationMessage is one entry in the append-only session log.
type ConversationMessage struct {
	Ordinal int    `json:"ordinal"`
	Role    Role   `json:"role"`
	Text    string `json:"text"`
}

// SpeechClock is the single shared cell holding the wall time (unix
// milliseconds) of the most recent outbound microphone chunk. The transport
// writes it on every send; the orchestrator reads it to compute response
// latency. Both sides must hold the same instance for the session lifetime.
type SpeechClock struct {
	unixMilli atomic.Int64
}

// Stamp records the send time of an outbound chunk.
func (c *SpeechClock) Stamp(unixMilli int64) {
	c.unixMilli.Store(unixMilli)
}

// Last returns the most recent stamp, zero if nothing was sent yet.
func (c *SpeechClock) Last() int64 {
	return c.unixMilli.Load()
}
