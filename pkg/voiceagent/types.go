package voiceagent

import "time"

// Result types for error handling
type Result[T any] struct {
	Data    T
	Error   *AgentError
	Success bool
}

func Ok[T any](data T) Result[T] {
	return Result[T]{Data: data, Success: true}
}

func Err[T any](err *AgentError) Result[T] {
	return Result[T]{Error: err, Success: false}
}

// ConnectionState enum
type ConnectionState string

const (
	Disconnected ConnectionState = "disconnected"
	Connecting   ConnectionState = "connecting"
	Connected    ConnectionState = "connected"
	Activating   ConnectionState = "activating"
	Ready        ConnectionState = "ready"
)

// Inbound metadata type discriminators
const (
	MessageTypeMessage     = "message"
	MessageTypeAudio       = "audio"
	MessageTypeLLMResponse = "llm_response"
	MessageTypeInitDone    = "init_done"
	MessageTypeError       = "error"
)

// Session is one connection attempt. It is replaced on every Connect.
type Session struct {
	ID          string
	AgentID     string
	State       ConnectionState
	CloseReason string
	StartedAt   time.Time

	generation uint64
}

// SpeechUtterance is the single in-flight utterance tracked by SpeechTracker.
type SpeechUtterance struct {
	SpeechID  string
	StartedAt time.Time
}

// InterruptResult is what an interrupt of the current utterance produced.
// It is the payload CancelResponse expects.
type InterruptResult struct {
	SpeechID        string
	InterruptedAtMs int64
}

// AudioChunk is an opaque audio buffer. Inbound chunks carry the speech id
// of the utterance they belong to; outbound chunks carry the capture time.
type AudioChunk struct {
	Data       []byte
	SpeechID   string
	CapturedAt time.Time
}

// Metadata is the decoded JSON header of an inbound frame.
type Metadata map[string]any

// Type returns the type discriminator, or "" when absent.
func (m Metadata) Type() string {
	return m.String("type")
}

// String returns the string value stored under key, or "".
func (m Metadata) String(key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// SpeechID returns the speech id an audio frame belongs to.
func (m Metadata) SpeechID() string {
	return m.String("speech_id")
}

// Handler types
type MessageHandler func(metadata Metadata, payload []byte)
type StatusHandler func(ConnectionState)
type ErrorHandler func(*AgentError)
type AudioChunkHandler func(AudioChunk)
