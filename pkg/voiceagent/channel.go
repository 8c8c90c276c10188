package voiceagent

import (
	"context"
	"net/http"
)

// MessageKind distinguishes text from binary transport messages.
type MessageKind int

const (
	TextMessage MessageKind = iota + 1
	BinaryMessage
)

// ChannelEventKind enumerates the events a Channel delivers.
type ChannelEventKind int

const (
	EventOpen ChannelEventKind = iota + 1
	EventMessage
	EventError
	EventClose
)

func (k ChannelEventKind) String() string {
	switch k {
	case EventOpen:
		return "open"
	case EventMessage:
		return "message"
	case EventError:
		return "error"
	case EventClose:
		return "close"
	default:
		return "unknown"
	}
}

// ChannelEvent is one discrete event from a Channel. Data is set for
// EventMessage, Err for EventError, Code and Reason for EventClose.
type ChannelEvent struct {
	Kind   ChannelEventKind
	Data   []byte
	Err    error
	Code   int
	Reason string
}

// EmitFunc receives channel events in the order they happen.
type EmitFunc func(ChannelEvent)

// Channel is an open (or opening) duplex message channel.
type Channel interface {
	// Send writes one message. It fails if the channel is not open.
	Send(kind MessageKind, data []byte) error
	// Close starts the close handshake. It is safe to call more than once.
	Close(code int, reason string) error
	// IsOpen reports whether the channel is currently open.
	IsOpen() bool
}

// Transport opens channels. Open must return immediately; the open, message,
// error and close events are delivered later through emit, sequentially
// and in order. A channel emits at most one EventClose and nothing after it.
type Transport interface {
	Open(ctx context.Context, url string, header http.Header, emit EmitFunc) (Channel, error)
}
