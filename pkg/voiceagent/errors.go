package voiceagent

import (
	"fmt"
	"time"
)

// Error codes as constants
const (
	ErrCodeInvalidArgument       = "INVALID_ARGUMENT"
	ErrCodeConnectionTimeout     = "CONNECTION_TIMEOUT"
	ErrCodeConnectionError       = "CONNECTION_ERROR"
	ErrCodeChannelClosed         = "CHANNEL_CLOSED"
	ErrCodeMalformedFrame        = "MALFORMED_FRAME"
	ErrCodeSendWhileDisconnected = "SEND_WHILE_DISCONNECTED"
	ErrCodeSendFailed            = "SEND_FAILED"
	ErrCodeServerReported        = "SERVER_REPORTED"
	ErrCodeUnknownMessageType    = "UNKNOWN_MESSAGE_TYPE"
	ErrCodePlaybackFailed        = "PLAYBACK_FAILED"
	ErrCodeCaptureFailed         = "CAPTURE_FAILED"
	ErrCodeConfigInvalid         = "CONFIG_INVALID"
	ErrCodeTokenFailed           = "TOKEN_FAILED"
)

// Sentinels for errors.Is. Matching is by code.
var (
	ErrInvalidArgument       = &AgentError{Code: ErrCodeInvalidArgument}
	ErrConnectionTimeout     = &AgentError{Code: ErrCodeConnectionTimeout}
	ErrConnectionError       = &AgentError{Code: ErrCodeConnectionError}
	ErrChannelClosed         = &AgentError{Code: ErrCodeChannelClosed}
	ErrMalformedFrame        = &AgentError{Code: ErrCodeMalformedFrame}
	ErrSendWhileDisconnected = &AgentError{Code: ErrCodeSendWhileDisconnected}
	ErrSendFailed            = &AgentError{Code: ErrCodeSendFailed}
	ErrServerReported        = &AgentError{Code: ErrCodeServerReported}
	ErrUnknownMessageType    = &AgentError{Code: ErrCodeUnknownMessageType}
	ErrPlaybackFailed        = &AgentError{Code: ErrCodePlaybackFailed}
	ErrCaptureFailed         = &AgentError{Code: ErrCodeCaptureFailed}
	ErrConfigInvalid         = &AgentError{Code: ErrCodeConfigInvalid}
	ErrTokenFailed           = &AgentError{Code: ErrCodeTokenFailed}
)

// AgentError is the error type reported through error handlers and
// returned from client calls.
type AgentError struct {
	Message   string
	Code      string
	Timestamp time.Time
	Details   map[string]interface{}
	err       error
}

func NewAgentError(message, code string) *AgentError {
	return &AgentError{
		Message:   message,
		Code:      code,
		Timestamp: time.Now(),
	}
}

func (e *AgentError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.err)
	}
	return e.Message
}

func (e *AgentError) Unwrap() error {
	return e.err
}

// Is reports whether target is an *AgentError with the same code.
func (e *AgentError) Is(target error) bool {
	t, ok := target.(*AgentError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Specific error creators with common codes
func NewInvalidArgumentError(message string) *AgentError {
	return NewAgentError(message, ErrCodeInvalidArgument)
}

func NewConnectionTimeoutError(timeout time.Duration) *AgentError {
	return NewAgentError("WebSocket connection timed out", ErrCodeConnectionTimeout).AddDetail("timeout_ms", timeout.Milliseconds())
}

func NewConnectionError(cause error) *AgentError {
	return WrapError(cause, "WebSocket connection error", ErrCodeConnectionError)
}

func NewChannelClosedError(code int, reason string) *AgentError {
	return NewAgentError("WebSocket closed: "+reason, ErrCodeChannelClosed).AddDetail("close_code", code)
}

func NewMalformedFrameError(message string, cause error) *AgentError {
	return WrapError(cause, "Failed to process message: "+message, ErrCodeMalformedFrame)
}

func NewSendWhileDisconnectedError() *AgentError {
	return NewAgentError("Failed to send message because WebSocket is not connected", ErrCodeSendWhileDisconnected)
}

func NewSendFailedError(cause error) *AgentError {
	return WrapError(cause, "Failed to send message", ErrCodeSendFailed)
}

func NewServerReportedError(message string) *AgentError {
	return NewAgentError("Server error: "+message, ErrCodeServerReported)
}

func NewUnknownMessageTypeError(msgType string) *AgentError {
	return NewAgentError("Unknown message type: "+msgType, ErrCodeUnknownMessageType).AddDetail("type", msgType)
}

func NewPlaybackError(cause error) *AgentError {
	return WrapError(cause, "Error playing assistant audio", ErrCodePlaybackFailed)
}

func NewCaptureError(cause error) *AgentError {
	return WrapError(cause, "Error capturing audio", ErrCodeCaptureFailed)
}

func NewConfigError(message string) *AgentError {
	return NewAgentError(message, ErrCodeConfigInvalid)
}

func NewTokenError(message string, cause error) *AgentError {
	return WrapError(cause, message, ErrCodeTokenFailed)
}

// WrapError wraps cause under code. A nil cause yields a plain error.
func WrapError(cause error, message, code string) *AgentError {
	e := NewAgentError(message, code)
	if cause != nil {
		e.err = cause
		e.AddDetail("original_error", cause.Error())
	}
	return e
}

// Helper to check if error has specific code
func IsErrorCode(err *AgentError, code string) bool {
	if err == nil {
		return false
	}
	return err.Code == code
}

// Helper to add details to existing AgentError
func (e *AgentError) AddDetail(key string, value interface{}) *AgentError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Helper to get error details
func (e *AgentError) GetDetail(key string) (interface{}, bool) {
	if e.Details == nil {
		return nil, false
	}
	value, exists := e.Details[key]
	return value, exists
}

// IsFatalToSession reports whether the error ends the session. Decode and
// server-reported errors never do.
func IsFatalToSession(err *AgentError) bool {
	if err == nil {
		return false
	}
	switch err.Code {
	case ErrCodeConnectionError, ErrCodeChannelClosed:
		return true
	}
	return false
}
