package voiceagent

import (
	"math"
	"sync"
)

// handlerList is an ordered set of subscribers. add returns the matching
// unsubscribe func.
type handlerList[T any] struct {
	mu      sync.RWMutex
	nextID  uint64
	entries []handlerEntry[T]
}

type handlerEntry[T any] struct {
	id uint64
	fn T
}

func (l *handlerList[T]) add(fn T) func() {
	l.mu.Lock()
	l.nextID++
	id := l.nextID
	l.entries = append(l.entries, handlerEntry[T]{id: id, fn: fn})
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			for i, e := range l.entries {
				if e.id == id {
					l.entries = append(l.entries[:i], l.entries[i+1:]...)
					return
				}
			}
		})
	}
}

func (l *handlerList[T]) snapshot() []T {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]T, len(l.entries))
	for i, e := range l.entries {
		out[i] = e.fn
	}
	return out
}

func (l *handlerList[T]) len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Factory functions for common handlers

func CreateLoggingMessageHandler(logger *AgentLogger, verbose bool) MessageHandler {
	if logger == nil {
		logger = GetGlobalLogger()
	}
	return func(md Metadata, payload []byte) {
		l := logger.WithField("type", md.Type()).WithField("payload_bytes", len(payload))
		if verbose {
			l.WithField("metadata", map[string]any(md)).Info("message received")
			return
		}
		l.Debug("message received")
	}
}

// CreateTextHandler calls callback with the text of message and
// llm_response frames. Text is read from metadata "content", falling back
// to "text" and then to the payload.
func CreateTextHandler(callback func(msgType, text string)) MessageHandler {
	return func(md Metadata, payload []byte) {
		msgType := md.Type()
		if msgType != MessageTypeMessage && msgType != MessageTypeLLMResponse {
			return
		}
		text := md.String("content")
		if text == "" {
			text = md.String("text")
		}
		if text == "" {
			text = string(payload)
		}
		if text != "" {
			callback(msgType, text)
		}
	}
}

// CreateAudioFrameHandler calls callback for every inbound audio frame.
func CreateAudioFrameHandler(callback func(speechID string, pcm []byte)) MessageHandler {
	return func(md Metadata, payload []byte) {
		if md.Type() == MessageTypeAudio {
			callback(md.SpeechID(), payload)
		}
	}
}

func CreateErrorLoggingHandler(logger *AgentLogger, prefix string) ErrorHandler {
	if logger == nil {
		logger = GetGlobalLogger()
	}
	return func(err *AgentError) {
		if err != nil {
			logger.WithField("prefix", prefix).LogError(err)
		}
	}
}

func CreateConnectionStatusHandler(logger *AgentLogger, callback func(ConnectionState)) StatusHandler {
	if logger == nil {
		logger = GetGlobalLogger()
	}
	return func(state ConnectionState) {
		logger.WithField("state", string(state)).Info("connection state changed")
		if callback != nil {
			callback(state)
		}
	}
}

func CreateMessageTypeFilter(messageType string, handler MessageHandler) MessageHandler {
	return func(md Metadata, payload []byte) {
		if md.Type() == messageType {
			handler(md, payload)
		}
	}
}

func CreateConditionalHandler(condition func(Metadata) bool, handler MessageHandler) MessageHandler {
	return func(md Metadata, payload []byte) {
		if condition(md) {
			handler(md, payload)
		}
	}
}

// CreateAudioLevelMonitor reports the mean and peak absolute level of each
// captured s16le chunk, normalized to [0, 1].
func CreateAudioLevelMonitor(callback func(avg, peak float32)) AudioChunkHandler {
	return func(chunk AudioChunk) {
		samples := PCM16ToFloat32(chunk.Data)
		if len(samples) == 0 {
			return
		}

		var sum float64
		var peak float32
		for _, v := range samples {
			abs := float32(math.Abs(float64(v)))
			sum += float64(abs)
			if abs > peak {
				peak = abs
			}
		}
		callback(float32(sum/float64(len(samples))), peak)
	}
}

func SequentialMessageHandlers(handlers ...MessageHandler) MessageHandler {
	return func(md Metadata, payload []byte) {
		for _, h := range handlers {
			if h != nil {
				h(md, payload)
			}
		}
	}
}

func SequentialErrorHandlers(handlers ...ErrorHandler) ErrorHandler {
	return func(err *AgentError) {
		for _, h := range handlers {
			if h != nil {
				h(err)
			}
		}
	}
}
