package voiceagent

import (
	"strings"
)

// CaptureDevice yields captured audio. Start must deliver chunks to onChunk
// sequentially and in capture order until Stop returns.
type CaptureDevice interface {
	Start(onChunk AudioChunkHandler) error
	Stop() error
}

// SendAudioChunk sends one raw binary message. When the channel is not open
// the chunk is dropped and ErrSendWhileDisconnected is reported.
func (c *Client) SendAudioChunk(chunk []byte) error {
	if err := c.send(BinaryMessage, chunk, "audio"); err != nil {
		return err
	}
	if c.config.DebugAudio {
		c.logger.LogAudioEvent("chunk_sent", map[string]interface{}{"bytes": len(chunk)})
	}
	return nil
}

// SendTextMessage sends a manual_text message carrying content.
func (c *Client) SendTextMessage(content string) error {
	if strings.TrimSpace(content) == "" {
		return NewInvalidArgumentError("content must not be empty")
	}
	return c.sendControl(NewManualTextMessage(content))
}

// CreateResponse asks the agent to produce a response now.
func (c *Client) CreateResponse() error {
	return c.sendControl(NewCreateResponseMessage())
}

// CancelResponse tells the agent that speechID was cut off after
// interruptedAtMs milliseconds.
func (c *Client) CancelResponse(speechID string, interruptedAtMs int64) error {
	return c.sendControl(NewInterruptMessage(speechID, interruptedAtMs))
}

func (c *Client) InvokeLLM(model, prompt string, messages []ChatMessage) error {
	return c.sendControl(NewInvokeLLMMessage(model, prompt, messages))
}

// Interrupt performs a barge-in on the live utterance: it marks it
// interrupted, stops playback and sends the matching interrupt message.
// It returns nil, nil when nothing is being spoken.
func (c *Client) Interrupt() (*InterruptResult, error) {
	c.mu.Lock()
	tracker, player := c.tracker, c.player
	c.mu.Unlock()

	if tracker == nil {
		return nil, nil
	}
	result, ok := tracker.Interrupt()
	if !ok {
		return nil, nil
	}

	if player != nil {
		player.Stop()
	}
	c.logger.WithFields(map[string]interface{}{
		"speech_id":      result.SpeechID,
		"interrupted_at": result.InterruptedAtMs,
	}).Info("interrupting assistant speech")

	return &result, c.CancelResponse(result.SpeechID, result.InterruptedAtMs)
}

// StartStreaming forwards every chunk captured by device to the agent.
func (c *Client) StartStreaming(device CaptureDevice) error {
	if device == nil {
		return NewInvalidArgumentError("capture device is required")
	}

	c.mu.Lock()
	if c.capture != nil {
		c.mu.Unlock()
		return NewInvalidArgumentError("audio capture already running")
	}
	c.capture = device
	c.mu.Unlock()

	err := device.Start(func(chunk AudioChunk) {
		// Failures are reported through the error handlers.
		_ = c.SendAudioChunk(chunk.Data)
	})
	if err != nil {
		c.mu.Lock()
		c.capture = nil
		c.mu.Unlock()
		return NewCaptureError(err)
	}

	c.logger.Info("audio streaming started")
	return nil
}

// StopStreaming stops the running capture device, if any.
func (c *Client) StopStreaming() error {
	c.mu.Lock()
	device := c.capture
	c.capture = nil
	c.mu.Unlock()

	if device == nil {
		return nil
	}
	if err := device.Stop(); err != nil {
		return NewCaptureError(err)
	}
	c.logger.Info("audio streaming stopped")
	return nil
}

// IsStreaming reports whether a capture device is attached.
func (c *Client) IsStreaming() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.capture != nil
}

func (c *Client) sendControl(msg ControlMessage) error {
	data, err := EncodeControl(msg)
	if err != nil {
		aerr := NewSendFailedError(err).AddDetail("message_type", msg.MessageType())
		c.reportError(aerr)
		return aerr
	}
	return c.send(TextMessage, data, msg.MessageType())
}

// send writes one message when the channel is open. Every failure is
// reported exactly once and returned.
func (c *Client) send(kind MessageKind, data []byte, label string) error {
	c.mu.Lock()
	ch := c.channel
	c.mu.Unlock()

	if ch == nil || !ch.IsOpen() {
		err := NewSendWhileDisconnectedError().AddDetail("message_type", label)
		c.reportError(err)
		return err
	}

	if err := ch.Send(kind, data); err != nil {
		aerr := NewSendFailedError(err).AddDetail("message_type", label)
		c.reportError(aerr)
		return aerr
	}

	c.metrics.messageSent(label, len(data))
	if c.config.DebugWebsocket && kind == TextMessage {
		c.logger.LogMessageEvent("outbound", label, map[string]interface{}{"bytes": len(data)})
	}
	return nil
}
