package voiceagent

import (
	"io"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/jonboulle/clockwork"
)

const DefaultTranscriptSize = 200

// TranscriptEntry is one text turn of a conversation.
type TranscriptEntry struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Source    string    `json:"source"`
	SpeechID  string    `json:"speech_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Transcript keeps the most recent text turns of a session in memory.
type Transcript struct {
	maxEntries int
	clock      clockwork.Clock

	mu      sync.Mutex
	entries []TranscriptEntry
}

func NewTranscript(maxEntries int, clock clockwork.Clock) *Transcript {
	if maxEntries <= 0 {
		maxEntries = DefaultTranscriptSize
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Transcript{maxEntries: maxEntries, clock: clock}
}

// Attach subscribes the transcript to client messages and returns the
// unsubscribe func.
func (t *Transcript) Attach(client *Client) func() {
	return client.AddMessageHandler(t.HandleMessage)
}

// HandleMessage records message and llm_response frames. Other frames are
// ignored.
func (t *Transcript) HandleMessage(md Metadata, payload []byte) {
	msgType := md.Type()
	if msgType != MessageTypeMessage && msgType != MessageTypeLLMResponse {
		return
	}

	content := md.String("content")
	if content == "" {
		content = md.String("text")
	}
	if content == "" {
		content = string(payload)
	}
	role := md.String("role")
	if role == "" {
		role = "assistant"
	}

	t.add(TranscriptEntry{
		Role:     role,
		Content:  content,
		Source:   msgType,
		SpeechID: md.SpeechID(),
	})
}

// RecordUserText records text the user sent with SendTextMessage.
func (t *Transcript) RecordUserText(content string) {
	t.add(TranscriptEntry{Role: "user", Content: content, Source: ControlManualText})
}

func (t *Transcript) add(e TranscriptEntry) {
	if e.Content == "" {
		return
	}
	e.Timestamp = t.clock.Now()

	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append(t.entries, e)
	if len(t.entries) > t.maxEntries {
		t.entries = t.entries[len(t.entries)-t.maxEntries:]
	}
}

func (t *Transcript) Entries() []TranscriptEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]TranscriptEntry, len(t.entries))
	copy(out, t.entries)
	return out
}

func (t *Transcript) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// ChatMessages returns the history in the shape InvokeLLM expects.
func (t *Transcript) ChatMessages() []ChatMessage {
	entries := t.Entries()
	out := make([]ChatMessage, len(entries))
	for i, e := range entries {
		out[i] = ChatMessage{Role: e.Role, Content: e.Content}
	}
	return out
}

func (t *Transcript) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = nil
}

// Export writes the transcript as indented JSON.
func (t *Transcript) Export(w io.Writer) error {
	data, err := sonic.ConfigStd.MarshalIndent(t.Entries(), "", "  ")
	if err != nil {
		return WrapError(err, "failed to encode transcript", ErrCodeInvalidArgument)
	}
	_, err = w.Write(data)
	return err
}
