package voiceagent

import (
	"bytes"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranscript_Records(t *testing.T) {
	clock := clockwork.NewFakeClock()
	tr := NewTranscript(0, clock)

	tr.RecordUserText("what time is it")
	clock.Advance(time.Second)
	tr.HandleMessage(Metadata{"type": "message", "content": "It is noon.", "speech_id": "s1"}, nil)
	tr.HandleMessage(Metadata{"type": "llm_response", "role": "tool", "text": "lookup"}, nil)
	tr.HandleMessage(Metadata{"type": "llm_response"}, []byte("from payload"))
	tr.HandleMessage(Metadata{"type": "audio", "content": "ignored"}, []byte{1})
	tr.HandleMessage(Metadata{"type": "message"}, nil)

	entries := tr.Entries()
	require.Len(t, entries, 4)
	assert.Equal(t, TranscriptEntry{Role: "user", Content: "what time is it", Source: "manual_text", Timestamp: entries[0].Timestamp}, entries[0])
	assert.Equal(t, "assistant", entries[1].Role)
	assert.Equal(t, "s1", entries[1].SpeechID)
	assert.Equal(t, clock.Now(), entries[1].Timestamp)
	assert.Equal(t, "tool", entries[2].Role)
	assert.Equal(t, "lookup", entries[2].Content)
	assert.Equal(t, "from payload", entries[3].Content)

	assert.Equal(t, []ChatMessage{
		{Role: "user", Content: "what time is it"},
		{Role: "assistant", Content: "It is noon."},
		{Role: "tool", Content: "lookup"},
		{Role: "assistant", Content: "from payload"},
	}, tr.ChatMessages())

	tr.Clear()
	assert.Equal(t, 0, tr.Len())
}

func TestTranscript_Bounded(t *testing.T) {
	tr := NewTranscript(2, nil)
	tr.RecordUserText("one")
	tr.RecordUserText("two")
	tr.RecordUserText("three")

	entries := tr.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "two", entries[0].Content)
	assert.Equal(t, "three", entries[1].Content)
}

func TestTranscript_Export(t *testing.T) {
	tr := NewTranscript(10, clockwork.NewFakeClockAt(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)))
	tr.RecordUserText("hi")

	var buf bytes.Buffer
	require.NoError(t, tr.Export(&buf))

	var out []map[string]any
	require.NoError(t, sonic.Unmarshal(buf.Bytes(), &out))
	require.Len(t, out, 1)
	assert.Equal(t, "user", out[0]["role"])
	assert.Equal(t, "hi", out[0]["content"])
	assert.Equal(t, "2026-01-02T03:04:05Z", out[0]["timestamp"])
	assert.NotContains(t, out[0], "speech_id")
}

func TestTranscript_Attach(t *testing.T) {
	h := newHarness(t)
	tr := NewTranscript(0, nil)
	detach := tr.Attach(h.client)
	ch := h.ready(t)

	ch.Deliver(t, Metadata{"type": "message", "content": "hello there"}, nil)
	require.Eventually(t, func() bool { return tr.Len() == 1 }, waitTimeout, 5*time.Millisecond)

	detach()
	ch.Deliver(t, Metadata{"type": "message", "content": "unheard"}, nil)
	require.Eventually(t, func() bool { return len(h.rec.messageList()) == 2 }, waitTimeout, 5*time.Millisecond)
	assert.Equal(t, 1, tr.Len())
}
