package voiceagent

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// SpeechTracker remembers the one live assistant utterance and which
// speech id, if any, the user barged in on.
type SpeechTracker struct {
	clock clockwork.Clock

	mu          sync.Mutex
	current     *SpeechUtterance
	interruptID *string
}

func NewSpeechTracker(clock clockwork.Clock) *SpeechTracker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &SpeechTracker{clock: clock}
}

// StartNewSpeech makes speechID the live utterance and clears any interrupt
// marker. It returns the recorded start time.
func (st *SpeechTracker) StartNewSpeech(speechID string) time.Time {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.current = &SpeechUtterance{SpeechID: speechID, StartedAt: st.clock.Now()}
	st.interruptID = nil
	return st.current.StartedAt
}

// Interrupt marks the live utterance interrupted. ok is false when no
// utterance has started, which is not an error.
func (st *SpeechTracker) Interrupt() (result InterruptResult, ok bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.current == nil {
		return InterruptResult{}, false
	}

	id := st.current.SpeechID
	st.interruptID = &id
	return InterruptResult{
		SpeechID:        id,
		InterruptedAtMs: st.clock.Since(st.current.StartedAt).Milliseconds(),
	}, true
}

// ShouldPlayAudio is false only for the most recently interrupted id.
func (st *SpeechTracker) ShouldPlayAudio(speechID string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.interruptID == nil || *st.interruptID != speechID
}

// Current returns the live utterance, if any.
func (st *SpeechTracker) Current() (SpeechUtterance, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.current == nil {
		return SpeechUtterance{}, false
	}
	return *st.current, true
}

// observe is called for every inbound audio chunk. It starts a new utterance
// when the id changes and reports whether the chunk may be played.
func (st *SpeechTracker) observe(speechID string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.interruptID != nil && *st.interruptID == speechID {
		return false
	}
	if speechID != "" && (st.current == nil || st.current.SpeechID != speechID) {
		st.current = &SpeechUtterance{SpeechID: speechID, StartedAt: st.clock.Now()}
		st.interruptID = nil
	}
	return true
}

func (st *SpeechTracker) Reset() {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.current = nil
	st.interruptID = nil
}
