package voiceagent

import (
	"sync"
)

// AudioSink is the speaker side: a buffered decoder that plays appended
// chunks gaplessly and in order.
//
// Initialization is two-phase. Open prepares the output; AttachBuffer
// creates the append buffer and registers onUpdateEnd, which the sink calls
// after each Append has been absorbed. onUpdateEnd must be called from a
// goroutine other than the one calling Append.
type AudioSink interface {
	Open() error
	AttachBuffer(onUpdateEnd func()) error
	Append(chunk []byte) error
	// Updating reports whether an Append is still being absorbed.
	Updating() bool
	Play() error
	Pause()
	// IsOpen reports whether the sink still accepts EndOfStream.
	IsOpen() bool
	EndOfStream() error
}

// SinkFactory builds a fresh sink each time playback (re)starts.
type SinkFactory func() (AudioSink, error)

// PlaybackQueue feeds inbound assistant audio to an AudioSink with exactly
// one append in flight.
type PlaybackQueue struct {
	newSink SinkFactory
	logger  *AgentLogger
	metrics *Metrics
	onError ErrorHandler

	mu      sync.Mutex
	sink    AudioSink
	ready   bool
	playing bool
	pending [][]byte
}

func NewPlaybackQueue(newSink SinkFactory, onError ErrorHandler, metrics *Metrics) *PlaybackQueue {
	return &PlaybackQueue{
		newSink: newSink,
		onError: onError,
		metrics: metrics,
		logger:  GetGlobalLogger().WithComponent("playback"),
	}
}

// HandleAudioData queues chunk and appends it as soon as the sink is free.
func (pq *PlaybackQueue) HandleAudioData(chunk []byte) {
	var errs []*AgentError

	pq.mu.Lock()
	if pq.sink == nil {
		if err := pq.initialize(); err != nil {
			pq.sink = nil
			pq.ready = false
			pq.mu.Unlock()
			pq.metrics.chunksDropped("sink_unavailable", 1)
			pq.report([]*AgentError{err})
			return
		}
	}
	pq.pending = append(pq.pending, chunk)
	pq.metrics.setQueueDepth(len(pq.pending))
	if pq.ready && !pq.sink.Updating() {
		errs = append(errs, pq.appendNextChunk()...)
	}
	pq.mu.Unlock()

	pq.report(errs)
}

// initialize creates the sink and runs both init phases. The drain step
// cannot run until both phases have succeeded.
func (pq *PlaybackQueue) initialize() *AgentError {
	sink, err := pq.newSink()
	if err != nil {
		return NewPlaybackError(err)
	}
	pq.sink = sink
	pq.ready = false

	if err := sink.Open(); err != nil {
		return NewPlaybackError(err)
	}
	if err := sink.AttachBuffer(func() { pq.onUpdateEnd(sink) }); err != nil {
		// Open succeeded, so the output must be released.
		sink.Pause()
		if sink.IsOpen() {
			if eosErr := sink.EndOfStream(); eosErr != nil {
				pq.logger.WithError(eosErr).Warn("failed to release audio sink")
			}
		}
		return NewPlaybackError(err)
	}
	pq.ready = true
	pq.logger.Debug("audio sink initialized")
	return nil
}

// onUpdateEnd drains the next chunk. Notifications from a sink that has
// since been stopped are ignored.
func (pq *PlaybackQueue) onUpdateEnd(from AudioSink) {
	pq.mu.Lock()
	if pq.sink != from || !pq.ready {
		pq.mu.Unlock()
		return
	}
	errs := pq.appendNextChunk()
	pq.mu.Unlock()

	pq.report(errs)
}

// appendNextChunk must be called with pq.mu held.
func (pq *PlaybackQueue) appendNextChunk() []*AgentError {
	if len(pq.pending) == 0 || pq.sink.Updating() {
		return nil
	}

	chunk := pq.pending[0]
	pq.pending[0] = nil
	pq.pending = pq.pending[1:]
	pq.metrics.setQueueDepth(len(pq.pending))

	var errs []*AgentError
	if err := pq.sink.Append(chunk); err != nil {
		errs = append(errs, NewPlaybackError(err).AddDetail("chunk_bytes", len(chunk)))
	}
	if !pq.playing {
		if err := pq.play(); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// play must be called with pq.mu held.
func (pq *PlaybackQueue) play() *AgentError {
	if pq.playing {
		return nil
	}
	if err := pq.sink.Play(); err != nil {
		pq.playing = false
		return NewPlaybackError(err)
	}
	pq.playing = true
	return nil
}

// Play starts playback if a sink exists and it is not already playing.
func (pq *PlaybackQueue) Play() {
	pq.mu.Lock()
	var err *AgentError
	if pq.ready {
		err = pq.play()
	}
	pq.mu.Unlock()

	if err != nil {
		pq.report([]*AgentError{err})
	}
}

// Stop pauses and detaches the sink and discards every pending chunk.
func (pq *PlaybackQueue) Stop() {
	pq.mu.Lock()
	sink := pq.sink
	dropped := len(pq.pending)
	pq.sink = nil
	pq.ready = false
	pq.playing = false
	pq.pending = nil
	pq.metrics.setQueueDepth(0)
	pq.mu.Unlock()

	if dropped > 0 {
		pq.metrics.chunksDropped("playback_stopped", dropped)
	}
	if sink == nil {
		return
	}

	sink.Pause()
	if sink.IsOpen() {
		if err := sink.EndOfStream(); err != nil {
			pq.logger.WithError(err).Warn("failed to end audio stream")
		}
	}
	pq.logger.WithField("dropped_chunks", dropped).Debug("playback stopped")
}

func (pq *PlaybackQueue) Pending() int {
	pq.mu.Lock()
	defer pq.mu.Unlock()
	return len(pq.pending)
}

func (pq *PlaybackQueue) IsPlaying() bool {
	pq.mu.Lock()
	defer pq.mu.Unlock()
	return pq.playing
}

func (pq *PlaybackQueue) report(errs []*AgentError) {
	for _, err := range errs {
		pq.logger.LogError(err)
		if pq.onError != nil {
			pq.onError(err)
		}
	}
}
