package voiceagent

import (
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
	"github.com/jonboulle/clockwork"
)

// CaptureConfig describes microphone capture. Chunks are mono s16le.
type CaptureConfig struct {
	SampleRate       int
	Channels         int
	FramesPerChunk   int
	DeviceID         *int
	EchoCancellation bool
	NoiseSuppression bool
	QueueSize        int
}

// NewCaptureConfig returns 16 kHz mono capture in 100 ms chunks with
// echo cancellation and noise suppression off.
func NewCaptureConfig() *CaptureConfig {
	return &CaptureConfig{
		SampleRate:     16000,
		Channels:       1,
		FramesPerChunk: 1600,
		QueueSize:      32,
	}
}

// PortAudioCapture is a CaptureDevice reading the microphone through
// PortAudio. The audio callback never blocks; chunks are handed to a
// forwarding goroutine that calls onChunk in capture order.
type PortAudioCapture struct {
	config *CaptureConfig
	clock  clockwork.Clock
	logger *AgentLogger

	mu      sync.Mutex
	stream  *portaudio.Stream
	chunks  chan AudioChunk
	done    chan struct{}
	running bool
}

func NewPortAudioCapture(config *CaptureConfig) *PortAudioCapture {
	if config == nil {
		config = NewCaptureConfig()
	}
	return &PortAudioCapture{
		config: config,
		clock:  clockwork.NewRealClock(),
		logger: GetGlobalLogger().WithComponent("capture"),
	}
}

func (pc *PortAudioCapture) Start(onChunk AudioChunkHandler) error {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	if pc.running {
		return fmt.Errorf("already recording")
	}

	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("initialize portaudio: %w", err)
	}

	chunks := make(chan AudioChunk, pc.config.QueueSize)
	callback := func(in []float32) {
		chunk := AudioChunk{Data: Float32ToPCM16(in), CapturedAt: pc.clock.Now()}
		select {
		case chunks <- chunk:
		default:
			pc.logger.Warn("capture queue full, dropping chunk")
		}
	}

	stream, err := pc.openStream(callback)
	if err != nil {
		portaudio.Terminate()
		return fmt.Errorf("open input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return fmt.Errorf("start input stream: %w", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for chunk := range chunks {
			onChunk(chunk)
		}
	}()

	pc.stream = stream
	pc.chunks = chunks
	pc.done = done
	pc.running = true

	pc.logger.WithFields(map[string]interface{}{
		"sample_rate":       pc.config.SampleRate,
		"frames_per_chunk":  pc.config.FramesPerChunk,
		"echo_cancellation": pc.config.EchoCancellation,
		"noise_suppression": pc.config.NoiseSuppression,
	}).Info("recording started")
	return nil
}

func (pc *PortAudioCapture) openStream(callback func([]float32)) (*portaudio.Stream, error) {
	if pc.config.DeviceID == nil {
		return portaudio.OpenDefaultStream(pc.config.Channels, 0, float64(pc.config.SampleRate), pc.config.FramesPerChunk, callback)
	}

	dev, err := lookupDevice(*pc.config.DeviceID)
	if err != nil {
		return nil, err
	}
	params := portaudio.LowLatencyParameters(dev, nil)
	params.Input.Channels = pc.config.Channels
	params.SampleRate = float64(pc.config.SampleRate)
	params.FramesPerBuffer = pc.config.FramesPerChunk
	return portaudio.OpenStream(params, callback)
}

func (pc *PortAudioCapture) Stop() error {
	pc.mu.Lock()
	if !pc.running {
		pc.mu.Unlock()
		return nil
	}
	stream, chunks, done := pc.stream, pc.chunks, pc.done
	pc.stream, pc.chunks, pc.done = nil, nil, nil
	pc.running = false
	pc.mu.Unlock()

	var firstErr error
	if err := stream.Stop(); err != nil {
		firstErr = fmt.Errorf("stop input stream: %w", err)
	}
	if err := stream.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close input stream: %w", err)
	}
	close(chunks)
	<-done
	portaudio.Terminate()

	pc.logger.Info("recording stopped")
	return firstErr
}

func (pc *PortAudioCapture) IsRecording() bool {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.running
}

// PortAudioSink is an AudioSink playing s16le mono chunks through a
// PortAudio output stream. Appended samples are buffered and drained by the
// stream callback, which outputs silence when the buffer is empty.
type PortAudioSink struct {
	sampleRate int
	deviceID   *int
	logger     *AgentLogger

	mu          sync.Mutex
	stream      *portaudio.Stream
	buffer      []float32
	onUpdateEnd func()
	updating    bool
	started     bool
	open        bool
}

// NewPortAudioSinkFactory returns a SinkFactory for the given output rate
// and device (nil for the default device).
func NewPortAudioSinkFactory(sampleRate int, deviceID *int) SinkFactory {
	return func() (AudioSink, error) {
		return &PortAudioSink{
			sampleRate: sampleRate,
			deviceID:   deviceID,
			logger:     GetGlobalLogger().WithComponent("sink"),
		}, nil
	}
}

func (ps *PortAudioSink) Open() error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("initialize portaudio: %w", err)
	}

	stream, err := ps.openStream()
	if err != nil {
		portaudio.Terminate()
		return fmt.Errorf("open output stream: %w", err)
	}

	ps.mu.Lock()
	ps.stream = stream
	ps.open = true
	ps.mu.Unlock()
	return nil
}

func (ps *PortAudioSink) openStream() (*portaudio.Stream, error) {
	if ps.deviceID == nil {
		return portaudio.OpenDefaultStream(0, 1, float64(ps.sampleRate), 0, ps.fill)
	}

	dev, err := lookupDevice(*ps.deviceID)
	if err != nil {
		return nil, err
	}
	params := portaudio.LowLatencyParameters(nil, dev)
	params.Output.Channels = 1
	params.SampleRate = float64(ps.sampleRate)
	return portaudio.OpenStream(params, ps.fill)
}

// fill is the stream callback.
func (ps *PortAudioSink) fill(out []float32) {
	ps.mu.Lock()
	n := copy(out, ps.buffer)
	ps.buffer = ps.buffer[n:]
	ps.mu.Unlock()

	for i := n; i < len(out); i++ {
		out[i] = 0
	}
}

func (ps *PortAudioSink) AttachBuffer(onUpdateEnd func()) error {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if !ps.open {
		return fmt.Errorf("sink is not open")
	}
	ps.onUpdateEnd = onUpdateEnd
	return nil
}

func (ps *PortAudioSink) Append(chunk []byte) error {
	ps.mu.Lock()
	if !ps.open {
		ps.mu.Unlock()
		return fmt.Errorf("sink is not open")
	}
	if ps.updating {
		ps.mu.Unlock()
		return fmt.Errorf("append already in progress")
	}
	ps.updating = true
	notify := ps.onUpdateEnd
	ps.mu.Unlock()

	samples := PCM16ToFloat32(chunk)

	go func() {
		ps.mu.Lock()
		ps.buffer = append(ps.buffer, samples...)
		ps.updating = false
		ps.mu.Unlock()
		if notify != nil {
			notify()
		}
	}()
	return nil
}

func (ps *PortAudioSink) Updating() bool {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.updating
}

// Stream calls are made without ps.mu held: the stream callback takes it.

func (ps *PortAudioSink) Play() error {
	ps.mu.Lock()
	if !ps.open {
		ps.mu.Unlock()
		return fmt.Errorf("sink is not open")
	}
	if ps.started {
		ps.mu.Unlock()
		return nil
	}
	stream := ps.stream
	ps.mu.Unlock()

	if err := stream.Start(); err != nil {
		return fmt.Errorf("start output stream: %w", err)
	}

	ps.mu.Lock()
	ps.started = true
	ps.mu.Unlock()
	return nil
}

func (ps *PortAudioSink) Pause() {
	ps.mu.Lock()
	if !ps.started {
		ps.mu.Unlock()
		return
	}
	stream := ps.stream
	ps.started = false
	ps.mu.Unlock()

	if err := stream.Stop(); err != nil {
		ps.logger.WithError(err).Warn("failed to stop output stream")
	}
}

func (ps *PortAudioSink) IsOpen() bool {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.open
}

// EndOfStream releases the output stream. The sink cannot be reused.
func (ps *PortAudioSink) EndOfStream() error {
	ps.mu.Lock()
	if !ps.open {
		ps.mu.Unlock()
		return nil
	}
	stream := ps.stream
	ps.open = false
	ps.started = false
	ps.buffer = nil
	ps.mu.Unlock()

	err := stream.Close()
	portaudio.Terminate()
	if err != nil {
		return fmt.Errorf("close output stream: %w", err)
	}
	return nil
}
