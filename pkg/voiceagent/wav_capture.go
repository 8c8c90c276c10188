package voiceagent

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/jonboulle/clockwork"
)

// WavFileCapture is a CaptureDevice streaming a WAV file as user audio.
// Chunks are mono s16le at the file's sample rate, ChunkDuration long, and
// paced in real time unless Realtime is false.
type WavFileCapture struct {
	Path          string
	ChunkDuration time.Duration
	Realtime      bool

	clock  clockwork.Clock
	logger *AgentLogger

	mu     sync.Mutex
	file   *os.File
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

func NewWavFileCapture(path string, clock clockwork.Clock) *WavFileCapture {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &WavFileCapture{
		Path:          path,
		ChunkDuration: 100 * time.Millisecond,
		Realtime:      true,
		clock:         clock,
		logger:        GetGlobalLogger().WithComponent("wav_capture"),
	}
}

func (wc *WavFileCapture) Start(onChunk AudioChunkHandler) error {
	wc.mu.Lock()
	defer wc.mu.Unlock()

	if wc.done != nil {
		return fmt.Errorf("already streaming %s", wc.Path)
	}

	f, err := os.Open(wc.Path)
	if err != nil {
		return err
	}

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		f.Close()
		return fmt.Errorf("%s is not a valid WAV file", wc.Path)
	}
	if err := dec.FwdToPCM(); err != nil {
		f.Close()
		return fmt.Errorf("read WAV header: %w", err)
	}

	format := dec.Format()
	if format.SampleRate != 16000 {
		wc.logger.WithField("sample_rate", format.SampleRate).Warn("WAV sample rate differs from 16 kHz capture rate")
	}

	ctx, cancel := context.WithCancel(context.Background())
	wc.file = f
	wc.cancel = cancel
	wc.done = make(chan struct{})
	wc.err = nil

	go wc.run(ctx, wc.done, dec, format, int(dec.BitDepth), onChunk)

	wc.logger.WithFields(map[string]interface{}{
		"path":        wc.Path,
		"sample_rate": format.SampleRate,
		"channels":    format.NumChannels,
		"bit_depth":   dec.BitDepth,
	}).Info("streaming audio file")
	return nil
}

func (wc *WavFileCapture) run(ctx context.Context, done chan struct{}, dec *wav.Decoder, format *audio.Format, bitDepth int, onChunk AudioChunkHandler) {
	defer close(done)

	channels := format.NumChannels
	if channels < 1 {
		channels = 1
	}
	frames := int(time.Duration(format.SampleRate) * wc.ChunkDuration / time.Second)
	if frames < 1 {
		frames = 1
	}
	buf := &audio.IntBuffer{Data: make([]int, frames*channels), Format: format}

	var ticker clockwork.Ticker
	if wc.Realtime {
		ticker = wc.clock.NewTicker(wc.ChunkDuration)
		defer ticker.Stop()
	}

	for first := true; ; first = false {
		if ticker != nil && !first {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
			}
		} else if ctx.Err() != nil {
			return
		}

		n, err := dec.PCMBuffer(buf)
		if err != nil && err != io.EOF {
			wc.setErr(err)
			return
		}
		if n > 0 {
			mono := downmix(buf.Data[:n], channels)
			onChunk(AudioChunk{Data: IntsToPCM16(mono, bitDepth), CapturedAt: wc.clock.Now()})
		}
		if n == 0 || err == io.EOF {
			wc.logger.WithField("path", wc.Path).Debug("audio file finished")
			return
		}
	}
}

// downmix averages interleaved channels into one.
func downmix(samples []int, channels int) []int {
	if channels == 1 {
		return samples
	}
	out := make([]int, len(samples)/channels)
	for i := range out {
		sum := 0
		for c := 0; c < channels; c++ {
			sum += samples[i*channels+c]
		}
		out[i] = sum / channels
	}
	return out
}

func (wc *WavFileCapture) setErr(err error) {
	wc.mu.Lock()
	wc.err = err
	wc.mu.Unlock()
}

// Done is closed once the file has been streamed or Stop was called. It is
// nil before Start.
func (wc *WavFileCapture) Done() <-chan struct{} {
	wc.mu.Lock()
	defer wc.mu.Unlock()
	return wc.done
}

// Err returns the read error that ended streaming early, if any.
func (wc *WavFileCapture) Err() error {
	wc.mu.Lock()
	defer wc.mu.Unlock()
	return wc.err
}

func (wc *WavFileCapture) Stop() error {
	wc.mu.Lock()
	cancel, done, f := wc.cancel, wc.done, wc.file
	wc.cancel, wc.done, wc.file = nil, nil, nil
	wc.mu.Unlock()

	if done == nil {
		return nil
	}
	cancel()
	<-done
	return f.Close()
}
