package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"

	ebitaudio "github.com/hajimehoshi/ebiten/v2/audio"
)

var ErrEngineStartFailed = errors.New("audio: engine start failed")

type SampleSource interface {
	Process(dst []float32)
}

// FinishingSource is a SampleSource that can signal when playback has ended.
type FinishingSource interface {
	SampleSource
	Finished() bool
}

// StreamReader pulls float32 stereo frames from a source and encodes them
// little-endian for the device player.
type StreamReader struct {
	mu     sync.Mutex
	source SampleSource
	buf    []float32
}

func NewStreamReader(source SampleSource) *StreamReader {
	return &StreamReader{source: source}
}

func (r *StreamReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	frames := len(p) / 8
	if frames == 0 {
		return 0, nil
	}
	need := frames * 2
	if cap(r.buf) < need {
		r.buf = make([]float32, need)
	}
	r.buf = r.buf[:need]
	r.source.Process(r.buf)
	for i := 0; i < need; i++ {
		binary.LittleEndian.PutUint32(p[i*4:], math.Float32bits(r.buf[i]))
	}
	return frames * 8, nil
}

func (r *StreamReader) Close() error { return nil }

// Output is the device end of the output graph.
type Output interface {
	Open(src SampleSource) error
	Close() error
}

var (
	audioContextOnce sync.Once
	audioContext     *ebitaudio.Context
	audioContextErr  error
	audioSampleRate  int
)

// sharedAudioContext configures the platform audio session exactly once per process.
func sharedAudioContext(sampleRate int) (ctx *ebitaudio.Context, err error) {
	audioContextOnce.Do(func() {
		defer func() {
			if r := recover(); r != nil {
				audioContextErr = fmt.Errorf("%w: %v", ErrEngineStartFailed, r)
			}
		}()
		audioSampleRate = sampleRate
		audioContext = ebitaudio.NewContext(sampleRate)
	})
	if audioContextErr != nil {
		return nil, audioContextErr
	}
	if audioSampleRate != sampleRate {
		return nil, fmt.Errorf("%w: audio context already initialized at %d Hz (requested %d Hz)", ErrEngineStartFailed, audioSampleRate, sampleRate)
	}
	return audioContext, nil
}

// DeviceOutput plays a source through the ebiten audio context.
type DeviceOutput struct {
	sampleRate int
	mu         sync.Mutex
	player     *ebitaudio.Player
	reader     io.ReadCloser
}

func NewDeviceOutput(sampleRate int) *DeviceOutput {
	return &DeviceOutput{sampleRate: sampleRate}
}

func (d *DeviceOutput) Open(src SampleSource) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.player != nil {
		return nil
	}
	ctx, err := sharedAudioContext(d.sampleRate)
	if err != nil {
		return err
	}
	reader := NewStreamReader(src)
	pl, err := ctx.NewPlayerF32(reader)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrEngineStartFailed, err)
	}
	pl.Play()
	d.player = pl
	d.reader = reader
	return nil
}

func (d *DeviceOutput) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.player == nil {
		return nil
	}
	d.player.Pause()
	err := d.player.Close()
	d.player = nil
	if cerr := d.reader.Close(); err == nil {
		err = cerr
	}
	return err
}

// NullOutput discards everything; used when no audio device is wanted.
type NullOutput struct{}

func (NullOutput) Open(SampleSource) error { return nil }
func (NullOutput) Close() error            { return nil }
