package tone

import (
	"math"
	"sync"

	"github.com/cbegin/meditone-go/internal/envelope"
)

const twoPi = math.Pi * 2

// Params are the tunable constants of the binaural tone. Product variants
// disagree on amplitudes and the harmonic ratio, so none of them is hardcoded.
type Params struct {
	BaseCarrierHz     float64
	MaxBeatHz         float64
	HarmonicRatio     float64 // kept slightly off 2.0 to avoid phase-locking with the carrier
	BaseAmplitude     float64
	HarmonicAmplitude float64
	AttackSec         float64
	ReleaseSec        float64
	VolumeRampSec     float64
}

func DefaultParams() Params {
	return Params{
		BaseCarrierHz:     108,
		MaxBeatHz:         12,
		HarmonicRatio:     2.02,
		BaseAmplitude:     0.4,
		HarmonicAmplitude: 0.08,
		AttackSec:         0.5,
		ReleaseSec:        0.3,
		VolumeRampSec:     0.1,
	}
}

// Synth generates two carriers offset by the beat frequency, one per stereo
// side, plus a quiet detuned harmonic on both sides. Control methods may be
// called from any goroutine; Process runs on the audio thread.
type Synth struct {
	mu         sync.Mutex
	sampleRate float64
	params     Params

	running   bool
	releasing bool
	volume    float64

	leftHz, rightHz, harmonicHz          float64
	leftPhase, rightPhase, harmonicPhase float64
	leftAmp, rightAmp, harmonicAmp       envelope.Ramp
}

func New(sampleRate int, params Params) *Synth {
	if params.MaxBeatHz <= 0 {
		params.MaxBeatHz = DefaultParams().MaxBeatHz
	}
	if params.BaseCarrierHz <= 0 {
		params.BaseCarrierHz = DefaultParams().BaseCarrierHz
	}
	return &Synth{
		sampleRate: float64(sampleRate),
		params:     params,
		volume:     1,
	}
}

// Start begins the tone at the given beat frequency. It returns false and
// changes nothing if the tone is already running.
func (s *Synth) Start(beatHz float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running && !s.releasing {
		return false
	}
	beat := clamp(beatHz, 0, s.params.MaxBeatHz)
	s.leftHz = s.params.BaseCarrierHz
	s.rightHz = s.leftHz + beat
	s.harmonicHz = s.leftHz * s.params.HarmonicRatio
	if !s.running {
		s.leftPhase, s.rightPhase, s.harmonicPhase = 0, 0, 0
		s.leftAmp.Jump(0)
		s.rightAmp.Jump(0)
		s.harmonicAmp.Jump(0)
	}
	s.running = true
	s.releasing = false
	s.rampTo(s.volume, s.params.AttackSec)
	return true
}

// Stop fades the tone out and halts generation once the fade completes.
func (s *Synth) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running || s.releasing {
		return
	}
	s.releasing = true
	s.leftAmp.Set(0, s.params.ReleaseSec, s.sampleRate)
	s.rightAmp.Set(0, s.params.ReleaseSec, s.sampleRate)
	s.harmonicAmp.Set(0, s.params.ReleaseSec, s.sampleRate)
}

// SetVolume rescales the amplitudes to v in [0,1]. Frequencies are untouched.
func (s *Synth) SetVolume(v float64) {
	v = clamp(v, 0, 1)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.volume = v
	if s.running && !s.releasing {
		s.rampTo(v, s.params.VolumeRampSec)
	}
}

func (s *Synth) rampTo(v, seconds float64) {
	s.leftAmp.Set(s.params.BaseAmplitude*v, seconds, s.sampleRate)
	s.rightAmp.Set(s.params.BaseAmplitude*v, seconds, s.sampleRate)
	s.harmonicAmp.Set(s.params.HarmonicAmplitude*v, seconds, s.sampleRate)
}

// Process writes interleaved stereo frames into dst.
func (s *Synth) Process(dst []float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		for i := range dst {
			dst[i] = 0
		}
		return
	}
	lInc := twoPi * s.leftHz / s.sampleRate
	rInc := twoPi * s.rightHz / s.sampleRate
	hInc := twoPi * s.harmonicHz / s.sampleRate
	for i := 0; i+1 < len(dst); i += 2 {
		h := math.Sin(s.harmonicPhase) * s.harmonicAmp.Next()
		l := math.Sin(s.leftPhase)*s.leftAmp.Next() + h
		r := math.Sin(s.rightPhase)*s.rightAmp.Next() + h
		dst[i] = float32(clamp(l, -1, 1))
		dst[i+1] = float32(clamp(r, -1, 1))
		s.leftPhase = wrap(s.leftPhase + lInc)
		s.rightPhase = wrap(s.rightPhase + rInc)
		s.harmonicPhase = wrap(s.harmonicPhase + hInc)
	}
	if s.releasing && s.leftAmp.Settled() && s.rightAmp.Settled() && s.harmonicAmp.Settled() {
		s.running = false
		s.releasing = false
	}
}

// Finished reports that the tone is not generating; the mixer detaches it.
func (s *Synth) Finished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.running
}

// Running reports whether the tone is audible or fading in. A tone that is
// fading out is not running.
func (s *Synth) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running && !s.releasing
}

func (s *Synth) Volume() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.volume
}

// Frequencies returns the left carrier, right carrier and harmonic in Hz.
func (s *Synth) Frequencies() (left, right, harmonic float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.leftHz, s.rightHz, s.harmonicHz
}

// Amplitudes returns the current left, right and harmonic amplitudes.
func (s *Synth) Amplitudes() (left, right, harmonic float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.leftAmp.Value(), s.rightAmp.Value(), s.harmonicAmp.Value()
}

func wrap(phase float64) float64 {
	if phase >= twoPi {
		phase -= twoPi
	}
	return phase
}

func clamp(v, lo, hi float64) float64 {
	if v < lo || math.IsNaN(v) {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
