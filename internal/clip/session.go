// Package clip plays one pre-recorded asset through an output slot as a
// small state machine: Loading, Ready, Playing, then Finished, with Error
// absorbing failures from any earlier state.
package clip

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cbegin/meditone-go/internal/audio"
	"github.com/cbegin/meditone-go/internal/clock"
	"github.com/cbegin/meditone-go/internal/dispatch"
	"github.com/cbegin/meditone-go/internal/envelope"
)

var (
	ErrDecodeOrLoadFailed  = errors.New("clip: decode or load failed")
	ErrPlaybackTimedOut    = errors.New("clip: playback timed out")
	ErrInterruptedByDevice = errors.New("clip: interrupted by device")
)

const DefaultTimeout = 15 * time.Second

type State int

const (
	Idle State = iota
	Loading
	Ready
	Playing
	Finished
	Stopped
	Error
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	case Playing:
		return "playing"
	case Finished:
		return "finished"
	case Stopped:
		return "stopped"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

type EventKind int

const (
	EventStarted EventKind = iota
	EventFinished
	EventError
	EventInterrupted
	EventResumed
)

func (k EventKind) String() string {
	switch k {
	case EventStarted:
		return "started"
	case EventFinished:
		return "finished"
	case EventError:
		return "error"
	case EventInterrupted:
		return "interrupted"
	case EventResumed:
		return "resumed"
	default:
		return "unknown"
	}
}

type Event struct {
	Kind EventKind
	Err  error
}

type Config struct {
	Slot       audio.Slot
	Mixer      *audio.Mixer
	Loader     Loader
	Exec       dispatch.Executor
	Clock      clock.Clock
	Timeout    time.Duration
	SampleRate int
	Logger     zerolog.Logger
	// OnEvent receives every event on the coordination context. It is
	// detached when the session is released.
	OnEvent func(Event)
}

// Session must only be driven from the coordination context.
type Session struct {
	cfg         Config
	state       State
	url         string
	volume      float64
	interrupted bool
	released    bool
	sink        func(Event)
	timer       clock.Timer
	cancel      context.CancelFunc
	stream      *volumeStream
}

func New(cfg Config) *Session {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Exec == nil {
		cfg.Exec = &dispatch.Inline{}
	}
	return &Session{cfg: cfg, volume: 1, sink: cfg.OnEvent}
}

func (s *Session) State() State { return s.state }

func (s *Session) Volume() float64 { return s.volume }

// Play starts loading url. It does nothing unless the session is idle.
func (s *Session) Play(url string) {
	if s.state != Idle || s.released {
		return
	}
	s.state = Loading
	s.url = url
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.timer = s.cfg.Clock.AfterFunc(s.cfg.Timeout, func() {
		s.cfg.Exec.Post(s.onTimeout)
	})
	s.cfg.Logger.Debug().Str("slot", s.cfg.Slot.String()).Str("url", redact(url)).Msg("clip loading")
	loader := s.cfg.Loader
	exec := s.cfg.Exec
	exec.Go(func() {
		st, err := loader.Load(ctx, url)
		exec.Post(func() { s.onLoaded(st, err) })
	})
}

func (s *Session) onLoaded(st Stream, err error) {
	if s.released || s.state != Loading {
		if st != nil {
			st.Close()
		}
		return
	}
	if err != nil {
		s.fail(decodeError(err))
		return
	}
	s.stopTimer()
	s.state = Ready
	vs := newVolumeStream(st, s.cfg.SampleRate, s.volume)
	s.stream = vs
	s.state = Playing
	s.cfg.Mixer.Attach(s.cfg.Slot, vs, func() {
		s.cfg.Exec.Post(func() { s.onFinished(vs) })
	})
	if s.interrupted {
		s.cfg.Mixer.SetPaused(s.cfg.Slot, true)
	}
	s.cfg.Logger.Debug().Str("slot", s.cfg.Slot.String()).Str("url", redact(s.url)).Msg("clip playing")
	s.emit(Event{Kind: EventStarted})
}

func (s *Session) onFinished(vs *volumeStream) {
	if s.released || s.stream != vs {
		return
	}
	s.state = Finished
	s.emit(Event{Kind: EventFinished})
	s.release()
}

func (s *Session) onTimeout() {
	if s.released || s.state != Loading {
		return
	}
	s.fail(ErrPlaybackTimedOut)
}

func (s *Session) fail(err error) {
	s.state = Error
	s.cfg.Logger.Warn().Err(err).Str("slot", s.cfg.Slot.String()).Str("url", redact(s.url)).Msg("clip failed")
	s.emit(Event{Kind: EventError, Err: err})
	s.release()
}

// Stop halts playback and releases the session. Nothing is emitted after
// Stop returns.
func (s *Session) Stop() {
	if s.released {
		return
	}
	if s.state != Finished && s.state != Error {
		s.state = Stopped
	}
	s.release()
}

// SetVolume ramps the clip volume to v over seconds.
func (s *Session) SetVolume(v, seconds float64) {
	s.volume = clamp01(v)
	if s.stream != nil {
		s.stream.SetVolume(s.volume, seconds)
	}
}

// Interrupt pauses the clip when a device interruption begins. When it ends
// the clip resumes only if shouldResume is set.
func (s *Session) Interrupt(began, shouldResume bool) {
	if s.released {
		return
	}
	if began {
		if s.interrupted {
			return
		}
		s.interrupted = true
		if s.stream != nil {
			s.cfg.Mixer.SetPaused(s.cfg.Slot, true)
		}
		s.emit(Event{Kind: EventInterrupted, Err: ErrInterruptedByDevice})
		return
	}
	if !s.interrupted || !shouldResume {
		return
	}
	s.interrupted = false
	if s.stream != nil {
		s.cfg.Mixer.SetPaused(s.cfg.Slot, false)
	}
	s.emit(Event{Kind: EventResumed})
}

func (s *Session) Interrupted() bool { return s.interrupted }

func (s *Session) emit(ev Event) {
	if s.sink != nil {
		s.sink(ev)
	}
}

func (s *Session) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Session) release() {
	s.released = true
	s.sink = nil
	s.stopTimer()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.stream != nil {
		s.cfg.Mixer.DetachSource(s.cfg.Slot, s.stream)
		s.stream.Close()
		s.stream = nil
	}
}

// volumeStream applies a ramped gain to a clip.
type volumeStream struct {
	mu         sync.Mutex
	src        Stream
	ramp       envelope.Ramp
	sampleRate float64
}

func newVolumeStream(src Stream, sampleRate int, volume float64) *volumeStream {
	v := &volumeStream{src: src, sampleRate: float64(sampleRate)}
	v.ramp.Jump(volume)
	return v
}

func (v *volumeStream) SetVolume(target, seconds float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.ramp.Set(target, seconds, v.sampleRate)
}

func (v *volumeStream) Gain() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.ramp.Value()
}

func (v *volumeStream) Process(dst []float32) {
	v.src.Process(dst)
	v.mu.Lock()
	defer v.mu.Unlock()
	for i := 0; i+1 < len(dst); i += 2 {
		g := float32(v.ramp.Next())
		dst[i] *= g
		dst[i+1] *= g
	}
}

func (v *volumeStream) Finished() bool { return v.src.Finished() }

func (v *volumeStream) Close() error { return v.src.Close() }

func clamp01(v float64) float64 {
	if v < 0 || v != v {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
