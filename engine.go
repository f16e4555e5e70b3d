// Package meditone is a meditation audio engine: spoken intros, a binaural
// tone and a crossfade from the tone to an ambient recording.
package meditone

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cbegin/meditone-go/internal/assets"
	"github.com/cbegin/meditone-go/internal/audio"
	"github.com/cbegin/meditone-go/internal/category"
	"github.com/cbegin/meditone-go/internal/clip"
	"github.com/cbegin/meditone-go/internal/clock"
	"github.com/cbegin/meditone-go/internal/crossfade"
	"github.com/cbegin/meditone-go/internal/dispatch"
	"github.com/cbegin/meditone-go/internal/sequencer"
	"github.com/cbegin/meditone-go/internal/tone"
)

var (
	ErrClosed          = errors.New("meditone: engine closed")
	ErrUnknownCategory = errors.New("meditone: unknown category")
)

// Recommended is the category that picks a concrete category from the score.
const Recommended = category.Recommended

// Score is an optional normalized score in [0,1]. The zero value means no score.
type Score = category.Score

func ScoreOf(v float64) Score { return category.ScoreOf(v) }

// EventKind identifies events from Watch().
type EventKind int

const (
	EventIntroStatusChanged EventKind = iota
	EventIntroFinished
	EventPlaybackFinished
)

func (k EventKind) String() string {
	switch k {
	case EventIntroStatusChanged:
		return "intro_status_changed"
	case EventIntroFinished:
		return "intro_finished"
	case EventPlaybackFinished:
		return "playback_finished"
	default:
		return "unknown"
	}
}

type Event struct {
	Kind             EventKind
	SessionID        string
	RecommendedIntro bool
	CategoryIntro    bool
	Category         string
	Score            Score
	Recommended      bool
}

// Interruption is a device-level audio interruption such as an incoming call.
type Interruption struct {
	Began        bool
	ShouldResume bool
}

type Status struct {
	SessionID        string   `json:"sessionId,omitempty"`
	Variant          string   `json:"variant"`
	Stage            string   `json:"stage"`
	Category         string   `json:"category,omitempty"`
	Score            *float64 `json:"score,omitempty"`
	Recommended      bool     `json:"recommended"`
	RecommendedIntro bool     `json:"recommendedIntro"`
	CategoryIntro    bool     `json:"categoryIntro"`
	ToneRunning      bool     `json:"toneRunning"`
	ToneVolume       float64  `json:"toneVolume"`
	AmbientVolume    float64  `json:"ambientVolume"`
	Crossfading      bool     `json:"crossfading"`
	Interrupted      bool     `json:"interrupted"`
	AudioAvailable   bool     `json:"audioAvailable"`
}

// Engine owns one output graph and drives one play session at a time.
// Every state change runs on a single coordination context.
type Engine struct {
	cfg        engineConfig
	sampleRate int
	log        zerolog.Logger
	set        *category.Set
	exec       dispatch.Executor
	notify     dispatch.Executor
	loops      []*dispatch.Loop
	ctx        context.Context
	cancel     context.CancelFunc

	resolver *assets.Resolver
	loader   clip.Loader
	mixer    *audio.Mixer
	output   audio.Output
	synth    *tone.Synth
	seq      *sequencer.Sequencer
	fader    *crossfade.Crossfader

	outputOnce sync.Once
	outputErr  error

	// Owned by the coordination context.
	sessionID   string
	clips       map[*clip.Session]struct{}
	ambient     *clip.Session
	ambientStop func()
	interrupted bool
	closed      bool

	eventCh   chan Event
	eventChMu sync.Mutex
}

func NewEngine(sampleRate int, opts ...EngineOption) (*Engine, error) {
	if sampleRate <= 0 {
		return nil, errors.New("sampleRate must be positive")
	}
	cfg := defaultEngineConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.set == nil {
		cfg.set = category.Default()
	}
	if err := cfg.set.Validate(); err != nil {
		return nil, err
	}
	if cfg.clock == nil {
		cfg.clock = clock.Real()
	}
	if cfg.store == nil {
		cfg.store = assets.DirStore{Root: "assets"}
	}
	if cfg.loader == nil {
		cfg.loader = clip.NewDecodeLoader(sampleRate)
	}
	if cfg.output == nil {
		cfg.output = audio.NewDeviceOutput(sampleRate)
	}
	params := tunedParams(cfg.set.Tuning)
	if cfg.toneParams != nil {
		params = *cfg.toneParams
	}

	e := &Engine{
		cfg:        cfg,
		sampleRate: sampleRate,
		log:        cfg.logger.With().Str("component", "engine").Logger(),
		set:        cfg.set,
		exec:       cfg.exec,
		notify:     cfg.notify,
		loader:     cfg.loader,
		mixer:      audio.NewMixer(),
		output:     cfg.output,
		synth:      tone.New(sampleRate, params),
		clips:      make(map[*clip.Session]struct{}),
	}
	if e.exec == nil {
		loop := dispatch.NewLoop()
		e.exec = loop
		e.loops = append(e.loops, loop)
	}
	if e.notify == nil {
		loop := dispatch.NewLoop()
		e.notify = loop
		e.loops = append(e.loops, loop)
	}
	e.mixer.SetLimiter(audio.NewLimiter(sampleRate, -1, 1, 200))
	e.ctx, e.cancel = context.WithCancel(context.Background())

	resolverOpts := []assets.Option{assets.WithLogger(cfg.logger)}
	if cfg.monitor != nil {
		resolverOpts = append(resolverOpts, assets.WithMonitor(cfg.monitor))
	}
	e.resolver = assets.NewResolver(cfg.store, append(resolverOpts, cfg.resolverOpts...)...)

	e.seq = sequencer.New(sequencer.Config{
		Set:                  cfg.set,
		Player:               introPlayer{e},
		Clock:                cfg.clock,
		Exec:                 e.exec,
		Pause:                cfg.introPause,
		Logger:               cfg.logger.With().Str("component", "sequencer").Logger(),
		OnIntroStatusChanged: e.onIntroStatusChanged,
		OnIntroFinished:      e.onIntroFinished,
	})
	e.fader = crossfade.New(crossfade.Config{
		Clock:            cfg.clock,
		Exec:             e.exec,
		Interval:         cfg.fadeInterval,
		Duration:         cfg.fadeDuration,
		Logger:           cfg.logger.With().Str("component", "crossfade").Logger(),
		StartAmbient:     e.beginCrossfade,
		SetToneVolume:    e.synth.SetVolume,
		SetAmbientVolume: e.setAmbientVolume,
		OnComplete:       e.crossfadeComplete,
	})
	return e, nil
}

// Start begins a play session. Any session in progress is stopped first.
// category is a category name from the set or Recommended, in which case
// the score picks the category after the shared intro.
func (e *Engine) Start(categoryName string, score Score, recommended bool) error {
	if categoryName != Recommended {
		if _, ok := e.set.Lookup(categoryName); !ok {
			return fmt.Errorf("%w: %q", ErrUnknownCategory, categoryName)
		}
	}
	err := ErrClosed
	e.exec.Do(func() {
		if e.closed {
			return
		}
		e.stopAll()
		e.configureSessionOnce()
		e.interrupted = false
		e.sessionID = uuid.NewString()
		e.log.Info().
			Str("session", e.sessionID).
			Str("category", categoryName).
			Str("score", score.String()).
			Bool("recommended", recommended).
			Msg("session started")
		err = e.seq.PlayIntro(categoryName, score, recommended)
	})
	return err
}

// SkipIntro cuts the current intro short. It does nothing outside an intro.
func (e *Engine) SkipIntro() {
	e.exec.Do(func() {
		if e.closed {
			return
		}
		e.seq.Skip()
	})
}

// Stop ends the session. Pending timers and callbacks are abandoned.
func (e *Engine) Stop() {
	e.exec.Do(func() {
		if e.closed {
			return
		}
		if e.sessionID != "" {
			e.log.Info().Str("session", e.sessionID).Msg("session stopped")
		}
		e.stopAll()
	})
}

// SetVolume sets the tone volume in [0,1]. It is ignored during a crossfade,
// which owns the tone volume.
func (e *Engine) SetVolume(v float64) {
	e.exec.Do(func() {
		if e.closed || e.fader.Transitioning() {
			return
		}
		e.synth.SetVolume(v)
	})
}

// HandleInterruption pauses every active source and the crossfade clock
// when an interruption begins. When it ends, they resume only if
// ShouldResume is set.
func (e *Engine) HandleInterruption(in Interruption) {
	e.exec.Do(func() {
		if e.closed {
			return
		}
		if in.Began {
			if e.interrupted {
				return
			}
			e.interrupted = true
			e.mixer.SetPaused(audio.SlotTone, true)
			e.fader.Pause()
			for s := range e.clips {
				s.Interrupt(true, false)
			}
			e.log.Info().Str("session", e.sessionID).Msg("audio interrupted")
			return
		}
		if !e.interrupted {
			return
		}
		for s := range e.clips {
			s.Interrupt(false, in.ShouldResume)
		}
		if !in.ShouldResume {
			e.log.Info().Str("session", e.sessionID).Msg("interruption ended, staying paused")
			return
		}
		e.interrupted = false
		e.mixer.SetPaused(audio.SlotTone, false)
		e.fader.Resume()
		e.log.Info().Str("session", e.sessionID).Msg("audio resumed")
	})
}

func (e *Engine) Status() Status {
	var st Status
	e.exec.Do(func() {
		cur, score, rec := e.seq.Current()
		recIntro, catIntro := e.seq.IntroStatus()
		tv, av := e.fader.Volumes()
		st = Status{
			SessionID:        e.sessionID,
			Variant:          e.set.Name,
			Stage:            e.seq.Stage().String(),
			Category:         cur.Name,
			Recommended:      rec,
			RecommendedIntro: recIntro,
			CategoryIntro:    catIntro,
			ToneRunning:      e.synth.Running(),
			ToneVolume:       e.synth.Volume(),
			Crossfading:      e.fader.Transitioning(),
			Interrupted:      e.interrupted,
			AudioAvailable:   e.outputErr == nil,
		}
		if e.fader.Transitioning() || e.fader.Complete() {
			st.ToneVolume, st.AmbientVolume = tv, av
		} else if e.ambient != nil {
			st.AmbientVolume = e.ambient.Volume()
		}
		if score.Valid {
			v := score.Value
			st.Score = &v
		}
		if e.seq.Stage() == sequencer.Idle {
			st.Category = ""
			st.Score = nil
			st.Recommended = false
		}
	})
	return st
}

// Categories returns the engine's category set.
func (e *Engine) Categories() *category.Set { return e.set }

// Watch returns a channel of engine events. Only the most recent channel
// receives events; events are dropped when it is full.
func (e *Engine) Watch() <-chan Event {
	ch := make(chan Event, 8)
	e.eventChMu.Lock()
	e.eventCh = ch
	e.eventChMu.Unlock()
	return ch
}

// Close stops playback, releases the audio device and shuts down the
// engine's loops. The engine cannot be restarted.
func (e *Engine) Close() error {
	e.exec.Do(func() {
		if e.closed {
			return
		}
		e.stopAll()
		e.mixer.Detach(audio.SlotTone)
		e.closed = true
	})
	e.cancel()
	err := e.output.Close()
	for _, l := range e.loops {
		l.Close()
	}
	return err
}

// configureSessionOnce opens the audio output the first time a session
// starts. A failure is logged and the engine carries on silently.
func (e *Engine) configureSessionOnce() {
	e.outputOnce.Do(func() {
		if err := e.output.Open(e.mixer); err != nil {
			e.outputErr = err
			e.log.Error().Err(err).Msg("audio output unavailable, continuing without sound")
		}
	})
}

// stopAll returns the engine to idle. The tone fades out over its release
// time and the mixer drops it once silent; clips are detached immediately.
func (e *Engine) stopAll() {
	e.seq.Stop()
	e.fader.Cancel()
	e.synth.Stop()
	if e.ambientStop != nil {
		e.ambientStop()
	}
	e.ambient = nil
	e.ambientStop = nil
	for s := range e.clips {
		s.Stop()
		delete(e.clips, s)
	}
	e.mixer.Detach(audio.SlotClip)
}

func (e *Engine) onIntroStatusChanged(rec, cat bool) {
	e.emit(Event{Kind: EventIntroStatusChanged, RecommendedIntro: rec, CategoryIntro: cat})
}

func (e *Engine) onIntroFinished(cat category.Category, score Score, recommended bool) {
	e.emit(Event{Kind: EventIntroFinished, Category: cat.Name, Score: score, Recommended: recommended})
	if cat.Ambient {
		e.startAmbient(1)
		return
	}
	e.startTone(cat.BeatHz)
	if recommended {
		e.fader.Arm(e.cfg.dwell)
	}
}

func (e *Engine) startTone(beatHz float64) {
	e.synth.SetVolume(1)
	e.synth.Start(beatHz)
	e.mixer.Attach(audio.SlotTone, e.synth, nil)
	if e.interrupted {
		e.mixer.SetPaused(audio.SlotTone, true)
	}
	left, right, _ := e.synth.Frequencies()
	e.log.Info().
		Str("session", e.sessionID).
		Float64("left_hz", left).
		Float64("right_hz", right).
		Msg("tone started")
}

func (e *Engine) startAmbient(volume float64) {
	ref := assets.Ref{Directory: e.set.AmbientDir, Name: e.set.AmbientRecording}
	var sess *clip.Session
	e.ambientStop, sess = e.playClip(ref, volume, func(err error) {
		e.ambient = nil
		e.ambientStop = nil
		if err != nil && e.synth.Running() {
			e.log.Warn().Err(err).Str("session", e.sessionID).Msg("ambient recording unavailable, keeping the tone")
			e.fader.Cancel()
			e.synth.SetVolume(1)
			e.seq.Enter(sequencer.MainSignal)
			return
		}
		if err != nil {
			e.log.Warn().Err(err).Str("session", e.sessionID).Msg("ambient recording unavailable")
		}
		e.finishPlayback()
	})
	e.ambient = sess
}

func (e *Engine) beginCrossfade() {
	e.seq.Enter(sequencer.Crossfading)
	e.synth.SetVolume(1)
	e.startAmbient(0)
}

func (e *Engine) setAmbientVolume(v float64) {
	if e.ambient != nil {
		e.ambient.SetVolume(v, e.cfg.fadeInterval.Seconds())
	}
}

func (e *Engine) crossfadeComplete() {
	e.synth.Stop()
	e.seq.Enter(sequencer.MainSignal)
}

func (e *Engine) finishPlayback() {
	e.log.Info().Str("session", e.sessionID).Msg("playback finished")
	e.stopAll()
	e.emit(Event{Kind: EventPlaybackFinished})
}

// playClip resolves ref off the coordination context and plays it on the
// clip slot. done runs on the coordination context exactly once with the
// outcome unless the returned stop func runs first.
func (e *Engine) playClip(ref assets.Ref, volume float64, done func(error)) (func(), *clip.Session) {
	finished := false
	ctx, cancel := context.WithCancel(e.ctx)
	var sess *clip.Session
	finish := func(err error) {
		if finished {
			return
		}
		finished = true
		cancel()
		delete(e.clips, sess)
		done(err)
	}
	sess = clip.New(clip.Config{
		Slot:       audio.SlotClip,
		Mixer:      e.mixer,
		Loader:     e.loader,
		Exec:       e.exec,
		Clock:      e.cfg.clock,
		Timeout:    e.cfg.clipTimeout,
		SampleRate: e.sampleRate,
		Logger:     e.cfg.logger.With().Str("component", "clip").Str("session", e.sessionID).Logger(),
		OnEvent: func(ev clip.Event) {
			switch ev.Kind {
			case clip.EventFinished:
				finish(nil)
			case clip.EventError:
				finish(ev.Err)
			}
		},
	})
	sess.SetVolume(volume, 0)
	e.clips[sess] = struct{}{}
	if e.interrupted {
		sess.Interrupt(true, false)
	}
	stop := func() {
		if finished {
			return
		}
		finished = true
		cancel()
		delete(e.clips, sess)
		sess.Stop()
	}

	if e.outputErr != nil {
		// Nothing pulls the mixer, so the clip would never end.
		err := e.outputErr
		e.exec.Post(func() { finish(err) })
		return stop, sess
	}
	resolver := e.resolver
	exec := e.exec
	exec.Go(func() {
		url, err := resolver.Resolve(ctx, ref)
		exec.Post(func() {
			if finished {
				return
			}
			if err != nil {
				finish(err)
				return
			}
			sess.Play(url)
		})
	})
	return stop, sess
}

func (e *Engine) emit(ev Event) {
	ev.SessionID = e.sessionID
	cfg := e.cfg
	e.notify.Post(func() {
		switch ev.Kind {
		case EventIntroStatusChanged:
			if cfg.onIntroStatus != nil {
				cfg.onIntroStatus(ev.RecommendedIntro, ev.CategoryIntro)
			}
		case EventIntroFinished:
			if cfg.onIntroFinished != nil {
				cfg.onIntroFinished(ev.Category, ev.Score, ev.Recommended)
			}
		case EventPlaybackFinished:
			if cfg.onPlaybackFinished != nil {
				cfg.onPlaybackFinished()
			}
		}
		e.sendEvent(ev)
	})
}

func (e *Engine) sendEvent(ev Event) {
	e.eventChMu.Lock()
	ch := e.eventCh
	e.eventChMu.Unlock()
	if ch != nil {
		select {
		case ch <- ev:
		default:
			// Channel full; drop event
		}
	}
}

// introPlayer plays sequencer intros through the engine's clip slot.
type introPlayer struct {
	e *Engine
}

func (p introPlayer) PlayIntro(ref assets.Ref, done func(error)) func() {
	stop, _ := p.e.playClip(ref, 1, done)
	return stop
}
