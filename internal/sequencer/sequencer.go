// Package sequencer orchestrates the spoken intros that precede the main
// signal: the shared recommended intro, the category intro and the pause
// that separates them.
package sequencer

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/cbegin/meditone-go/internal/assets"
	"github.com/cbegin/meditone-go/internal/category"
	"github.com/cbegin/meditone-go/internal/clock"
	"github.com/cbegin/meditone-go/internal/dispatch"
)

// DefaultPause separates a spoken intro from whatever follows it.
const DefaultPause = 3 * time.Second

type Stage int

const (
	Idle Stage = iota
	RecommendedIntro
	CategoryIntro
	MainSignal
	Crossfading
)

func (s Stage) String() string {
	switch s {
	case Idle:
		return "idle"
	case RecommendedIntro:
		return "recommended_intro"
	case CategoryIntro:
		return "category_intro"
	case MainSignal:
		return "main_signal"
	case Crossfading:
		return "crossfading"
	default:
		return "unknown"
	}
}

// IntroPlayer resolves and plays one intro clip. done is called once, with
// nil when the clip ends naturally or with the failure that prevented it.
// After the returned stop func is called done must not be called.
type IntroPlayer interface {
	PlayIntro(ref assets.Ref, done func(err error)) (stop func())
}

type Config struct {
	Set    *category.Set
	Player IntroPlayer
	Clock  clock.Clock
	Exec   dispatch.Executor
	Pause  time.Duration
	Logger zerolog.Logger

	OnIntroStatusChanged func(recommended, category bool)
	OnIntroFinished      func(cat category.Category, score category.Score, recommended bool)
}

type introClip struct {
	stop func()
}

// Sequencer is the intro state machine. It must be driven from the
// coordination context; every deferred callback carries the generation it
// was scheduled under and is dropped once that generation has passed.
type Sequencer struct {
	cfg Config

	stage       Stage
	gen         uint64
	clip        *introClip
	pauseTimer  clock.Timer
	inPause     bool
	current     category.Category
	score       category.Score
	recommended bool
	statusRec   bool
	statusCat   bool
}

func New(cfg Config) *Sequencer {
	if cfg.Set == nil {
		cfg.Set = category.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Exec == nil {
		cfg.Exec = &dispatch.Inline{}
	}
	if cfg.Pause <= 0 {
		cfg.Pause = DefaultPause
	}
	return &Sequencer{cfg: cfg}
}

func (s *Sequencer) Stage() Stage { return s.stage }

// Current returns the category being introduced or played, the score and
// whether the session came through the recommended path.
func (s *Sequencer) Current() (category.Category, category.Score, bool) {
	return s.current, s.score, s.recommended
}

// IntroStatus reports which intro stage is current. It can differ from the
// last status reported to OnIntroStatusChanged, which only fires on change.
func (s *Sequencer) IntroStatus() (recommended, category bool) {
	return s.stage == RecommendedIntro, s.stage == CategoryIntro
}

// PlayIntro starts the intro sequence for name. Any sequence in progress is
// abandoned first. Unknown categories are rejected without touching state.
func (s *Sequencer) PlayIntro(name string, score category.Score, recommended bool) error {
	if name == category.Recommended {
		s.reset()
		s.stage = RecommendedIntro
		s.score = score
		s.recommended = true
		s.current = category.Category{}
		s.setStatus(true, false)
		s.cfg.Logger.Info().Str("score", score.String()).Msg("recommended intro")
		if s.cfg.Set.RecommendedIntro == "" {
			s.playBanded()
			return nil
		}
		gen := s.gen
		s.play(assets.Ref{Directory: s.cfg.Set.IntroDir, Name: s.cfg.Set.RecommendedIntro}, gen, func() {
			s.pauseThen(gen, s.playBanded)
		})
		return nil
	}
	cat, ok := s.cfg.Set.Lookup(name)
	if !ok {
		return fmt.Errorf("sequencer: unknown category %q", name)
	}
	s.reset()
	s.playCategory(cat, score, recommended)
	return nil
}

func (s *Sequencer) playBanded() {
	s.playCategory(s.cfg.Set.BandScore(s.score), s.score, true)
}

func (s *Sequencer) playCategory(cat category.Category, score category.Score, recommended bool) {
	s.current = cat
	s.score = score
	s.recommended = recommended
	if cat.Intro == "" {
		s.setStatus(false, false)
		s.finish()
		return
	}
	s.stage = CategoryIntro
	s.setStatus(false, true)
	s.cfg.Logger.Info().Str("category", cat.Name).Msg("category intro")
	gen := s.gen
	s.play(assets.Ref{Directory: s.cfg.Set.IntroDir, Name: cat.Intro}, gen, func() {
		s.pauseThen(gen, s.finish)
	})
}

// play starts ref. next runs on the coordination context when the clip
// ends or fails, unless the generation moved on first.
func (s *Sequencer) play(ref assets.Ref, gen uint64, next func()) {
	c := &introClip{}
	s.clip = c
	c.stop = s.cfg.Player.PlayIntro(ref, func(err error) {
		s.cfg.Exec.Post(func() {
			if gen != s.gen || s.clip != c {
				return
			}
			s.clip = nil
			if err != nil {
				s.cfg.Logger.Warn().Err(err).Str("asset", ref.String()).Msg("intro unavailable, continuing")
			}
			next()
		})
	})
}

func (s *Sequencer) pauseThen(gen uint64, fn func()) {
	s.inPause = true
	s.pauseTimer = s.cfg.Clock.AfterFunc(s.cfg.Pause, func() {
		s.cfg.Exec.Post(func() {
			if gen != s.gen {
				return
			}
			s.pauseTimer = nil
			s.inPause = false
			fn()
		})
	})
}

func (s *Sequencer) finish() {
	s.stage = MainSignal
	cat, score, rec := s.current, s.score, s.recommended
	s.cfg.Logger.Info().Str("category", cat.Name).Str("score", score.String()).Bool("recommended", rec).Msg("intro finished")
	if s.cfg.OnIntroFinished != nil {
		s.cfg.OnIntroFinished(cat, score, rec)
	}
}

// Skip cuts the current intro short. During the recommended intro it jumps
// straight into the banded category's intro. During a category intro it
// stops the clip and finishes after the usual pause. Anywhere else, and
// while that pause is already running, it does nothing.
func (s *Sequencer) Skip() {
	switch s.stage {
	case RecommendedIntro:
		s.reset()
		s.cfg.Logger.Info().Msg("recommended intro skipped")
		s.playBanded()
	case CategoryIntro:
		if s.inPause {
			return
		}
		s.reset()
		s.cfg.Logger.Info().Str("category", s.current.Name).Msg("category intro skipped")
		s.pauseThen(s.gen, s.finish)
	}
}

// Stop abandons everything in flight and returns to Idle. Callbacks
// scheduled before Stop become no-ops.
func (s *Sequencer) Stop() {
	s.reset()
	if s.statusRec || s.statusCat {
		s.setStatus(false, false)
	}
	s.stage = Idle
}

// Enter moves to a later stage driven by the engine (main signal or
// crossfade). It is ignored while Idle.
func (s *Sequencer) Enter(stage Stage) {
	if stage != MainSignal && stage != Crossfading {
		return
	}
	if s.stage == Idle {
		return
	}
	s.stage = stage
}

func (s *Sequencer) reset() {
	s.gen++
	if s.pauseTimer != nil {
		s.pauseTimer.Stop()
		s.pauseTimer = nil
	}
	s.inPause = false
	if c := s.clip; c != nil {
		s.clip = nil
		if c.stop != nil {
			c.stop()
		}
	}
}

func (s *Sequencer) setStatus(rec, cat bool) {
	if rec == s.statusRec && cat == s.statusCat {
		return
	}
	s.statusRec, s.statusCat = rec, cat
	if s.cfg.OnIntroStatusChanged != nil {
		s.cfg.OnIntroStatusChanged(rec, cat)
	}
}
