// Package crossfade moves playback from the synthesized tone to the ambient
// recording with a linear, timer-driven volume ramp.
package crossfade

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/cbegin/meditone-go/internal/clock"
	"github.com/cbegin/meditone-go/internal/dispatch"
)

const (
	DefaultDwell    = 600 * time.Second
	DefaultInterval = 100 * time.Millisecond
	DefaultDuration = 15 * time.Second
)

type Config struct {
	Clock    clock.Clock
	Exec     dispatch.Executor
	Interval time.Duration
	Duration time.Duration
	Logger   zerolog.Logger

	// StartAmbient starts the ambient recording at volume 0.
	StartAmbient     func()
	SetToneVolume    func(v float64)
	SetAmbientVolume func(v float64)
	OnComplete       func()
}

// Crossfader must be driven from the coordination context. Timer fires are
// posted back to it and dropped when they belong to a canceled generation.
type Crossfader struct {
	cfg Config

	gen           uint64
	armTimer      clock.Timer
	armAt         time.Time
	tickTimer     clock.Timer
	paused        bool
	held          bool          // dwell countdown frozen by Pause
	heldLeft      time.Duration // remaining dwell while held
	transitioning bool
	complete      bool
	tick          int
	ticks         int
	tone          float64
	ambient       float64
}

func New(cfg Config) *Crossfader {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Exec == nil {
		cfg.Exec = &dispatch.Inline{}
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Duration <= 0 {
		cfg.Duration = DefaultDuration
	}
	ticks := int((cfg.Duration + cfg.Interval - 1) / cfg.Interval)
	if ticks < 1 {
		ticks = 1
	}
	return &Crossfader{cfg: cfg, ticks: ticks, tone: 1}
}

// Arm schedules the transition to begin after dwell. Re-arming replaces the
// previous schedule. While paused the countdown starts on Resume.
func (c *Crossfader) Arm(dwell time.Duration) {
	if c.armTimer != nil {
		c.armTimer.Stop()
		c.armTimer = nil
	}
	if c.paused {
		c.held, c.heldLeft = true, dwell
		return
	}
	c.held = false
	c.armAt = c.cfg.Clock.Now().Add(dwell)
	gen := c.gen
	c.armTimer = c.cfg.Clock.AfterFunc(dwell, func() {
		c.cfg.Exec.Post(func() {
			if gen != c.gen {
				return
			}
			c.armTimer = nil
			c.Begin()
		})
	})
	c.cfg.Logger.Debug().Dur("dwell", dwell).Msg("crossfade armed")
}

// Begin starts the transition unless one is running or has completed.
func (c *Crossfader) Begin() {
	if c.transitioning || c.complete {
		return
	}
	c.transitioning = true
	c.tick = 0
	c.tone, c.ambient = 1, 0
	c.cfg.Logger.Info().Dur("duration", c.cfg.Duration).Msg("crossfade started")
	if c.cfg.StartAmbient != nil {
		c.cfg.StartAmbient()
	}
	if !c.paused {
		c.schedule(c.gen)
	}
}

// Pause freezes the dwell countdown and any running transition at the
// current volumes. Fires already in flight are dropped.
func (c *Crossfader) Pause() {
	if c.paused {
		return
	}
	c.paused = true
	c.gen++
	if c.armTimer != nil {
		c.armTimer.Stop()
		c.armTimer = nil
		left := c.armAt.Sub(c.cfg.Clock.Now())
		if left < 0 {
			left = 0
		}
		c.held, c.heldLeft = true, left
	}
	if c.tickTimer != nil {
		c.tickTimer.Stop()
		c.tickTimer = nil
	}
	c.cfg.Logger.Debug().Bool("transitioning", c.transitioning).Msg("crossfade paused")
}

// Resume continues the dwell countdown or transition where Pause left it.
func (c *Crossfader) Resume() {
	if !c.paused {
		return
	}
	c.paused = false
	if c.held {
		c.Arm(c.heldLeft)
	}
	if c.transitioning {
		c.schedule(c.gen)
	}
	c.cfg.Logger.Debug().Msg("crossfade resumed")
}

func (c *Crossfader) schedule(gen uint64) {
	c.tickTimer = c.cfg.Clock.AfterFunc(c.cfg.Interval, func() {
		c.cfg.Exec.Post(func() {
			if gen != c.gen || !c.transitioning {
				return
			}
			c.step(gen)
		})
	})
}

func (c *Crossfader) step(gen uint64) {
	c.tick++
	if c.tick >= c.ticks {
		c.tone, c.ambient = 0, 1
		c.tickTimer = nil
		c.transitioning = false
		c.complete = true
		c.apply()
		c.cfg.Logger.Info().Msg("crossfade complete")
		if c.cfg.OnComplete != nil {
			c.cfg.OnComplete()
		}
		return
	}
	c.ambient = clamp01(float64(c.tick) / float64(c.ticks))
	c.tone = 1 - c.ambient
	c.apply()
	if gen == c.gen && c.transitioning {
		c.schedule(gen)
	}
}

func (c *Crossfader) apply() {
	if c.cfg.SetToneVolume != nil {
		c.cfg.SetToneVolume(c.tone)
	}
	if c.cfg.SetAmbientVolume != nil {
		c.cfg.SetAmbientVolume(c.ambient)
	}
}

// Cancel invalidates the arm and tick timers and resets the transition.
// It is safe to call at any time.
func (c *Crossfader) Cancel() {
	c.gen++
	if c.armTimer != nil {
		c.armTimer.Stop()
		c.armTimer = nil
	}
	if c.tickTimer != nil {
		c.tickTimer.Stop()
		c.tickTimer = nil
	}
	c.paused, c.held, c.heldLeft = false, false, 0
	c.transitioning = false
	c.complete = false
	c.tick = 0
	c.tone, c.ambient = 1, 0
}

func (c *Crossfader) Transitioning() bool { return c.transitioning }

func (c *Crossfader) Complete() bool { return c.complete }

// Armed reports a pending dwell countdown, running or held by Pause.
func (c *Crossfader) Armed() bool { return c.armTimer != nil || c.held }

// Volumes returns the current tone and ambient volumes.
func (c *Crossfader) Volumes() (tone, ambient float64) { return c.tone, c.ambient }

// Ticks is the number of interval steps in one transition.
func (c *Crossfader) Ticks() int { return c.ticks }

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
