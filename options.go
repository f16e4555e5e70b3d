package meditone

import (
	"time"

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

type EngineOption func(*engineConfig)

type engineConfig struct {
	set          *category.Set
	store        assets.Store
	monitor      assets.Monitor
	resolverOpts []assets.Option
	loader       clip.Loader
	output       audio.Output
	clock        clock.Clock
	exec         dispatch.Executor
	notify       dispatch.Executor
	logger       zerolog.Logger
	toneParams   *tone.Params
	dwell        time.Duration
	introPause   time.Duration
	fadeInterval time.Duration
	fadeDuration time.Duration
	clipTimeout  time.Duration

	onIntroStatus      func(recommendedIntro, categoryIntro bool)
	onIntroFinished    func(category string, score Score, recommended bool)
	onPlaybackFinished func()
}

func defaultEngineConfig() engineConfig {
	return engineConfig{
		logger:       zerolog.Nop(),
		dwell:        crossfade.DefaultDwell,
		introPause:   sequencer.DefaultPause,
		fadeInterval: crossfade.DefaultInterval,
		fadeDuration: crossfade.DefaultDuration,
		clipTimeout:  clip.DefaultTimeout,
	}
}

// WithCategorySet selects the product variant. The default is the classic set.
func WithCategorySet(set *category.Set) EngineOption {
	return func(cfg *engineConfig) {
		cfg.set = set
	}
}

func WithAssetStore(store assets.Store) EngineOption {
	return func(cfg *engineConfig) {
		cfg.store = store
	}
}

func WithMonitor(m assets.Monitor) EngineOption {
	return func(cfg *engineConfig) {
		cfg.monitor = m
	}
}

func WithResolverOptions(opts ...assets.Option) EngineOption {
	return func(cfg *engineConfig) {
		cfg.resolverOpts = append(cfg.resolverOpts, opts...)
	}
}

func WithLoader(l clip.Loader) EngineOption {
	return func(cfg *engineConfig) {
		cfg.loader = l
	}
}

func WithOutput(out audio.Output) EngineOption {
	return func(cfg *engineConfig) {
		cfg.output = out
	}
}

func WithClock(c clock.Clock) EngineOption {
	return func(cfg *engineConfig) {
		cfg.clock = c
	}
}

// WithExecutor runs the engine's state machine and handler callbacks on
// exec instead of the engine's own loops. Handlers may call back into the
// engine only if exec allows nested Do, as dispatch.Inline does.
func WithExecutor(exec dispatch.Executor) EngineOption {
	return func(cfg *engineConfig) {
		cfg.exec = exec
		cfg.notify = exec
	}
}

func WithLogger(l zerolog.Logger) EngineOption {
	return func(cfg *engineConfig) {
		cfg.logger = l
	}
}

// WithToneParams replaces the tone constants, including any tuning the
// category set carries.
func WithToneParams(p tone.Params) EngineOption {
	return func(cfg *engineConfig) {
		cfg.toneParams = &p
	}
}

// WithDwell sets how long a recommended tone plays before crossfading to
// the ambient recording.
func WithDwell(d time.Duration) EngineOption {
	return func(cfg *engineConfig) {
		if d > 0 {
			cfg.dwell = d
		}
	}
}

func WithIntroPause(d time.Duration) EngineOption {
	return func(cfg *engineConfig) {
		if d > 0 {
			cfg.introPause = d
		}
	}
}

func WithCrossfade(interval, duration time.Duration) EngineOption {
	return func(cfg *engineConfig) {
		if interval > 0 {
			cfg.fadeInterval = interval
		}
		if duration > 0 {
			cfg.fadeDuration = duration
		}
	}
}

func WithClipTimeout(d time.Duration) EngineOption {
	return func(cfg *engineConfig) {
		if d > 0 {
			cfg.clipTimeout = d
		}
	}
}

// WithIntroStatusHandler is called whenever the visible intro changes.
func WithIntroStatusHandler(fn func(recommendedIntro, categoryIntro bool)) EngineOption {
	return func(cfg *engineConfig) {
		cfg.onIntroStatus = fn
	}
}

// WithIntroFinishedHandler is called once per session when the main signal starts.
func WithIntroFinishedHandler(fn func(category string, score Score, recommended bool)) EngineOption {
	return func(cfg *engineConfig) {
		cfg.onIntroFinished = fn
	}
}

// WithPlaybackFinishedHandler is called when the ambient recording ends.
func WithPlaybackFinishedHandler(fn func()) EngineOption {
	return func(cfg *engineConfig) {
		cfg.onPlaybackFinished = fn
	}
}

func tunedParams(t category.Tuning) tone.Params {
	p := tone.DefaultParams()
	if t.BaseCarrierHz > 0 {
		p.BaseCarrierHz = t.BaseCarrierHz
	}
	if t.MaxBeatHz > 0 {
		p.MaxBeatHz = t.MaxBeatHz
	}
	if t.HarmonicRatio > 0 {
		p.HarmonicRatio = t.HarmonicRatio
	}
	if t.BaseAmplitude > 0 {
		p.BaseAmplitude = t.BaseAmplitude
	}
	if t.HarmonicAmplitude > 0 {
		p.HarmonicAmplitude = t.HarmonicAmplitude
	}
	return p
}
