package main

import (
	"context"

	"github.com/rs/zerolog"

	meditone "github.com/cbegin/meditone-go"
	"github.com/cbegin/meditone-go/internal/assets"
	"github.com/cbegin/meditone-go/internal/config"
)

// newEngine builds an engine from cfg. A configured probe address starts a
// reachability monitor that runs until ctx is done.
func newEngine(ctx context.Context, cfg *config.Config, log zerolog.Logger, extra ...meditone.EngineOption) (*meditone.Engine, error) {
	set, err := cfg.CategorySet()
	if err != nil {
		return nil, err
	}

	var store assets.Store = assets.DirStore{Root: cfg.Assets.Dir}
	if cfg.Assets.StoreURL != "" {
		store = assets.NewHTTPStore(cfg.Assets.StoreURL, nil)
	}

	opts := []meditone.EngineOption{
		meditone.WithCategorySet(set),
		meditone.WithAssetStore(store),
		meditone.WithResolverOptions(assets.WithMaxAttempts(cfg.Assets.MaxAttempts)),
		meditone.WithLogger(log),
		meditone.WithIntroPause(cfg.Timing.IntroPause),
		meditone.WithDwell(cfg.Timing.Dwell),
		meditone.WithCrossfade(cfg.Timing.FadeInterval, cfg.Timing.FadeDuration),
		meditone.WithClipTimeout(cfg.Timing.ClipTimeout),
	}
	if cfg.Assets.ProbeAddr != "" {
		m := assets.NewProbeMonitor(cfg.Assets.ProbeAddr, cfg.Assets.ProbeInterval, log)
		go m.Run(ctx)
		opts = append(opts, meditone.WithMonitor(m))
	}
	opts = append(opts, extra...)

	return meditone.NewEngine(cfg.SampleRate, opts...)
}
