package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/cbegin/meditone-go/internal/config"
)

var Version = "dev"

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:           "meditone",
		Short:         "Binaural meditation tone and intro player",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	d := config.Default()
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "", "yaml config file")
	pf.Int("sample-rate", d.SampleRate, "output sample rate")
	pf.String("variant", d.Variant, "built-in category set")
	pf.String("categories", "", "category set yaml file (overrides --variant)")
	pf.String("assets-dir", d.Assets.Dir, "local asset directory")
	pf.String("store-url", "", "asset signing endpoint (overrides --assets-dir)")
	pf.String("probe-addr", "", "host:port dialed to track network reachability")
	pf.Int("max-attempts", d.Assets.MaxAttempts, "asset resolution attempts")
	pf.Duration("intro-pause", d.Timing.IntroPause, "pause between recommended and category intros")
	pf.Duration("dwell", d.Timing.Dwell, "tone time before the ambient crossfade")
	pf.Duration("fade-duration", d.Timing.FadeDuration, "crossfade length")
	pf.String("log-level", d.Log.Level, "debug|info|warn|error")
	pf.String("log-format", d.Log.Format, "console|json")

	rootCmd.AddCommand(playCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(renderCmd())
	rootCmd.AddCommand(categoriesCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(configPath, cmd.Flags())
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	log, err := newLogger(cfg.Log, os.Stderr)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	return cfg, log, nil
}

func newLogger(lc config.LogConfig, w io.Writer) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(strings.ToLower(lc.Level))
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("log level: %w", err)
	}
	if lc.Format == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger(), nil
}
