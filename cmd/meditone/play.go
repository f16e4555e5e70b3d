package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	meditone "github.com/cbegin/meditone-go"
)

func playCmd() *cobra.Command {
	var (
		score       float64
		recommended bool
		duration    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "play <category>",
		Short: "Play a session on the default audio device",
		Long: `Play the intro for a category, then its tone or ambient recording.

Examples:
  meditone play calm
  meditone play recommended --score 0.3 --recommended
  meditone play nature --duration 20m`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, duration)
				defer cancel()
			}

			engine, err := newEngine(ctx, cfg, log)
			if err != nil {
				return fmt.Errorf("create engine: %w", err)
			}
			defer engine.Close()

			var sc meditone.Score
			if cmd.Flags().Changed("score") {
				sc = meditone.ScoreOf(score)
			}
			ch := engine.Watch()
			if err := engine.Start(args[0], sc, recommended); err != nil {
				return err
			}
			if st := engine.Status(); !st.AudioAvailable {
				log.Warn().Msg("no audio device; playing silently")
			}

			for {
				select {
				case <-ctx.Done():
					engine.Stop()
					fmt.Println("stopped")
					return nil
				case ev := <-ch:
					switch ev.Kind {
					case meditone.EventIntroStatusChanged:
						fmt.Printf("intro: recommended=%t category=%t\n", ev.RecommendedIntro, ev.CategoryIntro)
					case meditone.EventIntroFinished:
						fmt.Printf("intro finished: %s (score %s)\n", ev.Category, ev.Score)
					case meditone.EventPlaybackFinished:
						fmt.Println("playback completed")
						return nil
					}
				}
			}
		},
	}

	cmd.Flags().Float64Var(&score, "score", 0, "normalized score in [0,1]")
	cmd.Flags().BoolVar(&recommended, "recommended", false, "crossfade to the ambient recording after the dwell time")
	cmd.Flags().DurationVar(&duration, "duration", 0, "stop after this long (0 = until done or interrupted)")

	return cmd
}
