package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	meditone "github.com/cbegin/meditone-go"
)

func renderCmd() *cobra.Command {
	var (
		categoryName string
		beatHz       float64
		seconds      float64
	)
	cmd := &cobra.Command{
		Use:   "render <out.wav>",
		Short: "Render a category's tone to a float32 WAV file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			set, err := cfg.CategorySet()
			if err != nil {
				return err
			}
			if categoryName != "" {
				c, ok := set.Lookup(categoryName)
				if !ok {
					return fmt.Errorf("%w: %q", meditone.ErrUnknownCategory, categoryName)
				}
				if c.Ambient {
					return fmt.Errorf("category %q has no tone", categoryName)
				}
				beatHz = c.BeatHz
			}
			if beatHz <= 0 {
				return errors.New("need --category or a positive --beat")
			}
			if seconds <= 0 {
				return errors.New("--seconds must be positive")
			}

			samples := meditone.RenderTone(meditone.ToneParamsFor(set), cfg.SampleRate, beatHz, seconds)
			if err := os.WriteFile(args[0], meditone.EncodeWAVFloat32LE(samples, cfg.SampleRate, 2), 0o644); err != nil {
				return err
			}
			log.Info().
				Str("file", args[0]).
				Float64("beat_hz", beatHz).
				Float64("seconds", seconds).
				Msg("rendered")
			return nil
		},
	}

	cmd.Flags().StringVar(&categoryName, "category", "", "category whose beat frequency to render")
	cmd.Flags().Float64Var(&beatHz, "beat", 0, "beat frequency in Hz (ignored with --category)")
	cmd.Flags().Float64Var(&seconds, "seconds", 30, "length in seconds")

	return cmd
}
