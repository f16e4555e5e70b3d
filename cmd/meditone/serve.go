package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/cbegin/meditone-go/internal/web"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the engine behind a JSON control API",
		Long: `Start an engine on the default audio device and control it over HTTP.

Examples:
  meditone serve --addr :8089
  curl -X POST localhost:8089/api/session -d '{"category":"calm"}'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			engine, err := newEngine(ctx, cfg, log)
			if err != nil {
				return fmt.Errorf("create engine: %w", err)
			}
			defer engine.Close()

			events := engine.Watch()
			go func() {
				for {
					select {
					case <-ctx.Done():
						return
					case ev := <-events:
						log.Info().
							Str("event", ev.Kind.String()).
							Str("session", ev.SessionID).
							Str("category", ev.Category).
							Msg("engine event")
					}
				}
			}()

			if cfg.Log.Level != "debug" {
				gin.SetMode(gin.ReleaseMode)
			}
			return web.NewServer(engine, log).Run(ctx, cfg.Server.Addr)
		},
	}

	cmd.Flags().String("addr", "", "listen address (default from config)")

	return cmd
}
