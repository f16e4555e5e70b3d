// Package web exposes a meditation engine over a small JSON API.
package web

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	meditone "github.com/cbegin/meditone-go"
	"github.com/cbegin/meditone-go/internal/category"
)

// Controller is the part of *meditone.Engine the server drives.
type Controller interface {
	Start(category string, score meditone.Score, recommended bool) error
	SkipIntro()
	Stop()
	SetVolume(v float64)
	HandleInterruption(in meditone.Interruption)
	Status() meditone.Status
	Categories() *category.Set
}

type Server struct {
	ctl    Controller
	log    zerolog.Logger
	router *gin.Engine
}

func NewServer(ctl Controller, log zerolog.Logger) *Server {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(log))

	s := &Server{
		ctl:    ctl,
		log:    log,
		router: router,
	}

	api := router.Group("/api")
	{
		api.GET("/status", s.handleStatus)
		api.GET("/categories", s.handleCategories)
		api.POST("/session", s.handleStart)
		api.DELETE("/session", s.handleStop)
		api.POST("/session/skip", s.handleSkip)
		api.PUT("/volume", s.handleVolume)
		api.POST("/interruption", s.handleInterruption)
	}

	return s
}

// Handler returns the router for use with an http.Server or httptest.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves on addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.log.Info().Str("addr", addr).Msg("control server listening")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func requestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	}
}
