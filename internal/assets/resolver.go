package assets

import (
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/rs/zerolog"
)

var (
	ErrNetworkUnreachable = errors.New("assets: network unreachable")
	ErrResolutionFailed   = errors.New("assets: resolution failed")
)

const (
	DefaultMaxAttempts      = 3
	DefaultUnreachableDelay = time.Second
	DefaultBackoffUnit      = 500 * time.Millisecond
)

// Ref names an asset by directory and file name. Refs are resolved on every
// use because the resolved location may be a short-lived signed link.
type Ref struct {
	Directory string
	Name      string
}

func (r Ref) String() string { return path.Join(r.Directory, r.Name) }

// Store turns a Ref into a playable URL.
type Store interface {
	Resolve(ctx context.Context, directory, name string) (string, error)
}

// Monitor reports network reachability. It must be cheap to call.
type Monitor interface {
	Reachable() bool
}

// StaticMonitor always reports its own value.
type StaticMonitor bool

func (m StaticMonitor) Reachable() bool { return bool(m) }

type Option func(*Resolver)

func WithMaxAttempts(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.maxAttempts = n
		}
	}
}

func WithUnreachableDelay(d time.Duration) Option {
	return func(r *Resolver) { r.unreachableDelay = d }
}

// WithBackoffUnit sets the unit of the linear backoff: attempt n waits n units.
func WithBackoffUnit(d time.Duration) Option {
	return func(r *Resolver) { r.backoffUnit = d }
}

func WithMonitor(m Monitor) Option {
	return func(r *Resolver) {
		if m != nil {
			r.monitor = m
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(r *Resolver) { r.log = l }
}

// Resolver resolves refs through a Store with a reachability check and
// bounded linear backoff. Retries are internal; callers only see the final
// URL or a wrapped ErrResolutionFailed.
type Resolver struct {
	store            Store
	monitor          Monitor
	maxAttempts      int
	unreachableDelay time.Duration
	backoffUnit      time.Duration
	log              zerolog.Logger
	sleep            func(ctx context.Context, d time.Duration) error
}

func NewResolver(store Store, opts ...Option) *Resolver {
	r := &Resolver{
		store:            store,
		monitor:          StaticMonitor(true),
		maxAttempts:      DefaultMaxAttempts,
		unreachableDelay: DefaultUnreachableDelay,
		backoffUnit:      DefaultBackoffUnit,
		log:              zerolog.Nop(),
		sleep:            sleepContext,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Resolver) MaxAttempts() int { return r.maxAttempts }

// Resolve makes at most MaxAttempts attempts. An unreachable network uses up an
// attempt and waits the unreachable delay; a store error waits
// (maxAttempts-attemptsLeft+1) backoff units. Cancellation of ctx ends the
// wait early and returns ctx.Err().
func (r *Resolver) Resolve(ctx context.Context, ref Ref) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		attemptsLeft := r.maxAttempts - attempt + 1
		var delay time.Duration
		if !r.monitor.Reachable() {
			lastErr = ErrNetworkUnreachable
			delay = r.unreachableDelay
		} else {
			url, err := r.store.Resolve(ctx, ref.Directory, ref.Name)
			if err == nil {
				return url, nil
			}
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			lastErr = err
			delay = time.Duration(r.maxAttempts-attemptsLeft+1) * r.backoffUnit
		}
		r.log.Debug().Err(lastErr).Str("asset", ref.String()).Int("attempt", attempt).Msg("asset resolution attempt failed")
		if attempt == r.maxAttempts {
			break
		}
		if err := r.sleep(ctx, delay); err != nil {
			return "", err
		}
	}
	r.log.Warn().Err(lastErr).Str("asset", ref.String()).Int("attempts", r.maxAttempts).Msg("asset resolution failed")
	return "", fmt.Errorf("%w: %s after %d attempts: %w", ErrResolutionFailed, ref, r.maxAttempts, lastErr)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
