// Package lock guarantees that at most one execution of a named job runs at a
// time across every worker sharing the same store.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var ErrAlreadyRunning = errors.New("job is already running")

// ErrHeldBySameOwner is ErrAlreadyRunning when the live lease belongs to the
// caller's own owner id, e.g. a redelivered message whose first delivery is
// still running.
var ErrHeldBySameOwner = fmt.Errorf("%w under the same owner", ErrAlreadyRunning)

const DefaultTTL = 30 * time.Minute

// Store keeps active job leases. Uniqueness is keyed on jobName only; ownerID
// is recorded for diagnostics.
type Store interface {
	Acquire(ctx context.Context, jobName, ownerID, token string, ttl time.Duration) (bool, error)
	Refresh(ctx context.Context, jobName, token string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, jobName, token string) error
	Owner(ctx context.Context, jobName string) (string, bool, error)
}

// Operation is the guarded work. Its context is canceled if the lease is lost.
type Operation func(ctx context.Context) (bool, error)

type Guard struct {
	store      Store
	ttl        time.Duration
	logger     *zerolog.Logger
	onConflict func(jobName string)
}

type Option func(*Guard)

// WithConflictHook registers a callback invoked whenever a job is rejected as already running.
func WithConflictHook(hook func(jobName string)) Option {
	return func(g *Guard) {
		g.onConflict = hook
	}
}

func NewGuard(store Store, ttl time.Duration, logger *zerolog.Logger, opts ...Option) *Guard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	g := &Guard{store: store, ttl: ttl, logger: logger}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// RunUnique runs op unless another execution of jobName holds the lease, in
// which case it returns ErrAlreadyRunning without running op. The lease is
// released on every exit path, panics included.
func (g *Guard) RunUnique(ctx context.Context, ownerID, jobName string, op Operation) (bool, error) {
	token := ownerID + ":" + uuid.NewString()

	acquired, err := g.store.Acquire(ctx, jobName, ownerID, token, g.ttl)
	if err != nil {
		return false, fmt.Errorf("acquire %s: %w", jobName, err)
	}
	if !acquired {
		holder, _, _ := g.store.Owner(ctx, jobName)
		g.logger.Info().Str("job", jobName).Str("owner", ownerID).Str("holder", holder).Msg("Job is already running")
		if g.onConflict != nil {
			g.onConflict(jobName)
		}
		if holder == ownerID {
			return false, ErrHeldBySameOwner
		}
		return false, ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	defer func() {
		close(done)
		cancel()
		releaseCtx, releaseCancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer releaseCancel()
		if err := g.store.Release(releaseCtx, jobName, token); err != nil {
			g.logger.Error().Err(err).Str("job", jobName).Msg("Failed to release job lock")
		}
	}()

	go g.keepAlive(runCtx, cancel, done, jobName, token)

	return op(runCtx)
}

func (g *Guard) keepAlive(ctx context.Context, cancel context.CancelFunc, done <-chan struct{}, jobName, token string) {
	ticker := time.NewTicker(g.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok, err := g.store.Refresh(ctx, jobName, token, g.ttl)
			if err != nil {
				g.logger.Warn().Err(err).Str("job", jobName).Msg("Failed to refresh job lock")
				continue
			}
			if !ok {
				g.logger.Error().Str("job", jobName).Msg("Job lock lost, canceling job")
				cancel()
				return
			}
		}
	}
}

// Running reports whether jobName currently holds a live lease.
func (g *Guard) Running(ctx context.Context, jobName string) (bool, error) {
	_, held, err := g.store.Owner(ctx, jobName)
	return held, err
}
