package presence

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/flockchat/users-api/internal/store"
)

// ErrUnknownUser is returned by Touch when the user does not exist. A
// request that authenticated against a user the store cannot find is an
// internal inconsistency, not a client error.
var ErrUnknownUser = errors.New("unknown user")

// Store is the slice of persistence the engine needs. Both operations
// must be atomic with respect to each other.
type Store interface {
	Touch(ctx context.Context, id int64, now int64) error
	DemoteStale(ctx context.Context, cutoff, now int64) (int64, error)
}

// Engine derives each user's online flag from their request activity.
// Touch promotes on every authenticated request; Sweep demotes everyone
// whose last activity is older than the offline timeout. A user's flag
// is therefore stale by at most one sweep interval.
type Engine struct {
	store   Store
	timeout time.Duration
	now     func() int64
}

func NewEngine(store Store, offlineTimeout time.Duration) *Engine {
	return &Engine{
		store:   store,
		timeout: offlineTimeout,
		now:     func() int64 { return time.Now().Unix() },
	}
}

// Touch marks userID online and records the current time as its last
// activity.
func (e *Engine) Touch(ctx context.Context, userID int64) error {
	if err := e.store.Touch(ctx, userID, e.now()); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrUnknownUser
		}
		return err
	}
	return nil
}

// Sweep demotes every online user whose last activity predates the
// offline timeout. It returns the number of users demoted.
func (e *Engine) Sweep(ctx context.Context) (int64, error) {
	now := e.now()
	cutoff := now - int64(e.timeout/time.Second)
	return e.store.DemoteStale(ctx, cutoff, now)
}

// Sweeper runs the engine's Sweep on a fixed period. Sweep failures are
// logged and the next tick proceeds as usual; only context cancellation
// stops the loop.
type Sweeper struct {
	engine   *Engine
	interval time.Duration
	log      *zap.Logger
}

func NewSweeper(engine *Engine, interval time.Duration, log *zap.Logger) *Sweeper {
	return &Sweeper{engine: engine, interval: interval, log: log}
}

// Run sweeps once immediately and then once per interval until ctx is
// canceled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.sweep(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	demoted, err := s.engine.Sweep(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.log.Error("presence sweep failed", zap.Error(err))
		}
		return
	}
	if demoted > 0 {
		s.log.Info("marked stale users offline", zap.Int64("count", demoted))
	}
}
