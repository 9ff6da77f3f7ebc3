package store

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrStoreUnavailable is returned by [BreakerStore] while the backend is
// considered down and the retry timeout has not yet elapsed.
var ErrStoreUnavailable = errors.New("store: backend unavailable")

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

func (s breakerState) String() string {
	switch s {
	case breakerClosed:
		return "closed"
	case breakerOpen:
		return "open"
	case breakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig holds tuning knobs for a [BreakerStore].
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failed calls before the
	// backend is considered down. Default: 5.
	MaxFailures int

	// RetryTimeout is how long calls are rejected before a probe call is
	// allowed through again. Default: 30s.
	RetryTimeout time.Duration
}

// BreakerStore wraps a [Store] with a circuit breaker so that a dead
// backend fails editor operations fast instead of stacking up timeouts.
// After MaxFailures consecutive errors every call returns
// [ErrStoreUnavailable] until RetryTimeout elapses; then a single probe
// call is let through and its outcome decides whether the breaker closes
// again. Safe for concurrent use.
type BreakerStore struct {
	inner Store

	maxFailures  int
	retryTimeout time.Duration

	mu          sync.Mutex
	state       breakerState
	failures    int
	lastFailure time.Time
	probing     bool
}

var _ Store = (*BreakerStore)(nil)

// NewBreakerStore wraps inner with a circuit breaker. Zero-value config
// fields are replaced with defaults.
func NewBreakerStore(inner Store, cfg BreakerConfig) *BreakerStore {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.RetryTimeout <= 0 {
		cfg.RetryTimeout = 30 * time.Second
	}
	return &BreakerStore{
		inner:        inner,
		maxFailures:  cfg.MaxFailures,
		retryTimeout: cfg.RetryTimeout,
	}
}

// call runs fn unless the breaker is open. Validation errors from the
// backend count as failures too; the store cannot tell them apart from
// transport errors, and both clear once the backend answers successfully.
func (b *BreakerStore) call(fn func() error) error {
	b.mu.Lock()
	switch b.state {
	case breakerOpen:
		if time.Since(b.lastFailure) < b.retryTimeout {
			b.mu.Unlock()
			return ErrStoreUnavailable
		}
		b.state = breakerHalfOpen
		b.probing = false
		slog.Info("store breaker probing backend")
		fallthrough
	case breakerHalfOpen:
		if b.probing {
			b.mu.Unlock()
			return ErrStoreUnavailable
		}
		b.probing = true
	}
	inProbe := b.state == breakerHalfOpen
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		b.lastFailure = time.Now()
		if inProbe {
			b.state = breakerOpen
			b.failures = b.maxFailures
			slog.Warn("store breaker re-opened after failed probe", "err", err)
			return err
		}
		b.failures++
		if b.failures >= b.maxFailures && b.state == breakerClosed {
			b.state = breakerOpen
			slog.Warn("store breaker opened",
				"consecutive_failures", b.failures)
		}
		return err
	}

	if inProbe {
		slog.Info("store breaker closed after successful probe")
	}
	b.state = breakerClosed
	b.failures = 0
	return nil
}

func (b *BreakerStore) Create(ctx context.Context, tr *Transcript) error {
	return b.call(func() error { return b.inner.Create(ctx, tr) })
}

func (b *BreakerStore) Get(ctx context.Context, id string) (tr *Transcript, err error) {
	err = b.call(func() error {
		tr, err = b.inner.Get(ctx, id)
		return err
	})
	return tr, err
}

func (b *BreakerStore) Update(ctx context.Context, tr *Transcript) error {
	return b.call(func() error { return b.inner.Update(ctx, tr) })
}

func (b *BreakerStore) Delete(ctx context.Context, id string) error {
	return b.call(func() error { return b.inner.Delete(ctx, id) })
}

func (b *BreakerStore) List(ctx context.Context) (sums []Summary, err error) {
	err = b.call(func() error {
		sums, err = b.inner.List(ctx)
		return err
	})
	return sums, err
}
