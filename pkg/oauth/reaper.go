package oauth

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/flowmcp/flowmcp/pkg/core"
)

// DefaultReapInterval is how often the reaper sweeps when no interval is
// configured.
const DefaultReapInterval = 5 * time.Minute

// Reaper periodically deletes expired authorization codes and access tokens
// from the store. Reads already treat expired rows as absent, so the reaper
// exists purely to bound storage growth; a sweep failure is logged and the
// next tick retries.
type Reaper struct {
	store    core.Store
	interval time.Duration

	startOnce sync.Once
	stopOnce  sync.Once
	started   bool
	stop      chan struct{}
	done      chan struct{}

	now func() time.Time
}

// NewReaper creates a reaper over the given store. A non-positive interval
// falls back to DefaultReapInterval.
func NewReaper(s core.Store, interval time.Duration) *Reaper {
	if interval <= 0 {
		interval = DefaultReapInterval
	}
	return &Reaper{
		store:    s,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		now:      time.Now,
	}
}

// Start launches the background sweep loop. Calling Start more than once is
// a no-op.
func (r *Reaper) Start() {
	r.startOnce.Do(func() {
		r.started = true
		go r.run()
	})
}

// Stop terminates the sweep loop and waits for an in-flight sweep to finish.
// Safe to call multiple times, and safe to call without Start.
func (r *Reaper) Stop() {
	r.stopOnce.Do(func() {
		close(r.stop)
	})
	if r.started {
		<-r.done
	}
}

func (r *Reaper) run() {
	defer close(r.done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.RunOnce(context.Background())
		case <-r.stop:
			return
		}
	}
}

// RunOnce performs a single sweep of both tables. Errors are logged, never
// propagated.
func (r *Reaper) RunOnce(ctx context.Context) {
	now := r.now()

	codes, err := r.store.DeleteExpiredCodes(ctx, now)
	if err != nil {
		slog.Error("Failed to reap expired authorization codes", "error", err)
	}

	tokens, err := r.store.DeleteExpiredTokens(ctx, now)
	if err != nil {
		slog.Error("Failed to reap expired access tokens", "error", err)
	}

	if codes > 0 || tokens > 0 {
		slog.Debug("Reaped expired records", "codes", codes, "tokens", tokens)
	}
}
