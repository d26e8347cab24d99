package feed

import (
	"context"
	"log/slog"
	"time"

	"papertrade/internal/domain"
)

// Adapter speaks one exchange's wire protocol for the lifetime of a
// single connection, converting raw messages into canonical ticks in
// receipt order. Run returns when the connection drops or ctx is
// cancelled; reconnecting is the Runner's job. Adapters must call emit
// from Run's goroutine so per-exchange ordering is preserved.
type Adapter interface {
	Name() string
	Run(ctx context.Context, emit func(domain.Tick)) error
}

// Runner drives one adapter through connect/reconnect cycles with
// exponential backoff. The first tick after a reconnect is marked
// stale so consumers know the stream may have gapped; a session that
// delivered at least one tick resets the backoff.
type Runner struct {
	adapter Adapter
	publish func(domain.Tick)
	base    time.Duration
	max     time.Duration
	logger  *slog.Logger
}

// NewRunner wires an adapter to a publish function, typically Bus.Publish.
func NewRunner(adapter Adapter, publish func(domain.Tick), base, max time.Duration) *Runner {
	return &Runner{
		adapter: adapter,
		publish: publish,
		base:    base,
		max:     max,
		logger:  slog.Default().With(slog.String("exchange", adapter.Name())),
	}
}

// Run blocks until ctx is cancelled, reconnecting after every session
// ends. Adapter failures never propagate: they are logged and retried.
func (r *Runner) Run(ctx context.Context) {
	delay := r.base
	reconnected := false

	for {
		gap := reconnected
		delivered := 0
		err := r.adapter.Run(ctx, func(tick domain.Tick) {
			if gap {
				tick.Stale = true
				gap = false
			}
			delivered++
			r.publish(tick)
		})
		if ctx.Err() != nil {
			return
		}

		reconnected = true
		if delivered > 0 {
			delay = r.base
		}

		reason := "connection closed"
		if err != nil {
			reason = err.Error()
		}
		r.logger.Warn("feed disconnected",
			slog.String("reason", reason),
			slog.Int("ticks_delivered", delivered),
			slog.Duration("retry_in", delay),
		)

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		delay *= 2
		if delay > r.max {
			delay = r.max
		}
	}
}
