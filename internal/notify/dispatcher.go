package notify

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"phaseline/internal/repo"
)

const (
	defaultInterval    = 2 * time.Second
	defaultBatch       = 100
	defaultMaxAttempts = 5
)

// Dispatcher drains the outbox and delivers each event, best effort with
// retry. Engine transitions commit their events transactionally and never
// wait for delivery.
type Dispatcher struct {
	Repo        repo.Repo
	Sinks       []Sink
	Logger      *zap.Logger
	Interval    time.Duration
	Batch       int
	MaxAttempts int
	Now         func() time.Time
}

func (d *Dispatcher) interval() time.Duration {
	if d.Interval > 0 {
		return d.Interval
	}
	return defaultInterval
}

func (d *Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// Run polls until the context is canceled.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval())
	defer ticker.Stop()
	for {
		d.DispatchOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// DispatchOnce processes one batch of pending events. Exported so tests and
// the CLI can drain synchronously.
func (d *Dispatcher) DispatchOnce(ctx context.Context) {
	batch := d.Batch
	if batch <= 0 {
		batch = defaultBatch
	}
	maxAttempts := d.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	pending, err := d.Repo.PendingOutbox(ctx, batch, maxAttempts)
	if err != nil {
		d.Logger.Warn("outbox read failed", zap.Error(err))
		return
	}
	for _, evt := range pending {
		var failures []string
		for _, sink := range d.Sinks {
			if err := sink.Deliver(ctx, evt); err != nil {
				// Sink failure is non-fatal: logged, retried next pass.
				d.Logger.Warn("sink delivery failed",
					zap.String("sink", sink.Name()),
					zap.Int64("event_id", evt.ID),
					zap.Error(err))
				failures = append(failures, sink.Name()+": "+err.Error())
			}
		}
		if len(failures) > 0 {
			if err := d.Repo.MarkOutboxFailed(ctx, evt.ID, strings.Join(failures, "; ")); err != nil {
				d.Logger.Warn("outbox mark failed", zap.Int64("event_id", evt.ID), zap.Error(err))
			}
			continue
		}
		ts := d.now().UTC().Format(time.RFC3339)
		if err := d.Repo.MarkOutboxDelivered(ctx, evt.ID, ts); err != nil {
			d.Logger.Warn("outbox mark delivered failed", zap.Int64("event_id", evt.ID), zap.Error(err))
		}
	}
}
