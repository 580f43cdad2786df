package notify

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"phaseline/internal/db"
	"phaseline/internal/domain"
	"phaseline/internal/events"
	"phaseline/internal/migrate"
	"phaseline/internal/repo"
)

type stubSink struct {
	name      string
	err       error
	delivered []int64
}

func (s *stubSink) Name() string { return s.name }

func (s *stubSink) Deliver(_ context.Context, evt domain.OutboxEvent) error {
	if s.err != nil {
		return s.err
	}
	s.delivered = append(s.delivered, evt.ID)
	return nil
}

func newOutboxDB(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return conn
}

func appendEvent(t *testing.T, conn *sql.DB, evtType string) {
	t.Helper()
	ctx := context.Background()
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin tx: %v", err)
	}
	defer tx.Rollback()
	w := events.Writer{DB: conn}
	if err := w.Append(ctx, tx, evtType, "org-1", "task", "task-1", "ana", events.EventPayload{"n": 1}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func TestDispatchOnceMarksDelivered(t *testing.T) {
	conn := newOutboxDB(t)
	appendEvent(t, conn, "task.completed")
	appendEvent(t, conn, "task.validated")

	sink := &stubSink{name: "test"}
	d := Dispatcher{
		Repo:   repo.Repo{DB: conn},
		Sinks:  []Sink{sink},
		Logger: zap.NewNop(),
	}
	ctx := context.Background()
	d.DispatchOnce(ctx)

	if len(sink.delivered) != 2 {
		t.Fatalf("expected 2 deliveries, got %d", len(sink.delivered))
	}
	pending, err := d.Repo.PendingOutbox(ctx, 10, 5)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected empty outbox, got %d pending", len(pending))
	}
	// delivered events stay readable through the log
	evts, err := d.Repo.LatestEvents(ctx, 10, "org-1", "", "", "")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(evts) != 2 || evts[0].DeliveredAt == nil {
		t.Fatalf("expected delivered events in log, got %+v", evts)
	}
}

func TestDispatchOnceRetainsFailures(t *testing.T) {
	conn := newOutboxDB(t)
	appendEvent(t, conn, "task.completed")

	bad := &stubSink{name: "bad", err: errors.New("boom")}
	good := &stubSink{name: "good"}
	d := Dispatcher{
		Repo:   repo.Repo{DB: conn},
		Sinks:  []Sink{bad, good},
		Logger: zap.NewNop(),
	}
	ctx := context.Background()
	d.DispatchOnce(ctx)

	// one sink failing keeps the event pending for everyone
	pending, err := d.Repo.PendingOutbox(ctx, 10, 5)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending, got %d", len(pending))
	}
	evt := pending[0]
	if evt.Attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", evt.Attempts)
	}
	if !strings.Contains(evt.LastError, "bad: boom") {
		t.Fatalf("expected sink failure recorded, got %q", evt.LastError)
	}

	// once the sink recovers the retry succeeds
	bad.err = nil
	d.DispatchOnce(ctx)
	pending, err = d.Repo.PendingOutbox(ctx, 10, 5)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected drained outbox, got %d pending", len(pending))
	}
}

func TestDispatchOnceStopsAtMaxAttempts(t *testing.T) {
	conn := newOutboxDB(t)
	appendEvent(t, conn, "task.completed")

	sink := &stubSink{name: "down", err: errors.New("unreachable")}
	d := Dispatcher{
		Repo:        repo.Repo{DB: conn},
		Sinks:       []Sink{sink},
		Logger:      zap.NewNop(),
		MaxAttempts: 2,
	}
	ctx := context.Background()
	d.DispatchOnce(ctx)
	d.DispatchOnce(ctx)
	// exhausted events fall out of the pending scan
	d.DispatchOnce(ctx)

	pending, err := d.Repo.PendingOutbox(ctx, 10, 2)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected exhausted event excluded, got %d", len(pending))
	}
	evts, err := d.Repo.LatestEvents(ctx, 10, "", "", "", "")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(evts) != 1 || evts[0].Attempts != 2 || evts[0].DeliveredAt != nil {
		t.Fatalf("expected undelivered event with 2 attempts, got %+v", evts)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	conn := newOutboxDB(t)
	d := Dispatcher{
		Repo:     repo.Repo{DB: conn},
		Sinks:    []Sink{&stubSink{name: "test"}},
		Logger:   zap.NewNop(),
		Interval: 10 * time.Millisecond,
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("dispatcher did not stop on cancel")
	}
}
