package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"phaseline/internal/config"
	"phaseline/internal/domain"
)

// Sink delivers one event to an external channel. Implementations must be
// independent: one sink failing never blocks another.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, evt domain.OutboxEvent) error
}

// LogSink writes events to the structured log. Default sink; also useful as a
// stand-in for chat adapters in development.
type LogSink struct {
	Logger *zap.Logger
}

func (s LogSink) Name() string { return "log" }

func (s LogSink) Deliver(_ context.Context, evt domain.OutboxEvent) error {
	s.Logger.Info("event",
		zap.Int64("id", evt.ID),
		zap.String("type", evt.Type),
		zap.String("org_id", evt.OrgID),
		zap.String("entity_kind", evt.EntityKind),
		zap.String("entity_id", evt.EntityID),
		zap.String("actor_id", evt.ActorID),
	)
	return nil
}

// WebhookSink posts the event as JSON to a fixed URL.
type WebhookSink struct {
	SinkName string
	URL      string
	Client   *http.Client
}

func (s WebhookSink) Name() string { return s.SinkName }

func (s WebhookSink) Deliver(ctx context.Context, evt domain.OutboxEvent) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	client := s.Client
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook %s returned %d", s.SinkName, resp.StatusCode)
	}
	return nil
}

// SinksFromConfig builds sinks from the org config.
func SinksFromConfig(cfg *config.Config, logger *zap.Logger) []Sink {
	var sinks []Sink
	for _, sc := range cfg.Sinks {
		switch sc.Kind {
		case "webhook":
			sinks = append(sinks, WebhookSink{SinkName: sc.Name, URL: sc.URL})
		case "log":
			sinks = append(sinks, LogSink{Logger: logger})
		}
	}
	return sinks
}
