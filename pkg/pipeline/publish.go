package pipeline

import (
	"context"
	"log/slog"

	"github.com/dukex/contentflow/pkg/eventbus"
	"github.com/google/uuid"
)

type runEvent interface {
	eventbus.Event
	GetRunID() string
}

// Publish sends event keyed by its run id. Delivery failures are logged;
// events never decide the outcome of a run.
func Publish(ctx context.Context, publisher eventbus.EventPublisher, logger *slog.Logger, event eventbus.Event) {
	if publisher == nil {
		return
	}

	key := ""
	if withRun, ok := event.(runEvent); ok {
		key = withRun.GetRunID()
	}

	err := publisher.Publish(ctx, key, event)
	if err != nil {
		logger.WarnContext(ctx, "Failed to publish event", "event_type", event.GetType(), "run_id", key, "error", err)
	}
}

// NewEventID returns a time-ordered event identifier.
func NewEventID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}

	return id.String()
}
