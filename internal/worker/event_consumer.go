package worker

import (
	"context"
	"encoding/json"

	"github.com/jwalitptl/dispatch-api/internal/model"
	"github.com/jwalitptl/dispatch-api/internal/service/outcome"
	"github.com/jwalitptl/dispatch-api/pkg/logger"
	"github.com/jwalitptl/dispatch-api/pkg/messaging"
)

// EventConsumer subscribes to the lifecycle channel and feeds every event to
// the outcome recorder. Recording is idempotent, so a redelivered or
// replayed event is harmless; a recording error is logged and the stream
// keeps moving.
type EventConsumer struct {
	broker   messaging.Broker
	recorder outcome.Service
	channel  string
	logger   *logger.Logger
}

func NewEventConsumer(broker messaging.Broker, recorder outcome.Service, channel string, log *logger.Logger) *EventConsumer {
	return &EventConsumer{
		broker:   broker,
		recorder: recorder,
		channel:  channel,
		logger:   log,
	}
}

// Start blocks until ctx is cancelled or the subscription closes.
func (c *EventConsumer) Start(ctx context.Context) error {
	messages, err := c.broker.Subscribe(ctx, c.channel)
	if err != nil {
		return err
	}
	c.logger.Info("event consumer started", "channel", c.channel)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("event consumer stopping")
			return ctx.Err()
		case body, ok := <-messages:
			if !ok {
				c.logger.Info("lifecycle channel closed")
				return nil
			}
			c.handle(ctx, body)
		}
	}
}

func (c *EventConsumer) handle(ctx context.Context, body []byte) {
	var event model.LifecycleEvent
	if err := json.Unmarshal(body, &event); err != nil {
		c.logger.Error(err, "dropping malformed lifecycle event")
		return
	}

	if err := c.recorder.Record(ctx, &event); err != nil {
		c.logger.Error(err, "failed to record lifecycle event",
			"call_id", event.CallID, "event_type", string(event.EventType))
	}
}
