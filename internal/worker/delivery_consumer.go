package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jwalitptl/dispatch-api/internal/model"
	"github.com/jwalitptl/dispatch-api/internal/service/delivery"
	"github.com/jwalitptl/dispatch-api/internal/service/fallback"
	"github.com/jwalitptl/dispatch-api/pkg/logger"
	"github.com/jwalitptl/dispatch-api/pkg/messaging"
	"github.com/jwalitptl/dispatch-api/pkg/metrics"
)

// DeliveryConsumer drains the dispatch task queue: each task is sent through
// its campaign's channel, the result is published as lifecycle events, and
// SMS failures that a voice call can work around are escalated. A handler
// error nacks the message back to the queue, so everything downstream of the
// unmarshal must tolerate redelivery.
type DeliveryConsumer struct {
	queue     messaging.TaskQueue
	broker    messaging.Broker
	delivery  delivery.Service
	escalator fallback.Service

	queueName        string
	lifecycleChannel string

	logger  *logger.Logger
	metrics *metrics.Metrics
}

type DeliveryConsumerConfig struct {
	QueueName        string
	LifecycleChannel string
}

func NewDeliveryConsumer(
	queue messaging.TaskQueue,
	broker messaging.Broker,
	del delivery.Service,
	escalator fallback.Service,
	cfg DeliveryConsumerConfig,
	log *logger.Logger,
	m *metrics.Metrics,
) *DeliveryConsumer {
	return &DeliveryConsumer{
		queue:            queue,
		broker:           broker,
		delivery:         del,
		escalator:        escalator,
		queueName:        cfg.QueueName,
		lifecycleChannel: cfg.LifecycleChannel,
		logger:           log,
		metrics:          m,
	}
}

// Start blocks consuming the queue until ctx is cancelled.
func (c *DeliveryConsumer) Start(ctx context.Context) error {
	c.logger.Info("delivery consumer started", "queue", c.queueName)
	return c.queue.Consume(ctx, c.queueName, func(body []byte) error {
		return c.handle(ctx, body)
	})
}

func (c *DeliveryConsumer) handle(ctx context.Context, body []byte) error {
	var task model.EnrichedDispatchTask
	if err := json.Unmarshal(body, &task); err != nil {
		// A malformed payload never becomes valid; drop instead of requeue.
		c.logger.Error(err, "dropping malformed dispatch task")
		return nil
	}

	log := c.logger.WithFields(map[string]interface{}{
		"task_id":     task.TaskID.String(),
		"campaign_id": task.CampaignID.String(),
		"contact_id":  task.ContactID.String(),
	})

	channel := primaryChannel(task.Campaign.Type)
	outcome, err := c.delivery.Send(ctx, &task, channel)
	if err != nil {
		log.Error(err, "delivery attempt failed, requeueing")
		return err
	}

	c.publishOutcomeEvents(ctx, &task, outcome)

	if outcome.RequiresFallback {
		c.escalate(ctx, &task, outcome, log)
	}
	return nil
}

// primaryChannel picks the first channel to try: voice campaigns go straight
// to voice, sms and hybrid start with SMS.
func primaryChannel(t model.CampaignType) model.Channel {
	if t == model.CampaignTypeVoice {
		return model.ChannelVoice
	}
	return model.ChannelSMS
}

// publishOutcomeEvents emits the synthetic lifecycle stream for synchronous
// SMS outcomes. Voice attempts emit only the initiation event here; the
// telephony collaborator publishes the rest.
func (c *DeliveryConsumer) publishOutcomeEvents(ctx context.Context, task *model.EnrichedDispatchTask, outcome *model.DeliveryOutcome) {
	attemptID := outcome.ProviderMessageID
	if attemptID == "" {
		attemptID = task.TaskID.String()
	}

	base := model.LifecycleEvent{
		CallID:      attemptID,
		CampaignID:  task.CampaignID,
		ContactID:   task.ContactID,
		PhoneNumber: task.PhoneNumber,
		Channel:     outcome.Channel,
		Timestamp:   outcome.SentAt,
	}

	events := []model.LifecycleEvent{}
	switch outcome.Status {
	case model.DeliveryStatusSent:
		initiated := base
		initiated.EventType = model.EventInitiated
		ended := base
		ended.EventType = model.EventEnded
		ended.Outcome = "delivered"
		ended.Cost = outcome.Cost
		events = append(events, initiated, ended)
	case model.DeliveryStatusFailed:
		initiated := base
		initiated.EventType = model.EventInitiated
		ended := base
		ended.EventType = model.EventEnded
		ended.Outcome = "failed"
		events = append(events, initiated, ended)
	case model.DeliveryStatusInitiated:
		initiated := base
		initiated.EventType = model.EventInitiated
		events = append(events, initiated)
	}

	for i := range events {
		if err := c.broker.Publish(ctx, c.lifecycleChannel, &events[i]); err != nil {
			c.logger.WarnErr(err, "failed to publish lifecycle event",
				"call_id", attemptID, "event_type", string(events[i].EventType))
		}
	}
}

func (c *DeliveryConsumer) escalate(ctx context.Context, task *model.EnrichedDispatchTask, outcome *model.DeliveryOutcome, log *logger.Logger) {
	messageID := outcome.ProviderMessageID
	if messageID == "" {
		messageID = task.TaskID.String()
	}

	req := &model.FallbackRequest{
		CampaignID:  task.CampaignID,
		ContactID:   task.ContactID,
		MessageID:   messageID,
		PhoneNumber: task.PhoneNumber,
		Text:        outcome.RenderedText,
		Language:    task.Campaign.Config.Language,
	}

	result, err := c.escalator.Escalate(ctx, req, outcome.FailureReason)
	if err != nil {
		log.Error(err, "escalation failed", "reason", outcome.FailureReason)
		return
	}
	if result.Duplicate {
		log.Debug("escalation already handled", "call_id", result.CallID)
		return
	}

	log.Info("escalated to voice",
		"call_id", result.CallID,
		"outcome", string(result.Outcome),
		"reason", outcome.FailureReason)

	if result.Outcome == model.FallbackDelivered && result.CallID != "" {
		event := model.LifecycleEvent{
			CallID:      result.CallID,
			CampaignID:  task.CampaignID,
			ContactID:   task.ContactID,
			PhoneNumber: task.PhoneNumber,
			Channel:     model.ChannelVoice,
			EventType:   model.EventInitiated,
			Timestamp:   time.Now(),
		}
		if err := c.broker.Publish(ctx, c.lifecycleChannel, &event); err != nil {
			c.logger.WarnErr(err, "failed to publish escalation event", "call_id", result.CallID)
		}
	}
}
