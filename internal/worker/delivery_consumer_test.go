package worker

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/dispatch-api/internal/model"
	"github.com/jwalitptl/dispatch-api/pkg/logger"
)

type scriptedQueue struct {
	messages [][]byte
	errs     []error
}

func (q *scriptedQueue) Publish(context.Context, string, []byte) error { return nil }

func (q *scriptedQueue) Consume(ctx context.Context, _ string, handler func([]byte) error) error {
	for _, msg := range q.messages {
		q.errs = append(q.errs, handler(msg))
	}
	return nil
}

func (q *scriptedQueue) Close() error { return nil }

type capturingBroker struct {
	events []model.LifecycleEvent
}

func (b *capturingBroker) Publish(_ context.Context, _ string, message interface{}) error {
	if evt, ok := message.(*model.LifecycleEvent); ok {
		b.events = append(b.events, *evt)
	}
	return nil
}
func (b *capturingBroker) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, nil
}
func (b *capturingBroker) Close() error { return nil }

type scriptedDelivery struct {
	outcome     *model.DeliveryOutcome
	err         error
	sentChannel model.Channel
	calls       int
}

func (d *scriptedDelivery) Send(_ context.Context, _ *model.EnrichedDispatchTask, channel model.Channel) (*model.DeliveryOutcome, error) {
	d.calls++
	d.sentChannel = channel
	if d.err != nil {
		return nil, d.err
	}
	return d.outcome, nil
}

type recordingEscalator struct {
	requests []*model.FallbackRequest
	reasons  []string
}

func (e *recordingEscalator) Escalate(_ context.Context, req *model.FallbackRequest, reason string) (*model.FallbackResult, error) {
	e.requests = append(e.requests, req)
	e.reasons = append(e.reasons, reason)
	return &model.FallbackResult{Outcome: model.FallbackDelivered, CallID: "fb-call-1"}, nil
}

func consumerLogger() *logger.Logger {
	return logger.NewLogger(&logger.Config{Level: logger.ErrorLevel, Output: os.Stderr})
}

func taskBody(t *testing.T, campaignType model.CampaignType) []byte {
	t.Helper()
	campaign := &model.Campaign{
		Name:     "run",
		Type:     campaignType,
		Status:   model.CampaignStatusActive,
		Timezone: "UTC",
		Config: model.CampaignConfig{
			MaxAttempts:  3,
			SMSTemplate:  "hi {{name}}",
			AudioFileURL: "https://cdn.example.com/a.mp3",
			Language:     "de",
		},
	}
	campaign.ID = uuid.New()
	contact := &model.Contact{PhoneNumber: "+4915712345678", Status: model.ContactStatusPending}
	contact.ID = uuid.New()

	body, err := json.Marshal(model.NewEnrichedTask(campaign, contact, time.Now()))
	require.NoError(t, err)
	return body
}

func newConsumer(queue *scriptedQueue, broker *capturingBroker, del *scriptedDelivery, esc *recordingEscalator) *DeliveryConsumer {
	return NewDeliveryConsumer(queue, broker, del, esc, DeliveryConsumerConfig{
		QueueName:        "tasks",
		LifecycleChannel: "lifecycle_events",
	}, consumerLogger(), nil)
}

func TestConsumerSMSDeliveredPublishesLifecycle(t *testing.T) {
	queue := &scriptedQueue{messages: [][]byte{taskBody(t, model.CampaignTypeSMS)}}
	broker := &capturingBroker{}
	del := &scriptedDelivery{outcome: &model.DeliveryOutcome{
		Channel:           model.ChannelSMS,
		Status:            model.DeliveryStatusSent,
		ProviderMessageID: "prov-1",
		Cost:              0.04,
		SentAt:            time.Now(),
	}}
	esc := &recordingEscalator{}

	require.NoError(t, newConsumer(queue, broker, del, esc).Start(context.Background()))

	assert.Equal(t, model.ChannelSMS, del.sentChannel)
	require.Len(t, broker.events, 2)
	assert.Equal(t, model.EventInitiated, broker.events[0].EventType)
	assert.Equal(t, model.EventEnded, broker.events[1].EventType)
	assert.Equal(t, "delivered", broker.events[1].Outcome)
	assert.Equal(t, 0.04, broker.events[1].Cost)
	assert.Equal(t, "prov-1", broker.events[0].CallID)
	assert.Empty(t, esc.requests)
}

func TestConsumerVoiceCampaignUsesVoiceChannel(t *testing.T) {
	queue := &scriptedQueue{messages: [][]byte{taskBody(t, model.CampaignTypeVoice)}}
	broker := &capturingBroker{}
	del := &scriptedDelivery{outcome: &model.DeliveryOutcome{
		Channel:           model.ChannelVoice,
		Status:            model.DeliveryStatusInitiated,
		ProviderMessageID: "call-1",
		SentAt:            time.Now(),
	}}

	require.NoError(t, newConsumer(queue, broker, del, &recordingEscalator{}).Start(context.Background()))

	assert.Equal(t, model.ChannelVoice, del.sentChannel)
	require.Len(t, broker.events, 1)
	assert.Equal(t, model.EventInitiated, broker.events[0].EventType)
	assert.Equal(t, "call-1", broker.events[0].CallID)
}

func TestConsumerHybridFailureEscalates(t *testing.T) {
	queue := &scriptedQueue{messages: [][]byte{taskBody(t, model.CampaignTypeHybrid)}}
	broker := &capturingBroker{}
	del := &scriptedDelivery{outcome: &model.DeliveryOutcome{
		Channel:          model.ChannelSMS,
		Status:           model.DeliveryStatusFailed,
		RequiresFallback: true,
		FailureReason:    "landline detected",
		RenderedText:     "hi Ada",
		SentAt:           time.Now(),
	}}
	esc := &recordingEscalator{}

	require.NoError(t, newConsumer(queue, broker, del, esc).Start(context.Background()))

	require.Len(t, esc.requests, 1)
	assert.Equal(t, "hi Ada", esc.requests[0].Text)
	assert.Equal(t, "de", esc.requests[0].Language)
	assert.Equal(t, "landline detected", esc.reasons[0])

	// Failed SMS events plus the escalation call initiation
	var types []model.EventType
	for _, evt := range broker.events {
		types = append(types, evt.EventType)
	}
	assert.Equal(t, []model.EventType{model.EventInitiated, model.EventEnded, model.EventInitiated}, types)
	assert.Equal(t, "fb-call-1", broker.events[2].CallID)
	assert.Equal(t, model.ChannelVoice, broker.events[2].Channel)
}

func TestConsumerSMSCampaignLandlineEscalates(t *testing.T) {
	queue := &scriptedQueue{messages: [][]byte{taskBody(t, model.CampaignTypeSMS)}}
	del := &scriptedDelivery{outcome: &model.DeliveryOutcome{
		Channel:          model.ChannelSMS,
		Status:           model.DeliveryStatusFailed,
		RequiresFallback: true,
		FailureReason:    "landline detected",
		RenderedText:     "hi Ada",
		SentAt:           time.Now(),
	}}
	esc := &recordingEscalator{}

	require.NoError(t, newConsumer(queue, &capturingBroker{}, del, esc).Start(context.Background()))

	// Escalation depends on the failure classification alone, not on the
	// campaign being hybrid.
	require.Len(t, esc.requests, 1)
	assert.Equal(t, "hi Ada", esc.requests[0].Text)
	assert.Equal(t, "landline detected", esc.reasons[0])
}

func TestConsumerMalformedTaskDropped(t *testing.T) {
	queue := &scriptedQueue{messages: [][]byte{[]byte("not json")}}
	del := &scriptedDelivery{}

	require.NoError(t, newConsumer(queue, &capturingBroker{}, del, &recordingEscalator{}).Start(context.Background()))

	// Dropped, not requeued, and never delivered
	require.Len(t, queue.errs, 1)
	assert.NoError(t, queue.errs[0])
	assert.Equal(t, 0, del.calls)
}

func TestConsumerDeliveryErrorRequeues(t *testing.T) {
	queue := &scriptedQueue{messages: [][]byte{taskBody(t, model.CampaignTypeSMS)}}
	del := &scriptedDelivery{err: errors.New("transport exploded")}

	require.NoError(t, newConsumer(queue, &capturingBroker{}, del, &recordingEscalator{}).Start(context.Background()))

	require.Len(t, queue.errs, 1)
	assert.Error(t, queue.errs[0])
}
