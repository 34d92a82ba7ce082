package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jwalitptl/dispatch-api/internal/model"
	"github.com/jwalitptl/dispatch-api/internal/telephony"
	"github.com/jwalitptl/dispatch-api/pkg/logger"
	"github.com/jwalitptl/dispatch-api/pkg/metrics"
)

// fallbackSignatures are the provider failure classes where a voice call can
// still reach the destination an SMS cannot.
var fallbackSignatures = []string{
	"landline",
	"invalid destination",
	"destination invalid",
	"unsupported",
}

// Service sends one task through one channel and classifies the result.
// SMS is synchronous; voice is fire-and-forget with the terminal status
// arriving later through lifecycle events.
type Service interface {
	Send(ctx context.Context, task *model.EnrichedDispatchTask, channel model.Channel) (*model.DeliveryOutcome, error)
}

type service struct {
	sms       SMSTransport
	telephony telephony.Client
	logger    *logger.Logger
	metrics   *metrics.Metrics
}

func NewService(sms SMSTransport, tel telephony.Client, log *logger.Logger, m *metrics.Metrics) Service {
	return &service{
		sms:       sms,
		telephony: tel,
		logger:    log,
		metrics:   m,
	}
}

func (s *service) Send(ctx context.Context, task *model.EnrichedDispatchTask, channel model.Channel) (*model.DeliveryOutcome, error) {
	var timer *prometheus.Timer
	if s.metrics != nil {
		timer = prometheus.NewTimer(s.metrics.DeliveryLatency.WithLabelValues(string(channel)))
		defer timer.ObserveDuration()
	}

	var outcome *model.DeliveryOutcome
	var err error
	switch channel {
	case model.ChannelSMS:
		outcome, err = s.sendSMS(ctx, task)
	case model.ChannelVoice:
		outcome, err = s.sendVoice(ctx, task)
	default:
		return nil, fmt.Errorf("unsupported channel: %s", channel)
	}
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.DeliveryOutcomes.WithLabelValues(string(channel), string(outcome.Status)).Inc()
		if outcome.RequiresFallback {
			s.metrics.FallbacksRequired.Inc()
		}
	}
	return outcome, nil
}

func (s *service) sendSMS(ctx context.Context, task *model.EnrichedDispatchTask) (*model.DeliveryOutcome, error) {
	text, unresolved := RenderTemplate(task.Campaign.Config.SMSTemplate, task.Metadata)
	for _, name := range unresolved {
		s.logger.Warn("unresolved template placeholder",
			"placeholder", name, "contact_id", task.ContactID.String())
	}

	outcome := &model.DeliveryOutcome{
		Channel:      model.ChannelSMS,
		RenderedText: text,
		SentAt:       time.Now(),
	}

	receipt, err := s.sms.Send(ctx, task.PhoneNumber, text)
	if err == nil {
		outcome.Status = model.DeliveryStatusSent
		outcome.ProviderMessageID = receipt.MessageID
		outcome.Cost = receipt.Cost
		return outcome, nil
	}

	outcome.Status = model.DeliveryStatusFailed
	outcome.FailureReason = err.Error()

	var provErr *ProviderError
	if errors.As(err, &provErr) {
		// Known provider rejection: escalate only the signatures a voice
		// call can work around.
		outcome.RequiresFallback = matchesFallbackSignature(provErr)
	} else {
		// Unexpected transport error: fail open toward reachability and let
		// the escalator try the voice channel.
		outcome.RequiresFallback = true
	}

	s.logger.Info("sms delivery failed",
		"contact_id", task.ContactID.String(),
		"reason", outcome.FailureReason,
		"requires_fallback", outcome.RequiresFallback)
	return outcome, nil
}

// sendVoice commands the telephony collaborator and returns immediately.
// The outcome recorder picks up the terminal status from lifecycle events.
func (s *service) sendVoice(ctx context.Context, task *model.EnrichedDispatchTask) (*model.DeliveryOutcome, error) {
	callID := uuid.New().String()
	cmd := telephony.CallCommand{
		CallID:       callID,
		PhoneNumber:  task.PhoneNumber,
		AudioFileURL: task.Campaign.Config.AudioFileURL,
		Metadata: map[string]interface{}{
			"campaignId": task.CampaignID.String(),
			"contactId":  task.ContactID.String(),
			"attempts":   task.Attempts,
		},
	}

	if err := s.telephony.PlaceCall(ctx, cmd); err != nil {
		return &model.DeliveryOutcome{
			Channel:       model.ChannelVoice,
			Status:        model.DeliveryStatusFailed,
			FailureReason: err.Error(),
			SentAt:        time.Now(),
		}, nil
	}

	return &model.DeliveryOutcome{
		Channel:           model.ChannelVoice,
		Status:            model.DeliveryStatusInitiated,
		ProviderMessageID: callID,
		SentAt:            time.Now(),
	}, nil
}

func matchesFallbackSignature(err *ProviderError) bool {
	msg := strings.ToLower(err.Code + " " + err.Message)
	for _, sig := range fallbackSignatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}
