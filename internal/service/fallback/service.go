package fallback

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/dispatch-api/internal/model"
	"github.com/jwalitptl/dispatch-api/internal/repository"
	"github.com/jwalitptl/dispatch-api/internal/service/synthesis"
	"github.com/jwalitptl/dispatch-api/internal/telephony"
	"github.com/jwalitptl/dispatch-api/pkg/cache"
	"github.com/jwalitptl/dispatch-api/pkg/logger"
	"github.com/jwalitptl/dispatch-api/pkg/metrics"
)

const guardKeyPrefix = "fallback:"

type Config struct {
	// RetryAttempts bounds the internal retry of the call-initiation step.
	RetryAttempts int
	RetryDelay    time.Duration
	// GuardTTL bounds the redis fast-path guard; the durable unique key
	// remains authoritative after expiry.
	GuardTTL time.Duration
}

// Service escalates a failed SMS to a synthesized-voice call, exactly once
// per originating event. Dedup is two-tier: a redis SETNX guard for the fast
// path and a durable unique idempotency key as the authority.
type Service interface {
	Escalate(ctx context.Context, req *model.FallbackRequest, failureReason string) (*model.FallbackResult, error)
}

type service struct {
	repo      repository.FallbackRepository
	cache     cache.Cache
	synth     synthesis.Client
	telephony telephony.Client
	config    Config
	logger    *logger.Logger
	metrics   *metrics.Metrics
}

func NewService(
	repo repository.FallbackRepository,
	c cache.Cache,
	synth synthesis.Client,
	tel telephony.Client,
	config Config,
	log *logger.Logger,
	m *metrics.Metrics,
) Service {
	if config.RetryAttempts <= 0 {
		config.RetryAttempts = 2
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = time.Second
	}
	if config.GuardTTL <= 0 {
		config.GuardTTL = 24 * time.Hour
	}
	return &service{
		repo:      repo,
		cache:     c,
		synth:     synth,
		telephony: tel,
		config:    config,
		logger:    log,
		metrics:   m,
	}
}

func (s *service) Escalate(ctx context.Context, req *model.FallbackRequest, failureReason string) (*model.FallbackResult, error) {
	key := req.IdempotencyKey()

	// Fast guard: rejects redeliveries without touching the database. A
	// cache failure here is non-fatal; the durable key still protects us.
	acquired, err := s.cache.SetNX(ctx, guardKeyPrefix+key, "1", s.config.GuardTTL)
	if err != nil {
		s.logger.WarnErr(err, "fallback guard degraded", "idempotency_key", key)
	} else if !acquired {
		return s.duplicateResult(ctx, key)
	}

	record := &model.FallbackRecord{
		IdempotencyKey: key,
		CampaignID:     req.CampaignID,
		ContactID:      req.ContactID,
		MessageID:      req.MessageID,
		FailureReason:  failureReason,
		TargetChannel:  model.ChannelVoice,
	}
	inserted, err := s.repo.InsertUnique(ctx, record)
	if err != nil {
		return nil, fmt.Errorf("failed to reserve escalation: %w", err)
	}
	if !inserted {
		return s.duplicateResult(ctx, key)
	}

	result := s.execute(ctx, req, record)
	if s.metrics != nil {
		s.metrics.Escalations.WithLabelValues(string(result.Outcome)).Inc()
	}
	return result, nil
}

// execute runs the two escalation steps. Each failure is terminal for this
// attempt: the record is settled as failed rather than retried by the caller,
// because the idempotency key has already been consumed.
func (s *service) execute(ctx context.Context, req *model.FallbackRequest, record *model.FallbackRecord) *model.FallbackResult {
	synthResult, err := s.synth.Synthesize(ctx, req.Text, req.Language)
	if err != nil {
		s.settle(ctx, record, model.FallbackFailed, "", err)
		return &model.FallbackResult{Outcome: model.FallbackFailed}
	}

	callID := uuid.New().String()
	cmd := telephony.CallCommand{
		CallID:       callID,
		PhoneNumber:  req.PhoneNumber,
		AudioFileURL: synthResult.URL,
		Metadata: map[string]interface{}{
			"campaignId": req.CampaignID.String(),
			"contactId":  req.ContactID.String(),
			"escalation": true,
			"sourceMsg":  req.MessageID,
		},
	}

	err = s.placeCallWithRetry(ctx, cmd)
	if err != nil {
		s.settle(ctx, record, model.FallbackFailed, synthResult.URL, err)
		return &model.FallbackResult{Outcome: model.FallbackFailed, AudioURL: synthResult.URL}
	}

	// Delivered means initiated; answer tracking belongs to telephony.
	s.settle(ctx, record, model.FallbackDelivered, synthResult.URL, nil)
	s.logger.Info("escalation call initiated",
		"call_id", callID,
		"contact_id", req.ContactID.String(),
		"audio_cached", synthResult.Cached)
	return &model.FallbackResult{
		Outcome:  model.FallbackDelivered,
		CallID:   callID,
		AudioURL: synthResult.URL,
	}
}

func (s *service) placeCallWithRetry(ctx context.Context, cmd telephony.CallCommand) error {
	var err error
	for attempt := 0; attempt < s.config.RetryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.config.RetryDelay * time.Duration(attempt)):
			}
		}
		if err = s.telephony.PlaceCall(ctx, cmd); err == nil {
			return nil
		}
	}
	return err
}

func (s *service) settle(ctx context.Context, record *model.FallbackRecord, outcome model.FallbackOutcome, audioURL string, cause error) {
	var errMsg *string
	if cause != nil {
		msg := cause.Error()
		errMsg = &msg
		s.logger.Error(cause, "escalation failed",
			"idempotency_key", record.IdempotencyKey, "outcome", string(outcome))
	}
	if err := s.repo.UpdateOutcome(ctx, record.ID, outcome, audioURL, errMsg); err != nil {
		s.logger.Error(err, "failed to settle fallback record", "idempotency_key", record.IdempotencyKey)
	}
}

func (s *service) duplicateResult(ctx context.Context, key string) (*model.FallbackResult, error) {
	if s.metrics != nil {
		s.metrics.Escalations.WithLabelValues("duplicate").Inc()
	}
	existing, err := s.repo.GetByKey(ctx, key)
	if err != nil {
		if err == repository.ErrNotFound {
			// Guard hit but no durable row yet: a concurrent escalation is
			// in flight. Report duplicate without an outcome.
			return &model.FallbackResult{Duplicate: true}, nil
		}
		return nil, fmt.Errorf("failed to load prior escalation: %w", err)
	}
	return &model.FallbackResult{
		Outcome:   existing.Outcome,
		AudioURL:  existing.AudioURL,
		Duplicate: true,
	}, nil
}
