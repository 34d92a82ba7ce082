package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/jwalitptl/dispatch-api/internal/model"
	"github.com/jwalitptl/dispatch-api/internal/repository"
	"github.com/jwalitptl/dispatch-api/pkg/logger"
	"github.com/jwalitptl/dispatch-api/pkg/messaging"
	"github.com/jwalitptl/dispatch-api/pkg/metrics"
)

type Config struct {
	TaskQueue    string
	MaxBatchSize int
	// RatePerSecond bounds submissions toward the transport; zero disables
	// the limiter.
	RatePerSecond float64
	Burst         int
}

// Service turns ranked contacts into enriched queue tasks. Claiming happens
// at the store (conditional status transition), not in memory, because
// concurrent cycles may run in separate invocations.
type Service interface {
	Dispatch(ctx context.Context, campaign *model.Campaign, contacts []*model.Contact) (*model.DispatchResult, error)
}

type service struct {
	contacts repository.ContactRepository
	queue    messaging.TaskQueue
	limiter  *rate.Limiter
	config   Config
	logger   *logger.Logger
	metrics  *metrics.Metrics
}

func NewService(contacts repository.ContactRepository, queue messaging.TaskQueue, config Config, log *logger.Logger, m *metrics.Metrics) Service {
	if config.MaxBatchSize <= 0 {
		config.MaxBatchSize = 10
	}
	var limiter *rate.Limiter
	if config.RatePerSecond > 0 {
		burst := config.Burst
		if burst <= 0 {
			burst = config.MaxBatchSize
		}
		limiter = rate.NewLimiter(rate.Limit(config.RatePerSecond), burst)
	}
	return &service{
		contacts: contacts,
		queue:    queue,
		limiter:  limiter,
		config:   config,
		logger:   log,
		metrics:  m,
	}
}

func (s *service) Dispatch(ctx context.Context, campaign *model.Campaign, contacts []*model.Contact) (*model.DispatchResult, error) {
	result := &model.DispatchResult{}
	if len(contacts) == 0 {
		return result, nil
	}

	now := time.Now()
	for start := 0; start < len(contacts); start += s.config.MaxBatchSize {
		end := start + s.config.MaxBatchSize
		if end > len(contacts) {
			end = len(contacts)
		}
		batch := contacts[start:end]

		sent, failed := s.dispatchBatch(ctx, campaign, batch, now)
		result.TasksDispatched += sent
		result.TasksFailed += failed
		if sent > 0 {
			result.BatchesSent++
		}

		if err := ctx.Err(); err != nil {
			return result, err
		}
	}

	remaining, err := s.contacts.CountDispatchable(ctx, campaign.ID, campaign.Config.MaxAttempts)
	if err != nil {
		s.logger.Error(err, "failed to count remaining contacts", "campaign_id", campaign.ID.String())
	} else {
		result.PendingRemaining = remaining
	}

	if s.metrics != nil {
		s.metrics.BatchesSent.Add(float64(result.BatchesSent))
		s.metrics.TasksDispatched.Add(float64(result.TasksDispatched))
		s.metrics.TasksFailed.Add(float64(result.TasksFailed))
	}
	return result, nil
}

// dispatchBatch submits one transport-bounded batch. Per-task failures are
// logged and skipped; one bad task never aborts the cycle.
func (s *service) dispatchBatch(ctx context.Context, campaign *model.Campaign, batch []*model.Contact, now time.Time) (sent, failed int) {
	for _, contact := range batch {
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				failed += len(batch) - sent - failed
				return sent, failed
			}
		}

		task := model.NewEnrichedTask(campaign, contact, now)
		body, err := json.Marshal(task)
		if err != nil {
			s.logger.Error(err, "failed to marshal dispatch task", "contact_id", contact.ID.String())
			failed++
			continue
		}

		if err := s.queue.Publish(ctx, s.config.TaskQueue, body); err != nil {
			s.logger.Error(err, "failed to submit dispatch task",
				"contact_id", contact.ID.String(), "campaign_id", campaign.ID.String())
			failed++
			continue
		}

		claimed, err := s.claim(ctx, contact)
		if err != nil {
			s.logger.Error(err, "failed to claim dispatched contact", "contact_id", contact.ID.String())
			failed++
			continue
		}
		if !claimed {
			// Another cycle got here first. The transport is at-least-once,
			// so the duplicate task is tolerated downstream.
			if s.metrics != nil {
				s.metrics.ClaimsLost.Inc()
			}
			s.logger.Debug("contact already claimed by concurrent cycle", "contact_id", contact.ID.String())
			continue
		}
		sent++
	}
	return sent, failed
}

func (s *service) claim(ctx context.Context, contact *model.Contact) (bool, error) {
	claimed, err := s.contacts.Claim(ctx, contact.ID)
	if err != nil {
		return false, fmt.Errorf("claim contact %s: %w", contact.ID, err)
	}
	return claimed, nil
}
