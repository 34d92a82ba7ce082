package compliance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jwalitptl/dispatch-api/internal/model"
	"github.com/jwalitptl/dispatch-api/internal/repository"
	"github.com/jwalitptl/dispatch-api/pkg/cache"
	apperrors "github.com/jwalitptl/dispatch-api/pkg/errors"
	"github.com/jwalitptl/dispatch-api/pkg/logger"
	"github.com/jwalitptl/dispatch-api/pkg/metrics"
)

const (
	cacheKeyPrefix = "blacklist:"
	cacheHitValue  = "1"
)

// Service enforces the do-not-contact registry. Reads prefer the cache and
// fall back to the durable store; writes land durably first because a lost
// opt-out cannot be repaired.
type Service interface {
	IsBlocked(ctx context.Context, phoneNumber string) (bool, error)
	Block(ctx context.Context, phoneNumber, reason string, source model.BlacklistSource, metadata model.JSONMap) error
}

type service struct {
	repo    repository.BlacklistRepository
	cache   cache.Cache
	logger  *logger.Logger
	metrics *metrics.Metrics
}

func NewService(repo repository.BlacklistRepository, c cache.Cache, log *logger.Logger, m *metrics.Metrics) Service {
	return &service{
		repo:    repo,
		cache:   c,
		logger:  log,
		metrics: m,
	}
}

func cacheKey(phoneNumber string) string {
	return cacheKeyPrefix + phoneNumber
}

// IsBlocked fails open toward the durable check: any cache trouble degrades
// to the slower strongly consistent path instead of guessing.
func (s *service) IsBlocked(ctx context.Context, phoneNumber string) (bool, error) {
	val, err := s.cache.Get(ctx, cacheKey(phoneNumber))
	if err == nil {
		blocked := val == cacheHitValue
		s.observeCheck(blocked, "cache")
		return blocked, nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		s.logger.WarnErr(err, "blacklist cache read degraded", "phone_number", phoneNumber)
	}

	blocked, err := s.repo.Exists(ctx, phoneNumber)
	if err != nil {
		return false, fmt.Errorf("failed durable blacklist lookup: %w", err)
	}
	s.observeCheck(blocked, "database")

	if blocked {
		// Repopulate so the next check takes the fast path. Best effort.
		if setErr := s.cache.Set(ctx, cacheKey(phoneNumber), cacheHitValue, 0); setErr != nil {
			s.logger.WarnErr(setErr, "blacklist cache repopulation failed", "phone_number", phoneNumber)
		} else if s.metrics != nil {
			s.metrics.CacheRepopulations.Inc()
		}
	}
	return blocked, nil
}

// Block writes the durable entry first; a durable failure propagates as a
// compliance-critical error. The cache update afterwards is best effort
// because reads fall back to the durable store anyway.
func (s *service) Block(ctx context.Context, phoneNumber, reason string, source model.BlacklistSource, metadata model.JSONMap) error {
	if err := model.ValidatePhoneNumber(phoneNumber); err != nil {
		return apperrors.NewBadRequest("invalid phone number", err)
	}
	if !source.IsValid() {
		return apperrors.NewBadRequest(fmt.Sprintf("invalid blacklist source %q", source), nil)
	}

	entry := &model.BlacklistEntry{
		PhoneNumber: phoneNumber,
		Reason:      reason,
		Source:      source,
		Metadata:    metadata,
		CreatedAt:   time.Now(),
	}

	inserted, err := s.repo.Insert(ctx, entry)
	if err != nil {
		if s.metrics != nil {
			s.metrics.BlacklistWrites.WithLabelValues("error").Inc()
		}
		return apperrors.NewComplianceWrite(err)
	}
	if s.metrics != nil {
		s.metrics.BlacklistWrites.WithLabelValues("success").Inc()
	}
	if !inserted {
		s.logger.Debug("blacklist entry already present", "phone_number", phoneNumber)
	}

	if err := s.cache.Set(ctx, cacheKey(phoneNumber), cacheHitValue, 0); err != nil {
		s.logger.WarnErr(err, "blacklist cache update failed after durable write",
			"phone_number", phoneNumber)
	}

	s.logger.Info("number blocked", "phone_number", phoneNumber, "source", string(source))
	return nil
}

func (s *service) observeCheck(blocked bool, path string) {
	if s.metrics == nil {
		return
	}
	result := "clear"
	if blocked {
		result = "blocked"
	}
	s.metrics.ComplianceChecks.WithLabelValues(result, path).Inc()
}
