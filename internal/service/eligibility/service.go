package eligibility

import (
	"context"
	"fmt"
	"time"

	"github.com/jwalitptl/dispatch-api/internal/model"
	"github.com/jwalitptl/dispatch-api/internal/repository"
	"github.com/jwalitptl/dispatch-api/internal/service/compliance"
	"github.com/jwalitptl/dispatch-api/pkg/logger"
	"github.com/jwalitptl/dispatch-api/pkg/metrics"
)

// selectionHeadroom over-fetches from the store so window and compliance
// filtering can still fill the limit.
const selectionHeadroom = 3

// Service decides which contacts may be contacted right now: status and
// attempt-cap filtering at the store, then calling-window and blacklist
// checks per contact. The blacklist is re-checked here even though a store
// filter could do it, because an opt-out can land between query and use.
type Service interface {
	SelectEligible(ctx context.Context, campaign *model.Campaign, now time.Time, limit int) ([]*model.Contact, error)
}

type service struct {
	contacts repository.ContactRepository
	guard    compliance.Service
	logger   *logger.Logger
	metrics  *metrics.Metrics
}

func NewService(contacts repository.ContactRepository, guard compliance.Service, log *logger.Logger, m *metrics.Metrics) Service {
	return &service{
		contacts: contacts,
		guard:    guard,
		logger:   log,
		metrics:  m,
	}
}

func (s *service) SelectEligible(ctx context.Context, campaign *model.Campaign, now time.Time, limit int) ([]*model.Contact, error) {
	if campaign.Status != model.CampaignStatusActive {
		return nil, nil
	}
	if err := campaign.Validate(); err != nil {
		return nil, fmt.Errorf("campaign %s not dispatchable: %w", campaign.ID, err)
	}
	if limit <= 0 {
		return nil, nil
	}

	candidates, err := s.contacts.ListDispatchable(ctx, campaign.ID, campaign.Config.MaxAttempts, limit*selectionHeadroom)
	if err != nil {
		return nil, fmt.Errorf("failed to list candidates: %w", err)
	}

	eligible := make([]*model.Contact, 0, limit)
	for _, contact := range candidates {
		if len(eligible) >= limit {
			break
		}

		if !s.inCallingWindow(campaign, contact, now) {
			continue
		}

		blocked, err := s.guard.IsBlocked(ctx, contact.PhoneNumber)
		if err != nil {
			// A failed compliance check excludes the contact for this cycle;
			// a later cycle re-selects it once the check succeeds.
			s.logger.Error(err, "compliance check failed, skipping contact",
				"contact_id", contact.ID.String())
			continue
		}
		if blocked {
			s.excludeBlocked(ctx, contact)
			continue
		}

		eligible = append(eligible, contact)
	}

	if s.metrics != nil {
		s.metrics.ContactsSelected.Add(float64(len(eligible)))
	}
	return eligible, nil
}

// inCallingWindow translates now into the contact's effective timezone and
// tests it against every configured window.
func (s *service) inCallingWindow(campaign *model.Campaign, contact *model.Contact, now time.Time) bool {
	local := now.In(contact.EffectiveLocation(campaign))
	for _, window := range campaign.Config.CallingWindows {
		if window.Contains(local) {
			return true
		}
	}
	return false
}

// excludeBlocked settles the race with a concurrent opt-out: the contact is
// never attempted and its status becomes terminal.
func (s *service) excludeBlocked(ctx context.Context, contact *model.Contact) {
	if s.metrics != nil {
		s.metrics.BlockedAtSelection.Inc()
	}
	s.logger.Info("contact excluded by blacklist",
		"contact_id", contact.ID.String(), "phone_number", contact.PhoneNumber)

	if err := s.contacts.MarkBlacklisted(ctx, contact.ID); err != nil {
		s.logger.Error(err, "failed to mark contact blacklisted",
			"contact_id", contact.ID.String())
	}
}
