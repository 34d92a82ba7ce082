package outcome

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/dispatch-api/internal/model"
	"github.com/jwalitptl/dispatch-api/internal/repository"
	"github.com/jwalitptl/dispatch-api/internal/service/compliance"
	"github.com/jwalitptl/dispatch-api/pkg/cache"
	"github.com/jwalitptl/dispatch-api/pkg/logger"
	"github.com/jwalitptl/dispatch-api/pkg/messaging"
	"github.com/jwalitptl/dispatch-api/pkg/metrics"
)

const (
	ActionOptOut = "opt_out"
	ActionDonate = "donate"

	dtmfGuardTTL = 48 * time.Hour
)

// DonationRequest is published for the downstream SMS sender when a callee
// presses the donate digit.
type DonationRequest struct {
	CampaignID  uuid.UUID `json:"campaignId"`
	ContactID   uuid.UUID `json:"contactId"`
	PhoneNumber string    `json:"phoneNumber"`
	CallID      string    `json:"callId"`
	RequestedAt time.Time `json:"requestedAt"`
}

// ActionDispatcher resolves a keypad press to its configured action and runs
// the side effect exactly once per press. A press is identified by
// (callId, digit, pressedAt); redelivered events hit the redis guard or the
// durable action row and are dropped before the side effect runs again.
type ActionDispatcher struct {
	campaigns  repository.CampaignRepository
	actions    repository.DTMFActionRepository
	compliance compliance.Service
	broker     messaging.Broker
	cache      cache.Cache
	channel    string
	logger     *logger.Logger
	metrics    *metrics.Metrics
}

func NewActionDispatcher(
	campaigns repository.CampaignRepository,
	actions repository.DTMFActionRepository,
	comp compliance.Service,
	broker messaging.Broker,
	c cache.Cache,
	donationChannel string,
	log *logger.Logger,
	m *metrics.Metrics,
) *ActionDispatcher {
	return &ActionDispatcher{
		campaigns:  campaigns,
		actions:    actions,
		compliance: comp,
		broker:     broker,
		cache:      c,
		channel:    donationChannel,
		logger:     log,
		metrics:    m,
	}
}

// Dispatch never fails the event: a press with no configured action, or one
// already handled, is logged and dropped. Side-effect errors are logged so
// the durable row still marks the press as handled; the row is written only
// after the effect succeeds, so a failed effect is retried on redelivery.
func (d *ActionDispatcher) Dispatch(ctx context.Context, record *model.CallRecord, event *model.LifecycleEvent) {
	if event.DTMFInput == "" {
		return
	}

	action := event.Action
	if action == "" {
		action = d.resolveAction(ctx, record.CampaignID, event.DTMFInput)
	}
	if action == "" {
		d.logger.Debug("dtmf press has no configured action",
			"call_id", record.ID, "digit", event.DTMFInput)
		return
	}

	guardKey := fmt.Sprintf("dtmf:%s:%s:%d", record.ID, event.DTMFInput, event.Timestamp.UnixMilli())
	acquired, err := d.cache.SetNX(ctx, guardKey, "1", dtmfGuardTTL)
	if err != nil {
		d.logger.WarnErr(err, "dtmf dedup guard unavailable", "call_id", record.ID)
	} else if !acquired {
		if d.metrics != nil {
			d.metrics.DTMFActions.WithLabelValues(action, "duplicate").Inc()
		}
		d.logger.Debug("dtmf press already handled", "call_id", record.ID, "digit", event.DTMFInput)
		return
	}

	// The guard alone is not enough: it can be degraded or expired while the
	// durable row survives, and the side effects are not idempotent. The row
	// is the authority on whether this press already ran.
	handled, err := d.actions.Exists(ctx, record.ID, event.DTMFInput, event.Timestamp)
	if err != nil {
		d.logger.Error(err, "failed to check dtmf action", "call_id", record.ID)
		d.releaseGuard(ctx, record.ID, guardKey)
		return
	}
	if handled {
		if d.metrics != nil {
			d.metrics.DTMFActions.WithLabelValues(action, "duplicate").Inc()
		}
		d.logger.Debug("dtmf press already recorded", "call_id", record.ID, "digit", event.DTMFInput)
		return
	}

	if err := d.execute(ctx, record, event, action); err != nil {
		d.logger.Error(err, "dtmf action failed",
			"call_id", record.ID, "digit", event.DTMFInput, "action", action)
		// Release the guard so a redelivered event can retry the effect.
		d.releaseGuard(ctx, record.ID, guardKey)
		return
	}

	inserted, err := d.actions.InsertUnique(ctx, &model.DTMFAction{
		ID:        uuid.New(),
		CallID:    record.ID,
		Digit:     event.DTMFInput,
		PressedAt: event.Timestamp,
		Action:    action,
	})
	if err != nil {
		d.logger.Error(err, "failed to record dtmf action", "call_id", record.ID)
		return
	}
	if d.metrics != nil {
		status := "executed"
		if !inserted {
			status = "duplicate"
		}
		d.metrics.DTMFActions.WithLabelValues(action, status).Inc()
	}
}

func (d *ActionDispatcher) releaseGuard(ctx context.Context, callID, guardKey string) {
	if err := d.cache.Delete(ctx, guardKey); err != nil {
		d.logger.WarnErr(err, "failed to release dtmf guard", "call_id", callID)
	}
}

func (d *ActionDispatcher) resolveAction(ctx context.Context, campaignID uuid.UUID, digit string) string {
	campaign, err := d.campaigns.Get(ctx, campaignID)
	if err != nil {
		d.logger.WarnErr(err, "failed to load campaign for dtmf mapping",
			"campaign_id", campaignID.String())
		return ""
	}
	return campaign.Config.IVRActions[digit]
}

func (d *ActionDispatcher) execute(ctx context.Context, record *model.CallRecord, event *model.LifecycleEvent, action string) error {
	switch action {
	case ActionOptOut:
		return d.compliance.Block(ctx, record.PhoneNumber, "callee opted out via keypad",
			model.BlacklistSourceUserOptout, model.JSONMap{
				"call_id":     record.ID,
				"campaign_id": record.CampaignID.String(),
			})
	case ActionDonate:
		return d.broker.Publish(ctx, d.channel, &DonationRequest{
			CampaignID:  record.CampaignID,
			ContactID:   record.ContactID,
			PhoneNumber: record.PhoneNumber,
			CallID:      record.ID,
			RequestedAt: event.Timestamp,
		})
	default:
		d.logger.Warn("unknown dtmf action", "action", action, "call_id", record.ID)
		return nil
	}
}
