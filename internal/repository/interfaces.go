package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/dispatch-api/internal/model"
)

// ErrNotFound is returned by Get-style methods when no row matches.
var ErrNotFound = errors.New("not found")

// All repository interfaces in one file
type (
	CampaignRepository interface {
		Get(ctx context.Context, id uuid.UUID) (*model.Campaign, error)
		ListActive(ctx context.Context) ([]*model.Campaign, error)
		UpdateStatus(ctx context.Context, id uuid.UUID, from, to model.CampaignStatus) (bool, error)
	}

	ContactRepository interface {
		Get(ctx context.Context, id uuid.UUID) (*model.Contact, error)
		// ListDispatchable returns contacts in status pending/failed with
		// attempts below the cap, FIFO by creation time. Calling-window and
		// compliance filtering happen above this layer.
		ListDispatchable(ctx context.Context, campaignID uuid.UUID, maxAttempts, limit int) ([]*model.Contact, error)
		CountDispatchable(ctx context.Context, campaignID uuid.UUID, maxAttempts int) (int, error)
		// Claim conditionally transitions pending/failed -> in_progress and
		// bumps the attempt counter. Returns false when a concurrent cycle
		// already claimed the contact.
		Claim(ctx context.Context, id uuid.UUID) (bool, error)
		UpdateStatus(ctx context.Context, id uuid.UUID, status model.ContactStatus) error
		MarkBlacklisted(ctx context.Context, id uuid.UUID) error
		UpdateOptimalCallTime(ctx context.Context, id uuid.UUID, prediction *model.OptimalCallTime) error
		ListWithoutPrediction(ctx context.Context, campaignID uuid.UUID, limit int) ([]*model.Contact, error)
	}

	BlacklistRepository interface {
		// Insert is idempotent: an existing entry for the number is left
		// untouched and reported via the bool.
		Insert(ctx context.Context, entry *model.BlacklistEntry) (bool, error)
		Exists(ctx context.Context, phoneNumber string) (bool, error)
	}

	CallRecordRepository interface {
		Get(ctx context.Context, id string) (*model.CallRecord, error)
		Create(ctx context.Context, record *model.CallRecord) error
		Update(ctx context.Context, record *model.CallRecord) error
	}

	DTMFActionRepository interface {
		// InsertUnique returns false when the (call_id, digit, pressed_at)
		// key already exists.
		InsertUnique(ctx context.Context, action *model.DTMFAction) (bool, error)
		Exists(ctx context.Context, callID, digit string, pressedAt time.Time) (bool, error)
	}

	FallbackRepository interface {
		// InsertUnique returns false when the idempotency key already exists.
		InsertUnique(ctx context.Context, record *model.FallbackRecord) (bool, error)
		GetByKey(ctx context.Context, idempotencyKey string) (*model.FallbackRecord, error)
		UpdateOutcome(ctx context.Context, id uuid.UUID, outcome model.FallbackOutcome, audioURL string, errorMessage *string) error
		DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
	}
)
