package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type FallbackOutcome string

const (
	// FallbackDelivered means the voice call was successfully initiated.
	// Answer tracking is the telephony collaborator's job.
	FallbackDelivered FallbackOutcome = "delivered"
	FallbackFailed    FallbackOutcome = "failed"
)

// FallbackRequest describes an SMS failure being escalated to voice.
type FallbackRequest struct {
	CampaignID  uuid.UUID `json:"campaign_id"`
	ContactID   uuid.UUID `json:"contact_id"`
	MessageID   string    `json:"message_id"`
	PhoneNumber string    `json:"phone_number"`
	Text        string    `json:"text"`
	Language    string    `json:"language,omitempty"`
}

// IdempotencyKey derives the exactly-once key from the originating event, so
// a redelivered upstream message maps to the same escalation.
func (r FallbackRequest) IdempotencyKey() string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s", r.CampaignID, r.ContactID, r.MessageID)))
	return hex.EncodeToString(sum[:])
}

// FallbackRecord is the durable record of one escalation attempt.
type FallbackRecord struct {
	ID             uuid.UUID       `json:"id" db:"id"`
	IdempotencyKey string          `json:"idempotency_key" db:"idempotency_key"`
	CampaignID     uuid.UUID       `json:"campaign_id" db:"campaign_id"`
	ContactID      uuid.UUID       `json:"contact_id" db:"contact_id"`
	MessageID      string          `json:"message_id" db:"message_id"`
	FailureReason  string          `json:"failure_reason" db:"failure_reason"`
	TargetChannel  Channel         `json:"target_channel" db:"target_channel"`
	Outcome        FallbackOutcome `json:"outcome" db:"outcome"`
	AudioURL       string          `json:"audio_url" db:"audio_url"`
	ErrorMessage   *string         `json:"error_message,omitempty" db:"error_message"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
}

// FallbackResult is returned to the caller of Escalate.
type FallbackResult struct {
	Outcome   FallbackOutcome
	CallID    string
	AudioURL  string
	Duplicate bool
}
