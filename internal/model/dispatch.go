package model

import (
	"time"

	"github.com/google/uuid"
)

// DispatchTask is the queue message instructing a delivery worker to attempt
// one contact. It is transient: owned by the dispatcher until consumed.
type DispatchTask struct {
	TaskID      uuid.UUID `json:"taskId"`
	ContactID   uuid.UUID `json:"contactId"`
	CampaignID  uuid.UUID `json:"campaignId"`
	PhoneNumber string    `json:"phoneNumber"`
	Metadata    JSONMap   `json:"metadata,omitempty"`
	Attempts    int       `json:"attempts"`
	Timestamp   time.Time `json:"timestamp"`
}

// CampaignSummary is the slice of campaign state a delivery worker needs.
type CampaignSummary struct {
	ID       uuid.UUID      `json:"id"`
	Name     string         `json:"name"`
	Type     CampaignType   `json:"type"`
	Status   CampaignStatus `json:"status"`
	Config   CampaignConfig `json:"config"`
	Timezone string         `json:"timezone"`
}

// EnrichedDispatchTask adds the campaign payload so the delivery worker does
// not read campaign rows on the hot path.
type EnrichedDispatchTask struct {
	DispatchTask
	Campaign   CampaignSummary `json:"campaign"`
	EnrichedAt time.Time       `json:"enrichedAt"`
}

// NewEnrichedTask builds the queue payload for one contact.
func NewEnrichedTask(campaign *Campaign, contact *Contact, now time.Time) *EnrichedDispatchTask {
	return &EnrichedDispatchTask{
		DispatchTask: DispatchTask{
			TaskID:      uuid.New(),
			ContactID:   contact.ID,
			CampaignID:  campaign.ID,
			PhoneNumber: contact.PhoneNumber,
			Metadata:    contact.Metadata,
			Attempts:    contact.Attempts,
			Timestamp:   now,
		},
		Campaign: CampaignSummary{
			ID:       campaign.ID,
			Name:     campaign.Name,
			Type:     campaign.Type,
			Status:   campaign.Status,
			Config:   campaign.Config,
			Timezone: campaign.Timezone,
		},
		EnrichedAt: now,
	}
}

// DispatchResult summarizes one dispatch cycle for a campaign.
type DispatchResult struct {
	BatchesSent      int
	TasksDispatched  int
	TasksFailed      int
	PendingRemaining int
}
