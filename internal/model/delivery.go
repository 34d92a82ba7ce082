package model

import "time"

type DeliveryStatus string

const (
	DeliveryStatusSent      DeliveryStatus = "sent"
	DeliveryStatusFailed    DeliveryStatus = "failed"
	DeliveryStatusInitiated DeliveryStatus = "initiated"
)

// DeliveryOutcome classifies one channel submission. RequiresFallback marks
// failure classes where the message should be escalated to the alternate
// channel instead of being dropped.
type DeliveryOutcome struct {
	Channel           Channel        `json:"channel"`
	Status            DeliveryStatus `json:"status"`
	RequiresFallback  bool           `json:"requires_fallback"`
	FailureReason     string         `json:"failure_reason,omitempty"`
	ProviderMessageID string         `json:"provider_message_id,omitempty"`
	RenderedText      string         `json:"-"`
	Cost              float64        `json:"cost,omitempty"`
	SentAt            time.Time      `json:"sent_at"`
}
