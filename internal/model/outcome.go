package model

import (
	"time"

	"github.com/google/uuid"
)

type Channel string

const (
	ChannelSMS   Channel = "sms"
	ChannelVoice Channel = "voice"
)

type EventType string

const (
	EventInitiated       EventType = "initiated"
	EventAnswered        EventType = "answered"
	EventEnded           EventType = "ended"
	EventDTMFPressed     EventType = "dtmf_pressed"
	EventActionTriggered EventType = "action_triggered"
)

// LifecycleEvent is the message emitted by the telephony collaborator (and by
// the SMS delivery path) describing one step of an attempt.
type LifecycleEvent struct {
	CallID      string    `json:"callId"`
	CampaignID  uuid.UUID `json:"campaignId"`
	ContactID   uuid.UUID `json:"contactId"`
	PhoneNumber string    `json:"phoneNumber"`
	Channel     Channel   `json:"channel"`
	EventType   EventType `json:"eventType"`
	Outcome     string    `json:"outcome,omitempty"`
	DTMFInput   string    `json:"dtmfInput,omitempty"`
	Action      string    `json:"action,omitempty"`
	Cost        float64   `json:"cost,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

type CallStatus string

const (
	CallStatusQueued     CallStatus = "queued"
	CallStatusInProgress CallStatus = "in_progress"
	CallStatusAnswered   CallStatus = "answered"
	CallStatusBusy       CallStatus = "busy"
	CallStatusNoAnswer   CallStatus = "no_answer"
	CallStatusFailed     CallStatus = "failed"
	CallStatusCompleted  CallStatus = "completed"
)

// CanTransitionTo enforces the per-attempt state machine:
// queued -> in_progress -> {answered|busy|no_answer|failed} -> completed.
func (s CallStatus) CanTransitionTo(next CallStatus) bool {
	if s == next {
		return false
	}
	switch s {
	case CallStatusQueued:
		return next != CallStatusQueued
	case CallStatusInProgress:
		return next == CallStatusAnswered || next == CallStatusBusy ||
			next == CallStatusNoAnswer || next == CallStatusFailed || next == CallStatusCompleted
	case CallStatusAnswered, CallStatusBusy, CallStatusNoAnswer, CallStatusFailed:
		return next == CallStatusCompleted
	}
	return false
}

// CallRecord is the durable source of truth for one attempt (voice or SMS).
type CallRecord struct {
	ID           string     `json:"id" db:"id"`
	CampaignID   uuid.UUID  `json:"campaign_id" db:"campaign_id"`
	ContactID    uuid.UUID  `json:"contact_id" db:"contact_id"`
	PhoneNumber  string     `json:"phone_number" db:"phone_number"`
	Channel      Channel    `json:"channel" db:"channel"`
	Status       CallStatus `json:"status" db:"status"`
	Outcome      string     `json:"outcome" db:"outcome"`
	StartedAt    *time.Time `json:"started_at,omitempty" db:"started_at"`
	AnsweredAt   *time.Time `json:"answered_at,omitempty" db:"answered_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty" db:"ended_at"`
	DurationSecs *int64     `json:"duration_secs,omitempty" db:"duration_secs"`
	Cost         *float64   `json:"cost,omitempty" db:"cost"`
	DTMFInputs   JSONMap    `json:"dtmf_inputs" db:"dtmf_inputs"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
}

// DTMFAction is the durable dedup row for one keypad press. The unique key
// (call_id, digit, pressed_at) guarantees a redelivered event cannot trigger
// its side effect twice.
type DTMFAction struct {
	ID        uuid.UUID `json:"id" db:"id"`
	CallID    string    `json:"call_id" db:"call_id"`
	Digit     string    `json:"digit" db:"digit"`
	PressedAt time.Time `json:"pressed_at" db:"pressed_at"`
	Action    string    `json:"action" db:"action"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
