package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
)

type ContactStatus string

const (
	ContactStatusPending     ContactStatus = "pending"
	ContactStatusInProgress  ContactStatus = "in_progress"
	ContactStatusCompleted   ContactStatus = "completed"
	ContactStatusFailed      ContactStatus = "failed"
	ContactStatusBlacklisted ContactStatus = "blacklisted"
)

// IsTerminal reports whether no further attempts may be made.
func (s ContactStatus) IsTerminal() bool {
	return s == ContactStatusCompleted || s == ContactStatusBlacklisted
}

var e164Pattern = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)

// ValidatePhoneNumber checks E.164 format.
func ValidatePhoneNumber(phone string) error {
	if !e164Pattern.MatchString(phone) {
		return fmt.Errorf("phone number %q is not E.164", phone)
	}
	return nil
}

// HourRange is a half-open [Start, End) hour range.
type HourRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// OptimalCallTime is the ML-predicted window in which the contact is most
// likely to answer. Confidence below the caller's threshold or a zero-value
// range means the prediction carries no ranking signal.
type OptimalCallTime struct {
	PreferredDays      []time.Weekday `json:"preferredDayOfWeek"`
	PreferredHourRange HourRange      `json:"preferredHourRange"`
	Confidence         float64        `json:"confidence"`
}

func (o OptimalCallTime) Value() (driver.Value, error) {
	return json.Marshal(o)
}

func (o *OptimalCallTime) Scan(src interface{}) error {
	if src == nil {
		*o = OptimalCallTime{}
		return nil
	}
	b, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("unsupported scan type %T for OptimalCallTime", src)
	}
	return json.Unmarshal(b, o)
}

type Contact struct {
	Base
	CampaignID      uuid.UUID        `json:"campaign_id" db:"campaign_id"`
	PhoneNumber     string           `json:"phone_number" db:"phone_number"`
	Metadata        JSONMap          `json:"metadata" db:"metadata"`
	Timezone        *string          `json:"timezone,omitempty" db:"timezone"`
	OptimalCallTime *OptimalCallTime `json:"optimal_call_time,omitempty" db:"optimal_call_time"`
	Status          ContactStatus    `json:"status" db:"status"`
	Attempts        int              `json:"attempts" db:"attempts"`
}

// EffectiveLocation resolves the timezone used for calling-window checks:
// the contact's own timezone when set and parseable, else the campaign's.
func (c *Contact) EffectiveLocation(campaign *Campaign) *time.Location {
	if c.Timezone != nil && *c.Timezone != "" {
		if loc, err := time.LoadLocation(*c.Timezone); err == nil {
			return loc
		}
	}
	return campaign.Location()
}

// HasPrediction reports whether the contact carries a usable optimal-time signal.
func (c *Contact) HasPrediction() bool {
	return c.OptimalCallTime != nil && c.OptimalCallTime.Confidence > 0 &&
		!(c.OptimalCallTime.PreferredHourRange.Start == 0 && c.OptimalCallTime.PreferredHourRange.End == 0)
}
