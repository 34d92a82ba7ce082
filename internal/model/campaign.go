package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

type CampaignType string

const (
	CampaignTypeVoice  CampaignType = "voice"
	CampaignTypeSMS    CampaignType = "sms"
	CampaignTypeHybrid CampaignType = "hybrid"
)

func (t CampaignType) IsValid() bool {
	switch t {
	case CampaignTypeVoice, CampaignTypeSMS, CampaignTypeHybrid:
		return true
	}
	return false
}

type CampaignStatus string

const (
	CampaignStatusDraft     CampaignStatus = "draft"
	CampaignStatusScheduled CampaignStatus = "scheduled"
	CampaignStatusActive    CampaignStatus = "active"
	CampaignStatusPaused    CampaignStatus = "paused"
	CampaignStatusCompleted CampaignStatus = "completed"
	CampaignStatusCancelled CampaignStatus = "cancelled"
)

// CanTransitionTo reports whether the lifecycle allows moving to next.
// Transitions are monotonic except for paused<->active.
func (s CampaignStatus) CanTransitionTo(next CampaignStatus) bool {
	switch s {
	case CampaignStatusDraft:
		return next == CampaignStatusScheduled || next == CampaignStatusCancelled
	case CampaignStatusScheduled:
		return next == CampaignStatusActive || next == CampaignStatusCancelled
	case CampaignStatusActive:
		return next == CampaignStatusPaused || next == CampaignStatusCompleted || next == CampaignStatusCancelled
	case CampaignStatusPaused:
		return next == CampaignStatusActive || next == CampaignStatusCancelled
	}
	return false
}

// CallingWindow is a recurring range during which contact attempts are permitted.
// Hours are in the contact's effective timezone; EndHour is exclusive.
type CallingWindow struct {
	Days      []time.Weekday `json:"days" validate:"required,min=1"`
	StartHour int            `json:"start_hour" validate:"min=0,max=23"`
	EndHour   int            `json:"end_hour" validate:"min=1,max=24"`
}

// Contains reports whether t falls inside the window.
func (w CallingWindow) Contains(t time.Time) bool {
	day := t.Weekday()
	found := false
	for _, d := range w.Days {
		if d == day {
			found = true
			break
		}
	}
	if !found {
		return false
	}
	hour := t.Hour()
	return hour >= w.StartHour && hour < w.EndHour
}

func (w CallingWindow) validate() error {
	if len(w.Days) == 0 {
		return fmt.Errorf("calling window requires at least one day")
	}
	for _, d := range w.Days {
		if d < time.Sunday || d > time.Saturday {
			return fmt.Errorf("invalid weekday %d", d)
		}
	}
	if w.StartHour < 0 || w.StartHour > 23 {
		return fmt.Errorf("start hour %d out of range", w.StartHour)
	}
	if w.EndHour < 1 || w.EndHour > 24 {
		return fmt.Errorf("end hour %d out of range", w.EndHour)
	}
	if w.StartHour >= w.EndHour {
		return fmt.Errorf("start hour %d must be before end hour %d", w.StartHour, w.EndHour)
	}
	return nil
}

// CampaignConfig is the validated channel/scheduling configuration blob.
type CampaignConfig struct {
	CallingWindows []CallingWindow   `json:"calling_windows"`
	MaxAttempts    int               `json:"max_attempts" validate:"min=1"`
	SMSTemplate    string            `json:"sms_template,omitempty"`
	AudioFileURL   string            `json:"audio_file_url,omitempty"`
	IVRActions     map[string]string `json:"ivr_actions,omitempty"`
	Language       string            `json:"language,omitempty"`
}

func (c CampaignConfig) Value() (driver.Value, error) {
	return json.Marshal(c)
}

func (c *CampaignConfig) Scan(src interface{}) error {
	if src == nil {
		*c = CampaignConfig{}
		return nil
	}
	b, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("unsupported scan type %T for CampaignConfig", src)
	}
	return json.Unmarshal(b, c)
}

type Campaign struct {
	Base
	Name     string         `json:"name" db:"name"`
	Type     CampaignType   `json:"type" db:"type"`
	Status   CampaignStatus `json:"status" db:"status"`
	Timezone string         `json:"timezone" db:"timezone"`
	Config   CampaignConfig `json:"config" db:"config"`
}

// Validate enforces the configuration invariants before a campaign can dispatch.
func (c *Campaign) Validate() error {
	if !c.Type.IsValid() {
		return fmt.Errorf("invalid campaign type: %s", c.Type)
	}
	if c.Config.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be at least 1")
	}
	if c.Status == CampaignStatusActive && len(c.Config.CallingWindows) == 0 {
		return fmt.Errorf("active campaign requires at least one calling window")
	}
	for i, w := range c.Config.CallingWindows {
		if err := w.validate(); err != nil {
			return fmt.Errorf("calling window %d: %w", i, err)
		}
	}
	if (c.Type == CampaignTypeSMS || c.Type == CampaignTypeHybrid) && c.Config.SMSTemplate == "" {
		return fmt.Errorf("sms campaign requires a template")
	}
	if c.Type == CampaignTypeVoice && c.Config.AudioFileURL == "" {
		return fmt.Errorf("voice campaign requires an audio file")
	}
	return nil
}

// Location resolves the campaign timezone, defaulting to UTC.
func (c *Campaign) Location() *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
