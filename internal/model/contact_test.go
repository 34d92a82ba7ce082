package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestValidatePhoneNumber(t *testing.T) {
	valid := []string{"+4915712345678", "+12125550123", "+861061234567"}
	for _, phone := range valid {
		assert.NoError(t, ValidatePhoneNumber(phone), phone)
	}

	invalid := []string{
		"",
		"4915712345678",      // missing plus
		"+015712345678",      // leading zero
		"+49 157 1234 5678",  // spaces
		"+49157123456789012", // too long
		"+4",                 // too short
		"phone",
	}
	for _, phone := range invalid {
		assert.Error(t, ValidatePhoneNumber(phone), phone)
	}
}

func TestContactStatusIsTerminal(t *testing.T) {
	assert.True(t, ContactStatusCompleted.IsTerminal())
	assert.True(t, ContactStatusBlacklisted.IsTerminal())
	assert.False(t, ContactStatusPending.IsTerminal())
	assert.False(t, ContactStatusFailed.IsTerminal())
	assert.False(t, ContactStatusInProgress.IsTerminal())
}

func TestContactEffectiveLocation(t *testing.T) {
	campaign := &Campaign{Timezone: "Europe/Berlin"}

	t.Run("contact timezone wins", func(t *testing.T) {
		tz := "America/New_York"
		c := &Contact{Timezone: &tz}
		assert.Equal(t, "America/New_York", c.EffectiveLocation(campaign).String())
	})

	t.Run("falls back to campaign", func(t *testing.T) {
		c := &Contact{}
		assert.Equal(t, "Europe/Berlin", c.EffectiveLocation(campaign).String())
	})

	t.Run("unparseable contact timezone falls back", func(t *testing.T) {
		tz := "Mars/Olympus"
		c := &Contact{Timezone: &tz}
		assert.Equal(t, "Europe/Berlin", c.EffectiveLocation(campaign).String())
	})
}

func TestContactHasPrediction(t *testing.T) {
	c := &Contact{}
	assert.False(t, c.HasPrediction())

	c.OptimalCallTime = &OptimalCallTime{
		PreferredDays:      []time.Weekday{time.Tuesday},
		PreferredHourRange: HourRange{Start: 18, End: 20},
		Confidence:         0.8,
	}
	assert.True(t, c.HasPrediction())

	// Zero confidence carries no signal
	c.OptimalCallTime.Confidence = 0
	assert.False(t, c.HasPrediction())

	// Zero-value range carries no signal either
	c.OptimalCallTime = &OptimalCallTime{Confidence: 0.9}
	assert.False(t, c.HasPrediction())
}
