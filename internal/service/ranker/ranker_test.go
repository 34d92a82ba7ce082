package ranker

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/dispatch-api/internal/model"
)

func contactWithPrediction(startHour int, confidence float64, createdAt time.Time) *model.Contact {
	c := &model.Contact{
		OptimalCallTime: &model.OptimalCallTime{
			PreferredDays:      []time.Weekday{time.Monday},
			PreferredHourRange: model.HourRange{Start: startHour, End: startHour + 2},
			Confidence:         confidence,
		},
	}
	c.ID = uuid.New()
	c.CreatedAt = createdAt
	return c
}

func contactWithoutPrediction(createdAt time.Time) *model.Contact {
	c := &model.Contact{}
	c.ID = uuid.New()
	c.CreatedAt = createdAt
	return c
}

func TestRankOrdersByHourProximity(t *testing.T) {
	now := time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC) // 14:00 hour
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	far := contactWithPrediction(9, 0.9, base)    // distance 5
	near := contactWithPrediction(15, 0.9, base)  // distance 1
	exact := contactWithPrediction(14, 0.9, base) // distance 0
	none := contactWithoutPrediction(base)        // last

	ranked := Rank([]*model.Contact{far, none, near, exact}, now)

	require.Len(t, ranked, 4)
	assert.Equal(t, exact.ID, ranked[0].ID)
	assert.Equal(t, near.ID, ranked[1].ID)
	assert.Equal(t, far.ID, ranked[2].ID)
	assert.Equal(t, none.ID, ranked[3].ID)
}

func TestRankTieBreaksByCreationTime(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	older := contactWithPrediction(12, 0.7, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	newer := contactWithPrediction(8, 0.7, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC))

	// Both are distance 2; the older contact wins
	ranked := Rank([]*model.Contact{newer, older}, now)
	assert.Equal(t, older.ID, ranked[0].ID)
	assert.Equal(t, newer.ID, ranked[1].ID)
}

func TestRankIsDeterministic(t *testing.T) {
	now := time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	contacts := []*model.Contact{
		contactWithPrediction(13, 0.5, base.Add(1*time.Hour)),
		contactWithoutPrediction(base.Add(2 * time.Hour)),
		contactWithPrediction(9, 0.5, base.Add(3*time.Hour)),
		contactWithPrediction(11, 0.5, base.Add(4*time.Hour)),
		contactWithoutPrediction(base.Add(5 * time.Hour)),
	}

	first := Rank(contacts, now)
	second := Rank(contacts, now)
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
	}
}

func TestRankDoesNotMutateInput(t *testing.T) {
	now := time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	a := contactWithPrediction(23, 0.5, base)
	b := contactWithPrediction(11, 0.5, base)
	input := []*model.Contact{a, b}

	Rank(input, now)
	assert.Equal(t, a.ID, input[0].ID)
	assert.Equal(t, b.ID, input[1].ID)
}

func TestRankZeroConfidencePredictionRanksLast(t *testing.T) {
	now := time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	unusable := contactWithPrediction(11, 0, base)
	usable := contactWithPrediction(20, 0.3, base)

	ranked := Rank([]*model.Contact{unusable, usable}, now)
	assert.Equal(t, usable.ID, ranked[0].ID)
	assert.Equal(t, unusable.ID, ranked[1].ID)
}
