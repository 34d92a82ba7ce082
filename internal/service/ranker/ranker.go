package ranker

import (
	"math"
	"sort"
	"time"

	"github.com/jwalitptl/dispatch-api/internal/model"
)

// noPredictionDistance sorts contacts without a usable prediction after every
// contact that has one.
const noPredictionDistance = math.MaxInt32

// Rank orders contacts by how close the current hour is to the predicted
// optimal window start, then by creation time. The sort is stable, so two
// invocations over the same input in the same hour produce the same order.
func Rank(contacts []*model.Contact, now time.Time) []*model.Contact {
	ranked := make([]*model.Contact, len(contacts))
	copy(ranked, contacts)

	hour := now.Hour()
	sort.SliceStable(ranked, func(i, j int) bool {
		di := hourDistance(ranked[i], hour)
		dj := hourDistance(ranked[j], hour)
		if di != dj {
			return di < dj
		}
		return ranked[i].CreatedAt.Before(ranked[j].CreatedAt)
	})
	return ranked
}

func hourDistance(contact *model.Contact, currentHour int) int {
	if !contact.HasPrediction() {
		return noPredictionDistance
	}
	d := contact.OptimalCallTime.PreferredHourRange.Start - currentHour
	if d < 0 {
		d = -d
	}
	return d
}
