package outcome

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jwalitptl/dispatch-api/internal/model"
	"github.com/jwalitptl/dispatch-api/internal/repository"
	"github.com/jwalitptl/dispatch-api/pkg/cache"
	"github.com/jwalitptl/dispatch-api/pkg/logger"
	"github.com/jwalitptl/dispatch-api/pkg/metrics"
)

// Service consumes lifecycle events and maintains both the durable attempt
// record and the live aggregate counters. The durable record is the source
// of truth; counters are best effort.
type Service interface {
	Record(ctx context.Context, event *model.LifecycleEvent) error
}

type service struct {
	records  repository.CallRecordRepository
	contacts repository.ContactRepository
	cache    cache.Cache
	actions  *ActionDispatcher
	logger   *logger.Logger
	metrics  *metrics.Metrics
}

func NewService(
	records repository.CallRecordRepository,
	contacts repository.ContactRepository,
	c cache.Cache,
	actions *ActionDispatcher,
	log *logger.Logger,
	m *metrics.Metrics,
) Service {
	return &service{
		records:  records,
		contacts: contacts,
		cache:    c,
		actions:  actions,
		logger:   log,
		metrics:  m,
	}
}

func (s *service) Record(ctx context.Context, event *model.LifecycleEvent) error {
	if event.CallID == "" {
		return fmt.Errorf("lifecycle event missing attempt id")
	}
	if s.metrics != nil {
		s.metrics.EventsRecorded.WithLabelValues(string(event.EventType)).Inc()
	}

	record, err := s.loadOrCreate(ctx, event)
	if err != nil {
		return err
	}

	// Redelivered initiated/ended events must not move the live counters a
	// second time; the one-shot timestamps tell a first delivery apart.
	firstOfPhase := false
	switch event.EventType {
	case model.EventInitiated:
		firstOfPhase = record.StartedAt == nil
		s.applyInitiated(record, event)
	case model.EventAnswered:
		s.applyAnswered(record, event)
	case model.EventEnded:
		firstOfPhase = record.EndedAt == nil
		s.applyEnded(record, event)
	case model.EventDTMFPressed, model.EventActionTriggered:
		// DTMF never advances the primary state; it only appends.
		if record.Status != model.CallStatusCompleted {
			s.appendDTMF(record, event)
		}
	default:
		return fmt.Errorf("unknown event type: %s", event.EventType)
	}

	if err := s.records.Update(ctx, record); err != nil {
		return fmt.Errorf("failed to persist attempt record: %w", err)
	}

	if firstOfPhase {
		s.updateCounters(ctx, record, event)
	}

	if event.EventType == model.EventDTMFPressed {
		s.actions.Dispatch(ctx, record, event)
	}

	if event.EventType == model.EventEnded {
		s.settleContact(ctx, record)
	}
	return nil
}

// loadOrCreate makes the first event for an attempt id create the durable
// row; creation is idempotent under redelivery via ON CONFLICT DO NOTHING.
func (s *service) loadOrCreate(ctx context.Context, event *model.LifecycleEvent) (*model.CallRecord, error) {
	record, err := s.records.Get(ctx, event.CallID)
	if err == nil {
		return record, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("failed to load attempt record: %w", err)
	}

	record = &model.CallRecord{
		ID:          event.CallID,
		CampaignID:  event.CampaignID,
		ContactID:   event.ContactID,
		PhoneNumber: event.PhoneNumber,
		Channel:     event.Channel,
		Status:      model.CallStatusQueued,
		DTMFInputs:  model.JSONMap{},
	}
	if err := s.records.Create(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to create attempt record: %w", err)
	}
	// Re-read in case a concurrent recorder won the insert.
	return s.records.Get(ctx, event.CallID)
}

func (s *service) applyInitiated(record *model.CallRecord, event *model.LifecycleEvent) {
	if record.StartedAt == nil {
		ts := event.Timestamp
		record.StartedAt = &ts
	}
	s.transition(record, model.CallStatusInProgress)
}

func (s *service) applyAnswered(record *model.CallRecord, event *model.LifecycleEvent) {
	if record.AnsweredAt == nil {
		ts := event.Timestamp
		record.AnsweredAt = &ts
	}
	s.transition(record, model.CallStatusAnswered)
}

// applyEnded settles the attempt: terminal sub-state from the reported
// outcome, then completed. Duration and cost are computed exactly once.
func (s *service) applyEnded(record *model.CallRecord, event *model.LifecycleEvent) {
	if record.EndedAt == nil {
		ts := event.Timestamp
		record.EndedAt = &ts
	}
	record.Outcome = event.Outcome

	terminal := outcomeToStatus(event.Outcome)
	s.transition(record, terminal)

	if record.DurationSecs == nil && record.StartedAt != nil && record.EndedAt != nil {
		secs := int64(record.EndedAt.Sub(*record.StartedAt) / time.Second)
		if secs < 0 {
			secs = 0
		}
		record.DurationSecs = &secs
	}
	if record.Cost == nil && event.Cost > 0 {
		cost := event.Cost
		record.Cost = &cost
	}

	s.transition(record, model.CallStatusCompleted)
}

func (s *service) appendDTMF(record *model.CallRecord, event *model.LifecycleEvent) {
	if record.DTMFInputs == nil {
		record.DTMFInputs = model.JSONMap{}
	}
	key := fmt.Sprintf("%s@%d", event.DTMFInput, event.Timestamp.UnixMilli())
	record.DTMFInputs[key] = event.Action
}

func (s *service) transition(record *model.CallRecord, next model.CallStatus) {
	if record.Status == next {
		return
	}
	if !record.Status.CanTransitionTo(next) {
		// Redelivered or out-of-order event; the stored state wins.
		s.logger.Debug("ignoring invalid attempt transition",
			"call_id", record.ID, "from", string(record.Status), "to", string(next))
		return
	}
	record.Status = next
}

func outcomeToStatus(outcome string) model.CallStatus {
	switch outcome {
	case "answered", "delivered", "success":
		return model.CallStatusAnswered
	case "busy":
		return model.CallStatusBusy
	case "no_answer", "no-answer":
		return model.CallStatusNoAnswer
	default:
		return model.CallStatusFailed
	}
}

// updateCounters keeps the live dashboard numbers moving. Never propagates
// failures: the durable record already holds the truth.
func (s *service) updateCounters(ctx context.Context, record *model.CallRecord, event *model.LifecycleEvent) {
	prefix := fmt.Sprintf("campaign:%s:", record.CampaignID)

	var err error
	switch event.EventType {
	case model.EventInitiated:
		if _, e := s.cache.Incr(ctx, prefix+"attempts"); e != nil {
			err = e
		}
		if _, e := s.cache.Incr(ctx, prefix+"active"); e != nil {
			err = e
		}
	case model.EventEnded:
		if _, e := s.cache.Decr(ctx, prefix+"active"); e != nil {
			err = e
		}
		if _, e := s.cache.Incr(ctx, prefix+"outcome:"+string(outcomeToStatus(event.Outcome))); e != nil {
			err = e
		}
	}
	if err != nil {
		if s.metrics != nil {
			s.metrics.CounterFailures.Inc()
		}
		s.logger.WarnErr(err, "live counter update failed", "campaign_id", record.CampaignID.String())
	}
}

// settleContact moves the contact out of in_progress once its attempt ends.
func (s *service) settleContact(ctx context.Context, record *model.CallRecord) {
	var status model.ContactStatus
	switch record.Status {
	case model.CallStatusCompleted:
		status = model.ContactStatusCompleted
	default:
		status = model.ContactStatusFailed
	}
	// Completed here means the attempt settled; reachability decides the
	// contact outcome.
	if record.Outcome == "busy" || record.Outcome == "no_answer" || record.Outcome == "no-answer" || record.Outcome == "failed" {
		status = model.ContactStatusFailed
	}
	if err := s.contacts.UpdateStatus(ctx, record.ContactID, status); err != nil {
		s.logger.Error(err, "failed to settle contact status",
			"contact_id", record.ContactID.String(), "status", string(status))
	}
}
