package outcome

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/dispatch-api/internal/model"
	"github.com/jwalitptl/dispatch-api/internal/repository"
	"github.com/jwalitptl/dispatch-api/pkg/cache"
	"github.com/jwalitptl/dispatch-api/pkg/logger"
)

type fakeCallRecordRepo struct {
	records map[string]*model.CallRecord
}

func newFakeCallRecordRepo() *fakeCallRecordRepo {
	return &fakeCallRecordRepo{records: map[string]*model.CallRecord{}}
}

func (r *fakeCallRecordRepo) Get(_ context.Context, id string) (*model.CallRecord, error) {
	record, ok := r.records[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *record
	return &copied, nil
}

func (r *fakeCallRecordRepo) Create(_ context.Context, record *model.CallRecord) error {
	if _, ok := r.records[record.ID]; ok {
		return nil // ON CONFLICT DO NOTHING
	}
	copied := *record
	r.records[record.ID] = &copied
	return nil
}

func (r *fakeCallRecordRepo) Update(_ context.Context, record *model.CallRecord) error {
	if _, ok := r.records[record.ID]; !ok {
		return repository.ErrNotFound
	}
	copied := *record
	r.records[record.ID] = &copied
	return nil
}

type fakeContactRepo struct {
	statuses map[uuid.UUID]model.ContactStatus
}

func newFakeContactRepo() *fakeContactRepo {
	return &fakeContactRepo{statuses: map[uuid.UUID]model.ContactStatus{}}
}

func (r *fakeContactRepo) Get(context.Context, uuid.UUID) (*model.Contact, error) {
	return nil, errors.New("not implemented")
}
func (r *fakeContactRepo) ListDispatchable(context.Context, uuid.UUID, int, int) ([]*model.Contact, error) {
	return nil, nil
}
func (r *fakeContactRepo) CountDispatchable(context.Context, uuid.UUID, int) (int, error) {
	return 0, nil
}
func (r *fakeContactRepo) Claim(context.Context, uuid.UUID) (bool, error) { return true, nil }
func (r *fakeContactRepo) UpdateStatus(_ context.Context, id uuid.UUID, status model.ContactStatus) error {
	r.statuses[id] = status
	return nil
}
func (r *fakeContactRepo) MarkBlacklisted(context.Context, uuid.UUID) error { return nil }
func (r *fakeContactRepo) UpdateOptimalCallTime(context.Context, uuid.UUID, *model.OptimalCallTime) error {
	return nil
}
func (r *fakeContactRepo) ListWithoutPrediction(context.Context, uuid.UUID, int) ([]*model.Contact, error) {
	return nil, nil
}

type fakeDTMFRepo struct {
	inserted []*model.DTMFAction
}

func (r *fakeDTMFRepo) InsertUnique(_ context.Context, action *model.DTMFAction) (bool, error) {
	for _, existing := range r.inserted {
		if existing.CallID == action.CallID && existing.Digit == action.Digit &&
			existing.PressedAt.Equal(action.PressedAt) {
			return false, nil
		}
	}
	r.inserted = append(r.inserted, action)
	return true, nil
}

func (r *fakeDTMFRepo) Exists(_ context.Context, callID, digit string, pressedAt time.Time) (bool, error) {
	for _, existing := range r.inserted {
		if existing.CallID == callID && existing.Digit == digit && existing.PressedAt.Equal(pressedAt) {
			return true, nil
		}
	}
	return false, nil
}

type fakeCampaignRepo struct {
	campaign *model.Campaign
}

func (r *fakeCampaignRepo) Get(context.Context, uuid.UUID) (*model.Campaign, error) {
	if r.campaign == nil {
		return nil, repository.ErrNotFound
	}
	return r.campaign, nil
}
func (r *fakeCampaignRepo) ListActive(context.Context) ([]*model.Campaign, error) { return nil, nil }
func (r *fakeCampaignRepo) UpdateStatus(context.Context, uuid.UUID, model.CampaignStatus, model.CampaignStatus) (bool, error) {
	return true, nil
}

type fakeGuard struct {
	blocks []string
	err    error
}

func (g *fakeGuard) IsBlocked(context.Context, string) (bool, error) { return false, nil }
func (g *fakeGuard) Block(_ context.Context, phone, _ string, _ model.BlacklistSource, _ model.JSONMap) error {
	if g.err != nil {
		return g.err
	}
	g.blocks = append(g.blocks, phone)
	return nil
}

type fakeBroker struct {
	published map[string]int
}

func newFakeBroker() *fakeBroker { return &fakeBroker{published: map[string]int{}} }

func (b *fakeBroker) Publish(_ context.Context, channel string, _ interface{}) error {
	b.published[channel]++
	return nil
}
func (b *fakeBroker) Subscribe(context.Context, string) (<-chan []byte, error) { return nil, nil }
func (b *fakeBroker) Close() error                                             { return nil }

func testLogger() *logger.Logger {
	return logger.NewLogger(&logger.Config{Level: logger.ErrorLevel, Output: os.Stderr})
}

type fixture struct {
	records   *fakeCallRecordRepo
	contacts  *fakeContactRepo
	dtmf      *fakeDTMFRepo
	campaigns *fakeCampaignRepo
	guard     *fakeGuard
	broker    *fakeBroker
	redis     *miniredis.Miniredis
	svc       Service
}

func setup(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := cache.NewFromClient(client, time.Second)

	campaign := &model.Campaign{
		Name:   "donation drive",
		Type:   model.CampaignTypeVoice,
		Status: model.CampaignStatusActive,
		Config: model.CampaignConfig{
			MaxAttempts:  3,
			AudioFileURL: "https://cdn.example.com/audio/a.mp3",
			IVRActions:   map[string]string{"9": ActionOptOut, "1": ActionDonate},
		},
	}
	campaign.ID = uuid.New()

	f := &fixture{
		records:   newFakeCallRecordRepo(),
		contacts:  newFakeContactRepo(),
		dtmf:      &fakeDTMFRepo{},
		campaigns: &fakeCampaignRepo{campaign: campaign},
		guard:     &fakeGuard{},
		broker:    newFakeBroker(),
		redis:     mr,
	}
	actions := NewActionDispatcher(
		f.campaigns, f.dtmf, f.guard, f.broker, c, "donation_requests", testLogger(), nil,
	)
	f.svc = NewService(f.records, f.contacts, c, actions, testLogger(), nil)
	return f
}

func event(callID string, eventType model.EventType, at time.Time) *model.LifecycleEvent {
	return &model.LifecycleEvent{
		CallID:      callID,
		CampaignID:  uuid.New(),
		ContactID:   uuid.New(),
		PhoneNumber: "+4915712345678",
		Channel:     model.ChannelVoice,
		EventType:   eventType,
		Timestamp:   at,
	}
}

func TestRecordInitiatedCreatesRecord(t *testing.T) {
	f := setup(t)
	now := time.Now()

	require.NoError(t, f.svc.Record(context.Background(), event("call-1", model.EventInitiated, now)))

	record := f.records.records["call-1"]
	require.NotNil(t, record)
	assert.Equal(t, model.CallStatusInProgress, record.Status)
	require.NotNil(t, record.StartedAt)
	assert.True(t, record.StartedAt.Equal(now))
}

func TestRecordFullLifecycle(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	init := event("call-1", model.EventInitiated, start)
	require.NoError(t, f.svc.Record(ctx, init))

	answered := *init
	answered.EventType = model.EventAnswered
	answered.Timestamp = start.Add(5 * time.Second)
	require.NoError(t, f.svc.Record(ctx, &answered))

	ended := *init
	ended.EventType = model.EventEnded
	ended.Timestamp = start.Add(65 * time.Second)
	ended.Outcome = "answered"
	ended.Cost = 0.12
	require.NoError(t, f.svc.Record(ctx, &ended))

	record := f.records.records["call-1"]
	require.NotNil(t, record)
	assert.Equal(t, model.CallStatusCompleted, record.Status)
	assert.Equal(t, "answered", record.Outcome)
	require.NotNil(t, record.DurationSecs)
	assert.Equal(t, int64(65), *record.DurationSecs)
	require.NotNil(t, record.Cost)
	assert.Equal(t, 0.12, *record.Cost)

	// Terminal outcome settles the contact
	assert.Equal(t, model.ContactStatusCompleted, f.contacts.statuses[init.ContactID])
}

func TestRecordEndedRedeliveryKeepsDuration(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	init := event("call-1", model.EventInitiated, start)
	require.NoError(t, f.svc.Record(ctx, init))

	ended := *init
	ended.EventType = model.EventEnded
	ended.Timestamp = start.Add(30 * time.Second)
	ended.Outcome = "answered"
	require.NoError(t, f.svc.Record(ctx, &ended))

	// Redelivered with a later timestamp must not recompute anything
	late := ended
	late.Timestamp = start.Add(5 * time.Minute)
	require.NoError(t, f.svc.Record(ctx, &late))

	record := f.records.records["call-1"]
	require.NotNil(t, record.DurationSecs)
	assert.Equal(t, int64(30), *record.DurationSecs)
	assert.True(t, record.EndedAt.Equal(start.Add(30*time.Second)))
}

func TestRecordOutOfOrderEventIgnored(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	start := time.Now()

	init := event("call-1", model.EventInitiated, start)
	require.NoError(t, f.svc.Record(ctx, init))

	ended := *init
	ended.EventType = model.EventEnded
	ended.Outcome = "no_answer"
	ended.Timestamp = start.Add(20 * time.Second)
	require.NoError(t, f.svc.Record(ctx, &ended))

	// A stale "answered" arriving after completion changes nothing
	answered := *init
	answered.EventType = model.EventAnswered
	answered.Timestamp = start.Add(10 * time.Second)
	require.NoError(t, f.svc.Record(ctx, &answered))

	record := f.records.records["call-1"]
	assert.Equal(t, model.CallStatusCompleted, record.Status)
	assert.Equal(t, "no_answer", record.Outcome)
}

func TestRecordUnreachableOutcomeFailsContact(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	start := time.Now()

	init := event("call-1", model.EventInitiated, start)
	require.NoError(t, f.svc.Record(ctx, init))

	ended := *init
	ended.EventType = model.EventEnded
	ended.Outcome = "busy"
	ended.Timestamp = start.Add(10 * time.Second)
	require.NoError(t, f.svc.Record(ctx, &ended))

	// Busy means not reached: the contact goes back to failed for re-selection
	assert.Equal(t, model.ContactStatusFailed, f.contacts.statuses[init.ContactID])
}

func TestRecordLiveCounters(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	start := time.Now()

	init := event("call-1", model.EventInitiated, start)
	require.NoError(t, f.svc.Record(ctx, init))

	prefix := "campaign:" + init.CampaignID.String() + ":"
	attempts, _ := f.redis.Get(prefix + "attempts")
	active, _ := f.redis.Get(prefix + "active")
	assert.Equal(t, "1", attempts)
	assert.Equal(t, "1", active)

	ended := *init
	ended.EventType = model.EventEnded
	ended.Outcome = "answered"
	ended.Timestamp = start.Add(10 * time.Second)
	require.NoError(t, f.svc.Record(ctx, &ended))

	active, _ = f.redis.Get(prefix + "active")
	assert.Equal(t, "0", active)
	outcomes, _ := f.redis.Get(prefix + "outcome:answered")
	assert.Equal(t, "1", outcomes)
}

func TestRecordRedeliveryCountsOnce(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	start := time.Now()

	init := event("call-1", model.EventInitiated, start)
	require.NoError(t, f.svc.Record(ctx, init))
	require.NoError(t, f.svc.Record(ctx, init))

	prefix := "campaign:" + init.CampaignID.String() + ":"
	attempts, _ := f.redis.Get(prefix + "attempts")
	active, _ := f.redis.Get(prefix + "active")
	assert.Equal(t, "1", attempts)
	assert.Equal(t, "1", active)

	ended := *init
	ended.EventType = model.EventEnded
	ended.Outcome = "answered"
	ended.Timestamp = start.Add(10 * time.Second)
	require.NoError(t, f.svc.Record(ctx, &ended))
	require.NoError(t, f.svc.Record(ctx, &ended))

	// A redelivered ended must not decrement active below zero
	active, _ = f.redis.Get(prefix + "active")
	outcomes, _ := f.redis.Get(prefix + "outcome:answered")
	assert.Equal(t, "0", active)
	assert.Equal(t, "1", outcomes)
}

func TestRecordCounterFailureDoesNotFailEvent(t *testing.T) {
	f := setup(t)
	f.redis.Close()

	err := f.svc.Record(context.Background(), event("call-1", model.EventInitiated, time.Now()))
	assert.NoError(t, err)
	assert.NotNil(t, f.records.records["call-1"])
}

func TestRecordRejectsMissingCallID(t *testing.T) {
	f := setup(t)
	evt := event("", model.EventInitiated, time.Now())
	assert.Error(t, f.svc.Record(context.Background(), evt))
}

func TestDTMFOptOutExactlyOnce(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	start := time.Now()

	init := event("call-1", model.EventInitiated, start)
	require.NoError(t, f.svc.Record(ctx, init))

	press := *init
	press.EventType = model.EventDTMFPressed
	press.DTMFInput = "9"
	press.Timestamp = start.Add(15 * time.Second)
	require.NoError(t, f.svc.Record(ctx, &press))

	// Redelivered press: same call, digit and timestamp
	require.NoError(t, f.svc.Record(ctx, &press))

	assert.Equal(t, []string{"+4915712345678"}, f.guard.blocks)
	assert.Len(t, f.dtmf.inserted, 1)
	assert.Equal(t, ActionOptOut, f.dtmf.inserted[0].Action)
}

func TestDTMFDonatePublishesOnce(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	start := time.Now()

	init := event("call-1", model.EventInitiated, start)
	require.NoError(t, f.svc.Record(ctx, init))

	press := *init
	press.EventType = model.EventDTMFPressed
	press.DTMFInput = "1"
	press.Timestamp = start.Add(20 * time.Second)
	require.NoError(t, f.svc.Record(ctx, &press))
	require.NoError(t, f.svc.Record(ctx, &press))

	assert.Equal(t, 1, f.broker.published["donation_requests"])
	assert.Empty(t, f.guard.blocks)
}

func TestDTMFDonateDegradedGuardStillOnce(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	start := time.Now()

	init := event("call-1", model.EventInitiated, start)
	require.NoError(t, f.svc.Record(ctx, init))

	press := *init
	press.EventType = model.EventDTMFPressed
	press.DTMFInput = "1"
	press.Timestamp = start.Add(20 * time.Second)
	require.NoError(t, f.svc.Record(ctx, &press))

	// Guard gone, redelivered press: the durable row still dedups the
	// non-idempotent publish
	f.redis.Close()
	require.NoError(t, f.svc.Record(ctx, &press))

	assert.Equal(t, 1, f.broker.published["donation_requests"])
	assert.Len(t, f.dtmf.inserted, 1)
}

func TestDTMFDistinctPressesBothHandled(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	start := time.Now()

	init := event("call-1", model.EventInitiated, start)
	require.NoError(t, f.svc.Record(ctx, init))

	first := *init
	first.EventType = model.EventDTMFPressed
	first.DTMFInput = "1"
	first.Timestamp = start.Add(10 * time.Second)
	require.NoError(t, f.svc.Record(ctx, &first))

	second := first
	second.Timestamp = start.Add(25 * time.Second)
	require.NoError(t, f.svc.Record(ctx, &second))

	// Same digit pressed twice at different times is two presses
	assert.Equal(t, 2, f.broker.published["donation_requests"])
	assert.Len(t, f.dtmf.inserted, 2)
}

func TestDTMFUnmappedDigitIgnored(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	start := time.Now()

	init := event("call-1", model.EventInitiated, start)
	require.NoError(t, f.svc.Record(ctx, init))

	press := *init
	press.EventType = model.EventDTMFPressed
	press.DTMFInput = "5"
	press.Timestamp = start.Add(10 * time.Second)
	require.NoError(t, f.svc.Record(ctx, &press))

	assert.Empty(t, f.dtmf.inserted)
	assert.Empty(t, f.guard.blocks)
	assert.Empty(t, f.broker.published)
}

func TestDTMFFailedSideEffectRetriesOnRedelivery(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	start := time.Now()

	init := event("call-1", model.EventInitiated, start)
	require.NoError(t, f.svc.Record(ctx, init))

	press := *init
	press.EventType = model.EventDTMFPressed
	press.DTMFInput = "9"
	press.Timestamp = start.Add(15 * time.Second)

	// First delivery: the opt-out write fails, nothing is recorded
	f.guard.err = errors.New("database down")
	require.NoError(t, f.svc.Record(ctx, &press))
	assert.Empty(t, f.dtmf.inserted)

	// Redelivery after recovery succeeds
	f.guard.err = nil
	require.NoError(t, f.svc.Record(ctx, &press))
	assert.Equal(t, []string{"+4915712345678"}, f.guard.blocks)
	assert.Len(t, f.dtmf.inserted, 1)
}
