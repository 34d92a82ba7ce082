package eligibility

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/dispatch-api/internal/model"
	"github.com/jwalitptl/dispatch-api/pkg/logger"
)

type fakeContactRepo struct {
	dispatchable []*model.Contact
	listErr      error
	blacklisted  map[uuid.UUID]bool
}

func newFakeContactRepo(contacts ...*model.Contact) *fakeContactRepo {
	return &fakeContactRepo{dispatchable: contacts, blacklisted: map[uuid.UUID]bool{}}
}

func (r *fakeContactRepo) Get(context.Context, uuid.UUID) (*model.Contact, error) {
	return nil, errors.New("not implemented")
}

func (r *fakeContactRepo) ListDispatchable(_ context.Context, _ uuid.UUID, maxAttempts, limit int) ([]*model.Contact, error) {
	if r.listErr != nil {
		return nil, r.listErr
	}
	out := []*model.Contact{}
	for _, c := range r.dispatchable {
		if len(out) >= limit {
			break
		}
		if c.Attempts >= maxAttempts {
			continue
		}
		if c.Status != model.ContactStatusPending && c.Status != model.ContactStatusFailed {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (r *fakeContactRepo) CountDispatchable(context.Context, uuid.UUID, int) (int, error) {
	return len(r.dispatchable), nil
}

func (r *fakeContactRepo) Claim(context.Context, uuid.UUID) (bool, error) { return true, nil }

func (r *fakeContactRepo) UpdateStatus(context.Context, uuid.UUID, model.ContactStatus) error {
	return nil
}

func (r *fakeContactRepo) MarkBlacklisted(_ context.Context, id uuid.UUID) error {
	r.blacklisted[id] = true
	return nil
}

func (r *fakeContactRepo) UpdateOptimalCallTime(context.Context, uuid.UUID, *model.OptimalCallTime) error {
	return nil
}

func (r *fakeContactRepo) ListWithoutPrediction(context.Context, uuid.UUID, int) ([]*model.Contact, error) {
	return nil, nil
}

type fakeGuard struct {
	blocked  map[string]bool
	checkErr error
}

func (g *fakeGuard) IsBlocked(_ context.Context, phone string) (bool, error) {
	if g.checkErr != nil {
		return false, g.checkErr
	}
	return g.blocked[phone], nil
}

func (g *fakeGuard) Block(context.Context, string, string, model.BlacklistSource, model.JSONMap) error {
	return nil
}

func testLogger() *logger.Logger {
	return logger.NewLogger(&logger.Config{Level: logger.ErrorLevel, Output: os.Stderr})
}

func activeCampaign() *model.Campaign {
	c := &model.Campaign{
		Name:     "reminder run",
		Type:     model.CampaignTypeSMS,
		Status:   model.CampaignStatusActive,
		Timezone: "UTC",
		Config: model.CampaignConfig{
			MaxAttempts: 3,
			SMSTemplate: "hi {{name}}",
			CallingWindows: []model.CallingWindow{
				{Days: []time.Weekday{time.Monday}, StartHour: 9, EndHour: 18},
			},
		},
	}
	c.ID = uuid.New()
	return c
}

func pendingContact(phone string) *model.Contact {
	c := &model.Contact{
		PhoneNumber: phone,
		Status:      model.ContactStatusPending,
	}
	c.ID = uuid.New()
	return c
}

// Monday 10:00 UTC, inside the default window.
var insideWindow = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func TestSelectEligibleHappyPath(t *testing.T) {
	a := pendingContact("+4915712345671")
	b := pendingContact("+4915712345672")
	repo := newFakeContactRepo(a, b)
	svc := NewService(repo, &fakeGuard{blocked: map[string]bool{}}, testLogger(), nil)

	eligible, err := svc.SelectEligible(context.Background(), activeCampaign(), insideWindow, 10)
	require.NoError(t, err)
	require.Len(t, eligible, 2)
	assert.Equal(t, a.ID, eligible[0].ID)
	assert.Equal(t, b.ID, eligible[1].ID)
}

func TestSelectEligibleSkipsInactiveCampaign(t *testing.T) {
	repo := newFakeContactRepo(pendingContact("+4915712345671"))
	svc := NewService(repo, &fakeGuard{}, testLogger(), nil)

	campaign := activeCampaign()
	campaign.Status = model.CampaignStatusPaused

	eligible, err := svc.SelectEligible(context.Background(), campaign, insideWindow, 10)
	require.NoError(t, err)
	assert.Empty(t, eligible)
}

func TestSelectEligibleRejectsInvalidCampaign(t *testing.T) {
	repo := newFakeContactRepo()
	svc := NewService(repo, &fakeGuard{}, testLogger(), nil)

	campaign := activeCampaign()
	campaign.Config.SMSTemplate = ""

	_, err := svc.SelectEligible(context.Background(), campaign, insideWindow, 10)
	assert.Error(t, err)
}

func TestSelectEligibleOutsideCallingWindow(t *testing.T) {
	repo := newFakeContactRepo(pendingContact("+4915712345671"))
	svc := NewService(repo, &fakeGuard{blocked: map[string]bool{}}, testLogger(), nil)

	// Monday 20:00 UTC, after the window closes
	evening := time.Date(2026, 3, 2, 20, 0, 0, 0, time.UTC)
	eligible, err := svc.SelectEligible(context.Background(), activeCampaign(), evening, 10)
	require.NoError(t, err)
	assert.Empty(t, eligible)
}

func TestSelectEligibleUsesContactTimezone(t *testing.T) {
	// Monday 10:00 New York is Monday 15:00 UTC; the window check must use
	// the contact's own timezone.
	tz := "America/New_York"
	contact := pendingContact("+12125550123")
	contact.Timezone = &tz
	repo := newFakeContactRepo(contact)
	svc := NewService(repo, &fakeGuard{blocked: map[string]bool{}}, testLogger(), nil)

	utcAfternoon := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	eligible, err := svc.SelectEligible(context.Background(), activeCampaign(), utcAfternoon, 10)
	require.NoError(t, err)
	assert.Len(t, eligible, 1)

	// Monday 23:00 UTC is Monday 18:00 New York, just past the window
	utcNight := time.Date(2026, 3, 2, 23, 0, 0, 0, time.UTC)
	eligible, err = svc.SelectEligible(context.Background(), activeCampaign(), utcNight, 10)
	require.NoError(t, err)
	assert.Empty(t, eligible)
}

func TestSelectEligibleExcludesBlockedAndMarksTerminal(t *testing.T) {
	blocked := pendingContact("+4915712345671")
	clear := pendingContact("+4915712345672")
	repo := newFakeContactRepo(blocked, clear)
	guard := &fakeGuard{blocked: map[string]bool{blocked.PhoneNumber: true}}
	svc := NewService(repo, guard, testLogger(), nil)

	eligible, err := svc.SelectEligible(context.Background(), activeCampaign(), insideWindow, 10)
	require.NoError(t, err)
	require.Len(t, eligible, 1)
	assert.Equal(t, clear.ID, eligible[0].ID)

	// The race with a concurrent opt-out settles as blacklisted, never attempted
	assert.True(t, repo.blacklisted[blocked.ID])
	assert.False(t, repo.blacklisted[clear.ID])
}

func TestSelectEligibleSkipsContactOnComplianceError(t *testing.T) {
	contact := pendingContact("+4915712345671")
	repo := newFakeContactRepo(contact)
	svc := NewService(repo, &fakeGuard{checkErr: errors.New("both tiers down")}, testLogger(), nil)

	eligible, err := svc.SelectEligible(context.Background(), activeCampaign(), insideWindow, 10)
	require.NoError(t, err)
	assert.Empty(t, eligible)

	// Unverifiable is not the same as blocked
	assert.False(t, repo.blacklisted[contact.ID])
}

func TestSelectEligibleRespectsAttemptCap(t *testing.T) {
	exhausted := pendingContact("+4915712345671")
	exhausted.Attempts = 3
	fresh := pendingContact("+4915712345672")
	repo := newFakeContactRepo(exhausted, fresh)
	svc := NewService(repo, &fakeGuard{blocked: map[string]bool{}}, testLogger(), nil)

	eligible, err := svc.SelectEligible(context.Background(), activeCampaign(), insideWindow, 10)
	require.NoError(t, err)
	require.Len(t, eligible, 1)
	assert.Equal(t, fresh.ID, eligible[0].ID)
}

func TestSelectEligibleHonorsLimit(t *testing.T) {
	contacts := []*model.Contact{}
	for i := 0; i < 8; i++ {
		contacts = append(contacts, pendingContact("+491571234567"+string(rune('0'+i))))
	}
	repo := newFakeContactRepo(contacts...)
	svc := NewService(repo, &fakeGuard{blocked: map[string]bool{}}, testLogger(), nil)

	eligible, err := svc.SelectEligible(context.Background(), activeCampaign(), insideWindow, 3)
	require.NoError(t, err)
	assert.Len(t, eligible, 3)
}
