package delivery

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
	"github.com/jwalitptl/dispatch-api/internal/telephony"
	"github.com/jwalitptl/dispatch-api/pkg/logger"
)

type fakeTransport struct {
	receipt  *SendReceipt
	err      error
	lastText string
	lastTo   string
	calls    int
}

func (t *fakeTransport) Send(_ context.Context, phoneNumber, text string) (*SendReceipt, error) {
	t.calls++
	t.lastTo = phoneNumber
	t.lastText = text
	if t.err != nil {
		return nil, t.err
	}
	return t.receipt, nil
}

type fakeTelephony struct {
	err      error
	commands []telephony.CallCommand
}

func (f *fakeTelephony) PlaceCall(_ context.Context, cmd telephony.CallCommand) error {
	if f.err != nil {
		return f.err
	}
	f.commands = append(f.commands, cmd)
	return nil
}

func testLogger() *logger.Logger {
	return logger.NewLogger(&logger.Config{Level: logger.ErrorLevel, Output: os.Stderr})
}

func smsTask() *model.EnrichedDispatchTask {
	return &model.EnrichedDispatchTask{
		DispatchTask: model.DispatchTask{
			TaskID:      uuid.New(),
			ContactID:   uuid.New(),
			CampaignID:  uuid.New(),
			PhoneNumber: "+4915712345678",
			Metadata:    model.JSONMap{"name": "Ada"},
			Timestamp:   time.Now(),
		},
		Campaign: model.CampaignSummary{
			ID:   uuid.New(),
			Name: "reminder",
			Type: model.CampaignTypeSMS,
			Config: model.CampaignConfig{
				SMSTemplate:  "Hi {{name}}, see you soon",
				AudioFileURL: "https://cdn.example.com/audio/a.mp3",
			},
		},
	}
}

func TestSendSMSSuccess(t *testing.T) {
	transport := &fakeTransport{receipt: &SendReceipt{MessageID: "prov-1", Cost: 0.04}}
	svc := NewService(transport, &fakeTelephony{}, testLogger(), nil)

	outcome, err := svc.Send(context.Background(), smsTask(), model.ChannelSMS)
	require.NoError(t, err)

	assert.Equal(t, model.DeliveryStatusSent, outcome.Status)
	assert.Equal(t, model.ChannelSMS, outcome.Channel)
	assert.False(t, outcome.RequiresFallback)
	assert.Equal(t, "prov-1", outcome.ProviderMessageID)
	assert.Equal(t, 0.04, outcome.Cost)
	assert.Equal(t, "Hi Ada, see you soon", transport.lastText)
	assert.Equal(t, "+4915712345678", transport.lastTo)
}

func TestSendSMSFailureClassification(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		wantFallback bool
	}{
		{
			name:         "landline detected escalates",
			err:          &ProviderError{Code: "E_DEST", Message: "landline detected"},
			wantFallback: true,
		},
		{
			name:         "invalid destination escalates",
			err:          &ProviderError{Code: "E_DEST", Message: "invalid destination number"},
			wantFallback: true,
		},
		{
			name:         "unsupported destination escalates",
			err:          &ProviderError{Code: "UNSUPPORTED", Message: "carrier does not accept sms"},
			wantFallback: true,
		},
		{
			name:         "insufficient balance does not escalate",
			err:          &ProviderError{Code: "E_BALANCE", Message: "insufficient balance"},
			wantFallback: false,
		},
		{
			name:         "spam rejection does not escalate",
			err:          &ProviderError{Code: "E_SPAM", Message: "message flagged"},
			wantFallback: false,
		},
		{
			name:         "transport error fails open to fallback",
			err:          errors.New("connection reset"),
			wantFallback: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport := &fakeTransport{err: tt.err}
			svc := NewService(transport, &fakeTelephony{}, testLogger(), nil)

			outcome, err := svc.Send(context.Background(), smsTask(), model.ChannelSMS)
			require.NoError(t, err)
			assert.Equal(t, model.DeliveryStatusFailed, outcome.Status)
			assert.Equal(t, tt.wantFallback, outcome.RequiresFallback)
			assert.NotEmpty(t, outcome.FailureReason)
		})
	}
}

func TestSendSMSKeepsRenderedTextForFallback(t *testing.T) {
	transport := &fakeTransport{err: &ProviderError{Code: "E_DEST", Message: "landline detected"}}
	svc := NewService(transport, &fakeTelephony{}, testLogger(), nil)

	outcome, err := svc.Send(context.Background(), smsTask(), model.ChannelSMS)
	require.NoError(t, err)
	// The escalator synthesizes the text the contact should have received
	assert.Equal(t, "Hi Ada, see you soon", outcome.RenderedText)
}

func TestSendVoiceInitiates(t *testing.T) {
	tel := &fakeTelephony{}
	svc := NewService(&fakeTransport{}, tel, testLogger(), nil)

	task := smsTask()
	task.Campaign.Type = model.CampaignTypeVoice

	outcome, err := svc.Send(context.Background(), task, model.ChannelVoice)
	require.NoError(t, err)

	assert.Equal(t, model.DeliveryStatusInitiated, outcome.Status)
	assert.Equal(t, model.ChannelVoice, outcome.Channel)
	assert.NotEmpty(t, outcome.ProviderMessageID)

	require.Len(t, tel.commands, 1)
	cmd := tel.commands[0]
	assert.Equal(t, outcome.ProviderMessageID, cmd.CallID)
	assert.Equal(t, task.PhoneNumber, cmd.PhoneNumber)
	assert.Equal(t, task.Campaign.Config.AudioFileURL, cmd.AudioFileURL)
}

func TestSendVoiceInitiationFailure(t *testing.T) {
	tel := &fakeTelephony{err: errors.New("collaborator unavailable")}
	svc := NewService(&fakeTransport{}, tel, testLogger(), nil)

	outcome, err := svc.Send(context.Background(), smsTask(), model.ChannelVoice)
	require.NoError(t, err)
	assert.Equal(t, model.DeliveryStatusFailed, outcome.Status)
	assert.False(t, outcome.RequiresFallback)
}

func TestSendUnknownChannel(t *testing.T) {
	svc := NewService(&fakeTransport{}, &fakeTelephony{}, testLogger(), nil)
	_, err := svc.Send(context.Background(), smsTask(), model.Channel("fax"))
	assert.Error(t, err)
}
