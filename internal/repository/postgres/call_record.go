package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/dispatch-api/internal/model"
	"github.com/jwalitptl/dispatch-api/internal/repository"
)

type callRecordRepository struct {
	db *sqlx.DB
}

func NewCallRecordRepository(db *sqlx.DB) repository.CallRecordRepository {
	return &callRecordRepository{db: db}
}

func (r *callRecordRepository) Get(ctx context.Context, id string) (*model.CallRecord, error) {
	query := `SELECT * FROM call_records WHERE id = $1`
	var record model.CallRecord
	err := r.db.GetContext(ctx, &record, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get call record: %w", err)
	}
	return &record, nil
}

func (r *callRecordRepository) Create(ctx context.Context, record *model.CallRecord) error {
	query := `
		INSERT INTO call_records (
			id, campaign_id, contact_id, phone_number, channel, status,
			outcome, started_at, answered_at, ended_at, duration_secs, cost,
			dtmf_inputs, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15
		)
		ON CONFLICT (id) DO NOTHING
	`
	record.CreatedAt = time.Now()
	record.UpdatedAt = record.CreatedAt

	_, err := r.db.ExecContext(ctx, query,
		record.ID,
		record.CampaignID,
		record.ContactID,
		record.PhoneNumber,
		record.Channel,
		record.Status,
		record.Outcome,
		record.StartedAt,
		record.AnsweredAt,
		record.EndedAt,
		record.DurationSecs,
		record.Cost,
		record.DTMFInputs,
		record.CreatedAt,
		record.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create call record: %w", err)
	}
	return nil
}

func (r *callRecordRepository) Update(ctx context.Context, record *model.CallRecord) error {
	query := `
		UPDATE call_records
		SET status = $1, outcome = $2, started_at = $3, answered_at = $4,
			ended_at = $5, duration_secs = $6, cost = $7, dtmf_inputs = $8,
			updated_at = $9
		WHERE id = $10
	`
	record.UpdatedAt = time.Now()
	_, err := r.db.ExecContext(ctx, query,
		record.Status,
		record.Outcome,
		record.StartedAt,
		record.AnsweredAt,
		record.EndedAt,
		record.DurationSecs,
		record.Cost,
		record.DTMFInputs,
		record.UpdatedAt,
		record.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update call record: %w", err)
	}
	return nil
}

type dtmfActionRepository struct {
	db *sqlx.DB
}

func NewDTMFActionRepository(db *sqlx.DB) repository.DTMFActionRepository {
	return &dtmfActionRepository{db: db}
}

func (r *dtmfActionRepository) InsertUnique(ctx context.Context, action *model.DTMFAction) (bool, error) {
	query := `
		INSERT INTO dtmf_actions (id, call_id, digit, pressed_at, action, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (call_id, digit, pressed_at) DO NOTHING
	`
	if action.ID == uuid.Nil {
		action.ID = uuid.New()
	}
	action.CreatedAt = time.Now()

	res, err := r.db.ExecContext(ctx, query,
		action.ID,
		action.CallID,
		action.Digit,
		action.PressedAt,
		action.Action,
		action.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert dtmf action: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *dtmfActionRepository) Exists(ctx context.Context, callID, digit string, pressedAt time.Time) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM dtmf_actions WHERE call_id = $1 AND digit = $2 AND pressed_at = $3)`

	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, callID, digit, pressedAt); err != nil {
		return false, fmt.Errorf("failed to check dtmf action: %w", err)
	}
	return exists, nil
}
