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

type fallbackRepository struct {
	db *sqlx.DB
}

func NewFallbackRepository(db *sqlx.DB) repository.FallbackRepository {
	return &fallbackRepository{db: db}
}

func (r *fallbackRepository) InsertUnique(ctx context.Context, record *model.FallbackRecord) (bool, error) {
	query := `
		INSERT INTO fallback_records (
			id, idempotency_key, campaign_id, contact_id, message_id,
			failure_reason, target_channel, outcome, audio_url, error_message, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (idempotency_key) DO NOTHING
	`
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	record.CreatedAt = time.Now()

	res, err := r.db.ExecContext(ctx, query,
		record.ID,
		record.IdempotencyKey,
		record.CampaignID,
		record.ContactID,
		record.MessageID,
		record.FailureReason,
		record.TargetChannel,
		record.Outcome,
		record.AudioURL,
		record.ErrorMessage,
		record.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert fallback record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *fallbackRepository) GetByKey(ctx context.Context, idempotencyKey string) (*model.FallbackRecord, error) {
	query := `SELECT * FROM fallback_records WHERE idempotency_key = $1`
	var record model.FallbackRecord
	err := r.db.GetContext(ctx, &record, query, idempotencyKey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get fallback record: %w", err)
	}
	return &record, nil
}

func (r *fallbackRepository) UpdateOutcome(ctx context.Context, id uuid.UUID, outcome model.FallbackOutcome, audioURL string, errorMessage *string) error {
	query := `
		UPDATE fallback_records
		SET outcome = $1, audio_url = $2, error_message = $3
		WHERE id = $4
	`
	_, err := r.db.ExecContext(ctx, query, outcome, audioURL, errorMessage, id)
	if err != nil {
		return fmt.Errorf("failed to update fallback outcome: %w", err)
	}
	return nil
}

// DeleteBefore prunes settled escalation rows; they are short-TTL records.
func (r *fallbackRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM fallback_records WHERE created_at < $1 AND outcome != ''`
	res, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune fallback records: %w", err)
	}
	return res.RowsAffected()
}
