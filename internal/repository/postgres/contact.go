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

type contactRepository struct {
	db *sqlx.DB
}

func NewContactRepository(db *sqlx.DB) repository.ContactRepository {
	return &contactRepository{db: db}
}

func (r *contactRepository) Get(ctx context.Context, id uuid.UUID) (*model.Contact, error) {
	query := `SELECT * FROM contacts WHERE id = $1`
	var contact model.Contact
	err := r.db.GetContext(ctx, &contact, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get contact: %w", err)
	}
	return &contact, nil
}

func (r *contactRepository) ListDispatchable(ctx context.Context, campaignID uuid.UUID, maxAttempts, limit int) ([]*model.Contact, error) {
	query := `
		SELECT * FROM contacts
		WHERE campaign_id = $1
		AND status IN ('pending', 'failed')
		AND attempts < $2
		ORDER BY created_at ASC
		LIMIT $3
	`
	var contacts []*model.Contact
	err := r.db.SelectContext(ctx, &contacts, query, campaignID, maxAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list dispatchable contacts: %w", err)
	}
	return contacts, nil
}

func (r *contactRepository) CountDispatchable(ctx context.Context, campaignID uuid.UUID, maxAttempts int) (int, error) {
	query := `
		SELECT COUNT(*) FROM contacts
		WHERE campaign_id = $1
		AND status IN ('pending', 'failed')
		AND attempts < $2
	`
	var count int
	if err := r.db.GetContext(ctx, &count, query, campaignID, maxAttempts); err != nil {
		return 0, fmt.Errorf("failed to count dispatchable contacts: %w", err)
	}
	return count, nil
}

// Claim is the dispatch-level lock: the conditional status predicate makes
// re-claiming racy contacts a no-op instead of a double dial.
func (r *contactRepository) Claim(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE contacts
		SET status = 'in_progress', attempts = attempts + 1, updated_at = $1
		WHERE id = $2
		AND status IN ('pending', 'failed')
	`
	res, err := r.db.ExecContext(ctx, query, time.Now(), id)
	if err != nil {
		return false, fmt.Errorf("failed to claim contact: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *contactRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status model.ContactStatus) error {
	query := `UPDATE contacts SET status = $1, updated_at = $2 WHERE id = $3 AND status != 'blacklisted'`
	_, err := r.db.ExecContext(ctx, query, status, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update contact status: %w", err)
	}
	return nil
}

func (r *contactRepository) MarkBlacklisted(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE contacts SET status = 'blacklisted', updated_at = $1 WHERE id = $2`
	_, err := r.db.ExecContext(ctx, query, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to blacklist contact: %w", err)
	}
	return nil
}

func (r *contactRepository) UpdateOptimalCallTime(ctx context.Context, id uuid.UUID, prediction *model.OptimalCallTime) error {
	query := `UPDATE contacts SET optimal_call_time = $1, updated_at = $2 WHERE id = $3`
	_, err := r.db.ExecContext(ctx, query, prediction, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update optimal call time: %w", err)
	}
	return nil
}

func (r *contactRepository) ListWithoutPrediction(ctx context.Context, campaignID uuid.UUID, limit int) ([]*model.Contact, error) {
	query := `
		SELECT * FROM contacts
		WHERE campaign_id = $1
		AND optimal_call_time IS NULL
		AND status IN ('pending', 'failed')
		ORDER BY created_at ASC
		LIMIT $2
	`
	var contacts []*model.Contact
	err := r.db.SelectContext(ctx, &contacts, query, campaignID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list contacts without prediction: %w", err)
	}
	return contacts, nil
}
