package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/dispatch-api/internal/model"
	"github.com/jwalitptl/dispatch-api/internal/repository"
)

type blacklistRepository struct {
	db *sqlx.DB
}

func NewBlacklistRepository(db *sqlx.DB) repository.BlacklistRepository {
	return &blacklistRepository{db: db}
}

// Insert never overwrites: an existing entry for the number wins, because a
// recorded opt-out must stay exactly as it was recorded.
func (r *blacklistRepository) Insert(ctx context.Context, entry *model.BlacklistEntry) (bool, error) {
	query := `
		INSERT INTO blacklist (id, phone_number, reason, source, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (phone_number) DO NOTHING
	`
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	res, err := r.db.ExecContext(ctx, query,
		entry.ID,
		entry.PhoneNumber,
		entry.Reason,
		entry.Source,
		entry.Metadata,
		entry.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert blacklist entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *blacklistRepository) Exists(ctx context.Context, phoneNumber string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM blacklist WHERE phone_number = $1)`
	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, phoneNumber); err != nil {
		return false, fmt.Errorf("failed to check blacklist: %w", err)
	}
	return exists, nil
}
