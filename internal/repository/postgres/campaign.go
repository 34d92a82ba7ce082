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

type campaignRepository struct {
	db *sqlx.DB
}

func NewCampaignRepository(db *sqlx.DB) repository.CampaignRepository {
	return &campaignRepository{db: db}
}

func (r *campaignRepository) Get(ctx context.Context, id uuid.UUID) (*model.Campaign, error) {
	query := `SELECT * FROM campaigns WHERE id = $1`
	var campaign model.Campaign
	err := r.db.GetContext(ctx, &campaign, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get campaign: %w", err)
	}
	return &campaign, nil
}

func (r *campaignRepository) ListActive(ctx context.Context) ([]*model.Campaign, error) {
	query := `SELECT * FROM campaigns WHERE status = $1 ORDER BY created_at ASC`
	var campaigns []*model.Campaign
	err := r.db.SelectContext(ctx, &campaigns, query, model.CampaignStatusActive)
	if err != nil {
		return nil, fmt.Errorf("failed to list active campaigns: %w", err)
	}
	return campaigns, nil
}

// UpdateStatus transitions status conditionally so concurrent writers cannot
// skip lifecycle states. Returns false when the row was not in `from`.
func (r *campaignRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to model.CampaignStatus) (bool, error) {
	if !from.CanTransitionTo(to) {
		return false, fmt.Errorf("invalid campaign transition %s -> %s", from, to)
	}
	query := `UPDATE campaigns SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`
	res, err := r.db.ExecContext(ctx, query, to, time.Now(), id, from)
	if err != nil {
		return false, fmt.Errorf("failed to update campaign status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
