package worker

import (
	"context"
	"time"

	"github.com/jwalitptl/dispatch-api/internal/model"
	"github.com/jwalitptl/dispatch-api/internal/repository"
	"github.com/jwalitptl/dispatch-api/internal/service/dispatch"
	"github.com/jwalitptl/dispatch-api/internal/service/eligibility"
	"github.com/jwalitptl/dispatch-api/internal/service/prediction"
	"github.com/jwalitptl/dispatch-api/internal/service/ranker"
	"github.com/jwalitptl/dispatch-api/pkg/logger"
	"github.com/jwalitptl/dispatch-api/pkg/metrics"
)

// DispatchCycleWorker drives the periodic dispatch cycle: for every active
// campaign it refreshes missing predictions, selects eligible contacts,
// ranks them by proximity to their optimal call hour, and hands the result
// to the dispatcher. Each campaign is isolated; a failing one never stops
// the cycle for the rest.
type DispatchCycleWorker struct {
	campaigns   repository.CampaignRepository
	contacts    repository.ContactRepository
	eligibility eligibility.Service
	dispatcher  dispatch.Service
	predictor   prediction.Client

	interval       time.Duration
	selectLimit    int
	predictionSize int

	logger  *logger.Logger
	metrics *metrics.Metrics
}

type DispatchCycleConfig struct {
	Interval       time.Duration
	SelectLimit    int
	PredictionSize int
}

func NewDispatchCycleWorker(
	campaigns repository.CampaignRepository,
	contacts repository.ContactRepository,
	elig eligibility.Service,
	disp dispatch.Service,
	predictor prediction.Client,
	cfg DispatchCycleConfig,
	log *logger.Logger,
	m *metrics.Metrics,
) *DispatchCycleWorker {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.SelectLimit <= 0 {
		cfg.SelectLimit = 100
	}
	if cfg.PredictionSize <= 0 {
		cfg.PredictionSize = 50
	}
	return &DispatchCycleWorker{
		campaigns:      campaigns,
		contacts:       contacts,
		eligibility:    elig,
		dispatcher:     disp,
		predictor:      predictor,
		interval:       cfg.Interval,
		selectLimit:    cfg.SelectLimit,
		predictionSize: cfg.PredictionSize,
		logger:         log,
		metrics:        m,
	}
}

// Start blocks until ctx is cancelled. The first cycle runs immediately.
func (w *DispatchCycleWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.RunCycle(ctx)
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("dispatch cycle worker stopping")
			return
		case <-ticker.C:
			w.RunCycle(ctx)
		}
	}
}

// RunCycle executes one full dispatch pass over all active campaigns.
func (w *DispatchCycleWorker) RunCycle(ctx context.Context) {
	start := time.Now()
	defer func() {
		if w.metrics != nil {
			w.metrics.CycleDuration.Observe(time.Since(start).Seconds())
		}
	}()

	campaigns, err := w.campaigns.ListActive(ctx)
	if err != nil {
		w.logger.Error(err, "failed to list active campaigns")
		return
	}
	if len(campaigns) == 0 {
		w.logger.Debug("no active campaigns")
		return
	}

	for _, campaign := range campaigns {
		if ctx.Err() != nil {
			return
		}
		if err := w.processCampaign(ctx, campaign); err != nil {
			w.logger.Error(err, "campaign cycle failed", "campaign_id", campaign.ID.String())
		}
	}
}

func (w *DispatchCycleWorker) processCampaign(ctx context.Context, campaign *model.Campaign) error {
	now := time.Now()

	w.refreshPredictions(ctx, campaign)

	contacts, err := w.eligibility.SelectEligible(ctx, campaign, now, w.selectLimit)
	if err != nil {
		return err
	}
	if len(contacts) == 0 {
		w.logger.Debug("no eligible contacts this cycle", "campaign_id", campaign.ID.String())
		return nil
	}

	ranked := ranker.Rank(contacts, now.In(campaign.Location()))
	if w.metrics != nil {
		w.metrics.ContactsRanked.Add(float64(len(ranked)))
	}

	result, err := w.dispatcher.Dispatch(ctx, campaign, ranked)
	if err != nil {
		return err
	}

	w.logger.Info("dispatch cycle completed",
		"campaign_id", campaign.ID.String(),
		"batches", result.BatchesSent,
		"dispatched", result.TasksDispatched,
		"failed", result.TasksFailed,
		"pending_remaining", result.PendingRemaining,
	)
	return nil
}

// refreshPredictions backfills optimal-call-time estimates for contacts that
// have none. Inference failures degrade to no prediction, which the ranker
// places last; the cycle proceeds regardless.
func (w *DispatchCycleWorker) refreshPredictions(ctx context.Context, campaign *model.Campaign) {
	missing, err := w.contacts.ListWithoutPrediction(ctx, campaign.ID, w.predictionSize)
	if err != nil {
		w.logger.WarnErr(err, "failed to list contacts without predictions",
			"campaign_id", campaign.ID.String())
		return
	}
	if len(missing) == 0 {
		return
	}

	predictions, err := w.predictor.PredictBatch(ctx, missing)
	if err != nil {
		w.logger.WarnErr(err, "prediction refresh failed", "campaign_id", campaign.ID.String())
		return
	}

	stored := 0
	for _, p := range predictions {
		if p.OptimalCallTime == nil {
			continue
		}
		if err := w.contacts.UpdateOptimalCallTime(ctx, p.ContactID, p.OptimalCallTime); err != nil {
			w.logger.WarnErr(err, "failed to store prediction", "contact_id", p.ContactID.String())
			continue
		}
		stored++
	}
	if stored > 0 {
		w.logger.Debug("predictions refreshed",
			"campaign_id", campaign.ID.String(), "stored", stored)
	}
}
