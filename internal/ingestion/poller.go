package ingestion

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/rezonia/fiscal-ingest/internal/model"
)

// Runner runs ingestion for one taxpayer
type Runner interface {
	RunIngestion(ctx context.Context, taxpayerID string) *model.RunSummary
}

// ProfileLister lists the profiles due for polling
type ProfileLister interface {
	ListActive(ctx context.Context) ([]model.IntegrationConfig, error)
}

// Poller runs ingestion for every active profile on a fixed interval.
// Runs are sequential; a new round starts only after the previous one ended
// and the interval elapsed.
type Poller struct {
	runner   Runner
	profiles ProfileLister
	interval time.Duration
	log      *zap.Logger
}

// NewPoller creates a poller
func NewPoller(runner Runner, profiles ProfileLister, interval time.Duration, log *zap.Logger) *Poller {
	if log == nil {
		log = zap.NewNop()
	}
	return &Poller{
		runner:   runner,
		profiles: profiles,
		interval: interval,
		log:      log.Named("poller"),
	}
}

// Run polls until ctx is cancelled. The first round starts immediately.
func (p *Poller) Run(ctx context.Context) error {
	p.log.Info("poller started", zap.Duration("interval", p.interval))

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			p.log.Info("poller stopped")
			return nil
		case <-timer.C:
			p.RunOnce(ctx)
			timer.Reset(p.interval)
		}
	}
}

// RunOnce runs ingestion once for every active profile
func (p *Poller) RunOnce(ctx context.Context) []*model.RunSummary {
	profiles, err := p.profiles.ListActive(ctx)
	if err != nil {
		p.log.Error("failed to list active profiles", zap.Error(err))
		return nil
	}

	summaries := make([]*model.RunSummary, 0, len(profiles))
	for _, cfg := range profiles {
		if ctx.Err() != nil {
			break
		}
		summaries = append(summaries, p.runner.RunIngestion(ctx, cfg.TaxpayerID))
	}
	return summaries
}
