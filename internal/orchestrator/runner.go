package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/castlegraph/castlegraph/internal/analysis"
)

// Runner owns the periodic timers: the crawl tick and the analysis
// scheduling tick. Both fire immediately on start so a fresh deployment
// begins crawling without waiting out the first period.
type Runner struct {
	scheduler gocron.Scheduler
	orch      *Orchestrator
	analysis  *analysis.Scheduler
	period    time.Duration
	analysisP time.Duration
	logger    *slog.Logger
}

// NewRunner creates a runner. analysisSched may be nil when this process
// only crawls.
func NewRunner(orch *Orchestrator, analysisSched *analysis.Scheduler,
	period, analysisPeriod time.Duration, logger *slog.Logger) (*Runner, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	return &Runner{
		scheduler: s,
		orch:      orch,
		analysis:  analysisSched,
		period:    period,
		analysisP: analysisPeriod,
		logger:    logger.With("component", "runner"),
	}, nil
}

// Start registers the jobs and starts the scheduler. ctx bounds the work of
// each tick; cancel it before calling Shutdown.
func (r *Runner) Start(ctx context.Context) error {
	_, err := r.scheduler.NewJob(
		gocron.DurationJob(r.period),
		gocron.NewTask(func() { r.orch.Tick(ctx) }),
		gocron.WithName("crawl-tick"),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return fmt.Errorf("register crawl tick: %w", err)
	}

	if r.analysis != nil {
		_, err = r.scheduler.NewJob(
			gocron.DurationJob(r.analysisP),
			gocron.NewTask(func() {
				if err := r.analysis.Tick(ctx); err != nil {
					r.logger.Error("analysis tick failed", "error", err)
				}
			}),
			gocron.WithName("analysis-tick"),
			gocron.WithStartAt(gocron.WithStartImmediately()),
		)
		if err != nil {
			return fmt.Errorf("register analysis tick: %w", err)
		}
	}

	r.scheduler.Start()
	r.logger.Info("timers started", "crawl_period", r.period, "analysis_period", r.analysisP)
	return nil
}

// Shutdown stops the timers and waits for running ticks.
func (r *Runner) Shutdown() error {
	return r.scheduler.Shutdown()
}
