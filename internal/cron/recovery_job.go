package cron

import (
	"context"
	"errors"
	"sync"

	"github.com/PASLLC7291/high-end-auction-sub002/internal/recovery"
	"github.com/PASLLC7291/high-end-auction-sub002/pkg/logger"
)

const RecoveryJobName = "recovery"

type recoveryScheduler interface {
	Run(ctx context.Context) *recovery.Report
}

type RecoveryJobParams struct {
	Logger    *logger.Logger
	Scheduler recoveryScheduler
}

// RecoveryJob runs one recovery pass per cycle and keeps the latest report
// for callers that trigger it on demand.
type RecoveryJob struct {
	logg      *logger.Logger
	scheduler recoveryScheduler

	mu   sync.Mutex
	last *recovery.Report
}

func NewRecoveryJob(params RecoveryJobParams) (*RecoveryJob, error) {
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	if params.Scheduler == nil {
		return nil, errors.New("recovery scheduler required")
	}
	return &RecoveryJob{logg: params.Logger, scheduler: params.Scheduler}, nil
}

func (j *RecoveryJob) Name() string { return RecoveryJobName }

// Run returns the combined step errors so the cron service counts a
// partially failed pass as a failure.
func (j *RecoveryJob) Run(ctx context.Context) error {
	report := j.scheduler.Run(ctx)

	j.mu.Lock()
	j.last = report
	j.mu.Unlock()

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"steps":             len(report.Steps),
		"failed_steps":      report.FailedSteps(),
		"halted":            report.Halted,
		"spent_today_cents": report.SpentTodayCents,
		"awaiting_invoice":  report.AwaitingInvoice,
	})
	if report.Halted {
		j.logg.Warn(logCtx, "recovery halted: "+report.HaltReason)
	}
	return report.Err()
}

// LastReport returns the report of the most recent run, or nil.
func (j *RecoveryJob) LastReport() *recovery.Report {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.last
}
