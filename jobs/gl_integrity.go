package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/meridian-erp/meridian-erp/internal/accounting/periods"
	"github.com/meridian-erp/meridian-erp/internal/accounting/summary"
	"github.com/meridian-erp/meridian-erp/internal/close"
	jobmetrics "github.com/meridian-erp/meridian-erp/internal/jobs"
	"github.com/meridian-erp/meridian-erp/internal/accounting/shared"
)

// GLIntegrityJob cross-checks the trial balance accumulators of a period
// against the posted ledger lines. It never mutates; drift is reported
// through logs and metrics so an operator can trigger a rebuild.
type GLIntegrityJob struct {
	runner     close.Runner
	resolver   *periods.Resolver
	aggregator *summary.Aggregator
	logger     *slog.Logger
	metrics    *jobmetrics.Metrics
	now        func() time.Time
}

// NewGLIntegrityJob wires the integrity job.
func NewGLIntegrityJob(runner close.Runner, resolver *periods.Resolver, aggregator *summary.Aggregator, logger *slog.Logger, metrics *jobmetrics.Metrics) *GLIntegrityJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &GLIntegrityJob{
		runner:     runner,
		resolver:   resolver,
		aggregator: aggregator,
		logger:     logger,
		metrics:    metrics,
		now:        time.Now,
	}
}

// Handle processes TaskLedgerIntegrity tasks.
func (j *GLIntegrityJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload LedgerIntegrityPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	code := payload.PeriodCode
	if code == "" {
		code = j.resolver.CodeFor(j.now())
	}
	tracker := j.metrics.Track("gl_integrity")
	return tracker.End(j.run(ctx, code))
}

func (j *GLIntegrityJob) run(ctx context.Context, code string) error {
	var findings []summary.Discrepancy
	err := j.runner.WithUnitOfWork(ctx, func(ctx context.Context, unit close.UnitOfWork) error {
		period, err := unit.PeriodStore().FindByCode(ctx, code)
		if err != nil {
			return err
		}
		findings, err = j.aggregator.VerifyTrialBalance(ctx, unit.SummaryStore(), period)
		return err
	})
	if errors.Is(err, shared.ErrPeriodNotFound) {
		j.logger.Info("gl integrity skipped, period absent", slog.String("period", code))
		return nil
	}
	if err != nil {
		return err
	}
	if len(findings) == 0 {
		j.logger.Info("gl integrity clean", slog.String("period", code))
		return nil
	}
	j.metrics.AddDrift(code, len(findings))
	for _, f := range findings {
		j.logger.Warn("trial balance drift",
			slog.String("period", code),
			slog.Int64("account_id", f.AccountID),
			slog.String("stored_debit", f.StoredDebit.String()),
			slog.String("stored_credit", f.StoredCredit.String()),
			slog.String("actual_debit", f.ActualDebit.String()),
			slog.String("actual_credit", f.ActualCredit.String()),
		)
	}
	return nil
}
