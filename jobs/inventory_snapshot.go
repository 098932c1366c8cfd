package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/accounting/periods"
	"github.com/meridian-erp/meridian-erp/internal/close"
	jobmetrics "github.com/meridian-erp/meridian-erp/internal/jobs"
)

// InventorySnapshotJob logs the booked inventory value per warehouse for a
// stock month. The output feeds dashboards that watch valuation trends
// between period closes.
type InventorySnapshotJob struct {
	runner   close.Runner
	resolver *periods.Resolver
	logger   *slog.Logger
	metrics  *jobmetrics.Metrics
	now      func() time.Time
}

// NewInventorySnapshotJob wires the snapshot job.
func NewInventorySnapshotJob(runner close.Runner, resolver *periods.Resolver, logger *slog.Logger, metrics *jobmetrics.Metrics) *InventorySnapshotJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &InventorySnapshotJob{
		runner:   runner,
		resolver: resolver,
		logger:   logger,
		metrics:  metrics,
		now:      time.Now,
	}
}

// Handle processes TaskInventorySnapshot tasks.
func (j *InventorySnapshotJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload InventorySnapshotPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	month := payload.Month
	if month == "" {
		month = j.resolver.CodeFor(j.now())
	}
	tracker := j.metrics.Track("inventory_snapshot")
	return tracker.End(j.run(ctx, month))
}

func (j *InventorySnapshotJob) run(ctx context.Context, month string) error {
	type snapshot struct {
		warehouseID int64
		value       decimal.Decimal
	}
	var rows []snapshot
	err := j.runner.WithUnitOfWork(ctx, func(ctx context.Context, unit close.UnitOfWork) error {
		store := unit.InventoryStore()
		warehouses, err := store.WarehousesWithStock(ctx, month)
		if err != nil {
			return err
		}
		for _, id := range warehouses {
			value, err := store.TotalInventoryValue(ctx, id, month)
			if err != nil {
				return err
			}
			rows = append(rows, snapshot{warehouseID: id, value: value})
		}
		return nil
	})
	if err != nil {
		return err
	}
	total := decimal.Zero
	for _, row := range rows {
		total = total.Add(row.value)
		j.logger.Info("inventory snapshot",
			slog.String("month", month),
			slog.Int64("warehouse_id", row.warehouseID),
			slog.String("value", row.value.String()),
		)
	}
	j.logger.Info("inventory snapshot total",
		slog.String("month", month),
		slog.Int("warehouses", len(rows)),
		slog.String("value", total.String()),
	)
	return nil
}
