package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLedgerIntegrity verifies trial balance accumulators against posted lines.
	TaskLedgerIntegrity = "ledger:integrity"
	// TaskInventorySnapshot records the booked inventory value per warehouse.
	TaskInventorySnapshot = "inventory:snapshot"
	// TaskIdempotencyCleanup prunes stale idempotency keys.
	TaskIdempotencyCleanup = "idempotency:cleanup"
)

// LedgerIntegrityPayload selects the period to verify. An empty code means
// the period containing the current date.
type LedgerIntegrityPayload struct {
	PeriodCode string `json:"period_code"`
}

// NewLedgerIntegrityTask constructs an Asynq task for the integrity check.
func NewLedgerIntegrityTask(periodCode string) (*asynq.Task, error) {
	body, err := json.Marshal(LedgerIntegrityPayload{PeriodCode: periodCode})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerIntegrity, body, asynq.Queue(QueueDefault)), nil
}

// InventorySnapshotPayload selects the stock month to snapshot. An empty
// month means the month containing the current date.
type InventorySnapshotPayload struct {
	Month string `json:"month"`
}

// NewInventorySnapshotTask constructs an Asynq task for the stock snapshot.
func NewInventorySnapshotTask(month string) (*asynq.Task, error) {
	body, err := json.Marshal(InventorySnapshotPayload{Month: month})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskInventorySnapshot, body, asynq.Queue(QueueDefault)), nil
}

// IdempotencyCleanupPayload bounds the retention window in hours.
type IdempotencyCleanupPayload struct {
	OlderThanHours int `json:"older_than_hours"`
}

// Retention returns the configured window, defaulting to 72 hours.
func (p IdempotencyCleanupPayload) Retention() time.Duration {
	if p.OlderThanHours <= 0 {
		return 72 * time.Hour
	}
	return time.Duration(p.OlderThanHours) * time.Hour
}

// NewIdempotencyCleanupTask constructs an Asynq task for key cleanup.
func NewIdempotencyCleanupTask(olderThanHours int) (*asynq.Task, error) {
	body, err := json.Marshal(IdempotencyCleanupPayload{OlderThanHours: olderThanHours})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}
