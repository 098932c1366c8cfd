package inventory

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BatchType enumerates stock batch movements. Only inbound types are
// eligible for FIFO consumption.
type BatchType string

const (
	BatchTypeIn            BatchType = "IN"
	BatchTypeAdjustmentIn  BatchType = "ADJUSTMENT_IN"
	BatchTypeOut           BatchType = "OUT"
	BatchTypeAdjustmentOut BatchType = "ADJUSTMENT_OUT"
)

// StockBatch is a discrete stock receipt with a residual quantity,
// consumed oldest-first. Residual only ever decreases and never goes
// negative.
type StockBatch struct {
	ID          int64
	ProductID   int64
	WarehouseID int64
	Type        BatchType
	Qty         decimal.Decimal
	Residual    decimal.Decimal
	UnitCost    decimal.Decimal
	Consumed    bool
	RefModule   string
	RefID       uuid.UUID
	CreatedAt   time.Time
}

// Allocation is the append-only link from an issuance line to the batch
// it drew from and the quantity taken.
type Allocation struct {
	ID        int64
	RefModule string
	RefID     uuid.UUID
	LineID    int64
	BatchID   int64
	Qty       decimal.Decimal
	UnitCost  decimal.Decimal
	CreatedAt time.Time
}

// StockBalance summarises stock per (product, warehouse, period month).
// Available always equals closing minus booked.
type StockBalance struct {
	ID             int64
	ProductID      int64
	WarehouseID    int64
	Month          string
	OpeningStock   decimal.Decimal
	StockIn        decimal.Decimal
	StockOut       decimal.Decimal
	ClosingStock   decimal.Decimal
	BookedStock    decimal.Decimal
	AvailableStock decimal.Decimal
	InventoryValue decimal.Decimal
	UpdatedAt      time.Time
}

// StockMovement is the audit snapshot written for every level change:
// before/after quantities, the computed price, and the source reference.
type StockMovement struct {
	ID          int64
	ProductID   int64
	WarehouseID int64
	Type        BatchType
	Qty         decimal.Decimal
	BeforeQty   decimal.Decimal
	AfterQty    decimal.Decimal
	UnitCost    decimal.Decimal
	TotalCost   decimal.Decimal
	RefModule   string
	RefID       uuid.UUID
	ActorID     int64
	OccurredAt  time.Time
}

// ReceiptInput records an inbound batch.
type ReceiptInput struct {
	ProductID   int64
	WarehouseID int64
	Type        BatchType
	Qty         decimal.Decimal
	UnitCost    decimal.Decimal
	Date        time.Time
	RefModule   string
	RefID       uuid.UUID
	ActorID     int64
}

// ReserveInput books stock for a future issuance.
type ReserveInput struct {
	ProductID   int64
	WarehouseID int64
	Qty         decimal.Decimal
	Date        time.Time
}

// IssueInput fulfils an approved, already-booked issuance.
type IssueInput struct {
	ProductID   int64
	WarehouseID int64
	Qty         decimal.Decimal
	Date        time.Time
	RefModule   string
	RefID       uuid.UUID
	LineID      int64
	ActorID     int64
}

// IssueResult reports what an issuance consumed.
type IssueResult struct {
	Allocations []Allocation
	UnitCost    decimal.Decimal
	TotalCost   decimal.Decimal
}

// PostIssueInput drives the idempotency-guarded COGS posting for a
// completed issuance document.
type PostIssueInput struct {
	RefModule   string
	RefID       uuid.UUID
	WarehouseID int64
	UsageModule string
	UsageKey    string
	Date        time.Time
	Memo        string
	ActorID     int64
}

var (
	// ErrInvalidQuantity indicates a non-positive quantity.
	ErrInvalidQuantity = errors.New("inventory: quantity must be positive")
	// ErrInvalidUnitCost indicates a negative cost value.
	ErrInvalidUnitCost = errors.New("inventory: unit cost must be >= 0")
	// ErrBalanceNotFound indicates a missing stock balance row.
	ErrBalanceNotFound = errors.New("inventory: stock balance not found")
	// ErrInsufficientBookedStock indicates the reservation does not cover the issuance.
	ErrInsufficientBookedStock = errors.New("inventory: booked stock below requested quantity")
	// ErrInsufficientPhysicalStock indicates batches exhausted before the
	// issuance was satisfied. The sub-ledger and physical stock disagree;
	// this is surfaced, never silently tolerated.
	ErrInsufficientPhysicalStock = errors.New("inventory: physical batches below requested quantity")
	// ErrInsufficientAvailableStock indicates a reservation beyond available stock.
	ErrInsufficientAvailableStock = errors.New("inventory: available stock below requested quantity")
	// ErrNothingToPost indicates an issuance with no allocations.
	ErrNothingToPost = errors.New("inventory: no allocations to post")
)
