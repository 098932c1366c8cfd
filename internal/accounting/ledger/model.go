package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LedgerStatus enumerates journal lifecycle values. Posted ledgers are
// immutable; the only allowed transition is POSTED -> VOID.
type LedgerStatus string

const (
	LedgerStatusDraft  LedgerStatus = "DRAFT"
	LedgerStatusPosted LedgerStatus = "POSTED"
	LedgerStatusVoid   LedgerStatus = "VOID"
)

// Ledger is the journal header. Number is unique within its
// (prefix, year, month) scope and resets monthly.
type Ledger struct {
	ID           int64
	Number       string
	PeriodID     int64
	Date         time.Time
	PostingDate  time.Time
	SourceModule string
	SourceID     uuid.UUID
	Memo         string
	PostedBy     int64
	Status       LedgerStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
	Lines        []LedgerLine
}

// LedgerLine stores a debit or credit amount for an account; exactly one
// side is non-zero. LocalAmount is a passthrough for foreign-currency
// documents, never recomputed here.
type LedgerLine struct {
	ID          int64
	LedgerID    int64
	AccountID   int64
	Debit       decimal.Decimal
	Credit      decimal.Decimal
	Currency    string
	LocalAmount decimal.Decimal
	Description string

	DimProjectID  *int64
	DimCustomerID *int64
	DimSupplierID *int64
	DimEmployeeID *int64
	DimOrderID    *int64

	CreatedAt time.Time
	UpdatedAt time.Time
}
