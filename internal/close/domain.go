package close

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/accounting/ledger"
	"github.com/meridian-erp/meridian-erp/internal/accounting/periods"
	"github.com/meridian-erp/meridian-erp/internal/inventory"
)

// UnitOfWork is the widest transaction scope in the system. Closing
// touches the ledger, the summaries, the stock balances, and its own
// validation queries inside one transaction.
type UnitOfWork interface {
	inventory.UnitOfWork
	CloseStore() TxRepository
}

// Runner opens a unit of work and commits it when the callback returns
// nil or rolls everything back when it errors.
type Runner interface {
	WithUnitOfWork(ctx context.Context, fn func(context.Context, UnitOfWork) error) error
}

// TxRepository exposes the validation queries the closing engine runs.
type TxRepository interface {
	DraftLedgerCount(ctx context.Context, periodID int64) (int64, error)
	PendingDocumentCounts(ctx context.Context, from, to time.Time) (PendingCounts, error)
	PostedTotals(ctx context.Context, periodID int64) (debit, credit decimal.Decimal, err error)
}

// PendingCounts are source documents still awaiting settlement inside
// the period window.
type PendingCounts struct {
	Invoices       int64
	Expenses       int64
	PurchaseOrders int64
}

// ValidationSummary is the pre-closing checklist result.
type ValidationSummary struct {
	PeriodCode     string
	DraftLedgers   int64
	Pending        PendingCounts
	TotalDebit     decimal.Decimal
	TotalCredit    decimal.Decimal
	OutOfBalanceBy decimal.Decimal
	Blockers       []string
}

// Clean reports whether nothing blocks the close.
func (v ValidationSummary) Clean() bool { return len(v.Blockers) == 0 }

// ClosingBlockedError carries the checklist that refused the close.
type ClosingBlockedError struct {
	Summary ValidationSummary
}

func (e *ClosingBlockedError) Error() string {
	return "close: period " + e.Summary.PeriodCode + " blocked: " + strings.Join(e.Summary.Blockers, "; ")
}

// CloseInput drives PerformClosing. When AutoCreateNext is false the
// close fails unless the following period has already been provisioned.
type CloseInput struct {
	PeriodCode     string
	ActorID        int64
	AutoCreateNext bool
	Notes          string
}

// ReopenInput drives Reopen. Reason is mandatory.
type ReopenInput struct {
	PeriodCode string
	ActorID    int64
	Reason     string
}

// ClosingResult reports what a completed close did.
type ClosingResult struct {
	Period          periods.Period
	NextPeriod      periods.Period
	Validation      ValidationSummary
	RolledAccounts  int
	RolledStockRows int
	Adjustments     []ledger.Ledger
}

var (
	// ErrReasonRequired indicates a reopen without a reason.
	ErrReasonRequired = errors.New("close: reopen reason required")
)
