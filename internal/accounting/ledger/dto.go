package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/accounting/shared"
)

// PostingLine describes one entry of a posting request. The account is
// referenced either directly by id or symbolically by (module, key) via
// the account registry.
type PostingLine struct {
	AccountID     int64
	AccountModule string
	AccountKey    string
	Debit         decimal.Decimal
	Credit        decimal.Decimal
	Description   string
	LocalAmount   decimal.Decimal

	ProjectID  *int64
	CustomerID *int64
	SupplierID *int64
	EmployeeID *int64
	OrderID    *int64
}

// PostingInput groups fields required to post a ledger entry.
type PostingInput struct {
	Prefix       string
	Date         time.Time
	SourceModule string
	SourceID     uuid.UUID
	Memo         string
	Currency     string
	PostedBy     int64
	Lines        []PostingLine
}

// Validate ensures the posting is structurally sound and balanced within
// the 0.01 tolerance before anything touches storage.
func (in PostingInput) Validate() error {
	if len(in.Lines) < 2 {
		return shared.ErrTooFewLines
	}
	if in.SourceModule == "" {
		return errors.New("ledger: source module required")
	}
	if in.SourceID == uuid.Nil {
		return errors.New("ledger: source id required")
	}
	if in.Date.IsZero() {
		return errors.New("ledger: transaction date required")
	}
	var debit, credit decimal.Decimal
	for idx, line := range in.Lines {
		if line.AccountID == 0 && line.AccountKey == "" {
			return fmt.Errorf("ledger: line %d missing account reference", idx)
		}
		if line.Debit.IsNegative() || line.Credit.IsNegative() {
			return fmt.Errorf("ledger: line %d negative amount", idx)
		}
		if line.Debit.IsPositive() && line.Credit.IsPositive() {
			return fmt.Errorf("ledger: line %d cannot carry both debit and credit", idx)
		}
		debit = debit.Add(line.Debit)
		credit = credit.Add(line.Credit)
	}
	if debit.Sub(credit).Abs().GreaterThan(shared.BalanceTolerance) {
		return &shared.UnbalancedError{Debit: debit, Credit: credit}
	}
	return nil
}

// VoidInput wraps parameters for voiding a posted ledger.
type VoidInput struct {
	LedgerID int64
	ActorID  int64
	Reason   string
}
