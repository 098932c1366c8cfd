package shared

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// BalanceTolerance is the rounding slack allowed when comparing totals.
var BalanceTolerance = decimal.New(1, -2) // 0.01

var (
	// ErrUnitOfWorkRequired indicates the caller did not supply a transaction scope.
	ErrUnitOfWorkRequired = errors.New("accounting: unit of work required")
	// ErrUnbalanced indicates debit != credit beyond tolerance.
	ErrUnbalanced = errors.New("accounting: ledger lines must balance")
	// ErrTooFewLines indicates less than two lines.
	ErrTooFewLines = errors.New("accounting: ledger requires at least two lines")
	// ErrAccountNotFound indicates a missing account reference.
	ErrAccountNotFound = errors.New("accounting: account not found")
	// ErrAccountNotConfigured indicates a symbolic key with no mapped account.
	ErrAccountNotConfigured = errors.New("accounting: account not configured for key")
	// ErrHeaderAccount indicates a posting against a non-postable node.
	ErrHeaderAccount = errors.New("accounting: header accounts do not accept postings")
	// ErrPeriodNotFound indicates no period covers the transaction date.
	ErrPeriodNotFound = errors.New("accounting: no period covers date")
	// ErrPeriodClosed indicates posting into a closed period.
	ErrPeriodClosed = errors.New("accounting: period is closed")
	// ErrPeriodClosing indicates posting while a close run is in flight.
	ErrPeriodClosing = errors.New("accounting: period close in progress")
	// ErrLedgerNotFound indicates a missing ledger entry.
	ErrLedgerNotFound = errors.New("accounting: ledger entry not found")
	// ErrDuplicatePosting indicates the source document already has a ledger.
	ErrDuplicatePosting = errors.New("accounting: source document already posted")
	// ErrInvalidStatus indicates an action cannot proceed from the current status.
	ErrInvalidStatus = errors.New("accounting: invalid status transition")
	// ErrSourceConflict indicates the source link already exists.
	ErrSourceConflict = errors.New("accounting: source link conflict")
)

// UnbalancedError carries both totals so the caller can fix the source
// document. errors.Is(err, ErrUnbalanced) matches it.
type UnbalancedError struct {
	Debit  decimal.Decimal
	Credit decimal.Decimal
}

func (e *UnbalancedError) Error() string {
	return fmt.Sprintf("accounting: unbalanced entry: debit %s credit %s", e.Debit, e.Credit)
}

func (e *UnbalancedError) Is(target error) bool { return target == ErrUnbalanced }
