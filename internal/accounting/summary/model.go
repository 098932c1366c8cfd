package summary

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/accounting/accounts"
)

// ErrRowNotFound indicates a missing summary row; callers create lazily.
var ErrRowNotFound = errors.New("summary: row not found")

// TrialBalanceRow keeps one (period, account) aggregate. Opening balances
// are seeded only by period rollover, never derived here.
type TrialBalanceRow struct {
	ID            int64
	PeriodID      int64
	AccountID     int64
	OpeningDebit  decimal.Decimal
	OpeningCredit decimal.Decimal
	PeriodDebit   decimal.Decimal
	PeriodCredit  decimal.Decimal
	EndingDebit   decimal.Decimal
	EndingCredit  decimal.Decimal
	YTDDebit      decimal.Decimal
	YTDCredit     decimal.Decimal
	UpdatedAt     time.Time
}

// GLSummaryRow keeps one (account, period, day) rollup. A day's opening
// equals the prior day's closing for the same key.
type GLSummaryRow struct {
	ID             int64
	AccountID      int64
	PeriodID       int64
	Day            time.Time
	OpeningBalance decimal.Decimal
	TotalDebit     decimal.Decimal
	TotalCredit    decimal.Decimal
	ClosingBalance decimal.Decimal
	TxCount        int64
	UpdatedAt      time.Time
}

// AccountTotal aggregates posted lines per account.
type AccountTotal struct {
	AccountID int64
	Debit     decimal.Decimal
	Credit    decimal.Decimal
}

// DayTotal aggregates posted lines per account and day.
type DayTotal struct {
	AccountID int64
	Day       time.Time
	Debit     decimal.Decimal
	Credit    decimal.Decimal
	TxCount   int64
}

// EndingBalance nets opening plus period mutation onto a single side. A
// debit-normal account keeps a non-negative net as its ending debit and
// mirrors a negative net onto the credit side; credit-normal accounts
// mirror the logic. A row never carries both ending sides at once.
func EndingBalance(side accounts.BalanceSide, openingDebit, openingCredit, periodDebit, periodCredit decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	zero := decimal.Zero
	if side == accounts.BalanceSideCredit {
		net := openingCredit.Add(periodCredit).Sub(openingDebit.Add(periodDebit))
		if net.Sign() >= 0 {
			return zero, net
		}
		return net.Neg(), zero
	}
	net := openingDebit.Add(periodDebit).Sub(openingCredit.Add(periodCredit))
	if net.Sign() >= 0 {
		return net, zero
	}
	return zero, net.Neg()
}

// NetDebit collapses a row to a signed debit-positive balance.
func (r TrialBalanceRow) NetDebit() decimal.Decimal {
	return r.OpeningDebit.Add(r.PeriodDebit).Sub(r.OpeningCredit.Add(r.PeriodCredit))
}
