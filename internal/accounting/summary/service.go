package summary

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/accounting/accounts"
	"github.com/meridian-erp/meridian-erp/internal/accounting/periods"
)

// TxRepository exposes summary storage inside a unit of work.
type TxRepository interface {
	GetTrialBalanceRow(ctx context.Context, periodID, accountID int64) (TrialBalanceRow, error)
	UpsertTrialBalanceRow(ctx context.Context, row TrialBalanceRow) error
	TrialBalanceRows(ctx context.Context, periodID int64) ([]TrialBalanceRow, error)
	GetGLSummaryRow(ctx context.Context, accountID, periodID int64, day time.Time) (GLSummaryRow, error)
	UpsertGLSummaryRow(ctx context.Context, row GLSummaryRow) error
	LatestClosingBefore(ctx context.Context, accountID, periodID int64, day time.Time) (decimal.Decimal, error)
	DeleteGLSummaryRange(ctx context.Context, periodID int64, from, to time.Time) error
	PostedTotalsByAccount(ctx context.Context, periodID int64) ([]AccountTotal, error)
	PostedDayTotals(ctx context.Context, periodID int64, from, to time.Time) ([]DayTotal, error)
}

// AccountDirectory supplies chart-of-accounts metadata for rebuilds.
type AccountDirectory interface {
	ListPostable(ctx context.Context) ([]accounts.Account, error)
}

// Aggregator incrementally maintains trial balance and daily GL summary
// rows from posted ledger lines, and can rebuild either from scratch.
// Rebuilding over the same posted-line set converges to the incremental
// result.
type Aggregator struct {
	resolver *periods.Resolver
	accounts AccountDirectory
}

// NewAggregator constructs the aggregator.
func NewAggregator(resolver *periods.Resolver, accounts AccountDirectory) *Aggregator {
	return &Aggregator{resolver: resolver, accounts: accounts}
}

// IncrementTrialBalance upserts the (period, account) row, adding the
// mutation into period, ending, and year-to-date accumulators. Opening
// stays untouched: it is seeded only by rollover.
func (a *Aggregator) IncrementTrialBalance(ctx context.Context, store TxRepository, period periods.Period, account accounts.Account, debit, credit decimal.Decimal) error {
	row, err := store.GetTrialBalanceRow(ctx, period.ID, account.ID)
	if err != nil {
		if !errors.Is(err, ErrRowNotFound) {
			return err
		}
		row = TrialBalanceRow{PeriodID: period.ID, AccountID: account.ID}
	}
	row.PeriodDebit = row.PeriodDebit.Add(debit)
	row.PeriodCredit = row.PeriodCredit.Add(credit)
	row.YTDDebit = row.YTDDebit.Add(debit)
	row.YTDCredit = row.YTDCredit.Add(credit)
	row.EndingDebit, row.EndingCredit = EndingBalance(account.NormalSide, row.OpeningDebit, row.OpeningCredit, row.PeriodDebit, row.PeriodCredit)
	return store.UpsertTrialBalanceRow(ctx, row)
}

// IncrementGLSummary upserts the (account, period, day) row. The first
// mutation for a key seeds its opening from the most recent prior day's
// closing; later mutations only add totals and recompute the closing.
func (a *Aggregator) IncrementGLSummary(ctx context.Context, store TxRepository, account accounts.Account, period periods.Period, date time.Time, debit, credit decimal.Decimal) error {
	day := a.resolver.StartOfDay(date)
	row, err := store.GetGLSummaryRow(ctx, account.ID, period.ID, day)
	if err != nil {
		if !errors.Is(err, ErrRowNotFound) {
			return err
		}
		opening, err := store.LatestClosingBefore(ctx, account.ID, period.ID, day)
		if err != nil {
			return err
		}
		row = GLSummaryRow{AccountID: account.ID, PeriodID: period.ID, Day: day, OpeningBalance: opening}
	}
	row.TotalDebit = row.TotalDebit.Add(debit)
	row.TotalCredit = row.TotalCredit.Add(credit)
	row.TxCount++
	row.ClosingBalance = row.OpeningBalance.Add(row.TotalDebit).Sub(row.TotalCredit)
	return store.UpsertGLSummaryRow(ctx, row)
}

// RebuildTrialBalance recomputes every period accumulator for the period
// from the complete posted-line set. Openings and the rollover-seeded
// year-to-date base survive; this is the repair path, not the hot path.
func (a *Aggregator) RebuildTrialBalance(ctx context.Context, store TxRepository, period periods.Period) error {
	totals, err := store.PostedTotalsByAccount(ctx, period.ID)
	if err != nil {
		return err
	}
	byAccount := make(map[int64]AccountTotal, len(totals))
	for _, t := range totals {
		byAccount[t.AccountID] = t
	}
	postable, err := a.accounts.ListPostable(ctx)
	if err != nil {
		return err
	}
	for _, account := range postable {
		t := byAccount[account.ID]
		row, err := store.GetTrialBalanceRow(ctx, period.ID, account.ID)
		if err != nil {
			if !errors.Is(err, ErrRowNotFound) {
				return err
			}
			if t.Debit.IsZero() && t.Credit.IsZero() {
				continue
			}
			row = TrialBalanceRow{PeriodID: period.ID, AccountID: account.ID}
		}
		ytdBaseDebit := row.YTDDebit.Sub(row.PeriodDebit)
		ytdBaseCredit := row.YTDCredit.Sub(row.PeriodCredit)
		row.PeriodDebit = t.Debit
		row.PeriodCredit = t.Credit
		row.YTDDebit = ytdBaseDebit.Add(t.Debit)
		row.YTDCredit = ytdBaseCredit.Add(t.Credit)
		row.EndingDebit, row.EndingCredit = EndingBalance(account.NormalSide, row.OpeningDebit, row.OpeningCredit, row.PeriodDebit, row.PeriodCredit)
		if err := store.UpsertTrialBalanceRow(ctx, row); err != nil {
			return err
		}
	}
	return nil
}

// RebuildGLSummary drops and recreates the daily rollup rows for the
// period inside [from, to], re-chaining each day's opening to the prior
// day's closing.
func (a *Aggregator) RebuildGLSummary(ctx context.Context, store TxRepository, period periods.Period, from, to time.Time) error {
	from = a.resolver.StartOfDay(from)
	to = a.resolver.StartOfDay(to)
	if to.Before(from) {
		return fmt.Errorf("summary: invalid range %s..%s", from, to)
	}
	totals, err := store.PostedDayTotals(ctx, period.ID, from, to)
	if err != nil {
		return err
	}
	if err := store.DeleteGLSummaryRange(ctx, period.ID, from, to); err != nil {
		return err
	}
	perAccount := make(map[int64][]DayTotal)
	for _, t := range totals {
		perAccount[t.AccountID] = append(perAccount[t.AccountID], t)
	}
	for accountID, days := range perAccount {
		sort.Slice(days, func(i, j int) bool { return days[i].Day.Before(days[j].Day) })
		opening, err := store.LatestClosingBefore(ctx, accountID, period.ID, from)
		if err != nil {
			return err
		}
		for _, d := range days {
			row := GLSummaryRow{
				AccountID:      accountID,
				PeriodID:       period.ID,
				Day:            a.resolver.StartOfDay(d.Day),
				OpeningBalance: opening,
				TotalDebit:     d.Debit,
				TotalCredit:    d.Credit,
				TxCount:        d.TxCount,
			}
			row.ClosingBalance = row.OpeningBalance.Add(row.TotalDebit).Sub(row.TotalCredit)
			if err := store.UpsertGLSummaryRow(ctx, row); err != nil {
				return err
			}
			opening = row.ClosingBalance
		}
	}
	return nil
}

// Discrepancy reports a stored trial balance row that no longer matches
// the posted-line totals it is derived from.
type Discrepancy struct {
	AccountID    int64
	StoredDebit  decimal.Decimal
	StoredCredit decimal.Decimal
	ActualDebit  decimal.Decimal
	ActualCredit decimal.Decimal
}

// VerifyTrialBalance compares stored period accumulators against the
// posted lines without mutating anything. Used by the integrity job.
func (a *Aggregator) VerifyTrialBalance(ctx context.Context, store TxRepository, period periods.Period) ([]Discrepancy, error) {
	totals, err := store.PostedTotalsByAccount(ctx, period.ID)
	if err != nil {
		return nil, err
	}
	byAccount := make(map[int64]AccountTotal, len(totals))
	for _, t := range totals {
		byAccount[t.AccountID] = t
	}
	rows, err := store.TrialBalanceRows(ctx, period.ID)
	if err != nil {
		return nil, err
	}
	var out []Discrepancy
	seen := make(map[int64]bool, len(rows))
	for _, row := range rows {
		seen[row.AccountID] = true
		t := byAccount[row.AccountID]
		if !row.PeriodDebit.Equal(t.Debit) || !row.PeriodCredit.Equal(t.Credit) {
			out = append(out, Discrepancy{
				AccountID:    row.AccountID,
				StoredDebit:  row.PeriodDebit,
				StoredCredit: row.PeriodCredit,
				ActualDebit:  t.Debit,
				ActualCredit: t.Credit,
			})
		}
	}
	for _, t := range totals {
		if !seen[t.AccountID] && (!t.Debit.IsZero() || !t.Credit.IsZero()) {
			out = append(out, Discrepancy{AccountID: t.AccountID, ActualDebit: t.Debit, ActualCredit: t.Credit})
		}
	}
	return out, nil
}
