package summary

import (
	"context"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/accounting/accounts"
	"github.com/meridian-erp/meridian-erp/internal/accounting/periods"
)

type memStore struct {
	tb     map[string]TrialBalanceRow
	gl     map[string]GLSummaryRow
	totals []AccountTotal
	days   []DayTotal
}

func newMemStore() *memStore {
	return &memStore{tb: map[string]TrialBalanceRow{}, gl: map[string]GLSummaryRow{}}
}

func tbKey(periodID, accountID int64) string { return fmt.Sprintf("%d/%d", periodID, accountID) }
func glKey(accountID, periodID int64, day time.Time) string {
	return fmt.Sprintf("%d/%d/%s", accountID, periodID, day.Format("2006-01-02"))
}

func (m *memStore) GetTrialBalanceRow(_ context.Context, periodID, accountID int64) (TrialBalanceRow, error) {
	row, ok := m.tb[tbKey(periodID, accountID)]
	if !ok {
		return TrialBalanceRow{}, ErrRowNotFound
	}
	return row, nil
}

func (m *memStore) UpsertTrialBalanceRow(_ context.Context, row TrialBalanceRow) error {
	m.tb[tbKey(row.PeriodID, row.AccountID)] = row
	return nil
}

func (m *memStore) TrialBalanceRows(_ context.Context, periodID int64) ([]TrialBalanceRow, error) {
	var out []TrialBalanceRow
	for _, row := range m.tb {
		if row.PeriodID == periodID {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })
	return out, nil
}

func (m *memStore) GetGLSummaryRow(_ context.Context, accountID, periodID int64, day time.Time) (GLSummaryRow, error) {
	row, ok := m.gl[glKey(accountID, periodID, day)]
	if !ok {
		return GLSummaryRow{}, ErrRowNotFound
	}
	return row, nil
}

func (m *memStore) UpsertGLSummaryRow(_ context.Context, row GLSummaryRow) error {
	m.gl[glKey(row.AccountID, row.PeriodID, row.Day)] = row
	return nil
}

func (m *memStore) LatestClosingBefore(_ context.Context, accountID, periodID int64, day time.Time) (decimal.Decimal, error) {
	best := decimal.Zero
	var bestDay time.Time
	for _, row := range m.gl {
		if row.AccountID == accountID && row.PeriodID == periodID && row.Day.Before(day) {
			if bestDay.IsZero() || row.Day.After(bestDay) {
				best = row.ClosingBalance
				bestDay = row.Day
			}
		}
	}
	return best, nil
}

func (m *memStore) DeleteGLSummaryRange(_ context.Context, periodID int64, from, to time.Time) error {
	for key, row := range m.gl {
		if row.PeriodID == periodID && !row.Day.Before(from) && !row.Day.After(to) {
			delete(m.gl, key)
		}
	}
	return nil
}

func (m *memStore) PostedTotalsByAccount(context.Context, int64) ([]AccountTotal, error) {
	return m.totals, nil
}

func (m *memStore) PostedDayTotals(context.Context, int64, time.Time, time.Time) ([]DayTotal, error) {
	return m.days, nil
}

type stubDirectory struct{ list []accounts.Account }

func (d stubDirectory) ListPostable(context.Context) ([]accounts.Account, error) { return d.list, nil }

var (
	cashAccount = accounts.Account{
		ID: 1, Code: "1000", Name: "Cash",
		Type: accounts.AccountTypeAsset, NormalSide: accounts.BalanceSideDebit,
		IsPostable: true, IsActive: true,
	}
	revenueAccount = accounts.Account{
		ID: 2, Code: "4000", Name: "Revenue",
		Type: accounts.AccountTypeRevenue, NormalSide: accounts.BalanceSideCredit,
		IsPostable: true, IsActive: true,
	}
)

func testPeriod() periods.Period {
	resolver := periods.NewResolver(time.UTC, time.January)
	p := resolver.PeriodFor(time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC))
	p.ID = 1
	return p
}

func newTestAggregator() *Aggregator {
	resolver := periods.NewResolver(time.UTC, time.January)
	return NewAggregator(resolver, stubDirectory{list: []accounts.Account{cashAccount, revenueAccount}})
}

func TestEndingBalanceNetsOntoOneSide(t *testing.T) {
	d, c := EndingBalance(accounts.BalanceSideDebit,
		decimal.NewFromInt(100), decimal.Zero,
		decimal.NewFromInt(50), decimal.NewFromInt(30))
	require.True(t, d.Equal(decimal.NewFromInt(120)))
	require.True(t, c.IsZero())

	// a debit-normal account pushed negative mirrors onto the credit side
	d, c = EndingBalance(accounts.BalanceSideDebit,
		decimal.Zero, decimal.Zero,
		decimal.NewFromInt(10), decimal.NewFromInt(40))
	require.True(t, d.IsZero())
	require.True(t, c.Equal(decimal.NewFromInt(30)))

	d, c = EndingBalance(accounts.BalanceSideCredit,
		decimal.Zero, decimal.NewFromInt(200),
		decimal.NewFromInt(50), decimal.Zero)
	require.True(t, d.IsZero())
	require.True(t, c.Equal(decimal.NewFromInt(150)))
}

func TestIncrementTrialBalanceCreatesAndAccumulates(t *testing.T) {
	agg := newTestAggregator()
	store := newMemStore()
	period := testPeriod()

	require.NoError(t, agg.IncrementTrialBalance(context.Background(), store, period, cashAccount, decimal.NewFromInt(600), decimal.Zero))
	require.NoError(t, agg.IncrementTrialBalance(context.Background(), store, period, cashAccount, decimal.Zero, decimal.NewFromInt(100)))

	row, err := store.GetTrialBalanceRow(context.Background(), period.ID, cashAccount.ID)
	require.NoError(t, err)
	require.True(t, row.PeriodDebit.Equal(decimal.NewFromInt(600)))
	require.True(t, row.PeriodCredit.Equal(decimal.NewFromInt(100)))
	require.True(t, row.EndingDebit.Equal(decimal.NewFromInt(500)))
	require.True(t, row.YTDDebit.Equal(decimal.NewFromInt(600)))
	require.True(t, row.OpeningDebit.IsZero(), "increments never touch the opening")
}

func TestIncrementTrialBalanceRespectsSeededOpening(t *testing.T) {
	agg := newTestAggregator()
	store := newMemStore()
	period := testPeriod()
	require.NoError(t, store.UpsertTrialBalanceRow(context.Background(), TrialBalanceRow{
		PeriodID: period.ID, AccountID: cashAccount.ID,
		OpeningDebit: decimal.NewFromInt(1000),
		EndingDebit:  decimal.NewFromInt(1000),
	}))

	require.NoError(t, agg.IncrementTrialBalance(context.Background(), store, period, cashAccount, decimal.NewFromInt(200), decimal.Zero))

	row, err := store.GetTrialBalanceRow(context.Background(), period.ID, cashAccount.ID)
	require.NoError(t, err)
	require.True(t, row.OpeningDebit.Equal(decimal.NewFromInt(1000)))
	require.True(t, row.EndingDebit.Equal(decimal.NewFromInt(1200)))
}

func TestIncrementGLSummaryChainsDailyOpenings(t *testing.T) {
	agg := newTestAggregator()
	store := newMemStore()
	period := testPeriod()
	day1 := time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC)
	day2 := time.Date(2025, 3, 12, 9, 0, 0, 0, time.UTC)

	require.NoError(t, agg.IncrementGLSummary(context.Background(), store, cashAccount, period, day1, decimal.NewFromInt(500), decimal.Zero))
	require.NoError(t, agg.IncrementGLSummary(context.Background(), store, cashAccount, period, day1, decimal.Zero, decimal.NewFromInt(100)))
	require.NoError(t, agg.IncrementGLSummary(context.Background(), store, cashAccount, period, day2, decimal.NewFromInt(50), decimal.Zero))

	first, err := store.GetGLSummaryRow(context.Background(), cashAccount.ID, period.ID, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.True(t, first.OpeningBalance.IsZero())
	require.True(t, first.ClosingBalance.Equal(decimal.NewFromInt(400)))
	require.EqualValues(t, 2, first.TxCount)

	second, err := store.GetGLSummaryRow(context.Background(), cashAccount.ID, period.ID, time.Date(2025, 3, 12, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.True(t, second.OpeningBalance.Equal(decimal.NewFromInt(400)), "the next day opens at the prior closing")
	require.True(t, second.ClosingBalance.Equal(decimal.NewFromInt(450)))
}

func TestRebuildTrialBalanceConvergesWithIncrements(t *testing.T) {
	agg := newTestAggregator()
	store := newMemStore()
	period := testPeriod()

	require.NoError(t, agg.IncrementTrialBalance(context.Background(), store, period, cashAccount, decimal.NewFromInt(600), decimal.Zero))
	require.NoError(t, agg.IncrementTrialBalance(context.Background(), store, period, revenueAccount, decimal.Zero, decimal.NewFromInt(600)))
	incremental, err := store.GetTrialBalanceRow(context.Background(), period.ID, cashAccount.ID)
	require.NoError(t, err)

	store.totals = []AccountTotal{
		{AccountID: cashAccount.ID, Debit: decimal.NewFromInt(600), Credit: decimal.Zero},
		{AccountID: revenueAccount.ID, Debit: decimal.Zero, Credit: decimal.NewFromInt(600)},
	}
	require.NoError(t, agg.RebuildTrialBalance(context.Background(), store, period))

	rebuilt, err := store.GetTrialBalanceRow(context.Background(), period.ID, cashAccount.ID)
	require.NoError(t, err)
	require.True(t, rebuilt.PeriodDebit.Equal(incremental.PeriodDebit))
	require.True(t, rebuilt.EndingDebit.Equal(incremental.EndingDebit))
	require.True(t, rebuilt.YTDDebit.Equal(incremental.YTDDebit))
}

func TestRebuildTrialBalancePreservesOpeningAndYTDBase(t *testing.T) {
	agg := newTestAggregator()
	store := newMemStore()
	period := testPeriod()

	// rollover seeded an opening and a year-to-date base from prior months
	require.NoError(t, store.UpsertTrialBalanceRow(context.Background(), TrialBalanceRow{
		PeriodID: period.ID, AccountID: cashAccount.ID,
		OpeningDebit: decimal.NewFromInt(1000),
		PeriodDebit:  decimal.NewFromInt(50),
		YTDDebit:     decimal.NewFromInt(2050),
	}))
	store.totals = []AccountTotal{
		{AccountID: cashAccount.ID, Debit: decimal.NewFromInt(300), Credit: decimal.Zero},
	}

	require.NoError(t, agg.RebuildTrialBalance(context.Background(), store, period))

	row, err := store.GetTrialBalanceRow(context.Background(), period.ID, cashAccount.ID)
	require.NoError(t, err)
	require.True(t, row.OpeningDebit.Equal(decimal.NewFromInt(1000)))
	require.True(t, row.PeriodDebit.Equal(decimal.NewFromInt(300)))
	require.True(t, row.YTDDebit.Equal(decimal.NewFromInt(2300)), "ytd base 2000 plus rebuilt period 300: %s", row.YTDDebit)
	require.True(t, row.EndingDebit.Equal(decimal.NewFromInt(1300)))
}

func TestRebuildGLSummaryRechainsDays(t *testing.T) {
	agg := newTestAggregator()
	store := newMemStore()
	period := testPeriod()
	day1 := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	day2 := time.Date(2025, 3, 12, 0, 0, 0, 0, time.UTC)

	// stale row that the rebuild must replace
	require.NoError(t, store.UpsertGLSummaryRow(context.Background(), GLSummaryRow{
		AccountID: cashAccount.ID, PeriodID: period.ID, Day: day1,
		TotalDebit: decimal.NewFromInt(9999), ClosingBalance: decimal.NewFromInt(9999), TxCount: 7,
	}))
	store.days = []DayTotal{
		{AccountID: cashAccount.ID, Day: day2, Debit: decimal.NewFromInt(50), TxCount: 1},
		{AccountID: cashAccount.ID, Day: day1, Debit: decimal.NewFromInt(400), TxCount: 2},
	}

	require.NoError(t, agg.RebuildGLSummary(context.Background(), store, period, period.StartDate, period.EndDate))

	first, err := store.GetGLSummaryRow(context.Background(), cashAccount.ID, period.ID, day1)
	require.NoError(t, err)
	require.True(t, first.TotalDebit.Equal(decimal.NewFromInt(400)))
	require.EqualValues(t, 2, first.TxCount)

	second, err := store.GetGLSummaryRow(context.Background(), cashAccount.ID, period.ID, day2)
	require.NoError(t, err)
	require.True(t, second.OpeningBalance.Equal(decimal.NewFromInt(400)))
	require.True(t, second.ClosingBalance.Equal(decimal.NewFromInt(450)))
}

func TestVerifyTrialBalanceReportsDrift(t *testing.T) {
	agg := newTestAggregator()
	store := newMemStore()
	period := testPeriod()

	require.NoError(t, store.UpsertTrialBalanceRow(context.Background(), TrialBalanceRow{
		PeriodID: period.ID, AccountID: cashAccount.ID,
		PeriodDebit: decimal.NewFromInt(500),
	}))
	store.totals = []AccountTotal{
		{AccountID: cashAccount.ID, Debit: decimal.NewFromInt(600), Credit: decimal.Zero},
		{AccountID: revenueAccount.ID, Debit: decimal.Zero, Credit: decimal.NewFromInt(600)},
	}

	out, err := agg.VerifyTrialBalance(context.Background(), store, period)
	require.NoError(t, err)
	require.Len(t, out, 2)

	sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })
	require.Equal(t, cashAccount.ID, out[0].AccountID)
	require.True(t, out[0].StoredDebit.Equal(decimal.NewFromInt(500)))
	require.True(t, out[0].ActualDebit.Equal(decimal.NewFromInt(600)))
	require.Equal(t, revenueAccount.ID, out[1].AccountID, "missing rows are reported too")

	// in sync: no findings
	store.tb = map[string]TrialBalanceRow{}
	require.NoError(t, agg.RebuildTrialBalance(context.Background(), store, period))
	out, err = agg.VerifyTrialBalance(context.Background(), store, period)
	require.NoError(t, err)
	require.Empty(t, out)
}
