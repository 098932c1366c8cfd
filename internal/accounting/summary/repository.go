package summary

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// TxStore is the pgx.Tx-scoped implementation of TxRepository. Numeric
// columns travel as text to keep decimal precision intact.
type TxStore struct {
	tx pgx.Tx
}

// NewTxStore wraps a transaction.
func NewTxStore(tx pgx.Tx) *TxStore { return &TxStore{tx: tx} }

func (s *TxStore) GetTrialBalanceRow(ctx context.Context, periodID, accountID int64) (TrialBalanceRow, error) {
	row := s.tx.QueryRow(ctx, `SELECT id, period_id, account_id,
opening_debit::text, opening_credit::text, period_debit::text, period_credit::text,
ending_debit::text, ending_credit::text, ytd_debit::text, ytd_credit::text, updated_at
FROM trial_balances WHERE period_id=$1 AND account_id=$2`, periodID, accountID)
	var tb TrialBalanceRow
	var od, oc, pd, pc, ed, ec, yd, yc string
	err := row.Scan(&tb.ID, &tb.PeriodID, &tb.AccountID, &od, &oc, &pd, &pc, &ed, &ec, &yd, &yc, &tb.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return TrialBalanceRow{}, ErrRowNotFound
		}
		return TrialBalanceRow{}, err
	}
	if err := parseAll(map[*decimal.Decimal]string{
		&tb.OpeningDebit: od, &tb.OpeningCredit: oc,
		&tb.PeriodDebit: pd, &tb.PeriodCredit: pc,
		&tb.EndingDebit: ed, &tb.EndingCredit: ec,
		&tb.YTDDebit: yd, &tb.YTDCredit: yc,
	}); err != nil {
		return TrialBalanceRow{}, err
	}
	return tb, nil
}

func (s *TxStore) UpsertTrialBalanceRow(ctx context.Context, row TrialBalanceRow) error {
	_, err := s.tx.Exec(ctx, `INSERT INTO trial_balances
(period_id, account_id, opening_debit, opening_credit, period_debit, period_credit,
 ending_debit, ending_credit, ytd_debit, ytd_credit, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,NOW())
ON CONFLICT (period_id, account_id) DO UPDATE SET
opening_debit=EXCLUDED.opening_debit, opening_credit=EXCLUDED.opening_credit,
period_debit=EXCLUDED.period_debit, period_credit=EXCLUDED.period_credit,
ending_debit=EXCLUDED.ending_debit, ending_credit=EXCLUDED.ending_credit,
ytd_debit=EXCLUDED.ytd_debit, ytd_credit=EXCLUDED.ytd_credit, updated_at=NOW()`,
		row.PeriodID, row.AccountID,
		row.OpeningDebit.String(), row.OpeningCredit.String(),
		row.PeriodDebit.String(), row.PeriodCredit.String(),
		row.EndingDebit.String(), row.EndingCredit.String(),
		row.YTDDebit.String(), row.YTDCredit.String())
	return err
}

func (s *TxStore) TrialBalanceRows(ctx context.Context, periodID int64) ([]TrialBalanceRow, error) {
	rows, err := s.tx.Query(ctx, `SELECT id, period_id, account_id,
opening_debit::text, opening_credit::text, period_debit::text, period_credit::text,
ending_debit::text, ending_credit::text, ytd_debit::text, ytd_credit::text, updated_at
FROM trial_balances WHERE period_id=$1 ORDER BY account_id`, periodID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []TrialBalanceRow
	for rows.Next() {
		var tb TrialBalanceRow
		var od, oc, pd, pc, ed, ec, yd, yc string
		if err := rows.Scan(&tb.ID, &tb.PeriodID, &tb.AccountID, &od, &oc, &pd, &pc, &ed, &ec, &yd, &yc, &tb.UpdatedAt); err != nil {
			return nil, err
		}
		if err := parseAll(map[*decimal.Decimal]string{
			&tb.OpeningDebit: od, &tb.OpeningCredit: oc,
			&tb.PeriodDebit: pd, &tb.PeriodCredit: pc,
			&tb.EndingDebit: ed, &tb.EndingCredit: ec,
			&tb.YTDDebit: yd, &tb.YTDCredit: yc,
		}); err != nil {
			return nil, err
		}
		out = append(out, tb)
	}
	return out, rows.Err()
}

func (s *TxStore) GetGLSummaryRow(ctx context.Context, accountID, periodID int64, day time.Time) (GLSummaryRow, error) {
	row := s.tx.QueryRow(ctx, `SELECT id, account_id, period_id, day,
opening_balance::text, total_debit::text, total_credit::text, closing_balance::text, tx_count, updated_at
FROM gl_summaries WHERE account_id=$1 AND period_id=$2 AND day=$3`, accountID, periodID, day)
	var g GLSummaryRow
	var ob, td, tc, cb string
	err := row.Scan(&g.ID, &g.AccountID, &g.PeriodID, &g.Day, &ob, &td, &tc, &cb, &g.TxCount, &g.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return GLSummaryRow{}, ErrRowNotFound
		}
		return GLSummaryRow{}, err
	}
	if err := parseAll(map[*decimal.Decimal]string{
		&g.OpeningBalance: ob, &g.TotalDebit: td, &g.TotalCredit: tc, &g.ClosingBalance: cb,
	}); err != nil {
		return GLSummaryRow{}, err
	}
	return g, nil
}

func (s *TxStore) UpsertGLSummaryRow(ctx context.Context, row GLSummaryRow) error {
	_, err := s.tx.Exec(ctx, `INSERT INTO gl_summaries
(account_id, period_id, day, opening_balance, total_debit, total_credit, closing_balance, tx_count, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NOW())
ON CONFLICT (account_id, period_id, day) DO UPDATE SET
opening_balance=EXCLUDED.opening_balance, total_debit=EXCLUDED.total_debit,
total_credit=EXCLUDED.total_credit, closing_balance=EXCLUDED.closing_balance,
tx_count=EXCLUDED.tx_count, updated_at=NOW()`,
		row.AccountID, row.PeriodID, row.Day,
		row.OpeningBalance.String(), row.TotalDebit.String(), row.TotalCredit.String(),
		row.ClosingBalance.String(), row.TxCount)
	return err
}

func (s *TxStore) LatestClosingBefore(ctx context.Context, accountID, periodID int64, day time.Time) (decimal.Decimal, error) {
	var closing string
	err := s.tx.QueryRow(ctx, `SELECT closing_balance::text FROM gl_summaries
WHERE account_id=$1 AND period_id=$2 AND day < $3 ORDER BY day DESC LIMIT 1`, accountID, periodID, day).Scan(&closing)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, nil
		}
		return decimal.Zero, err
	}
	return decimal.NewFromString(closing)
}

func (s *TxStore) DeleteGLSummaryRange(ctx context.Context, periodID int64, from, to time.Time) error {
	_, err := s.tx.Exec(ctx, `DELETE FROM gl_summaries WHERE period_id=$1 AND day BETWEEN $2 AND $3`, periodID, from, to)
	return err
}

func (s *TxStore) PostedTotalsByAccount(ctx context.Context, periodID int64) ([]AccountTotal, error) {
	rows, err := s.tx.Query(ctx, `SELECT l.account_id, COALESCE(SUM(l.debit),0)::text, COALESCE(SUM(l.credit),0)::text
FROM ledger_lines l JOIN ledgers h ON h.id = l.ledger_id
WHERE h.period_id=$1 AND h.status='POSTED'
GROUP BY l.account_id`, periodID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []AccountTotal
	for rows.Next() {
		var t AccountTotal
		var d, c string
		if err := rows.Scan(&t.AccountID, &d, &c); err != nil {
			return nil, err
		}
		if err := parseAll(map[*decimal.Decimal]string{&t.Debit: d, &t.Credit: c}); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *TxStore) PostedDayTotals(ctx context.Context, periodID int64, from, to time.Time) ([]DayTotal, error) {
	rows, err := s.tx.Query(ctx, `SELECT l.account_id, date_trunc('day', h.date) AS day,
COALESCE(SUM(l.debit),0)::text, COALESCE(SUM(l.credit),0)::text, COUNT(*)
FROM ledger_lines l JOIN ledgers h ON h.id = l.ledger_id
WHERE h.period_id=$1 AND h.status='POSTED' AND h.date BETWEEN $2 AND $3
GROUP BY l.account_id, day`, periodID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []DayTotal
	for rows.Next() {
		var t DayTotal
		var d, c string
		if err := rows.Scan(&t.AccountID, &t.Day, &d, &c, &t.TxCount); err != nil {
			return nil, err
		}
		if err := parseAll(map[*decimal.Decimal]string{&t.Debit: d, &t.Credit: c}); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func parseAll(fields map[*decimal.Decimal]string) error {
	for dst, raw := range fields {
		v, err := decimal.NewFromString(raw)
		if err != nil {
			return err
		}
		*dst = v
	}
	return nil
}
