package close

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// TxStore is the pgx.Tx-scoped implementation of TxRepository.
type TxStore struct {
	tx pgx.Tx
}

// NewTxStore wraps a transaction.
func NewTxStore(tx pgx.Tx) *TxStore { return &TxStore{tx: tx} }

func (s *TxStore) DraftLedgerCount(ctx context.Context, periodID int64) (int64, error) {
	var n int64
	err := s.tx.QueryRow(ctx, `SELECT COUNT(*) FROM ledgers WHERE period_id=$1 AND status='DRAFT'`, periodID).Scan(&n)
	return n, err
}

func (s *TxStore) PendingDocumentCounts(ctx context.Context, from, to time.Time) (PendingCounts, error) {
	var c PendingCounts
	err := s.tx.QueryRow(ctx, `SELECT
 (SELECT COUNT(*) FROM invoices WHERE status IN ('DRAFT','PENDING') AND invoice_date BETWEEN $1 AND $2),
 (SELECT COUNT(*) FROM expenses WHERE status IN ('DRAFT','PENDING_APPROVAL') AND expense_date BETWEEN $1 AND $2),
 (SELECT COUNT(*) FROM purchase_orders WHERE status NOT IN ('CLOSED','CANCELLED') AND order_date BETWEEN $1 AND $2)`,
		from, to).Scan(&c.Invoices, &c.Expenses, &c.PurchaseOrders)
	return c, err
}

func (s *TxStore) PostedTotals(ctx context.Context, periodID int64) (decimal.Decimal, decimal.Decimal, error) {
	var debit, credit string
	err := s.tx.QueryRow(ctx, `SELECT COALESCE(SUM(ll.debit),0)::text, COALESCE(SUM(ll.credit),0)::text
FROM ledger_lines ll
JOIN ledgers l ON l.id = ll.ledger_id
WHERE l.period_id=$1 AND l.status='POSTED'`, periodID).Scan(&debit, &credit)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	d, err := decimal.NewFromString(debit)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	c, err := decimal.NewFromString(credit)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	return d, c, nil
}
