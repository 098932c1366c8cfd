package inventory

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// TxRepository exposes stock storage inside a unit of work.
type TxRepository interface {
	GetBalanceForUpdate(ctx context.Context, productID, warehouseID int64, month string) (StockBalance, error)
	UpsertBalance(ctx context.Context, b StockBalance) error
	BalancesForMonth(ctx context.Context, month string) ([]StockBalance, error)
	DeleteZeroMovementBalances(ctx context.Context, month string) error
	EligibleBatches(ctx context.Context, productID, warehouseID int64) ([]StockBatch, error)
	InsertBatch(ctx context.Context, b StockBatch) (StockBatch, error)
	UpdateBatchResidual(ctx context.Context, batchID int64, residual decimal.Decimal, consumed bool) error
	InsertAllocation(ctx context.Context, a Allocation) (Allocation, error)
	AllocationsForSource(ctx context.Context, module string, ref uuid.UUID) ([]Allocation, error)
	InsertMovement(ctx context.Context, m StockMovement) error
	WarehousesWithStock(ctx context.Context, month string) ([]int64, error)
	TotalInventoryValue(ctx context.Context, warehouseID int64, month string) (decimal.Decimal, error)
}

// TxStore is the pgx.Tx-scoped implementation of TxRepository.
type TxStore struct {
	tx pgx.Tx
}

// NewTxStore wraps a transaction.
func NewTxStore(tx pgx.Tx) *TxStore { return &TxStore{tx: tx} }

const balanceColumns = `id, product_id, warehouse_id, month,
opening_stock::text, stock_in::text, stock_out::text, closing_stock::text,
booked_stock::text, available_stock::text, inventory_value::text, updated_at`

func scanBalance(row pgx.Row) (StockBalance, error) {
	var b StockBalance
	var opening, in, out, closing, booked, available, value string
	err := row.Scan(&b.ID, &b.ProductID, &b.WarehouseID, &b.Month,
		&opening, &in, &out, &closing, &booked, &available, &value, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StockBalance{}, ErrBalanceNotFound
		}
		return StockBalance{}, err
	}
	for dst, raw := range map[*decimal.Decimal]string{
		&b.OpeningStock: opening, &b.StockIn: in, &b.StockOut: out, &b.ClosingStock: closing,
		&b.BookedStock: booked, &b.AvailableStock: available, &b.InventoryValue: value,
	} {
		v, err := decimal.NewFromString(raw)
		if err != nil {
			return StockBalance{}, err
		}
		*dst = v
	}
	return b, nil
}

func (s *TxStore) GetBalanceForUpdate(ctx context.Context, productID, warehouseID int64, month string) (StockBalance, error) {
	return scanBalance(s.tx.QueryRow(ctx, `SELECT `+balanceColumns+` FROM stock_balances
WHERE product_id=$1 AND warehouse_id=$2 AND month=$3 FOR UPDATE`, productID, warehouseID, month))
}

func (s *TxStore) UpsertBalance(ctx context.Context, b StockBalance) error {
	_, err := s.tx.Exec(ctx, `INSERT INTO stock_balances
(product_id, warehouse_id, month, opening_stock, stock_in, stock_out, closing_stock,
 booked_stock, available_stock, inventory_value, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,NOW())
ON CONFLICT (product_id, warehouse_id, month) DO UPDATE SET
opening_stock=EXCLUDED.opening_stock, stock_in=EXCLUDED.stock_in, stock_out=EXCLUDED.stock_out,
closing_stock=EXCLUDED.closing_stock, booked_stock=EXCLUDED.booked_stock,
available_stock=EXCLUDED.available_stock, inventory_value=EXCLUDED.inventory_value, updated_at=NOW()`,
		b.ProductID, b.WarehouseID, b.Month,
		b.OpeningStock.String(), b.StockIn.String(), b.StockOut.String(), b.ClosingStock.String(),
		b.BookedStock.String(), b.AvailableStock.String(), b.InventoryValue.String())
	return err
}

func (s *TxStore) BalancesForMonth(ctx context.Context, month string) ([]StockBalance, error) {
	rows, err := s.tx.Query(ctx, `SELECT `+balanceColumns+` FROM stock_balances
WHERE month=$1 ORDER BY warehouse_id, product_id`, month)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []StockBalance
	for rows.Next() {
		b, err := scanBalance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// DeleteZeroMovementBalances removes placeholder rows with no movement so
// a re-run of the rollover starts from a clean slate.
func (s *TxStore) DeleteZeroMovementBalances(ctx context.Context, month string) error {
	_, err := s.tx.Exec(ctx, `DELETE FROM stock_balances
WHERE month=$1 AND stock_in=0 AND stock_out=0 AND booked_stock=0`, month)
	return err
}

func (s *TxStore) EligibleBatches(ctx context.Context, productID, warehouseID int64) ([]StockBatch, error) {
	rows, err := s.tx.Query(ctx, `SELECT id, product_id, warehouse_id, type, qty::text, residual::text, unit_cost::text, consumed, ref_module, ref_id, created_at
FROM stock_batches
WHERE product_id=$1 AND warehouse_id=$2 AND type IN ('IN','ADJUSTMENT_IN') AND residual > 0 AND NOT consumed
ORDER BY created_at, id FOR UPDATE`, productID, warehouseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []StockBatch
	for rows.Next() {
		var b StockBatch
		var qty, residual, cost string
		if err := rows.Scan(&b.ID, &b.ProductID, &b.WarehouseID, &b.Type, &qty, &residual, &cost, &b.Consumed, &b.RefModule, &b.RefID, &b.CreatedAt); err != nil {
			return nil, err
		}
		if b.Qty, err = decimal.NewFromString(qty); err != nil {
			return nil, err
		}
		if b.Residual, err = decimal.NewFromString(residual); err != nil {
			return nil, err
		}
		if b.UnitCost, err = decimal.NewFromString(cost); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *TxStore) InsertBatch(ctx context.Context, b StockBatch) (StockBatch, error) {
	err := s.tx.QueryRow(ctx, `INSERT INTO stock_batches
(product_id, warehouse_id, type, qty, residual, unit_cost, consumed, ref_module, ref_id, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10) RETURNING id`,
		b.ProductID, b.WarehouseID, b.Type, b.Qty.String(), b.Residual.String(), b.UnitCost.String(),
		b.Consumed, b.RefModule, b.RefID, b.CreatedAt).Scan(&b.ID)
	if err != nil {
		return StockBatch{}, err
	}
	return b, nil
}

func (s *TxStore) UpdateBatchResidual(ctx context.Context, batchID int64, residual decimal.Decimal, consumed bool) error {
	cmd, err := s.tx.Exec(ctx, `UPDATE stock_batches SET residual=$2, consumed=$3 WHERE id=$1 AND residual >= $2`,
		batchID, residual.String(), consumed)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return errors.New("inventory: batch residual update conflict")
	}
	return nil
}

func (s *TxStore) InsertAllocation(ctx context.Context, a Allocation) (Allocation, error) {
	err := s.tx.QueryRow(ctx, `INSERT INTO stock_allocations
(ref_module, ref_id, line_id, batch_id, qty, unit_cost, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id`,
		a.RefModule, a.RefID, a.LineID, a.BatchID, a.Qty.String(), a.UnitCost.String(), a.CreatedAt).Scan(&a.ID)
	if err != nil {
		return Allocation{}, err
	}
	return a, nil
}

func (s *TxStore) AllocationsForSource(ctx context.Context, module string, ref uuid.UUID) ([]Allocation, error) {
	rows, err := s.tx.Query(ctx, `SELECT id, ref_module, ref_id, line_id, batch_id, qty::text, unit_cost::text, created_at
FROM stock_allocations WHERE ref_module=$1 AND ref_id=$2 ORDER BY id`, module, ref)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Allocation
	for rows.Next() {
		var a Allocation
		var qty, cost string
		if err := rows.Scan(&a.ID, &a.RefModule, &a.RefID, &a.LineID, &a.BatchID, &qty, &cost, &a.CreatedAt); err != nil {
			return nil, err
		}
		if a.Qty, err = decimal.NewFromString(qty); err != nil {
			return nil, err
		}
		if a.UnitCost, err = decimal.NewFromString(cost); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *TxStore) InsertMovement(ctx context.Context, m StockMovement) error {
	_, err := s.tx.Exec(ctx, `INSERT INTO stock_movements
(product_id, warehouse_id, type, qty, before_qty, after_qty, unit_cost, total_cost, ref_module, ref_id, actor_id, occurred_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		m.ProductID, m.WarehouseID, m.Type, m.Qty.String(), m.BeforeQty.String(), m.AfterQty.String(),
		m.UnitCost.String(), m.TotalCost.String(), m.RefModule, m.RefID, m.ActorID, m.OccurredAt)
	return err
}

func (s *TxStore) WarehousesWithStock(ctx context.Context, month string) ([]int64, error) {
	rows, err := s.tx.Query(ctx, `SELECT DISTINCT warehouse_id FROM stock_balances WHERE month=$1 ORDER BY warehouse_id`, month)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *TxStore) TotalInventoryValue(ctx context.Context, warehouseID int64, month string) (decimal.Decimal, error) {
	var raw string
	err := s.tx.QueryRow(ctx, `SELECT COALESCE(SUM(inventory_value),0)::text FROM stock_balances
WHERE warehouse_id=$1 AND month=$2`, warehouseID, month).Scan(&raw)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(raw)
}
