package ledger

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/accounting/shared"
)

// TxRepository exposes ledger writes inside a unit of work.
type TxRepository interface {
	NextSequence(ctx context.Context, prefix string, year, month int) (int64, error)
	InsertLedger(ctx context.Context, l Ledger) (Ledger, error)
	InsertLines(ctx context.Context, ledgerID int64, lines []LedgerLine) ([]LedgerLine, error)
	LinkSource(ctx context.Context, module string, ref uuid.UUID, ledgerID int64) error
	LedgerIDForSource(ctx context.Context, module string, ref uuid.UUID) (int64, error)
	GetLedgerWithLines(ctx context.Context, id int64) (Ledger, error)
	UpdateStatus(ctx context.Context, id int64, status LedgerStatus) error
}

// Repository exposes read access outside a transaction.
type Repository interface {
	List(ctx context.Context, limit, offset int) ([]Ledger, error)
	Get(ctx context.Context, id int64) (Ledger, error)
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository returns the pool-backed read repository.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

const ledgerColumns = `id, number, period_id, date, posting_date, source_module, source_id, memo, posted_by, status, created_at, updated_at`

func (r *repository) List(ctx context.Context, limit, offset int) ([]Ledger, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.db.Query(ctx, `SELECT `+ledgerColumns+` FROM ledgers ORDER BY id DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Ledger
	for rows.Next() {
		var l Ledger
		if err := rows.Scan(&l.ID, &l.Number, &l.PeriodID, &l.Date, &l.PostingDate, &l.SourceModule, &l.SourceID,
			&l.Memo, &l.PostedBy, &l.Status, &l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r *repository) Get(ctx context.Context, id int64) (Ledger, error) {
	var l Ledger
	err := r.db.QueryRow(ctx, `SELECT `+ledgerColumns+` FROM ledgers WHERE id=$1`, id).
		Scan(&l.ID, &l.Number, &l.PeriodID, &l.Date, &l.PostingDate, &l.SourceModule, &l.SourceID,
			&l.Memo, &l.PostedBy, &l.Status, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Ledger{}, shared.ErrLedgerNotFound
		}
		return Ledger{}, err
	}
	return l, nil
}

// TxStore is the pgx.Tx-scoped implementation of TxRepository.
type TxStore struct {
	tx pgx.Tx
}

// NewTxStore wraps a transaction.
func NewTxStore(tx pgx.Tx) *TxStore { return &TxStore{tx: tx} }

// NextSequence bumps the per-(prefix, year, month) counter atomically in
// storage. The counter row is created on first use, so numbers reset at
// the start of every month.
func (s *TxStore) NextSequence(ctx context.Context, prefix string, year, month int) (int64, error) {
	var seq int64
	err := s.tx.QueryRow(ctx, `INSERT INTO ledger_sequences (prefix, year, month, value)
VALUES ($1,$2,$3,1)
ON CONFLICT (prefix, year, month) DO UPDATE SET value = ledger_sequences.value + 1
RETURNING value`, prefix, year, month).Scan(&seq)
	if err != nil {
		return 0, err
	}
	return seq, nil
}

func (s *TxStore) InsertLedger(ctx context.Context, l Ledger) (Ledger, error) {
	row := s.tx.QueryRow(ctx, `INSERT INTO ledgers (number, period_id, date, posting_date, source_module, source_id, memo, posted_by, status)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) RETURNING id, created_at, updated_at`,
		l.Number, l.PeriodID, l.Date, l.PostingDate, l.SourceModule, l.SourceID, l.Memo, nullInt(l.PostedBy), l.Status)
	if err := row.Scan(&l.ID, &l.CreatedAt, &l.UpdatedAt); err != nil {
		return Ledger{}, err
	}
	return l, nil
}

func (s *TxStore) InsertLines(ctx context.Context, ledgerID int64, lines []LedgerLine) ([]LedgerLine, error) {
	out := make([]LedgerLine, 0, len(lines))
	for _, line := range lines {
		line.LedgerID = ledgerID
		err := s.tx.QueryRow(ctx, `INSERT INTO ledger_lines
(ledger_id, account_id, debit, credit, currency, local_amount, description,
 dim_project_id, dim_customer_id, dim_supplier_id, dim_employee_id, dim_order_id)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12) RETURNING id, created_at, updated_at`,
			ledgerID, line.AccountID, line.Debit.String(), line.Credit.String(), line.Currency,
			line.LocalAmount.String(), line.Description,
			nullIntPtr(line.DimProjectID), nullIntPtr(line.DimCustomerID), nullIntPtr(line.DimSupplierID),
			nullIntPtr(line.DimEmployeeID), nullIntPtr(line.DimOrderID)).
			Scan(&line.ID, &line.CreatedAt, &line.UpdatedAt)
		if err != nil {
			return nil, err
		}
		out = append(out, line)
	}
	return out, nil
}

func (s *TxStore) LinkSource(ctx context.Context, module string, ref uuid.UUID, ledgerID int64) error {
	_, err := s.tx.Exec(ctx, `INSERT INTO source_links (module, ref_id, ledger_id) VALUES ($1,$2,$3)`, module, ref, ledgerID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return shared.ErrSourceConflict
		}
		return err
	}
	return nil
}

func (s *TxStore) LedgerIDForSource(ctx context.Context, module string, ref uuid.UUID) (int64, error) {
	var id int64
	err := s.tx.QueryRow(ctx, `SELECT l.ledger_id FROM source_links l
JOIN ledgers h ON h.id = l.ledger_id
WHERE l.module=$1 AND l.ref_id=$2 AND h.status <> 'VOID'`, module, ref).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return id, nil
}

func (s *TxStore) GetLedgerWithLines(ctx context.Context, id int64) (Ledger, error) {
	var l Ledger
	err := s.tx.QueryRow(ctx, `SELECT `+ledgerColumns+` FROM ledgers WHERE id=$1 FOR UPDATE`, id).
		Scan(&l.ID, &l.Number, &l.PeriodID, &l.Date, &l.PostingDate, &l.SourceModule, &l.SourceID,
			&l.Memo, &l.PostedBy, &l.Status, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Ledger{}, shared.ErrLedgerNotFound
		}
		return Ledger{}, err
	}
	rows, err := s.tx.Query(ctx, `SELECT id, ledger_id, account_id, debit::text, credit::text, currency, local_amount::text, description,
dim_project_id, dim_customer_id, dim_supplier_id, dim_employee_id, dim_order_id, created_at, updated_at
FROM ledger_lines WHERE ledger_id=$1 ORDER BY id`, id)
	if err != nil {
		return Ledger{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var line LedgerLine
		var debit, credit, local string
		if err := rows.Scan(&line.ID, &line.LedgerID, &line.AccountID, &debit, &credit, &line.Currency, &local, &line.Description,
			&line.DimProjectID, &line.DimCustomerID, &line.DimSupplierID, &line.DimEmployeeID, &line.DimOrderID,
			&line.CreatedAt, &line.UpdatedAt); err != nil {
			return Ledger{}, err
		}
		if line.Debit, err = decimal.NewFromString(debit); err != nil {
			return Ledger{}, err
		}
		if line.Credit, err = decimal.NewFromString(credit); err != nil {
			return Ledger{}, err
		}
		if line.LocalAmount, err = decimal.NewFromString(local); err != nil {
			return Ledger{}, err
		}
		l.Lines = append(l.Lines, line)
	}
	return l, rows.Err()
}

func (s *TxStore) UpdateStatus(ctx context.Context, id int64, status LedgerStatus) error {
	cmd, err := s.tx.Exec(ctx, `UPDATE ledgers SET status=$2, updated_at=NOW() WHERE id=$1`, id, status)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return shared.ErrLedgerNotFound
	}
	return nil
}

func nullInt(val int64) any {
	if val == 0 {
		return nil
	}
	return val
}

func nullIntPtr(val *int64) any {
	if val == nil || *val == 0 {
		return nil
	}
	return *val
}
