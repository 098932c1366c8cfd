package periods

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/accounting/shared"
)

// TxRepository exposes period operations inside a unit of work.
type TxRepository interface {
	FindByDate(ctx context.Context, date time.Time) (Period, error)
	FindByCode(ctx context.Context, code string) (Period, error)
	GetForUpdate(ctx context.Context, id int64) (Period, error)
	Insert(ctx context.Context, p Period) (Period, error)
	SetStatus(ctx context.Context, id int64, status PeriodStatus) error
	MarkClosed(ctx context.Context, id, actorID int64, at time.Time) error
	MarkReopened(ctx context.Context, id, actorID int64, reason string, at time.Time) error
}

// Repository exposes read access outside a transaction.
type Repository interface {
	Get(ctx context.Context, id int64) (Period, error)
	List(ctx context.Context, limit, offset int) ([]Period, error)
}

const periodColumns = `id, code, name, start_date, end_date, fiscal_year, month, quarter, status,
closed_by, closed_at, reopened_by, reopened_at, reopen_reason, created_at, updated_at`

func scanPeriod(row pgx.Row) (Period, error) {
	var p Period
	err := row.Scan(&p.ID, &p.Code, &p.Name, &p.StartDate, &p.EndDate, &p.FiscalYear, &p.Month, &p.Quarter,
		&p.Status, &p.ClosedBy, &p.ClosedAt, &p.ReopenedBy, &p.ReopenedAt, &p.ReopenReason, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Period{}, shared.ErrPeriodNotFound
		}
		return Period{}, err
	}
	return p, nil
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository returns the pool-backed read repository.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

func (r *repository) Get(ctx context.Context, id int64) (Period, error) {
	return scanPeriod(r.db.QueryRow(ctx, `SELECT `+periodColumns+` FROM periods WHERE id=$1`, id))
}

func (r *repository) List(ctx context.Context, limit, offset int) ([]Period, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.db.Query(ctx, `SELECT `+periodColumns+` FROM periods ORDER BY start_date DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Period
	for rows.Next() {
		var p Period
		if err := rows.Scan(&p.ID, &p.Code, &p.Name, &p.StartDate, &p.EndDate, &p.FiscalYear, &p.Month, &p.Quarter,
			&p.Status, &p.ClosedBy, &p.ClosedAt, &p.ReopenedBy, &p.ReopenedAt, &p.ReopenReason, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// TxStore is the pgx.Tx-scoped implementation of TxRepository.
type TxStore struct {
	tx pgx.Tx
}

// NewTxStore wraps a transaction.
func NewTxStore(tx pgx.Tx) *TxStore { return &TxStore{tx: tx} }

func (s *TxStore) FindByDate(ctx context.Context, date time.Time) (Period, error) {
	return scanPeriod(s.tx.QueryRow(ctx, `SELECT `+periodColumns+` FROM periods
WHERE $1 BETWEEN start_date AND end_date ORDER BY start_date LIMIT 1`, date))
}

func (s *TxStore) FindByCode(ctx context.Context, code string) (Period, error) {
	return scanPeriod(s.tx.QueryRow(ctx, `SELECT `+periodColumns+` FROM periods WHERE code=$1`, code))
}

func (s *TxStore) GetForUpdate(ctx context.Context, id int64) (Period, error) {
	return scanPeriod(s.tx.QueryRow(ctx, `SELECT `+periodColumns+` FROM periods WHERE id=$1 FOR UPDATE`, id))
}

func (s *TxStore) Insert(ctx context.Context, p Period) (Period, error) {
	row := s.tx.QueryRow(ctx, `INSERT INTO periods (code, name, start_date, end_date, fiscal_year, month, quarter, status)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id, created_at, updated_at`,
		p.Code, p.Name, p.StartDate, p.EndDate, p.FiscalYear, p.Month, p.Quarter, p.Status)
	if err := row.Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return Period{}, err
	}
	return p, nil
}

func (s *TxStore) SetStatus(ctx context.Context, id int64, status PeriodStatus) error {
	cmd, err := s.tx.Exec(ctx, `UPDATE periods SET status=$2, updated_at=NOW() WHERE id=$1`, id, status)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return shared.ErrPeriodNotFound
	}
	return nil
}

func (s *TxStore) MarkClosed(ctx context.Context, id, actorID int64, at time.Time) error {
	cmd, err := s.tx.Exec(ctx, `UPDATE periods SET status=$2, closed_by=$3, closed_at=$4, updated_at=NOW() WHERE id=$1`,
		id, PeriodStatusClosed, actorID, at)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return shared.ErrPeriodNotFound
	}
	return nil
}

func (s *TxStore) MarkReopened(ctx context.Context, id, actorID int64, reason string, at time.Time) error {
	cmd, err := s.tx.Exec(ctx, `UPDATE periods SET status=$2, reopened_by=$3, reopened_at=$4, reopen_reason=$5, updated_at=NOW() WHERE id=$1`,
		id, PeriodStatusOpen, actorID, at, reason)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return shared.ErrPeriodNotFound
	}
	return nil
}
