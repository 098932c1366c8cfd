// Package uow binds the per-domain transaction stores to a single
// pgx transaction so services can compose cross-domain writes
// atomically.
package uow

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/accounting/ledger"
	"github.com/meridian-erp/meridian-erp/internal/accounting/periods"
	"github.com/meridian-erp/meridian-erp/internal/accounting/summary"
	"github.com/meridian-erp/meridian-erp/internal/close"
	"github.com/meridian-erp/meridian-erp/internal/inventory"
	"github.com/meridian-erp/meridian-erp/internal/platform/db"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Runner opens units of work over a connection pool.
type Runner struct {
	pool *pgxpool.Pool
}

// NewRunner constructs the runner.
func NewRunner(pool *pgxpool.Pool) *Runner {
	return &Runner{pool: pool}
}

// WithUnitOfWork runs fn inside one RepeatableRead transaction. The unit
// passed to fn satisfies every domain's unit-of-work interface, so the
// same runner serves posting, stock mutation, and closing.
func (r *Runner) WithUnitOfWork(ctx context.Context, fn func(context.Context, close.UnitOfWork) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &unit{tx: tx})
	})
}

type unit struct {
	tx pgx.Tx
}

func (u *unit) LedgerStore() ledger.TxRepository       { return ledger.NewTxStore(u.tx) }
func (u *unit) PeriodStore() periods.TxRepository      { return periods.NewTxStore(u.tx) }
func (u *unit) SummaryStore() summary.TxRepository     { return summary.NewTxStore(u.tx) }
func (u *unit) InventoryStore() inventory.TxRepository { return inventory.NewTxStore(u.tx) }
func (u *unit) CloseStore() close.TxRepository         { return close.NewTxStore(u.tx) }

func (u *unit) IdempotencyStore() inventory.IdempotencyGuard {
	return shared.NewTxIdempotencyStore(u.tx)
}
