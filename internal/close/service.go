package close

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/text/message"

	"github.com/meridian-erp/meridian-erp/internal/accounting/accounts"
	"github.com/meridian-erp/meridian-erp/internal/accounting/ledger"
	"github.com/meridian-erp/meridian-erp/internal/accounting/periods"
	"github.com/meridian-erp/meridian-erp/internal/accounting/shared"
	"github.com/meridian-erp/meridian-erp/internal/accounting/summary"
	"github.com/meridian-erp/meridian-erp/internal/inventory"
	internalshared "github.com/meridian-erp/meridian-erp/internal/shared"
)

// AuditPort records who closed or reopened which period.
type AuditPort interface {
	Record(ctx context.Context, log internalshared.AuditLog) error
}

const (
	adjustmentPrefix = "CLS"
	sourceModule     = "CLOSE"
	adjustmentKey    = "INVENTORY_ADJUSTMENT"
	glModule         = "GL"
)

// Engine runs the month-end close: validate, seal the trial balance,
// roll balances into the next period, reconcile the stock sub-ledger
// against the general ledger, and mark the period closed. All of it
// happens in one unit of work after a short status-claiming one.
type Engine struct {
	runner     Runner
	periods    *periods.Service
	aggregator *summary.Aggregator
	accounts   summary.AccountDirectory
	registry   ledger.AccountResolver
	poster     *ledger.Poster
	audit      AuditPort
	logger     *slog.Logger
	printer    *message.Printer
	now        func() time.Time
}

// NewEngine constructs the closing engine. audit may be nil.
func NewEngine(
	runner Runner,
	periodSvc *periods.Service,
	aggregator *summary.Aggregator,
	dir summary.AccountDirectory,
	registry ledger.AccountResolver,
	poster *ledger.Poster,
	audit AuditPort,
	logger *slog.Logger,
	printer *message.Printer,
) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if printer == nil {
		printer = message.NewPrinter(message.MatchLanguage("en"))
	}
	return &Engine{
		runner:     runner,
		periods:    periodSvc,
		aggregator: aggregator,
		accounts:   dir,
		registry:   registry,
		poster:     poster,
		audit:      audit,
		logger:     logger,
		printer:    printer,
		now:        time.Now,
	}
}

// WithNow overrides the clock for deterministic tests.
func (e *Engine) WithNow(now func() time.Time) {
	if now != nil {
		e.now = now
	}
}

// ValidatePreClosing runs the checklist without mutating anything.
func (e *Engine) ValidatePreClosing(ctx context.Context, periodCode string) (ValidationSummary, error) {
	var out ValidationSummary
	err := e.runner.WithUnitOfWork(ctx, func(ctx context.Context, uow UnitOfWork) error {
		period, err := uow.PeriodStore().FindByCode(ctx, periodCode)
		if err != nil {
			return err
		}
		out, err = e.validate(ctx, uow, period)
		return err
	})
	return out, err
}

// PerformClosing executes the close. The period is claimed with a
// CLOSING status in its own transaction first so concurrent postings and
// a second close run both fail fast; the prior status is restored when
// the main run errors. Re-closing an already closed period is allowed
// and converges to the same balances.
func (e *Engine) PerformClosing(ctx context.Context, in CloseInput) (ClosingResult, error) {
	period, prior, err := e.claim(ctx, in.PeriodCode)
	if err != nil {
		return ClosingResult{}, err
	}

	var result ClosingResult
	err = e.runner.WithUnitOfWork(ctx, func(ctx context.Context, uow UnitOfWork) error {
		r, err := e.close(ctx, uow, period, in)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		e.release(ctx, period.ID, prior)
		return ClosingResult{}, err
	}

	e.logger.Info("period closed",
		slog.String("period", period.Code),
		slog.Int64("actor", in.ActorID),
		slog.Int("rolled_accounts", result.RolledAccounts),
		slog.Int("rolled_stock_rows", result.RolledStockRows),
		slog.Int("adjustments", len(result.Adjustments)))
	e.record(ctx, in.ActorID, "PERIOD_CLOSE", period.Code, map[string]any{
		"next_period":       result.NextPeriod.Code,
		"rolled_accounts":   result.RolledAccounts,
		"rolled_stock_rows": result.RolledStockRows,
		"adjustments":       len(result.Adjustments),
		"notes":             in.Notes,
	})
	return result, nil
}

// Reopen flips a closed period back to open. Balances already rolled
// into the following period stay as they are; a later re-close
// overwrites them.
func (e *Engine) Reopen(ctx context.Context, in ReopenInput) (periods.Period, error) {
	if in.Reason == "" {
		return periods.Period{}, ErrReasonRequired
	}
	var reopened periods.Period
	err := e.runner.WithUnitOfWork(ctx, func(ctx context.Context, uow UnitOfWork) error {
		store := uow.PeriodStore()
		period, err := store.FindByCode(ctx, in.PeriodCode)
		if err != nil {
			return err
		}
		period, err = store.GetForUpdate(ctx, period.ID)
		if err != nil {
			return err
		}
		if period.Status != periods.PeriodStatusClosed {
			return shared.ErrInvalidStatus
		}
		if err := store.MarkReopened(ctx, period.ID, in.ActorID, in.Reason, e.now()); err != nil {
			return err
		}
		period.Status = periods.PeriodStatusOpen
		period.ReopenedBy = &in.ActorID
		period.ReopenReason = in.Reason
		reopened = period
		return nil
	})
	if err != nil {
		return periods.Period{}, err
	}
	e.logger.Info("period reopened",
		slog.String("period", reopened.Code),
		slog.Int64("actor", in.ActorID),
		slog.String("reason", in.Reason))
	e.record(ctx, in.ActorID, "PERIOD_REOPEN", reopened.Code, map[string]any{"reason": in.Reason})
	return reopened, nil
}

func (e *Engine) claim(ctx context.Context, code string) (periods.Period, periods.PeriodStatus, error) {
	var period periods.Period
	var prior periods.PeriodStatus
	err := e.runner.WithUnitOfWork(ctx, func(ctx context.Context, uow UnitOfWork) error {
		store := uow.PeriodStore()
		p, err := store.FindByCode(ctx, code)
		if err != nil {
			return err
		}
		p, err = store.GetForUpdate(ctx, p.ID)
		if err != nil {
			return err
		}
		if p.Status == periods.PeriodStatusClosing {
			return shared.ErrPeriodClosing
		}
		prior = p.Status
		period = p
		return store.SetStatus(ctx, p.ID, periods.PeriodStatusClosing)
	})
	if err != nil {
		return periods.Period{}, "", err
	}
	return period, prior, nil
}

func (e *Engine) release(ctx context.Context, periodID int64, prior periods.PeriodStatus) {
	err := e.runner.WithUnitOfWork(ctx, func(ctx context.Context, uow UnitOfWork) error {
		return uow.PeriodStore().SetStatus(ctx, periodID, prior)
	})
	if err != nil {
		e.logger.Error("failed to restore period status after aborted close",
			slog.Int64("period_id", periodID),
			slog.String("status", string(prior)),
			slog.Any("error", err))
	}
}

func (e *Engine) close(ctx context.Context, uow UnitOfWork, period periods.Period, in CloseInput) (ClosingResult, error) {
	vs, err := e.validate(ctx, uow, period)
	if err != nil {
		return ClosingResult{}, err
	}
	if !vs.Clean() {
		return ClosingResult{}, &ClosingBlockedError{Summary: vs}
	}

	// Seal: recompute the trial balance from posted lines so the stored
	// accumulators cannot drift from what actually posted.
	if err := e.aggregator.RebuildTrialBalance(ctx, uow.SummaryStore(), period); err != nil {
		return ClosingResult{}, err
	}

	var next periods.Period
	if in.AutoCreateNext {
		next, err = e.periods.ResolveOrCreateNext(ctx, uow.PeriodStore(), period)
	} else {
		next, err = e.periods.ResolveNext(ctx, uow.PeriodStore(), period)
	}
	if err != nil {
		return ClosingResult{}, err
	}

	rolled, err := e.rolloverTrialBalance(ctx, uow.SummaryStore(), period, next)
	if err != nil {
		return ClosingResult{}, err
	}
	stockRows, err := e.rolloverStock(ctx, uow.InventoryStore(), period, next)
	if err != nil {
		return ClosingResult{}, err
	}
	adjustments, err := e.reconcileInventory(ctx, uow, period, next, in.ActorID)
	if err != nil {
		return ClosingResult{}, err
	}

	if err := uow.PeriodStore().MarkClosed(ctx, period.ID, in.ActorID, e.now()); err != nil {
		return ClosingResult{}, err
	}
	period.Status = periods.PeriodStatusClosed

	return ClosingResult{
		Period:          period,
		NextPeriod:      next,
		Validation:      vs,
		RolledAccounts:  rolled,
		RolledStockRows: stockRows,
		Adjustments:     adjustments,
	}, nil
}

func (e *Engine) validate(ctx context.Context, uow UnitOfWork, period periods.Period) (ValidationSummary, error) {
	store := uow.CloseStore()
	out := ValidationSummary{PeriodCode: period.Code}

	var err error
	if out.DraftLedgers, err = store.DraftLedgerCount(ctx, period.ID); err != nil {
		return ValidationSummary{}, err
	}
	if out.Pending, err = store.PendingDocumentCounts(ctx, period.StartDate, period.EndDate); err != nil {
		return ValidationSummary{}, err
	}
	if out.TotalDebit, out.TotalCredit, err = store.PostedTotals(ctx, period.ID); err != nil {
		return ValidationSummary{}, err
	}
	out.OutOfBalanceBy = out.TotalDebit.Sub(out.TotalCredit)

	if out.DraftLedgers > 0 {
		out.Blockers = append(out.Blockers, e.printer.Sprintf("%d draft ledger entries must be posted or discarded", out.DraftLedgers))
	}
	if out.Pending.Invoices > 0 {
		out.Blockers = append(out.Blockers, e.printer.Sprintf("%d invoices still pending", out.Pending.Invoices))
	}
	if out.Pending.Expenses > 0 {
		out.Blockers = append(out.Blockers, e.printer.Sprintf("%d expenses still pending", out.Pending.Expenses))
	}
	if out.Pending.PurchaseOrders > 0 {
		out.Blockers = append(out.Blockers, e.printer.Sprintf("%d purchase orders still open", out.Pending.PurchaseOrders))
	}
	if out.OutOfBalanceBy.Abs().GreaterThan(shared.BalanceTolerance) {
		out.Blockers = append(out.Blockers, e.printer.Sprintf("posted ledger out of balance by %s", out.OutOfBalanceBy.StringFixed(2)))
	}
	return out, nil
}

// rolloverTrialBalance seeds the next period's opening balances from the
// sealed endings. At a fiscal-year boundary nominal accounts restart at
// zero; their balance is absorbed by retained earnings in reporting, not
// by a compensating posting. Openings are overwritten on every run so a
// re-close converges.
func (e *Engine) rolloverTrialBalance(ctx context.Context, store summary.TxRepository, period, next periods.Period) (int, error) {
	rows, err := store.TrialBalanceRows(ctx, period.ID)
	if err != nil {
		return 0, err
	}
	postable, err := e.accounts.ListPostable(ctx)
	if err != nil {
		return 0, err
	}
	byID := make(map[int64]accounts.Account, len(postable))
	for _, a := range postable {
		byID[a.ID] = a
	}
	yearBoundary := next.FiscalYear != period.FiscalYear

	rolled := 0
	for _, row := range rows {
		account, ok := byID[row.AccountID]
		if !ok {
			continue
		}
		openingDebit, openingCredit := row.EndingDebit, row.EndingCredit
		if yearBoundary && account.Type.IsNominal() {
			openingDebit, openingCredit = decimal.Zero, decimal.Zero
		}

		nextRow, err := store.GetTrialBalanceRow(ctx, next.ID, row.AccountID)
		if err != nil {
			if !errors.Is(err, summary.ErrRowNotFound) {
				return 0, err
			}
			nextRow = summary.TrialBalanceRow{PeriodID: next.ID, AccountID: row.AccountID}
		}
		nextRow.OpeningDebit = openingDebit
		nextRow.OpeningCredit = openingCredit
		nextRow.EndingDebit, nextRow.EndingCredit = summary.EndingBalance(account.NormalSide, openingDebit, openingCredit, nextRow.PeriodDebit, nextRow.PeriodCredit)
		if yearBoundary {
			nextRow.YTDDebit = nextRow.PeriodDebit
			nextRow.YTDCredit = nextRow.PeriodCredit
		} else {
			nextRow.YTDDebit = row.YTDDebit.Add(nextRow.PeriodDebit)
			nextRow.YTDCredit = row.YTDCredit.Add(nextRow.PeriodCredit)
		}
		if err := store.UpsertTrialBalanceRow(ctx, nextRow); err != nil {
			return 0, err
		}
		rolled++
	}
	return rolled, nil
}

// rolloverStock carries closing stock into the next month. Next-month
// rows that saw no movement of their own are dropped first, then every
// active current row is rolled, closing stock of zero included, so a
// re-close after corrections always refreshes the openings downstream.
func (e *Engine) rolloverStock(ctx context.Context, store inventory.TxRepository, period, next periods.Period) (int, error) {
	if err := store.DeleteZeroMovementBalances(ctx, next.Code); err != nil {
		return 0, err
	}
	balances, err := store.BalancesForMonth(ctx, period.Code)
	if err != nil {
		return 0, err
	}
	rolled := 0
	for _, b := range balances {
		if b.StockIn.IsZero() && b.StockOut.IsZero() && b.BookedStock.IsZero() &&
			b.ClosingStock.IsZero() && b.InventoryValue.IsZero() {
			continue
		}
		nextRow, err := store.GetBalanceForUpdate(ctx, b.ProductID, b.WarehouseID, next.Code)
		if err != nil {
			if !errors.Is(err, inventory.ErrBalanceNotFound) {
				return 0, err
			}
			nextRow = inventory.StockBalance{
				ProductID:      b.ProductID,
				WarehouseID:    b.WarehouseID,
				Month:          next.Code,
				InventoryValue: b.InventoryValue,
			}
		}
		nextRow.OpeningStock = b.ClosingStock
		nextRow.BookedStock = b.BookedStock
		nextRow.ClosingStock = nextRow.OpeningStock.Add(nextRow.StockIn).Sub(nextRow.StockOut)
		nextRow.AvailableStock = nextRow.ClosingStock.Sub(nextRow.BookedStock)
		if err := store.UpsertBalance(ctx, nextRow); err != nil {
			return 0, err
		}
		rolled++
	}
	return rolled, nil
}

// reconcileInventory compares the stock sub-ledger value per warehouse
// against the mapped inventory account and posts a correcting entry into
// the next period when they diverge beyond the tolerance. The source id
// is derived from period and warehouse so a re-close cannot post the
// same correction twice.
func (e *Engine) reconcileInventory(ctx context.Context, uow UnitOfWork, period, next periods.Period, actorID int64) ([]ledger.Ledger, error) {
	store := uow.InventoryStore()
	warehouses, err := store.WarehousesWithStock(ctx, period.Code)
	if err != nil {
		return nil, err
	}

	var adjustments []ledger.Ledger
	for _, warehouseID := range warehouses {
		stockValue, err := store.TotalInventoryValue(ctx, warehouseID, period.Code)
		if err != nil {
			return nil, err
		}
		account, err := e.registry.ResolveKey(ctx, inventory.RegistryModuleInventory, strconv.FormatInt(warehouseID, 10))
		if err != nil {
			if errors.Is(err, shared.ErrAccountNotConfigured) {
				e.logger.Warn("warehouse has no mapped inventory account, skipping reconciliation",
					slog.Int64("warehouse_id", warehouseID))
				continue
			}
			return nil, err
		}
		row, err := uow.SummaryStore().GetTrialBalanceRow(ctx, period.ID, account.ID)
		if err != nil && !errors.Is(err, summary.ErrRowNotFound) {
			return nil, err
		}
		glValue := row.EndingDebit.Sub(row.EndingCredit)

		diff := stockValue.Sub(glValue)
		if diff.Abs().LessThanOrEqual(shared.BalanceTolerance) {
			continue
		}

		sourceID := uuid.NewSHA1(uuid.NameSpaceOID, []byte("CLS:"+period.Code+":"+strconv.FormatInt(warehouseID, 10)))
		if existing, err := uow.LedgerStore().LedgerIDForSource(ctx, sourceModule, sourceID); err != nil {
			return nil, err
		} else if existing != 0 {
			continue
		}

		memo := e.printer.Sprintf("Inventory reconciliation %s warehouse %d: stock %s vs GL %s",
			period.Code, warehouseID, stockValue.StringFixed(2), glValue.StringFixed(2))
		lines := []ledger.PostingLine{
			{AccountID: account.ID, Debit: diff.Abs(), Description: memo},
			{AccountModule: glModule, AccountKey: adjustmentKey, Credit: diff.Abs(), Description: memo},
		}
		if diff.IsNegative() {
			lines = []ledger.PostingLine{
				{AccountModule: glModule, AccountKey: adjustmentKey, Debit: diff.Abs(), Description: memo},
				{AccountID: account.ID, Credit: diff.Abs(), Description: memo},
			}
		}
		entry, err := e.poster.Post(ctx, uow, ledger.PostingInput{
			Prefix:       adjustmentPrefix,
			Date:         next.StartDate,
			SourceModule: sourceModule,
			SourceID:     sourceID,
			Memo:         memo,
			PostedBy:     actorID,
			Lines:        lines,
		})
		if err != nil {
			return nil, err
		}
		adjustments = append(adjustments, entry)
	}
	return adjustments, nil
}

func (e *Engine) record(ctx context.Context, actorID int64, action, periodCode string, meta map[string]any) {
	if e.audit == nil {
		return
	}
	err := e.audit.Record(ctx, internalshared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "ACCOUNTING_PERIOD",
		EntityID: periodCode,
		Meta:     meta,
		At:       e.now(),
	})
	if err != nil {
		e.logger.Error("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}
