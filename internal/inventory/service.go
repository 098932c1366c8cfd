package inventory

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/accounting/ledger"
	"github.com/meridian-erp/meridian-erp/internal/accounting/periods"
	"github.com/meridian-erp/meridian-erp/internal/accounting/shared"
)

// RegistryModuleInventory is the mapping module that links a warehouse id
// to its inventory account.
const RegistryModuleInventory = "INVENTORY"

// IdempotencyGuard claims processed-once keys inside the transaction so
// a claim commits and rolls back together with the work it guards.
type IdempotencyGuard interface {
	CheckAndInsert(ctx context.Context, key, module string) error
}

// UnitOfWork is the transaction scope for stock mutations. It extends
// the ledger scope because the posting step writes through the poster
// inside the same transaction.
type UnitOfWork interface {
	ledger.UnitOfWork
	InventoryStore() TxRepository
	IdempotencyStore() IdempotencyGuard
}

// Allocator consumes stock batches oldest-first (FIFO) to satisfy
// issuances and posts the resulting cost to the general ledger.
type Allocator struct {
	resolver *periods.Resolver
	poster   *ledger.Poster
	registry ledger.AccountResolver
	now      func() time.Time
}

// NewAllocator constructs the allocator.
func NewAllocator(resolver *periods.Resolver, poster *ledger.Poster, registry ledger.AccountResolver) *Allocator {
	return &Allocator{resolver: resolver, poster: poster, registry: registry, now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (a *Allocator) WithNow(now func() time.Time) {
	if now != nil {
		a.now = now
	}
}

// Receive records an inbound batch and lifts the stock balance.
func (a *Allocator) Receive(ctx context.Context, uow UnitOfWork, in ReceiptInput) (StockBatch, error) {
	if uow == nil {
		return StockBatch{}, shared.ErrUnitOfWorkRequired
	}
	if in.ProductID == 0 || in.WarehouseID == 0 {
		return StockBatch{}, errors.New("inventory: product and warehouse required")
	}
	if !in.Qty.IsPositive() {
		return StockBatch{}, ErrInvalidQuantity
	}
	if in.UnitCost.IsNegative() {
		return StockBatch{}, ErrInvalidUnitCost
	}
	batchType := in.Type
	if batchType == "" {
		batchType = BatchTypeIn
	}
	if batchType != BatchTypeIn && batchType != BatchTypeAdjustmentIn {
		return StockBatch{}, fmt.Errorf("inventory: %s is not an inbound batch type", batchType)
	}

	store := uow.InventoryStore()
	batch, err := store.InsertBatch(ctx, StockBatch{
		ProductID:   in.ProductID,
		WarehouseID: in.WarehouseID,
		Type:        batchType,
		Qty:         in.Qty,
		Residual:    in.Qty,
		UnitCost:    in.UnitCost,
		RefModule:   in.RefModule,
		RefID:       in.RefID,
		CreatedAt:   a.now(),
	})
	if err != nil {
		return StockBatch{}, err
	}

	balance, err := a.balanceFor(ctx, store, in.ProductID, in.WarehouseID, in.Date)
	if err != nil {
		return StockBatch{}, err
	}
	before := balance.ClosingStock
	cost := in.Qty.Mul(in.UnitCost)
	balance.StockIn = balance.StockIn.Add(in.Qty)
	balance.ClosingStock = balance.ClosingStock.Add(in.Qty)
	balance.AvailableStock = balance.ClosingStock.Sub(balance.BookedStock)
	balance.InventoryValue = balance.InventoryValue.Add(cost)
	if err := store.UpsertBalance(ctx, balance); err != nil {
		return StockBatch{}, err
	}

	if err := store.InsertMovement(ctx, StockMovement{
		ProductID:   in.ProductID,
		WarehouseID: in.WarehouseID,
		Type:        batchType,
		Qty:         in.Qty,
		BeforeQty:   before,
		AfterQty:    balance.ClosingStock,
		UnitCost:    in.UnitCost,
		TotalCost:   cost,
		RefModule:   in.RefModule,
		RefID:       in.RefID,
		ActorID:     in.ActorID,
		OccurredAt:  a.now(),
	}); err != nil {
		return StockBatch{}, err
	}
	return batch, nil
}

// Reserve books stock ahead of an issuance. Booked stock can never
// exceed the closing stock level.
func (a *Allocator) Reserve(ctx context.Context, uow UnitOfWork, in ReserveInput) (StockBalance, error) {
	if uow == nil {
		return StockBalance{}, shared.ErrUnitOfWorkRequired
	}
	if !in.Qty.IsPositive() {
		return StockBalance{}, ErrInvalidQuantity
	}
	store := uow.InventoryStore()
	balance, err := store.GetBalanceForUpdate(ctx, in.ProductID, in.WarehouseID, a.monthOf(in.Date))
	if err != nil {
		if errors.Is(err, ErrBalanceNotFound) {
			return StockBalance{}, ErrInsufficientAvailableStock
		}
		return StockBalance{}, err
	}
	if balance.AvailableStock.LessThan(in.Qty) {
		return StockBalance{}, ErrInsufficientAvailableStock
	}
	balance.BookedStock = balance.BookedStock.Add(in.Qty)
	balance.AvailableStock = balance.ClosingStock.Sub(balance.BookedStock)
	if err := store.UpsertBalance(ctx, balance); err != nil {
		return StockBalance{}, err
	}
	return balance, nil
}

// Release gives a reservation back without issuing.
func (a *Allocator) Release(ctx context.Context, uow UnitOfWork, in ReserveInput) (StockBalance, error) {
	if uow == nil {
		return StockBalance{}, shared.ErrUnitOfWorkRequired
	}
	if !in.Qty.IsPositive() {
		return StockBalance{}, ErrInvalidQuantity
	}
	store := uow.InventoryStore()
	balance, err := store.GetBalanceForUpdate(ctx, in.ProductID, in.WarehouseID, a.monthOf(in.Date))
	if err != nil {
		return StockBalance{}, err
	}
	if balance.BookedStock.LessThan(in.Qty) {
		return StockBalance{}, ErrInsufficientBookedStock
	}
	balance.BookedStock = balance.BookedStock.Sub(in.Qty)
	balance.AvailableStock = balance.ClosingStock.Sub(balance.BookedStock)
	if err := store.UpsertBalance(ctx, balance); err != nil {
		return StockBalance{}, err
	}
	return balance, nil
}

// Issue consumes batches oldest-first to satisfy a booked issuance and
// computes the weighted-average unit cost. Every mutation rides the
// caller's unit of work; a failure at any step leaves nothing behind.
func (a *Allocator) Issue(ctx context.Context, uow UnitOfWork, in IssueInput) (IssueResult, error) {
	if uow == nil {
		return IssueResult{}, shared.ErrUnitOfWorkRequired
	}
	if in.ProductID == 0 || in.WarehouseID == 0 {
		return IssueResult{}, errors.New("inventory: product and warehouse required")
	}
	if !in.Qty.IsPositive() {
		return IssueResult{}, ErrInvalidQuantity
	}

	// The key claim rides the same transaction as the stock mutations:
	// an aborted issue releases the key on rollback, a committed one
	// blocks replays of the same issuance line.
	if guard := uow.IdempotencyStore(); guard != nil {
		key := fmt.Sprintf("ISSUE:%s:%s:%d", in.RefModule, in.RefID, in.LineID)
		if err := guard.CheckAndInsert(ctx, key, "inventory"); err != nil {
			return IssueResult{}, err
		}
	}

	return a.issue(ctx, uow.InventoryStore(), in)
}

func (a *Allocator) issue(ctx context.Context, store TxRepository, in IssueInput) (IssueResult, error) {
	balance, err := store.GetBalanceForUpdate(ctx, in.ProductID, in.WarehouseID, a.monthOf(in.Date))
	if err != nil {
		if errors.Is(err, ErrBalanceNotFound) {
			return IssueResult{}, ErrInsufficientBookedStock
		}
		return IssueResult{}, err
	}
	if balance.BookedStock.LessThan(in.Qty) {
		return IssueResult{}, ErrInsufficientBookedStock
	}

	batches, err := store.EligibleBatches(ctx, in.ProductID, in.WarehouseID)
	if err != nil {
		return IssueResult{}, err
	}

	remaining := in.Qty
	totalCost := decimal.Zero
	allocations := make([]Allocation, 0, len(batches))
	for _, batch := range batches {
		if !remaining.IsPositive() {
			break
		}
		take := decimal.Min(batch.Residual, remaining)
		if !take.IsPositive() {
			continue
		}
		residual := batch.Residual.Sub(take)
		if err := store.UpdateBatchResidual(ctx, batch.ID, residual, residual.IsZero()); err != nil {
			return IssueResult{}, err
		}
		alloc := Allocation{
			RefModule: in.RefModule,
			RefID:     in.RefID,
			LineID:    in.LineID,
			BatchID:   batch.ID,
			Qty:       take,
			UnitCost:  batch.UnitCost,
			CreatedAt: a.now(),
		}
		persisted, err := store.InsertAllocation(ctx, alloc)
		if err != nil {
			return IssueResult{}, err
		}
		allocations = append(allocations, persisted)
		totalCost = totalCost.Add(take.Mul(batch.UnitCost))
		remaining = remaining.Sub(take)
	}
	if remaining.IsPositive() {
		return IssueResult{}, ErrInsufficientPhysicalStock
	}

	unitCost := totalCost.DivRound(in.Qty, 2)

	before := balance.ClosingStock
	balance.StockOut = balance.StockOut.Add(in.Qty)
	balance.ClosingStock = balance.ClosingStock.Sub(in.Qty)
	balance.BookedStock = balance.BookedStock.Sub(in.Qty)
	balance.AvailableStock = balance.ClosingStock.Sub(balance.BookedStock)
	balance.InventoryValue = balance.InventoryValue.Sub(totalCost)
	if balance.InventoryValue.IsNegative() {
		balance.InventoryValue = decimal.Zero
	}
	if err := store.UpsertBalance(ctx, balance); err != nil {
		return IssueResult{}, err
	}

	if err := store.InsertMovement(ctx, StockMovement{
		ProductID:   in.ProductID,
		WarehouseID: in.WarehouseID,
		Type:        BatchTypeOut,
		Qty:         in.Qty,
		BeforeQty:   before,
		AfterQty:    balance.ClosingStock,
		UnitCost:    unitCost,
		TotalCost:   totalCost,
		RefModule:   in.RefModule,
		RefID:       in.RefID,
		ActorID:     in.ActorID,
		OccurredAt:  a.now(),
	}); err != nil {
		return IssueResult{}, err
	}

	return IssueResult{Allocations: allocations, UnitCost: unitCost, TotalCost: totalCost}, nil
}

// PostIssue books the issuance cost to the ledger: debit the usage
// account, credit the warehouse's mapped inventory account. It refuses
// to double-post when a ledger already references the source document.
func (a *Allocator) PostIssue(ctx context.Context, uow UnitOfWork, in PostIssueInput) (ledger.Ledger, error) {
	if uow == nil {
		return ledger.Ledger{}, shared.ErrUnitOfWorkRequired
	}
	existing, err := uow.LedgerStore().LedgerIDForSource(ctx, in.RefModule, in.RefID)
	if err != nil {
		return ledger.Ledger{}, err
	}
	if existing != 0 {
		return ledger.Ledger{}, shared.ErrDuplicatePosting
	}

	allocations, err := uow.InventoryStore().AllocationsForSource(ctx, in.RefModule, in.RefID)
	if err != nil {
		return ledger.Ledger{}, err
	}
	total := decimal.Zero
	for _, alloc := range allocations {
		total = total.Add(alloc.Qty.Mul(alloc.UnitCost))
	}
	if total.IsZero() {
		return ledger.Ledger{}, ErrNothingToPost
	}

	inventoryAccount, err := a.registry.ResolveKey(ctx, RegistryModuleInventory, strconv.FormatInt(in.WarehouseID, 10))
	if err != nil {
		return ledger.Ledger{}, err
	}

	memo := in.Memo
	if memo == "" {
		memo = fmt.Sprintf("Stock issue %s %s", in.RefModule, in.RefID)
	}
	return a.poster.Post(ctx, uow, ledger.PostingInput{
		Prefix:       "STK",
		Date:         in.Date,
		SourceModule: in.RefModule,
		SourceID:     in.RefID,
		Memo:         memo,
		PostedBy:     in.ActorID,
		Lines: []ledger.PostingLine{
			{AccountModule: in.UsageModule, AccountKey: in.UsageKey, Debit: total, Description: memo},
			{AccountID: inventoryAccount.ID, Credit: total, Description: memo},
		},
	})
}

// monthOf maps a date to the stock balance month key in the fiscal
// calendar's anchor timezone.
func (a *Allocator) monthOf(date time.Time) string {
	if date.IsZero() {
		date = a.now()
	}
	return a.resolver.CodeFor(date)
}

func (a *Allocator) balanceFor(ctx context.Context, store TxRepository, productID, warehouseID int64, date time.Time) (StockBalance, error) {
	month := a.monthOf(date)
	balance, err := store.GetBalanceForUpdate(ctx, productID, warehouseID, month)
	if err == nil {
		return balance, nil
	}
	if !errors.Is(err, ErrBalanceNotFound) {
		return StockBalance{}, err
	}
	return StockBalance{ProductID: productID, WarehouseID: warehouseID, Month: month}, nil
}
