package inventory

import (
	"context"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/accounting/ledger"
	"github.com/meridian-erp/meridian-erp/internal/accounting/periods"
	"github.com/meridian-erp/meridian-erp/internal/accounting/shared"
	"github.com/meridian-erp/meridian-erp/internal/accounting/summary"
	internalshared "github.com/meridian-erp/meridian-erp/internal/shared"
)

type memStore struct {
	balances map[string]StockBalance
	batches  []StockBatch
	allocs   []Allocation
	moves    []StockMovement
	nextID   int64
}

func newMemStore() *memStore {
	return &memStore{balances: map[string]StockBalance{}}
}

func (m *memStore) clone() *memStore {
	c := newMemStore()
	c.nextID = m.nextID
	for k, v := range m.balances {
		c.balances[k] = v
	}
	c.batches = append([]StockBatch(nil), m.batches...)
	c.allocs = append([]Allocation(nil), m.allocs...)
	c.moves = append([]StockMovement(nil), m.moves...)
	return c
}

func balanceKey(productID, warehouseID int64, month string) string {
	return fmt.Sprintf("%d/%d/%s", productID, warehouseID, month)
}

func (m *memStore) GetBalanceForUpdate(_ context.Context, productID, warehouseID int64, month string) (StockBalance, error) {
	b, ok := m.balances[balanceKey(productID, warehouseID, month)]
	if !ok {
		return StockBalance{}, ErrBalanceNotFound
	}
	return b, nil
}

func (m *memStore) UpsertBalance(_ context.Context, b StockBalance) error {
	m.balances[balanceKey(b.ProductID, b.WarehouseID, b.Month)] = b
	return nil
}

func (m *memStore) BalancesForMonth(_ context.Context, month string) ([]StockBalance, error) {
	var out []StockBalance
	for _, b := range m.balances {
		if b.Month == month {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].WarehouseID != out[j].WarehouseID {
			return out[i].WarehouseID < out[j].WarehouseID
		}
		return out[i].ProductID < out[j].ProductID
	})
	return out, nil
}

func (m *memStore) DeleteZeroMovementBalances(_ context.Context, month string) error {
	for key, b := range m.balances {
		if b.Month == month && b.StockIn.IsZero() && b.StockOut.IsZero() && b.BookedStock.IsZero() {
			delete(m.balances, key)
		}
	}
	return nil
}

func (m *memStore) EligibleBatches(_ context.Context, productID, warehouseID int64) ([]StockBatch, error) {
	var out []StockBatch
	for _, b := range m.batches {
		if b.ProductID != productID || b.WarehouseID != warehouseID || b.Consumed {
			continue
		}
		if b.Type != BatchTypeIn && b.Type != BatchTypeAdjustmentIn {
			continue
		}
		if !b.Residual.IsPositive() {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *memStore) InsertBatch(_ context.Context, b StockBatch) (StockBatch, error) {
	m.nextID++
	b.ID = m.nextID
	m.batches = append(m.batches, b)
	return b, nil
}

func (m *memStore) UpdateBatchResidual(_ context.Context, batchID int64, residual decimal.Decimal, consumed bool) error {
	for i := range m.batches {
		if m.batches[i].ID == batchID {
			m.batches[i].Residual = residual
			m.batches[i].Consumed = consumed
			return nil
		}
	}
	return fmt.Errorf("batch %d not found", batchID)
}

func (m *memStore) InsertAllocation(_ context.Context, a Allocation) (Allocation, error) {
	m.nextID++
	a.ID = m.nextID
	m.allocs = append(m.allocs, a)
	return a, nil
}

func (m *memStore) AllocationsForSource(_ context.Context, module string, ref uuid.UUID) ([]Allocation, error) {
	var out []Allocation
	for _, a := range m.allocs {
		if a.RefModule == module && a.RefID == ref {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memStore) InsertMovement(_ context.Context, mv StockMovement) error {
	m.nextID++
	mv.ID = m.nextID
	m.moves = append(m.moves, mv)
	return nil
}

func (m *memStore) WarehousesWithStock(_ context.Context, month string) ([]int64, error) {
	seen := map[int64]bool{}
	for _, b := range m.balances {
		if b.Month == month {
			seen[b.WarehouseID] = true
		}
	}
	var out []int64
	for id := range seen {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (m *memStore) TotalInventoryValue(_ context.Context, warehouseID int64, month string) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, b := range m.balances {
		if b.WarehouseID == warehouseID && b.Month == month {
			total = total.Add(b.InventoryValue)
		}
	}
	return total, nil
}

type stubLedgerStore struct {
	ledger.TxRepository
	sourceLedgerID int64
}

func (s *stubLedgerStore) LedgerIDForSource(context.Context, string, uuid.UUID) (int64, error) {
	return s.sourceLedgerID, nil
}

// memGuard claims keys in memory the way the transactional store does.
type memGuard struct {
	keys map[string]bool
}

func newMemGuard() *memGuard { return &memGuard{keys: map[string]bool{}} }

func (g *memGuard) CheckAndInsert(_ context.Context, key, _ string) error {
	if g.keys[key] {
		return internalshared.ErrIdempotencyConflict
	}
	g.keys[key] = true
	return nil
}

func (g *memGuard) clone() *memGuard {
	c := newMemGuard()
	for k := range g.keys {
		c.keys[k] = true
	}
	return c
}

type memUow struct {
	inv   *memStore
	led   *stubLedgerStore
	guard *memGuard
}

func (u *memUow) InventoryStore() TxRepository       { return u.inv }
func (u *memUow) LedgerStore() ledger.TxRepository   { return u.led }
func (u *memUow) PeriodStore() periods.TxRepository  { return nil }
func (u *memUow) SummaryStore() summary.TxRepository { return nil }

func (u *memUow) IdempotencyStore() IdempotencyGuard {
	if u.guard == nil {
		return nil
	}
	return u.guard
}

// memRunner commits by keeping mutations and restores a snapshot on
// error, matching the all-or-nothing contract of a real unit of work.
type memRunner struct {
	uow *memUow
}

func (r *memRunner) run(ctx context.Context, fn func(context.Context, UnitOfWork) error) error {
	inv := r.uow.inv.clone()
	var guard *memGuard
	if r.uow.guard != nil {
		guard = r.uow.guard.clone()
	}
	if err := fn(ctx, r.uow); err != nil {
		*r.uow.inv = *inv
		if guard != nil {
			*r.uow.guard = *guard
		}
		return err
	}
	return nil
}

func newTestAllocator() *Allocator {
	resolver := periods.NewResolver(time.UTC, time.January)
	a := NewAllocator(resolver, nil, nil)
	a.WithNow(func() time.Time { return time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC) })
	return a
}

func TestReceiveLiftsBalanceAndRecordsBatch(t *testing.T) {
	alloc := newTestAllocator()
	uow := &memUow{inv: newMemStore(), led: &stubLedgerStore{}}

	batch, err := alloc.Receive(context.Background(), uow, ReceiptInput{
		ProductID:   1,
		WarehouseID: 7,
		Qty:         decimal.NewFromInt(10),
		UnitCost:    decimal.NewFromInt(100),
		Date:        time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC),
		RefModule:   "PO",
		RefID:       uuid.New(),
		ActorID:     42,
	})
	require.NoError(t, err)
	require.Equal(t, BatchTypeIn, batch.Type)
	require.True(t, batch.Residual.Equal(decimal.NewFromInt(10)))

	balance, err := uow.inv.GetBalanceForUpdate(context.Background(), 1, 7, "2025-03")
	require.NoError(t, err)
	require.True(t, balance.ClosingStock.Equal(decimal.NewFromInt(10)))
	require.True(t, balance.AvailableStock.Equal(decimal.NewFromInt(10)))
	require.True(t, balance.InventoryValue.Equal(decimal.NewFromInt(1000)))
	require.Len(t, uow.inv.moves, 1)
	require.True(t, uow.inv.moves[0].BeforeQty.IsZero())
	require.True(t, uow.inv.moves[0].AfterQty.Equal(decimal.NewFromInt(10)))
}

func TestReceiveRejectsBadInput(t *testing.T) {
	alloc := newTestAllocator()
	uow := &memUow{inv: newMemStore(), led: &stubLedgerStore{}}

	_, err := alloc.Receive(context.Background(), nil, ReceiptInput{})
	require.ErrorIs(t, err, shared.ErrUnitOfWorkRequired)

	_, err = alloc.Receive(context.Background(), uow, ReceiptInput{ProductID: 1, WarehouseID: 1, Qty: decimal.Zero})
	require.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = alloc.Receive(context.Background(), uow, ReceiptInput{
		ProductID: 1, WarehouseID: 1,
		Qty: decimal.NewFromInt(1), UnitCost: decimal.NewFromInt(-1),
	})
	require.ErrorIs(t, err, ErrInvalidUnitCost)

	_, err = alloc.Receive(context.Background(), uow, ReceiptInput{
		ProductID: 1, WarehouseID: 1, Type: BatchTypeOut,
		Qty: decimal.NewFromInt(1), UnitCost: decimal.NewFromInt(1),
	})
	require.Error(t, err)
}

func TestReserveAndRelease(t *testing.T) {
	alloc := newTestAllocator()
	uow := &memUow{inv: newMemStore(), led: &stubLedgerStore{}}
	date := time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC)

	_, err := alloc.Receive(context.Background(), uow, ReceiptInput{
		ProductID: 1, WarehouseID: 7,
		Qty: decimal.NewFromInt(10), UnitCost: decimal.NewFromInt(100), Date: date,
	})
	require.NoError(t, err)

	balance, err := alloc.Reserve(context.Background(), uow, ReserveInput{
		ProductID: 1, WarehouseID: 7, Qty: decimal.NewFromInt(6), Date: date,
	})
	require.NoError(t, err)
	require.True(t, balance.BookedStock.Equal(decimal.NewFromInt(6)))
	require.True(t, balance.AvailableStock.Equal(decimal.NewFromInt(4)))

	_, err = alloc.Reserve(context.Background(), uow, ReserveInput{
		ProductID: 1, WarehouseID: 7, Qty: decimal.NewFromInt(5), Date: date,
	})
	require.ErrorIs(t, err, ErrInsufficientAvailableStock)

	balance, err = alloc.Release(context.Background(), uow, ReserveInput{
		ProductID: 1, WarehouseID: 7, Qty: decimal.NewFromInt(2), Date: date,
	})
	require.NoError(t, err)
	require.True(t, balance.BookedStock.Equal(decimal.NewFromInt(4)))
	require.True(t, balance.AvailableStock.Equal(decimal.NewFromInt(6)))

	_, err = alloc.Release(context.Background(), uow, ReserveInput{
		ProductID: 1, WarehouseID: 7, Qty: decimal.NewFromInt(99), Date: date,
	})
	require.ErrorIs(t, err, ErrInsufficientBookedStock)
}

func TestIssueConsumesOldestBatchesFirst(t *testing.T) {
	alloc := newTestAllocator()
	uow := &memUow{inv: newMemStore(), led: &stubLedgerStore{}}
	date := time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC)

	first, err := uow.inv.InsertBatch(context.Background(), StockBatch{
		ProductID: 1, WarehouseID: 7, Type: BatchTypeIn,
		Qty: decimal.NewFromInt(10), Residual: decimal.NewFromInt(10), UnitCost: decimal.NewFromInt(100),
		CreatedAt: date,
	})
	require.NoError(t, err)
	second, err := uow.inv.InsertBatch(context.Background(), StockBatch{
		ProductID: 1, WarehouseID: 7, Type: BatchTypeIn,
		Qty: decimal.NewFromInt(5), Residual: decimal.NewFromInt(5), UnitCost: decimal.NewFromInt(120),
		CreatedAt: date.Add(time.Hour),
	})
	require.NoError(t, err)
	require.NoError(t, uow.inv.UpsertBalance(context.Background(), StockBalance{
		ProductID: 1, WarehouseID: 7, Month: "2025-03",
		StockIn:        decimal.NewFromInt(15),
		ClosingStock:   decimal.NewFromInt(15),
		BookedStock:    decimal.NewFromInt(12),
		AvailableStock: decimal.NewFromInt(3),
		InventoryValue: decimal.NewFromInt(1600),
	}))

	result, err := alloc.Issue(context.Background(), uow, IssueInput{
		ProductID: 1, WarehouseID: 7,
		Qty: decimal.NewFromInt(12), Date: date,
		RefModule: "USAGE", RefID: uuid.New(), LineID: 3,
	})
	require.NoError(t, err)
	require.Len(t, result.Allocations, 2)
	require.Equal(t, first.ID, result.Allocations[0].BatchID)
	require.True(t, result.Allocations[0].Qty.Equal(decimal.NewFromInt(10)))
	require.Equal(t, second.ID, result.Allocations[1].BatchID)
	require.True(t, result.Allocations[1].Qty.Equal(decimal.NewFromInt(2)))

	// 10*100 + 2*120 = 1240, over 12 units
	require.True(t, result.TotalCost.Equal(decimal.NewFromInt(1240)))
	require.True(t, result.UnitCost.Equal(decimal.RequireFromString("103.33")))

	batches, err := uow.inv.EligibleBatches(context.Background(), 1, 7)
	require.NoError(t, err)
	require.Len(t, batches, 1)
	require.Equal(t, second.ID, batches[0].ID)
	require.True(t, batches[0].Residual.Equal(decimal.NewFromInt(3)))

	balance, err := uow.inv.GetBalanceForUpdate(context.Background(), 1, 7, "2025-03")
	require.NoError(t, err)
	require.True(t, balance.ClosingStock.Equal(decimal.NewFromInt(3)))
	require.True(t, balance.BookedStock.IsZero())
	require.True(t, balance.AvailableStock.Equal(decimal.NewFromInt(3)))
	require.True(t, balance.InventoryValue.Equal(decimal.NewFromInt(360)))
}

func TestIssueRequiresBookedStock(t *testing.T) {
	alloc := newTestAllocator()
	uow := &memUow{inv: newMemStore(), led: &stubLedgerStore{}}
	date := time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC)

	require.NoError(t, uow.inv.UpsertBalance(context.Background(), StockBalance{
		ProductID: 1, WarehouseID: 7, Month: "2025-03",
		ClosingStock: decimal.NewFromInt(10), BookedStock: decimal.NewFromInt(2),
	}))

	_, err := alloc.Issue(context.Background(), uow, IssueInput{
		ProductID: 1, WarehouseID: 7, Qty: decimal.NewFromInt(5), Date: date,
		RefModule: "USAGE", RefID: uuid.New(),
	})
	require.ErrorIs(t, err, ErrInsufficientBookedStock)

	// no balance row at all
	_, err = alloc.Issue(context.Background(), uow, IssueInput{
		ProductID: 9, WarehouseID: 7, Qty: decimal.NewFromInt(5), Date: date,
		RefModule: "USAGE", RefID: uuid.New(),
	})
	require.ErrorIs(t, err, ErrInsufficientBookedStock)
}

func TestIssueFailsWhenBatchesExhausted(t *testing.T) {
	alloc := newTestAllocator()
	uow := &memUow{inv: newMemStore(), led: &stubLedgerStore{}}
	date := time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC)

	_, err := uow.inv.InsertBatch(context.Background(), StockBatch{
		ProductID: 1, WarehouseID: 7, Type: BatchTypeIn,
		Qty: decimal.NewFromInt(12), Residual: decimal.NewFromInt(12), UnitCost: decimal.NewFromInt(100),
		CreatedAt: date,
	})
	require.NoError(t, err)
	require.NoError(t, uow.inv.UpsertBalance(context.Background(), StockBalance{
		ProductID: 1, WarehouseID: 7, Month: "2025-03",
		ClosingStock: decimal.NewFromInt(15), BookedStock: decimal.NewFromInt(15),
	}))

	_, err = alloc.Issue(context.Background(), uow, IssueInput{
		ProductID: 1, WarehouseID: 7, Qty: decimal.NewFromInt(15), Date: date,
		RefModule: "USAGE", RefID: uuid.New(),
	})
	require.ErrorIs(t, err, ErrInsufficientPhysicalStock)
}

func TestFailedIssueLeavesNoMutationsBehind(t *testing.T) {
	alloc := newTestAllocator()
	uow := &memUow{inv: newMemStore(), led: &stubLedgerStore{}, guard: newMemGuard()}
	runner := &memRunner{uow: uow}
	date := time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC)

	batch, err := uow.inv.InsertBatch(context.Background(), StockBatch{
		ProductID: 1, WarehouseID: 7, Type: BatchTypeIn,
		Qty: decimal.NewFromInt(12), Residual: decimal.NewFromInt(12), UnitCost: decimal.NewFromInt(100),
		CreatedAt: date,
	})
	require.NoError(t, err)
	require.NoError(t, uow.inv.UpsertBalance(context.Background(), StockBalance{
		ProductID: 1, WarehouseID: 7, Month: "2025-03",
		StockIn:        decimal.NewFromInt(12),
		ClosingStock:   decimal.NewFromInt(15),
		BookedStock:    decimal.NewFromInt(15),
		InventoryValue: decimal.NewFromInt(1200),
	}))

	in := IssueInput{
		ProductID: 1, WarehouseID: 7, Qty: decimal.NewFromInt(15), Date: date,
		RefModule: "USAGE", RefID: uuid.New(), LineID: 1,
	}
	err = runner.run(context.Background(), func(ctx context.Context, u UnitOfWork) error {
		_, err := alloc.Issue(ctx, u, in)
		return err
	})
	require.ErrorIs(t, err, ErrInsufficientPhysicalStock)

	// batches, balance, allocations, and movements are exactly as seeded
	batches, err := uow.inv.EligibleBatches(context.Background(), 1, 7)
	require.NoError(t, err)
	require.Len(t, batches, 1)
	require.Equal(t, batch.ID, batches[0].ID)
	require.True(t, batches[0].Residual.Equal(decimal.NewFromInt(12)), "residual untouched: %s", batches[0].Residual)
	require.Empty(t, uow.inv.allocs)
	require.Empty(t, uow.inv.moves)

	balance, err := uow.inv.GetBalanceForUpdate(context.Background(), 1, 7, "2025-03")
	require.NoError(t, err)
	require.True(t, balance.ClosingStock.Equal(decimal.NewFromInt(15)))
	require.True(t, balance.BookedStock.Equal(decimal.NewFromInt(15)))
	require.True(t, balance.InventoryValue.Equal(decimal.NewFromInt(1200)))

	// the key claim rolled back with the rest, so the retry goes through
	_, err = uow.inv.InsertBatch(context.Background(), StockBatch{
		ProductID: 1, WarehouseID: 7, Type: BatchTypeIn,
		Qty: decimal.NewFromInt(3), Residual: decimal.NewFromInt(3), UnitCost: decimal.NewFromInt(110),
		CreatedAt: date.Add(time.Hour),
	})
	require.NoError(t, err)
	err = runner.run(context.Background(), func(ctx context.Context, u UnitOfWork) error {
		_, err := alloc.Issue(ctx, u, in)
		return err
	})
	require.NoError(t, err)
}

func TestIssueRefusesCommittedDuplicate(t *testing.T) {
	alloc := newTestAllocator()
	uow := &memUow{inv: newMemStore(), led: &stubLedgerStore{}, guard: newMemGuard()}
	runner := &memRunner{uow: uow}
	date := time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC)

	_, err := uow.inv.InsertBatch(context.Background(), StockBatch{
		ProductID: 1, WarehouseID: 7, Type: BatchTypeIn,
		Qty: decimal.NewFromInt(20), Residual: decimal.NewFromInt(20), UnitCost: decimal.NewFromInt(100),
		CreatedAt: date,
	})
	require.NoError(t, err)
	require.NoError(t, uow.inv.UpsertBalance(context.Background(), StockBalance{
		ProductID: 1, WarehouseID: 7, Month: "2025-03",
		StockIn:      decimal.NewFromInt(20),
		ClosingStock: decimal.NewFromInt(20),
		BookedStock:  decimal.NewFromInt(20),
	}))

	in := IssueInput{
		ProductID: 1, WarehouseID: 7, Qty: decimal.NewFromInt(5), Date: date,
		RefModule: "USAGE", RefID: uuid.New(), LineID: 2,
	}
	err = runner.run(context.Background(), func(ctx context.Context, u UnitOfWork) error {
		_, err := alloc.Issue(ctx, u, in)
		return err
	})
	require.NoError(t, err)

	err = runner.run(context.Background(), func(ctx context.Context, u UnitOfWork) error {
		_, err := alloc.Issue(ctx, u, in)
		return err
	})
	require.ErrorIs(t, err, internalshared.ErrIdempotencyConflict)
}

func TestPostIssueRefusesDuplicate(t *testing.T) {
	alloc := newTestAllocator()
	uow := &memUow{inv: newMemStore(), led: &stubLedgerStore{sourceLedgerID: 88}}

	_, err := alloc.PostIssue(context.Background(), uow, PostIssueInput{
		RefModule: "USAGE", RefID: uuid.New(), WarehouseID: 7,
		UsageModule: "EXPENSE", UsageKey: "PROJECT_MATERIAL",
		Date: time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC),
	})
	require.ErrorIs(t, err, shared.ErrDuplicatePosting)
}

func TestPostIssueRequiresAllocations(t *testing.T) {
	alloc := newTestAllocator()
	uow := &memUow{inv: newMemStore(), led: &stubLedgerStore{}}

	_, err := alloc.PostIssue(context.Background(), uow, PostIssueInput{
		RefModule: "USAGE", RefID: uuid.New(), WarehouseID: 7,
		UsageModule: "EXPENSE", UsageKey: "PROJECT_MATERIAL",
		Date: time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC),
	})
	require.ErrorIs(t, err, ErrNothingToPost)
}
