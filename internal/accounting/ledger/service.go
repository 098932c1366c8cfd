package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/meridian-erp/meridian-erp/internal/accounting/accounts"
	"github.com/meridian-erp/meridian-erp/internal/accounting/periods"
	"github.com/meridian-erp/meridian-erp/internal/accounting/shared"
	"github.com/meridian-erp/meridian-erp/internal/accounting/summary"
)

// DefaultPrefix is used when a posting does not supply a document prefix.
const DefaultPrefix = "GL"

// DefaultCurrency applies when the caller leaves currency empty.
const DefaultCurrency = "IDR"

// UnitOfWork is the transaction scope a caller must supply for posting.
// All writes inside one Post are all-or-nothing within it.
type UnitOfWork interface {
	LedgerStore() TxRepository
	PeriodStore() periods.TxRepository
	SummaryStore() summary.TxRepository
}

// AccountResolver resolves direct and symbolic account references.
type AccountResolver interface {
	Get(ctx context.Context, id int64) (accounts.Account, error)
	ResolveKey(ctx context.Context, module, key string) (accounts.Account, error)
}

// Poster builds and persists balanced ledger entries and fans every line
// out to the summary aggregator inside the caller's unit of work.
type Poster struct {
	periods    *periods.Service
	registry   AccountResolver
	aggregator *summary.Aggregator
	now        func() time.Time
}

// NewPoster constructs the poster.
func NewPoster(periodSvc *periods.Service, registry AccountResolver, aggregator *summary.Aggregator) *Poster {
	return &Poster{periods: periodSvc, registry: registry, aggregator: aggregator, now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (p *Poster) WithNow(now func() time.Time) {
	if now != nil {
		p.now = now
	}
}

// Post persists a balanced ledger entry with its lines. Any failed step
// aborts the whole unit of work; nothing partial survives.
func (p *Poster) Post(ctx context.Context, uow UnitOfWork, in PostingInput) (Ledger, error) {
	if uow == nil {
		return Ledger{}, shared.ErrUnitOfWorkRequired
	}
	if err := in.Validate(); err != nil {
		return Ledger{}, err
	}

	period, err := p.periods.ResolveOrCreate(ctx, uow.PeriodStore(), in.Date)
	if err != nil {
		return Ledger{}, err
	}
	day := p.periods.Resolver().StartOfDay(in.Date)
	if err := periods.EnsureOpenForPosting(period, day); err != nil {
		return Ledger{}, err
	}

	resolved, err := p.resolveLines(ctx, in.Lines)
	if err != nil {
		return Ledger{}, err
	}

	store := uow.LedgerStore()
	number, err := p.nextNumber(ctx, store, in.Prefix, period)
	if err != nil {
		return Ledger{}, err
	}

	now := p.now()
	header := Ledger{
		Number:       number,
		PeriodID:     period.ID,
		Date:         day,
		PostingDate:  now,
		SourceModule: in.SourceModule,
		SourceID:     in.SourceID,
		Memo:         in.Memo,
		PostedBy:     in.PostedBy,
		Status:       LedgerStatusPosted,
	}
	inserted, err := store.InsertLedger(ctx, header)
	if err != nil {
		return Ledger{}, err
	}

	currency := in.Currency
	if currency == "" {
		currency = DefaultCurrency
	}
	lines := make([]LedgerLine, 0, len(in.Lines))
	for i, line := range in.Lines {
		lines = append(lines, LedgerLine{
			LedgerID:      inserted.ID,
			AccountID:     resolved[i].ID,
			Debit:         line.Debit,
			Credit:        line.Credit,
			Currency:      currency,
			LocalAmount:   line.LocalAmount,
			Description:   line.Description,
			DimProjectID:  line.ProjectID,
			DimCustomerID: line.CustomerID,
			DimSupplierID: line.SupplierID,
			DimEmployeeID: line.EmployeeID,
			DimOrderID:    line.OrderID,
		})
	}
	persisted, err := store.InsertLines(ctx, inserted.ID, lines)
	if err != nil {
		return Ledger{}, err
	}

	if err := store.LinkSource(ctx, in.SourceModule, in.SourceID, inserted.ID); err != nil {
		if errors.Is(err, shared.ErrSourceConflict) {
			return Ledger{}, shared.ErrDuplicatePosting
		}
		return Ledger{}, err
	}

	summaries := uow.SummaryStore()
	for i, line := range persisted {
		if err := p.aggregator.IncrementTrialBalance(ctx, summaries, period, resolved[i], line.Debit, line.Credit); err != nil {
			return Ledger{}, err
		}
		if err := p.aggregator.IncrementGLSummary(ctx, summaries, resolved[i], period, day, line.Debit, line.Credit); err != nil {
			return Ledger{}, err
		}
	}

	inserted.Lines = persisted
	return inserted, nil
}

// Void marks a posted ledger VOID and backs its amounts out of the
// derived summaries with negated increments. Posted lines are never
// edited or deleted.
func (p *Poster) Void(ctx context.Context, uow UnitOfWork, in VoidInput) (Ledger, error) {
	if uow == nil {
		return Ledger{}, shared.ErrUnitOfWorkRequired
	}
	if in.LedgerID == 0 {
		return Ledger{}, errors.New("ledger: ledger id required")
	}
	store := uow.LedgerStore()
	entry, err := store.GetLedgerWithLines(ctx, in.LedgerID)
	if err != nil {
		return Ledger{}, err
	}
	if entry.Status != LedgerStatusPosted {
		return Ledger{}, shared.ErrInvalidStatus
	}
	period, err := uow.PeriodStore().GetForUpdate(ctx, entry.PeriodID)
	if err != nil {
		return Ledger{}, err
	}
	if err := periods.EnsureOpenForPosting(period, entry.Date); err != nil {
		return Ledger{}, err
	}
	if err := store.UpdateStatus(ctx, entry.ID, LedgerStatusVoid); err != nil {
		return Ledger{}, err
	}

	summaries := uow.SummaryStore()
	for _, line := range entry.Lines {
		account, err := p.registry.Get(ctx, line.AccountID)
		if err != nil {
			return Ledger{}, err
		}
		if err := p.aggregator.IncrementTrialBalance(ctx, summaries, period, account, line.Debit.Neg(), line.Credit.Neg()); err != nil {
			return Ledger{}, err
		}
		if err := p.aggregator.IncrementGLSummary(ctx, summaries, account, period, entry.Date, line.Debit.Neg(), line.Credit.Neg()); err != nil {
			return Ledger{}, err
		}
	}
	entry.Status = LedgerStatusVoid
	return entry, nil
}

func (p *Poster) resolveLines(ctx context.Context, lines []PostingLine) ([]accounts.Account, error) {
	out := make([]accounts.Account, 0, len(lines))
	for idx, line := range lines {
		var account accounts.Account
		var err error
		if line.AccountID != 0 {
			account, err = p.registry.Get(ctx, line.AccountID)
		} else {
			account, err = p.registry.ResolveKey(ctx, line.AccountModule, line.AccountKey)
		}
		if err != nil {
			return nil, fmt.Errorf("ledger: line %d: %w", idx, err)
		}
		if !account.IsPostable {
			return nil, fmt.Errorf("ledger: line %d account %s: %w", idx, account.Code, shared.ErrHeaderAccount)
		}
		if !account.IsActive {
			return nil, fmt.Errorf("ledger: line %d account %s: %w", idx, account.Code, shared.ErrAccountNotConfigured)
		}
		out = append(out, account)
	}
	return out, nil
}

// nextNumber allocates the monthly document number from the storage-side
// counter, so concurrent postings cannot observe the same value.
func (p *Poster) nextNumber(ctx context.Context, store TxRepository, prefix string, period periods.Period) (string, error) {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	start := period.StartDate.In(p.periods.Resolver().Location())
	seq, err := store.NextSequence(ctx, prefix, start.Year(), int(start.Month()))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/%04d/%02d/%05d", prefix, start.Year(), int(start.Month()), seq), nil
}
