package periods

import (
	"context"
	"errors"
	"time"

	"github.com/meridian-erp/meridian-erp/internal/accounting/shared"
)

// Service resolves and provisions accounting periods on demand.
type Service struct {
	resolver *Resolver
}

// NewService constructs the period service around one resolver.
func NewService(resolver *Resolver) *Service {
	return &Service{resolver: resolver}
}

// Resolver exposes the underlying fiscal calendar.
func (s *Service) Resolver() *Resolver { return s.resolver }

// ResolveOrCreate finds the period covering the date, creating it when
// absent. The lookup runs against the caller's unit of work so a period
// created here is visible to subsequent writes in the same scope.
func (s *Service) ResolveOrCreate(ctx context.Context, store TxRepository, date time.Time) (Period, error) {
	day := s.resolver.StartOfDay(date)
	period, err := store.FindByDate(ctx, day)
	if err == nil {
		return period, nil
	}
	if !errors.Is(err, shared.ErrPeriodNotFound) {
		return Period{}, err
	}
	return store.Insert(ctx, s.resolver.PeriodFor(day))
}

// ResolveOrCreateNext returns the period following current, creating it
// from the current period's end date when it does not exist yet.
func (s *Service) ResolveOrCreateNext(ctx context.Context, store TxRepository, current Period) (Period, error) {
	next := s.resolver.NextPeriod(current)
	existing, err := store.FindByCode(ctx, next.Code)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, shared.ErrPeriodNotFound) {
		return Period{}, err
	}
	return store.Insert(ctx, next)
}

// ResolveNext returns the period following current without provisioning
// it, failing with ErrPeriodNotFound when it does not exist.
func (s *Service) ResolveNext(ctx context.Context, store TxRepository, current Period) (Period, error) {
	return store.FindByCode(ctx, s.resolver.NextPeriod(current).Code)
}

// EnsureOpenForPosting rejects postings into periods that are not open.
func EnsureOpenForPosting(p Period, date time.Time) error {
	switch p.Status {
	case PeriodStatusOpen:
	case PeriodStatusClosing:
		return shared.ErrPeriodClosing
	default:
		return shared.ErrPeriodClosed
	}
	if !p.Contains(date) {
		return shared.ErrPeriodNotFound
	}
	return nil
}
