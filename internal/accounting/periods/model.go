package periods

import "time"

// PeriodStatus enumerates valid period states. CLOSING is a transient
// state held while a close run executes so concurrent postings are
// rejected deterministically instead of relying on an absence of writers.
type PeriodStatus string

const (
	PeriodStatusOpen    PeriodStatus = "OPEN"
	PeriodStatusClosing PeriodStatus = "CLOSING"
	PeriodStatusClosed  PeriodStatus = "CLOSED"
)

// Period represents one fiscal period window. Periods are contiguous and
// non-overlapping; every transaction date falls in exactly one.
type Period struct {
	ID           int64
	Code         string
	Name         string
	StartDate    time.Time
	EndDate      time.Time
	FiscalYear   int
	Month        int
	Quarter      int
	Status       PeriodStatus
	ClosedBy     *int64
	ClosedAt     *time.Time
	ReopenedBy   *int64
	ReopenedAt   *time.Time
	ReopenReason string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Contains reports whether the date falls inside the period window.
func (p Period) Contains(date time.Time) bool {
	return !date.Before(p.StartDate) && !date.After(p.EndDate)
}
