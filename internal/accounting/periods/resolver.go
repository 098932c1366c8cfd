package periods

import (
	"fmt"
	"time"
)

// Resolver is the single definition of the fiscal calendar: every
// date-to-period decision anchors on one timezone and one fiscal-year
// start month so boundary drift cannot creep in per call site.
type Resolver struct {
	loc          *time.Location
	fyStartMonth time.Month
}

// NewResolver builds a resolver. loc defaults to UTC, fyStartMonth to
// January when out of range.
func NewResolver(loc *time.Location, fyStartMonth time.Month) *Resolver {
	if loc == nil {
		loc = time.UTC
	}
	if fyStartMonth < time.January || fyStartMonth > time.December {
		fyStartMonth = time.January
	}
	return &Resolver{loc: loc, fyStartMonth: fyStartMonth}
}

// Location exposes the anchor timezone.
func (r *Resolver) Location() *time.Location { return r.loc }

// StartOfDay truncates a timestamp to midnight in the anchor timezone.
func (r *Resolver) StartOfDay(t time.Time) time.Time {
	local := t.In(r.loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, r.loc)
}

// CodeFor returns the calendar period code ("2006-01") for a date.
func (r *Resolver) CodeFor(date time.Time) string {
	local := date.In(r.loc)
	return fmt.Sprintf("%04d-%02d", local.Year(), int(local.Month()))
}

// PeriodFor derives the full period window covering the date. EndDate is
// the start of the last day of the month; callers compare against
// day-truncated dates.
func (r *Resolver) PeriodFor(date time.Time) Period {
	local := date.In(r.loc)
	start := time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, r.loc)
	end := start.AddDate(0, 1, -1)
	fy, fm := r.fiscalYearMonth(local.Year(), local.Month())
	return Period{
		Code:       r.CodeFor(start),
		Name:       start.Format("January 2006"),
		StartDate:  start,
		EndDate:    end,
		FiscalYear: fy,
		Month:      fm,
		Quarter:    (fm-1)/3 + 1,
		Status:     PeriodStatusOpen,
	}
}

// NextPeriod derives the period immediately following the given one.
func (r *Resolver) NextPeriod(p Period) Period {
	return r.PeriodFor(p.EndDate.In(r.loc).AddDate(0, 0, 1))
}

// fiscalYearMonth maps a calendar (year, month) onto the fiscal year
// label (the calendar year the fiscal year starts in) and fiscal month
// ordinal 1..12.
func (r *Resolver) fiscalYearMonth(year int, month time.Month) (int, int) {
	fm := int(month) - int(r.fyStartMonth)
	if fm < 0 {
		fm += 12
	}
	fy := year
	if month < r.fyStartMonth {
		fy--
	}
	return fy, fm + 1
}
