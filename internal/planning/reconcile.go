package planning

import (
	"sort"

	"github.com/shopspring/decimal"
)

// hoursPrecision is the number of decimal places hours are rounded to
// before comparison, so accumulated floating error never causes update
// churn.
const hoursPrecision = 1

// ExistingRecord is one remote planning line for a single day, reduced to
// what reconciliation needs.
type ExistingRecord struct {
	RemoteLineID     string
	RemoteLineNo     int
	ConcurrencyToken string
	Quantity         decimal.Decimal
}

// DesiredDayMap maps an ISO date (2006-01-02) to the wanted hours for that
// day. Zero means "no allocation".
type DesiredDayMap map[string]decimal.Decimal

// ExistingDayRecords maps an ISO date to the remote records currently on
// that day. More than one entry per day represents duplicates that must be
// consolidated.
type ExistingDayRecords map[string][]ExistingRecord

type CreateOp struct {
	Date  string
	Hours decimal.Decimal
}

type UpdateOp struct {
	RemoteLineID     string
	ConcurrencyToken string
	Hours            decimal.Decimal
}

type DeleteOp struct {
	RemoteLineID     string
	ConcurrencyToken string
}

// Plan is the partitioned operation list that turns the remote state into
// the desired state.
type Plan struct {
	ToCreate []CreateOp
	ToUpdate []UpdateOp
	ToDelete []DeleteOp
}

// Empty reports whether the plan contains no operations.
func (p Plan) Empty() bool {
	return len(p.ToCreate) == 0 && len(p.ToUpdate) == 0 && len(p.ToDelete) == 0
}

// Len returns the total number of operations across all three partitions.
func (p Plan) Len() int {
	return len(p.ToCreate) + len(p.ToUpdate) + len(p.ToDelete)
}

// Reconcile computes the minimal operation set for one resource/project/task
// tuple. Pure and deterministic: no I/O, no clamping — inputs are assumed
// pre-validated (hours non-negative, at or below the daily ceiling).
//
// Per day: a wanted value with no remote records becomes a create; a wanted
// value with records keeps the canonical record (lowest line number, then
// lexicographic id) and updates it only when its own quantity differs from
// the wanted value; every record beyond the canonical one is deleted
// unconditionally; a zero wanted value deletes everything on the day.
func Reconcile(desired DesiredDayMap, existing ExistingDayRecords) Plan {
	var plan Plan

	for _, date := range unionDates(desired, existing) {
		want := desired[date]
		have := append([]ExistingRecord(nil), existing[date]...)

		wantsHours := want.Round(hoursPrecision).IsPositive()
		switch {
		case wantsHours && len(have) == 0:
			plan.ToCreate = append(plan.ToCreate, CreateOp{Date: date, Hours: want})

		case wantsHours:
			sortRecords(have)
			canonical := have[0]

			// The canonical record must end up carrying the full wanted
			// total on its own, because every other record on the day is
			// about to be deleted. Comparing against the canonical quantity
			// (not the day total) keeps reconcile idempotent when
			// duplicates split the total.
			if !canonical.Quantity.Round(hoursPrecision).Equal(want.Round(hoursPrecision)) {
				plan.ToUpdate = append(plan.ToUpdate, UpdateOp{
					RemoteLineID:     canonical.RemoteLineID,
					ConcurrencyToken: canonical.ConcurrencyToken,
					Hours:            want,
				})
			}
			// duplicate consolidation happens even when the total matches
			for _, rec := range have[1:] {
				plan.ToDelete = append(plan.ToDelete, DeleteOp{
					RemoteLineID:     rec.RemoteLineID,
					ConcurrencyToken: rec.ConcurrencyToken,
				})
			}

		case len(have) > 0:
			sortRecords(have)
			for _, rec := range have {
				plan.ToDelete = append(plan.ToDelete, DeleteOp{
					RemoteLineID:     rec.RemoteLineID,
					ConcurrencyToken: rec.ConcurrencyToken,
				})
			}
		}
	}

	return plan
}

// sortRecords orders a day's records so the canonical one comes first. The
// ledger does not guarantee a stable return order, so canonical is defined
// here: lowest remote line number, ties broken by id.
func sortRecords(records []ExistingRecord) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].RemoteLineNo != records[j].RemoteLineNo {
			return records[i].RemoteLineNo < records[j].RemoteLineNo
		}
		return records[i].RemoteLineID < records[j].RemoteLineID
	})
}

func unionDates(desired DesiredDayMap, existing ExistingDayRecords) []string {
	seen := make(map[string]struct{}, len(desired)+len(existing))
	for date := range desired {
		seen[date] = struct{}{}
	}
	for date := range existing {
		seen[date] = struct{}{}
	}

	dates := make([]string, 0, len(seen))
	for date := range seen {
		dates = append(dates, date)
	}
	sort.Strings(dates)
	return dates
}
