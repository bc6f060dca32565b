package planning_test

import (
	"testing"

	"github.com/mkarlsen/planr/internal/planning"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hours(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func TestReconcileCreatesMissingDays(t *testing.T) {
	plan := planning.Reconcile(
		planning.DesiredDayMap{"2025-01-06": hours(8)},
		planning.ExistingDayRecords{},
	)

	require.Len(t, plan.ToCreate, 1)
	assert.Equal(t, "2025-01-06", plan.ToCreate[0].Date)
	assert.True(t, plan.ToCreate[0].Hours.Equal(hours(8)))
	assert.Empty(t, plan.ToUpdate)
	assert.Empty(t, plan.ToDelete)
}

func TestReconcileZeroHoursClears(t *testing.T) {
	plan := planning.Reconcile(
		planning.DesiredDayMap{"2025-01-06": decimal.Zero},
		planning.ExistingDayRecords{
			"2025-01-06": {{RemoteLineID: "A", RemoteLineNo: 10000, ConcurrencyToken: "v1", Quantity: hours(4)}},
		},
	)

	assert.Empty(t, plan.ToCreate)
	assert.Empty(t, plan.ToUpdate)
	require.Len(t, plan.ToDelete, 1)
	assert.Equal(t, "A", plan.ToDelete[0].RemoteLineID)
	assert.Equal(t, "v1", plan.ToDelete[0].ConcurrencyToken)
}

func TestReconcileDuplicateConsolidation(t *testing.T) {
	// two records totalling 5 with desired 5: update one to 5, delete the other
	plan := planning.Reconcile(
		planning.DesiredDayMap{"2025-01-06": hours(5)},
		planning.ExistingDayRecords{
			"2025-01-06": {
				{RemoteLineID: "A", RemoteLineNo: 10000, ConcurrencyToken: "va", Quantity: hours(3)},
				{RemoteLineID: "B", RemoteLineNo: 20000, ConcurrencyToken: "vb", Quantity: hours(2)},
			},
		},
	)

	assert.Empty(t, plan.ToCreate)
	require.Len(t, plan.ToUpdate, 1)
	assert.Equal(t, "A", plan.ToUpdate[0].RemoteLineID)
	assert.True(t, plan.ToUpdate[0].Hours.Equal(hours(5)))
	require.Len(t, plan.ToDelete, 1)
	assert.Equal(t, "B", plan.ToDelete[0].RemoteLineID)
}

func TestReconcileConsolidatesWhenCanonicalAlreadyMatches(t *testing.T) {
	// canonical record already carries the wanted total: no update, but the
	// duplicate still goes
	plan := planning.Reconcile(
		planning.DesiredDayMap{"2025-01-06": hours(5)},
		planning.ExistingDayRecords{
			"2025-01-06": {
				{RemoteLineID: "A", RemoteLineNo: 10000, Quantity: hours(5)},
				{RemoteLineID: "B", RemoteLineNo: 20000, Quantity: hours(3)},
			},
		},
	)

	assert.Empty(t, plan.ToCreate)
	assert.Empty(t, plan.ToUpdate)
	require.Len(t, plan.ToDelete, 1)
	assert.Equal(t, "B", plan.ToDelete[0].RemoteLineID)
}

func TestReconcileCanonicalTieBreak(t *testing.T) {
	// canonical record is the lowest line number regardless of input order
	plan := planning.Reconcile(
		planning.DesiredDayMap{"2025-01-06": hours(6)},
		planning.ExistingDayRecords{
			"2025-01-06": {
				{RemoteLineID: "B", RemoteLineNo: 20000, Quantity: hours(2)},
				{RemoteLineID: "A", RemoteLineNo: 10000, Quantity: hours(3)},
			},
		},
	)

	require.Len(t, plan.ToUpdate, 1)
	assert.Equal(t, "A", plan.ToUpdate[0].RemoteLineID)
	require.Len(t, plan.ToDelete, 1)
	assert.Equal(t, "B", plan.ToDelete[0].RemoteLineID)
}

func TestReconcileNoChangeIsNoOp(t *testing.T) {
	plan := planning.Reconcile(
		planning.DesiredDayMap{"2025-01-06": hours(8), "2025-01-07": decimal.Zero},
		planning.ExistingDayRecords{
			"2025-01-06": {{RemoteLineID: "A", RemoteLineNo: 10000, Quantity: hours(8)}},
		},
	)

	assert.True(t, plan.Empty())
}

func TestReconcileRoundsBeforeComparing(t *testing.T) {
	// 0.1+0.2 style accumulation must not cause update churn
	accumulated := hours(0.1).Add(hours(0.2)).Add(hours(7.7))
	plan := planning.Reconcile(
		planning.DesiredDayMap{"2025-01-06": hours(8.0)},
		planning.ExistingDayRecords{
			"2025-01-06": {{RemoteLineID: "A", RemoteLineNo: 10000, Quantity: accumulated}},
		},
	)

	assert.True(t, plan.Empty())
}

func TestReconcileScenario(t *testing.T) {
	// desired: mon 8, tue 8, wed 0; existing: mon 8 (A), wed 4 (B)
	plan := planning.Reconcile(
		planning.DesiredDayMap{
			"2025-01-06": hours(8),
			"2025-01-07": hours(8),
			"2025-01-08": decimal.Zero,
		},
		planning.ExistingDayRecords{
			"2025-01-06": {{RemoteLineID: "A", RemoteLineNo: 10000, Quantity: hours(8)}},
			"2025-01-08": {{RemoteLineID: "B", RemoteLineNo: 20000, Quantity: hours(4)}},
		},
	)

	require.Len(t, plan.ToCreate, 1)
	assert.Equal(t, "2025-01-07", plan.ToCreate[0].Date)
	assert.True(t, plan.ToCreate[0].Hours.Equal(hours(8)))
	assert.Empty(t, plan.ToUpdate)
	require.Len(t, plan.ToDelete, 1)
	assert.Equal(t, "B", plan.ToDelete[0].RemoteLineID)
}

// applying a plan to the existing state and reconciling again must be a
// no-op when desired is unchanged
func TestReconcileIdempotence(t *testing.T) {
	desired := planning.DesiredDayMap{
		"2025-01-06": hours(8),
		"2025-01-07": hours(4.5),
		"2025-01-08": decimal.Zero,
	}
	existing := planning.ExistingDayRecords{
		"2025-01-06": {
			{RemoteLineID: "A", RemoteLineNo: 10000, Quantity: hours(3)},
			{RemoteLineID: "B", RemoteLineNo: 20000, Quantity: hours(3)},
		},
		"2025-01-08": {{RemoteLineID: "C", RemoteLineNo: 30000, Quantity: hours(2)}},
	}

	plan := planning.Reconcile(desired, existing)
	refetched := applyPlan(t, desired, existing, plan)

	second := planning.Reconcile(desired, refetched)
	assert.True(t, second.Empty(), "second reconcile must be a no-op, got %+v", second)
}

// applyPlan simulates the remote side applying a plan, producing the state
// a refetch would observe.
func applyPlan(t *testing.T, desired planning.DesiredDayMap, existing planning.ExistingDayRecords, plan planning.Plan) planning.ExistingDayRecords {
	t.Helper()

	next := make(planning.ExistingDayRecords)
	deleted := make(map[string]bool)
	for _, op := range plan.ToDelete {
		deleted[op.RemoteLineID] = true
	}
	updated := make(map[string]decimal.Decimal)
	for _, op := range plan.ToUpdate {
		updated[op.RemoteLineID] = op.Hours
	}

	for date, records := range existing {
		for _, rec := range records {
			if deleted[rec.RemoteLineID] {
				continue
			}
			if h, ok := updated[rec.RemoteLineID]; ok {
				rec.Quantity = h
			}
			next[date] = append(next[date], rec)
		}
	}

	lineNo := 90000
	for _, op := range plan.ToCreate {
		next[op.Date] = append(next[op.Date], planning.ExistingRecord{
			RemoteLineID: "new-" + op.Date,
			RemoteLineNo: lineNo,
			Quantity:     op.Hours,
		})
		lineNo += 10000
	}
	return next
}
