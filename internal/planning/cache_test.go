package planning_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mkarlsen/planr/internal/ledger"
	"github.com/mkarlsen/planr/internal/planning"
	"github.com/mkarlsen/planr/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGateway serves canned master data and counts every fetch.
type fakeGateway struct {
	resources []ledger.Resource
	projects  []ledger.Project
	lines     map[string][]ledger.PlanningLine // keyed by project number

	planningLineCalls atomic.Int64
	summaryCalls      atomic.Int64
	projectCalls      atomic.Int64

	planningErr error
	summaryErr  error

	// block, when set, delays planning-line fetches until released; used to
	// hold a fill in flight while a second caller arrives
	block chan struct{}
	// blockProjects does the same for the master-data fetch
	blockProjects chan struct{}
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		resources: []ledger.Resource{
			{ID: "r1", Number: "R1", Name: "Anna Larsen"},
			{ID: "r2", Number: "R2", Name: "Bo Berg"},
		},
		projects: []ledger.Project{
			{ID: "p1", Number: "PROJ-1", Name: "Website Relaunch"},
		},
		lines: map[string][]ledger.PlanningLine{
			"PROJ-1": {line("a", 10000, 6, 8), line("b", 20000, 7, 8)},
		},
	}
}

func (g *fakeGateway) GetResources(context.Context) ([]ledger.Resource, error) {
	return g.resources, nil
}

func (g *fakeGateway) GetProjects(context.Context) ([]ledger.Project, error) {
	g.projectCalls.Add(1)
	if g.blockProjects != nil {
		<-g.blockProjects
	}
	return g.projects, nil
}

func (g *fakeGateway) GetProjectTasks(_ context.Context, projectNumber string) ([]ledger.Task, error) {
	return []ledger.Task{{Number: "T1", Name: "Frontend", ProjectNumber: projectNumber}}, nil
}

func (g *fakeGateway) GetPlanningLines(_ context.Context, projectNumber string, from, to time.Time) ([]ledger.PlanningLine, error) {
	g.planningLineCalls.Add(1)
	if g.block != nil {
		<-g.block
	}
	if g.planningErr != nil {
		return nil, g.planningErr
	}

	var out []ledger.PlanningLine
	for _, l := range g.lines[projectNumber] {
		if !l.Date.Before(from) && !l.Date.After(to) {
			out = append(out, l)
		}
	}
	return out, nil
}

func (g *fakeGateway) GetTimesheetSummary(_ context.Context, resourceNumber string, _ time.Time) (*ledger.TimesheetSummary, error) {
	g.summaryCalls.Add(1)
	if g.summaryErr != nil {
		return nil, g.summaryErr
	}
	if resourceNumber == "R2" {
		return nil, nil // R2 has no timesheet
	}
	return &ledger.TimesheetSummary{ResourceNumber: resourceNumber, SubmittedHours: hours(12)}, nil
}

func week(t *testing.T, s string) types.Week {
	t.Helper()
	w, err := types.ParseWeek(s)
	require.NoError(t, err)
	return w
}

func TestEnsureWeeksLoadedFillsAndBuilds(t *testing.T) {
	gateway := newFakeGateway()
	cache := planning.NewWeekCache(gateway, nil, 4, nil)

	w := week(t, "2025-01-06")
	require.NoError(t, cache.EnsureWeeksLoaded(context.Background(), []types.Week{w}))

	entry, ok := cache.Entry(w)
	require.True(t, ok)
	require.Len(t, entry.Blocks, 1)
	assert.Equal(t, "Website Relaunch", entry.Blocks[0].ProjectName)
	assert.Equal(t, "Frontend", entry.Blocks[0].TaskName)
	require.Contains(t, entry.Summaries, "R1")
	assert.True(t, entry.Summaries["R1"].SubmittedHours.Equal(hours(12)))
	assert.Nil(t, entry.Summaries["R2"])
}

func TestEnsureWeeksLoadedSkipsCachedWeeks(t *testing.T) {
	gateway := newFakeGateway()
	cache := planning.NewWeekCache(gateway, nil, 4, nil)
	w := week(t, "2025-01-06")

	require.NoError(t, cache.EnsureWeeksLoaded(context.Background(), []types.Week{w}))
	first := gateway.planningLineCalls.Load()

	require.NoError(t, cache.EnsureWeeksLoaded(context.Background(), []types.Week{w}))
	assert.Equal(t, first, gateway.planningLineCalls.Load(), "cached week must not be re-fetched")
}

func TestEnsureWeeksLoadedCoalescesConcurrentFills(t *testing.T) {
	gateway := newFakeGateway()
	gateway.block = make(chan struct{})
	cache := planning.NewWeekCache(gateway, nil, 4, nil)
	w := week(t, "2025-01-06")

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, cache.EnsureWeeksLoaded(context.Background(), []types.Week{w}))
		}()
	}

	// let both callers join the same in-flight fill before releasing it
	time.Sleep(50 * time.Millisecond)
	close(gateway.block)
	wg.Wait()

	assert.Equal(t, int64(1), gateway.planningLineCalls.Load(), "one fetch per project for the week")
	assert.Equal(t, int64(2), gateway.summaryCalls.Load(), "one fetch per resource for the week")
}

func TestInvalidateWeekForcesRefill(t *testing.T) {
	gateway := newFakeGateway()
	cache := planning.NewWeekCache(gateway, nil, 4, nil)
	w := week(t, "2025-01-06")

	require.NoError(t, cache.EnsureWeeksLoaded(context.Background(), []types.Week{w}))
	cache.InvalidateWeek(w)

	_, ok := cache.Entry(w)
	assert.False(t, ok)

	require.NoError(t, cache.EnsureWeeksLoaded(context.Background(), []types.Week{w}))
	assert.Equal(t, int64(2), gateway.planningLineCalls.Load())
}

func TestInvalidateAllClearsEverything(t *testing.T) {
	gateway := newFakeGateway()
	cache := planning.NewWeekCache(gateway, nil, 4, nil)
	weeks := []types.Week{week(t, "2025-01-06"), week(t, "2025-01-13")}

	require.NoError(t, cache.EnsureWeeksLoaded(context.Background(), weeks))
	cache.InvalidateAll()

	assert.Empty(t, cache.Entries(weeks))
	assert.Nil(t, cache.Resources())
}

func TestInvalidateAllSupersedesInFlightLoads(t *testing.T) {
	gateway := newFakeGateway()
	gateway.blockProjects = make(chan struct{})
	cache := planning.NewWeekCache(gateway, nil, 4, nil)
	w := week(t, "2025-01-06")

	done := make(chan error, 1)
	go func() {
		done <- cache.EnsureWeeksLoaded(context.Background(), []types.Week{w})
	}()

	// invalidate while the fill is stuck in the master fetch; the stale
	// snapshot must not be published when the fetch finally resolves
	time.Sleep(50 * time.Millisecond)
	cache.InvalidateAll()
	close(gateway.blockProjects)
	require.NoError(t, <-done)

	assert.Nil(t, cache.Resources())
	_, ok := cache.Entry(w)
	assert.False(t, ok)

	// the next load fetches fresh master data instead of reusing the
	// superseded snapshot
	require.NoError(t, cache.EnsureWeeksLoaded(context.Background(), []types.Week{w}))
	assert.Equal(t, int64(2), gateway.projectCalls.Load())
	assert.NotNil(t, cache.Resources())
}

func TestFailedFillLeavesWeekAbsent(t *testing.T) {
	gateway := newFakeGateway()
	gateway.planningErr = transientErr()
	cache := planning.NewWeekCache(gateway, nil, 4, nil)
	w := week(t, "2025-01-06")

	err := cache.EnsureWeeksLoaded(context.Background(), []types.Week{w})
	require.Error(t, err)

	_, ok := cache.Entry(w)
	assert.False(t, ok, "no reader may observe a partially-filled week")

	// the failure is not sticky: a retry with a healthy gateway succeeds
	gateway.planningErr = nil
	require.NoError(t, cache.EnsureWeeksLoaded(context.Background(), []types.Week{w}))
	_, ok = cache.Entry(w)
	assert.True(t, ok)
}

func TestNotConfiguredDegradesInsteadOfFailing(t *testing.T) {
	gateway := newFakeGateway()
	gateway.planningErr = &ledger.Error{Kind: ledger.KindNotConfigured, Op: "test", Status: 404, Message: "no such endpoint"}
	cache := planning.NewWeekCache(gateway, nil, 4, nil)
	w := week(t, "2025-01-06")

	require.NoError(t, cache.EnsureWeeksLoaded(context.Background(), []types.Week{w}))

	entry, ok := cache.Entry(w)
	require.True(t, ok)
	assert.True(t, entry.PlanningUnavailable)
	assert.Empty(t, entry.Blocks)
	// timesheet summaries still loaded
	require.Contains(t, entry.Summaries, "R1")
}

func TestEnsureWeeksLoadedDeduplicatesRequestList(t *testing.T) {
	gateway := newFakeGateway()
	cache := planning.NewWeekCache(gateway, nil, 4, nil)
	w := week(t, "2025-01-06")

	require.NoError(t, cache.EnsureWeeksLoaded(context.Background(), []types.Week{w, w, w}))
	assert.Equal(t, int64(1), gateway.planningLineCalls.Load())
}
