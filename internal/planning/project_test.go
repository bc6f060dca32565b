package planning_test

import (
	"testing"

	"github.com/mkarlsen/planr/internal/ledger"
	"github.com/mkarlsen/planr/internal/planning"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func block(resource, project string, startDay int, total float64) planning.AllocationBlock {
	return planning.AllocationBlock{
		ID:             project + "/" + resource,
		ResourceNumber: resource,
		ResourceName:   "Name " + resource,
		ProjectNumber:  project,
		ProjectName:    "Project " + project,
		StartDate:      day(startDay),
		EndDate:        day(startDay),
		TotalHours:     hours(total),
		HoursPerDay:    hours(total),
	}
}

func testEntry(t *testing.T, weekStart string, blocks ...planning.AllocationBlock) *planning.WeekEntry {
	t.Helper()
	return &planning.WeekEntry{
		Week:      week(t, weekStart),
		Blocks:    blocks,
		Summaries: map[string]*ledger.TimesheetSummary{"R1": {ResourceNumber: "R1", SubmittedHours: hours(30)}},
	}
}

func TestTeamViewPreservesResourceOrder(t *testing.T) {
	entries := []*planning.WeekEntry{
		testEntry(t, "2025-01-06",
			block("R2", "P1", 6, 8),
			block("R1", "P1", 7, 4),
		),
	}
	// remote order deliberately not alphabetical
	resources := []ledger.Resource{
		{Number: "R2", Name: "Bo Berg"},
		{Number: "R1", Name: "Anna Larsen"},
		{Number: "R3", Name: "Caro Dahl"},
	}

	members := planning.ProjectTeamView(entries, resources, planning.Filters{})

	require.Len(t, members, 3)
	assert.Equal(t, "R2", members[0].ResourceNumber)
	assert.Equal(t, "R1", members[1].ResourceNumber)
	// resources without allocations still get a row
	assert.Equal(t, "R3", members[2].ResourceNumber)
	assert.Empty(t, members[2].Blocks)

	assert.True(t, members[0].TotalHours.Equal(hours(8)))
	require.Len(t, members[1].Summaries, 1)
	require.NotNil(t, members[1].Summaries[0].Summary)
	assert.True(t, members[1].Summaries[0].Summary.SubmittedHours.Equal(hours(30)))
}

func TestTeamViewResourceFilter(t *testing.T) {
	entries := []*planning.WeekEntry{
		testEntry(t, "2025-01-06", block("R1", "P1", 6, 8), block("R2", "P1", 6, 8)),
	}
	resources := []ledger.Resource{{Number: "R1"}, {Number: "R2"}}

	members := planning.ProjectTeamView(entries, resources, planning.Filters{ResourceNumber: "R2"})

	require.Len(t, members, 1)
	assert.Equal(t, "R2", members[0].ResourceNumber)
}

func TestProjectsViewGroupsAndSorts(t *testing.T) {
	entries := []*planning.WeekEntry{
		testEntry(t, "2025-01-06",
			block("R1", "P2", 8, 4),
			block("R1", "P2", 6, 8), // earlier start, must sort first
			block("R2", "P1", 6, 6),
		),
	}

	groups := planning.ProjectProjectsView(entries, planning.Filters{})

	require.Len(t, groups, 2)
	assert.Equal(t, "P1", groups[0].ProjectNumber)
	assert.Equal(t, "P2", groups[1].ProjectNumber)

	p2 := groups[1]
	require.Len(t, p2.Resources, 1)
	require.Len(t, p2.Resources[0].Blocks, 2)
	assert.Equal(t, day(6), p2.Resources[0].Blocks[0].StartDate)
	assert.Equal(t, day(8), p2.Resources[0].Blocks[1].StartDate)
	assert.True(t, p2.TotalHours.Equal(hours(12)))
}

func TestProjectsViewProjectFilter(t *testing.T) {
	entries := []*planning.WeekEntry{
		testEntry(t, "2025-01-06", block("R1", "P1", 6, 8), block("R1", "P2", 6, 4)),
	}

	groups := planning.ProjectProjectsView(entries, planning.Filters{ProjectNumber: "P2"})

	require.Len(t, groups, 1)
	assert.Equal(t, "P2", groups[0].ProjectNumber)
}

func TestTeamViewMarksUnavailableTimesheets(t *testing.T) {
	entry := &planning.WeekEntry{
		Week:                  week(t, "2025-01-06"),
		Summaries:             map[string]*ledger.TimesheetSummary{},
		TimesheetsUnavailable: true,
	}
	resources := []ledger.Resource{{Number: "R1"}}

	members := planning.ProjectTeamView([]*planning.WeekEntry{entry}, resources, planning.Filters{})

	require.Len(t, members, 1)
	require.Len(t, members[0].Summaries, 1)
	assert.True(t, members[0].Summaries[0].Unavailable)
}
