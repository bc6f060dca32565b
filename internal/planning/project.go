package planning

import (
	"sort"

	"github.com/mkarlsen/planr/internal/ledger"
	"github.com/mkarlsen/planr/internal/types"
	"github.com/shopspring/decimal"
)

// ViewMode selects the projection shape.
type ViewMode int

const (
	ViewTeam ViewMode = iota
	ViewProjects
)

// Filters narrows a projection. Empty fields match everything.
type Filters struct {
	ResourceNumber string
	ProjectNumber  string
}

func (f Filters) matches(block AllocationBlock) bool {
	if f.ResourceNumber != "" && block.ResourceNumber != f.ResourceNumber {
		return false
	}
	if f.ProjectNumber != "" && block.ProjectNumber != f.ProjectNumber {
		return false
	}
	return true
}

// WeekSummary pairs a week with a resource's timesheet summary for it. A
// nil Summary with Unavailable false means the resource simply has no
// timesheet that week.
type WeekSummary struct {
	Week        types.Week
	Summary     *ledger.TimesheetSummary
	Unavailable bool
}

// TeamMember is one row of the team view: a resource with every allocation
// block and timesheet summary in the projected weeks.
type TeamMember struct {
	ResourceNumber string
	ResourceName   string
	Blocks         []AllocationBlock
	Summaries      []WeekSummary
	TotalHours     decimal.Decimal
}

// ResourceAllocations groups one resource's blocks inside a project group,
// sorted by start date.
type ResourceAllocations struct {
	ResourceNumber string
	ResourceName   string
	Blocks         []AllocationBlock
	TotalHours     decimal.Decimal
}

// ProjectGroup is one row of the projects view.
type ProjectGroup struct {
	ProjectNumber string
	ProjectName   string
	Color         int
	Resources     []ResourceAllocations
	TotalHours    decimal.Decimal
}

// ProjectTeamView rebuilds the team projection from loaded week entries.
// Pure function: full recompute, no incremental state. Resources keep their
// remote ordering; resources without allocations still appear so the team
// grid shows everyone.
func ProjectTeamView(entries []*WeekEntry, resources []ledger.Resource, filters Filters) []TeamMember {
	var members []TeamMember
	for _, resource := range resources {
		if filters.ResourceNumber != "" && resource.Number != filters.ResourceNumber {
			continue
		}

		member := TeamMember{
			ResourceNumber: resource.Number,
			ResourceName:   resource.Name,
			TotalHours:     decimal.Zero,
		}
		for _, entry := range entries {
			for _, block := range entry.Blocks {
				if block.ResourceNumber != resource.Number || !filters.matches(block) {
					continue
				}
				member.Blocks = append(member.Blocks, block)
				member.TotalHours = member.TotalHours.Add(block.TotalHours)
			}
			summary, ok := entry.Summaries[resource.Number]
			member.Summaries = append(member.Summaries, WeekSummary{
				Week:        entry.Week,
				Summary:     summary,
				Unavailable: entry.TimesheetsUnavailable && !ok,
			})
		}
		members = append(members, member)
	}
	return members
}

// ProjectProjectsView rebuilds the projects projection: blocks grouped by
// project number, then by resource number within each project, allocations
// sorted by start date ascending.
func ProjectProjectsView(entries []*WeekEntry, filters Filters) []ProjectGroup {
	type resourceKey struct {
		projectNumber  string
		resourceNumber string
	}

	groups := make(map[string]*ProjectGroup)
	perResource := make(map[resourceKey]*ResourceAllocations)

	for _, entry := range entries {
		for _, block := range entry.Blocks {
			if !filters.matches(block) {
				continue
			}

			group, ok := groups[block.ProjectNumber]
			if !ok {
				group = &ProjectGroup{
					ProjectNumber: block.ProjectNumber,
					ProjectName:   block.ProjectName,
					Color:         block.Color,
					TotalHours:    decimal.Zero,
				}
				groups[block.ProjectNumber] = group
			}
			group.TotalHours = group.TotalHours.Add(block.TotalHours)

			key := resourceKey{block.ProjectNumber, block.ResourceNumber}
			res, ok := perResource[key]
			if !ok {
				res = &ResourceAllocations{
					ResourceNumber: block.ResourceNumber,
					ResourceName:   block.ResourceName,
					TotalHours:     decimal.Zero,
				}
				perResource[key] = res
			}
			res.Blocks = append(res.Blocks, block)
			res.TotalHours = res.TotalHours.Add(block.TotalHours)
		}
	}

	for key, res := range perResource {
		sort.Slice(res.Blocks, func(i, j int) bool {
			return res.Blocks[i].StartDate.Before(res.Blocks[j].StartDate)
		})
		groups[key.projectNumber].Resources = append(groups[key.projectNumber].Resources, *res)
	}

	out := make([]ProjectGroup, 0, len(groups))
	for _, group := range groups {
		sort.Slice(group.Resources, func(i, j int) bool {
			return group.Resources[i].ResourceNumber < group.Resources[j].ResourceNumber
		})
		out = append(out, *group)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ProjectNumber < out[j].ProjectNumber
	})
	return out
}
