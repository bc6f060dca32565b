// Package planning holds the reconciliation and caching core: it mirrors
// remote planning lines into week-partitioned allocation blocks, diffs a
// desired week grid against remote state and applies the resulting plan.
package planning

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mkarlsen/planr/internal/ledger"
	"github.com/shopspring/decimal"
)

// PaletteSize is the number of distinct project colors before they repeat.
const PaletteSize = 10

// AllocationBlock is one contiguous run of planned work for a
// resource/project/task tuple. Display names are denormalized onto the
// block at build time so it never needs a join back to master data.
type AllocationBlock struct {
	ID string

	ResourceID     string
	ResourceNumber string
	ResourceName   string

	ProjectID     string
	ProjectNumber string
	ProjectName   string
	TaskID        string
	TaskNumber    string
	TaskName      string

	StartDate time.Time
	EndDate   time.Time

	HoursPerDay decimal.Decimal
	TotalHours  decimal.Decimal

	Color    int
	LineType ledger.LineType

	RemoteLineID     string
	RemoteLineNo     int
	ConcurrencyToken string
}

// Days returns the number of calendar days the block spans.
func (b AllocationBlock) Days() int {
	return int(b.EndDate.Sub(b.StartDate).Hours()/24) + 1
}

// Palette assigns a stable color slot per project number. The first time a
// project is seen it takes the next slot in a fixed-size round-robin; the
// mapping never changes for the lifetime of the palette. Safe for
// concurrent use, since week fills run in parallel.
type Palette struct {
	mu    sync.Mutex
	size  int
	slots map[string]int
	next  int
}

func NewPalette(size int) *Palette {
	if size <= 0 {
		size = PaletteSize
	}
	return &Palette{size: size, slots: make(map[string]int)}
}

// Assign returns the color slot for a project number, allocating one on
// first sight.
func (p *Palette) Assign(projectNumber string) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	if slot, ok := p.slots[projectNumber]; ok {
		return slot
	}
	slot := p.next % p.size
	p.slots[projectNumber] = slot
	p.next++
	return slot
}

// Seed pre-loads assignments, e.g. from a persisted palette table. Seeded
// slots win over the round-robin counter.
func (p *Palette) Seed(assignments map[string]int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for projectNumber, slot := range assignments {
		if _, ok := p.slots[projectNumber]; ok {
			continue
		}
		p.slots[projectNumber] = slot % p.size
		if p.next <= slot {
			p.next = slot + 1
		}
	}
}

// Snapshot returns a copy of the current assignments.
func (p *Palette) Snapshot() map[string]int {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[string]int, len(p.slots))
	for k, v := range p.slots {
		out[k] = v
	}
	return out
}

// Builder converts raw planning lines into allocation blocks. It owns the
// color palette so project colors stay stable across rebuilds.
type Builder struct {
	palette *Palette
}

func NewBuilder(palette *Palette) *Builder {
	if palette == nil {
		palette = NewPalette(PaletteSize)
	}
	return &Builder{palette: palette}
}

// Palette exposes the builder's palette for persistence.
func (b *Builder) Palette() *Palette {
	return b.palette
}

type blockKey struct {
	resourceNumber string
	projectNumber  string
	taskNumber     string
}

// BuildBlocks groups raw lines by (resource, project, task) and emits one
// block per contiguous date run. Lines with zero hours produce nothing: a
// block must always carry at least one non-empty day.
func (b *Builder) BuildBlocks(
	lines []ledger.PlanningLine,
	projects map[string]ledger.Project,
	resources map[string]ledger.Resource,
	taskNames map[string]string,
) []AllocationBlock {
	groups := make(map[blockKey][]ledger.PlanningLine)
	var order []blockKey
	for _, line := range lines {
		if line.Hours.IsZero() {
			continue
		}
		key := blockKey{line.ResourceNumber, line.ProjectNumber, line.TaskNumber}
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], line)
	}

	sort.Slice(order, func(i, j int) bool {
		a, b := order[i], order[j]
		if a.resourceNumber != b.resourceNumber {
			return a.resourceNumber < b.resourceNumber
		}
		if a.projectNumber != b.projectNumber {
			return a.projectNumber < b.projectNumber
		}
		return a.taskNumber < b.taskNumber
	})

	var blocks []AllocationBlock
	for _, key := range order {
		group := groups[key]
		sort.Slice(group, func(i, j int) bool {
			if !group[i].Date.Equal(group[j].Date) {
				return group[i].Date.Before(group[j].Date)
			}
			return group[i].LineNo < group[j].LineNo
		})

		for _, run := range splitRuns(group) {
			blocks = append(blocks, b.buildBlock(key, run, projects, resources, taskNames))
		}
	}
	return blocks
}

// splitRuns cuts a date-sorted group into runs of consecutive calendar
// days. Multiple lines on the same day stay inside one run.
func splitRuns(group []ledger.PlanningLine) [][]ledger.PlanningLine {
	var runs [][]ledger.PlanningLine
	var current []ledger.PlanningLine

	for _, line := range group {
		if len(current) > 0 {
			prev := dateOnly(current[len(current)-1].Date)
			day := dateOnly(line.Date)
			if day.Sub(prev) > 24*time.Hour {
				runs = append(runs, current)
				current = nil
			}
		}
		current = append(current, line)
	}
	if len(current) > 0 {
		runs = append(runs, current)
	}
	return runs
}

func (b *Builder) buildBlock(
	key blockKey,
	run []ledger.PlanningLine,
	projects map[string]ledger.Project,
	resources map[string]ledger.Resource,
	taskNames map[string]string,
) AllocationBlock {
	first := run[0]

	total := decimal.Zero
	distinctDays := 0
	var lastDay time.Time
	lineType := first.LineType
	for _, line := range run {
		total = total.Add(line.Hours)
		day := dateOnly(line.Date)
		if distinctDays == 0 || day.After(lastDay) {
			distinctDays++
			lastDay = day
		}
		if line.LineType != lineType {
			lineType = ledger.LineTypeBoth
		}
	}

	block := AllocationBlock{
		ID:             fmt.Sprintf("%s/%s/%s/%d", key.projectNumber, key.taskNumber, key.resourceNumber, first.LineNo),
		ResourceNumber: key.resourceNumber,
		ProjectNumber:  key.projectNumber,
		TaskNumber:     key.taskNumber,
		StartDate:      dateOnly(first.Date),
		EndDate:        lastDay,
		TotalHours:     total,
		HoursPerDay:    total.Div(decimal.NewFromInt(int64(distinctDays))).Round(2),
		Color:          b.palette.Assign(key.projectNumber),
		LineType:       lineType,

		RemoteLineID:     first.ID,
		RemoteLineNo:     first.LineNo,
		ConcurrencyToken: first.Etag,
	}

	if res, ok := resources[key.resourceNumber]; ok {
		block.ResourceID = res.ID
		block.ResourceName = res.Name
	}
	if proj, ok := projects[key.projectNumber]; ok {
		block.ProjectID = proj.ID
		block.ProjectName = proj.Name
	}
	if name, ok := taskNames[key.projectNumber+"/"+key.taskNumber]; ok {
		block.TaskName = name
	}
	return block
}

func dateOnly(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
