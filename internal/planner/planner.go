// Package planner wires the gateway, cache, executor and local store into
// the edit flow: validate, reconcile, execute, invalidate, reload.
package planner

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/mkarlsen/planr/internal/ledger"
	"github.com/mkarlsen/planr/internal/planning"
	"github.com/mkarlsen/planr/internal/store"
	"github.com/mkarlsen/planr/internal/types"
	"github.com/shopspring/decimal"
)

// MaxDailyHours is the ceiling a single day's planned hours may reach.
const MaxDailyHours = 24

// Gateway is everything the planner needs from the ledger client.
type Gateway interface {
	planning.FetchGateway
	planning.WriteGateway
	GetPlanningLinesForRange(ctx context.Context, projectNumber, taskNumber, resourceNumber string, from, to time.Time) ([]ledger.PlanningLine, error)
}

// Notifier reports a finished batch to the user, e.g. as a desktop
// notification.
type Notifier interface {
	Notify(title, message string) error
}

type Planner struct {
	gateway  Gateway
	cache    *planning.WeekCache
	executor *planning.Executor
	db       *store.DB
	notifier Notifier
	logger   *slog.Logger
}

// New assembles a planner. db and notifier may be nil; the palette is
// seeded from the store when one is given so project colors survive
// restarts. fanOut and paletteSize fall back to their defaults when
// non-positive.
func New(gateway Gateway, db *store.DB, fanOut, paletteSize int, notifier Notifier, logger *slog.Logger) *Planner {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	palette := planning.NewPalette(paletteSize)
	if db != nil {
		if assignments, err := db.LoadPalette(); err == nil {
			palette.Seed(assignments)
		} else {
			logger.Warn("loading palette", "error", err)
		}
	}

	builder := planning.NewBuilder(palette)
	return &Planner{
		gateway:  gateway,
		cache:    planning.NewWeekCache(gateway, builder, fanOut, logger),
		executor: planning.NewExecutor(gateway, fanOut, logger),
		db:       db,
		notifier: notifier,
		logger:   logger,
	}
}

// Cache exposes the week cache, mainly for the TUI.
func (p *Planner) Cache() *planning.WeekCache {
	return p.cache
}

// SetCompany records the active company and clears the cache when it
// changed since the last run.
func (p *Planner) SetCompany(company string) error {
	if p.db == nil {
		return nil
	}
	previous, err := p.db.GetState("company")
	if err != nil {
		return fmt.Errorf("reading active company: %w", err)
	}
	if previous != "" && previous != company {
		p.logger.Info("active company changed, clearing cache", "from", previous, "to", company)
		p.cache.InvalidateAll()
	}
	return p.db.SetState("company", company)
}

// LoadWeeks fills the cache for the requested weeks and persists any new
// palette assignments.
func (p *Planner) LoadWeeks(ctx context.Context, weeks []types.Week) error {
	if err := p.cache.EnsureWeeksLoaded(ctx, weeks); err != nil {
		return err
	}
	p.savePalette()
	return nil
}

// TeamView returns the team projection over the given weeks. Weeks must
// have been loaded first.
func (p *Planner) TeamView(weeks []types.Week, filters planning.Filters) []planning.TeamMember {
	return planning.ProjectTeamView(p.cache.Entries(weeks), p.cache.Resources(), filters)
}

// ProjectsView returns the by-project projection over the given weeks.
func (p *Planner) ProjectsView(weeks []types.Week, filters planning.Filters) []planning.ProjectGroup {
	return planning.ProjectProjectsView(p.cache.Entries(weeks), filters)
}

// ApplyWeekEdit turns a desired day/hours grid for one tuple and week into
// remote operations and applies them. The affected week is invalidated and
// reloaded afterwards, so a conflict can never leave stale data on screen.
func (p *Planner) ApplyWeekEdit(ctx context.Context, tuple planning.Tuple, week types.Week, desired planning.DesiredDayMap) (planning.BatchResult, error) {
	if err := ValidateDesired(week, desired); err != nil {
		return planning.BatchResult{}, err
	}

	lines, err := p.gateway.GetPlanningLinesForRange(ctx, tuple.ProjectNumber, tuple.TaskNumber, tuple.ResourceNumber, week.Start(), week.End())
	if err != nil {
		return planning.BatchResult{}, fmt.Errorf("fetching existing planning lines: %w", err)
	}

	plan := planning.Reconcile(desired, ExistingFromLines(lines))
	if plan.Empty() {
		p.logger.Debug("nothing to reconcile", "tuple", tuple.String(), "week", week.String())
		return planning.BatchResult{}, nil
	}

	result := p.executor.Execute(ctx, tuple, plan)
	p.recordBatch(tuple, week, result)
	p.notify(result)

	// whole-week replacement, never an in-place patch
	p.cache.InvalidateWeek(week)
	if err := p.cache.EnsureWeeksLoaded(ctx, []types.Week{week}); err != nil {
		p.logger.Warn("reloading week after batch", "week", week.String(), "error", err)
	}
	p.savePalette()

	return result, nil
}

// WeekHours returns the tuple's current per-day hours for a week, straight
// from the ledger (duplicates summed). Used to pre-fill the edit grid.
func (p *Planner) WeekHours(ctx context.Context, tuple planning.Tuple, week types.Week) (planning.DesiredDayMap, error) {
	lines, err := p.gateway.GetPlanningLinesForRange(ctx, tuple.ProjectNumber, tuple.TaskNumber, tuple.ResourceNumber, week.Start(), week.End())
	if err != nil {
		return nil, fmt.Errorf("fetching planning lines: %w", err)
	}

	hours := make(planning.DesiredDayMap)
	for _, l := range lines {
		date := l.Date.UTC().Format("2006-01-02")
		hours[date] = hours[date].Add(l.Hours)
	}
	return hours, nil
}

// ValidateDesired rejects out-of-range hours and dates outside the week
// before any reconciliation runs.
func ValidateDesired(week types.Week, desired planning.DesiredDayMap) error {
	ceiling := decimal.NewFromInt(MaxDailyHours)
	for date, hours := range desired {
		day, err := time.Parse("2006-01-02", date)
		if err != nil {
			return fmt.Errorf("invalid date %q: %w", date, err)
		}
		if !week.Contains(day) {
			return fmt.Errorf("date %s is outside week %s", date, week)
		}
		if hours.IsNegative() {
			return fmt.Errorf("negative hours (%s) on %s", hours, date)
		}
		if hours.GreaterThan(ceiling) {
			return fmt.Errorf("hours on %s exceed the daily ceiling of %d", date, MaxDailyHours)
		}
	}
	return nil
}

// ExistingFromLines regroups raw planning lines into per-day records for
// reconciliation.
func ExistingFromLines(lines []ledger.PlanningLine) planning.ExistingDayRecords {
	existing := make(planning.ExistingDayRecords)
	for _, l := range lines {
		date := l.Date.UTC().Format("2006-01-02")
		existing[date] = append(existing[date], planning.ExistingRecord{
			RemoteLineID:     l.ID,
			RemoteLineNo:     l.LineNo,
			ConcurrencyToken: l.Etag,
			Quantity:         l.Hours,
		})
	}
	return existing
}

func (p *Planner) recordBatch(tuple planning.Tuple, week types.Week, result planning.BatchResult) {
	if p.db == nil {
		return
	}

	var items []store.BatchItem
	for _, f := range result.Failures {
		items = append(items, store.BatchItem{
			Operation:    f.Operation,
			Date:         f.Date,
			RemoteLineID: f.RemoteLineID,
			Status:       "failed",
			Error:        f.Err.Error(),
		})
	}

	_, err := p.db.InsertBatch(&store.Batch{
		ProjectNo:    tuple.ProjectNumber,
		TaskNo:       tuple.TaskNumber,
		ResourceNo:   tuple.ResourceNumber,
		WeekStart:    week.String(),
		CreatedCount: result.CreatedCount,
		UpdatedCount: result.UpdatedCount,
		DeletedCount: result.DeletedCount,
		FailedCount:  len(result.Failures),
	}, items)
	if err != nil {
		p.logger.Warn("recording batch", "error", err)
	}
}

func (p *Planner) notify(result planning.BatchResult) {
	if p.notifier == nil {
		return
	}
	if err := p.notifier.Notify("planr", result.Summary()); err != nil {
		p.logger.Debug("sending notification", "error", err)
	}
}

func (p *Planner) savePalette() {
	if p.db == nil {
		return
	}
	if err := p.db.SavePalette(p.cache.Builder().Palette().Snapshot()); err != nil {
		p.logger.Warn("saving palette", "error", err)
	}
}
