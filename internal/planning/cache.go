package planning

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/mkarlsen/planr/internal/ledger"
	"github.com/mkarlsen/planr/internal/types"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// FetchGateway is the slice of the ledger client the cache needs to fill a
// week.
type FetchGateway interface {
	GetResources(ctx context.Context) ([]ledger.Resource, error)
	GetProjects(ctx context.Context) ([]ledger.Project, error)
	GetProjectTasks(ctx context.Context, projectNumber string) ([]ledger.Task, error)
	GetPlanningLines(ctx context.Context, projectNumber string, from, to time.Time) ([]ledger.PlanningLine, error)
	GetTimesheetSummary(ctx context.Context, resourceNumber string, weekStart time.Time) (*ledger.TimesheetSummary, error)
}

// WeekEntry is one fully loaded week. Entries are immutable once stored; a
// week is either completely present or absent, never half-filled.
type WeekEntry struct {
	Week      types.Week
	Blocks    []AllocationBlock
	Summaries map[string]*ledger.TimesheetSummary // keyed by resource number, nil value = no timesheet

	// PlanningUnavailable and TimesheetsUnavailable mark weeks where the
	// remote endpoint is absent, so views can degrade instead of failing.
	PlanningUnavailable   bool
	TimesheetsUnavailable bool
}

type flight struct {
	done chan struct{}
	err  error
}

// masterData is the per-cache-lifetime snapshot of ledger master records
// used for fetch planning and name resolution.
type masterData struct {
	resources []ledger.Resource // remote order preserved
	projects  []ledger.Project

	resourceIndex map[string]ledger.Resource
	projectIndex  map[string]ledger.Project
	taskNames     map[string]string // "project/task" -> display name
}

// WeekCache lazily mirrors remote weeks. All mutation replaces a whole week
// entry; concurrent fills for the same week are coalesced so only one set
// of fetches is ever in flight per week key.
type WeekCache struct {
	gateway FetchGateway
	builder *Builder
	sem     *semaphore.Weighted
	logger  *slog.Logger

	mu           sync.Mutex
	entries      map[string]*WeekEntry
	flights      map[string]*flight
	master       *masterData
	masterFlight *flight

	// gen is bumped by InvalidateAll; loads started under an older
	// generation must not publish their results
	gen uint64
}

func NewWeekCache(gateway FetchGateway, builder *Builder, fanOut int, logger *slog.Logger) *WeekCache {
	if fanOut <= 0 {
		fanOut = DefaultFanOut
	}
	if builder == nil {
		builder = NewBuilder(nil)
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &WeekCache{
		gateway: gateway,
		builder: builder,
		sem:     semaphore.NewWeighted(int64(fanOut)),
		logger:  logger,
		entries: make(map[string]*WeekEntry),
		flights: make(map[string]*flight),
	}
}

// Builder exposes the builder, whose palette outlives individual weeks.
func (c *WeekCache) Builder() *Builder {
	return c.builder
}

// Entry returns the cached entry for a week, if loaded.
func (c *WeekCache) Entry(week types.Week) (*WeekEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[week.String()]
	return entry, ok
}

// Entries returns the loaded entries for the given weeks, skipping absent
// ones, ordered as requested.
func (c *WeekCache) Entries(weeks []types.Week) []*WeekEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []*WeekEntry
	for _, week := range weeks {
		if entry, ok := c.entries[week.String()]; ok {
			out = append(out, entry)
		}
	}
	return out
}

// Resources returns the master resource list in remote order. Empty until
// the first successful week fill.
func (c *WeekCache) Resources() []ledger.Resource {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.master == nil {
		return nil
	}
	return c.master.resources
}

// InvalidateWeek removes a single week so the next EnsureWeeksLoaded call
// refills it.
func (c *WeekCache) InvalidateWeek(week types.Week) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, week.String())
}

// InvalidateAll clears every entry and the master-data snapshot. Used when
// the active company changes. Loads already in flight are superseded: they
// finish, but their pre-invalidation snapshots are discarded.
func (c *WeekCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*WeekEntry)
	c.master = nil
	c.gen++
}

// EnsureWeeksLoaded fills every requested week that is not already cached.
// Weeks already present are not re-fetched; weeks with a fill in flight are
// awaited rather than re-issued. A week that fails to fill stays absent and
// its error is returned, without affecting the other weeks.
func (c *WeekCache) EnsureWeeksLoaded(ctx context.Context, weeks []types.Week) error {
	var (
		waits  []*flight
		starts []types.Week
	)

	c.mu.Lock()
	seen := make(map[string]struct{}, len(weeks))
	for _, week := range weeks {
		key := week.String()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		if _, ok := c.entries[key]; ok {
			continue
		}
		if f, ok := c.flights[key]; ok {
			waits = append(waits, f)
			continue
		}
		f := &flight{done: make(chan struct{})}
		c.flights[key] = f
		waits = append(waits, f)
		starts = append(starts, week)
	}
	c.mu.Unlock()

	for _, week := range starts {
		go c.fill(ctx, week)
	}

	var errs []error
	for _, f := range waits {
		select {
		case <-f.done:
			if f.err != nil {
				errs = append(errs, f.err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return errors.Join(errs...)
}

// fill loads one week completely and publishes the entry only after every
// constituent fetch has resolved.
func (c *WeekCache) fill(ctx context.Context, week types.Week) {
	key := week.String()
	c.mu.Lock()
	f := c.flights[key]
	gen := c.gen
	c.mu.Unlock()

	entry, err := c.loadWeek(ctx, week)

	c.mu.Lock()
	delete(c.flights, key)
	if err == nil && gen == c.gen {
		c.entries[key] = entry
	}
	c.mu.Unlock()

	f.err = err
	close(f.done)

	if err != nil {
		c.logger.Error("week fill failed", "week", key, "error", err)
	} else {
		c.logger.Debug("week filled", "week", key, "blocks", len(entry.Blocks))
	}
}

func (c *WeekCache) loadWeek(ctx context.Context, week types.Week) (*WeekEntry, error) {
	master, err := c.loadMaster(ctx)
	if err != nil {
		return nil, err
	}

	entry := &WeekEntry{
		Week:      week,
		Summaries: make(map[string]*ledger.TimesheetSummary, len(master.resources)),
	}

	var (
		mu       sync.Mutex
		allLines []ledger.PlanningLine
	)
	g, gctx := errgroup.WithContext(ctx)

	for _, project := range master.projects {
		g.Go(func() error {
			if err := c.sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer c.sem.Release(1)

			lines, err := c.gateway.GetPlanningLines(gctx, project.Number, week.Start(), week.End())
			if err != nil {
				if ledger.IsNotConfigured(err) {
					mu.Lock()
					entry.PlanningUnavailable = true
					mu.Unlock()
					return nil
				}
				return err
			}
			mu.Lock()
			allLines = append(allLines, lines...)
			mu.Unlock()
			return nil
		})
	}

	for _, resource := range master.resources {
		g.Go(func() error {
			if err := c.sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer c.sem.Release(1)

			summary, err := c.gateway.GetTimesheetSummary(gctx, resource.Number, week.Start())
			if err != nil {
				if ledger.IsNotConfigured(err) {
					mu.Lock()
					entry.TimesheetsUnavailable = true
					mu.Unlock()
					return nil
				}
				return err
			}
			mu.Lock()
			entry.Summaries[resource.Number] = summary
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	entry.Blocks = c.builder.BuildBlocks(allLines, master.projectIndex, master.resourceIndex, master.taskNames)
	return entry, nil
}

// loadMaster fetches resources, projects and task names once per cache
// lifetime, coalescing concurrent callers the same way week fills are.
func (c *WeekCache) loadMaster(ctx context.Context) (*masterData, error) {
	c.mu.Lock()
	if c.master != nil {
		master := c.master
		c.mu.Unlock()
		return master, nil
	}
	if f := c.masterFlight; f != nil {
		c.mu.Unlock()
		select {
		case <-f.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if f.err != nil {
			return nil, f.err
		}
		c.mu.Lock()
		master := c.master
		c.mu.Unlock()
		if master == nil {
			return nil, errors.New("master data invalidated during load")
		}
		return master, nil
	}
	f := &flight{done: make(chan struct{})}
	c.masterFlight = f
	gen := c.gen
	c.mu.Unlock()

	master, err := c.fetchMaster(ctx)

	c.mu.Lock()
	if c.masterFlight == f {
		c.masterFlight = nil
	}
	if err == nil && gen == c.gen {
		c.master = master
	}
	c.mu.Unlock()

	f.err = err
	close(f.done)
	return master, err
}

func (c *WeekCache) fetchMaster(ctx context.Context) (*masterData, error) {
	g, gctx := errgroup.WithContext(ctx)

	var resources []ledger.Resource
	var projects []ledger.Project
	g.Go(func() error {
		var err error
		resources, err = c.gateway.GetResources(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		projects, err = c.gateway.GetProjects(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	master := &masterData{
		resources:     resources,
		projects:      projects,
		resourceIndex: make(map[string]ledger.Resource, len(resources)),
		projectIndex:  make(map[string]ledger.Project, len(projects)),
		taskNames:     make(map[string]string),
	}
	for _, r := range resources {
		master.resourceIndex[r.Number] = r
	}
	for _, p := range projects {
		master.projectIndex[p.Number] = p
	}

	var mu sync.Mutex
	tg, tctx := errgroup.WithContext(ctx)
	for _, project := range projects {
		tg.Go(func() error {
			if err := c.sem.Acquire(tctx, 1); err != nil {
				return err
			}
			defer c.sem.Release(1)

			tasks, err := c.gateway.GetProjectTasks(tctx, project.Number)
			if err != nil {
				if ledger.IsNotConfigured(err) {
					return nil
				}
				return err
			}
			mu.Lock()
			for _, task := range tasks {
				master.taskNames[project.Number+"/"+task.Number] = task.Name
			}
			mu.Unlock()
			return nil
		})
	}
	if err := tg.Wait(); err != nil {
		return nil, err
	}

	return master, nil
}
