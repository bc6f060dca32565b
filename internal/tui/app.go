package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/mkarlsen/planr/internal/planner"
	"github.com/mkarlsen/planr/internal/planning"
	"github.com/mkarlsen/planr/internal/types"
)

type viewState int

const (
	loadingView viewState = iota
	browseView
	gridView
	applyingView
	resultView
)

type weeksLoadedMsg struct {
	err error
}

type gridReadyMsg struct {
	grid gridModel
	err  error
}

type applyDoneMsg struct {
	result planning.BatchResult
	err    error
}

// blockRow is one selectable line of the browse view: a block together
// with the week it is edited in.
type blockRow struct {
	heading string
	block   planning.AllocationBlock
	week    types.Week
}

type App struct {
	state   viewState
	spinner spinner.Model
	grid    gridModel

	planner *planner.Planner
	weeks   []types.Week
	filters planning.Filters
	mode    planning.ViewMode

	rows    []blockRow
	cursor  int
	errMsg  string
	summary string
}

func NewApp(p *planner.Planner, weeks []types.Week, filters planning.Filters, mode planning.ViewMode) *App {
	s := spinner.New()
	s.Spinner = spinner.Dot

	return &App{
		state:   loadingView,
		spinner: s,
		planner: p,
		weeks:   weeks,
		filters: filters,
		mode:    mode,
	}
}

func (a *App) Init() tea.Cmd {
	return tea.Batch(a.spinner.Tick, a.loadWeeks())
}

func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return a, tea.Quit
		}
	case weeksLoadedMsg:
		return a.handleWeeksLoaded(msg)
	case gridReadyMsg:
		return a.handleGridReady(msg)
	case applyDoneMsg:
		return a.handleApplyDone(msg)
	}

	switch a.state {
	case loadingView, applyingView:
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd
	case browseView:
		return a.updateBrowse(msg)
	case gridView:
		return a.updateGrid(msg)
	case resultView:
		return a.updateResult(msg)
	}

	return a, nil
}

func (a *App) View() string {
	switch a.state {
	case loadingView:
		return a.spinner.View() + " Loading weeks..."
	case browseView:
		return a.browseViewString()
	case gridView:
		return a.grid.View()
	case applyingView:
		return a.spinner.View() + " Applying changes..."
	case resultView:
		return a.resultViewString()
	}
	return ""
}

func (a *App) updateBrowse(msg tea.Msg) (tea.Model, tea.Cmd) {
	if keyMsg, ok := msg.(tea.KeyMsg); ok {
		switch keyMsg.String() {
		case "q", "esc":
			return a, tea.Quit
		case "up", "k":
			if a.cursor > 0 {
				a.cursor--
			}
		case "down", "j":
			if a.cursor < len(a.rows)-1 {
				a.cursor++
			}
		case "tab":
			if a.mode == planning.ViewTeam {
				a.mode = planning.ViewProjects
			} else {
				a.mode = planning.ViewTeam
			}
			a.rebuildRows()
		case "r":
			a.state = loadingView
			a.planner.Cache().InvalidateAll()
			return a, tea.Batch(a.spinner.Tick, a.loadWeeks())
		case "enter":
			if len(a.rows) == 0 {
				return a, nil
			}
			row := a.rows[a.cursor]
			a.state = loadingView
			return a, tea.Batch(a.spinner.Tick, a.openGrid(row))
		}
	}
	return a, nil
}

func (a *App) updateGrid(msg tea.Msg) (tea.Model, tea.Cmd) {
	if keyMsg, ok := msg.(tea.KeyMsg); ok && !a.grid.editing {
		switch keyMsg.String() {
		case "esc":
			a.state = browseView
			return a, nil
		case "a":
			desired, err := a.grid.Desired()
			if err != nil {
				a.errMsg = err.Error()
				a.state = resultView
				return a, nil
			}
			a.state = applyingView
			return a, tea.Batch(a.spinner.Tick, a.applyEdit(a.grid.tuple, a.grid.week, desired))
		}
	}

	var cmd tea.Cmd
	a.grid, cmd = a.grid.Update(msg)
	return a, cmd
}

func (a *App) updateResult(msg tea.Msg) (tea.Model, tea.Cmd) {
	if keyMsg, ok := msg.(tea.KeyMsg); ok {
		if keyMsg.String() == "q" {
			return a, tea.Quit
		}
		a.errMsg = ""
		a.summary = ""
		a.rebuildRows()
		a.state = browseView
	}
	return a, nil
}

func (a *App) handleWeeksLoaded(msg weeksLoadedMsg) (tea.Model, tea.Cmd) {
	if msg.err != nil {
		a.errMsg = msg.err.Error()
		a.state = resultView
		return a, nil
	}
	a.rebuildRows()
	a.state = browseView
	return a, nil
}

func (a *App) handleGridReady(msg gridReadyMsg) (tea.Model, tea.Cmd) {
	if msg.err != nil {
		a.errMsg = msg.err.Error()
		a.state = resultView
		return a, nil
	}
	a.grid = msg.grid
	a.state = gridView
	return a, nil
}

func (a *App) handleApplyDone(msg applyDoneMsg) (tea.Model, tea.Cmd) {
	if msg.err != nil {
		a.errMsg = msg.err.Error()
	} else {
		a.summary = msg.result.Summary()
		if len(msg.result.Failures) > 0 {
			var sb strings.Builder
			for _, f := range msg.result.Failures {
				target := f.Date
				if target == "" {
					target = "line " + f.RemoteLineID
				}
				fmt.Fprintf(&sb, "\n  %s %s: %v", f.Operation, target, f.Err)
			}
			a.errMsg = sb.String()
		}
	}
	a.state = resultView
	return a, nil
}

func (a *App) rebuildRows() {
	a.rows = nil
	switch a.mode {
	case planning.ViewTeam:
		for _, member := range a.planner.TeamView(a.weeks, a.filters) {
			heading := fmt.Sprintf("%s (%s) — %s h",
				member.ResourceName, member.ResourceNumber, member.TotalHours.String())
			for _, block := range member.Blocks {
				a.rows = append(a.rows, blockRow{
					heading: heading,
					block:   block,
					week:    types.WeekOf(block.StartDate),
				})
			}
		}
	case planning.ViewProjects:
		for _, group := range a.planner.ProjectsView(a.weeks, a.filters) {
			heading := fmt.Sprintf("%s %s — %s h",
				group.ProjectNumber, group.ProjectName, group.TotalHours.String())
			for _, res := range group.Resources {
				for _, block := range res.Blocks {
					a.rows = append(a.rows, blockRow{
						heading: heading,
						block:   block,
						week:    types.WeekOf(block.StartDate),
					})
				}
			}
		}
	}
	if a.cursor >= len(a.rows) {
		a.cursor = 0
	}
}

func (a *App) browseViewString() string {
	var sb strings.Builder

	modeName := "Team"
	if a.mode == planning.ViewProjects {
		modeName = "Projects"
	}
	sb.WriteString(titleStyle.Render(fmt.Sprintf("planr — %s view", modeName)))
	sb.WriteString("\n")
	sb.WriteString(subtitleStyle.Render(weekRangeLabel(a.weeks)))
	sb.WriteString("\n")

	for _, entry := range a.planner.Cache().Entries(a.weeks) {
		switch {
		case entry.PlanningUnavailable:
			sb.WriteString(warningStyle.Render("week " + entry.Week.String() + ": planning data unavailable"))
			sb.WriteString("\n")
		case entry.TimesheetsUnavailable:
			sb.WriteString(warningStyle.Render("week " + entry.Week.String() + ": timesheets unavailable"))
			sb.WriteString("\n")
		}
	}

	if len(a.rows) == 0 {
		sb.WriteString(dimStyle.Render("No allocations in the selected weeks."))
		sb.WriteString("\n")
	}

	lastHeading := ""
	for i, row := range a.rows {
		if row.heading != lastHeading {
			if lastHeading != "" {
				sb.WriteString("\n")
			}
			sb.WriteString(selectedStyle.Render(row.heading))
			sb.WriteString("\n")
			lastHeading = row.heading
		}

		b := row.block
		label := fmt.Sprintf("%s / %s  %s → %s  %sh/day",
			b.ProjectName, b.TaskName,
			b.StartDate.Format("02 Jan"), b.EndDate.Format("02 Jan"),
			b.HoursPerDay.String())

		prefix := "  "
		line := paletteStyle(b.Color).Render(label)
		if i == a.cursor {
			prefix = "> "
			line = highlightStyle.Render(label)
		}
		sb.WriteString(prefix + line)
		sb.WriteString("\n")
	}

	sb.WriteString(helpStyle.Render("j/k: nav • Enter: edit week • Tab: switch view • r: reload • q: quit"))
	return boxStyle.Render(sb.String())
}

func (a *App) resultViewString() string {
	var sb strings.Builder
	if a.summary != "" {
		sb.WriteString(successStyle.Render(a.summary))
		sb.WriteString("\n")
	}
	if a.errMsg != "" {
		sb.WriteString(errorStyle.Render("Error: ") + a.errMsg)
		sb.WriteString("\n")
	}
	sb.WriteString(helpStyle.Render("Any key: back • q: quit"))
	return boxStyle.Render(sb.String())
}

func (a *App) loadWeeks() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()

		return weeksLoadedMsg{err: a.planner.LoadWeeks(ctx, a.weeks)}
	}
}

func (a *App) openGrid(row blockRow) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		tuple := planning.Tuple{
			ProjectNumber:  row.block.ProjectNumber,
			TaskNumber:     row.block.TaskNumber,
			ResourceNumber: row.block.ResourceNumber,
		}
		hours, err := a.planner.WeekHours(ctx, tuple, row.week)
		if err != nil {
			return gridReadyMsg{err: err}
		}

		label := fmt.Sprintf("%s — %s / %s",
			row.block.ResourceName, row.block.ProjectName, row.block.TaskName)
		return gridReadyMsg{grid: newGridModel(tuple, row.week, label, hours)}
	}
}

func (a *App) applyEdit(tuple planning.Tuple, week types.Week, desired planning.DesiredDayMap) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		result, err := a.planner.ApplyWeekEdit(ctx, tuple, week, desired)
		return applyDoneMsg{result: result, err: err}
	}
}

func weekRangeLabel(weeks []types.Week) string {
	if len(weeks) == 0 {
		return ""
	}
	if len(weeks) == 1 {
		return "Week of " + weeks[0].String()
	}
	return fmt.Sprintf("Weeks %s – %s", weeks[0].String(), weeks[len(weeks)-1].String())
}
