package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mkarlsen/planr/internal/config"
	"github.com/mkarlsen/planr/internal/export"
	"github.com/mkarlsen/planr/internal/ledger"
	"github.com/mkarlsen/planr/internal/notify"
	"github.com/mkarlsen/planr/internal/planner"
	"github.com/mkarlsen/planr/internal/planning"
	"github.com/mkarlsen/planr/internal/store"
	"github.com/mkarlsen/planr/internal/tui"
	"github.com/mkarlsen/planr/internal/types"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/tj/go-naturaldate"
)

var rootCmd = &cobra.Command{
	Use:   "planr",
	Short: "Resource planning against the company ledger",
	Long:  "planr mirrors planning lines from the ledger into a week cache, lets you edit a week's hour grid, and applies the minimal set of changes back.",
}

var viewCmd = &cobra.Command{
	Use:   "view",
	Short: "Print the team or projects view for the loaded weeks",
	RunE:  runView,
}

var editCmd = &cobra.Command{
	Use:   "edit",
	Short: "Browse and edit allocations interactively",
	RunE:  runEdit,
}

var setCmd = &cobra.Command{
	Use:   "set",
	Short: "Set a week's hours for a resource/project/task without the TUI",
	RunE:  runSet,
}

var resourcesCmd = &cobra.Command{
	Use:   "resources",
	Short: "List resources from the ledger",
	RunE:  runResources,
}

var projectsCmd = &cobra.Command{
	Use:   "projects",
	Short: "List projects from the ledger",
	RunE:  runProjects,
}

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List tasks of a project",
	RunE:  runTasks,
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export allocation blocks as an iCalendar file",
	RunE:  runExport,
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show locally recorded batches",
	RunE:  runAudit,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Open config file in your editor",
	RunE:  runConfig,
}

func init() {
	rootCmd.PersistentFlags().Bool("verbose", false, "Enable debug logging")

	for _, c := range []*cobra.Command{viewCmd, editCmd, setCmd, exportCmd} {
		c.Flags().String("week", "", "First week, as an ISO date or natural language (\"next week\")")
	}
	for _, c := range []*cobra.Command{viewCmd, editCmd, exportCmd} {
		c.Flags().Int("weeks", 0, "Number of weeks to load (default from config)")
		c.Flags().String("resource", "", "Only show this resource number")
		c.Flags().String("project", "", "Only show this project number")
	}

	viewCmd.Flags().String("mode", "team", "View mode: team or projects")
	editCmd.Flags().String("mode", "team", "View mode: team or projects")

	setCmd.Flags().String("resource", "", "Resource number")
	setCmd.Flags().String("project", "", "Project number")
	setCmd.Flags().String("task", "", "Task number")
	setCmd.Flags().String("hours", "", "Comma-separated hours Monday..Sunday, e.g. 8,8,8,8,4")
	setCmd.MarkFlagRequired("resource")
	setCmd.MarkFlagRequired("project")
	setCmd.MarkFlagRequired("hours")

	tasksCmd.Flags().String("project", "", "Project number")
	tasksCmd.MarkFlagRequired("project")

	exportCmd.Flags().StringP("output", "o", "planr.ics", "Output file")

	auditCmd.Flags().Int("limit", 20, "Number of batches to show")

	rootCmd.AddCommand(viewCmd)
	rootCmd.AddCommand(editCmd)
	rootCmd.AddCommand(setCmd)
	rootCmd.AddCommand(resourcesCmd)
	rootCmd.AddCommand(projectsCmd)
	rootCmd.AddCommand(tasksCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if cfg.Ledger.APIKey == "" || cfg.Ledger.BaseURL == "" || cfg.Ledger.Company == "" {
		return nil, fmt.Errorf("ledger not configured — run 'planr config' to set base_url, api_key and company")
	}
	return cfg, nil
}

func newLogger(cmd *cobra.Command) *slog.Logger {
	verbose, _ := cmd.Flags().GetBool("verbose")
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func newLedgerClient(cfg *config.Config, logger *slog.Logger) *ledger.Client {
	return ledger.NewClient(cfg.Ledger.APIKey, cfg.Ledger.BaseURL, cfg.Ledger.Company, logger)
}

// newPlanner assembles the full stack: client, sqlite store, notifier.
// Callers must Close the returned DB.
func newPlanner(cfg *config.Config, logger *slog.Logger) (*planner.Planner, *store.DB, error) {
	db, err := store.Open()
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}

	var notifier planner.Notifier
	if cfg.Notifications.Enabled {
		notifier = notify.Desktop{}
	}

	client := newLedgerClient(cfg, logger)
	p := planner.New(client, db, cfg.Planning.FanOut, cfg.Planning.PaletteSize, notifier, logger)
	if err := p.SetCompany(cfg.Ledger.Company); err != nil {
		db.Close()
		return nil, nil, err
	}
	return p, db, nil
}

// parseWeek turns an ISO date or natural language ("next week") into the
// Monday of the containing week. Empty means the current week.
func parseWeek(value string) (types.Week, error) {
	if value == "" {
		return types.WeekOf(time.Now().UTC()), nil
	}
	if w, err := types.ParseWeek(value); err == nil {
		return w, nil
	}
	t, err := naturaldate.Parse(value, time.Now().UTC(), naturaldate.WithDirection(naturaldate.Future))
	if err != nil {
		return types.Week{}, fmt.Errorf("parsing week %q: %w", value, err)
	}
	return types.WeekOf(t), nil
}

func weekWindow(cmd *cobra.Command, cfg *config.Config) ([]types.Week, error) {
	weekFlag, _ := cmd.Flags().GetString("week")
	first, err := parseWeek(weekFlag)
	if err != nil {
		return nil, err
	}

	count := cfg.Planning.DefaultWeeks
	if cmd.Flags().Lookup("weeks") != nil {
		if n, _ := cmd.Flags().GetInt("weeks"); n > 0 {
			count = n
		}
	}
	if count < 1 {
		count = 1
	}

	weeks := make([]types.Week, count)
	for i := range weeks {
		weeks[i] = first.AddWeeks(i)
	}
	return weeks, nil
}

func filtersFrom(cmd *cobra.Command) planning.Filters {
	resource, _ := cmd.Flags().GetString("resource")
	project, _ := cmd.Flags().GetString("project")
	return planning.Filters{ResourceNumber: resource, ProjectNumber: project}
}

func runView(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := newLogger(cmd)
	p, db, err := newPlanner(cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	weeks, err := weekWindow(cmd, cfg)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if err := p.LoadWeeks(ctx, weeks); err != nil {
		return fmt.Errorf("loading weeks: %w", err)
	}

	mode, _ := cmd.Flags().GetString("mode")
	filters := filtersFrom(cmd)

	switch mode {
	case "team":
		printTeamView(p.TeamView(weeks, filters))
	case "projects":
		printProjectsView(p.ProjectsView(weeks, filters))
	default:
		return fmt.Errorf("unknown mode %q (want team or projects)", mode)
	}
	return nil
}

func printTeamView(members []planning.TeamMember) {
	if len(members) == 0 {
		fmt.Println("No resources found.")
		return
	}

	for _, m := range members {
		fmt.Printf("%s (%s) — %s h planned\n", m.ResourceName, m.ResourceNumber, m.TotalHours.String())
		for _, b := range m.Blocks {
			fmt.Printf("  %s – %s  %-30s  %sh/day (%sh total)\n",
				b.StartDate.Format("2006-01-02"), b.EndDate.Format("2006-01-02"),
				b.ProjectName+" / "+b.TaskName,
				b.HoursPerDay.String(), b.TotalHours.String())
		}
		for _, s := range m.Summaries {
			switch {
			case s.Unavailable:
				fmt.Printf("  week %s: timesheets unavailable\n", s.Week.String())
			case s.Summary != nil:
				fmt.Printf("  week %s: %sh open, %sh submitted, %sh approved\n",
					s.Week.String(),
					s.Summary.OpenHours.String(),
					s.Summary.SubmittedHours.String(),
					s.Summary.ApprovedHours.String())
			}
		}
		fmt.Println()
	}
}

func printProjectsView(groups []planning.ProjectGroup) {
	if len(groups) == 0 {
		fmt.Println("No allocations found.")
		return
	}

	for _, g := range groups {
		fmt.Printf("%s %s — %s h planned\n", g.ProjectNumber, g.ProjectName, g.TotalHours.String())
		for _, r := range g.Resources {
			fmt.Printf("  %s (%s) — %s h\n", r.ResourceName, r.ResourceNumber, r.TotalHours.String())
			for _, b := range r.Blocks {
				fmt.Printf("    %s – %s  %-20s  %sh/day\n",
					b.StartDate.Format("2006-01-02"), b.EndDate.Format("2006-01-02"),
					b.TaskName, b.HoursPerDay.String())
			}
		}
		fmt.Println()
	}
}

func runEdit(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := newLogger(cmd)
	p, db, err := newPlanner(cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	weeks, err := weekWindow(cmd, cfg)
	if err != nil {
		return err
	}

	mode := planning.ViewTeam
	if m, _ := cmd.Flags().GetString("mode"); m == "projects" {
		mode = planning.ViewProjects
	}

	app := tui.NewApp(p, weeks, filtersFrom(cmd), mode)
	if _, err := tea.NewProgram(app).Run(); err != nil {
		return fmt.Errorf("running TUI: %w", err)
	}
	return nil
}

func runSet(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	resource, _ := cmd.Flags().GetString("resource")
	project, _ := cmd.Flags().GetString("project")
	task, _ := cmd.Flags().GetString("task")
	hoursFlag, _ := cmd.Flags().GetString("hours")
	weekFlag, _ := cmd.Flags().GetString("week")

	week, err := parseWeek(weekFlag)
	if err != nil {
		return err
	}

	desired, err := parseHours(week, hoursFlag)
	if err != nil {
		return err
	}

	logger := newLogger(cmd)
	p, db, err := newPlanner(cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	tuple := planning.Tuple{
		ProjectNumber:  project,
		TaskNumber:     task,
		ResourceNumber: resource,
	}

	result, err := p.ApplyWeekEdit(cmd.Context(), tuple, week, desired)
	if err != nil {
		return err
	}

	fmt.Printf("Week %s: %s\n", week.String(), result.Summary())
	for _, f := range result.Failures {
		fmt.Printf("  %s %s: %v\n", f.Operation, failureTarget(f), f.Err)
	}
	if result.HasConflict() {
		fmt.Println("Some records changed in the ledger while editing; re-run to retry.")
	}
	return nil
}

// failureTarget names what a failed operation was aimed at: the day for
// creates, the remote line for updates and deletes.
func failureTarget(f planning.Failure) string {
	if f.Date != "" {
		return f.Date
	}
	return "line " + f.RemoteLineID
}

// parseHours maps "8,8,8,8,4" onto Monday..Sunday of the week. Fewer than
// seven values leaves the remaining days empty, which clears them.
func parseHours(week types.Week, value string) (planning.DesiredDayMap, error) {
	parts := strings.Split(value, ",")
	if len(parts) > 7 {
		return nil, fmt.Errorf("at most 7 day values, got %d", len(parts))
	}

	days := week.Days()
	desired := make(planning.DesiredDayMap)
	for i, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" || part == "0" {
			continue
		}
		h, err := decimal.NewFromString(part)
		if err != nil {
			return nil, fmt.Errorf("parsing hours %q: %w", part, err)
		}
		desired[days[i].Format("2006-01-02")] = h
	}
	return desired, nil
}

func runResources(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	client := newLedgerClient(cfg, newLogger(cmd))
	resources, err := client.GetResources(cmd.Context())
	if err != nil {
		return fmt.Errorf("fetching resources: %w", err)
	}

	if len(resources) == 0 {
		fmt.Println("No resources found.")
		return nil
	}
	for _, r := range resources {
		fmt.Printf("  %-10s  %s\n", r.Number, r.Name)
	}
	return nil
}

func runProjects(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	client := newLedgerClient(cfg, newLogger(cmd))
	projects, err := client.GetProjects(cmd.Context())
	if err != nil {
		return fmt.Errorf("fetching projects: %w", err)
	}

	if len(projects) == 0 {
		fmt.Println("No projects found.")
		return nil
	}
	for _, p := range projects {
		fmt.Printf("  %-10s  %s\n", p.Number, p.Name)
	}
	return nil
}

func runTasks(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	project, _ := cmd.Flags().GetString("project")
	client := newLedgerClient(cfg, newLogger(cmd))
	tasks, err := client.GetProjectTasks(cmd.Context(), project)
	if err != nil {
		return fmt.Errorf("fetching tasks: %w", err)
	}

	if len(tasks) == 0 {
		fmt.Printf("No tasks found for project %s.\n", project)
		return nil
	}
	for _, t := range tasks {
		fmt.Printf("  %-10s  %s\n", t.Number, t.Name)
	}
	return nil
}

func runExport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := newLogger(cmd)
	p, db, err := newPlanner(cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	weeks, err := weekWindow(cmd, cfg)
	if err != nil {
		return err
	}

	if err := p.LoadWeeks(cmd.Context(), weeks); err != nil {
		return fmt.Errorf("loading weeks: %w", err)
	}

	var blocks []planning.AllocationBlock
	for _, m := range p.TeamView(weeks, filtersFrom(cmd)) {
		blocks = append(blocks, m.Blocks...)
	}

	output, _ := cmd.Flags().GetString("output")
	f, err := os.Create(output)
	if err != nil {
		return fmt.Errorf("creating %s: %w", output, err)
	}
	defer f.Close()

	if err := export.WriteICal(f, blocks, time.Now().UTC()); err != nil {
		return fmt.Errorf("writing calendar: %w", err)
	}

	fmt.Printf("Wrote %d allocation(s) to %s\n", len(blocks), output)
	return nil
}

func runAudit(cmd *cobra.Command, args []string) error {
	db, err := store.Open()
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	limit, _ := cmd.Flags().GetInt("limit")
	batches, err := db.RecentBatches(limit)
	if err != nil {
		return fmt.Errorf("fetching batches: %w", err)
	}

	if len(batches) == 0 {
		fmt.Println("No batches recorded yet.")
		return nil
	}

	for _, b := range batches {
		fmt.Printf("%s  week %s  %s/%s/%s  %d created, %d updated, %d deleted, %d failed\n",
			b.ExecutedAt.Local().Format("2006-01-02 15:04"),
			b.WeekStart, b.ProjectNo, b.TaskNo, b.ResourceNo,
			b.CreatedCount, b.UpdatedCount, b.DeletedCount, b.FailedCount)

		if b.FailedCount == 0 {
			continue
		}
		items, err := db.BatchItems(b.ID)
		if err != nil {
			return fmt.Errorf("fetching batch items: %w", err)
		}
		for _, item := range items {
			if item.Status != "failed" {
				continue
			}
			fmt.Printf("    %s %s: %s\n", item.Operation, item.Date, item.Error)
		}
	}
	return nil
}

func runConfig(cmd *cobra.Command, args []string) error {
	if err := config.EnsureConfigDir(); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	configPath, err := config.ConfigPath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := config.DefaultConfig()
		data := fmt.Sprintf(`[ledger]
base_url = "%s"
api_key = "%s"
company = "%s"

[planning]
fan_out = %d
palette_size = %d
default_weeks = %d

[notifications]
enabled = %t
`,
			cfg.Ledger.BaseURL,
			cfg.Ledger.APIKey,
			cfg.Ledger.Company,
			cfg.Planning.FanOut,
			cfg.Planning.PaletteSize,
			cfg.Planning.DefaultWeeks,
			cfg.Notifications.Enabled,
		)
		if err := os.WriteFile(configPath, []byte(data), 0644); err != nil {
			return fmt.Errorf("writing default config: %w", err)
		}
	}

	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = "vi"
	}

	fmt.Printf("Opening %s with %s...\n", configPath, editor)

	proc := os.ProcAttr{
		Files: []*os.File{os.Stdin, os.Stdout, os.Stderr},
	}
	process, err := os.StartProcess(editor, []string{editor, configPath}, &proc)
	if err != nil {
		fmt.Printf("Could not open editor. Config file is at: %s\n", configPath)
		return nil
	}
	_, err = process.Wait()
	return err
}
