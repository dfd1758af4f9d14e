package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ttm-labs/ttm-orchestrator/internal/config"
	"github.com/ttm-labs/ttm-orchestrator/internal/domain"
	"github.com/ttm-labs/ttm-orchestrator/internal/engine"
	"github.com/ttm-labs/ttm-orchestrator/internal/history"
	"github.com/ttm-labs/ttm-orchestrator/internal/lifecycle"
	"github.com/ttm-labs/ttm-orchestrator/internal/logger"
	"github.com/ttm-labs/ttm-orchestrator/internal/notify"
	"github.com/ttm-labs/ttm-orchestrator/internal/results"
	"github.com/ttm-labs/ttm-orchestrator/internal/schedule"
	"github.com/ttm-labs/ttm-orchestrator/internal/secrets"
	"github.com/ttm-labs/ttm-orchestrator/internal/statestore"
	"github.com/ttm-labs/ttm-orchestrator/internal/templates"
	"github.com/ttm-labs/ttm-orchestrator/tui"
	"github.com/ttm-labs/ttm-orchestrator/web/api"
)

var (
	runMode      string
	runFollow    bool
	logsStderr   bool
	historyLimit int
	previewRows  int
	servePort    int
)

func init() {
	runCmd := &cobra.Command{
		Use:   "run TEMPLATE",
		Short: "Run an experiment and wait for it to finish",
		Args:  cobra.ExactArgs(1),
		RunE:  runRun,
	}
	runCmd.Flags().StringVar(&runMode, "mode", "test", "engine mode (test or full)")
	runCmd.Flags().BoolVar(&runFollow, "follow", false, "echo engine output while the run is active")
	rootCmd.AddCommand(runCmd)

	stopCmd := &cobra.Command{
		Use:   "stop EXPERIMENT",
		Short: "Stop a running experiment",
		Args:  cobra.ExactArgs(1),
		RunE:  runStop,
	}
	rootCmd.AddCommand(stopCmd)

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List tracked experiments",
		RunE:  runList,
	}
	rootCmd.AddCommand(listCmd)

	statusCmd := &cobra.Command{
		Use:   "status [EXPERIMENT]",
		Short: "Show overall status or one experiment",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runStatus,
	}
	rootCmd.AddCommand(statusCmd)

	logsCmd := &cobra.Command{
		Use:   "logs EXPERIMENT",
		Short: "Show captured engine output for an experiment",
		Args:  cobra.ExactArgs(1),
		RunE:  runLogs,
	}
	logsCmd.Flags().BoolVar(&logsStderr, "stderr", false, "show stderr instead of stdout")
	rootCmd.AddCommand(logsCmd)

	templatesCmd := &cobra.Command{
		Use:   "templates",
		Short: "Manage experiment templates",
		RunE:  runTemplatesList,
	}
	templatesCmd.AddCommand(&cobra.Command{
		Use:   "add FILE",
		Short: "Copy a template into the templates directory",
		Args:  cobra.ExactArgs(1),
		RunE:  runTemplatesAdd,
	})
	templatesCmd.AddCommand(&cobra.Command{
		Use:   "rm NAME",
		Short: "Delete a template",
		Args:  cobra.ExactArgs(1),
		RunE:  runTemplatesRm,
	})
	previewCmd := &cobra.Command{
		Use:   "preview NAME",
		Short: "Show the first rows of a template",
		Args:  cobra.ExactArgs(1),
		RunE:  runTemplatesPreview,
	}
	previewCmd.Flags().IntVar(&previewRows, "rows", 20, "maximum data rows to show")
	templatesCmd.AddCommand(previewCmd)
	rootCmd.AddCommand(templatesCmd)

	resultsCmd := &cobra.Command{
		Use:   "results",
		Short: "Browse collected result folders",
		RunE:  runResultsList,
	}
	resultsCmd.AddCommand(&cobra.Command{
		Use:   "rm FOLDER",
		Short: "Delete a result folder",
		Args:  cobra.ExactArgs(1),
		RunE:  runResultsRm,
	})
	rootCmd.AddCommand(resultsCmd)

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Show archived runs",
		RunE:  runHistory,
	}
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum runs to show")
	rootCmd.AddCommand(historyCmd)

	secretsCmd := &cobra.Command{
		Use:   "secrets",
		Short: "Show which engine API keys are configured",
		RunE:  runSecrets,
	}
	rootCmd.AddCommand(secretsCmd)

	scheduleCmd := &cobra.Command{
		Use:   "schedule",
		Short: "List configured experiment schedules",
		RunE:  runScheduleList,
	}
	rootCmd.AddCommand(scheduleCmd)

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the dashboard API, results watcher and scheduler",
		RunE:  runServe,
	}
	serveCmd.Flags().IntVar(&servePort, "port", 0, "port to listen on (overrides config)")
	rootCmd.AddCommand(serveCmd)

	tuiCmd := &cobra.Command{
		Use:   "tui",
		Short: "Launch the terminal dashboard",
		RunE:  runTUI,
	}
	rootCmd.AddCommand(tuiCmd)
}

// app bundles the wired components every command needs.
type app struct {
	cfg       *config.Config
	store     *statestore.Store
	results   *results.Manager
	templates *templates.Manager
	history   *history.Store
	tracker   *lifecycle.Tracker
}

func newApp() (*app, error) {
	path := configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.EnsureDirs(); err != nil {
		return nil, err
	}
	if err := logger.Configure("", cfg.General.LogFile); err != nil {
		return nil, err
	}
	if err := secrets.Load(cfg.General.EnvFile); err != nil {
		logger.Warn("could not load env file", "path", cfg.General.EnvFile, "error", err)
	}

	a := &app{
		cfg:       cfg,
		store:     statestore.New(cfg.General.StateFile),
		results:   results.NewManager(cfg.General.ResultsDir),
		templates: templates.NewManager(cfg.General.TemplatesDir),
	}

	a.tracker = lifecycle.New(a.store, engine.NewRunner(cfg.Engine.Command), a.results, lifecycle.Options{
		PollInterval:   cfg.Engine.PollInterval(),
		GracePeriod:    cfg.Engine.GracePeriod(),
		MaxRunDuration: cfg.Engine.MaxRunDuration(),
	})

	if cfg.General.HistoryPath != "" {
		hist, err := history.New(cfg.General.HistoryPath)
		if err != nil {
			return nil, fmt.Errorf("open history store: %w", err)
		}
		a.history = hist
		a.tracker.SetArchive(hist)
	}

	a.tracker.SetNotifier(buildNotifier(cfg))
	return a, nil
}

func (a *app) Close() {
	if a.history != nil {
		a.history.Close()
	}
}

func buildNotifier(cfg *config.Config) notify.Notifier {
	var notifiers []notify.Notifier
	if cfg.Notifications.Desktop {
		notifiers = append(notifiers, notify.NewDesktopNotifier(true))
	}
	if cfg.Notifications.SlackWebhook != "" {
		notifiers = append(notifiers, notify.NewSlackNotifier(cfg.Notifications.SlackWebhook))
	}
	if len(notifiers) == 0 {
		return notify.NoopNotifier{}
	}
	return notify.NewMultiNotifier(notifiers...)
}

// resolveTemplate accepts either a path to a spreadsheet or the name of a
// stored template.
func (a *app) resolveTemplate(arg string) (string, error) {
	if info, err := os.Stat(arg); err == nil && !info.IsDir() {
		if !templates.IsTemplate(arg) {
			return "", fmt.Errorf("%s is not an .xlsx or .xls template", arg)
		}
		return arg, nil
	}
	return a.templates.Resolve(arg)
}

func runRun(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	templatePath, err := a.resolveTemplate(args[0])
	if err != nil {
		return err
	}

	mode, err := domain.ParseMode(runMode)
	if err != nil {
		return err
	}

	if missing := secrets.Missing(); len(missing) > 0 {
		fmt.Fprintf(os.Stderr, "warning: missing API keys: %s\n", strings.Join(missing, ", "))
	}

	id, err := a.tracker.Start(templatePath, mode)
	if err != nil {
		return err
	}
	fmt.Printf("Started %s (%s mode)\n", id, mode)

	// The worker goroutine drives the run; wait for a terminal status.
	lastStatus := domain.Status("")
	printed := 0
	for {
		rec := a.store.Get(id)
		if rec == nil {
			return fmt.Errorf("experiment %s vanished from the state file", id)
		}
		if rec.Status != lastStatus {
			fmt.Printf("  %s\n", rec.Status)
			lastStatus = rec.Status
		}
		if runFollow && len(rec.Stdout) > printed {
			fmt.Print(rec.Stdout[printed:])
			printed = len(rec.Stdout)
		}
		if rec.Status.IsTerminal() {
			return printRunSummary(id, rec)
		}
		time.Sleep(time.Second)
	}
}

func printRunSummary(id domain.ExperimentID, rec *domain.ExperimentRecord) error {
	fmt.Printf("\n%s finished: %s (%.0fs elapsed, %d result files)\n",
		id, rec.Status, rec.ElapsedSeconds, rec.ResultFilesCount)
	if rec.ResultFolder != "" {
		fmt.Printf("Results: %s\n", rec.ResultFolder)
	}
	if rec.Status == domain.StatusCompleted {
		return nil
	}
	if rec.Error != "" {
		return fmt.Errorf("%s", rec.Error)
	}
	return fmt.Errorf("experiment %s", rec.Status)
}

func runStop(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	id := domain.ExperimentID(args[0])
	if a.store.Get(id) == nil {
		return fmt.Errorf("experiment %s not found", id)
	}

	if a.tracker.Stop(id) {
		fmt.Printf("Stopped %s\n", id)
		return nil
	}

	rec := a.store.Get(id)
	if rec != nil && rec.Error != "" {
		return fmt.Errorf("%s", rec.Error)
	}
	return fmt.Errorf("experiment %s is not running", id)
}

func runList(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	records := a.store.All()
	type row struct {
		id  domain.ExperimentID
		rec *domain.ExperimentRecord
	}
	rows := make([]row, 0, len(records))
	for id, rec := range records {
		rows = append(rows, row{id, rec})
	}
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].rec.StartTime.After(rows[j].rec.StartTime)
	})

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tMODE\tELAPSED\tFILES\tSTARTED")
	for _, r := range rows {
		fmt.Fprintf(w, "%s\t%s\t%s\t%.0fs\t%d\t%s\n",
			r.id, r.rec.Status, r.rec.Mode, r.rec.ElapsedSeconds,
			r.rec.ResultFilesCount, r.rec.StartTime.Format("2006-01-02 15:04:05"))
	}
	w.Flush()

	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if len(args) == 1 {
		id := domain.ExperimentID(args[0])
		rec := a.store.Get(id)
		if rec == nil {
			return fmt.Errorf("experiment %s not found", id)
		}
		fmt.Printf("ID:       %s\n", id)
		fmt.Printf("Status:   %s\n", rec.Status)
		fmt.Printf("Template: %s\n", rec.Template)
		fmt.Printf("Mode:     %s\n", rec.Mode)
		fmt.Printf("Started:  %s\n", rec.StartTime.Format(time.RFC3339))
		fmt.Printf("Elapsed:  %.0fs\n", rec.ElapsedSeconds)
		if rec.ProcessPID != nil {
			fmt.Printf("PID:      %d\n", *rec.ProcessPID)
		}
		if rec.ProcessInfo != nil {
			fmt.Printf("Process:  %.1f%% cpu, %.1f MB, %d threads\n",
				rec.ProcessInfo.CPUPercent, rec.ProcessInfo.MemoryMB, rec.ProcessInfo.NumThreads)
		}
		fmt.Printf("Files:    %d\n", rec.ResultFilesCount)
		if rec.ReturnCode != nil {
			fmt.Printf("Exit:     %d\n", *rec.ReturnCode)
		}
		if rec.Error != "" {
			fmt.Printf("Error:    %s\n", rec.Error)
		}
		return nil
	}

	var running, completed, failed, stopped int
	records := a.store.All()
	for _, rec := range records {
		switch rec.Status {
		case domain.StatusStarting, domain.StatusRunning:
			running++
		case domain.StatusCompleted:
			completed++
		case domain.StatusFailed, domain.StatusError:
			failed++
		case domain.StatusStopped:
			stopped++
		}
	}
	fmt.Printf("Experiments: %d total | %d running | %d completed | %d failed | %d stopped\n",
		len(records), running, completed, failed, stopped)
	fmt.Printf("Shared result files awaiting collection: %d\n", a.results.CountShared())

	return nil
}

func runLogs(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	id := domain.ExperimentID(args[0])
	rec := a.store.Get(id)
	if rec == nil {
		return fmt.Errorf("experiment %s not found", id)
	}

	if logsStderr {
		fmt.Print(rec.Stderr)
	} else {
		fmt.Print(rec.Stdout)
	}
	return nil
}

func runTemplatesList(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	list, err := a.templates.List()
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Printf("No templates in %s\n", a.templates.Dir)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSIZE\tMODIFIED")
	for _, t := range list {
		fmt.Fprintf(w, "%s\t%d\t%s\n", t.Name, t.Size, t.ModTime.Format("2006-01-02 15:04"))
	}
	w.Flush()

	return nil
}

func runTemplatesAdd(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	path, err := a.templates.Save(filepath.Base(args[0]), f)
	if err != nil {
		return err
	}
	fmt.Printf("Added %s\n", path)
	return nil
}

func runTemplatesRm(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.templates.Delete(args[0]); err != nil {
		return err
	}
	fmt.Printf("Deleted %s\n", args[0])
	return nil
}

func runTemplatesPreview(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	preview, err := a.templates.PreviewTemplate(args[0], previewRows)
	if err != nil {
		return err
	}

	fmt.Printf("Sheet %q, %d data rows\n", preview.Sheet, preview.Total)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, strings.Join(preview.Headers, "\t"))
	for _, row := range preview.Rows {
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	w.Flush()

	return nil
}

func runResultsList(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	experiments, err := a.results.ListExperiments()
	if err != nil {
		return err
	}
	if len(experiments) == 0 {
		fmt.Printf("No results in %s\n", a.results.Root)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FOLDER\tFILES\tBYTES\tMODIFIED")
	for _, e := range experiments {
		name := e.Folder
		if name == "" {
			name = "(shared)"
		}
		fmt.Fprintf(w, "%s\t%d\t%d\t%s\n", name, e.FileCount, e.TotalBytes, e.ModTime.Format("2006-01-02 15:04"))
	}
	w.Flush()

	return nil
}

func runResultsRm(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.results.Delete(args[0]); err != nil {
		return err
	}
	fmt.Printf("Deleted %s\n", args[0])
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if a.history == nil {
		return fmt.Errorf("history_path not configured")
	}

	runs, err := a.history.List(historyLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No archived runs")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "EXPERIMENT\tSTATUS\tMODE\tELAPSED\tFILES\tSTARTED")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%.0fs\t%d\t%s\n",
			r.ExperimentID, r.Status, r.Mode, r.ElapsedSecs,
			r.ResultFilesCount, r.StartedAt.Format("2006-01-02 15:04:05"))
	}
	w.Flush()

	return nil
}

func runSecrets(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tSET\tVALUE")
	for _, ks := range secrets.Check() {
		set := "no"
		if ks.Present {
			set = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", ks.Name, set, ks.Masked)
	}
	w.Flush()

	return nil
}

func runScheduleList(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	scheduler, err := loadScheduler(a.cfg)
	if err != nil {
		return err
	}
	if scheduler == nil {
		fmt.Println("No schedule file configured")
		return nil
	}

	names := scheduler.ListSchedules()
	if len(names) == 0 {
		fmt.Println("No enabled schedules")
		return nil
	}
	sort.Strings(names)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tCRON\tTEMPLATE\tMODE\tNEXT RUN")
	for _, name := range names {
		sc, _ := scheduler.GetConfig(name)
		next := scheduler.NextRun(name)
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			sc.Name, sc.Cron, sc.Template, sc.ParsedMode(), next.Format("2006-01-02 15:04"))
	}
	w.Flush()

	return nil
}

func loadScheduler(cfg *config.Config) (*schedule.Scheduler, error) {
	if cfg.General.SchedulePath == "" {
		return nil, nil
	}
	if _, err := os.Stat(cfg.General.SchedulePath); os.IsNotExist(err) {
		return nil, nil
	}
	sc, err := schedule.LoadScheduleConfig(cfg.General.SchedulePath)
	if err != nil {
		return nil, err
	}
	return schedule.NewScheduler(sc.Experiments)
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	// Pick up runs left over from a previous process.
	if adopted := a.tracker.Recover(); len(adopted) > 0 {
		logger.Info("recovered running experiments", "count", len(adopted))
	}

	port := servePort
	if port == 0 {
		port = a.cfg.Web.Port
	}
	addr := fmt.Sprintf("%s:%d", a.cfg.Web.Host, port)
	server := api.NewServer(a.tracker, a.templates, a.results, a.history, addr)

	a.tracker.OnUpdate(func(id domain.ExperimentID, rec *domain.ExperimentRecord) {
		server.Broadcast(api.RunEvent(id, rec))
	})

	watcher, err := results.NewWatcher(a.results, func(sharedCount int) {
		server.Broadcast(api.SSEEvent{
			Type: "results_update",
			Data: map[string]int{"shared_result_files": sharedCount},
		})
	})
	if err != nil {
		return fmt.Errorf("start results watcher: %w", err)
	}

	scheduler, err := loadScheduler(a.cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		fmt.Printf("Dashboard API listening on http://%s\n", addr)
		return server.Run(ctx)
	})

	g.Go(func() error {
		watcher.Start(ctx)
		return nil
	})

	if scheduler != nil {
		g.Go(func() error {
			scheduler.Start(func(sc schedule.ExperimentSchedule) error {
				return a.runScheduled(sc)
			})
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			scheduler.Stop()
			return nil
		})
	}

	return g.Wait()
}

// runScheduled launches one scheduled experiment and blocks until it
// reaches a terminal status, so the scheduler does not overlap runs of the
// same schedule.
func (a *app) runScheduled(sc schedule.ExperimentSchedule) error {
	templatePath, err := a.resolveTemplate(sc.Template)
	if err != nil {
		return err
	}

	id, err := a.tracker.Start(templatePath, sc.ParsedMode())
	if err != nil {
		return err
	}
	logger.Info("scheduled experiment started", "schedule", sc.Name, "experiment", id)

	for {
		rec := a.store.Get(id)
		if rec == nil || rec.Status.IsTerminal() {
			return nil
		}
		time.Sleep(time.Second)
	}
}

func runTUI(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	a.tracker.Recover()

	model := tui.NewModel(a.tracker, a.results)
	p := tea.NewProgram(model, tea.WithAltScreen())

	_, err = p.Run()
	return err
}

