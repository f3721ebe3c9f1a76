// Package main is the CLI entry point for focusgate.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/peva0411/focusgate/internal/client"
	"github.com/peva0411/focusgate/internal/daemon"
	"github.com/peva0411/focusgate/internal/domain"
	"github.com/peva0411/focusgate/internal/infra"
	"github.com/peva0411/focusgate/internal/nativehost"
)

var (
	// Version info (set via ldflags)
	Version   = "0.1.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "focusgate",
	Short: "Distraction blocker for the browser",
	Long: `focusgate runs a background daemon that decides when distracting sites
should be blocked (weekly schedules, pauses, daily time budgets) and
publishes the resulting blocking rules for the browser extension.`,
	Version: Version,
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the blocking daemon",
	Long: `Starts the engine daemon as a detached background process. The daemon
evaluates schedules, tracks time budgets and keeps the published blocking
rules converged with what should be blocked right now.`,
	RunE: runStart,
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the blocking daemon",
	RunE:  runStop,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon and blocking status",
	RunE:  runStatus,
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Force an immediate evaluation and rule sync",
	RunE:  runScan,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run:   runVersion,
}

// Hidden daemon command - used for self-exec when spawning the daemon
var daemonCmd = &cobra.Command{
	Use:    "daemon",
	Hidden: true,
	RunE:   runDaemon,
}

// Hidden host command - the browser spawns it as the native messaging host
var hostCmd = &cobra.Command{
	Use:    "host",
	Hidden: true,
	RunE:   runHost,
}

var installHostCmd = &cobra.Command{
	Use:   "install-host",
	Short: "Install the browser native messaging manifest",
	RunE:  runInstallHost,
}

var sitesCmd = &cobra.Command{
	Use:   "sites",
	Short: "Manage the blocked site list",
}

var sitesAddCmd = &cobra.Command{
	Use:   "add <pattern>",
	Short: "Add a site pattern to the block list",
	Args:  cobra.ExactArgs(1),
	RunE:  runSitesAdd,
}

var sitesRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove a site from the block list",
	Args:  cobra.ExactArgs(1),
	RunE:  runSitesRemove,
}

var sitesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List blocked sites",
	RunE:  runSitesList,
}

var pauseCmd = &cobra.Command{
	Use:   "pause [minutes]",
	Short: "Pause blocking temporarily",
	Long: `Pauses all blocking for the given number of minutes, or with
--until-reset until the next daily budget reset.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPause,
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume blocking, ending an active pause",
	RunE:  runResume,
}

var enableCmd = &cobra.Command{
	Use:   "enable",
	Short: "Turn blocking on globally",
	RunE:  func(cmd *cobra.Command, args []string) error { return setEnabled(true) },
}

var disableCmd = &cobra.Command{
	Use:   "disable",
	Short: "Turn blocking off globally",
	RunE:  func(cmd *cobra.Command, args []string) error { return setEnabled(false) },
}

var budgetCmd = &cobra.Command{
	Use:   "budget",
	Short: "Inspect and configure the daily time budget",
}

var budgetStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show today's budget usage",
	RunE:  runBudgetStatus,
}

var budgetSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Set the daily budget size and reset time",
	RunE:  runBudgetSet,
}

var budgetHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "Show archived daily budget records",
	RunE:  runBudgetHistory,
}

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Manage blocking schedules",
}

var scheduleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List schedules",
	RunE:  runScheduleList,
}

var scheduleSelectCmd = &cobra.Command{
	Use:   "select <id>",
	Short: "Make a schedule the active one",
	Args:  cobra.ExactArgs(1),
	RunE:  runScheduleSelect,
}

var scheduleDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a schedule",
	Args:  cobra.ExactArgs(1),
	RunE:  runScheduleDelete,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show blocked-navigation counts",
	RunE:  runStats,
}

var (
	verbose            bool
	jsonOutput         bool
	pauseUntilReset    bool
	budgetMinutes      int
	budgetResetTime    string
	statsDays          int
	daemonPort         int
	interstitialURL    string
	chromeExtensionID  string
	firefoxExtensionID string
	hostBrowser        string
)

func init() {
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Enable debug logging")
	versionCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version info as JSON")
	pauseCmd.Flags().BoolVar(&pauseUntilReset, "until-reset", false, "Pause until the next daily budget reset")
	budgetSetCmd.Flags().IntVar(&budgetMinutes, "minutes", 0, "Total daily minutes (5-480)")
	budgetSetCmd.Flags().StringVar(&budgetResetTime, "reset", "", `Daily reset time, "HH:MM"`)
	statsCmd.Flags().IntVar(&statsDays, "days", 7, "Number of days to include")
	daemonCmd.Flags().IntVar(&daemonPort, "port", 0, "RPC listen port (0 picks one)")
	daemonCmd.Flags().StringVar(&interstitialURL, "interstitial", "", "Interstitial page URL for redirects")
	installHostCmd.Flags().StringVar(&chromeExtensionID, "chrome-extension-id", "", "Chrome extension ID to allow")
	installHostCmd.Flags().StringVar(&firefoxExtensionID, "firefox-extension-id", "", "Firefox extension ID to allow")
	installHostCmd.Flags().StringVar(&hostBrowser, "browser", "chrome", "Browser to install for (chrome/chromium/edge/brave/firefox)")

	sitesCmd.AddCommand(sitesAddCmd, sitesRemoveCmd, sitesListCmd)
	budgetCmd.AddCommand(budgetStatusCmd, budgetSetCmd, budgetHistoryCmd)
	scheduleCmd.AddCommand(scheduleListCmd, scheduleSelectCmd, scheduleDeleteCmd)

	rootCmd.AddCommand(startCmd, stopCmd, statusCmd, scanCmd, versionCmd,
		daemonCmd, hostCmd, installHostCmd,
		sitesCmd, pauseCmd, resumeCmd, enableCmd, disableCmd,
		budgetCmd, scheduleCmd, statsCmd)
}

// loadRegistry reads the daemon registry and reports whether the registered
// process is alive.
func loadRegistry() (*domain.RegistryEntry, bool, error) {
	reg := infra.NewFileRegistry(daemon.DefaultDataDir(), infra.NewSystemClock())
	entry, err := reg.Load()
	if err != nil || entry == nil {
		return nil, false, err
	}
	pm := infra.NewProcessManager()
	return entry, pm.IsRunning(entry.PID), nil
}

// dialDaemon builds an authenticated client for the running daemon.
func dialDaemon() (*client.Client, error) {
	entry, alive, err := loadRegistry()
	if err != nil {
		return nil, err
	}
	if entry == nil || !alive {
		return nil, fmt.Errorf("daemon is not running (run 'focusgate start')")
	}

	dataDir := daemon.DefaultDataDir()
	key, err := infra.NewFileKeyProvider(dataDir).GetKey()
	if err != nil {
		return nil, fmt.Errorf("read auth key: %w", err)
	}
	secrets, err := infra.NewEncryptedSecrets(dataDir, key)
	if err != nil {
		return nil, fmt.Errorf("open secret store: %w", err)
	}
	defer secrets.Close()

	token, err := secrets.GetSecret(infra.SecretKeyRPCToken)
	if err != nil {
		return nil, fmt.Errorf("read auth token: %w", err)
	}
	return client.New(entry.ListenAddr, token), nil
}

func runStart(cmd *cobra.Command, args []string) error {
	if entry, alive, _ := loadRegistry(); entry != nil && alive {
		fmt.Println("focusgate is already running")
		fmt.Printf("  pid:  %d\n", entry.PID)
		fmt.Printf("  rpc:  %s\n", entry.ListenAddr)
		return nil
	}

	pid, err := daemon.StartDetached()
	if err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	// Give the daemon a moment to bind its port and register.
	time.Sleep(500 * time.Millisecond)

	fmt.Println("focusgate started")
	if entry, alive, _ := loadRegistry(); entry != nil && alive {
		fmt.Printf("  pid:  %d\n", entry.PID)
		fmt.Printf("  rpc:  %s\n", entry.ListenAddr)
	} else {
		fmt.Printf("  pid:  %d (still registering)\n", pid)
	}
	return nil
}

func runStop(cmd *cobra.Command, args []string) error {
	entry, alive, err := loadRegistry()
	if err != nil {
		return err
	}
	if entry == nil || !alive {
		fmt.Println("focusgate is not running")
		return nil
	}
	if err := syscall.Kill(entry.PID, syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to signal daemon: %w", err)
	}
	fmt.Printf("sent shutdown signal to pid %d\n", entry.PID)
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	entry, alive, err := loadRegistry()
	if err != nil {
		return err
	}
	if entry == nil || !alive {
		fmt.Println("Status: NOT RUNNING")
		fmt.Println("\nRun 'focusgate start' to begin blocking.")
		return nil
	}

	fmt.Println("Status: RUNNING")
	fmt.Printf("  pid:            %d\n", entry.PID)
	fmt.Printf("  rpc:            %s\n", entry.ListenAddr)
	if entry.AppVersion != "" {
		fmt.Printf("  version:        %s\n", entry.AppVersion)
	}
	if entry.LastHeartbeat > 0 {
		lastBeat := time.Unix(entry.LastHeartbeat, 0)
		fmt.Printf("  last heartbeat: %s ago\n", time.Since(lastBeat).Round(time.Second))
	}

	c, err := dialDaemon()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	st, err := c.ScheduleStatus(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("  blocking:       %s\n", describeStatus(st))

	budget, err := c.BudgetConfig(ctx)
	if err != nil {
		return err
	}
	check, err := c.CheckBudget(ctx, "")
	if err != nil {
		return err
	}
	fmt.Printf("  budget:         %.1f of %d minutes left (resets at %s)\n",
		check.GlobalRemaining, budget.TotalMinutes, budget.ResetTime)
	return nil
}

func describeStatus(st domain.ScheduleStatus) string {
	switch {
	case st.IsPaused:
		return "paused"
	case st.IsActive:
		return "active"
	default:
		return "inactive (outside scheduled hours)"
	}
}

func runScan(cmd *cobra.Command, args []string) error {
	c, err := dialDaemon()
	if err != nil {
		return err
	}
	if err := c.Reconcile(cmd.Context()); err != nil {
		return err
	}
	fmt.Println("reconcile complete")
	return nil
}

func runDaemon(cmd *cobra.Command, args []string) error {
	logger := createLogger()
	defer func() { _ = logger.Sync() }()

	rt, err := daemon.NewRuntime(daemon.Options{
		DataDir:         daemon.DefaultDataDir(),
		InterstitialURL: interstitialURL,
		Port:            daemonPort,
		Version:         Version,
		Logger:          logger,
	})
	if err != nil {
		logger.Error("daemon init failed", zap.Error(err))
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("received shutdown signal")
		cancel()
	}()

	return rt.Run(ctx)
}

func runHost(cmd *cobra.Command, args []string) error {
	c, err := dialDaemon()
	if err != nil {
		return err
	}
	return nativehost.NewHost(c).Run(cmd.Context())
}

func runInstallHost(cmd *cobra.Command, args []string) error {
	executable, err := os.Executable()
	if err != nil {
		return err
	}

	installer := &nativehost.ManifestInstaller{
		HostPath:           executable,
		ChromeExtensionID:  chromeExtensionID,
		FirefoxExtensionID: firefoxExtensionID,
	}

	var path string
	if hostBrowser == string(nativehost.BrowserFirefox) {
		path, err = installer.InstallFirefox()
	} else {
		path, err = installer.InstallChrome(nativehost.Browser(hostBrowser))
	}
	if err != nil {
		return err
	}
	fmt.Printf("installed native messaging manifest: %s\n", path)
	return nil
}

func runSitesAdd(cmd *cobra.Command, args []string) error {
	c, err := dialDaemon()
	if err != nil {
		return err
	}
	id, err := c.AddSite(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	fmt.Printf("added %s (id %s)\n", args[0], id)
	return nil
}

func runSitesRemove(cmd *cobra.Command, args []string) error {
	c, err := dialDaemon()
	if err != nil {
		return err
	}
	if err := c.RemoveSite(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Println("removed")
	return nil
}

func runSitesList(cmd *cobra.Command, args []string) error {
	c, err := dialDaemon()
	if err != nil {
		return err
	}
	sites, err := c.Sites(cmd.Context())
	if err != nil {
		return err
	}
	if len(sites) == 0 {
		fmt.Println("no blocked sites")
		return nil
	}
	for _, s := range sites {
		state := ""
		if !s.Enabled {
			state = " (disabled)"
		}
		fmt.Printf("%-38s %s%s\n", s.ID, s.Pattern, state)
	}
	return nil
}

func runPause(cmd *cobra.Command, args []string) error {
	c, err := dialDaemon()
	if err != nil {
		return err
	}

	minutes := -1
	if !pauseUntilReset {
		if len(args) == 0 {
			return fmt.Errorf("give a duration in minutes, or --until-reset")
		}
		minutes, err = strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid minutes %q", args[0])
		}
	}

	until, err := c.Pause(cmd.Context(), minutes)
	if err != nil {
		return err
	}
	fmt.Printf("blocking paused until %s\n", until)
	return nil
}

func runResume(cmd *cobra.Command, args []string) error {
	c, err := dialDaemon()
	if err != nil {
		return err
	}
	if err := c.Resume(cmd.Context()); err != nil {
		return err
	}
	fmt.Println("blocking resumed")
	return nil
}

func setEnabled(enabled bool) error {
	c, err := dialDaemon()
	if err != nil {
		return err
	}
	if err := c.SetEnabled(context.Background(), enabled); err != nil {
		return err
	}
	if enabled {
		fmt.Println("blocking enabled")
	} else {
		fmt.Println("blocking disabled")
	}
	return nil
}

func runBudgetStatus(cmd *cobra.Command, args []string) error {
	c, err := dialDaemon()
	if err != nil {
		return err
	}
	check, err := c.CheckBudget(cmd.Context(), "")
	if err != nil {
		return err
	}
	cfg, err := c.BudgetConfig(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Printf("used      %.1f min\n", check.Total-check.GlobalRemaining)
	fmt.Printf("remaining %.1f min\n", check.GlobalRemaining)
	fmt.Printf("total     %d min (resets at %s)\n", cfg.TotalMinutes, cfg.ResetTime)
	return nil
}

func runBudgetSet(cmd *cobra.Command, args []string) error {
	c, err := dialDaemon()
	if err != nil {
		return err
	}

	cfg, err := c.BudgetConfig(cmd.Context())
	if err != nil {
		return err
	}
	if budgetMinutes > 0 {
		cfg.TotalMinutes = budgetMinutes
	}
	if budgetResetTime != "" {
		cfg.ResetTime = budgetResetTime
	}

	if err := c.SetBudgetConfig(cmd.Context(), cfg.TotalMinutes, cfg.ResetTime); err != nil {
		return err
	}
	fmt.Printf("budget set: %d min/day, resets at %s\n", cfg.TotalMinutes, cfg.ResetTime)
	return nil
}

func runBudgetHistory(cmd *cobra.Command, args []string) error {
	c, err := dialDaemon()
	if err != nil {
		return err
	}
	days, err := c.BudgetHistory(cmd.Context())
	if err != nil {
		return err
	}
	if len(days) == 0 {
		fmt.Println("no history yet")
		return nil
	}
	for _, d := range days {
		fmt.Printf("%s  %.1f min\n", d.Date, d.Used)
	}
	return nil
}

func runScheduleList(cmd *cobra.Command, args []string) error {
	c, err := dialDaemon()
	if err != nil {
		return err
	}
	schedules, activeID, err := c.Schedules(cmd.Context())
	if err != nil {
		return err
	}
	if len(schedules) == 0 {
		fmt.Println("no schedules")
		return nil
	}
	for _, s := range schedules {
		marker := " "
		if s.ID == activeID {
			marker = "*"
		}
		fmt.Printf("%s %-38s %s\n", marker, s.ID, s.Name)
	}
	return nil
}

func runScheduleSelect(cmd *cobra.Command, args []string) error {
	c, err := dialDaemon()
	if err != nil {
		return err
	}
	if err := c.SelectSchedule(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Println("schedule selected")
	return nil
}

func runScheduleDelete(cmd *cobra.Command, args []string) error {
	c, err := dialDaemon()
	if err != nil {
		return err
	}
	if err := c.DeleteSchedule(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Println("schedule deleted")
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	c, err := dialDaemon()
	if err != nil {
		return err
	}
	blocks, err := c.Stats(cmd.Context(), statsDays)
	if err != nil {
		return err
	}
	if len(blocks) == 0 {
		fmt.Println("no blocked navigations recorded")
		return nil
	}

	dates := make([]string, 0, len(blocks))
	for d := range blocks {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	for _, d := range dates {
		total := 0
		for _, n := range blocks[d] {
			total += n
		}
		fmt.Printf("%s  %d blocked\n", d, total)
	}
	return nil
}

func createLogger() *zap.Logger {
	logPath := filepath.Join(daemon.DefaultDataDir(), "daemon.log")
	_ = os.MkdirAll(filepath.Dir(logPath), 0700)

	config := zap.NewProductionConfig()
	if verbose {
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	config.OutputPaths = []string{logPath}
	config.ErrorOutputPaths = []string{logPath}
	config.EncoderConfig.TimeKey = "time"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := config.Build()
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}

func runVersion(cmd *cobra.Command, args []string) {
	if jsonOutput {
		fmt.Printf(`{"version":"%s","commit":"%s","build_time":"%s"}`+"\n",
			Version, Commit, BuildTime)
	} else {
		fmt.Printf("focusgate %s (commit: %s, built: %s)\n",
			Version, Commit, BuildTime)
	}
}
