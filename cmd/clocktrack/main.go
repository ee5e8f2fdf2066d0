package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"clocktrack/internal/app"
	"clocktrack/internal/config"
	"clocktrack/internal/encryption"
	"clocktrack/internal/model"
	"clocktrack/internal/supervisor"
	"clocktrack/internal/syncengine"
	"clocktrack/internal/tracker"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates a TrackerApp. The caller must defer app.Close().
// operation identifies the CLI command being run (e.g. "ClockIn", "Sync").
func newApp(ctx context.Context, operation, parameters string) (*app.TrackerApp, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	a, err := app.NewTrackerApp(ctx, cfg, operation, parameters)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, nil
}

// syncAfter uploads what a one-shot command queued. Failures are reported
// but never fail the command: the records stay queued.
func syncAfter(ctx context.Context, a *app.TrackerApp) {
	res, err := a.SyncIfPending(ctx)
	switch {
	case err != nil:
		fmt.Printf("%s sync deferred: %v\n", renderWarn("!"), err)
	case res.Synced > 0 || res.Failed > 0 || res.Quarantined > 0:
		fmt.Printf("%s %s\n", renderMuted("sync:"), formatSyncResult(res))
	}
}

func locationFlags(cmd *cobra.Command) (model.Location, error) {
	lat, _ := cmd.Flags().GetFloat64("lat")
	lon, _ := cmd.Flags().GetFloat64("lon")
	loc := model.Location{Latitude: lat, Longitude: lon}
	if cmd.Flags().Changed("accuracy") {
		acc, _ := cmd.Flags().GetFloat64("accuracy")
		loc.Accuracy = &acc
	}
	if err := loc.Validate(); err != nil {
		return model.Location{}, err
	}
	return loc, nil
}

var rootCmd = &cobra.Command{
	Use:          "clocktrack",
	Short:        "Shift clock-in with background location capture",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		encrypt, _ := cmd.Flags().GetBool("encrypt")
		employeeID, _ := cmd.Flags().GetString("employee")

		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		if employeeID == "" {
			if employeeID, err = promptText("Employee ID"); err != nil {
				return err
			}
		}

		deviceID := uuid.New().String()
		cfg := config.NewConfig(deviceID, employeeID, defaults["base_dir"])

		if encrypt {
			cfg.Encryption.Type = "age"
			passphrase, err := promptPassphrase()
			if err != nil {
				return err
			}
			if err := encryption.NewAgeEncryptor(cfg.Encryption).Setup(passphrase); err != nil {
				return fmt.Errorf("generating upload key: %w", err)
			}
		}

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Device ID:   %s\n", deviceID)
		fmt.Printf("Employee ID: %s\n", employeeID)
		fmt.Printf("Base Dir:    %s\n", defaults["base_dir"])
		if encrypt {
			fmt.Printf("Upload key:  %s\n", cfg.Encryption.PublicKeyPath)
		}
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		printField("Device ID", cfg.DeviceID)
		printField("Employee ID", cfg.EmployeeID)
		printField("Base Dir", cfg.BaseDir)
		printField("Log Dir", cfg.LogDir)
		printField("Database", cfg.Database.Type)
		printField("Remote", cfg.Remote.Type)
		printField("Location", cfg.Location.Type)
		printField("Encryption", cfg.Encryption.Type)
		printField("Platform", cfg.Tracking.Platform)
		printField("Batch size", strconv.Itoa(cfg.Sync.BatchSize))
		printField("Retention", fmt.Sprintf("%d days", cfg.Sync.RetentionDays))
		return nil
	},
}

// shift command
var shiftCmd = &cobra.Command{
	Use:   "shift",
	Short: "Clock in and out",
}

var shiftInCmd = &cobra.Command{
	Use:   "in",
	Short: "Clock in and start location capture",
	RunE: func(cmd *cobra.Command, args []string) error {
		loc, err := locationFlags(cmd)
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		a, err := newApp(ctx, "ClockIn", fmt.Sprintf("%.6f,%.6f", loc.Latitude, loc.Longitude))
		if err != nil {
			return err
		}
		defer a.Close()

		sh, res, err := a.ClockIn(ctx, loc)
		if err != nil {
			return a.Fail(fmt.Errorf("clocking in: %w", err))
		}
		fmt.Printf("%s Clocked in at %s (shift %s)\n",
			renderPass("✓"), sh.ClockInAt.Local().Format("15:04:05"), sh.ID)
		if res.Outcome == supervisor.Success {
			fmt.Printf("  capture: %s\n", renderPass("started"))
		} else {
			fmt.Printf("  capture: %s %s\n", renderFail(res.Outcome.String()), res.Reason)
			fmt.Println("  the watchdog will retry; run 'clocktrack watchdog schedule' if it is not installed")
		}
		syncAfter(ctx, a)
		return nil
	},
}

var shiftOutCmd = &cobra.Command{
	Use:   "out",
	Short: "Clock out and stop location capture",
	RunE: func(cmd *cobra.Command, args []string) error {
		loc, err := locationFlags(cmd)
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		a, err := newApp(ctx, "ClockOut", fmt.Sprintf("%.6f,%.6f", loc.Latitude, loc.Longitude))
		if err != nil {
			return err
		}
		defer a.Close()

		sh, err := a.ClockOut(ctx, loc)
		if err != nil {
			return a.Fail(fmt.Errorf("clocking out: %w", err))
		}
		fmt.Printf("%s Clocked out after %s\n",
			renderPass("✓"), sh.ClockOutAt.Sub(sh.ClockInAt).Round(time.Second))
		syncAfter(ctx, a)
		return nil
	},
}

var shiftStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the active shift",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, "ShiftStatus", "")
		if err != nil {
			return err
		}
		defer a.Close()

		sh, err := a.ActiveShift(ctx)
		if err != nil {
			return err
		}
		if sh == nil {
			fmt.Println("Not clocked in.")
			return nil
		}
		fmt.Printf("Clocked in since %s (%s)\n",
			sh.ClockInAt.Local().Format("2006-01-02 15:04:05"), a.Now().Sub(sh.ClockInAt).Round(time.Second))
		printField("Shift", sh.ID)
		printField("Capturing", yesNo(a.CaptureActive()))
		return nil
	},
}

// permission command
var permissionCmd = &cobra.Command{
	Use:   "permission",
	Short: "Manage the location permission",
}

var permissionGrantCmd = &cobra.Command{
	Use:       "grant LEVEL",
	Short:     "Record the granted permission (always, when_in_use, denied)",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"always", "when_in_use", "denied"},
	RunE: func(cmd *cobra.Command, args []string) error {
		level := tracker.ParsePermissionLevel(args[0])
		if level.String() != args[0] {
			return fmt.Errorf("unknown permission level %q", args[0])
		}
		a, err := newApp(cmd.Context(), "GrantPermission", args[0])
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.GrantPermission(level); err != nil {
			return a.Fail(err)
		}
		fmt.Printf("Location permission: %s\n", renderPermission(level))
		if level != tracker.PermissionAlways {
			fmt.Println("Capture needs 'always' to keep running in the background.")
		}
		return nil
	},
}

var permissionStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the granted permission",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, "PermissionStatus", "")
		if err != nil {
			return err
		}
		defer a.Close()

		level, err := a.PermissionLevel(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Location permission: %s\n", renderPermission(level))
		return nil
	},
}

// agent command
var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run capture and background sync until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		a, err := newApp(ctx, "Agent", "")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.RunAgent(ctx); err != nil {
			return a.Fail(err)
		}
		return nil
	},
}

// watchdog command
var watchdogCmd = &cobra.Command{
	Use:   "watchdog",
	Short: "Restart capture if a shift is active but nothing is capturing",
	RunE: func(cmd *cobra.Command, args []string) error {
		source, _ := cmd.Flags().GetString("source")
		ctx := cmd.Context()
		a, err := newApp(ctx, "Watchdog", source)
		if err != nil {
			return err
		}
		defer a.Close()

		out := a.Watchdog(ctx, source)
		fmt.Printf("watchdog: %s\n", out)
		return nil
	},
}

var watchdogScheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Print crontab entries for the watchdog timers",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "WatchdogSchedule", "")
		if err != nil {
			return err
		}
		defer a.Close()

		fmt.Println(renderMuted("# add to your crontab with 'crontab -e'"))
		for _, line := range a.WatchdogCronLines() {
			fmt.Println(line)
		}
		return nil
	},
}

// sync command
var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Upload queued records now",
	RunE: func(cmd *cobra.Command, args []string) error {
		resumeAuth, _ := cmd.Flags().GetBool("resume-auth")
		ctx := cmd.Context()
		a, err := newApp(ctx, "Sync", "")
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.Sync(ctx, resumeAuth)
		switch {
		case errors.Is(err, syncengine.ErrOffline):
			fmt.Printf("%s offline, records stay queued\n", renderWarn("!"))
			return nil
		case errors.Is(err, syncengine.ErrAuthRequired):
			fmt.Printf("%s credentials rejected; fix them and run 'clocktrack sync --resume-auth'\n", renderFail("✗"))
			return a.Fail(err)
		case errors.Is(err, syncengine.ErrSyncInProgress):
			fmt.Println("A sync is already running.")
			return nil
		case err != nil:
			return a.Fail(fmt.Errorf("sync failed: %w", err))
		}
		fmt.Printf("%s %s\n", renderAccent("sync:"), formatSyncResult(res))
		return nil
	},
}

// status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show tracking and sync state",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, "Status", "")
		if err != nil {
			return err
		}
		defer a.Close()

		r, err := a.Status(ctx)
		if err != nil {
			return err
		}

		fmt.Println(renderAccent("Tracking"))
		if r.Shift != nil {
			printField("Shift", fmt.Sprintf("%s since %s", r.Shift.ID,
				r.Shift.ClockInAt.Local().Format("2006-01-02 15:04:05")))
		} else {
			printField("Shift", renderMuted("not clocked in"))
		}
		printField("Capturing", yesNo(r.CaptureActive))
		printField("Agent", yesNo(r.AgentRunning))
		printField("Permission", renderPermission(r.Permission))
		if r.Capture != nil {
			printField("Points", strconv.Itoa(r.Capture.PointCount))
			printField("Heartbeat", formatTime(&r.Capture.HeartbeatAt))
		}

		fmt.Println()
		fmt.Println(renderAccent("Sync"))
		printField("Status", renderSyncStatus(r.Sync.Status))
		printField("Last attempt", formatTime(r.Sync.LastAttemptAt))
		printField("Last success", formatTime(r.Sync.LastSuccessAt))
		printField("Pending", fmt.Sprintf("%d shifts, %d points, %d gaps, %d events",
			r.Pending.Shifts, r.Pending.Points, r.Pending.Gaps, r.Pending.Events))
		if r.Sync.ConsecutiveFailures > 0 {
			printField("Failures", fmt.Sprintf("%d, next retry %s",
				r.Sync.ConsecutiveFailures, formatTime(r.Sync.BackoffUntil)))
		}
		if r.Sync.LastError != "" {
			printField("Last error", renderFail(r.Sync.LastError))
		}
		if r.Quarantined > 0 {
			printField("Quarantined", renderWarn(strconv.Itoa(r.Quarantined)))
		}
		return nil
	},
}

// points command
var pointsCmd = &cobra.Command{
	Use:   "points",
	Short: "List captured points",
	RunE: func(cmd *cobra.Command, args []string) error {
		sinceText, _ := cmd.Flags().GetString("since")
		limit, _ := cmd.Flags().GetInt("limit")
		ctx := cmd.Context()
		a, err := newApp(ctx, "Points", sinceText)
		if err != nil {
			return err
		}
		defer a.Close()

		since, err := parseSince(sinceText, a.Now())
		if err != nil {
			return err
		}
		points, err := a.Points(ctx, since, limit)
		if err != nil {
			return err
		}
		if len(points) == 0 {
			fmt.Printf("No points since %s.\n", since.Local().Format("2006-01-02 15:04:05"))
			return nil
		}
		for _, p := range points {
			acc := "-"
			if p.Accuracy != nil {
				acc = fmt.Sprintf("%.0fm", *p.Accuracy)
			}
			fmt.Printf("%s  %10.6f %11.6f  %5s  %s\n",
				p.CapturedAt.Local().Format("2006-01-02 15:04:05"),
				p.Latitude, p.Longitude, acc, renderMuted(string(p.SyncStatus)))
		}
		return nil
	},
}

// quarantine command
var quarantineCmd = &cobra.Command{
	Use:   "quarantine",
	Short: "Review records the server rejected",
}

var quarantineListCmd = &cobra.Command{
	Use:   "list",
	Short: "List quarantined records awaiting review",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, "QuarantineList", "")
		if err != nil {
			return err
		}
		defer a.Close()

		entries, err := a.Quarantine().ListPending(ctx)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("Nothing quarantined.")
			return nil
		}
		for _, q := range entries {
			fmt.Printf("%s  %-16s  %s  %-8s  %s %s  %s\n",
				q.ID,
				q.RecordType,
				q.QuarantinedAt.Local().Format("2006-01-02 15:04:05"),
				q.ReviewStatus,
				renderFail(q.ErrorCode),
				q.ErrorMessage,
				renderMuted(fmt.Sprintf("retries:%d", q.RetryCount)),
			)
		}
		return nil
	},
}

var quarantineRetryCmd = &cobra.Command{
	Use:   "retry ID",
	Short: "Queue a quarantined record for upload again",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, "QuarantineRetry", args[0])
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Quarantine().Retry(ctx, args[0]); err != nil {
			return a.Fail(err)
		}
		fmt.Printf("%s requeued %s\n", renderPass("✓"), args[0])
		syncAfter(ctx, a)
		return nil
	},
}

var quarantineRetryAllCmd = &cobra.Command{
	Use:   "retry-all",
	Short: "Queue every pending quarantined record again",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, "QuarantineRetryAll", "")
		if err != nil {
			return err
		}
		defer a.Close()

		retried, failed, err := a.Quarantine().RetryAll(ctx)
		if err != nil {
			return a.Fail(err)
		}
		fmt.Printf("%s requeued %d record(s)", renderPass("✓"), retried)
		if failed > 0 {
			fmt.Printf(", %s", renderFail(fmt.Sprintf("%d could not be requeued", failed)))
		}
		fmt.Println()
		syncAfter(ctx, a)
		return nil
	},
}

func discardReason(cmd *cobra.Command) (string, error) {
	reason, _ := cmd.Flags().GetString("reason")
	if reason != "" {
		return reason, nil
	}
	return promptReason("Why are these records being discarded?")
}

var quarantineDiscardCmd = &cobra.Command{
	Use:   "discard ID",
	Short: "Give up on a quarantined record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reason, err := discardReason(cmd)
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		a, err := newApp(ctx, "QuarantineDiscard", args[0])
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Quarantine().Discard(ctx, args[0], reason); err != nil {
			return a.Fail(err)
		}
		fmt.Printf("Discarded %s\n", args[0])
		return nil
	},
}

var quarantineDiscardAllCmd = &cobra.Command{
	Use:   "discard-all TYPE",
	Short: "Give up on every pending record of one type",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := model.ParseRecordType(args[0])
		if err != nil {
			return err
		}
		yes, _ := cmd.Flags().GetBool("yes")
		if !yes {
			ok, err := promptConfirm(fmt.Sprintf("Discard every quarantined %s?", t))
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
		}
		reason, err := discardReason(cmd)
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		a, err := newApp(ctx, "QuarantineDiscardAll", args[0])
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.Quarantine().DiscardAllOfType(ctx, t, reason)
		if err != nil {
			return a.Fail(err)
		}
		fmt.Printf("Discarded %d record(s)\n", n)
		return nil
	},
}

func addLocationFlags(cmd *cobra.Command) {
	cmd.Flags().Float64("lat", 0, "Latitude of the clock location")
	cmd.Flags().Float64("lon", 0, "Longitude of the clock location")
	cmd.Flags().Float64("accuracy", 0, "Accuracy of the clock location in meters")
	cmd.MarkFlagRequired("lat")
	cmd.MarkFlagRequired("lon")
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configInitCmd.Flags().String("employee", "", "Employee ID (prompted when omitted)")
	configInitCmd.Flags().Bool("encrypt", false, "Generate an age key pair and encrypt uploads")
	configCmd.AddCommand(configListCmd)

	// shift subcommands
	shiftCmd.AddCommand(shiftInCmd)
	addLocationFlags(shiftInCmd)
	shiftCmd.AddCommand(shiftOutCmd)
	addLocationFlags(shiftOutCmd)
	shiftCmd.AddCommand(shiftStatusCmd)

	// permission subcommands
	permissionCmd.AddCommand(permissionGrantCmd)
	permissionCmd.AddCommand(permissionStatusCmd)

	// watchdog subcommands
	watchdogCmd.Flags().String("source", "manual", "Name of the trigger that fired")
	watchdogCmd.AddCommand(watchdogScheduleCmd)

	// quarantine subcommands
	quarantineCmd.AddCommand(quarantineListCmd)
	quarantineCmd.AddCommand(quarantineRetryCmd)
	quarantineCmd.AddCommand(quarantineRetryAllCmd)
	quarantineCmd.AddCommand(quarantineDiscardCmd)
	quarantineDiscardCmd.Flags().String("reason", "", "Why the record is discarded (prompted when omitted)")
	quarantineCmd.AddCommand(quarantineDiscardAllCmd)
	quarantineDiscardAllCmd.Flags().String("reason", "", "Why the records are discarded (prompted when omitted)")
	quarantineDiscardAllCmd.Flags().BoolP("yes", "y", false, "Skip the confirmation prompt")

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(shiftCmd)
	rootCmd.AddCommand(permissionCmd)
	rootCmd.AddCommand(agentCmd)
	rootCmd.AddCommand(watchdogCmd)
	rootCmd.AddCommand(syncCmd)
	syncCmd.Flags().Bool("resume-auth", false, "Clear an authorization halt before syncing")
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(pointsCmd)
	pointsCmd.Flags().String("since", "1 hour ago", "Earliest capture time (RFC 3339, duration or natural language)")
	pointsCmd.Flags().IntP("limit", "n", 100, "Maximum number of points to show")
	rootCmd.AddCommand(quarantineCmd)
}
