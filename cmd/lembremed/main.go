// Lembremed is a daemon that turns remotely stored medication schedules,
// medical appointments, vaccinations and prescriptions into local reminder
// notifications. It polls the remote store, materialises reminder records in
// a local SQLite database, and arms a wake-up timer for every live record.
//
// Usage:
//
//	lembremed daemon [--config <path>]               # start the reminder daemon
//	lembremed sync-once [--config <path>]            # single reconcile pass then exit
//	lembremed action <taken|confirm> <record-id>     # apply a notification response
//	lembremed status                                 # show config & record DB state
//	lembremed version                                # print version
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/lembremed/lembremed/internal/alarm"
	"github.com/lembremed/lembremed/internal/config"
	"github.com/lembremed/lembremed/internal/notify"
	"github.com/lembremed/lembremed/internal/remote"
	"github.com/lembremed/lembremed/internal/store"
	syncp "github.com/lembremed/lembremed/internal/sync"
	"github.com/lembremed/lembremed/internal/telemetry"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

// run dispatches to the appropriate subcommand.
func run() error {
	if len(os.Args) < 2 {
		return printUsage()
	}

	switch cmd := os.Args[1]; cmd {
	case "daemon":
		return runSync(os.Args[2:], true)
	case "sync-once":
		return runSync(os.Args[2:], false)
	case "action":
		return runAction(os.Args[2:])
	case "status":
		return runStatus()
	case "version":
		fmt.Println("lembremed", version)
		return nil
	default:
		return fmt.Errorf("unknown command %q — run 'lembremed' for usage", cmd)
	}
}

// printUsage shows help and suggests creating a config if none exists.
func printUsage() error {
	cfgPath, _ := config.DefaultPath()
	_, cfgErr := os.Stat(cfgPath)

	fmt.Fprintln(os.Stderr, "Lembremed — medication and appointment reminder daemon")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  lembremed daemon [--config ...]               Run as continuous daemon")
	fmt.Fprintln(os.Stderr, "  lembremed sync-once [--config ...]            Single reconcile pass then exit")
	fmt.Fprintln(os.Stderr, "  lembremed action <taken|confirm> <record-id>  Apply a notification response")
	fmt.Fprintln(os.Stderr, "  lembremed status                              Show config & record DB state")
	fmt.Fprintln(os.Stderr, "  lembremed version                             Print version")
	fmt.Fprintln(os.Stderr, "")

	if cfgErr != nil {
		fmt.Fprintf(os.Stderr, "No config file found. Create one at %s to get started.\n", cfgPath)
	}

	os.Exit(1)
	return nil // unreachable
}

// runSync handles both "daemon" and "sync-once" subcommands.
func runSync(args []string, daemon bool) error {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	defaultCfg, _ := config.DefaultPath()
	cfgPath := fs.String("config", defaultCfg, "path to config.yaml")
	verbose := fs.Bool("verbose", false, "enable debug logging")
	if err := fs.Parse(args); err != nil {
		return err
	}

	return start(*cfgPath, *verbose, daemon)
}

// runAction applies a user's response to a delivered notification: "taken"
// for a dose, "confirm" for attendance or prescription renewal. Notification
// surfaces that cannot call back into the daemon process invoke this
// subcommand; the daemon's re-arm passes pick up the advanced record.
func runAction(args []string) error {
	fs := flag.NewFlagSet("action", flag.ExitOnError)
	defaultCfg, _ := config.DefaultPath()
	cfgPath := fs.String("config", defaultCfg, "path to config.yaml")
	verbose := fs.Bool("verbose", false, "enable debug logging")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return fmt.Errorf("usage: lembremed action <taken|confirm> <record-id>")
	}
	actionID := fs.Arg(0)
	recordID, err := strconv.ParseInt(fs.Arg(1), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid record id %q: %w", fs.Arg(1), err)
	}

	logLevel := slog.LevelWarn
	if *verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return fmt.Errorf("loading config from %q: %w", *cfgPath, err)
	}

	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath, err = store.DefaultDBPath()
		if err != nil {
			return fmt.Errorf("resolving record DB path: %w", err)
		}
	}
	records, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("opening record DB at %q: %w", dbPath, err)
	}
	defer records.Close()

	client, err := remote.NewClient(cfg.RemoteURL, cfg.RemoteToken, logger)
	if err != nil {
		return fmt.Errorf("initialising remote client: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	facility := alarm.NewTimerFacility(logger)
	defer facility.Stop()
	sched := alarm.NewScheduler(facility, records, logger)
	actions := notify.NewActions(records, client, sched, logger)

	return actions.Handle(ctx, actionID, recordID)
}

// runStatus prints the current configuration and record database state.
func runStatus() error {
	cfgPath, _ := config.DefaultPath()
	dbPath, _ := store.DefaultDBPath()

	fmt.Println("Lembremed Status")
	fmt.Println("────────────────")

	if _, err := os.Stat(cfgPath); err == nil {
		if cfg, loadErr := config.Load(cfgPath); loadErr == nil {
			fmt.Printf("  Config:     %s ✓\n", cfgPath)
			fmt.Printf("  Remote:     %s\n", cfg.RemoteURL)
			fmt.Printf("  Owner:      %s\n", cfg.OwnerID)
			fmt.Printf("  Poll:       %s\n", cfg.PollInterval)
			if cfg.DBPath != "" {
				dbPath = cfg.DBPath
			}
		} else {
			fmt.Printf("  Config:     %s (invalid: %v)\n", cfgPath, loadErr)
		}
	} else {
		fmt.Printf("  Config:     not found (%s)\n", cfgPath)
	}

	if info, err := os.Stat(dbPath); err == nil {
		fmt.Printf("  Record DB:  %s (%s)\n", dbPath, humanSize(info.Size()))
	} else {
		fmt.Printf("  Record DB:  not found\n")
	}

	return nil
}

// start is the shared implementation for daemon and sync-once modes.
func start(cfgPath string, verbose, daemon bool) error {
	// --- Logger --------------------------------------------------------------

	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	// --- Config --------------------------------------------------------------

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config from %q: %w", cfgPath, err)
	}
	logger.Info("config loaded",
		"remote_url", cfg.RemoteURL,
		"owner", cfg.OwnerID,
		"poll_interval", cfg.PollInterval,
	)

	// --- Telemetry (optional) ------------------------------------------------

	if cfg.Telemetry != nil {
		telCfg := telemetry.Config{
			OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
			Insecure:     cfg.Telemetry.Insecure,
			ServiceName:  cfg.Telemetry.ServiceName,
			Headers:      cfg.Telemetry.Headers,
		}
		shutdownTel, err := telemetry.Setup(context.Background(), telCfg)
		if err != nil {
			logger.Error("telemetry setup failed, continuing without telemetry", "error", err)
		} else {
			logger.Info("telemetry enabled", "endpoint", cfg.Telemetry.OTLPEndpoint)
			defer func() {
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdownTel(flushCtx); err != nil {
					logger.Error("telemetry shutdown error", "error", err)
				}
			}()
		}
	}

	// --- Record DB -----------------------------------------------------------

	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath, err = store.DefaultDBPath()
		if err != nil {
			return fmt.Errorf("resolving record DB path: %w", err)
		}
	}
	records, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("opening record DB at %q: %w", dbPath, err)
	}
	defer func() {
		if closeErr := records.Close(); closeErr != nil {
			logger.Error("closing record DB", "error", closeErr)
		}
	}()
	logger.Info("record DB opened", "path", dbPath)

	if empty, err := records.IsEmpty(context.Background()); err == nil && empty {
		logger.Info("no reminder records yet, first reconcile pass will populate them")
	}

	// --- Remote client & connectivity check ----------------------------------

	client, err := remote.NewClient(cfg.RemoteURL, cfg.RemoteToken, logger)
	if err != nil {
		return fmt.Errorf("initialising remote client: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	logger.Info("pinging remote store…", "url", cfg.RemoteURL)
	if err := client.Ping(ctx); err != nil {
		return fmt.Errorf("connecting to remote store at %q: %w\n\nCheck remote_url and remote_token in your config file", cfg.RemoteURL, err)
	}
	logger.Info("remote store reachable")

	// --- Alarms & notification pipeline --------------------------------------

	facility := alarm.NewTimerFacility(logger)
	defer facility.Stop()

	sched := alarm.NewScheduler(facility, records, logger)
	notifier := &notify.LogNotifier{Log: logger}
	dispatcher := notify.NewDispatcher(records, client, sched, notifier, logger)
	facility.Bind(dispatcher.HandleWakeup)

	// --- Sync engine ---------------------------------------------------------

	reconciler := syncp.NewReconciler(client, records, sched, syncp.Options{
		ReminderHour:      cfg.Hour(),
		ConfirmAfterHours: cfg.ConfirmAfter(),
	}, logger)
	engine := syncp.NewEngine(reconciler, records, sched, cfg.OwnerID, cfg.PollInterval, logger)

	// --- Dispatch mode -------------------------------------------------------

	if !daemon {
		logger.Info("running single reconcile pass")
		stats, err := engine.RunOnce(ctx)
		logger.Info("reconcile complete",
			"created", stats.Created,
			"removed", stats.Removed,
			"skipped", stats.Skipped,
			"errors", stats.Errors,
		)
		return err
	}

	logger.Info("daemon starting", "poll_interval", cfg.PollInterval)
	if err := engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("sync engine: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}

// humanSize returns a human-readable file size string.
func humanSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
