package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	"github.com/hope140/strmsync/pkg/config"
	"github.com/hope140/strmsync/pkg/engine"
	"github.com/hope140/strmsync/pkg/metrics"
	"github.com/hope140/strmsync/pkg/plog"
	"github.com/hope140/strmsync/pkg/statestore"
)

// appName is the canonical name of the application used for logging.
const appName = "strmsync"

// version holds the application's version string.
// It's a `var` so it can be set at compile time using ldflags.
// Example: go build -ldflags="-X main.version=1.0.0"
var version = "dev"

// action defines a special command to execute instead of a reconciliation.
type action int

const (
	actionRunSync action = iota // The default action is to run a reconciliation.
	actionShowVersion
	actionInitConfig
)

// init is called before main. We use it to set up a custom, more descriptive
// help message for the command-line flags.
func init() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage of %s (version %s):\n", appName, version)
		fmt.Fprintf(flag.CommandLine.Output(), "Mirrors media library trees and projects .strm pointer files for a WebDAV backend.\n\n")
		flag.PrintDefaults()
	}
}

type cliFlags struct {
	configPath string
	logLevel   string
	dryRun     bool
	yes        bool

	logLevelSet bool
}

// parseFlags defines and parses command-line flags and decides which action
// to take. Flags override the config file only when explicitly set.
func parseFlags() (action, cliFlags) {
	configFlag := flag.String("config", config.ConfigFileName, "Path to the configuration file.")
	logLevelFlag := flag.String("log-level", "", "Set the logging level: 'debug', 'notice', 'info', 'warn', 'error'. Overrides the config file.")
	dryRunFlag := flag.Bool("dry-run", false, "Show what would be done without making any changes.")
	yesFlag := flag.Bool("yes", false, "Exit without waiting for an interactive acknowledgment.")
	initFlag := flag.Bool("init", false, "Generate a default config file at the -config path and exit.")
	versionFlag := flag.Bool("version", false, "Print the application version and exit.")
	flag.Parse()

	flags := cliFlags{
		configPath: *configFlag,
		logLevel:   *logLevelFlag,
		dryRun:     *dryRunFlag,
		yes:        *yesFlag,
	}
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "log-level" {
			flags.logLevelSet = true
		}
	})

	if *versionFlag {
		return actionShowVersion, flags
	}
	if *initFlag {
		return actionInitConfig, flags
	}
	return actionRunSync, flags
}

// runInit writes a default configuration file for the user to edit.
func runInit(flags cliFlags) error {
	if _, err := os.Stat(flags.configPath); err == nil {
		return fmt.Errorf("refusing to overwrite existing config file %s", flags.configPath)
	}
	if err := config.Generate(config.NewDefault(), flags.configPath); err != nil {
		return err
	}
	plog.Info("Edit the generated file and fill in folder_pairs before running a sync.", "path", flags.configPath)
	return nil
}

// runSync loads and validates the configuration, then executes one full
// reconciliation run.
func runSync(ctx context.Context, flags cliFlags) error {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return err
	}
	if flags.logLevelSet {
		cfg.LogLevel = flags.logLevel
	}
	if level, ok := plog.ParseLevel(cfg.LogLevel); ok {
		plog.SetLevel(level)
	} else if cfg.LogLevel != "" {
		plog.Warn("Unknown log level, keeping default", "value", cfg.LogLevel)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	statePath := cfg.StateFile
	if statePath == "" {
		statePath = filepath.Join(filepath.Dir(flags.configPath), statestore.DefaultFileName)
	}

	fs := afero.NewOsFs()
	runMetrics := &metrics.RunMetrics{}
	driver := engine.New(cfg, fs, statestore.New(fs, statePath), runMetrics)
	driver.DryRun = flags.dryRun
	driver.Preflight = true

	startTime := time.Now()
	err = driver.Run(ctx)
	duration := time.Since(startTime).Round(time.Millisecond)
	if err != nil {
		return err
	}
	plog.Info(appName+" finished successfully.", "duration", duration)
	return nil
}

// run encapsulates the main application logic and returns an error if something
// goes wrong, allowing the main function to handle exit codes.
func run(ctx context.Context) (waitForAck bool, err error) {
	act, flags := parseFlags()

	switch act {
	case actionShowVersion:
		fmt.Printf("%s version %s\n", appName, version)
		return false, nil
	case actionInitConfig:
		return false, runInit(flags)
	case actionRunSync:
		plog.Info("Starting "+appName, "version", version, "pid", os.Getpid())
		return !flags.yes, runSync(ctx, flags)
	default:
		return false, fmt.Errorf("internal error: unknown action %d", act)
	}
}

func main() {
	// Set up a context that is canceled when an interrupt signal is received.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Listen for interrupt signals (like Ctrl+C) in a separate goroutine.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	go func() {
		<-sigChan
		plog.Warn("Interrupt received, shutting down.")
		cancel()
	}()

	waitForAck, err := run(ctx)
	if err != nil {
		plog.Error("Run failed", "error", err)
	}

	if waitForAck {
		fmt.Print("Press Enter to exit...")
		_, _ = bufio.NewReader(os.Stdin).ReadString('\n')
	}
	if err != nil {
		os.Exit(1)
	}
}
