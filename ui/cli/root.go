// Copyright (c) 2026 dbcopier Team
// dbcopier - PostgreSQL table copier with SSH tunnels and masking
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"

	"github.com/spf13/cobra"
	"github.com/toeirei/dbcopier/buildvars"
	"github.com/toeirei/dbcopier/internal/config"
	"github.com/toeirei/dbcopier/internal/copier"
	"github.com/toeirei/dbcopier/internal/core"
	"github.com/toeirei/dbcopier/internal/dbconn"
	"github.com/toeirei/dbcopier/internal/logging"
	"github.com/toeirei/dbcopier/internal/state"
	"github.com/toeirei/dbcopier/internal/store"
)

// Build metadata, set with -ldflags -X at release time.
var (
	version   = buildvars.VersionOrDefault("dev")
	gitCommit = "dev"
	buildDate = ""
)

var (
	cfgFile string
	verbose bool

	appConfig config.Config
	appStore  store.Store
	service   *core.Service

	// openStore allows tests to swap the store backend.
	openStore = store.Open
)

// setupDefaultServices loads the configuration, opens the store and builds
// the service used by every subcommand.
func setupDefaultServices(cmd *cobra.Command, _ []string) error {
	optionalConfigPath, err := getConfigPathFromCli(cmd)
	if err != nil {
		return err
	}

	appConfig, err = config.LoadConfig[config.Config](cmd, config.Defaults(), optionalConfigPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	logging.SetLevel(appConfig.Log.Level)
	if verbose {
		logging.SetDebug(true)
		dbconn.SetDebug(true)
		store.SetDebug(true)
	}

	// Hooks do not run after a failed command; drop anything left over.
	_ = teardownServices(cmd, nil)
	st, err := openStore(appConfig.Store.Type, appConfig.Store.Dsn)
	if err != nil {
		return fmt.Errorf("could not open store (%s): %w", appConfig.Store.Type, err)
	}
	appStore = st
	service = core.NewService(appStore, core.Settings{
		Copy: copier.Options{
			Workers:    appConfig.Copy.Workers,
			BatchRows:  appConfig.Copy.BatchRows,
			BatchBytes: appConfig.Copy.BatchBytes,
		},
		Attempts:        appConfig.Copy.Attempts,
		MonitorInterval: appConfig.Monitor.Interval,
		ThresholdMB:     appConfig.Monitor.ThresholdMB,
	})
	return nil
}

// teardownServices waits for running tasks and closes the store.
func teardownServices(*cobra.Command, []string) error {
	state.Secrets.Clear()
	if service != nil {
		_ = service.Close()
		service = nil
	}
	if appStore != nil {
		err := appStore.Close()
		appStore = nil
		return err
	}
	return nil
}

// Execute runs the CLI entrypoint. An interrupt cancels the command context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	err := NewRootCmd().ExecuteContext(ctx)
	if cerr := teardownServices(nil, nil); err == nil {
		err = cerr
	}
	return err
}

func getConfigPathFromCli(cmd *cobra.Command) (*string, error) {
	if !cmd.Flags().Changed("config") {
		return nil, nil
	}
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, fmt.Errorf("could not read --config flag: %w", err)
	}
	if path == "" {
		return nil, nil
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file specified via --config flag not found or is not accessible: %w", err)
	}
	return &path, nil
}

// NewRootCmd creates the root command with all subcommands. Every call
// returns a fresh tree so tests can run commands in isolation.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dbcopier",
		Short: "Copy PostgreSQL tables between databases, optionally over SSH and with masking.",
		Long: `dbcopier recreates tables from a source PostgreSQL database in a target
database and copies their rows in batches. Either side can be reached through
an SSH tunnel, and individual columns can be masked on the way.

Copy jobs are saved by name in a local store (SQLite by default) or read from
YAML/JSON job files.`,
		SilenceUsage:       true,
		PersistentPreRunE:  setupDefaultServices,
		PersistentPostRunE: teardownServices,
	}
	cmd.Version = compositeVersion()

	pf := cmd.PersistentFlags()
	pf.BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	pf.StringVar(&cfgFile, "config", "", "config file")
	pf.String("store.type", "sqlite", "Store type (sqlite, postgres, mysql)")
	pf.String("store.dsn", "./dbcopier.db", "Store connection string (DSN)")
	pf.Int("copy.workers", copier.DefaultWorkers, "Tables copied concurrently")
	pf.Int("copy.batch_rows", copier.DefaultBatchRows, "Rows per INSERT batch")
	pf.String("log.level", "info", "Log level (debug, info, warn, error)")

	versionCmd := &cobra.Command{
		Use:                "version",
		Short:              "Print version",
		PersistentPreRunE:  func(*cobra.Command, []string) error { return nil },
		PersistentPostRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, _ []string) {
			v, c, d := resolveBuildVersion(nil)
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "version: %s\n", v)
			_, _ = fmt.Fprintf(out, "commit: %s\n", c)
			if d != "" {
				_, _ = fmt.Fprintf(out, "built: %s\n", d)
			}
		},
	}

	cmd.AddCommand(
		newCopyCmd(),
		newStatusCmd(),
		newTasksCmd(),
		newTablesCmd(),
		newColumnsCmd(),
		newSchemaCmd(),
		newTestConnectionCmd(),
		newConfigCmd(),
		newStoreCmd(),
		versionCmd,
	)
	return cmd
}

func compositeVersion() string {
	v, c, d := resolveBuildVersion(nil)
	out := v
	if c != "" && c != "dev" {
		out += " (" + c + ")"
	}
	if d != "" {
		out += " built: " + d
	}
	return out
}

// resolveBuildVersion computes the best-available version, commit and build
// date for the running binary. If info is nil, it reads build info from the
// runtime.
func resolveBuildVersion(info *debug.BuildInfo) (versionOut, commitOut, dateOut string) {
	resolvedVersion := version
	resolvedCommit := gitCommit
	resolvedDate := buildDate

	if info == nil {
		if local, found := debug.ReadBuildInfo(); found {
			info = local
		}
	}

	if info != nil {
		if info.Main.Version != "" && info.Main.Version != "(devel)" {
			resolvedVersion = info.Main.Version
		}
		// Some build paths only record our module as a dependency.
		if resolvedVersion == "dev" || resolvedVersion == "(devel)" {
			for _, dep := range info.Deps {
				if dep.Path == "github.com/toeirei/dbcopier" && dep.Version != "" {
					resolvedVersion = dep.Version
					break
				}
			}
		}
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				if s.Value != "" {
					resolvedCommit = s.Value
				}
			case "vcs.time":
				if s.Value != "" {
					resolvedDate = s.Value
				}
			}
		}
	}

	if resolvedVersion == "dev" && gitCommit != "dev" && gitCommit != "" {
		resolvedVersion = gitCommit
	}
	return resolvedVersion, resolvedCommit, resolvedDate
}
