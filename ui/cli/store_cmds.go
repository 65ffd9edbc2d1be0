// Copyright (c) 2026 dbcopier Team
// dbcopier - PostgreSQL table copier with SSH tunnels and masking
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/toeirei/dbcopier/internal/core"
)

func newStoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "store",
		Short: "Maintain, back up and migrate the job/task store",
	}
	cmd.AddCommand(newMaintainCmd(), newBackupCmd(), newRestoreCmd(), newMigrateCmd())
	return cmd
}

func newMaintainCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "maintain",
		Short: "Vacuum and optimize the store database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := appStore.Maintain(cmd.Context()); err != nil {
				return fmt.Errorf("maintenance failed: %w", err)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s store maintenance complete\n", appConfig.Store.Type)
			return nil
		},
	}
}

func newBackupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backup [file]",
		Short: "Write all jobs and tasks to a zstd-compressed JSON file",
		Long:  `Writes to dbcopier-backup-<timestamp>.json.zst when no file is given, or to stdout when the file is "-".`,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := core.Backup(cmd.Context(), appStore)
			if err != nil {
				return fmt.Errorf("backup failed: %w", err)
			}

			path := fmt.Sprintf("dbcopier-backup-%s.json.zst", time.Now().Format("2006-01-02-150405"))
			if len(args) == 1 {
				path = args[0]
			}
			if path == "-" {
				return core.WriteBackup(data, cmd.OutOrStdout())
			}

			f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
			if err != nil {
				return fmt.Errorf("create backup file: %w", err)
			}
			if err := core.WriteBackup(data, f); err != nil {
				_ = f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "backed up %d jobs and %d tasks to %s\n", len(data.Configs), len(data.Tasks), path)
			return nil
		},
	}
}

func newRestoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore <file>",
		Short: "Load jobs and tasks from a backup file; \"-\" reads stdin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var r io.Reader = cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("open backup file: %w", err)
				}
				defer func() { _ = f.Close() }()
				r = f
			}
			data, err := core.ReadBackup(r)
			if err != nil {
				return err
			}
			if err := core.Restore(cmd.Context(), appStore, data); err != nil {
				return fmt.Errorf("restore failed: %w", err)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "restored %d jobs and %d tasks\n", len(data.Configs), len(data.Tasks))
			return nil
		},
	}
}

func newMigrateCmd() *cobra.Command {
	var targetType, targetDsn string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Copy the whole store into another store backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if targetType == "" || targetDsn == "" {
				return fmt.Errorf("--type and --dsn are required")
			}
			dst, err := openStore(targetType, targetDsn)
			if err != nil {
				return fmt.Errorf("could not open target store (%s): %w", targetType, err)
			}
			defer func() { _ = dst.Close() }()
			if err := core.Migrate(cmd.Context(), appStore, dst); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "migrated %s store to %s\n", appConfig.Store.Type, targetType)
			return nil
		},
	}
	cmd.Flags().StringVar(&targetType, "type", "", "Target store type (sqlite, postgres, mysql)")
	cmd.Flags().StringVar(&targetDsn, "dsn", "", "Target store DSN")
	return cmd
}
