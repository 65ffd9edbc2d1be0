// Copyright (c) 2026 dbcopier Team
// dbcopier - PostgreSQL table copier with SSH tunnels and masking
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/toeirei/dbcopier/internal/model"
	"gopkg.in/yaml.v3"
)

const redacted = "********"

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "config",
		Aliases: []string{"job", "jobs"},
		Short:   "Manage saved copy jobs",
	}
	cmd.AddCommand(
		newConfigListCmd(),
		newConfigShowCmd(),
		newConfigDeleteCmd(),
		newConfigImportCmd(),
		newConfigExportCmd(),
		newConfigSummaryCmd(),
		newConfigMergeCmd(),
	)
	return cmd
}

func newConfigListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List saved jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			entries, err := service.ListConfigs(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "NAME\tCREATED\tUPDATED")
			for _, e := range entries {
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", e.Name, e.CreatedAt.Local().Format(time.DateTime), e.UpdatedAt.Local().Format(time.DateTime))
			}
			return w.Flush()
		},
	}
}

func newConfigShowCmd() *cobra.Command {
	var reveal bool
	cmd := &cobra.Command{
		Use:   "show <name>",
		Short: "Print a saved job as YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := service.LoadConfig(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !reveal {
				job = redactSecrets(job)
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(job); err != nil {
				return err
			}
			return enc.Close()
		},
	}
	cmd.Flags().BoolVar(&reveal, "reveal", false, "Print passwords and passphrases in clear text")
	return cmd
}

func newConfigDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a saved job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := service.DeleteConfig(cmd.Context(), args[0]); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	}
}

func newConfigImportCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Save a job file (YAML or JSON, optionally .zst) in the store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := service.ImportConfig(cmd.Context(), args[0], name)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "imported %s (%d tables)\n", job.Name, len(job.Tables))
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Save under this name instead of the one in the file")
	return cmd
}

func newConfigExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export <name> <file>",
		Short: "Write a saved job to a file; .json selects JSON, .zst compresses",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := service.ExportConfig(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "exported %s to %s\n", args[0], args[1])
			return nil
		},
	}
}

func newConfigSummaryCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "summary [name]",
		Short: "Summarize a saved job or job file without secrets",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src := jobSource{file: file}
			job, err := src.load(cmd, args)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), service.ConfigSummary(job))
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Summarize a job file instead of a saved job")
	return cmd
}

func newConfigMergeCmd() *cobra.Command {
	var (
		prompt bool
		dryRun bool
	)
	cmd := &cobra.Command{
		Use:   "merge <name>",
		Short: "Reconcile a saved job's tables and columns with the live source",
		Long: `Compares the saved table list with the source database. Tables and columns
that appeared are added (new tables start ignored) and marked "added"; ones
that disappeared are kept and marked "removed". The result is saved unless
--dry-run is given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			job, err := service.LoadConfig(ctx, args[0])
			if err != nil {
				return err
			}
			ep, err := endpointWithSecrets(job.SourceDB, prompt)
			if err != nil {
				return err
			}
			merged, err := service.MergeTableConfig(ctx, ep, job.Tables)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, t := range merged {
				if t.Status != nil {
					_, _ = fmt.Fprintf(out, "table %s: %s\n", t.Name, *t.Status)
				}
				for _, c := range t.Columns {
					if c.Status != nil && t.Status == nil {
						_, _ = fmt.Fprintf(out, "column %s.%s: %s\n", t.Name, c.Name, *c.Status)
					}
				}
			}
			if dryRun {
				return nil
			}
			job.Tables = merged
			if err := service.SaveConfig(ctx, job); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(out, "saved %s (%d tables)\n", job.Name, len(merged))
			return nil
		},
	}
	cmd.Flags().BoolVar(&prompt, "prompt", true, "Ask for empty passwords and passphrases on the terminal")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the changes without saving")
	return cmd
}

// redactSecrets returns a copy of job with every non-empty secret replaced.
func redactSecrets(job model.Config) model.Config {
	job.SourceDB = redactEndpoint(job.SourceDB)
	job.TargetDB = redactEndpoint(job.TargetDB)
	return job
}

func redactEndpoint(ep model.DatabaseConfig) model.DatabaseConfig {
	if ep.Password != "" {
		ep.Password = redacted
	}
	if ep.SSHConfig != nil {
		ssh := *ep.SSHConfig
		if ssh.Password != "" {
			ssh.Password = redacted
		}
		if ssh.Passphrase != "" {
			ssh.Passphrase = redacted
		}
		ep.SSHConfig = &ssh
	}
	return ep
}
