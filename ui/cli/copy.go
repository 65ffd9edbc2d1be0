// Copyright (c) 2026 dbcopier Team
// dbcopier - PostgreSQL table copier with SSH tunnels and masking
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/toeirei/dbcopier/internal/core"
	"github.com/toeirei/dbcopier/internal/model"
)

// jobSource is the pair of flags every job-driven command shares.
type jobSource struct {
	file   string
	prompt bool
}

func (j *jobSource) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&j.file, "file", "f", "", "Read the job from a YAML/JSON file (.zst compressed allowed) instead of the store")
	cmd.Flags().BoolVar(&j.prompt, "prompt", true, "Ask for empty passwords and passphrases on the terminal")
}

// load resolves the job named by args[0] or by --file.
func (j *jobSource) load(cmd *cobra.Command, args []string) (model.Config, error) {
	var (
		job model.Config
		err error
	)
	switch {
	case j.file != "" && len(args) > 0:
		return job, fmt.Errorf("pass either a job name or --file, not both")
	case j.file != "":
		job, err = core.ReadJobFile(j.file)
	case len(args) > 0:
		job, err = service.LoadConfig(cmd.Context(), args[0])
	default:
		return job, fmt.Errorf("a job name or --file is required")
	}
	return job, err
}

func newCopyCmd() *cobra.Command {
	var src jobSource
	cmd := &cobra.Command{
		Use:   "copy [job-name]",
		Short: "Run a copy job",
		Long: `Runs a saved job (by name) or a job file. Tables whose ignore flag is set
are skipped. Progress is printed as each table starts; the command exits
non-zero when the task fails.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := src.load(cmd, args)
			if err != nil {
				return err
			}
			if src.prompt {
				if err := fillSecrets(&job); err != nil {
					return err
				}
			}

			id, err := service.Start(cmd.Context(), job)
			if err != nil {
				return fmt.Errorf("could not start copy: %w", err)
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "task %s started\n", id)

			final, err := service.Wait(cmd.Context(), id, func(ts model.TaskStatus) {
				if ts.Progress != nil && ts.Progress.TableName != "" && !ts.Status.Terminal() {
					_, _ = fmt.Fprintf(out, "[%d/%d] %s\n", ts.Progress.Current+1, ts.Progress.Total, ts.Progress.TableName)
				}
			})
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(out, describeTask(final))
			if final.Status == model.TaskFailed {
				return fmt.Errorf("task %s failed", id)
			}
			return nil
		},
	}
	src.register(cmd)
	return cmd
}

func newStatusCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status <task-id>",
		Short: "Show the status of a copy task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ts, err := service.Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), ts)
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), describeTask(ts))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the raw task record")
	return cmd
}

func newTasksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tasks",
		Short: "List copy tasks, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tasks, err := service.Tasks(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(tasks) == 0 {
				_, _ = fmt.Fprintln(out, "no tasks")
				return nil
			}
			for _, ts := range tasks {
				_, _ = fmt.Fprintln(out, describeTask(ts))
			}
			return nil
		},
	}
}

// describeTask renders one line: id, state, progress, message, duration.
func describeTask(ts model.TaskStatus) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s  %-9s", ts.ID, ts.Status)
	if p := ts.Progress; p != nil {
		fmt.Fprintf(&b, "  %d/%d", p.Current, p.Total)
		if p.TableName != "" && !ts.Status.Terminal() {
			fmt.Fprintf(&b, " (%s)", p.TableName)
		}
	}
	if ts.StartTime != nil && ts.EndTime != nil {
		fmt.Fprintf(&b, "  %s", ts.EndTime.Sub(*ts.StartTime).Round(time.Millisecond))
	}
	if ts.Message != nil {
		fmt.Fprintf(&b, "  %s", *ts.Message)
	}
	return b.String()
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
