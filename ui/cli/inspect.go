// Copyright (c) 2026 dbcopier Team
// dbcopier - PostgreSQL table copier with SSH tunnels and masking
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/toeirei/dbcopier/internal/model"
)

// endpointSource picks one side of a job for the inspection commands.
type endpointSource struct {
	jobSource
	job  string
	side string
}

func (e *endpointSource) register(cmd *cobra.Command) {
	e.jobSource.register(cmd)
	cmd.Flags().StringVarP(&e.job, "job", "j", "", "Saved job whose endpoint is inspected")
	cmd.Flags().StringVar(&e.side, "side", "source", "Which endpoint of the job: source or target")
}

func (e *endpointSource) endpoint(cmd *cobra.Command) (model.DatabaseConfig, error) {
	var args []string
	if e.job != "" {
		args = []string{e.job}
	}
	job, err := e.load(cmd, args)
	if err != nil {
		return model.DatabaseConfig{}, err
	}
	var ep model.DatabaseConfig
	switch strings.ToLower(e.side) {
	case "source", "src":
		ep = job.SourceDB
	case "target", "dst":
		ep = job.TargetDB
	default:
		return ep, fmt.Errorf("--side must be source or target, got %q", e.side)
	}
	return endpointWithSecrets(ep, e.prompt)
}

func newTablesCmd() *cobra.Command {
	var src endpointSource
	cmd := &cobra.Command{
		Use:   "tables",
		Short: "List the tables of a job endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ep, err := src.endpoint(cmd)
			if err != nil {
				return err
			}
			tables, err := service.ListTables(cmd.Context(), ep)
			if err != nil {
				return err
			}
			for _, t := range tables {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), t)
			}
			return nil
		},
	}
	src.register(cmd)
	return cmd
}

func newColumnsCmd() *cobra.Command {
	var src endpointSource
	cmd := &cobra.Command{
		Use:   "columns <table>",
		Short: "List the columns of a table in ordinal order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ep, err := src.endpoint(cmd)
			if err != nil {
				return err
			}
			cols, err := service.TableColumns(cmd.Context(), ep, args[0])
			if err != nil {
				return err
			}
			for _, c := range cols {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), c)
			}
			return nil
		},
	}
	src.register(cmd)
	return cmd
}

func newSchemaCmd() *cobra.Command {
	var src endpointSource
	cmd := &cobra.Command{
		Use:   "schema <table>",
		Short: "Print the inspected definition of a table as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ep, err := src.endpoint(cmd)
			if err != nil {
				return err
			}
			info, err := service.TableSchema(cmd.Context(), ep, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), info)
		},
	}
	src.register(cmd)
	return cmd
}

func newTestConnectionCmd() *cobra.Command {
	var src endpointSource
	cmd := &cobra.Command{
		Use:   "test-connection",
		Short: "Check that a job endpoint is reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ep, err := src.endpoint(cmd)
			if err != nil {
				return err
			}
			if err := service.TestConnection(cmd.Context(), ep); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "connection to %s ok\n", ep)
			return nil
		},
	}
	src.register(cmd)
	return cmd
}
