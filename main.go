// Copyright (c) 2026 dbcopier Team
// dbcopier - PostgreSQL table copier with SSH tunnels and masking
// This source code is licensed under the MIT license found in the LICENSE file.

// Command dbcopier copies PostgreSQL tables between databases.
//
// Usage:
//
//	go run . [command] [flags]
//	./dbcopier copy --file job.yaml
package main

import (
	"os"

	"github.com/toeirei/dbcopier/internal/logging"
	"github.com/toeirei/dbcopier/ui/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		logging.Errorf("dbcopier: %v", err)
		os.Exit(1)
	}
}
