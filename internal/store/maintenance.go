// Copyright (c) 2026 dbcopier Team
// dbcopier - PostgreSQL table copier with SSH tunnels and masking
// This source code is licensed under the MIT license found in the LICENSE file.

package store

import (
	"context"
	"fmt"
	"time"
)

// maintenanceTimeout bounds a single Maintain call.
const maintenanceTimeout = 2 * time.Minute

// Maintain runs engine-specific housekeeping on the store: PRAGMA optimize,
// VACUUM and an integrity check on SQLite, VACUUM ANALYZE on PostgreSQL and
// OPTIMIZE TABLE on MySQL.
func (s *BunStore) Maintain(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, maintenanceTimeout)
	defer cancel()

	switch s.dbType {
	case TypeSQLite:
		// optimize is not available everywhere (in-memory databases).
		if _, err := ExecRaw(ctx, s.bun, "PRAGMA optimize"); err != nil {
			dbLogf("store: sqlite optimize failed (ignored): %v", err)
		}
		if _, err := ExecRaw(ctx, s.bun, "VACUUM"); err != nil {
			return fmt.Errorf("sqlite vacuum failed: %w", err)
		}
		_, _ = ExecRaw(ctx, s.bun, "PRAGMA wal_checkpoint(TRUNCATE)")
		var res string
		if err := QueryRawInto(ctx, s.bun, &res, "PRAGMA integrity_check"); err != nil {
			return fmt.Errorf("sqlite integrity_check failed: %w", err)
		}
		if res != "ok" {
			return fmt.Errorf("sqlite integrity_check failed: %s", res)
		}
	case TypePostgres:
		for _, table := range []string{"configs", "tasks"} {
			if _, err := ExecRaw(ctx, s.bun, "VACUUM ANALYZE "+table); err != nil {
				return fmt.Errorf("postgres vacuum %s failed: %w", table, err)
			}
		}
	case TypeMySQL:
		var lastErr error
		for _, table := range []string{"configs", "tasks"} {
			if _, err := ExecRaw(ctx, s.bun, "OPTIMIZE TABLE "+table); err != nil {
				dbLogf("store: mysql optimize table %s failed: %v", table, err)
				lastErr = err
			}
		}
		if lastErr != nil {
			return fmt.Errorf("mysql optimize encountered errors: %w", lastErr)
		}
	default:
		return fmt.Errorf("unsupported store type for maintenance: %s", s.dbType)
	}
	return nil
}
