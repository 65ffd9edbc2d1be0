// Copyright (c) 2026 dbcopier Team
// dbcopier - PostgreSQL table copier with SSH tunnels and masking
// This source code is licensed under the MIT license found in the LICENSE file.

package copier

import (
	"context"

	"github.com/toeirei/dbcopier/internal/model"
	"golang.org/x/sync/errgroup"
)

// Hooks observe CopyMany. Every field is optional.
type Hooks struct {
	// BeforeTable runs once a worker slot is granted and strictly before
	// the table's work starts.
	BeforeTable func(i int, job model.TableConfig)
	// AfterTable runs when a table finished without error.
	AfterTable func(i int, job model.TableConfig)
	// OnError runs as soon as a table fails, before other tables finish.
	OnError func(i int, job model.TableConfig, err error)
	// Stop is polled before each admission; returning true admits no
	// further tables. Tables already running are left to finish.
	Stop func() bool
}

func (h Hooks) stopped() bool { return h.Stop != nil && h.Stop() }

// CopyFunc copies one table job.
type CopyFunc func(ctx context.Context, i int, job model.TableConfig) error

// RunBounded runs fn for each job with at most workers in flight. Jobs may
// finish out of order. The first error is returned after every admitted job
// has finished; nothing is cancelled or rolled back.
func RunBounded(ctx context.Context, jobs []model.TableConfig, workers int, fn CopyFunc, hooks Hooks) error {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	var g errgroup.Group
	g.SetLimit(workers)
	for i, job := range jobs {
		if hooks.stopped() {
			break
		}
		g.Go(func() error {
			// Admission may have waited on a slot while another table failed.
			if hooks.stopped() {
				return nil
			}
			if hooks.BeforeTable != nil {
				hooks.BeforeTable(i, job)
			}
			if err := fn(ctx, i, job); err != nil {
				if hooks.OnError != nil {
					hooks.OnError(i, job, err)
				}
				return err
			}
			if hooks.AfterTable != nil {
				hooks.AfterTable(i, job)
			}
			return nil
		})
	}
	return g.Wait()
}

// CopyMany copies jobs with the engine's worker limit.
func (e *Engine) CopyMany(ctx context.Context, jobs []model.TableConfig, hooks Hooks) error {
	return RunBounded(ctx, jobs, e.opts.Workers, func(ctx context.Context, _ int, job model.TableConfig) error {
		return e.CopyTable(ctx, job)
	}, hooks)
}
