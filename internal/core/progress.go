// Copyright (c) 2026 dbcopier Team
// dbcopier - PostgreSQL table copier with SSH tunnels and masking
// This source code is licensed under the MIT license found in the LICENSE file.

package core

import (
	"sync"

	"github.com/toeirei/dbcopier/internal/model"
)

// tableProgress folds out-of-order table completions into a task's
// progress. The reported index is the lowest table that has not finished,
// so current never claims a table that is still running.
type tableProgress struct {
	mu     sync.Mutex
	tables []model.TableConfig
	done   []bool
	next   int
}

func newTableProgress(tables []model.TableConfig) *tableProgress {
	return &tableProgress{tables: tables, done: make([]bool, len(tables))}
}

// update marks table i finished when finished is set, then calls apply
// with the first unfinished index and its table name. apply runs under
// the lock so successive reports reach the tracker in order.
func (p *tableProgress) update(i int, finished bool, apply func(current int, table string)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if finished && i >= 0 && i < len(p.done) {
		p.done[i] = true
		for p.next < len(p.done) && p.done[p.next] {
			p.next++
		}
	}
	name := ""
	switch {
	case p.next < len(p.tables):
		name = p.tables[p.next].Name
	case len(p.tables) > 0:
		name = p.tables[len(p.tables)-1].Name
	}
	apply(p.next, name)
}

// fail reports table i as the failed one. Every table before the first
// unfinished index is done, so i is never behind the reported prefix.
func (p *tableProgress) fail(i int, apply func(current int, table string)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	apply(max(i, p.next), p.tables[i].Name)
}
