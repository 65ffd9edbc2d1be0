// Copyright (c) 2026 dbcopier Team
// dbcopier - PostgreSQL table copier with SSH tunnels and masking
// This source code is licensed under the MIT license found in the LICENSE file.

// Package task tracks the lifecycle of copy tasks. Live tasks are kept in
// memory; every accepted update is also written to a durable store so that
// finished tasks stay visible across restarts.
package task // import "github.com/toeirei/dbcopier/internal/task"

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/toeirei/dbcopier/internal/errs"
	"github.com/toeirei/dbcopier/internal/logging"
	"github.com/toeirei/dbcopier/internal/model"
)

// idLayout is the second-resolution prefix of a task ID; six digits of
// microseconds follow it.
const idLayout = "20060102150405"

// ErrInvalidTransition is returned when an update would break the
// pending -> running -> completed|failed lifecycle.
var ErrInvalidTransition = errors.New("invalid task state transition")

// nowFunc allows tests to freeze the clock.
var nowFunc = time.Now

// Store is the durable side of the tracker.
type Store interface {
	SaveTask(ctx context.Context, t model.TaskStatus) error
	LoadTask(ctx context.Context, id string) (model.TaskStatus, error)
	ListTasks(ctx context.Context) ([]model.TaskStatus, error)
}

// Tracker owns task snapshots. It is safe for concurrent use.
type Tracker struct {
	mu     sync.Mutex
	tasks  map[string]*model.TaskStatus
	lastID time.Time

	// persistMu orders writes to the store so the last write always
	// carries the newest snapshot.
	persistMu sync.Mutex
	store     Store
}

// NewTracker returns a Tracker persisting to st. st may be nil for a purely
// in-memory tracker.
func NewTracker(st Store) *Tracker {
	return &Tracker{tasks: make(map[string]*model.TaskStatus), store: st}
}

// nextID derives a unique ID from the clock. Calls within the same
// microsecond are pushed forward one microsecond at a time. Caller holds mu.
func (t *Tracker) nextID(now time.Time) string {
	ts := now.Truncate(time.Microsecond)
	if !ts.After(t.lastID) {
		ts = t.lastID.Add(time.Microsecond)
	}
	t.lastID = ts
	return fmt.Sprintf("%s%06d", ts.Format(idLayout), ts.Nanosecond()/1000)
}

// Create registers a new task in the given state with progress {0, total}.
func (t *Tracker) Create(ctx context.Context, total int, state model.TaskState) (model.TaskStatus, error) {
	if state.Terminal() {
		return model.TaskStatus{}, fmt.Errorf("%w: cannot create a task in state %s", ErrInvalidTransition, state)
	}
	if total < 0 {
		total = 0
	}
	now := nowFunc()

	t.mu.Lock()
	ts := &model.TaskStatus{
		ID:        t.nextID(now),
		Status:    state,
		StartTime: &now,
		Progress:  &model.Progress{Total: total},
	}
	t.tasks[ts.ID] = ts
	snap := ts.Clone()
	t.mu.Unlock()

	logging.Infof("task %s created (%d tables)", snap.ID, total)
	return snap, t.persist(ctx, snap.ID)
}

// Update applies fn to a copy of the task and stores the result if it is a
// legal step. Progress never moves backwards and never exceeds the total,
// which is fixed at creation. Entering a terminal state stamps the end time
// when fn did not. Terminal tasks reject every update.
func (t *Tracker) Update(ctx context.Context, id string, fn func(*model.TaskStatus)) (model.TaskStatus, error) {
	t.mu.Lock()
	cur, ok := t.tasks[id]
	if !ok {
		t.mu.Unlock()
		return model.TaskStatus{}, errs.NotFound("task " + id)
	}
	next := cur.Clone()
	fn(&next)
	if !cur.Status.CanTransition(next.Status) {
		t.mu.Unlock()
		return cur.Clone(), fmt.Errorf("%w: task %s: %s -> %s", ErrInvalidTransition, id, cur.Status, next.Status)
	}
	next.ID = cur.ID
	next.StartTime = cur.StartTime
	clampProgress(cur.Progress, &next)
	if next.Status.Terminal() && next.EndTime == nil {
		end := nowFunc()
		next.EndTime = &end
	}
	t.tasks[id] = &next
	snap := next.Clone()
	t.mu.Unlock()

	return snap, t.persist(ctx, id)
}

func clampProgress(prev *model.Progress, next *model.TaskStatus) {
	if prev == nil {
		return
	}
	if next.Progress == nil {
		p := *prev
		next.Progress = &p
		return
	}
	next.Progress.Total = prev.Total
	next.Progress.Current = min(max(next.Progress.Current, prev.Current), prev.Total)
}

// persist writes the current snapshot of id. A store failure is logged and
// returned but the in-memory state stays authoritative.
func (t *Tracker) persist(ctx context.Context, id string) error {
	if t.store == nil {
		return nil
	}
	t.persistMu.Lock()
	defer t.persistMu.Unlock()

	t.mu.Lock()
	cur, ok := t.tasks[id]
	var snap model.TaskStatus
	if ok {
		snap = cur.Clone()
	}
	t.mu.Unlock()
	if !ok {
		return nil
	}
	if err := t.store.SaveTask(ctx, snap); err != nil {
		logging.Warnf("task %s: persisting snapshot failed: %v", id, err)
		return fmt.Errorf("persist task %s: %w", id, err)
	}
	return nil
}

// Get returns the task from memory, falling back to the store.
func (t *Tracker) Get(ctx context.Context, id string) (model.TaskStatus, error) {
	t.mu.Lock()
	cur, ok := t.tasks[id]
	var snap model.TaskStatus
	if ok {
		snap = cur.Clone()
	}
	t.mu.Unlock()
	if ok {
		return snap, nil
	}
	if t.store == nil {
		return model.TaskStatus{}, errs.NotFound("task " + id)
	}
	return t.store.LoadTask(ctx, id)
}

// List returns every known task, newest first. Memory wins over the store
// for tasks present in both.
func (t *Tracker) List(ctx context.Context) ([]model.TaskStatus, error) {
	t.mu.Lock()
	out := make([]model.TaskStatus, 0, len(t.tasks))
	seen := make(map[string]struct{}, len(t.tasks))
	for id, ts := range t.tasks {
		out = append(out, ts.Clone())
		seen[id] = struct{}{}
	}
	t.mu.Unlock()

	if t.store != nil {
		stored, err := t.store.ListTasks(ctx)
		if err != nil {
			return nil, err
		}
		for _, ts := range stored {
			if _, dup := seen[ts.ID]; !dup {
				out = append(out, ts)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}
