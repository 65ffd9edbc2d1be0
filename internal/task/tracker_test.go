// Copyright (c) 2026 dbcopier Team
// dbcopier - PostgreSQL table copier with SSH tunnels and masking
// This source code is licensed under the MIT license found in the LICENSE file.

package task

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/toeirei/dbcopier/internal/errs"
	"github.com/toeirei/dbcopier/internal/model"
)

// memStore is an in-memory Store that records every write.
type memStore struct {
	mu     sync.Mutex
	tasks  map[string]model.TaskStatus
	writes int
	err    error
}

func newMemStore() *memStore { return &memStore{tasks: map[string]model.TaskStatus{}} }

func (m *memStore) SaveTask(_ context.Context, t model.TaskStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.tasks[t.ID] = t.Clone()
	m.writes++
	return nil
}

func (m *memStore) LoadTask(_ context.Context, id string) (model.TaskStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return model.TaskStatus{}, errs.NotFound("task " + id)
	}
	return t.Clone(), nil
}

func (m *memStore) ListTasks(context.Context) ([]model.TaskStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.TaskStatus
	for _, t := range m.tasks {
		out = append(out, t.Clone())
	}
	return out, nil
}

func freezeClock(t *testing.T, at time.Time) {
	t.Helper()
	prev := nowFunc
	nowFunc = func() time.Time { return at }
	t.Cleanup(func() { nowFunc = prev })
}

func TestCreate_UniqueTimeDerivedIDs(t *testing.T) {
	at := time.Date(2026, 3, 4, 5, 6, 7, 123456789, time.Local)
	freezeClock(t, at)
	tr := NewTracker(nil)

	a, _ := tr.Create(context.Background(), 3, model.TaskRunning)
	b, _ := tr.Create(context.Background(), 3, model.TaskRunning)
	if a.ID != "20260304050607123456" {
		t.Fatalf("unexpected id %q", a.ID)
	}
	if b.ID != "20260304050607123457" {
		t.Fatalf("expected the second id pushed one microsecond, got %q", b.ID)
	}
	if a.Progress == nil || a.Progress.Current != 0 || a.Progress.Total != 3 || a.Progress.TableName != "" {
		t.Fatalf("unexpected initial progress %+v", a.Progress)
	}
	if a.StartTime == nil || !a.StartTime.Equal(at) {
		t.Fatalf("start time not set: %v", a.StartTime)
	}
	if _, err := tr.Create(context.Background(), 1, model.TaskCompleted); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("creating a terminal task must fail, got %v", err)
	}
}

func TestUpdate_Transitions(t *testing.T) {
	tests := []struct {
		name string
		from model.TaskState
		to   model.TaskState
		ok   bool
	}{
		{"pending to running", model.TaskPending, model.TaskRunning, true},
		{"pending to failed", model.TaskPending, model.TaskFailed, true},
		{"pending to completed", model.TaskPending, model.TaskCompleted, false},
		{"running to completed", model.TaskRunning, model.TaskCompleted, true},
		{"running to failed", model.TaskRunning, model.TaskFailed, true},
		{"running to pending", model.TaskRunning, model.TaskPending, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewTracker(nil)
			ts, _ := tr.Create(context.Background(), 1, tt.from)
			got, err := tr.Update(context.Background(), ts.ID, func(s *model.TaskStatus) { s.Status = tt.to })
			if tt.ok != (err == nil) {
				t.Fatalf("transition %s -> %s: err=%v", tt.from, tt.to, err)
			}
			if !tt.ok && got.Status != tt.from {
				t.Fatalf("rejected update changed state to %s", got.Status)
			}
		})
	}
}

func TestUpdate_TerminalIsFrozen(t *testing.T) {
	tr := NewTracker(nil)
	ts, _ := tr.Create(context.Background(), 2, model.TaskRunning)
	done, err := tr.Update(context.Background(), ts.ID, func(s *model.TaskStatus) { s.Status = model.TaskCompleted })
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if done.EndTime == nil {
		t.Fatal("terminal state must stamp the end time")
	}
	msg := "late"
	if _, err := tr.Update(context.Background(), ts.ID, func(s *model.TaskStatus) { s.Message = &msg }); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected terminal tasks to reject updates, got %v", err)
	}
	got, _ := tr.Get(context.Background(), ts.ID)
	if got.Message != nil {
		t.Fatalf("terminal task mutated: %+v", got)
	}
}

func TestUpdate_ProgressIsMonotone(t *testing.T) {
	tr := NewTracker(nil)
	ts, _ := tr.Create(context.Background(), 3, model.TaskRunning)
	ctx := context.Background()

	steps := []struct {
		set  int
		want int
	}{{2, 2}, {1, 2}, {7, 3}, {0, 3}}
	for _, st := range steps {
		got, err := tr.Update(ctx, ts.ID, func(s *model.TaskStatus) {
			s.Progress.Current = st.set
			s.Progress.Total = 99
		})
		if err != nil {
			t.Fatalf("Update: %v", err)
		}
		if got.Progress.Current != st.want || got.Progress.Total != 3 {
			t.Fatalf("set %d: got progress %+v, want current %d of 3", st.set, got.Progress, st.want)
		}
	}

	got, _ := tr.Update(ctx, ts.ID, func(s *model.TaskStatus) { s.Progress = nil })
	if got.Progress == nil || got.Progress.Current != 3 {
		t.Fatalf("dropping progress must keep the previous value, got %+v", got.Progress)
	}
}

func TestUpdate_UnknownTask(t *testing.T) {
	tr := NewTracker(nil)
	if _, err := tr.Update(context.Background(), "nope", func(*model.TaskStatus) {}); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := tr.Get(context.Background(), "nope"); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestTracker_PersistsEveryUpdate(t *testing.T) {
	st := newMemStore()
	tr := NewTracker(st)
	ctx := context.Background()

	ts, err := tr.Create(ctx, 2, model.TaskRunning)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := tr.Update(ctx, ts.ID, func(s *model.TaskStatus) { s.Progress.TableName = "users" }); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if st.writes != 2 {
		t.Fatalf("expected 2 store writes, got %d", st.writes)
	}
	stored, _ := st.LoadTask(ctx, ts.ID)
	if stored.Progress.TableName != "users" {
		t.Fatalf("store holds a stale snapshot: %+v", stored.Progress)
	}

	st.err = errors.New("disk full")
	got, err := tr.Update(ctx, ts.ID, func(s *model.TaskStatus) { s.Progress.Current = 1 })
	if err == nil {
		t.Fatal("expected the store error to surface")
	}
	if got.Progress.Current != 1 {
		t.Fatalf("memory must keep the update, got %+v", got.Progress)
	}
}

func TestTracker_ReadsFallBackToStore(t *testing.T) {
	st := newMemStore()
	msg := "copy completed"
	_ = st.SaveTask(context.Background(), model.TaskStatus{ID: "20250101000000000000", Status: model.TaskCompleted, Message: &msg})

	tr := NewTracker(st)
	got, err := tr.Get(context.Background(), "20250101000000000000")
	if err != nil || got.Status != model.TaskCompleted {
		t.Fatalf("expected stored task, got %+v err=%v", got, err)
	}

	live, _ := tr.Create(context.Background(), 1, model.TaskRunning)
	list, err := tr.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 || list[0].ID != live.ID || list[1].ID != "20250101000000000000" {
		t.Fatalf("expected newest first and no duplicates, got %+v", list)
	}
}

func TestTracker_ConcurrentUpdates(t *testing.T) {
	tr := NewTracker(newMemStore())
	ts, _ := tr.Create(context.Background(), 50, model.TaskRunning)

	var wg sync.WaitGroup
	for i := 1; i <= 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = tr.Update(context.Background(), ts.ID, func(s *model.TaskStatus) { s.Progress.Current = i })
		}(i)
	}
	wg.Wait()

	got, _ := tr.Get(context.Background(), ts.ID)
	if got.Progress.Current != 50 {
		t.Fatalf("expected the highest progress to win, got %d", got.Progress.Current)
	}
}
