// Copyright (c) 2026 dbcopier Team
// dbcopier - PostgreSQL table copier with SSH tunnels and masking
// This source code is licensed under the MIT license found in the LICENSE file.

package core

import (
	"context"
	"fmt"
	"time"

	"github.com/toeirei/dbcopier/internal/copier"
	"github.com/toeirei/dbcopier/internal/dbconn"
	"github.com/toeirei/dbcopier/internal/logging"
	"github.com/toeirei/dbcopier/internal/model"
	"github.com/toeirei/dbcopier/internal/monitor"
	"go.uber.org/atomic"
)

// Task messages written on terminal transitions.
const (
	msgCompleted   = "copy completed"
	msgInitFailed  = "initialization failed: %v"
	msgTableFailed = "copy of table %s failed: %v"
)

// pollInterval is how often Wait re-reads a task.
var pollInterval = 200 * time.Millisecond

// Start registers a running task for job and copies it in the background.
// The returned ID can be passed to Status and Wait.
func (s *Service) Start(ctx context.Context, job model.Config) (string, error) {
	ts, err := s.tracker.Create(ctx, len(job.Tables), model.TaskRunning)
	if ts.ID == "" {
		return "", err
	}
	logging.Infof("starting copy task %s (%s -> %s)", ts.ID, job.SourceDB, job.TargetDB)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		// Tasks outlive the request that started them.
		s.run(context.Background(), ts.ID, job)
	}()
	return ts.ID, nil
}

// run drives one task from Running to a terminal state.
func (s *Service) run(ctx context.Context, id string, job model.Config) {
	log := logging.With("task", id)
	opts := dbconn.Options{MaxConns: int32(s.workers()), Attempts: s.settings.Attempts}

	src, err := obtainSession(ctx, job.SourceDB, opts)
	if err != nil {
		s.finish(ctx, id, model.TaskFailed, fmt.Sprintf(msgInitFailed, err), nil)
		return
	}
	defer func() { _ = src.Close() }()
	dst, err := obtainSession(ctx, job.TargetDB, opts)
	if err != nil {
		s.finish(ctx, id, model.TaskFailed, fmt.Sprintf(msgInitFailed, err), nil)
		return
	}
	defer func() { _ = dst.Close() }()

	gauge := monitor.NewGauge(s.settings.MonitorInterval, s.settings.ThresholdMB)
	mctx, stopMonitor := context.WithCancel(ctx)
	defer stopMonitor()
	go gauge.Run(mctx)

	engine := copier.NewEngine(copier.Config{
		Source:       src.Pool,
		SourceSchema: src.Schema(),
		Target:       dst.Pool,
		TargetSchema: dst.Schema(),
		Gauge:        gauge,
		Options:      s.settings.Copy,
	})

	failed := atomic.NewBool(false)
	prog := newTableProgress(job.Tables)
	report := func(current int, table string) {
		_, _ = s.tracker.Update(ctx, id, func(ts *model.TaskStatus) {
			ts.Progress.Current = current
			ts.Progress.TableName = table
		})
	}
	hooks := copier.Hooks{
		BeforeTable: func(i int, _ model.TableConfig) { prog.update(i, false, report) },
		AfterTable:  func(i int, _ model.TableConfig) { prog.update(i, true, report) },
		OnError: func(i int, t model.TableConfig, err error) {
			if !failed.CompareAndSwap(false, true) {
				return
			}
			cause := err
			if te, ok := copier.IsTableError(err); ok {
				cause = te.Err
			}
			log.Error("table copy failed", "table", t.Name, "err", cause)
			msg := fmt.Sprintf(msgTableFailed, t.Name, cause)
			prog.fail(i, func(current int, table string) {
				s.finish(ctx, id, model.TaskFailed, msg, func(p *model.Progress) {
					p.Current = current
					p.TableName = table
				})
			})
		},
		Stop: failed.Load,
	}

	err = engine.CopyMany(ctx, job.Tables, hooks)
	if failed.Load() {
		return
	}
	if err != nil {
		// Every table error goes through OnError; this is a safety net.
		s.finish(ctx, id, model.TaskFailed, err.Error(), nil)
		return
	}
	log.Info("copy finished", "tables", len(job.Tables), "peak_bytes", gauge.Peak())
	s.finish(ctx, id, model.TaskCompleted, msgCompleted, nil)
}

func (s *Service) workers() int {
	if s.settings.Copy.Workers > 0 {
		return s.settings.Copy.Workers
	}
	return copier.DefaultWorkers
}

// finish moves the task into a terminal state with msg. mark, if not nil,
// adjusts the progress recorded with the transition.
func (s *Service) finish(ctx context.Context, id string, state model.TaskState, msg string, mark func(*model.Progress)) {
	now := time.Now()
	_, err := s.tracker.Update(ctx, id, func(ts *model.TaskStatus) {
		ts.Status = state
		ts.EndTime = &now
		ts.Message = &msg
		if state == model.TaskCompleted {
			ts.Progress.Current = ts.Progress.Total
		}
		if mark != nil && ts.Progress != nil {
			mark(ts.Progress)
		}
	})
	if err != nil {
		logging.Warnf("task %s: recording %s failed: %v", id, state, err)
	}
	if state == model.TaskFailed {
		logging.Errorf("task %s failed: %s", id, msg)
		return
	}
	logging.Infof("task %s %s", id, state)
}

// Status returns the latest snapshot of task id.
func (s *Service) Status(ctx context.Context, id string) (model.TaskStatus, error) {
	return s.tracker.Get(ctx, id)
}

// Tasks returns every known task, newest first.
func (s *Service) Tasks(ctx context.Context) ([]model.TaskStatus, error) {
	return s.tracker.List(ctx)
}

// Wait polls task id until it is terminal or ctx is done. onChange, if not
// nil, sees every snapshot whose progress or state differs from the last.
func (s *Service) Wait(ctx context.Context, id string, onChange func(model.TaskStatus)) (model.TaskStatus, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	var last string
	for {
		ts, err := s.tracker.Get(ctx, id)
		if err != nil {
			return model.TaskStatus{}, err
		}
		if key := progressKey(ts); onChange != nil && key != last {
			last = key
			onChange(ts)
		}
		if ts.Status.Terminal() {
			return ts, nil
		}
		select {
		case <-ctx.Done():
			return ts, ctx.Err()
		case <-ticker.C:
		}
	}
}

func progressKey(ts model.TaskStatus) string {
	if ts.Progress == nil {
		return string(ts.Status)
	}
	return fmt.Sprintf("%s/%d/%s", ts.Status, ts.Progress.Current, ts.Progress.TableName)
}
