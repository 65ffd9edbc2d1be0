// Copyright (c) 2026 dbcopier Team
// dbcopier - PostgreSQL table copier with SSH tunnels and masking
// This source code is licensed under the MIT license found in the LICENSE file.

package model

import "time"

// TaskState is the lifecycle state of a copy task.
type TaskState string

const (
	TaskPending   TaskState = "pending"
	TaskRunning   TaskState = "running"
	TaskCompleted TaskState = "completed"
	TaskFailed    TaskState = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s TaskState) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// CanTransition reports whether moving from s to next is a legal step.
// Staying in the same non-terminal state is allowed so progress-only updates
// pass through the same check.
func (s TaskState) CanTransition(next TaskState) bool {
	if s.Terminal() {
		return false
	}
	switch s {
	case TaskPending:
		return next == TaskPending || next == TaskRunning || next == TaskFailed
	case TaskRunning:
		return next == TaskRunning || next == TaskCompleted || next == TaskFailed
	}
	return false
}

// Progress tracks how far a task has advanced through its table list.
type Progress struct {
	Current   int    `json:"current"`
	Total     int    `json:"total"`
	TableName string `json:"table_name"`
}

// TaskStatus is the persisted snapshot of a copy task.
type TaskStatus struct {
	ID        string     `json:"id"`
	Status    TaskState  `json:"status"`
	StartTime *time.Time `json:"start_time,omitempty"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	Message   *string    `json:"message,omitempty"`
	Progress  *Progress  `json:"progress,omitempty"`
}

// Clone returns a deep copy so callers never share pointers with the tracker.
func (t TaskStatus) Clone() TaskStatus {
	c := t
	if t.StartTime != nil {
		v := *t.StartTime
		c.StartTime = &v
	}
	if t.EndTime != nil {
		v := *t.EndTime
		c.EndTime = &v
	}
	if t.Message != nil {
		v := *t.Message
		c.Message = &v
	}
	if t.Progress != nil {
		v := *t.Progress
		c.Progress = &v
	}
	return c
}
