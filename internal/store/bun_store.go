// Copyright (c) 2026 dbcopier Team
// dbcopier - PostgreSQL table copier with SSH tunnels and masking
// This source code is licensed under the MIT license found in the LICENSE file.

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/toeirei/dbcopier/internal/errs"
	"github.com/toeirei/dbcopier/internal/model"
	"github.com/uptrace/bun"
)

// ConfigModel maps configs. Content is the JSON encoding of model.Config.
type ConfigModel struct {
	bun.BaseModel `bun:"table:configs"`
	Name          string    `bun:"name,pk"`
	Content       string    `bun:"content"`
	CreatedAt     time.Time `bun:"created_at"`
	UpdatedAt     time.Time `bun:"updated_at"`
}

// TaskModel maps tasks. Content is the JSON encoding of model.TaskStatus.
type TaskModel struct {
	bun.BaseModel `bun:"table:tasks"`
	ID            string `bun:"id,pk"`
	Content       string `bun:"content"`
}

// BunStore implements Store on a *bun.DB.
type BunStore struct {
	bun    *bun.DB
	dbType string
}

// BunDB returns the underlying *bun.DB.
func (s *BunStore) BunDB() *bun.DB { return s.bun }

// upsert adds the engine-specific conflict clause that replaces cols.
func (s *BunStore) upsert(q *bun.InsertQuery, key string, cols ...string) *bun.InsertQuery {
	if s.dbType == TypeMySQL {
		q = q.On("DUPLICATE KEY UPDATE")
		for _, c := range cols {
			q = q.Set(fmt.Sprintf("%s = VALUES(%s)", c, c))
		}
		return q
	}
	q = q.On(fmt.Sprintf("CONFLICT (%s) DO UPDATE", key))
	for _, c := range cols {
		q = q.Set(fmt.Sprintf("%s = EXCLUDED.%s", c, c))
	}
	return q
}

// SaveConfig inserts or replaces the configuration named cfg.Name. The
// original creation time survives a replace.
func (s *BunStore) SaveConfig(ctx context.Context, cfg model.Config) error {
	if strings.TrimSpace(cfg.Name) == "" {
		return errs.Config("configuration name is required")
	}
	content, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode configuration %s: %w", cfg.Name, err)
	}
	now := time.Now().UTC()
	m := &ConfigModel{Name: cfg.Name, Content: string(content), CreatedAt: now, UpdatedAt: now}
	if _, err := s.upsert(s.bun.NewInsert().Model(m), "name", "content", "updated_at").Exec(ctx); err != nil {
		return fmt.Errorf("save configuration %s: %w", cfg.Name, MapDBError(err))
	}
	dbLogf("store: saved configuration %s", cfg.Name)
	return nil
}

// LoadConfig returns the configuration with the given name.
func (s *BunStore) LoadConfig(ctx context.Context, name string) (model.Config, error) {
	var m ConfigModel
	err := s.bun.NewSelect().Model(&m).Where("name = ?", name).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Config{}, errs.NotFound("configuration " + name)
	}
	if err != nil {
		return model.Config{}, fmt.Errorf("load configuration %s: %w", name, err)
	}
	var cfg model.Config
	if err := json.Unmarshal([]byte(m.Content), &cfg); err != nil {
		return model.Config{}, fmt.Errorf("decode configuration %s: %w", name, err)
	}
	return cfg, nil
}

// ListConfigs returns every saved configuration ordered by name.
func (s *BunStore) ListConfigs(ctx context.Context) ([]ConfigEntry, error) {
	var ms []ConfigModel
	if err := s.bun.NewSelect().Model(&ms).Column("name", "created_at", "updated_at").OrderExpr("name").Scan(ctx); err != nil {
		return nil, fmt.Errorf("list configurations: %w", err)
	}
	out := make([]ConfigEntry, 0, len(ms))
	for _, m := range ms {
		out = append(out, ConfigEntry{Name: m.Name, CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt})
	}
	return out, nil
}

// DeleteConfig removes a configuration. Deleting an unknown name is a
// not-found error.
func (s *BunStore) DeleteConfig(ctx context.Context, name string) error {
	res, err := s.bun.NewDelete().Model((*ConfigModel)(nil)).Where("name = ?", name).Exec(ctx)
	if err != nil {
		return fmt.Errorf("delete configuration %s: %w", name, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errs.NotFound("configuration " + name)
	}
	return nil
}

// SaveTask writes the latest snapshot of a task.
func (s *BunStore) SaveTask(ctx context.Context, t model.TaskStatus) error {
	content, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode task %s: %w", t.ID, err)
	}
	m := &TaskModel{ID: t.ID, Content: string(content)}
	if _, err := s.upsert(s.bun.NewInsert().Model(m), "id", "content").Exec(ctx); err != nil {
		return fmt.Errorf("save task %s: %w", t.ID, MapDBError(err))
	}
	return nil
}

// LoadTask returns the last saved snapshot of the task.
func (s *BunStore) LoadTask(ctx context.Context, id string) (model.TaskStatus, error) {
	var m TaskModel
	err := s.bun.NewSelect().Model(&m).Where("id = ?", id).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return model.TaskStatus{}, errs.NotFound("task " + id)
	}
	if err != nil {
		return model.TaskStatus{}, fmt.Errorf("load task %s: %w", id, err)
	}
	return decodeTask(m)
}

// ListTasks returns every stored task, newest first. Task IDs sort by
// creation time.
func (s *BunStore) ListTasks(ctx context.Context) ([]model.TaskStatus, error) {
	var ms []TaskModel
	if err := s.bun.NewSelect().Model(&ms).OrderExpr("id DESC").Scan(ctx); err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	out := make([]model.TaskStatus, 0, len(ms))
	for _, m := range ms {
		t, err := decodeTask(m)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func decodeTask(m TaskModel) (model.TaskStatus, error) {
	var t model.TaskStatus
	if err := json.Unmarshal([]byte(m.Content), &t); err != nil {
		return model.TaskStatus{}, fmt.Errorf("decode task %s: %w", m.ID, err)
	}
	return t, nil
}

// Close releases the underlying connection pool.
func (s *BunStore) Close() error {
	return s.bun.Close()
}
