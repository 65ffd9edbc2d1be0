// Copyright (c) 2026 dbcopier Team
// dbcopier - PostgreSQL table copier with SSH tunnels and masking
// This source code is licensed under the MIT license found in the LICENSE file.

package core

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/toeirei/dbcopier/internal/logging"
	"github.com/toeirei/dbcopier/internal/model"
	"github.com/toeirei/dbcopier/internal/store"
)

// BackupData is the full content of a store.
type BackupData struct {
	Configs []model.Config     `json:"configs"`
	Tasks   []model.TaskStatus `json:"tasks"`
}

// Backup reads every configuration and task from st.
func Backup(ctx context.Context, st store.Store) (*BackupData, error) {
	entries, err := st.ListConfigs(ctx)
	if err != nil {
		return nil, err
	}
	data := &BackupData{Configs: make([]model.Config, 0, len(entries))}
	for _, e := range entries {
		cfg, err := st.LoadConfig(ctx, e.Name)
		if err != nil {
			return nil, err
		}
		data.Configs = append(data.Configs, cfg)
	}
	if data.Tasks, err = st.ListTasks(ctx); err != nil {
		return nil, err
	}
	return data, nil
}

// WriteBackup writes compressed JSON backup data to w.
func WriteBackup(data *BackupData, w io.Writer) error {
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("create zstd writer: %w", err)
	}
	enc := json.NewEncoder(zw)
	enc.SetIndent("", "  ")
	if err := enc.Encode(data); err != nil {
		_ = zw.Close()
		return fmt.Errorf("encode backup: %w", err)
	}
	return zw.Close()
}

// ReadBackup decodes a zstd-compressed JSON backup.
func ReadBackup(r io.Reader) (*BackupData, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("create zstd reader: %w", err)
	}
	defer zr.Close()
	var data BackupData
	if err := json.NewDecoder(zr).Decode(&data); err != nil {
		return nil, fmt.Errorf("decode backup: %w", err)
	}
	return &data, nil
}

// Restore writes every entry of data into st. Existing configurations and
// tasks with the same key are replaced.
func Restore(ctx context.Context, st store.Store, data *BackupData) error {
	for _, cfg := range data.Configs {
		if err := st.SaveConfig(ctx, cfg); err != nil {
			return err
		}
	}
	for _, t := range data.Tasks {
		if err := st.SaveTask(ctx, t); err != nil {
			return err
		}
	}
	logging.Infof("restored %d configurations and %d tasks", len(data.Configs), len(data.Tasks))
	return nil
}

// Migrate copies the content of one store into another, e.g. from the
// default sqlite file to a shared PostgreSQL or MySQL database.
func Migrate(ctx context.Context, from, to store.Store) error {
	data, err := Backup(ctx, from)
	if err != nil {
		return fmt.Errorf("export backup: %w", err)
	}
	if err := Restore(ctx, to, data); err != nil {
		return fmt.Errorf("import backup: %w", err)
	}
	return nil
}
