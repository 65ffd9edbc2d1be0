// Copyright (c) 2026 dbcopier Team
// dbcopier - PostgreSQL table copier with SSH tunnels and masking
// This source code is licensed under the MIT license found in the LICENSE file.

package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/toeirei/dbcopier/internal/errs"
	"github.com/toeirei/dbcopier/internal/model"
	"github.com/toeirei/dbcopier/internal/store"
	"gopkg.in/yaml.v3"
)

// SaveConfig stores cfg under cfg.Name, replacing any previous version.
func (s *Service) SaveConfig(ctx context.Context, cfg model.Config) error {
	return s.store.SaveConfig(ctx, cfg)
}

// LoadConfig returns the configuration saved as name.
func (s *Service) LoadConfig(ctx context.Context, name string) (model.Config, error) {
	return s.store.LoadConfig(ctx, name)
}

// ListConfigs lists saved configurations by name.
func (s *Service) ListConfigs(ctx context.Context) ([]store.ConfigEntry, error) {
	return s.store.ListConfigs(ctx)
}

// DeleteConfig removes the configuration saved as name.
func (s *Service) DeleteConfig(ctx context.Context, name string) error {
	return s.store.DeleteConfig(ctx, name)
}

// ConfigSummary describes cfg without exposing passwords.
func (s *Service) ConfigSummary(cfg model.Config) model.ConfigSummary {
	return cfg.Summarize()
}

// ReadJobFile decodes a job from a YAML or JSON file. Files ending in .zst
// are zstd-compressed.
func ReadJobFile(path string) (model.Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return model.Config{}, fmt.Errorf("could not open file: %w", err)
	}
	defer func() { _ = f.Close() }()

	var r io.Reader = f
	if strings.HasSuffix(path, ".zst") {
		zr, err := zstd.NewReader(f)
		if err != nil {
			return model.Config{}, fmt.Errorf("could not create zstd reader: %w", err)
		}
		defer zr.Close()
		r = zr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return model.Config{}, fmt.Errorf("read %s: %w", path, err)
	}
	return DecodeJob(data)
}

// DecodeJob parses a job document. YAML is a superset of JSON so one
// decoder serves both formats.
func DecodeJob(data []byte) (model.Config, error) {
	var cfg model.Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return model.Config{}, errs.Config("decode job: %w", err)
	}
	return cfg, nil
}

// ImportConfig reads a job file and saves it. name overrides the name in
// the file when not empty.
func (s *Service) ImportConfig(ctx context.Context, path, name string) (model.Config, error) {
	cfg, err := ReadJobFile(path)
	if err != nil {
		return model.Config{}, err
	}
	if name != "" {
		cfg.Name = name
	}
	if strings.TrimSpace(cfg.Name) == "" {
		cfg.Name = jobNameFromPath(path)
	}
	if err := s.store.SaveConfig(ctx, cfg); err != nil {
		return model.Config{}, err
	}
	return cfg, nil
}

// ExportConfig writes the configuration saved as name to path. A .json
// extension (before an optional .zst) selects JSON, anything else YAML.
// The file holds passwords and is created with mode 0600.
func (s *Service) ExportConfig(ctx context.Context, name, path string) error {
	cfg, err := s.store.LoadConfig(ctx, name)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("could not create file: %w", err)
	}
	base, compressed := strings.CutSuffix(path, ".zst")
	if err := writeJob(f, cfg, compressed, strings.EqualFold(filepath.Ext(base), ".json")); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("could not write file: %w", err)
	}
	return nil
}

// writeJob encodes cfg to w, through a zstd stream when compressed.
func writeJob(w io.Writer, cfg model.Config, compressed, asJSON bool) error {
	if !compressed {
		return encodeJob(w, cfg, asJSON)
	}
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("could not create zstd writer: %w", err)
	}
	if err := encodeJob(zw, cfg, asJSON); err != nil {
		_ = zw.Close()
		return err
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("could not finish zstd stream: %w", err)
	}
	return nil
}

func encodeJob(w io.Writer, cfg model.Config, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(cfg); err != nil {
			return fmt.Errorf("encode job: %w", err)
		}
		return nil
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	return enc.Close()
}

// jobNameFromPath turns "jobs/nightly.yaml.zst" into "nightly".
func jobNameFromPath(path string) string {
	name := strings.TrimSuffix(filepath.Base(path), ".zst")
	return strings.TrimSuffix(name, filepath.Ext(name))
}
