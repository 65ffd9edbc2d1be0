// Copyright (c) 2026 dbcopier Team
// dbcopier - PostgreSQL table copier with SSH tunnels and masking
// This source code is licensed under the MIT license found in the LICENSE file.

package core

import (
	"context"

	"github.com/toeirei/dbcopier/internal/dbconn"
	"github.com/toeirei/dbcopier/internal/logging"
	"github.com/toeirei/dbcopier/internal/model"
)

// MergeTableConfig reconciles saved table jobs with the live tables on ep.
// Tables and columns present in both keep their settings and lose any
// status. New tables are appended as ignored with status added so nothing
// is copied until the user opts in; new columns are selected with status
// added. Jobs for tables or columns that no longer exist are kept, marked
// removed, after the live ones.
func (s *Service) MergeTableConfig(ctx context.Context, ep model.DatabaseConfig, tables []model.TableConfig) ([]model.TableConfig, error) {
	sess, err := s.session(ctx, ep)
	if err != nil {
		return nil, err
	}
	defer func() { _ = sess.Close() }()

	live, err := sess.ListTables(ctx)
	if err != nil {
		return nil, err
	}
	return mergeTables(ctx, sess, live, tables)
}

// columnLister is the part of a session mergeTables needs.
type columnLister interface {
	TableColumns(ctx context.Context, table string) ([]string, error)
}

var _ columnLister = (*dbconn.Session)(nil)

func mergeTables(ctx context.Context, cols columnLister, live []string, saved []model.TableConfig) ([]model.TableConfig, error) {
	byName := make(map[string]model.TableConfig, len(saved))
	for _, t := range saved {
		byName[t.Name] = t
	}
	liveSet := make(map[string]struct{}, len(live))

	out := make([]model.TableConfig, 0, len(live)+len(saved))
	for _, name := range live {
		liveSet[name] = struct{}{}
		t, ok := byName[name]
		if ok {
			t.Status = nil
		} else {
			logging.Debugf("merge: new table %s", name)
			t = model.TableConfig{Name: name, Ignore: true, Status: status(model.StatusAdded)}
		}
		names, err := cols.TableColumns(ctx, name)
		if err != nil {
			return nil, err
		}
		t.Columns = mergeColumns(names, t.Columns)
		out = append(out, t)
	}
	for _, t := range saved {
		if _, ok := liveSet[t.Name]; ok {
			continue
		}
		logging.Debugf("merge: table %s no longer exists", t.Name)
		t.Status = status(model.StatusRemoved)
		out = append(out, t)
	}
	logging.Infof("table configuration merged: %d tables", len(out))
	return out, nil
}

func mergeColumns(live []string, saved []model.ColumnConfig) []model.ColumnConfig {
	byName := make(map[string]model.ColumnConfig, len(saved))
	for _, c := range saved {
		byName[c.Name] = c
	}
	liveSet := make(map[string]struct{}, len(live))

	out := make([]model.ColumnConfig, 0, len(live)+len(saved))
	for _, name := range live {
		liveSet[name] = struct{}{}
		if c, ok := byName[name]; ok {
			c.Status = nil
			out = append(out, c)
			continue
		}
		out = append(out, model.ColumnConfig{Name: name, Status: status(model.StatusAdded)})
	}
	for _, c := range saved {
		if _, ok := liveSet[c.Name]; !ok {
			c.Status = status(model.StatusRemoved)
			out = append(out, c)
		}
	}
	return out
}

func status(s model.ChangeStatus) *model.ChangeStatus { return &s }
