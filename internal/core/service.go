// Copyright (c) 2026 dbcopier Team
// dbcopier - PostgreSQL table copier with SSH tunnels and masking
// This source code is licensed under the MIT license found in the LICENSE file.

// Package core is the service layer between the command line and the copy
// engine. It starts copy tasks, answers status queries, inspects endpoints
// and manages saved configurations.
package core // import "github.com/toeirei/dbcopier/internal/core"

import (
	"context"
	"sync"
	"time"

	"github.com/toeirei/dbcopier/internal/copier"
	"github.com/toeirei/dbcopier/internal/dbconn"
	"github.com/toeirei/dbcopier/internal/errs"
	"github.com/toeirei/dbcopier/internal/model"
	"github.com/toeirei/dbcopier/internal/schema"
	"github.com/toeirei/dbcopier/internal/store"
	"github.com/toeirei/dbcopier/internal/task"
)

// obtainSession opens a database session; tests replace it with fakes.
var obtainSession = dbconn.Obtain

// Settings tune copy tasks started by a Service.
type Settings struct {
	Copy            copier.Options
	Attempts        int
	MonitorInterval time.Duration
	ThresholdMB     int64
}

// Service is the entry point for every operation the command layer offers.
type Service struct {
	store    store.Store
	tracker  *task.Tracker
	settings Settings

	wg sync.WaitGroup
}

// NewService returns a Service persisting configurations and tasks to st.
func NewService(st store.Store, settings Settings) *Service {
	return &Service{
		store:    st,
		tracker:  task.NewTracker(st),
		settings: settings,
	}
}

// Close waits for running copy tasks to reach a terminal state. The store
// is owned by the caller and stays open.
func (s *Service) Close() error {
	s.wg.Wait()
	return nil
}

func (s *Service) session(ctx context.Context, ep model.DatabaseConfig) (*dbconn.Session, error) {
	return obtainSession(ctx, ep, dbconn.Options{MaxConns: 1, Attempts: s.settings.Attempts})
}

// TestConnection connects to ep (through its tunnel, if any) and pings it.
func (s *Service) TestConnection(ctx context.Context, ep model.DatabaseConfig) error {
	sess, err := s.session(ctx, ep)
	if err != nil {
		return err
	}
	defer func() { _ = sess.Close() }()
	if err := sess.Pool.Ping(ctx); err != nil {
		return errs.Connection("ping "+ep.String(), err)
	}
	return nil
}

// ListTables returns the base tables in ep's schema.
func (s *Service) ListTables(ctx context.Context, ep model.DatabaseConfig) ([]string, error) {
	sess, err := s.session(ctx, ep)
	if err != nil {
		return nil, err
	}
	defer func() { _ = sess.Close() }()
	return sess.ListTables(ctx)
}

// TableColumns returns the column names of table in ordinal order.
func (s *Service) TableColumns(ctx context.Context, ep model.DatabaseConfig, table string) ([]string, error) {
	sess, err := s.session(ctx, ep)
	if err != nil {
		return nil, err
	}
	defer func() { _ = sess.Close() }()
	return sess.TableColumns(ctx, table)
}

// TableSchema inspects table on ep.
func (s *Service) TableSchema(ctx context.Context, ep model.DatabaseConfig, table string) (model.TableInfo, error) {
	sess, err := s.session(ctx, ep)
	if err != nil {
		return model.TableInfo{}, err
	}
	defer func() { _ = sess.Close() }()
	return schema.NewInspector(sess.Pool, sess.Schema()).SchemaOf(ctx, table)
}
