// Copyright (c) 2026 dbcopier Team
// dbcopier - PostgreSQL table copier with SSH tunnels and masking
// This source code is licensed under the MIT license found in the LICENSE file.

// Package dbconn turns a database endpoint into a live, validated session:
// optional SSH tunnel, TLS mode, pooled connections and bounded retry.
package dbconn // import "github.com/toeirei/dbcopier/internal/dbconn"

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/toeirei/dbcopier/internal/errs"
	"github.com/toeirei/dbcopier/internal/logging"
	"github.com/toeirei/dbcopier/internal/model"
	"github.com/toeirei/dbcopier/internal/tunnel"
)

const (
	// ApplicationName is reported to the server as application_name.
	ApplicationName = "db_copier"
	// DefaultAttempts is how many times Obtain tries to connect.
	DefaultAttempts = 3
	// DefaultConnectTimeout bounds a single connection attempt.
	DefaultConnectTimeout = 10 * time.Second
	// DefaultKeepAlive is the TCP keepalive period of pooled connections.
	DefaultKeepAlive = 30 * time.Second
	// DefaultMaxConns sizes the pool when Options leaves it unset.
	DefaultMaxConns = 4
)

// Pool is the subset of *pgxpool.Pool used by the copier. Tests substitute
// in-memory fakes.
type Pool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Ping(ctx context.Context) error
	Close()
}

var _ Pool = (*pgxpool.Pool)(nil)

// Package-level seams so tests can run without a server or real clock.
var (
	connectFunc = connectPool
	sleepFunc   = sleepCtx
	openTunnel  = func(ctx context.Context, cfg model.SSHConfig, host string, port uint16) (tunnelHandle, error) {
		t, err := tunnel.Open(ctx, cfg, host, port)
		if err != nil {
			return nil, err
		}
		return t, nil
	}
)

type tunnelHandle interface {
	LocalPort() uint16
	Close() error
}

// Options tune Obtain.
type Options struct {
	// MaxConns caps the pool; the copier sets it to its worker count.
	MaxConns int32
	// Attempts overrides DefaultAttempts when positive.
	Attempts int
}

// Session is a validated connection to one endpoint. It owns the pool and,
// when tunneled, the SSH forward; Close releases both in that order.
type Session struct {
	Pool     Pool
	Endpoint model.DatabaseConfig

	tunnel    tunnelHandle
	closeOnce sync.Once
	closeErr  error
}

// Schema returns the schema the session's endpoint operates in.
func (s *Session) Schema() string { return s.Endpoint.SchemaName() }

// Tunneled reports whether the session runs over an SSH forward.
func (s *Session) Tunneled() bool { return s.tunnel != nil }

// Close shuts the pool down, then the tunnel, waiting for their goroutines.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		if s.Pool != nil {
			s.Pool.Close()
		}
		if s.tunnel != nil {
			s.closeErr = s.tunnel.Close()
		}
	})
	return s.closeErr
}

// Validate checks the fields that must be present before any network I/O.
func Validate(ep model.DatabaseConfig) error {
	var missing []string
	if strings.TrimSpace(ep.Host) == "" {
		missing = append(missing, "host")
	}
	if strings.TrimSpace(ep.Database) == "" {
		missing = append(missing, "database")
	}
	if strings.TrimSpace(ep.Username) == "" {
		missing = append(missing, "username")
	}
	if len(missing) > 0 {
		return errs.Connection("validate", errs.Config("missing %s", strings.Join(missing, ", ")))
	}
	return nil
}

// Obtain validates ep, opens its tunnel if configured and connects with up
// to Options.Attempts tries, sleeping 2s, 4s, ... between them. The last
// attempt's error is returned.
func Obtain(ctx context.Context, ep model.DatabaseConfig, opts Options) (*Session, error) {
	if err := Validate(ep); err != nil {
		return nil, err
	}
	attempts := opts.Attempts
	if attempts <= 0 {
		attempts = DefaultAttempts
	}

	s := &Session{Endpoint: ep}
	host, port := ep.Host, ep.EffectivePort()
	if ep.SSHConfig != nil {
		t, err := openTunnel(ctx, *ep.SSHConfig, ep.Host, ep.EffectivePort())
		if err != nil {
			return nil, err
		}
		s.tunnel = t
		host, port = "127.0.0.1", t.LocalPort()
	}

	cfg, err := poolConfig(ep, host, port, opts.MaxConns)
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		dbLogf("connecting to %s (attempt %d/%d)", ep, attempt, attempts)
		pool, err := connectFunc(ctx, cfg)
		if err == nil {
			s.Pool = pool
			logging.Infof("connected to %s", ep)
			return s, nil
		}
		lastErr = err
		logging.Warnf("connect to %s failed (attempt %d/%d): %v", ep, attempt, attempts, err)
		if attempt == attempts {
			break
		}
		wait := time.Duration(1<<attempt) * time.Second
		dbLogf("retrying %s in %s", ep, wait)
		if err := sleepFunc(ctx, wait); err != nil {
			lastErr = err
			break
		}
	}
	_ = s.Close()
	return nil, errs.Connection("connect "+ep.String(), lastErr)
}

// ConnString renders the pgx connection string for ep dialed at host:port.
// The password is included; never log the result.
func ConnString(ep model.DatabaseConfig, host string, port uint16) string {
	q := url.Values{}
	q.Set("sslmode", sslMode(ep.SSLMode))
	q.Set("application_name", ApplicationName)
	q.Set("connect_timeout", strconv.Itoa(int(DefaultConnectTimeout/time.Second)))
	if ep.Schema != "" {
		q.Set("search_path", ep.Schema)
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(ep.Username, ep.Password),
		Host:     net.JoinHostPort(host, strconv.Itoa(int(port))),
		Path:     "/" + ep.Database,
		RawQuery: q.Encode(),
	}
	return u.String()
}

// sslMode maps the configured mode to a libpq sslmode. require encrypts
// without verifying the certificate, so self-signed servers are accepted.
func sslMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case model.SSLModeRequire:
		return "require"
	case model.SSLModeDisable:
		return "disable"
	}
	return "prefer"
}

func poolConfig(ep model.DatabaseConfig, host string, port uint16, maxConns int32) (*pgxpool.Config, error) {
	cfg, err := pgxpool.ParseConfig(ConnString(ep, host, port))
	if err != nil {
		return nil, errs.Connection("parse connection config", err)
	}
	if maxConns <= 0 {
		maxConns = DefaultMaxConns
	}
	cfg.MaxConns = maxConns
	dialer := &net.Dialer{Timeout: DefaultConnectTimeout, KeepAlive: DefaultKeepAlive}
	cfg.ConnConfig.DialFunc = dialer.DialContext
	cfg.ConnConfig.ConnectTimeout = DefaultConnectTimeout
	return cfg, nil
}

// connectPool creates the pool and proves it with a Ping.
func connectPool(ctx context.Context, cfg *pgxpool.Config) (Pool, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultConnectTimeout)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (s *Session) String() string {
	if s.tunnel != nil {
		return fmt.Sprintf("%s (tunneled)", s.Endpoint)
	}
	return s.Endpoint.String()
}
