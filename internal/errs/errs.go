// Copyright (c) 2026 dbcopier Team
// dbcopier - PostgreSQL table copier with SSH tunnels and masking
// This source code is licensed under the MIT license found in the LICENSE file.

// Package errs defines the error taxonomy of the copier. Every error raised
// by the engine is an *Error whose Kind is one of the sentinels below, so
// callers classify with errors.Is and still reach the driver error through
// errors.As.
package errs

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrConnection covers validation, TCP/TLS/handshake and database auth failures.
	ErrConnection = errors.New("connection error")
	// ErrTunnel covers SSH setup: dial, handshake, authentication, port forward.
	ErrTunnel = errors.New("ssh tunnel error")
	// ErrQuery covers any failed statement, including inspection and DDL.
	ErrQuery = errors.New("query error")
	// ErrConfig covers missing or contradictory job fields.
	ErrConfig = errors.New("config error")
	// ErrNotFound is returned for unknown tasks and configurations.
	ErrNotFound = errors.New("not found")
)

// Error is a classified error. Op names the step that failed ("connect",
// "inspect users", ...) and may be empty.
type Error struct {
	Kind error
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%v: %s: %v", e.Kind, e.Op, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%v: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%v: %s", e.Kind, e.Op)
	}
	return e.Kind.Error()
}

// Unwrap exposes both the kind sentinel and the cause.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Connection wraps err as a connection error.
func Connection(op string, err error) error { return &Error{Kind: ErrConnection, Op: op, Err: err} }

// Tunnel wraps err as an SSH tunnel error.
func Tunnel(op string, err error) error { return &Error{Kind: ErrTunnel, Op: op, Err: err} }

// Query wraps err as a query error.
func Query(op string, err error) error { return &Error{Kind: ErrQuery, Op: op, Err: err} }

// Config builds a configuration error from a message.
func Config(format string, args ...any) error {
	return &Error{Kind: ErrConfig, Err: fmt.Errorf(format, args...)}
}

// NotFound builds a not-found error for the named thing.
func NotFound(what string) error { return &Error{Kind: ErrNotFound, Op: what} }

// Classify maps a raw driver error to the taxonomy. SQLSTATE class 08
// (connection exception) and errors that never reached the server become
// connection errors; everything else is a query error. Already classified
// errors pass through.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var ce *Error
	if errors.As(err, &ce) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if len(pgErr.Code) >= 2 && pgErr.Code[:2] == "08" {
			return Connection(op, err)
		}
		return Query(op, err)
	}
	if pgconn.SafeToRetry(err) {
		return Connection(op, err)
	}
	return Query(op, err)
}
