// Copyright (c) 2026 dbcopier Team
// dbcopier - PostgreSQL table copier with SSH tunnels and masking
// This source code is licensed under the MIT license found in the LICENSE file.

package logging

import (
	"io"
	"strings"

	clog "github.com/charmbracelet/log"
)

// SetLevel sets the minimum level by name ("debug", "info", "warn", "error").
// Unknown names fall back to info.
func SetLevel(name string) {
	lvl, err := clog.ParseLevel(strings.ToLower(strings.TrimSpace(name)))
	if err != nil {
		lvl = clog.InfoLevel
	}
	L.SetLevel(lvl)
}

// SetDebug is shorthand for SetLevel("debug") / SetLevel("info").
func SetDebug(enabled bool) {
	if enabled {
		L.SetLevel(clog.DebugLevel)
		return
	}
	L.SetLevel(clog.InfoLevel)
}

// SetOutput redirects log output, mainly for tests.
func SetOutput(w io.Writer) {
	L.SetOutput(w)
}
