// Copyright (c) 2026 dbcopier Team
// dbcopier - PostgreSQL table copier with SSH tunnels and masking
// This source code is licensed under the MIT license found in the LICENSE file.

package logging

import (
	"bytes"
	"strings"
	"testing"

	clog "github.com/charmbracelet/log"
)

// TestLoggingHelpers_WriteToBuffer verifies the package helper functions write
// formatted messages to the package-level logger `L`. The test swaps `L` with
// a buffer-backed logger and restores it afterwards.
func TestLoggingHelpers_WriteToBuffer(t *testing.T) {
	var buf bytes.Buffer
	prev := L
	L = clog.New(&buf)
	L.SetLevel(clog.DebugLevel)
	defer func() { L = prev }()

	Debugf("hello %s", "dbg")
	Infof("info %d", 1)
	Warnf("warn")
	Errorf("err %v", "E")
	With("table", "users").Info("copied")

	out := buf.String()
	for _, want := range []string{"hello dbg", "info 1", "warn", "err E", "table=users"} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in output; got: %s", want, out)
		}
	}
}

func TestSetLevel_FiltersDebug(t *testing.T) {
	var buf bytes.Buffer
	prev := L
	L = clog.New(&buf)
	defer func() { L = prev }()

	SetLevel("warn")
	Infof("quiet")
	Warnf("loud")
	if strings.Contains(buf.String(), "quiet") {
		t.Fatalf("info message should be filtered at warn level: %s", buf.String())
	}
	if !strings.Contains(buf.String(), "loud") {
		t.Fatalf("warn message missing: %s", buf.String())
	}

	SetLevel("bogus")
	if L.GetLevel() != clog.InfoLevel {
		t.Fatalf("unknown level should fall back to info, got %v", L.GetLevel())
	}
}
