//go:build windows
// +build windows

// Copyright (c) 2026 dbcopier Team
// dbcopier - PostgreSQL table copier with SSH tunnels and masking
// This source code is licensed under the MIT license found in the LICENSE file.

package tunnel

import (
	"net"
	"os"

	"github.com/Microsoft/go-winio"
	"github.com/davidmz/go-pageant"
	"golang.org/x/crypto/ssh/agent"
)

// getSSHAgent prefers a Pageant-compatible agent and falls back to the
// OpenSSH for Windows named pipe.
func getSSHAgent() agent.Agent {
	if pageant.Available() {
		return pageant.New()
	}

	pipe := os.Getenv("SSH_AUTH_SOCK")
	if pipe == "" {
		pipe = `\\.\pipe\openssh-ssh-agent`
	}
	var agentConn net.Conn
	agentConn, err := winio.DialPipe(pipe, nil)
	if err == nil && agentConn != nil {
		return agent.NewClient(agentConn)
	}
	return nil
}
