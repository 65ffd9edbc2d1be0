// Copyright (c) 2026 dbcopier Team
// dbcopier - PostgreSQL table copier with SSH tunnels and masking
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/toeirei/dbcopier/internal/model"
	"github.com/toeirei/dbcopier/internal/state"
	"github.com/toeirei/dbcopier/internal/tunnel"
	"golang.org/x/term"
)

// errNoTerminal is returned when a secret is needed but stdin is not a TTY.
var errNoTerminal = errors.New("stdin is not a terminal; put the secret in the job or run interactively")

// readSecret asks for a secret without echo. Tests replace it.
var readSecret = func(prompt string) ([]byte, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return nil, errNoTerminal
	}
	_, _ = fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(fd)
	_, _ = fmt.Fprintln(os.Stderr)
	return b, err
}

// needsPassphrase is swapped in tests to avoid touching key files.
var needsPassphrase = tunnel.NeedsPassphrase

// secretFor returns the cached secret for key or prompts for it once.
func secretFor(key, prompt string) (string, error) {
	if v := state.Secrets.Get(key); v != nil {
		return string(v), nil
	}
	v, err := readSecret(prompt)
	if err != nil {
		return "", err
	}
	state.Secrets.Set(key, v)
	return string(v), nil
}

// fillSecrets prompts for every secret the job leaves empty on both sides.
func fillSecrets(job *model.Config) error {
	if err := fillEndpoint(&job.SourceDB); err != nil {
		return fmt.Errorf("source: %w", err)
	}
	if err := fillEndpoint(&job.TargetDB); err != nil {
		return fmt.Errorf("target: %w", err)
	}
	return nil
}

func fillEndpoint(ep *model.DatabaseConfig) (err error) {
	if ep.Password == "" {
		if ep.Password, err = secretFor("db:"+ep.String(), fmt.Sprintf("Password for %s: ", ep)); err != nil {
			return err
		}
	}
	ssh := ep.SSHConfig
	if ssh == nil {
		return nil
	}
	switch ssh.AuthType {
	case model.AuthPassword:
		if ssh.Password == "" {
			who := ssh.Username + "@" + ssh.Addr()
			ssh.Password, err = secretFor("ssh:"+who, fmt.Sprintf("SSH password for %s: ", who))
		}
	case model.AuthPrivateKey:
		if ssh.Passphrase == "" && needsPassphrase(ssh.PrivateKeyPath) {
			ssh.Passphrase, err = secretFor("ssh-key:"+ssh.PrivateKeyPath, fmt.Sprintf("Passphrase for %s: ", ssh.PrivateKeyPath))
		}
	}
	return err
}

// endpointWithSecrets is fillEndpoint on a copy, for inspection commands.
func endpointWithSecrets(ep model.DatabaseConfig, prompt bool) (model.DatabaseConfig, error) {
	if !prompt {
		return ep, nil
	}
	if ep.SSHConfig != nil {
		sshCopy := *ep.SSHConfig
		ep.SSHConfig = &sshCopy
	}
	err := fillEndpoint(&ep)
	return ep, err
}
