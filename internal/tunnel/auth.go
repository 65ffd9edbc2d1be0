// Copyright (c) 2026 dbcopier Team
// dbcopier - PostgreSQL table copier with SSH tunnels and masking
// This source code is licensed under the MIT license found in the LICENSE file.

package tunnel

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/toeirei/dbcopier/internal/errs"
	"github.com/toeirei/dbcopier/internal/logging"
	"github.com/toeirei/dbcopier/internal/model"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Package-level seams so tests can run without a real agent or key files.
var (
	sshAgentGetter func() agent.Agent = getSSHAgent
	readFile                          = os.ReadFile
)

// ErrPassphraseRequired is returned when a private key is encrypted and no
// passphrase was configured.
var ErrPassphraseRequired = errors.New("private key is encrypted and requires a passphrase")

// authMethods resolves the single auth method named by cfg.AuthType. A
// missing secret is a configuration error, never a silent fallback.
func authMethods(cfg model.SSHConfig) ([]ssh.AuthMethod, error) {
	switch cfg.AuthType {
	case model.AuthPassword:
		if cfg.Password == "" {
			return nil, errs.Config("ssh %s: auth_type password requires a password", cfg.Addr())
		}
		return []ssh.AuthMethod{ssh.Password(cfg.Password)}, nil

	case model.AuthPrivateKey:
		if cfg.PrivateKeyPath == "" {
			return nil, errs.Config("ssh %s: auth_type private_key requires private_key_path", cfg.Addr())
		}
		signer, err := loadSigner(cfg.PrivateKeyPath, cfg.Passphrase)
		if err != nil {
			return nil, err
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil

	case model.AuthAgent:
		ag := sshAgentGetter()
		if ag == nil {
			return nil, errs.Config("ssh %s: auth_type agent but no ssh agent is available", cfg.Addr())
		}
		return []ssh.AuthMethod{ssh.PublicKeysCallback(ag.Signers)}, nil

	case "":
		return nil, errs.Config("ssh %s: auth_type is required", cfg.Addr())
	}
	return nil, errs.Config("ssh %s: unsupported auth_type %q", cfg.Addr(), cfg.AuthType)
}

func loadSigner(path, passphrase string) (ssh.Signer, error) {
	data, err := readFile(expandHome(path))
	if err != nil {
		return nil, errs.Config("read private key %s: %v", path, err)
	}
	var signer ssh.Signer
	if passphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(data, []byte(passphrase))
	} else {
		signer, err = ssh.ParsePrivateKey(data)
	}
	if err != nil {
		var missing *ssh.PassphraseMissingError
		if errors.As(err, &missing) {
			return nil, errs.Config("private key %s: %w", path, ErrPassphraseRequired)
		}
		return nil, errs.Config("parse private key %s: %v", path, err)
	}
	return signer, nil
}

// NeedsPassphrase reports whether the private key at path is encrypted.
// Unreadable or malformed keys report false; Open surfaces those errors.
func NeedsPassphrase(path string) bool {
	_, err := loadSigner(path, "")
	return errors.Is(err, ErrPassphraseRequired)
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}

// hostKeyCallback picks the strictest verification the config allows: a
// pinned key, then a known_hosts file, then none.
func hostKeyCallback(cfg model.SSHConfig) (ssh.HostKeyCallback, error) {
	if strings.TrimSpace(cfg.HostKey) != "" {
		pk, _, _, _, err := ssh.ParseAuthorizedKey([]byte(cfg.HostKey))
		if err != nil {
			return nil, errs.Config("ssh %s: invalid host_key: %v", cfg.Addr(), err)
		}
		return ssh.FixedHostKey(pk), nil
	}
	if cfg.KnownHostsPath != "" {
		cb, err := knownhosts.New(expandHome(cfg.KnownHostsPath))
		if err != nil {
			return nil, errs.Config("ssh %s: load known_hosts: %v", cfg.Addr(), err)
		}
		return cb, nil
	}
	logging.Warnf("ssh %s: no host_key or known_hosts_path configured, host key is not verified", cfg.Addr())
	return ssh.InsecureIgnoreHostKey(), nil
}
