// Copyright (c) 2026 dbcopier Team
// dbcopier - PostgreSQL table copier with SSH tunnels and masking
// This source code is licensed under the MIT license found in the LICENSE file.

// Package state holds transient process state. Secrets typed at a prompt
// are kept here so that an endpoint shared by several commands in one
// process is only asked for once.
package state

import "sync"

// Secrets is the process-wide secret cache, keyed by what the secret
// unlocks (e.g. "db:user@host:5432/app" or "ssh-key:/home/u/.ssh/id").
var Secrets = &secretMailbox{values: make(map[string][]byte)}

type secretMailbox struct {
	mu     sync.RWMutex
	values map[string][]byte
}

// Set stores a copy of secret under key, replacing any previous value.
func (s *secretMailbox) Set(key string, secret []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.values[key]; ok {
		wipe(old)
	}
	if secret == nil {
		delete(s.values, key)
		return
	}
	v := make([]byte, len(secret))
	copy(v, secret)
	s.values[key] = v
}

// Get returns a copy of the secret stored under key, or nil. The caller
// should wipe the copy after use.
func (s *secretMailbox) Get(key string) []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.values[key]
	if !ok {
		return nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out
}

// Clear wipes every stored secret.
func (s *secretMailbox) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range s.values {
		wipe(v)
		delete(s.values, k)
	}
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
