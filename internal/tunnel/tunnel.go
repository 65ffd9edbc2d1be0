// Copyright (c) 2026 dbcopier Team
// dbcopier - PostgreSQL table copier with SSH tunnels and masking
// This source code is licensed under the MIT license found in the LICENSE file.

// Package tunnel opens local TCP port forwards carried over an authenticated
// SSH session. A Tunnel owns every goroutine it starts; Close stops and
// joins all of them.
package tunnel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/toeirei/dbcopier/internal/errs"
	"github.com/toeirei/dbcopier/internal/logging"
	"github.com/toeirei/dbcopier/internal/model"
	"golang.org/x/crypto/ssh"
)

// DefaultDialTimeout bounds the TCP connect and SSH handshake.
const DefaultDialTimeout = 10 * time.Second

// sshClientIface is the subset of *ssh.Client the tunnel needs.
type sshClientIface interface {
	Dial(network, addr string) (net.Conn, error)
	Wait() error
	Close() error
}

// sshDial is a seam for tests.
var sshDial = func(ctx context.Context, addr string, config *ssh.ClientConfig) (sshClientIface, error) {
	d := net.Dialer{Timeout: config.Timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else if config.Timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(config.Timeout))
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	_ = conn.SetDeadline(time.Time{})
	return ssh.NewClient(c, chans, reqs), nil
}

// Tunnel forwards connections accepted on a loopback port to a remote
// host:port through an SSH client.
type Tunnel struct {
	client   sshClientIface
	listener net.Listener
	remote   string
	sshAddr  string

	wg        sync.WaitGroup
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error

	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

// Open authenticates against the SSH server in cfg and starts forwarding a
// fresh 127.0.0.1 port to remoteHost:remotePort as seen from that server.
func Open(ctx context.Context, cfg model.SSHConfig, remoteHost string, remotePort uint16) (*Tunnel, error) {
	if cfg.Host == "" {
		return nil, errs.Config("ssh host is required")
	}
	auth, err := authMethods(cfg)
	if err != nil {
		return nil, err
	}
	hostKeys, err := hostKeyCallback(cfg)
	if err != nil {
		return nil, err
	}
	clientConfig := &ssh.ClientConfig{
		User:            cfg.Username,
		Auth:            auth,
		HostKeyCallback: hostKeys,
		Timeout:         DefaultDialTimeout,
	}

	client, err := sshDial(ctx, cfg.Addr(), clientConfig)
	if err != nil {
		return nil, errs.Tunnel("connect "+cfg.Addr(), err)
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		_ = client.Close()
		return nil, errs.Tunnel("listen on loopback", err)
	}

	t := &Tunnel{
		client:   client,
		listener: listener,
		remote:   net.JoinHostPort(remoteHost, strconv.Itoa(int(remotePort))),
		sshAddr:  cfg.Addr(),
		done:     make(chan struct{}),
		conns:    make(map[net.Conn]struct{}),
	}
	t.wg.Add(2)
	go t.acceptLoop()
	go t.watch()

	logging.Debugf("ssh tunnel %s -> %s via %s", t.Addr(), t.remote, t.sshAddr)
	return t, nil
}

// LocalPort returns the loopback port clients should connect to.
func (t *Tunnel) LocalPort() uint16 {
	return uint16(t.listener.Addr().(*net.TCPAddr).Port)
}

// Addr returns the loopback listen address.
func (t *Tunnel) Addr() string {
	return t.listener.Addr().String()
}

// Done is closed once Close has been called.
func (t *Tunnel) Done() <-chan struct{} { return t.done }

// Close stops accepting, tears down open forwards and the SSH session, and
// waits for every tunnel goroutine to exit. It is safe to call repeatedly.
func (t *Tunnel) Close() error {
	t.closeOnce.Do(func() {
		close(t.done)
		_ = t.listener.Close()

		t.mu.Lock()
		for c := range t.conns {
			_ = c.Close()
		}
		t.mu.Unlock()

		if err := t.client.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			t.closeErr = err
		}
		t.wg.Wait()
	})
	return t.closeErr
}

func (t *Tunnel) closing() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// watch logs a transport failure and stops accepting, so new database
// connections fail fast instead of hanging on a dead session.
func (t *Tunnel) watch() {
	defer t.wg.Done()
	err := t.client.Wait()
	if t.closing() {
		return
	}
	if err != nil && !errors.Is(err, io.EOF) {
		logging.Errorf("ssh session to %s ended: %v", t.sshAddr, err)
	} else {
		logging.Warnf("ssh session to %s closed by remote", t.sshAddr)
	}
	_ = t.listener.Close()
}

func (t *Tunnel) acceptLoop() {
	defer t.wg.Done()
	for {
		local, err := t.listener.Accept()
		if err != nil {
			if !t.closing() && !errors.Is(err, net.ErrClosed) {
				logging.Errorf("ssh tunnel accept: %v", err)
			}
			return
		}
		if !t.track(local) {
			_ = local.Close()
			return
		}
		t.wg.Add(1)
		go t.forward(local)
	}
}

func (t *Tunnel) forward(local net.Conn) {
	defer t.wg.Done()
	defer t.untrack(local)

	remote, err := t.client.Dial("tcp", t.remote)
	if err != nil {
		logging.Errorf("ssh tunnel dial %s: %v", t.remote, err)
		_ = local.Close()
		return
	}
	if !t.track(remote) {
		_ = remote.Close()
		_ = local.Close()
		return
	}
	defer t.untrack(remote)

	var once sync.Once
	closeBoth := func() {
		_ = local.Close()
		_ = remote.Close()
	}
	copied := make(chan struct{})
	go func() {
		defer close(copied)
		_, _ = io.Copy(remote, local)
		once.Do(closeBoth)
	}()
	_, _ = io.Copy(local, remote)
	once.Do(closeBoth)
	<-copied
}

// track registers c for teardown; it reports false once the tunnel is closing.
func (t *Tunnel) track(c net.Conn) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closing() {
		return false
	}
	t.conns[c] = struct{}{}
	return true
}

func (t *Tunnel) untrack(c net.Conn) {
	t.mu.Lock()
	delete(t.conns, c)
	t.mu.Unlock()
}

func (t *Tunnel) String() string {
	return fmt.Sprintf("%s -> %s via %s", t.Addr(), t.remote, t.sshAddr)
}
