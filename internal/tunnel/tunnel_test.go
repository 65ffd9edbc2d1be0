// Copyright (c) 2026 dbcopier Team
// dbcopier - PostgreSQL table copier with SSH tunnels and masking
// This source code is licensed under the MIT license found in the LICENSE file.

package tunnel

import (
	"bufio"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/toeirei/dbcopier/internal/errs"
	"github.com/toeirei/dbcopier/internal/model"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

// newMockSSHServer returns a server config that accepts user/password
// "ops"/"secret" and presents a freshly generated ed25519 host key.
func newMockSSHServer(t *testing.T) (*ssh.ServerConfig, ssh.Signer) {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate host key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("host signer: %v", err)
	}
	config := &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if c.User() == "ops" && string(pass) == "secret" {
				return nil, nil
			}
			return nil, fmt.Errorf("password rejected for %q", c.User())
		},
	}
	config.AddHostKey(signer)
	return config, signer
}

// serveSSH accepts SSH connections and honours direct-tcpip requests by
// dialing the requested address locally.
func serveSSH(t *testing.T, config *ssh.ServerConfig) string {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen on a port: %v", err)
	}
	t.Cleanup(func() { _ = listener.Close() })

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go handleSSHConn(conn, config)
		}
	}()
	return listener.Addr().String()
}

func handleSSHConn(conn net.Conn, config *ssh.ServerConfig) {
	defer func() { _ = conn.Close() }()
	sconn, chans, reqs, err := ssh.NewServerConn(conn, config)
	if err != nil {
		return
	}
	defer func() { _ = sconn.Close() }()
	go ssh.DiscardRequests(reqs)
	for nc := range chans {
		if nc.ChannelType() != "direct-tcpip" {
			_ = nc.Reject(ssh.UnknownChannelType, "unsupported")
			continue
		}
		var req struct {
			Host     string
			Port     uint32
			OrigHost string
			OrigPort uint32
		}
		if err := ssh.Unmarshal(nc.ExtraData(), &req); err != nil {
			_ = nc.Reject(ssh.ConnectionFailed, "bad payload")
			continue
		}
		target, err := net.Dial("tcp", net.JoinHostPort(req.Host, strconv.Itoa(int(req.Port))))
		if err != nil {
			_ = nc.Reject(ssh.ConnectionFailed, err.Error())
			continue
		}
		ch, chReqs, err := nc.Accept()
		if err != nil {
			_ = target.Close()
			continue
		}
		go ssh.DiscardRequests(chReqs)
		go func() {
			defer func() { _ = ch.Close() }()
			defer func() { _ = target.Close() }()
			go func() { _, _ = io.Copy(target, ch) }()
			_, _ = io.Copy(ch, target)
		}()
	}
}

// startEchoServer echoes each line back prefixed with "echo: ".
func startEchoServer(t *testing.T) (string, uint16) {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("echo listen: %v", err)
	}
	t.Cleanup(func() { _ = listener.Close() })
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer func() { _ = c.Close() }()
				sc := bufio.NewScanner(c)
				for sc.Scan() {
					if _, err := fmt.Fprintf(c, "echo: %s\n", sc.Text()); err != nil {
						return
					}
				}
			}(conn)
		}
	}()
	addr := listener.Addr().(*net.TCPAddr)
	return "127.0.0.1", uint16(addr.Port)
}

func sshConfigFor(t *testing.T, addr string) model.SSHConfig {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split %q: %v", addr, err)
	}
	port, _ := strconv.Atoi(portStr)
	return model.SSHConfig{Host: host, Port: uint16(port), Username: "ops", AuthType: model.AuthPassword, Password: "secret"}
}

func TestOpen_ForwardsTraffic(t *testing.T) {
	server, signer := newMockSSHServer(t)
	sshAddr := serveSSH(t, server)
	echoHost, echoPort := startEchoServer(t)

	cfg := sshConfigFor(t, sshAddr)
	cfg.HostKey = string(ssh.MarshalAuthorizedKey(signer.PublicKey()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	tun, err := Open(ctx, cfg, echoHost, echoPort)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = tun.Close() }()

	if tun.LocalPort() == 0 {
		t.Fatalf("expected a bound local port")
	}

	// Two concurrent clients through the same tunnel.
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn, err := net.Dial("tcp", tun.Addr())
			if err != nil {
				t.Errorf("dial tunnel: %v", err)
				return
			}
			defer func() { _ = conn.Close() }()
			_ = conn.SetDeadline(time.Now().Add(5 * time.Second))
			msg := fmt.Sprintf("hello %d", i)
			if _, err := fmt.Fprintln(conn, msg); err != nil {
				t.Errorf("write: %v", err)
				return
			}
			line, err := bufio.NewReader(conn).ReadString('\n')
			if err != nil {
				t.Errorf("read: %v", err)
				return
			}
			if strings.TrimSpace(line) != "echo: "+msg {
				t.Errorf("unexpected reply %q", line)
			}
		}(i)
	}
	wg.Wait()
}

func TestClose_JoinsOpenForwards(t *testing.T) {
	server, _ := newMockSSHServer(t)
	sshAddr := serveSSH(t, server)
	echoHost, echoPort := startEchoServer(t)

	tun, err := Open(context.Background(), sshConfigFor(t, sshAddr), echoHost, echoPort)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	// Leave a forwarded connection open across Close.
	conn, err := net.Dial("tcp", tun.Addr())
	if err != nil {
		t.Fatalf("dial tunnel: %v", err)
	}
	defer func() { _ = conn.Close() }()
	if _, err := fmt.Fprintln(conn, "ping"); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := bufio.NewReader(conn).ReadString('\n'); err != nil {
		t.Fatalf("read: %v", err)
	}

	closed := make(chan error, 1)
	go func() { closed <- tun.Close() }()
	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not return; tunnel goroutines leaked")
	}

	select {
	case <-tun.Done():
	default:
		t.Fatal("Done channel not closed after Close")
	}
	if _, err := net.DialTimeout("tcp", tun.Addr(), time.Second); err == nil {
		t.Fatal("expected local port to be closed")
	}
	// Second Close is a no-op.
	_ = tun.Close()
}

func TestOpen_WrongPasswordIsTunnelError(t *testing.T) {
	server, _ := newMockSSHServer(t)
	sshAddr := serveSSH(t, server)

	cfg := sshConfigFor(t, sshAddr)
	cfg.Password = "wrong"
	_, err := Open(context.Background(), cfg, "127.0.0.1", 5432)
	if !errors.Is(err, errs.ErrTunnel) {
		t.Fatalf("expected tunnel error, got %v", err)
	}
}

func TestOpen_HostKeyMismatch(t *testing.T) {
	server, _ := newMockSSHServer(t)
	sshAddr := serveSSH(t, server)
	_, other := newMockSSHServer(t)

	cfg := sshConfigFor(t, sshAddr)
	cfg.HostKey = string(ssh.MarshalAuthorizedKey(other.PublicKey()))
	_, err := Open(context.Background(), cfg, "127.0.0.1", 5432)
	if !errors.Is(err, errs.ErrTunnel) {
		t.Fatalf("expected tunnel error on host key mismatch, got %v", err)
	}
}

func TestAuthMethods(t *testing.T) {
	origAgent := sshAgentGetter
	origRead := readFile
	defer func() { sshAgentGetter = origAgent; readFile = origRead }()

	sshAgentGetter = func() agent.Agent { return nil }
	readFile = func(string) ([]byte, error) { return []byte("not a key"), nil }

	tests := []struct {
		name    string
		cfg     model.SSHConfig
		wantErr bool
	}{
		{"password ok", model.SSHConfig{Host: "h", AuthType: model.AuthPassword, Password: "pw"}, false},
		{"password missing", model.SSHConfig{Host: "h", AuthType: model.AuthPassword}, true},
		{"key path missing", model.SSHConfig{Host: "h", AuthType: model.AuthPrivateKey}, true},
		{"key unparsable", model.SSHConfig{Host: "h", AuthType: model.AuthPrivateKey, PrivateKeyPath: "/k"}, true},
		{"agent unavailable", model.SSHConfig{Host: "h", AuthType: model.AuthAgent}, true},
		{"no auth type", model.SSHConfig{Host: "h"}, true},
		{"unknown auth type", model.SSHConfig{Host: "h", AuthType: "kerberos"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			methods, err := authMethods(tt.cfg)
			if tt.wantErr {
				if !errors.Is(err, errs.ErrConfig) {
					t.Fatalf("expected config error, got %v", err)
				}
				return
			}
			if err != nil || len(methods) != 1 {
				t.Fatalf("expected exactly one auth method, got %d (%v)", len(methods), err)
			}
		})
	}
}

func TestNeedsPassphrase(t *testing.T) {
	origRead := readFile
	defer func() { readFile = origRead }()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	plain, err := ssh.MarshalPrivateKey(priv, "")
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	locked, err := ssh.MarshalPrivateKeyWithPassphrase(priv, "", []byte("hunter2"))
	if err != nil {
		t.Fatalf("marshal with passphrase: %v", err)
	}
	files := map[string][]byte{
		"/plain":  pem.EncodeToMemory(plain),
		"/locked": pem.EncodeToMemory(locked),
		"/junk":   []byte("junk"),
	}
	readFile = func(p string) ([]byte, error) {
		if b, ok := files[p]; ok {
			return b, nil
		}
		return nil, errors.New("no such file")
	}

	for path, want := range map[string]bool{"/plain": false, "/locked": true, "/junk": false, "/missing": false} {
		if got := NeedsPassphrase(path); got != want {
			t.Errorf("NeedsPassphrase(%s) = %v, want %v", path, got, want)
		}
	}
}

func TestAuthMethods_AgentAvailable(t *testing.T) {
	orig := sshAgentGetter
	defer func() { sshAgentGetter = orig }()
	sshAgentGetter = func() agent.Agent { return agent.NewKeyring() }

	methods, err := authMethods(model.SSHConfig{Host: "h", AuthType: model.AuthAgent})
	if err != nil || len(methods) != 1 {
		t.Fatalf("expected agent auth method, got %d (%v)", len(methods), err)
	}
}

func TestHostKeyCallback_InvalidPinnedKey(t *testing.T) {
	_, err := hostKeyCallback(model.SSHConfig{Host: "h", HostKey: "garbage"})
	if !errors.Is(err, errs.ErrConfig) {
		t.Fatalf("expected config error, got %v", err)
	}
}
