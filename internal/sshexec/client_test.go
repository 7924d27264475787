package sshexec

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/crypto/ssh"

	"github.com/forgeci/vmrunner/internal/config"
)

// writeTestKey generates an ed25519 key pair and writes the private key to
// a file, returning the path and the public key.
func writeTestKey(t *testing.T) (string, ssh.PublicKey) {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	block, err := ssh.MarshalPrivateKey(priv, "")
	if err != nil {
		t.Fatalf("failed to marshal private key: %v", err)
	}

	path := filepath.Join(t.TempDir(), "id_ed25519")
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		t.Fatalf("failed to write private key: %v", err)
	}

	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		t.Fatalf("failed to convert public key: %v", err)
	}

	return path, sshPub
}

// startTestServer runs a minimal SSH server that accepts the given client
// key, echoes the shell's stdin to stdout, and exits with exitStatus.
func startTestServer(t *testing.T, clientKey ssh.PublicKey, exitStatus uint32) string {
	t.Helper()

	_, hostPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate host key: %v", err)
	}
	hostSigner, err := ssh.NewSignerFromKey(hostPriv)
	if err != nil {
		t.Fatalf("failed to create host signer: %v", err)
	}

	serverCfg := &ssh.ServerConfig{
		PublicKeyCallback: func(conn ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if !bytes.Equal(key.Marshal(), clientKey.Marshal()) {
				return nil, os.ErrPermission
			}
			return &ssh.Permissions{}, nil
		},
	}
	serverCfg.AddHostKey(hostSigner)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	t.Cleanup(func() { _ = listener.Close() })

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go func() {
				sconn, chans, reqs, err := ssh.NewServerConn(conn, serverCfg)
				if err != nil {
					return
				}
				defer func() { _ = sconn.Close() }()
				go ssh.DiscardRequests(reqs)

				for newChan := range chans {
					if newChan.ChannelType() != "session" {
						_ = newChan.Reject(ssh.UnknownChannelType, "unknown channel type")
						continue
					}
					channel, chanReqs, err := newChan.Accept()
					if err != nil {
						continue
					}
					go func() {
						for req := range chanReqs {
							if req.WantReply {
								_ = req.Reply(req.Type == "shell", nil)
							}
						}
					}()

					// Echo stdin to stdout, then report the exit status.
					_, _ = io.Copy(channel, channel)
					_, _ = channel.SendRequest("exit-status", false,
						ssh.Marshal(struct{ Status uint32 }{exitStatus}))
					_ = channel.Close()
				}
			}()
		}
	}()

	return listener.Addr().String()
}

func clientFor(t *testing.T, keyPath, addr string) *Client {
	t.Helper()

	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("failed to split addr: %v", err)
	}

	c, err := NewClient(config.SSHConfig{
		User:           "build",
		Port:           port,
		PrivateKeyFile: keyPath,
	})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return c
}

func TestNewClientBadKey(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T) config.SSHConfig
	}{
		{
			name: "missing key file",
			setup: func(t *testing.T) config.SSHConfig {
				return config.SSHConfig{User: "build", PrivateKeyFile: filepath.Join(t.TempDir(), "nope")}
			},
		},
		{
			name: "garbage key file",
			setup: func(t *testing.T) config.SSHConfig {
				path := filepath.Join(t.TempDir(), "id_ed25519")
				if err := os.WriteFile(path, []byte("not a key"), 0o600); err != nil {
					t.Fatalf("failed to write key: %v", err)
				}
				return config.SSHConfig{User: "build", PrivateKeyFile: path}
			},
		},
		{
			name: "missing known hosts file",
			setup: func(t *testing.T) config.SSHConfig {
				keyPath, _ := writeTestKey(t)
				return config.SSHConfig{
					User:           "build",
					PrivateKeyFile: keyPath,
					KnownHostsFile: filepath.Join(t.TempDir(), "nope"),
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewClient(tt.setup(t)); err == nil {
				t.Error("NewClient() expected error")
			}
		})
	}
}

func TestProbe(t *testing.T) {
	keyPath, pub := writeTestKey(t)
	addr := startTestServer(t, pub, 0)
	c := clientFor(t, keyPath, addr)

	host, _, _ := net.SplitHostPort(addr)
	if err := c.Probe(context.Background(), host); err != nil {
		t.Errorf("Probe() error = %v", err)
	}
}

func TestProbeRejectedKey(t *testing.T) {
	keyPath, _ := writeTestKey(t)
	_, otherPub := writeTestKey(t)
	addr := startTestServer(t, otherPub, 0) // server trusts a different key
	c := clientFor(t, keyPath, addr)

	host, _, _ := net.SplitHostPort(addr)
	if err := c.Probe(context.Background(), host); err == nil {
		t.Error("Probe() with rejected key expected error")
	}
}

func TestProbeConnectionRefused(t *testing.T) {
	keyPath, _ := writeTestKey(t)

	// Reserve a port and close it so nothing is listening.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	addr := l.Addr().String()
	_ = l.Close()

	c := clientFor(t, keyPath, addr)
	host, _, _ := net.SplitHostPort(addr)
	if err := c.Probe(context.Background(), host); err == nil {
		t.Error("Probe() against closed port expected error")
	}
}

func TestRunScript(t *testing.T) {
	tests := []struct {
		name       string
		exitStatus uint32
	}{
		{name: "script succeeds", exitStatus: 0},
		{name: "script fails with status 7", exitStatus: 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			keyPath, pub := writeTestKey(t)
			addr := startTestServer(t, pub, tt.exitStatus)
			c := clientFor(t, keyPath, addr)
			host, _, _ := net.SplitHostPort(addr)

			script := strings.NewReader("echo hello\n")
			var stdout, stderr bytes.Buffer

			status, err := c.RunScript(context.Background(), host, script, &stdout, &stderr)
			if err != nil {
				t.Fatalf("RunScript() error = %v", err)
			}
			if status != int(tt.exitStatus) {
				t.Errorf("RunScript() status = %d, want %d", status, tt.exitStatus)
			}
			// The test server echoes stdin back.
			if !strings.Contains(stdout.String(), "echo hello") {
				t.Errorf("stdout = %q, want echoed script", stdout.String())
			}
		})
	}
}
