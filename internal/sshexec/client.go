// Package sshexec provides remote shell access to runner VMs: a
// non-interactive authentication probe used as the shell readiness check,
// and script execution over stdin on the guest's build account.
package sshexec

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/forgeci/vmrunner/internal/config"
)

// Client dials runner VMs with a fixed identity key and account.
type Client struct {
	user        string
	port        string
	signer      ssh.Signer
	hostKeyCb   ssh.HostKeyCallback
	dialTimeout time.Duration
}

// NewClient builds a Client from the runner SSH configuration.
//
// When no known_hosts file is configured, host key verification is disabled.
// That is a deliberate trust decision for single-use VMs on an isolated
// virtualization network; it is not safe anywhere a VM address can be reused
// or spoofed, which is why the known_hosts mode exists.
func NewClient(cfg config.SSHConfig) (*Client, error) {
	key, err := os.ReadFile(cfg.PrivateKeyFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read private key: %w", err)
	}

	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("unable to parse private key %s: %w", cfg.PrivateKeyFile, err)
	}

	hostKeyCb := ssh.InsecureIgnoreHostKey() //nolint:gosec // single-use hosts on an isolated network
	if cfg.KnownHostsFile != "" {
		hostKeyCb, err = knownhosts.New(cfg.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("unable to load known hosts %s: %w", cfg.KnownHostsFile, err)
		}
	}

	port := cfg.Port
	if port == "" {
		port = "22"
	}

	return &Client{
		user:        cfg.User,
		port:        port,
		signer:      signer,
		hostKeyCb:   hostKeyCb,
		dialTimeout: 10 * time.Second,
	}, nil
}

func (c *Client) dial(ctx context.Context, host string) (*ssh.Client, error) {
	sshCfg := &ssh.ClientConfig{
		User: c.user,
		Auth: []ssh.AuthMethod{
			ssh.PublicKeys(c.signer),
		},
		HostKeyCallback: c.hostKeyCb,
		Timeout:         c.dialTimeout,
	}

	addr := net.JoinHostPort(host, c.port)

	d := net.Dialer{Timeout: c.dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to %s: %w", addr, err)
	}

	cc, chans, reqs, err := ssh.NewClientConn(conn, addr, sshCfg)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("SSH handshake with %s failed: %w", addr, err)
	}

	return ssh.NewClient(cc, chans, reqs), nil
}

// Probe attempts a full connect-and-authenticate round trip and closes the
// connection. A nil return means the guest's SSH daemon is up and the
// runner key is accepted.
func (c *Client) Probe(ctx context.Context, host string) error {
	conn, err := c.dial(ctx, host)
	if err != nil {
		return err
	}
	return conn.Close()
}

// RunScript streams script to the remote account's default shell and
// returns the remote exit status. A non-zero status is not an error: the
// session was established and the script ran; what it returned is the job's
// business. A non-nil error means the session itself could not be
// established or completed.
func (c *Client) RunScript(ctx context.Context, host string, script io.Reader, stdout, stderr io.Writer) (int, error) {
	conn, err := c.dial(ctx, host)
	if err != nil {
		return 0, err
	}
	defer func() { _ = conn.Close() }()

	session, err := conn.NewSession()
	if err != nil {
		return 0, fmt.Errorf("unable to create SSH session: %w", err)
	}
	defer func() { _ = session.Close() }()

	session.Stdin = script
	session.Stdout = stdout
	session.Stderr = stderr

	// Start the account's default shell with the script on stdin; the shell
	// exits at EOF and its status propagates back.
	if err := session.Shell(); err != nil {
		return 0, fmt.Errorf("unable to start remote shell: %w", err)
	}

	done := make(chan error, 1)
	go func() { done <- session.Wait() }()

	select {
	case <-ctx.Done():
		_ = session.Close()
		return 0, fmt.Errorf("remote execution cancelled: %w", ctx.Err())
	case err := <-done:
		if err == nil {
			return 0, nil
		}
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitStatus(), nil
		}
		return 0, fmt.Errorf("remote session failed: %w", err)
	}
}
