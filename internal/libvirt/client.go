package libvirt

import (
	"context"
	"fmt"
	"time"

	"github.com/digitalocean/go-libvirt"
	"github.com/digitalocean/go-libvirt/socket/dialers"
)

// DefaultSocketPath is the local libvirt daemon socket (qemu:///system).
const DefaultSocketPath = "/var/run/libvirt/libvirt-sock"

// dialTimeout bounds the socket dial itself; the caller's context bounds
// the whole handshake.
const dialTimeout = 5 * time.Second

// Client wraps a go-libvirt connection.
type Client struct {
	lv *libvirt.Libvirt
}

// Connect establishes a connection to the libvirt daemon at socketPath,
// or DefaultSocketPath when empty. go-libvirt's handshake takes no
// context, so it runs in a goroutine and the context abandons it on
// cancellation. The returned Client must be released via Close.
func Connect(ctx context.Context, socketPath string) (*Client, error) {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}

	lv := libvirt.NewWithDialer(dialers.NewLocal(
		dialers.WithSocket(socketPath),
		dialers.WithLocalTimeout(dialTimeout),
	))

	done := make(chan error, 1)
	go func() { done <- lv.Connect() }()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("connection to libvirt cancelled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return nil, fmt.Errorf("failed to connect to libvirt at %s: %w", socketPath, err)
		}
	}

	return &Client{lv: lv}, nil
}

// Close disconnects from the daemon.
func (c *Client) Close() error {
	if c.lv == nil {
		return nil
	}

	if err := c.lv.Disconnect(); err != nil {
		return fmt.Errorf("failed to disconnect from libvirt: %w", err)
	}

	return nil
}

// Libvirt returns the underlying go-libvirt client for direct API access.
func (c *Client) Libvirt() *libvirt.Libvirt {
	return c.lv
}
