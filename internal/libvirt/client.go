package libvirt

import (
	"context"
	"fmt"
	"time"

	"github.com/digitalocean/go-libvirt"
	"github.com/digitalocean/go-libvirt/socket/dialers"
	"github.com/sirupsen/logrus"
)

// Defaults for Options.
const (
	DefaultSocket  = "/var/run/libvirt/libvirt-sock"
	DefaultTimeout = 5 * time.Second
)

// Options selects the libvirt daemon to connect to.
type Options struct {
	Socket  string        // Unix socket of the daemon (qemu:///system)
	Timeout time.Duration // Dial timeout
	Log     *logrus.Entry
}

func (o Options) withDefaults() Options {
	if o.Socket == "" {
		o.Socket = DefaultSocket
	}
	if o.Timeout == 0 {
		o.Timeout = DefaultTimeout
	}
	if o.Log == nil {
		o.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	return o
}

// Client wraps a go-libvirt connection.
type Client struct {
	libvirt *libvirt.Libvirt
	log     *logrus.Entry
}

// Connect establishes a connection to the local libvirt daemon.
// It returns a Client that must be closed via Close() when done.
func Connect(opts Options) (*Client, error) {
	opts = opts.withDefaults()

	dialer := dialers.NewLocal(
		dialers.WithSocket(opts.Socket),
		dialers.WithLocalTimeout(opts.Timeout),
	)

	l := libvirt.NewWithDialer(dialer)
	if err := l.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to libvirt at %s: %w", opts.Socket, err)
	}

	log := opts.Log.WithField("socket", opts.Socket)
	log.Debug("Connected to libvirt")
	return &Client{libvirt: l, log: log}, nil
}

// ConnectWithContext establishes a connection with context support for cancellation.
func ConnectWithContext(ctx context.Context, opts Options) (*Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("connection cancelled: %w", err)
	}

	type result struct {
		client *Client
		err    error
	}
	resultCh := make(chan result, 1)

	go func() {
		c, err := Connect(opts)
		resultCh <- result{client: c, err: err}
	}()

	select {
	case <-ctx.Done():
		// A connection completing after cancellation is closed.
		go func() {
			if res := <-resultCh; res.client != nil {
				_ = res.client.Close()
			}
		}()
		return nil, fmt.Errorf("connection cancelled: %w", ctx.Err())
	case res := <-resultCh:
		return res.client, res.err
	}
}

// Close closes the libvirt connection and releases resources.
// It is safe to call Close multiple times.
func (c *Client) Close() error {
	if c.libvirt == nil {
		return nil
	}

	l := c.libvirt
	c.libvirt = nil
	if err := l.Disconnect(); err != nil {
		return fmt.Errorf("failed to disconnect from libvirt: %w", err)
	}

	if c.log != nil {
		c.log.Debug("Disconnected from libvirt")
	}
	return nil
}

// Libvirt returns the underlying go-libvirt client. It satisfies the
// consumer-side interfaces such as storage.LibvirtClient.
func (c *Client) Libvirt() *libvirt.Libvirt {
	return c.libvirt
}

// Ping verifies the connection is still alive.
func (c *Client) Ping() error {
	_, err := c.Version()
	return err
}

// Version returns the libvirt library version as major.minor.release.
func (c *Client) Version() (string, error) {
	if c.libvirt == nil {
		return "", fmt.Errorf("client not connected")
	}

	v, err := c.libvirt.ConnectGetLibVersion()
	if err != nil {
		return "", fmt.Errorf("libvirt connection is dead: %w", err)
	}
	return FormatVersion(v), nil
}

// FormatVersion renders a libvirt version number (major*1e6 + minor*1e3 +
// release) as a dotted string.
func FormatVersion(v uint64) string {
	return fmt.Sprintf("%d.%d.%d", v/1000000, (v/1000)%1000, v%1000)
}
