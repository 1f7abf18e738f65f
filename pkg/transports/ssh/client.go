// Package ssh runs commands on and uploads files to provisioned instances
// over SSH and SFTP.
package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
)

// ExecResult is the outcome of a remote command.
type ExecResult struct {
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Client is a single SSH connection to one host.
type Client struct {
	config *Config
	logger zerolog.Logger

	mu     sync.Mutex
	client *ssh.Client
}

// NewClient validates config and returns an unconnected client.
func NewClient(config *Config, logger zerolog.Logger) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid SSH config: %w", err)
	}
	return &Client{
		config: config,
		logger: logger.With().Str("component", "ssh").Str("address", config.Address()).Logger(),
	}, nil
}

// Connect dials the host and completes the SSH handshake. Connecting an
// already connected client is a no-op.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		return nil
	}

	clientConfig, err := c.config.BuildSSHClientConfig()
	if err != nil {
		return fmt.Errorf("failed to build SSH client config: %w", err)
	}

	addr := c.config.Address()
	dialer := net.Dialer{Timeout: c.config.ConnectionTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return &TransportError{Op: "connect", Address: addr, Err: err, IsTemporary: true}
	}

	// The handshake ignores ctx, so bound it with a deadline instead.
	deadline := time.Now().Add(c.config.ConnectionTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, clientConfig)
	if err != nil {
		conn.Close()
		return &TransportError{
			Op:          "connect",
			Address:     addr,
			Err:         err,
			IsTemporary: !isAuthFailure(err),
			IsAuthError: isAuthFailure(err),
		}
	}
	_ = conn.SetDeadline(time.Time{})

	c.client = ssh.NewClient(sshConn, chans, reqs)
	c.logger.Debug().Str("user", c.config.User).Msg("SSH connection established")
	return nil
}

func isAuthFailure(err error) bool {
	return strings.Contains(err.Error(), "unable to authenticate")
}

// IsConnected reports whether Connect succeeded and Close was not called.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client != nil
}

// Close closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.client = nil
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return &TransportError{Op: "disconnect", Address: c.config.Address(), Err: err}
	}
	return nil
}

func (c *Client) conn() (*ssh.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil, &TransportError{Op: "session", Address: c.config.Address(), Err: errors.New("not connected")}
	}
	return c.client, nil
}

// Run executes command in a new session. A non-zero exit is returned as an
// *ExitError. When ctx is done the remote process is signalled and ctx.Err
// is returned.
func (c *Client) Run(ctx context.Context, command string) (*ExecResult, error) {
	client, err := c.conn()
	if err != nil {
		return nil, err
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.CommandTimeout)
		defer cancel()
	}

	session, err := client.NewSession()
	if err != nil {
		return nil, &TransportError{
			Op:          "exec",
			Address:     c.config.Address(),
			Err:         fmt.Errorf("failed to create session: %w", err),
			IsTemporary: true,
		}
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	c.logger.Debug().Str("command", command).Msg("Running remote command")
	start := time.Now()

	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()

	var runErr error
	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGTERM)
		runErr = ctx.Err()
	case runErr = <-done:
	}

	result := &ExecResult{
		Stdout:   strings.TrimSpace(stdout.String()),
		Stderr:   strings.TrimSpace(stderr.String()),
		Duration: time.Since(start),
	}
	c.logger.Debug().
		Str("command", command).
		Dur("duration", result.Duration).
		Err(runErr).
		Msg("Remote command finished")

	var exitErr *ssh.ExitError
	switch {
	case runErr == nil:
		return result, nil
	case errors.As(runErr, &exitErr):
		return result, &ExitError{Command: command, Status: exitErr.ExitStatus(), Stderr: result.Stderr}
	case errors.Is(runErr, context.Canceled), errors.Is(runErr, context.DeadlineExceeded):
		return result, runErr
	default:
		return result, &TransportError{Op: "exec", Address: c.config.Address(), Err: runErr, IsTemporary: true}
	}
}
