// Package compose manages the released application's containers with
// docker compose on the instance, over SSH.
package compose

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/netip"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"github.com/openfroyo/deployer/pkg/environment"
	"github.com/openfroyo/deployer/pkg/telemetry"
	"github.com/openfroyo/deployer/pkg/transports/ssh"
)

// DefaultHealthTimeout bounds Healthy.
const DefaultHealthTimeout = 3 * time.Minute

// Executor runs a shell command on an instance.
type Executor interface {
	Output(ctx context.Context, env environment.Context, ip netip.Addr, command string) (*ssh.ExecResult, error)
}

var _ Executor = (*ssh.Remote)(nil)

// Container is one entry of docker compose ps.
type Container struct {
	Name     string `json:"Name"`
	Service  string `json:"Service"`
	State    string `json:"State"`
	Health   string `json:"Health"`
	ExitCode int    `json:"ExitCode"`
}

// Ready reports whether the container is running and, if it has a health
// check, healthy.
func (c Container) Ready() bool {
	return c.State == "running" && (c.Health == "" || c.Health == "healthy")
}

// Client runs docker compose in the application directory.
type Client struct {
	exec          Executor
	appDir        string
	healthTimeout time.Duration
	pollInterval  time.Duration
	logger        zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHealthTimeout sets how long Healthy waits.
func WithHealthTimeout(d time.Duration) Option {
	return func(c *Client) { c.healthTimeout = d }
}

// WithPollInterval sets the first Healthy retry delay.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) { c.pollInterval = d }
}

// New returns a Client for the compose project in appDir.
func New(exec Executor, appDir string, logger zerolog.Logger, opts ...Option) *Client {
	c := &Client{
		exec:          exec,
		appDir:        appDir,
		healthTimeout: DefaultHealthTimeout,
		pollInterval:  2 * time.Second,
		logger:        logger.With().Str("component", "compose").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) compose(ctx context.Context, env environment.Context, ip netip.Addr, op string, args ...string) (*ssh.ExecResult, error) {
	cmd := "cd " + c.appDir + " && docker compose " + strings.Join(append([]string{op}, args...), " ")
	var result *ssh.ExecResult
	err := telemetry.RecordToolInvocation(ctx, "docker-compose", op, func(ctx context.Context) error {
		var err error
		result, err = c.exec.Output(ctx, env, ip, cmd)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("docker compose %s: %w", op, err)
	}
	return result, nil
}

// Pull downloads every service image.
func (c *Client) Pull(ctx context.Context, env environment.Context, ip netip.Addr) error {
	_, err := c.compose(ctx, env, ip, "pull", "--quiet")
	return err
}

// Up starts the services in the background.
func (c *Client) Up(ctx context.Context, env environment.Context, ip netip.Addr) error {
	_, err := c.compose(ctx, env, ip, "up", "--detach", "--remove-orphans")
	return err
}

// Down stops and removes the services.
func (c *Client) Down(ctx context.Context, env environment.Context, ip netip.Addr) error {
	_, err := c.compose(ctx, env, ip, "down")
	return err
}

// Status lists the project's containers.
func (c *Client) Status(ctx context.Context, env environment.Context, ip netip.Addr) ([]Container, error) {
	result, err := c.compose(ctx, env, ip, "ps", "--all", "--format", "json")
	if err != nil {
		return nil, err
	}
	return ParsePS(result.Stdout)
}

// Healthy waits until every container is ready. A container that exited
// fails immediately.
func (c *Client) Healthy(ctx context.Context, env environment.Context, ip netip.Addr) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.pollInterval

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		containers, err := c.Status(ctx, env, ip)
		if err != nil {
			return struct{}{}, err
		}
		if len(containers) == 0 {
			return struct{}{}, errors.New("no containers are running")
		}
		var pending []string
		for _, ct := range containers {
			if ct.State == "exited" || ct.State == "dead" {
				return struct{}{}, backoff.Permanent(&UnhealthyError{Container: ct})
			}
			if !ct.Ready() {
				pending = append(pending, ct.Service+" ("+describe(ct)+")")
			}
		}
		if len(pending) > 0 {
			sort.Strings(pending)
			return struct{}{}, fmt.Errorf("waiting for %s", strings.Join(pending, ", "))
		}
		return struct{}{}, nil
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxElapsedTime(c.healthTimeout),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.logger.Debug().Err(err).Dur("retry_in", next).Msg("Services not ready yet")
		}),
	)
	if err != nil {
		return fmt.Errorf("services did not become healthy: %w", err)
	}
	return nil
}

func describe(c Container) string {
	if c.Health != "" {
		return c.State + ", " + c.Health
	}
	return c.State
}

// ParsePS decodes docker compose ps --format json. Compose v2.21 and later
// print one object per line; older releases print a single array.
func ParsePS(out string) ([]Container, error) {
	out = strings.TrimSpace(out)
	if out == "" {
		return nil, nil
	}
	if strings.HasPrefix(out, "[") {
		var containers []Container
		if err := json.Unmarshal([]byte(out), &containers); err != nil {
			return nil, fmt.Errorf("parse docker compose ps output: %w", err)
		}
		return containers, nil
	}

	var containers []Container
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var ct Container
		if err := json.Unmarshal([]byte(line), &ct); err != nil {
			return nil, fmt.Errorf("parse docker compose ps output: %w", err)
		}
		containers = append(containers, ct)
	}
	return containers, scanner.Err()
}

// UnhealthyError reports a container that stopped.
type UnhealthyError struct {
	Container Container
}

func (e *UnhealthyError) Error() string {
	return fmt.Sprintf("service %s is %s (exit code %d)", e.Container.Service, e.Container.State, e.Container.ExitCode)
}

// Help returns troubleshooting steps.
func (e *UnhealthyError) Help() string {
	return "Inspect the container logs on the instance: docker compose logs " + e.Container.Service
}
