package ssh

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"github.com/openfroyo/deployer/pkg/environment"
	"github.com/openfroyo/deployer/pkg/telemetry"
)

const (
	// DefaultReachTimeout bounds WaitReachable. New instances usually
	// accept logins within a minute or two of boot.
	DefaultReachTimeout = 5 * time.Minute

	defaultPollInterval = 2 * time.Second
	maxPollInterval     = 15 * time.Second
)

// Remote runs commands on and copies files to environment instances. Each
// call opens its own connection.
type Remote struct {
	logger       zerolog.Logger
	reachTimeout time.Duration
	pollInterval time.Duration
	configure    func(*Config)
}

// RemoteOption configures a Remote.
type RemoteOption func(*Remote)

// WithReachTimeout sets how long WaitReachable keeps trying.
func WithReachTimeout(d time.Duration) RemoteOption {
	return func(r *Remote) { r.reachTimeout = d }
}

// WithPollInterval sets the first WaitReachable retry delay.
func WithPollInterval(d time.Duration) RemoteOption {
	return func(r *Remote) { r.pollInterval = d }
}

// WithConfig lets the caller adjust every connection config, for example to
// enable strict host key checking.
func WithConfig(fn func(*Config)) RemoteOption {
	return func(r *Remote) { r.configure = fn }
}

// NewRemote returns a Remote logging to logger.
func NewRemote(logger zerolog.Logger, opts ...RemoteOption) *Remote {
	r := &Remote{
		logger:       logger,
		reachTimeout: DefaultReachTimeout,
		pollInterval: defaultPollInterval,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Open connects to the instance. The caller closes the client.
func (r *Remote) Open(ctx context.Context, env environment.Context, ip netip.Addr) (*Client, error) {
	cfg := ConfigFor(env, ip)
	if r.configure != nil {
		r.configure(cfg)
	}
	client, err := NewClient(cfg, r.logger)
	if err != nil {
		return nil, err
	}
	if err := client.Connect(ctx); err != nil {
		return nil, err
	}
	return client, nil
}

// WaitReachable retries logging in and running "true" until it works or the
// reach timeout passes. Authentication failures are retried too, because
// cloud-init creates the login user after sshd starts.
func (r *Remote) WaitReachable(ctx context.Context, env environment.Context, ip netip.Addr) error {
	return telemetry.RecordToolInvocation(ctx, "ssh", "wait_reachable", func(ctx context.Context) error {
		policy := backoff.NewExponentialBackOff()
		policy.InitialInterval = r.pollInterval
		policy.MaxInterval = max(r.pollInterval, maxPollInterval)

		attempts := 0
		_, err := backoff.Retry(ctx, func() (struct{}, error) {
			attempts++
			client, err := r.Open(ctx, env, ip)
			if err != nil {
				var te *TransportError
				if !errors.As(err, &te) {
					// Bad local config never fixes itself.
					return struct{}{}, backoff.Permanent(err)
				}
				return struct{}{}, err
			}
			defer client.Close()
			_, err = client.Run(ctx, "true")
			return struct{}{}, err
		},
			backoff.WithBackOff(policy),
			backoff.WithMaxElapsedTime(r.reachTimeout),
			backoff.WithNotify(func(err error, next time.Duration) {
				r.logger.Debug().Err(err).Str("ip", ip.String()).Dur("retry_in", next).Msg("Instance not reachable yet")
			}),
		)
		if err != nil {
			return fmt.Errorf("instance %s not reachable over SSH after %d attempts: %w", ip, attempts, err)
		}
		r.logger.Debug().Str("ip", ip.String()).Int("attempts", attempts).Msg("Instance reachable over SSH")
		return nil
	})
}

// Run executes command on the instance.
func (r *Remote) Run(ctx context.Context, env environment.Context, ip netip.Addr, command string) error {
	_, err := r.Output(ctx, env, ip, command)
	return err
}

// Output executes command on the instance and returns its result.
func (r *Remote) Output(ctx context.Context, env environment.Context, ip netip.Addr, command string) (*ExecResult, error) {
	var result *ExecResult
	err := telemetry.RecordToolInvocation(ctx, "ssh", "exec", func(ctx context.Context) error {
		client, err := r.Open(ctx, env, ip)
		if err != nil {
			return err
		}
		defer client.Close()
		result, err = client.Run(ctx, command)
		return err
	})
	return result, err
}

// Upload copies localDir into remoteDir on the instance.
func (r *Remote) Upload(ctx context.Context, env environment.Context, ip netip.Addr, localDir, remoteDir string) error {
	return telemetry.RecordToolInvocation(ctx, "ssh", "upload", func(ctx context.Context) error {
		client, err := r.Open(ctx, env, ip)
		if err != nil {
			return err
		}
		defer client.Close()
		_, err = client.Upload(ctx, localDir, remoteDir)
		return err
	})
}
