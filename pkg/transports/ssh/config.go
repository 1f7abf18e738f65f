package ssh

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/openfroyo/deployer/pkg/environment"
)

// AuthMethod represents the type of SSH authentication.
type AuthMethod string

const (
	// AuthMethodKey uses private key authentication
	AuthMethodKey AuthMethod = "key"

	// AuthMethodPassword uses password authentication
	AuthMethodPassword AuthMethod = "password"
)

// Config holds SSH connection configuration.
type Config struct {
	// Host is the remote hostname or IP address
	Host string

	// Port is the SSH port (default: 22)
	Port int

	// User is the SSH username
	User string

	// AuthMethod specifies which authentication method to use
	AuthMethod AuthMethod

	// Password for password-based authentication
	Password string

	// PrivateKeyPath is the path to the private key file
	PrivateKeyPath string

	// PrivateKeyPassphrase is the passphrase for encrypted private keys
	PrivateKeyPassphrase string

	// KnownHostsPath is the known_hosts file used when StrictHostKeyChecking is set.
	KnownHostsPath string

	// StrictHostKeyChecking rejects hosts missing from KnownHostsPath.
	// Freshly provisioned instances have no known key, so it is off by default.
	StrictHostKeyChecking bool

	// ConnectionTimeout bounds the TCP dial and SSH handshake.
	ConnectionTimeout time.Duration

	// CommandTimeout bounds a single command when the context has no deadline.
	CommandTimeout time.Duration
}

// DefaultConfig returns a key-authenticated Config with default timeouts.
func DefaultConfig(host string, user string) *Config {
	return &Config{
		Host:              host,
		Port:              22,
		User:              user,
		AuthMethod:        AuthMethodKey,
		ConnectionTimeout: 10 * time.Second,
		CommandTimeout:    10 * time.Minute,
	}
}

// ConfigFor builds the connection settings of an environment's instance.
func ConfigFor(env environment.Context, ip netip.Addr) *Config {
	cfg := DefaultConfig(ip.String(), env.UserInputs.SSH.Username)
	cfg.Port = env.UserInputs.SSHPort
	cfg.PrivateKeyPath = env.UserInputs.SSH.PrivateKeyPath
	return cfg
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	var errs []error
	if c.Host == "" {
		errs = append(errs, errors.New("host is required"))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid port: %d", c.Port))
	}
	if c.User == "" {
		errs = append(errs, errors.New("user is required"))
	}

	switch c.AuthMethod {
	case AuthMethodPassword:
		if c.Password == "" {
			errs = append(errs, errors.New("password is required for password authentication"))
		}
	case AuthMethodKey:
		if c.PrivateKeyPath == "" {
			errs = append(errs, errors.New("private key path is required for key authentication"))
		} else if _, err := os.Stat(c.PrivateKeyPath); err != nil {
			errs = append(errs, fmt.Errorf("private key file not readable: %w", err))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported auth method: %s", c.AuthMethod))
	}

	if c.StrictHostKeyChecking && c.KnownHostsPath == "" {
		errs = append(errs, errors.New("known hosts path is required for strict host key checking"))
	}
	if c.ConnectionTimeout <= 0 {
		errs = append(errs, errors.New("connection timeout must be positive"))
	}
	if c.CommandTimeout <= 0 {
		errs = append(errs, errors.New("command timeout must be positive"))
	}
	return errors.Join(errs...)
}

// BuildSSHClientConfig creates an ssh.ClientConfig from the Config.
func (c *Config) BuildSSHClientConfig() (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod

	switch c.AuthMethod {
	case AuthMethodPassword:
		auth = append(auth,
			ssh.Password(c.Password),
			// Many servers only offer keyboard-interactive for passwords.
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = c.Password
				}
				return answers, nil
			}),
		)

	case AuthMethodKey:
		keyBytes, err := os.ReadFile(c.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read private key: %w", err)
		}

		var signer ssh.Signer
		if c.PrivateKeyPassphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(keyBytes, []byte(c.PrivateKeyPassphrase))
		} else {
			signer, err = ssh.ParsePrivateKey(keyBytes)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))

	default:
		return nil, fmt.Errorf("unsupported auth method: %s", c.AuthMethod)
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if c.StrictHostKeyChecking {
		cb, err := knownhosts.New(c.KnownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load known_hosts: %w", err)
		}
		hostKeyCallback = cb
	}

	return &ssh.ClientConfig{
		User:            c.User,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         c.ConnectionTimeout,
	}, nil
}

// Address returns the host:port dial address. IPv6 hosts are bracketed.
func (c *Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
