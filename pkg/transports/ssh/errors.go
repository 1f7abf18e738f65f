package ssh

import (
	"fmt"

	"github.com/openfroyo/deployer/pkg/faults"
)

// TransportError represents an error from the transport layer.
type TransportError struct {
	// Op is the operation that failed (e.g., "connect", "exec", "upload")
	Op string

	// Address is the remote host:port.
	Address string

	// Err is the underlying error
	Err error

	// IsTemporary indicates if the error is temporary and can be retried
	IsTemporary bool

	// IsAuthError indicates if the error is related to authentication
	IsAuthError bool
}

func (e *TransportError) Error() string {
	if e.Address != "" {
		return fmt.Sprintf("ssh %s %s: %v", e.Op, e.Address, e.Err)
	}
	return fmt.Sprintf("ssh %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Temporary reports whether retrying may succeed.
func (e *TransportError) Temporary() bool {
	return e.IsTemporary
}

// FaultClass classifies the error for faults.ClassOf.
func (e *TransportError) FaultClass() faults.Class {
	if e.IsTemporary {
		return faults.ClassTransient
	}
	return faults.ClassPermanent
}

// Help returns troubleshooting text.
func (e *TransportError) Help() string {
	if e.IsAuthError {
		return `SSH authentication failed.

1. Check ssh_credentials.private_key_path points to the key whose public half
   was installed on the instance (ssh_credentials.public_key_path).
2. Check ssh_credentials.username matches the user created by cloud-init.
3. Try 'ssh -i <private key> <user>@<address>' by hand.`
	}
	return ""
}

// ExitError is returned when a remote command ran and exited non-zero.
type ExitError struct {
	Command string
	Status  int
	Stderr  string
}

func (e *ExitError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("remote command exited with status %d: %s", e.Status, e.Stderr)
	}
	return fmt.Sprintf("remote command exited with status %d", e.Status)
}

// TraceFormat includes the command, which Error leaves out.
func (e *ExitError) TraceFormat() string {
	return fmt.Sprintf("%q exited with status %d\nstderr:\n%s", e.Command, e.Status, e.Stderr)
}
