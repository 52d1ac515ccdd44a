package transport

import (
	"fmt"
)

// ConnectError is returned when the remote host can't be reached.
type ConnectError struct {
	Address string
	Err     error
}

func (err ConnectError) Error() string {
	return fmt.Sprintf("connect to %s: %s", err.Address, err.Err)
}

func (err ConnectError) Unwrap() error {
	return err.Err
}

// AuthError is returned when the remote host rejects the credentials.
type AuthError struct {
	User string
	Err  error
}

func (err AuthError) Error() string {
	return fmt.Sprintf("authenticate as %s: %s", err.User, err.Err)
}

func (err AuthError) Unwrap() error {
	return err.Err
}

// FriendlyMessage is shown to the user when authentication fails.
func (err AuthError) FriendlyMessage() string {
	return fmt.Sprintf("The remote host rejected the credentials for %q.\n"+
		"Check the `username`, `password` and `key_file` options.", err.User)
}

// UntrustedHostError is returned when no fingerprint is configured for the
// remote host, and the user didn't ask to capture it.
type UntrustedHostError struct {
	Fingerprint string
}

func (err UntrustedHostError) Error() string {
	return fmt.Sprintf("untrusted host key %s", err.Fingerprint)
}

// FriendlyMessage is shown to the user when the host isn't trusted yet.
func (err UntrustedHostError) FriendlyMessage() string {
	return fmt.Sprintf("The remote host presented the key fingerprint\n\n"+
		"    %s\n\n"+
		"but no fingerprint is configured. If this is the right host, run "+
		"deploy with --capture-fingerprint to trust it.", err.Fingerprint)
}

// HostKeyMismatchError is returned when the remote host's key differs from
// the configured fingerprint.
type HostKeyMismatchError struct {
	Expected, Actual string
}

func (err HostKeyMismatchError) Error() string {
	return fmt.Sprintf("host key mismatch: expected %s, got %s", err.Expected, err.Actual)
}

// FriendlyMessage is shown to the user when the host key changed.
func (err HostKeyMismatchError) FriendlyMessage() string {
	return fmt.Sprintf("WARNING: the remote host's key has changed!\n"+
		"Expected fingerprint: %s\n"+
		"Actual fingerprint:   %s\n\n"+
		"Someone could be intercepting the connection. If the host key was "+
		"changed on purpose, run deploy with --capture-fingerprint.",
		err.Expected, err.Actual)
}
