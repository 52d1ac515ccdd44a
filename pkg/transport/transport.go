// Package transport connects to the remote host that files are deployed to.
package transport

import (
	"context"
	"fmt"
	"time"
)

// Transport opens sessions with a remote host.
type Transport interface {
	// Connect dials the endpoint, verifies the host's identity with
	// Endpoint.VerifyHostKey, and authenticates.
	Connect(ctx context.Context, endpoint Endpoint) (Session, error)
}

// Session is an authenticated connection to the remote host. Sessions aren't
// safe for concurrent use.
type Session interface {
	// Fingerprint returns the fingerprint of the host key presented by the
	// remote host.
	Fingerprint() string

	// MkdirAll creates the remote directory `path` and any missing parents.
	MkdirAll(path string) error

	// Upload copies the local file at `localPath` to `remotePath`, replacing
	// it if it exists. It returns the number of bytes written.
	Upload(ctx context.Context, localPath, remotePath string) (int64, error)

	// Remove deletes the remote file at `remotePath`. Removing a file that
	// doesn't exist isn't an error.
	Remove(remotePath string) error

	// Close ends the session.
	Close() error
}

// Endpoint describes how to reach and log into the remote host.
type Endpoint struct {
	Host string
	Port int
	User string

	// Password is used for password authentication if it's set.
	Password string

	// KeyFile is the path to a private key used for public key
	// authentication. KeyPassphrase decrypts it if it's encrypted.
	KeyFile       string
	KeyPassphrase string

	// Timeout bounds how long it takes to establish the TCP connection.
	Timeout time.Duration

	// VerifyHostKey is called with the fingerprint of the remote host's key
	// before authenticating. The connection is aborted if it returns an
	// error.
	VerifyHostKey func(fingerprint string) error
}

// Address returns the host:port pair to dial.
func (e Endpoint) Address() string {
	return fmt.Sprintf("%s:%d", e.Host, e.Port)
}
