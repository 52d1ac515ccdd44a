package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"strings"
	"time"

	"github.com/pkg/sftp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"golang.org/x/crypto/ssh"
	"golang.org/x/term"

	"github.com/sidkik/deploy/pkg/errors"
)

// Mocked out for unit testing.
var (
	fs           = afero.NewOsFs()
	readPassword = readPasswordImpl
)

// SFTP is a Transport that logs in over SSH and transfers files with the
// SFTP subsystem.
type SFTP struct{}

// Connect implements the Transport interface.
func (SFTP) Connect(ctx context.Context, endpoint Endpoint) (Session, error) {
	auth, err := authMethods(endpoint)
	if err != nil {
		return nil, errors.WithContext(err, "load credentials")
	}

	// The host key callback runs during the handshake, before any credentials
	// are sent. Its result is kept so that a rejected key can be told apart
	// from other handshake failures.
	var fingerprint string
	var hostKeyErr error
	config := &ssh.ClientConfig{
		User: endpoint.User,
		Auth: auth,
		HostKeyCallback: func(_ string, _ net.Addr, key ssh.PublicKey) error {
			fingerprint = ssh.FingerprintSHA256(key)
			if endpoint.VerifyHostKey == nil {
				hostKeyErr = errors.New("no host key verifier configured")
			} else {
				hostKeyErr = endpoint.VerifyHostKey(fingerprint)
			}
			return hostKeyErr
		},
		Timeout: endpoint.Timeout,
	}

	address := endpoint.Address()
	dialer := net.Dialer{Timeout: endpoint.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, ConnectError{Address: address, Err: err}
	}

	// ssh.NewClientConn isn't context aware, so abort the handshake by
	// closing the connection if the context is cancelled.
	handshakeDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-handshakeDone:
		}
	}()
	if endpoint.Timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(endpoint.Timeout))
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, address, config)
	close(handshakeDone)
	if err != nil {
		conn.Close()
		switch {
		case hostKeyErr != nil:
			return nil, hostKeyErr
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case fingerprint != "" && strings.Contains(err.Error(), "unable to authenticate"):
			return nil, AuthError{User: endpoint.User, Err: err}
		}
		return nil, ConnectError{Address: address, Err: err}
	}
	_ = conn.SetDeadline(time.Time{})

	sshClient := ssh.NewClient(sshConn, chans, reqs)
	sftpClient, err := sftp.NewClient(sshClient)
	if err != nil {
		sshClient.Close()
		return nil, errors.WithContext(err, "start sftp subsystem")
	}

	log.WithFields(log.Fields{
		"address":     address,
		"user":        endpoint.User,
		"fingerprint": fingerprint,
	}).Debug("Connected")
	return newSFTPSession(sftpClient, sshClient, fingerprint), nil
}

func authMethods(endpoint Endpoint) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod
	if endpoint.KeyFile != "" {
		signer, err := loadSigner(endpoint.KeyFile, endpoint.KeyPassphrase)
		if err != nil {
			return nil, errors.WithContext(err, fmt.Sprintf("load key %q", endpoint.KeyFile))
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}

	if endpoint.Password != "" {
		methods = append(methods, ssh.Password(endpoint.Password))

		// Some servers only accept passwords through keyboard-interactive.
		answer := func(_, _ string, questions []string, _ []bool) ([]string, error) {
			answers := make([]string, len(questions))
			for i := range answers {
				answers[i] = endpoint.Password
			}
			return answers, nil
		}
		methods = append(methods, ssh.KeyboardInteractive(answer))
	}

	if len(methods) == 0 {
		return nil, errors.New("neither a password nor a key file is configured")
	}
	return methods, nil
}

func loadSigner(keyPath, passphrase string) (ssh.Signer, error) {
	keyBytes, err := afero.ReadFile(fs, keyPath)
	if err != nil {
		return nil, errors.WithContext(err, "read")
	}

	signer, err := ssh.ParsePrivateKey(keyBytes)
	var missingPassphrase *ssh.PassphraseMissingError
	if !errors.As(err, &missingPassphrase) {
		return signer, err
	}

	if passphrase == "" {
		passphrase, err = readPassword(fmt.Sprintf("Enter passphrase for %s: ", keyPath))
		if err != nil {
			return nil, errors.WithContext(err, "read passphrase")
		}
	}
	return ssh.ParsePrivateKeyWithPassphrase(keyBytes, []byte(passphrase))
}

func readPasswordImpl(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("the key is encrypted, but stdin isn't a terminal; " +
			"set the key_passphrase option")
	}

	fmt.Fprint(os.Stderr, prompt)
	passphrase, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	return string(passphrase), err
}

type sftpSession struct {
	client      *sftp.Client
	conn        io.Closer
	fingerprint string

	// createdDirs caches the remote directories known to exist, so that
	// uploading many files to the same directory doesn't stat it every time.
	createdDirs map[string]struct{}
}

func newSFTPSession(client *sftp.Client, conn io.Closer, fingerprint string) *sftpSession {
	return &sftpSession{
		client:      client,
		conn:        conn,
		fingerprint: fingerprint,
		createdDirs: map[string]struct{}{},
	}
}

func (s *sftpSession) Fingerprint() string {
	return s.fingerprint
}

func (s *sftpSession) MkdirAll(dir string) error {
	dir = path.Clean(dir)
	if _, ok := s.createdDirs[dir]; ok {
		return nil
	}

	if err := s.client.MkdirAll(dir); err != nil {
		return errors.WithContext(err, fmt.Sprintf("mkdir %s", dir))
	}

	for ; dir != "/" && dir != "." && dir != ""; dir = path.Dir(dir) {
		s.createdDirs[dir] = struct{}{}
	}
	return nil
}

func (s *sftpSession) Upload(ctx context.Context, localPath, remotePath string) (int64, error) {
	src, err := fs.Open(localPath)
	if err != nil {
		return 0, errors.WithContext(err, "open local file")
	}
	defer src.Close()

	dst, err := s.client.Create(remotePath)
	if err != nil {
		return 0, errors.WithContext(err, fmt.Sprintf("create %s", remotePath))
	}

	n, err := io.Copy(dst, contextReader{ctx, src})
	if err != nil {
		dst.Close()
		return n, errors.WithContext(err, "copy")
	}

	if err := dst.Close(); err != nil {
		return n, errors.WithContext(err, "close remote file")
	}
	return n, nil
}

func (s *sftpSession) Remove(remotePath string) error {
	err := s.client.Remove(remotePath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return errors.WithContext(err, fmt.Sprintf("remove %s", remotePath))
	}
	return nil
}

func (s *sftpSession) Close() error {
	err := s.client.Close()
	if s.conn != nil {
		if connErr := s.conn.Close(); err == nil {
			err = connErr
		}
	}
	return err
}

// contextReader stops reading once its context is cancelled.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (r contextReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}
