package transport

import (
	"context"

	log "github.com/sirupsen/logrus"
)

// DryRun is a Session that only logs the operations it's asked to perform.
type DryRun struct {
	Log *log.Logger
}

// Fingerprint implements the Session interface.
func (DryRun) Fingerprint() string {
	return ""
}

// MkdirAll implements the Session interface.
func (s DryRun) MkdirAll(dir string) error {
	s.Log.WithField("path", dir).Debug("Would create remote directory")
	return nil
}

// Upload implements the Session interface.
func (s DryRun) Upload(_ context.Context, localPath, remotePath string) (int64, error) {
	fi, err := fs.Stat(localPath)
	if err != nil {
		return 0, err
	}

	s.Log.WithFields(log.Fields{
		"local":  localPath,
		"remote": remotePath,
	}).Info("Would upload")
	return fi.Size(), nil
}

// Remove implements the Session interface.
func (s DryRun) Remove(remotePath string) error {
	s.Log.WithField("remote", remotePath).Info("Would remove")
	return nil
}

// Close implements the Session interface.
func (DryRun) Close() error {
	return nil
}
