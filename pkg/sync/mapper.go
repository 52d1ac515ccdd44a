package sync

import (
	"path"
	"path/filepath"

	"github.com/sidkik/deploy/pkg/errors"
)

// RemotePath returns where `localPath` lives on the remote host. The path
// relative to `localRoot` is appended to `remoteRoot`, and its extension is
// replaced by `extension` if a transform changed it.
//
// The same mapping is used to upload a file and to delete it once it's
// removed locally, so the two must never diverge.
func RemotePath(localPath, localRoot, remoteRoot, extension string) (string, error) {
	relativePath, err := filepath.Rel(localRoot, localPath)
	if err != nil || !isChild(localRoot, localPath) || relativePath == "." {
		return "", errors.New("%q is not a file under %q", localPath, localRoot)
	}

	if extension != Extension(relativePath) {
		relativePath = replaceExtension(relativePath, extension)
	}

	// path.Join cleans the result, which collapses the doubled separators
	// that come from a remote root with a trailing slash.
	return path.Join(remoteRoot, filepath.ToSlash(relativePath)), nil
}
