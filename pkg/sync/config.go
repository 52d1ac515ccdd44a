package sync

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/spf13/afero"

	"github.com/sidkik/deploy/pkg/errors"
)

// Mocked out for unit testing.
var fs = afero.NewOsFs()

// SetFs replaces the filesystem used by the package. It's meant for tests in
// other packages that drive the sync engine.
func SetFs(newFs afero.Fs) {
	fs = newFs
}

// HashFile returns the hex encoded xxhash64 digest of the file at the given
// path. The digest is only used to detect changes, not to verify integrity.
func HashFile(path string) (string, error) {
	f, err := fs.Open(path)
	if err != nil {
		return "", errors.WithContext(err, "open")
	}
	defer f.Close()

	hasher := xxhash.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", errors.WithContext(err, "read")
	}
	return fmt.Sprintf("%016x", hasher.Sum64()), nil
}

// Extension returns the part of the file name after the final dot, without
// the dot. Files without a dot in their name have no extension.
func Extension(path string) string {
	base := filepath.Base(path)
	idx := strings.LastIndex(base, ".")
	if idx < 0 {
		return ""
	}
	return base[idx+1:]
}

// replaceExtension swaps the extension of `path` for `ext`. If the path had
// no extension, `ext` is appended.
func replaceExtension(path, ext string) string {
	old := Extension(path)
	if old == ext {
		return path
	}

	trimmed := path
	if strings.Contains(filepath.Base(path), ".") {
		trimmed = strings.TrimSuffix(path, "."+old)
	}
	if ext == "" {
		return trimmed
	}
	return trimmed + "." + ext
}

// isChild returns whether `path` is `root` or lives under it.
func isChild(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
