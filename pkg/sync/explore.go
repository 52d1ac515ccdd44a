package sync

import (
	"context"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/sidkik/deploy/pkg/errors"
)

// ExclusionSet contains absolute paths that are ignored by Explore. A
// directory in the set is not descended into, and a file in the set is never
// emitted.
type ExclusionSet map[string]struct{}

// NewExclusionSet builds an ExclusionSet from paths relative to `root`.
// Absolute paths are kept as is.
func NewExclusionSet(root string, paths ...string) ExclusionSet {
	set := ExclusionSet{}
	for _, path := range paths {
		set.Add(root, path)
	}
	return set
}

// Add adds `path` to the set. Relative paths are resolved against `root`.
func (set ExclusionSet) Add(root, path string) {
	if path == "" {
		return
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}
	set[filepath.Clean(path)] = struct{}{}
}

// Contains returns whether `path` is excluded.
func (set ExclusionSet) Contains(path string) bool {
	_, ok := set[filepath.Clean(path)]
	return ok
}

// Excludes returns whether `path`, or one of its parent directories below
// `root`, is in the set.
func (set ExclusionSet) Excludes(root, path string) bool {
	root = filepath.Clean(root)
	for dir := filepath.Clean(path); dir != root && isChild(root, dir); dir = filepath.Dir(dir) {
		if set.Contains(dir) {
			return true
		}
	}
	return false
}

// maxLinks is how many symlinks ResolveDir follows before giving up.
const maxLinks = 40

// Explore walks `root` and sends the path of every file that isn't excluded
// on `out`. Directories are never sent. The caller owns `out`; Explore
// doesn't close it.
//
// `root` may be a symlink to a directory. Symlinked directories inside the
// tree are followed, unless they point back at a directory that's already
// being walked. Either way, paths are reported under `root` as configured so
// that the hash cache keys don't depend on where the links point. Broken
// links are skipped with a warning.
//
// If `root` isn't a directory, or a directory can't be listed, Explore stops
// and returns a TraversalError.
func Explore(ctx context.Context, root string, excluded ExclusionSet, out chan<- string) error {
	root = filepath.Clean(root)
	realRoot, err := ResolveDir(fs, root)
	if err != nil {
		return TraversalError{Path: root, Err: err}
	}

	walker := treeWalker{ctx: ctx, excluded: excluded, out: out,
		walking: map[string]struct{}{realRoot: {}}}
	return walker.walk(root, realRoot)
}

type treeWalker struct {
	ctx      context.Context
	excluded ExclusionSet
	out      chan<- string

	// walking holds the real paths of the root and of the linked
	// directories that are still being walked.
	walking map[string]struct{}
}

// walk lists the directory at `realDir`, and reports its contents as if they
// were in `dir`. The two differ when `dir` was reached through a symlink.
func (walker treeWalker) walk(dir, realDir string) error {
	return afero.Walk(fs, realDir, func(realPath string, fi os.FileInfo, err error) error {
		path := rebase(realDir, dir, realPath)
		if err != nil {
			return TraversalError{Path: path, Err: err}
		}

		if realPath == realDir {
			return nil
		}

		if walker.excluded.Contains(path) {
			if fi.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if fi.Mode()&os.ModeSymlink != 0 {
			return walker.followLink(path, realPath)
		}

		if fi.IsDir() {
			return nil
		}
		return walker.send(path)
	})
}

// followLink handles the symlink at `realPath`. Links to files are sent like
// regular files, since reading them reads the target. Links to directories
// are walked.
func (walker treeWalker) followLink(path, realPath string) error {
	linkLog := log.WithField("path", path)
	target, err := resolveLinks(fs, realPath)
	if err == nil {
		var fi os.FileInfo
		if fi, err = fs.Stat(target); err == nil && !fi.IsDir() {
			return walker.send(path)
		}
	}
	if err != nil {
		linkLog.WithError(err).Warn("Skipping broken symlink")
		return nil
	}

	if _, ok := walker.walking[target]; ok || isChild(target, realPath) {
		linkLog.WithField("target", target).Warn(
			"Skipping symlink that points to one of its parent directories")
		return nil
	}

	walker.walking[target] = struct{}{}
	defer delete(walker.walking, target)
	return walker.walk(path, target)
}

func (walker treeWalker) send(path string) error {
	select {
	case walker.out <- path:
	case <-walker.ctx.Done():
		return walker.ctx.Err()
	}
	return nil
}

// ResolveDir follows `path` while it's a symlink, and returns the directory
// it points to. It returns an error if the final target isn't a directory.
func ResolveDir(fs afero.Fs, path string) (string, error) {
	resolved, err := resolveLinks(fs, path)
	if err != nil {
		return "", err
	}

	fi, err := fs.Stat(resolved)
	if err != nil {
		return "", err
	}
	if !fi.IsDir() {
		return "", errors.New("%s is not a directory", resolved)
	}
	return resolved, nil
}

// resolveLinks follows `path` while it's a symlink. Filesystems that don't
// support symlinks return `path` unchanged.
func resolveLinks(fs afero.Fs, path string) (string, error) {
	lstater, canLstat := fs.(afero.Lstater)
	linkReader, canReadlink := fs.(afero.LinkReader)
	if !canLstat || !canReadlink {
		return path, nil
	}

	for i := 0; i < maxLinks; i++ {
		fi, _, err := lstater.LstatIfPossible(path)
		if err != nil {
			return "", err
		}
		if fi.Mode()&os.ModeSymlink == 0 {
			return path, nil
		}

		target, err := linkReader.ReadlinkIfPossible(path)
		if err != nil {
			return "", err
		}
		if !filepath.IsAbs(target) {
			target = filepath.Join(filepath.Dir(path), target)
		}
		path = filepath.Clean(target)
	}
	return "", errors.New("too many levels of symbolic links: %s", path)
}

// rebase moves `path` from under `from` to under `to`.
func rebase(from, to, path string) string {
	if from == to {
		return path
	}
	rel, err := filepath.Rel(from, path)
	if err != nil {
		return path
	}
	return filepath.Join(to, rel)
}

// ExploreAll is a convenience wrapper around Explore that collects the
// results into a slice.
func ExploreAll(ctx context.Context, root string, excluded ExclusionSet) ([]string, error) {
	pathsChan := make(chan string)
	errChan := make(chan error, 1)
	go func() {
		errChan <- Explore(ctx, root, excluded, pathsChan)
		close(pathsChan)
	}()

	var paths []string
	for path := range pathsChan {
		paths = append(paths, path)
	}
	return paths, <-errChan
}
