package fswatch

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/sidkik/deploy/pkg/errors"
	"github.com/sidkik/deploy/pkg/sync"
)

// DefaultQuiet is how long the tree must go without changes before a
// debounced update is sent.
const DefaultQuiet = 500 * time.Millisecond

var fs = afero.NewOsFs()

// Watch watches every directory under `root` that isn't excluded. It sends an
// event on the returned channel whenever something in the tree changes.
// Directories created after the watch starts are watched as well.
//
// Events are coalesced, so a burst of changes may only result in a single
// event. The returned Closer stops the watch and closes the channel.
func Watch(root string, excluded sync.ExclusionSet) (<-chan struct{}, io.Closer, error) {
	dirs, err := getDirsToWatch(root, excluded)
	if err != nil {
		return nil, nil, errors.WithContext(err, "get paths")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, errors.WithContext(err, "create watcher")
	}

	for _, dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			// Close the watcher so that we release the file handlers for the
			// previously added paths.
			if err := watcher.Close(); err != nil {
				log.WithError(err).Warn("Failed to close file watcher")
			}

			return nil, nil, errors.WithContext(err, fmt.Sprintf("watch %q", dir))
		}
	}

	tree := treeWatcher{root: root, excluded: excluded, watcher: watcher}
	go tree.logErrors()
	return combineUpdates(tree.filter()), watcher, nil
}

type treeWatcher struct {
	root     string
	excluded sync.ExclusionSet
	watcher  *fsnotify.Watcher
}

// filter drops the events for excluded paths, and starts watching new
// directories.
func (tree treeWatcher) filter() <-chan fsnotify.Event {
	relevant := make(chan fsnotify.Event, 64)
	go func() {
		defer close(relevant)
		for event := range tree.watcher.Events {
			if tree.excluded.Excludes(tree.root, event.Name) {
				continue
			}

			if event.Op&fsnotify.Create != 0 {
				tree.addDir(event.Name)
			}
			relevant <- event
		}
	}()
	return relevant
}

// addDir watches `path` and its subdirectories if it's a directory.
func (tree treeWatcher) addDir(path string) {
	fi, err := fs.Stat(path)
	if err != nil || !fi.IsDir() {
		return
	}

	dirs, err := getDirsToWatch(path, tree.excluded)
	if err != nil {
		log.WithError(err).WithField("path", path).Debug("Failed to list new directory")
		return
	}

	for _, dir := range dirs {
		if err := tree.watcher.Add(dir); err != nil {
			log.WithError(err).WithField("path", dir).Warn("Failed to watch new directory")
		}
	}
}

func (tree treeWatcher) logErrors() {
	for err := range tree.watcher.Errors {
		log.WithError(err).Warn("File watcher error")
	}
}

func combineUpdates(updates <-chan fsnotify.Event) chan struct{} {
	combined := make(chan struct{}, 1)
	go func() {
		defer close(combined)
		for range updates {
			select {
			case combined <- struct{}{}:
			default:
			}
		}
	}()
	return combined
}

// getDirsToWatch returns `root` and all of its subdirectories that aren't
// excluded. fsnotify doesn't watch directories recursively, so each one is
// added separately. If `root` is a symlink, its target is listed, but the
// returned paths are under `root`.
func getDirsToWatch(root string, excluded sync.ExclusionSet) (dirs []string, err error) {
	root = filepath.Clean(root)
	realRoot, err := sync.ResolveDir(fs, root)
	if err != nil {
		return nil, errors.WithContext(err, "resolve root")
	}

	err = afero.Walk(fs, realRoot, func(realPath string, fi os.FileInfo, err error) error {
		if err != nil {
			return errors.WithContext(err, "walk error")
		}

		if !fi.IsDir() {
			return nil
		}

		path := root
		if realPath != realRoot {
			rel, err := filepath.Rel(realRoot, realPath)
			if err != nil {
				return err
			}
			path = filepath.Join(root, rel)
		}

		if path != root && excluded.Contains(path) {
			return filepath.SkipDir
		}

		dirs = append(dirs, path)
		return nil
	})
	return dirs, err
}

// Debounce forwards an event from `in` once no new event has arrived for
// `quiet`. The returned channel is closed when `ctx` is done or `in` is
// closed.
func Debounce(ctx context.Context, clock clockwork.Clock, in <-chan struct{},
	quiet time.Duration) <-chan struct{} {
	out := make(chan struct{}, 1)
	go func() {
		defer close(out)

		var timer <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-in:
				if !ok {
					return
				}
				timer = clock.After(quiet)
			case <-timer:
				timer = nil
				select {
				case out <- struct{}{}:
				default:
				}
			}
		}
	}()
	return out
}
