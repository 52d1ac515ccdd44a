package fswatch

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sidkik/deploy/pkg/sync"
)

func TestGetDirsToWatch(t *testing.T) {
	root := "/site"

	tests := []struct {
		name     string
		dirs     []string
		files    []string
		excluded []string
		expDirs  []string
	}{
		{
			name:    "Simple case -- all directories",
			dirs:    []string{"/site/css", "/site/js", "/site/js/vendor"},
			files:   []string{"/site/index.html", "/site/js/vendor/jquery.js"},
			expDirs: []string{"/site", "/site/css", "/site/js", "/site/js/vendor"},
		},
		{
			name:     "Don't watch ignored directories",
			dirs:     []string{"/site/css", "/site/node_modules", "/site/node_modules/express"},
			files:    []string{"/site/css/main.scss", "/site/node_modules/express/index.js"},
			excluded: []string{"node_modules"},
			expDirs:  []string{"/site", "/site/css"},
		},
		{
			name:     "Ignored files don't matter",
			dirs:     []string{"/site/css"},
			files:    []string{"/site/deploy.conf"},
			excluded: []string{"deploy.conf"},
			expDirs:  []string{"/site", "/site/css"},
		},
	}

	for _, test := range tests {
		fs = afero.NewMemMapFs()
		assert.NoError(t, fs.Mkdir(root, 0755))
		for _, dir := range test.dirs {
			assert.NoError(t, fs.MkdirAll(dir, 0755))
		}
		for _, file := range test.files {
			assert.NoError(t, afero.WriteFile(fs, file, []byte("testfile"), 0644))
		}

		dirs, err := getDirsToWatch(root, sync.NewExclusionSet(root, test.excluded...))
		assert.NoError(t, err, test.name)

		// Sort for consistency.
		sort.Strings(test.expDirs)
		sort.Strings(dirs)
		assert.Equal(t, test.expDirs, dirs, test.name)
	}
}

func TestGetDirsToWatchMissingRoot(t *testing.T) {
	fs = afero.NewMemMapFs()
	_, err := getDirsToWatch("/missing", sync.ExclusionSet{})
	assert.Error(t, err)
}

func TestGetDirsToWatchSymlinkedRoot(t *testing.T) {
	dir := t.TempDir()
	release := filepath.Join(dir, "release")
	require.NoError(t, os.MkdirAll(filepath.Join(release, "css"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(release, "drafts"), 0755))
	current := filepath.Join(dir, "current")
	require.NoError(t, os.Symlink("release", current))

	fs = afero.NewOsFs()
	defer func() { fs = afero.NewOsFs() }()

	dirs, err := getDirsToWatch(current, sync.NewExclusionSet(current, "drafts"))
	require.NoError(t, err)
	sort.Strings(dirs)
	assert.Equal(t, []string{current, filepath.Join(current, "css")}, dirs)
}

func TestCombineUpdates(t *testing.T) {
	t.Parallel()

	updates := make(chan fsnotify.Event, 1024)
	addEvents := func(num int) {
		for i := 0; i < num; i++ {
			updates <- fsnotify.Event{}
		}
	}

	// Seed with events.
	numUpdates := 100
	addEvents(numUpdates)
	combined := combineUpdates(updates)

	// Assert that the events are being combined.
	numCombined := countEvents(combined)
	assert.True(t, numCombined < numUpdates,
		"expected less combined events (%d) than %d", numCombined, numUpdates)

	// Add more events.
	addEvents(100)
	<-combined

	// Closing the source closes the combined channel.
	close(updates)
	for range combined {
	}
}

func countEvents(c chan struct{}) (n int) {
	// Block until the first event.
	<-c
	n++

	// Count the number of events until there hasn't been any new events in 500
	// milliseconds.
	for {
		select {
		case <-c:
			n++
		case <-time.After(500 * time.Millisecond):
			return n
		}
	}
}

func TestDebounce(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock := clockwork.NewFakeClock()
	in := make(chan struct{})
	out := Debounce(ctx, clock, in, time.Second)

	in <- struct{}{}
	clock.BlockUntil(1)
	clock.Advance(900 * time.Millisecond)
	assertNoEvent(t, out)

	// A new event restarts the quiet period.
	in <- struct{}{}
	clock.BlockUntil(2)
	clock.Advance(200 * time.Millisecond)
	assertNoEvent(t, out)

	clock.Advance(time.Second)
	select {
	case <-out:
	case <-time.After(5 * time.Second):
		t.Fatal("expected a debounced event")
	}
	assertNoEvent(t, out)
}

func TestDebounceClose(t *testing.T) {
	t.Parallel()

	in := make(chan struct{})
	out := Debounce(context.Background(), clockwork.NewFakeClock(), in, time.Second)
	close(in)

	_, ok := <-out
	assert.False(t, ok)

	ctx, cancel := context.WithCancel(context.Background())
	out = Debounce(ctx, clockwork.NewFakeClock(), make(chan struct{}), time.Second)
	cancel()

	_, ok = <-out
	assert.False(t, ok)
}

func assertNoEvent(t *testing.T, c <-chan struct{}) {
	select {
	case <-c:
		t.Fatal("unexpected event")
	default:
	}
}
