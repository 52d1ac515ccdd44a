package sync

import (
	"bytes"
	"os"
	"path/filepath"
	"sort"
	"strings"
	goSync "sync"

	"github.com/spf13/afero"

	"github.com/sidkik/deploy/pkg/errors"
)

const (
	// recordSeparator separates the records in the persisted hash cache.
	recordSeparator = '\x1e'

	// fieldSeparator separates the path from the digest within a record.
	fieldSeparator = '\x1f'
)

// HashCache tracks the content digest of every file that was uploaded
// successfully, keyed by its local path.
type HashCache struct {
	records map[string]string
	lock    goSync.Mutex
}

// NewHashCache returns an empty HashCache.
func NewHashCache() *HashCache {
	return &HashCache{records: map[string]string{}}
}

// LoadHashCache reads the hash cache stored at `path`. A missing file isn't an
// error: it means that this is the first run, so an empty cache is returned.
func LoadHashCache(path string) (*HashCache, error) {
	contents, err := afero.ReadFile(fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewHashCache(), nil
		}
		return nil, errors.WithContext(err, "read")
	}

	cache := NewHashCache()
	for _, record := range strings.Split(string(contents), string(recordSeparator)) {
		if record == "" {
			continue
		}

		idx := strings.IndexRune(record, fieldSeparator)
		if idx < 0 {
			return nil, CacheFormatError{Path: path, Record: record}
		}
		cache.records[record[:idx]] = record[idx+1:]
	}
	return cache, nil
}

// Persist writes the cache to `path`. The contents are written to a temporary
// file first and then renamed into place, so a crash never leaves a
// truncated cache behind.
func (cache *HashCache) Persist(path string) error {
	cache.lock.Lock()
	var buf bytes.Buffer
	for _, key := range cache.keysLocked() {
		buf.WriteString(key)
		buf.WriteRune(fieldSeparator)
		buf.WriteString(cache.records[key])
		buf.WriteRune(recordSeparator)
	}
	cache.lock.Unlock()

	if dir := filepath.Dir(path); dir != "" {
		if err := fs.MkdirAll(dir, 0755); err != nil {
			return errors.WithContext(err, "make parent")
		}
	}

	tmpPath := path + ".tmp"
	if err := afero.WriteFile(fs, tmpPath, buf.Bytes(), 0644); err != nil {
		return errors.WithContext(err, "write")
	}

	if err := fs.Rename(tmpPath, path); err != nil {
		_ = fs.Remove(tmpPath)
		return errors.WithContext(err, "rename")
	}
	return nil
}

// Get returns the digest recorded for `path`.
func (cache *HashCache) Get(path string) (string, bool) {
	cache.lock.Lock()
	defer cache.lock.Unlock()

	digest, ok := cache.records[path]
	return digest, ok
}

// Unchanged returns whether `path` was already uploaded with the contents
// described by `digest`.
func (cache *HashCache) Unchanged(path, digest string) bool {
	stored, ok := cache.Get(path)
	return ok && digest != "" && stored == digest
}

// Set records that `path` was uploaded with the contents described by
// `digest`.
func (cache *HashCache) Set(path, digest string) {
	cache.lock.Lock()
	defer cache.lock.Unlock()

	cache.records[path] = digest
}

// Remove stops tracking `path`.
func (cache *HashCache) Remove(path string) {
	cache.lock.Lock()
	defer cache.lock.Unlock()

	delete(cache.records, path)
}

// Keys returns the tracked paths in sorted order.
func (cache *HashCache) Keys() []string {
	cache.lock.Lock()
	defer cache.lock.Unlock()

	return cache.keysLocked()
}

// Len returns the number of tracked paths.
func (cache *HashCache) Len() int {
	cache.lock.Lock()
	defer cache.lock.Unlock()

	return len(cache.records)
}

// Snapshot returns a copy of the records.
func (cache *HashCache) Snapshot() map[string]string {
	cache.lock.Lock()
	defer cache.lock.Unlock()

	// Copy the underlying map because maps are reference types.
	snapshot := make(map[string]string, len(cache.records))
	for k, v := range cache.records {
		snapshot[k] = v
	}
	return snapshot
}

func (cache *HashCache) keysLocked() []string {
	keys := make([]string, 0, len(cache.records))
	for key := range cache.records {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// RunRegistry is the set of local paths seen during the current run.
type RunRegistry map[string]struct{}

// Seen marks `path` as present in the local tree.
func (registry RunRegistry) Seen(path string) {
	registry[path] = struct{}{}
}

// Contains returns whether `path` was seen.
func (registry RunRegistry) Contains(path string) bool {
	_, ok := registry[path]
	return ok
}

// Missing returns the keys of `cache` that weren't seen during the run, in
// sorted order. These files were removed locally.
func (registry RunRegistry) Missing(cache *HashCache) (missing []string) {
	for _, path := range cache.Keys() {
		if !registry.Contains(path) {
			missing = append(missing, path)
		}
	}
	return missing
}
