package config

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"github.com/sidkik/deploy/pkg/errors"
)

// DefaultPath is the configuration file used when --config isn't set.
const DefaultPath = "deploy.conf"

// Store is a `key=value` configuration file. Comments and blank lines are
// kept when the file is saved, so that it can be edited by both the user and
// deploy.
type Store struct {
	path  string
	lines []storeLine
}

type storeLine struct {
	// raw is the line as it appears in the file.
	raw string

	// key is empty for comments and blank lines.
	key, value string
}

// NewStore returns an empty Store that will be saved to `path`.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// LoadStore reads the configuration file at `path`. Lines starting with `#`
// or `;` are comments. Values may be wrapped in double quotes to keep
// leading or trailing whitespace.
func LoadStore(path string) (*Store, error) {
	contents, err := afero.ReadFile(fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.FileNotFound{Path: path}
		}
		return nil, errors.WithContext(err, "read")
	}

	store := NewStore(path)
	scanner := bufio.NewScanner(bytes.NewReader(contents))
	for lineNum := 1; scanner.Scan(); lineNum++ {
		raw := strings.TrimRight(scanner.Text(), "\r")
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, ";") {
			store.lines = append(store.lines, storeLine{raw: raw})
			continue
		}

		idx := strings.Index(trimmed, "=")
		if idx <= 0 {
			return nil, errors.NewFriendlyError("Line %d of the configuration "+
				"file %q isn't a `key=value` pair:\n\n    %s", lineNum, path, raw)
		}

		store.lines = append(store.lines, storeLine{
			raw:   raw,
			key:   strings.TrimSpace(trimmed[:idx]),
			value: unquote(strings.TrimSpace(trimmed[idx+1:])),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.WithContext(err, "scan")
	}
	return store, nil
}

// Path returns the path the store is saved to.
func (store *Store) Path() string {
	return store.path
}

// Get returns the value of `key`. If the key is set more than once, the last
// value wins.
func (store *Store) Get(key string) (string, bool) {
	for i := len(store.lines) - 1; i >= 0; i-- {
		if store.lines[i].key == key {
			return store.lines[i].value, true
		}
	}
	return "", false
}

// Set changes the value of `key`, or appends it to the file if it isn't set
// yet. The change isn't written until Save is called.
func (store *Store) Set(key, value string) {
	line := storeLine{raw: formatLine(key, value), key: key, value: value}
	for i := len(store.lines) - 1; i >= 0; i-- {
		if store.lines[i].key == key {
			store.lines[i] = line
			return
		}
	}
	store.lines = append(store.lines, line)
}

// Keys returns the keys that are set, in sorted order.
func (store *Store) Keys() []string {
	set := map[string]struct{}{}
	for _, line := range store.lines {
		if line.key != "" {
			set[line.key] = struct{}{}
		}
	}

	var keys []string
	for key := range set {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Save writes the store to its path. The file may contain credentials, so
// it's only readable by its owner.
func (store *Store) Save() error {
	var buf bytes.Buffer
	for _, line := range store.lines {
		buf.WriteString(line.raw)
		buf.WriteByte('\n')
	}

	if err := afero.WriteFile(fs, store.path, buf.Bytes(), 0600); err != nil {
		return errors.WithContext(err, fmt.Sprintf("write %s", store.path))
	}
	return nil
}

func formatLine(key, value string) string {
	if value != strings.TrimSpace(value) {
		value = `"` + value + `"`
	}
	return key + "=" + value
}

func unquote(value string) string {
	if len(value) >= 2 && strings.HasPrefix(value, `"`) && strings.HasSuffix(value, `"`) {
		return value[1 : len(value)-1]
	}
	return value
}
