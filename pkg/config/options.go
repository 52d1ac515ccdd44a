package config

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sidkik/deploy/pkg/errors"
	"github.com/sidkik/deploy/pkg/sync"
	"github.com/sidkik/deploy/pkg/transport"
)

// The configuration keys.
const (
	KeyHost           = "host"
	KeyPort           = "port"
	KeyFingerprint    = "fingerprint"
	KeyUsername       = "username"
	KeyPassword       = "password"
	KeyKeyFile        = "key_file"
	KeyKeyPassphrase  = "key_passphrase"
	KeyLocalDir       = "local_dir"
	KeyRemoteDir      = "remote_dir"
	KeyIgnore         = "ignore"
	KeyTransforms     = "transforms"
	KeyTransformsFile = "transforms_file"
	KeyCacheFile      = "cache_file"
	KeyWorkers        = "workers"
	KeyRetryDeletes   = "retry_deletes"
	KeyTimeout        = "timeout"
)

// Keys lists every key that deploy reads.
var Keys = []string{
	KeyHost, KeyPort, KeyFingerprint, KeyUsername, KeyPassword, KeyKeyFile,
	KeyKeyPassphrase, KeyLocalDir, KeyRemoteDir, KeyIgnore, KeyTransforms,
	KeyTransformsFile, KeyCacheFile, KeyWorkers, KeyRetryDeletes, KeyTimeout,
}

// IsKey returns whether `key` is one of Keys.
func IsKey(key string) bool {
	for _, known := range Keys {
		if key == known {
			return true
		}
	}
	return false
}

// Defaults for the optional keys.
const (
	DefaultPort      = 22
	DefaultCacheFile = ".deploy-cache"
	DefaultTimeout   = 10 * time.Second
)

// Options is everything a deployment needs to know, parsed and validated
// once from the configuration file. It's passed explicitly to the components
// that need it.
type Options struct {
	// ConfigPath is the file the options were read from.
	ConfigPath string

	Host          string
	Port          int
	Fingerprint   string
	Username      string
	Password      string
	KeyFile       string
	KeyPassphrase string
	Timeout       time.Duration

	// LocalDir and RemoteDir are the roots being synchronized. LocalDir is
	// absolute.
	LocalDir  string
	RemoteDir string

	// Ignore lists paths relative to LocalDir that aren't deployed.
	Ignore []string

	// Transforms names the rules to enable.
	Transforms     []string
	TransformsFile string

	CacheFile    string
	Workers      int
	RetryDeletes bool
}

// ParseOptions validates the configuration in `store`. Paths are resolved
// relative to the directory containing the configuration file.
func ParseOptions(store *Store) (Options, error) {
	configPath, err := filepath.Abs(store.Path())
	if err != nil {
		return Options{}, errors.WithContext(err, "resolve config path")
	}

	baseDir := filepath.Dir(configPath)
	opts := Options{
		ConfigPath:    configPath,
		Fingerprint:   get(store, KeyFingerprint),
		Password:      get(store, KeyPassword),
		KeyPassphrase: get(store, KeyKeyPassphrase),
		Ignore:        getList(store, KeyIgnore),
		Transforms:    getList(store, KeyTransforms),
	}

	if opts.LocalDir, err = getPath(store, baseDir, KeyLocalDir); err != nil {
		return Options{}, err
	}
	if opts.LocalDir == "" {
		return Options{}, errors.MissingFieldError{Field: KeyLocalDir}
	}

	fi, err := fs.Stat(opts.LocalDir)
	switch {
	case err != nil:
		return Options{}, errors.NewFriendlyError("The local directory %q "+
			"can't be read: %s\nCheck the `%s` option.", opts.LocalDir, err, KeyLocalDir)
	case !fi.IsDir():
		return Options{}, errors.NewFriendlyError("The local directory %q "+
			"isn't a directory.\nCheck the `%s` option.", opts.LocalDir, KeyLocalDir)
	}

	required := []struct {
		key string
		dst *string
	}{
		{KeyRemoteDir, &opts.RemoteDir},
		{KeyHost, &opts.Host},
		{KeyUsername, &opts.Username},
	}
	for _, field := range required {
		*field.dst = get(store, field.key)
		if *field.dst == "" {
			return Options{}, errors.MissingFieldError{Field: field.key}
		}
	}

	if opts.KeyFile, err = getPath(store, baseDir, KeyKeyFile); err != nil {
		return Options{}, err
	}
	if opts.Password == "" && opts.KeyFile == "" {
		return Options{}, errors.NewFriendlyError("Neither the `%s` nor the "+
			"`%s` option is set.\nAt least one of them is required to log into "+
			"the remote host.", KeyPassword, KeyKeyFile)
	}

	if opts.TransformsFile, err = getPath(store, baseDir, KeyTransformsFile); err != nil {
		return Options{}, err
	}

	if opts.CacheFile, err = getPath(store, baseDir, KeyCacheFile); err != nil {
		return Options{}, err
	}
	if opts.CacheFile == "" {
		opts.CacheFile = filepath.Join(baseDir, DefaultCacheFile)
	}

	if opts.Port, err = getInt(store, KeyPort, DefaultPort, 1, 65535); err != nil {
		return Options{}, err
	}
	if opts.Workers, err = getInt(store, KeyWorkers, sync.DefaultWorkers, 1, 64); err != nil {
		return Options{}, err
	}

	if value := get(store, KeyRetryDeletes); value != "" {
		if opts.RetryDeletes, err = strconv.ParseBool(value); err != nil {
			return Options{}, invalidValueError(KeyRetryDeletes, value, "true or false")
		}
	}

	opts.Timeout = DefaultTimeout
	if value := get(store, KeyTimeout); value != "" {
		if opts.Timeout, err = time.ParseDuration(value); err != nil || opts.Timeout <= 0 {
			return Options{}, invalidValueError(KeyTimeout, value, "a positive duration such as `30s`")
		}
	}
	return opts, nil
}

// Endpoint returns how to reach the remote host. `verify` decides whether
// the host key is trusted.
func (opts Options) Endpoint(verify func(fingerprint string) error) transport.Endpoint {
	return transport.Endpoint{
		Host:          opts.Host,
		Port:          opts.Port,
		User:          opts.Username,
		Password:      opts.Password,
		KeyFile:       opts.KeyFile,
		KeyPassphrase: opts.KeyPassphrase,
		Timeout:       opts.Timeout,
		VerifyHostKey: verify,
	}
}

// Exclusions returns the paths under the local directory that are never
// deployed. Besides the `ignore` option, deploy's own files are excluded in
// case they live in the local directory.
func (opts Options) Exclusions() sync.ExclusionSet {
	excluded := sync.NewExclusionSet(opts.LocalDir, opts.Ignore...)
	excluded.Add(opts.LocalDir, opts.ConfigPath)
	excluded.Add(opts.LocalDir, opts.CacheFile)
	excluded.Add(opts.LocalDir, opts.CacheFile+".tmp")
	if opts.TransformsFile != "" {
		excluded.Add(opts.LocalDir, opts.TransformsFile)
	}
	return excluded
}

// SyncOptions returns the options for a reconciliation run.
func (opts Options) SyncOptions(force, dryRun bool) sync.Options {
	return sync.Options{
		LocalRoot:    opts.LocalDir,
		RemoteRoot:   opts.RemoteDir,
		CacheFile:    opts.CacheFile,
		Excluded:     opts.Exclusions(),
		Workers:      opts.Workers,
		Force:        force,
		RetryDeletes: opts.RetryDeletes,
		DryRun:       dryRun,
	}
}

// Rules returns the built-in rules followed by the rules from the transforms
// file, with the rules named by the `transforms` option enabled.
func (opts Options) Rules() ([]sync.Rule, error) {
	rules := sync.DefaultRules()
	if opts.TransformsFile != "" {
		custom, err := ParseTransformsFile(opts.TransformsFile)
		if err != nil {
			return nil, errors.WithContext(err, "parse transforms file")
		}

		names := map[string]bool{}
		for _, rule := range rules {
			names[rule.Name] = true
		}
		for _, rule := range custom {
			if names[rule.Name] {
				return nil, errors.NewFriendlyError("The transform %q is "+
					"declared more than once in %q, or conflicts with a "+
					"built-in transform.", rule.Name, opts.TransformsFile)
			}
			names[rule.Name] = true
		}
		rules = append(rules, custom...)
	}
	return sync.Activate(rules, opts.Transforms)
}

func get(store *Store, key string) string {
	value, _ := store.Get(key)
	return value
}

// getList splits a comma separated value, dropping empty elements.
func getList(store *Store, key string) (list []string) {
	for _, elem := range strings.Split(get(store, key), ",") {
		if elem = strings.TrimSpace(elem); elem != "" {
			list = append(list, elem)
		}
	}
	return list
}

// getPath expands `~` in the value of `key`, and makes it absolute by
// resolving it relative to `baseDir`.
func getPath(store *Store, baseDir, key string) (string, error) {
	value := get(store, key)
	if value == "" {
		return "", nil
	}

	path, err := homedirExpand(value)
	if err != nil {
		return "", errors.WithContext(err, fmt.Sprintf("expand %s", key))
	}

	if !filepath.IsAbs(path) {
		path = filepath.Join(baseDir, path)
	}
	return filepath.Clean(path), nil
}

func getInt(store *Store, key string, def, min, max int) (int, error) {
	value := get(store, key)
	if value == "" {
		return def, nil
	}

	n, err := strconv.Atoi(value)
	if err != nil || n < min || n > max {
		return 0, invalidValueError(key, value, fmt.Sprintf("a number between %d and %d", min, max))
	}
	return n, nil
}

func invalidValueError(key, value, exp string) error {
	return errors.NewFriendlyError("The `%s` option is set to %q, but it must "+
		"be %s.", key, value, exp)
}
