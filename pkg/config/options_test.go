package config

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sidkik/deploy/pkg/errors"
	"github.com/sidkik/deploy/pkg/sync"
)

func storeFromLines(t *testing.T, lines ...string) *Store {
	contents := strings.Join(lines, "\n") + "\n"
	require.NoError(t, afero.WriteFile(fs, "/project/deploy.conf", []byte(contents), 0600))

	store, err := LoadStore("/project/deploy.conf")
	require.NoError(t, err)
	return store
}

func TestParseOptions(t *testing.T) {
	fs = afero.NewMemMapFs()
	defer func(orig func(string) (string, error)) { homedirExpand = orig }(homedirExpand)
	homedirExpand = func(path string) (string, error) {
		return strings.Replace(path, "~", "/home/user", 1), nil
	}
	require.NoError(t, fs.MkdirAll("/project/public", 0755))

	store := storeFromLines(t,
		"host=example.com",
		"port=2222",
		"username=deploy",
		"key_file=~/.ssh/id_ed25519",
		"local_dir=public",
		"remote_dir=/var/www",
		"ignore=.git, drafts,,",
		"transforms=sass,uglifyjs",
		"transforms_file=transforms.yaml",
		"cache_file=/var/cache/deploy",
		"workers=8",
		"retry_deletes=true",
		"timeout=30s",
		"fingerprint=SHA256:abc",
	)

	opts, err := ParseOptions(store)
	require.NoError(t, err)
	assert.Equal(t, Options{
		ConfigPath:     "/project/deploy.conf",
		Host:           "example.com",
		Port:           2222,
		Fingerprint:    "SHA256:abc",
		Username:       "deploy",
		KeyFile:        "/home/user/.ssh/id_ed25519",
		Timeout:        30 * time.Second,
		LocalDir:       "/project/public",
		RemoteDir:      "/var/www",
		Ignore:         []string{".git", "drafts"},
		Transforms:     []string{"sass", "uglifyjs"},
		TransformsFile: "/project/transforms.yaml",
		CacheFile:      "/var/cache/deploy",
		Workers:        8,
		RetryDeletes:   true,
	}, opts)
}

func TestParseOptionsDefaults(t *testing.T) {
	fs = afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/project", 0755))

	store := storeFromLines(t,
		"host=example.com",
		"username=deploy",
		"password=secret",
		"local_dir=.",
		"remote_dir=/var/www",
	)

	opts, err := ParseOptions(store)
	require.NoError(t, err)
	assert.Equal(t, Options{
		ConfigPath: "/project/deploy.conf",
		Host:       "example.com",
		Port:       DefaultPort,
		Username:   "deploy",
		Password:   "secret",
		Timeout:    DefaultTimeout,
		LocalDir:   "/project",
		RemoteDir:  "/var/www",
		CacheFile:  "/project/.deploy-cache",
		Workers:    sync.DefaultWorkers,
	}, opts)
}

func TestParseOptionsErrors(t *testing.T) {
	valid := map[string]string{
		"host":       "example.com",
		"username":   "deploy",
		"password":   "secret",
		"local_dir":  "/site",
		"remote_dir": "/var/www",
	}

	tests := []struct {
		name      string
		overrides map[string]string
		expError  error
		expFriend string
	}{
		{
			name:      "MissingLocalDir",
			overrides: map[string]string{"local_dir": ""},
			expError:  errors.MissingFieldError{Field: "local_dir"},
		},
		{
			name:      "LocalDirDoesNotExist",
			overrides: map[string]string{"local_dir": "/missing"},
			expFriend: `The local directory "/missing" can't be read`,
		},
		{
			name:      "LocalDirIsFile",
			overrides: map[string]string{"local_dir": "/site/index.html"},
			expFriend: "isn't a directory",
		},
		{
			name:      "MissingRemoteDir",
			overrides: map[string]string{"remote_dir": ""},
			expError:  errors.MissingFieldError{Field: "remote_dir"},
		},
		{
			name:      "MissingHost",
			overrides: map[string]string{"host": ""},
			expError:  errors.MissingFieldError{Field: "host"},
		},
		{
			name:      "MissingUsername",
			overrides: map[string]string{"username": ""},
			expError:  errors.MissingFieldError{Field: "username"},
		},
		{
			name:      "NoCredentials",
			overrides: map[string]string{"password": ""},
			expFriend: "Neither the `password` nor the `key_file` option is set",
		},
		{
			name:      "BadPort",
			overrides: map[string]string{"port": "ssh"},
			expFriend: "The `port` option is set to \"ssh\"",
		},
		{
			name:      "PortOutOfRange",
			overrides: map[string]string{"port": "70000"},
			expFriend: "between 1 and 65535",
		},
		{
			name:      "BadWorkers",
			overrides: map[string]string{"workers": "0"},
			expFriend: "The `workers` option",
		},
		{
			name:      "BadRetryDeletes",
			overrides: map[string]string{"retry_deletes": "sometimes"},
			expFriend: "true or false",
		},
		{
			name:      "BadTimeout",
			overrides: map[string]string{"timeout": "10"},
			expFriend: "positive duration",
		},
		{
			name:      "NegativeTimeout",
			overrides: map[string]string{"timeout": "-1s"},
			expFriend: "positive duration",
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			fs = afero.NewMemMapFs()
			require.NoError(t, afero.WriteFile(fs, "/site/index.html", []byte("<html>"), 0644))

			store := NewStore("/project/deploy.conf")
			for key, value := range valid {
				store.Set(key, value)
			}
			for key, value := range test.overrides {
				store.Set(key, value)
			}

			_, err := ParseOptions(store)
			if test.expError != nil {
				assert.Equal(t, test.expError, err)
				return
			}

			msg, ok := errors.GetFriendly(err)
			assert.True(t, ok, "expected a friendly error, got %v", err)
			assert.Contains(t, msg, test.expFriend)
		})
	}
}

func TestExclusions(t *testing.T) {
	opts := Options{
		ConfigPath:     "/site/deploy.conf",
		LocalDir:       "/site",
		Ignore:         []string{".git", "drafts/old"},
		CacheFile:      "/site/.deploy-cache",
		TransformsFile: "/elsewhere/transforms.yaml",
	}

	excluded := opts.Exclusions()
	for _, path := range []string{
		"/site/.git",
		"/site/drafts/old",
		"/site/deploy.conf",
		"/site/.deploy-cache",
		"/site/.deploy-cache.tmp",
		"/elsewhere/transforms.yaml",
	} {
		assert.True(t, excluded.Contains(path), path)
	}
	assert.False(t, excluded.Contains("/site/drafts"))
	assert.False(t, excluded.Contains("/site/index.html"))

	syncOpts := opts.SyncOptions(true, false)
	assert.Equal(t, excluded, syncOpts.Excluded)
	assert.True(t, syncOpts.Force)
	assert.False(t, syncOpts.DryRun)
	assert.Equal(t, "/site", syncOpts.LocalRoot)
}

func TestEndpoint(t *testing.T) {
	opts := Options{
		Host:     "example.com",
		Port:     2222,
		Username: "deploy",
		Password: "secret",
		KeyFile:  "/key",
		Timeout:  time.Second,
	}

	endpoint := opts.Endpoint(func(string) error { return nil })
	assert.Equal(t, "example.com:2222", endpoint.Address())
	assert.Equal(t, "deploy", endpoint.User)
	assert.Equal(t, "secret", endpoint.Password)
	assert.Equal(t, "/key", endpoint.KeyFile)
	assert.Equal(t, time.Second, endpoint.Timeout)
	assert.NoError(t, endpoint.VerifyHostKey("SHA256:abc"))
}

func TestRules(t *testing.T) {
	fs = afero.NewMemMapFs()

	rules, err := Options{Transforms: []string{"less"}}.Rules()
	require.NoError(t, err)
	assert.Len(t, rules, len(sync.DefaultRules()))
	assert.Equal(t, []string{"less"}, activeNames(rules))

	_, err = Options{Transforms: []string{"unknown"}}.Rules()
	_, ok := errors.GetFriendly(err)
	assert.True(t, ok)

	writeTransforms(t, `
rules:
- name: markdown
  extensions: [md]
  destinationExtension: html
  command: [pandoc, "{src}", -o, "{dst}"]
- name: optimize
  extensions: [png]
  command: [optipng, -out, "{dst}", "{src}"]
  active: false
`)
	rules, err = Options{
		TransformsFile: "/transforms.yaml",
		Transforms:     []string{"sass", "optimize"},
	}.Rules()
	require.NoError(t, err)
	assert.Equal(t, []string{"sass", "markdown", "optimize"}, activeNames(rules))

	writeTransforms(t, `
rules:
- name: sass
  extensions: [scss]
  command: [sassc, "{src}", "{dst}"]
`)
	_, err = Options{TransformsFile: "/transforms.yaml"}.Rules()
	msg, ok := errors.GetFriendly(err)
	assert.True(t, ok)
	assert.Contains(t, msg, "conflicts with a built-in transform")
}

func activeNames(rules []sync.Rule) (names []string) {
	for _, rule := range rules {
		if rule.Active {
			names = append(names, rule.Name)
		}
	}
	return names
}

func TestIsKey(t *testing.T) {
	assert.True(t, IsKey(KeyHost))
	assert.True(t, IsKey(KeyRetryDeletes))
	assert.False(t, IsKey("hostname"))
	assert.False(t, IsKey(""))
}
