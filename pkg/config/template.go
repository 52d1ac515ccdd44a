package config

import (
	"github.com/spf13/afero"

	"github.com/sidkik/deploy/pkg/errors"
)

// Template is the configuration file written by `deploy config init`.
const Template = `# deploy configuration.
# Relative paths are resolved from the directory containing this file.

# The remote host, and how to log into it. At least one of password and
# key_file is required.
host=
#port=22
username=
#password=
#key_file=~/.ssh/id_ed25519
#key_passphrase=

# The SHA256 fingerprint of the remote host's key. It's filled in by
# running deploy with --capture-fingerprint.
#fingerprint=

# The directory to deploy, and where it goes on the remote host.
local_dir=.
remote_dir=

# Comma separated paths, relative to local_dir, that aren't deployed.
#ignore=.git,node_modules

# Comma separated transforms to run before uploading.
# Built in: sass, less, coffee, typescript, uglifyjs, cleancss.
#transforms=sass,uglifyjs
#transforms_file=transforms.yaml

# Where the hashes of the deployed files are stored.
#cache_file=.deploy-cache

# Delete failures are retried on the next run if this is true. Otherwise,
# the remote file is forgotten and must be removed manually.
#retry_deletes=false

#workers=4
#timeout=10s
`

// WriteTemplate creates a configuration file at `path` from Template. It
// refuses to overwrite an existing file.
func WriteTemplate(path string) error {
	exists, err := afero.Exists(fs, path)
	if err != nil {
		return errors.WithContext(err, "check for existing config")
	}
	if exists {
		return errors.NewFriendlyError("%q already exists. Edit it directly, "+
			"or use `deploy config set`.", path)
	}

	if err := afero.WriteFile(fs, path, []byte(Template), 0600); err != nil {
		return errors.WithContext(err, "write")
	}
	return nil
}
