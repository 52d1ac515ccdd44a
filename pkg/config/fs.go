package config

import (
	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/afero"
)

// Mocked out for unit testing.
var (
	fs            = afero.NewOsFs()
	homedirExpand = homedir.Expand
)

// SetFs replaces the filesystem used by the package. It's meant for tests of
// the commands that read and write the configuration.
func SetFs(newFs afero.Fs) {
	fs = newFs
}
