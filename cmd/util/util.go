package util

import (
	"fmt"
	"io"
	"os"
	"runtime/debug"

	"github.com/mitchellh/go-homedir"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sidkik/deploy/pkg/config"
	"github.com/sidkik/deploy/pkg/errors"
)

// ConfigFlag is the name of the persistent flag that overrides the path to
// the configuration file.
const ConfigFlag = "config"

// Mocked out for unit testing.
var (
	exit             = os.Exit
	stderr io.Writer = os.Stderr
)

// HandleFatalError prints `err` and exits. Friendly errors are printed as is,
// since they're meant to be read by the user. Other errors are prefixed so
// that it's clear the command failed.
func HandleFatalError(err error) {
	if msg, ok := errors.GetFriendly(err); ok {
		fmt.Fprintln(stderr, msg)
	} else {
		fmt.Fprintf(stderr, "ERROR: %s\n", err)
	}
	log.WithError(err).Debug("Exiting due to fatal error")
	exit(1)
}

// HandlePanic logs the stack trace of a panic before letting it continue.
// It must be deferred.
func HandlePanic() {
	if r := recover(); r != nil {
		log.WithField("stack", string(debug.Stack())).Errorf("Panic: %v", r)
		panic(r)
	}
}

// ConfigPath returns the configuration path selected by the `--config` flag,
// with `~` expanded.
func ConfigPath(cmd *cobra.Command) (string, error) {
	path := config.DefaultPath
	if flag := cmd.Flags().Lookup(ConfigFlag); flag != nil && flag.Value.String() != "" {
		path = flag.Value.String()
	}

	expanded, err := homedir.Expand(path)
	if err != nil {
		return "", errors.WithContext(err, "expand config path")
	}
	return expanded, nil
}
