package sync

import (
	"fmt"
	"strings"
)

// TraversalError is returned when a directory under the local root can't be
// listed. The set of local files is unknown, so the run can't continue.
type TraversalError struct {
	Path string
	Err  error
}

func (err TraversalError) Error() string {
	return fmt.Sprintf("traverse %q: %s", err.Path, err.Err)
}

func (err TraversalError) Unwrap() error {
	return err.Err
}

// FriendlyMessage is shown to the user when the traversal fails.
func (err TraversalError) FriendlyMessage() string {
	return fmt.Sprintf("Failed to read the local directory %q:\n%s\n\n"+
		"Nothing was deleted remotely. Fix the permissions or add the "+
		"directory to the `ignore` option, then run deploy again.", err.Path, err.Err)
}

// CacheFormatError is returned when a record in the hash cache file is
// malformed.
type CacheFormatError struct {
	Path   string
	Record string
}

func (err CacheFormatError) Error() string {
	return fmt.Sprintf("malformed record in hash cache %q: %q", err.Path, err.Record)
}

// FriendlyMessage is shown to the user when the hash cache can't be parsed.
func (err CacheFormatError) FriendlyMessage() string {
	return fmt.Sprintf("The hash cache at %q is corrupted.\n"+
		"Delete it and run `deploy --force` to upload every file again.", err.Path)
}

// TransformError is returned when a transform command fails or doesn't
// produce its output file.
type TransformError struct {
	Rule   string
	Source string
	Err    error
	Output string
}

func (err TransformError) Error() string {
	msg := fmt.Sprintf("transform %s on %q: %s", err.Rule, err.Source, err.Err)
	if out := strings.TrimSpace(err.Output); out != "" {
		msg += fmt.Sprintf(" (output: %s)", out)
	}
	return msg
}

func (err TransformError) Unwrap() error {
	return err.Err
}
