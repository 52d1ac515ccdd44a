package errors

import (
	"fmt"
)

// MissingFieldError represents a missing required field.
type MissingFieldError struct {
	Field string
}

func (err MissingFieldError) Error() string {
	return fmt.Sprintf("missing required field: %s", err.Field)
}

// FriendlyMessage explains which configuration key needs to be set.
func (err MissingFieldError) FriendlyMessage() string {
	return fmt.Sprintf("The %q option is required but isn't set.\n"+
		"Add `%s=...` to the deploy configuration file.", err.Field, err.Field)
}

// FileNotFound represents when we were unable to access a file
// because the path didn't exist.
type FileNotFound struct {
	Path string
}

func (err FileNotFound) Error() string {
	return fmt.Sprintf("%q does not exist", err.Path)
}
