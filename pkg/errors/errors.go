package errors

import (
	goerrors "errors"
	"fmt"
)

// New returns an error with the formatted message.
func New(format string, args ...interface{}) error {
	if len(args) == 0 {
		return goerrors.New(format)
	}
	return fmt.Errorf(format, args...)
}

// Is and As are re-exported so that callers don't need to import both error
// packages.
var (
	Is = goerrors.Is
	As = goerrors.As
)

// contextError annotates an error with a short description of what was being
// attempted when it occurred. It's a value type so that tests can compare
// errors with assert.Equal.
type contextError struct {
	context string
	err     error
}

// WithContext wraps `err` with `context`. The resulting message is
// "context: err". A nil error stays nil.
func WithContext(err error, context string) error {
	if err == nil {
		return nil
	}
	return contextError{context: context, err: err}
}

func (err contextError) Error() string {
	return fmt.Sprintf("%s: %s", err.context, err.err)
}

func (err contextError) Unwrap() error {
	return err.err
}

// RootCause strips all the context added by WithContext and returns the
// original error.
func RootCause(err error) error {
	for {
		ctxErr, ok := err.(contextError)
		if !ok {
			return err
		}
		err = ctxErr.err
	}
}

// FriendlyError is an error whose message is meant to be shown directly to
// the user, without any of the context that was added as it propagated.
type FriendlyError struct {
	tmpl string
	args []interface{}
}

// NewFriendlyError creates a FriendlyError from a format string.
func NewFriendlyError(tmpl string, args ...interface{}) FriendlyError {
	return FriendlyError{tmpl: tmpl, args: args}
}

func (err FriendlyError) Error() string {
	return err.FriendlyMessage()
}

// FriendlyMessage returns the formatted message.
func (err FriendlyError) FriendlyMessage() string {
	return fmt.Sprintf(err.tmpl, err.args...)
}

// Friendly is implemented by errors that can describe themselves to the user.
type Friendly interface {
	FriendlyMessage() string
}

// GetFriendly returns the friendly message of the first error in the chain
// that implements Friendly.
func GetFriendly(err error) (string, bool) {
	var friendly Friendly
	if As(err, &friendly) {
		return friendly.FriendlyMessage(), true
	}
	return "", false
}
