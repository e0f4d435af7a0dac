package engine

import (
	"errors"
	"fmt"
)

var (
	// caller is not an admin of the chat, for an admin-only command
	ErrForbidden = errors.New("admins only")
	// wrapped by every InvalidArgumentError
	ErrInvalidArgument = errors.New("invalid argument")
	ErrUnknownCommand  = errors.New("unknown command")
)

// A command was rejected because of its arguments. No state was changed.
type InvalidArgumentError struct {
	Command string
	// human-readable, suitable for relaying back to the caller
	Reason string
}

func (e *InvalidArgumentError) Error() string {
	return fmt.Sprintf("invalid argument to /%s: %s", e.Command, e.Reason)
}

func (e *InvalidArgumentError) Unwrap() error {
	return ErrInvalidArgument
}

func invalidArgf(cmd string, format string, args ...any) error {
	return &InvalidArgumentError{Command: cmd, Reason: fmt.Sprintf(format, args...)}
}

// returned from inside a mutation when nothing needs to be committed or persisted
var errUnchanged = errors.New("unchanged")

// Short machine-readable classification of an error returned from the engine, for transports.
func ErrorKind(err error) string {
	var iae *InvalidArgumentError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.As(err, &iae), errors.Is(err, ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, ErrUnknownCommand):
		return "unknown_command"
	default:
		return "internal"
	}
}
