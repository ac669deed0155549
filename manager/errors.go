package manager

import (
	"errors"
	"fmt"
)

// ErrManagerClosed is returned by operations on a closed manager.
var ErrManagerClosed = errors.New("manager is closed")

// InvalidNameError reports a tool name that does not follow the
// <prefix>_<server>_<tool> grammar.
type InvalidNameError struct {
	Name   string
	Reason string
}

func (e *InvalidNameError) Error() string {
	return fmt.Sprintf("invalid tool name %q: %s", e.Name, e.Reason)
}

// UnknownServerError reports that a name parsed to a server with no
// active client.
type UnknownServerError struct {
	Server string
}

func (e *UnknownServerError) Error() string {
	return fmt.Sprintf("no connected server named %q", e.Server)
}

// IsInvalidName checks whether err is a namespaced-name grammar
// failure.
func IsInvalidName(err error) bool {
	var e *InvalidNameError
	return errors.As(err, &e)
}

// IsUnknownServer checks whether err reports a server with no active
// client.
func IsUnknownServer(err error) bool {
	var e *UnknownServerError
	return errors.As(err, &e)
}
