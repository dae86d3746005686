package tracking

import "errors"

var (
	// ErrMissingUser is returned by the handlers when a presence payload has
	// no user name.
	ErrMissingUser = errors.New("tracking: payload has no user")
)
