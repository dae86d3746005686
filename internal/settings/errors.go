package settings

import "errors"

// Domain errors for the settings store.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, settings.ErrTypeMismatch) {
//	    // reject the request
//	}
var (
	// ErrModuleExists is returned when a module registers twice.
	ErrModuleExists = errors.New("settings: module already registered")

	// ErrUnknownModule is returned for a module that never registered.
	ErrUnknownModule = errors.New("settings: unknown module")

	// ErrUnknownItem is returned for an item the module did not declare.
	ErrUnknownItem = errors.New("settings: unknown item")

	// ErrTypeMismatch is returned when a value does not fit the field kind.
	ErrTypeMismatch = errors.New("settings: value does not match field type")

	// ErrInvalidField is returned when a field declaration is malformed.
	ErrInvalidField = errors.New("settings: invalid field")
)
