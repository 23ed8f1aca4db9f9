package boot

import "errors"

var (
	// ErrAlreadyRegistered indicates a second application task registration.
	ErrAlreadyRegistered = errors.New("boot: application task already registered")
	// ErrInvalidNotificationBits indicates equal, out-of-range or reserved notification bits.
	ErrInvalidNotificationBits = errors.New("boot: invalid notification bits")
	// ErrInvalidEntry indicates a nil task entry.
	ErrInvalidEntry = errors.New("boot: nil task entry")
	// ErrInvalidConfig indicates a protocol config that fails validation.
	ErrInvalidConfig = errors.New("boot: invalid protocol config")
	// ErrInvalidState indicates a call made out of boot order (e.g. attach before register).
	ErrInvalidState = errors.New("boot: invalid state")
	// ErrAlreadyStarted indicates MarkStarted was called more than once.
	ErrAlreadyStarted = errors.New("boot: scheduler already started")
)
