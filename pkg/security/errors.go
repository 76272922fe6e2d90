package security

import "errors"

// Security manager errors.
var (
	// ErrNoSecurityClass is returned when a node's security class is
	// unknown or none.
	ErrNoSecurityClass = errors.New("security: node has no security class")

	// ErrNoKeysForClass is returned when no network key is configured for
	// the requested security class.
	ErrNoKeysForClass = errors.New("security: no keys for security class")

	// ErrNoTempKey is returned when a temp-key operation is attempted for
	// a node that is not being bootstrapped.
	ErrNoTempKey = errors.New("security: no temp key for node")

	// ErrNoSPANState is returned when a nonce is requested while the SPAN
	// is not established. This indicates a programmer error in the caller.
	ErrNoSPANState = errors.New("security: SPAN not established")

	// ErrInvalidEI is returned when an entropy input has the wrong length.
	ErrInvalidEI = errors.New("security: invalid entropy input length")
)
