package security2

import "errors"

// Security 2 errors. Only ErrCannotDecode and ErrNoSPAN drive protocol-level
// recovery (the driver answers them with a NonceReport); everything else is
// surfaced to the caller unchanged.
var (
	// ErrCannotDecode is returned when an encapsulated frame fails
	// authentication on every nonce candidate, is a duplicate, or its
	// authentication data does not match. The receiver answers with a
	// NonceReport(SOS).
	ErrCannotDecode = errors.New("security2: cannot decode encapsulated command")

	// ErrNoSPAN is returned when a frame arrives, or a send is attempted,
	// without usable SPAN state. The receiver's nonce is required first.
	ErrNoSPAN = errors.New("security2: no SPAN established, receiver nonce required")

	// ErrMissingExtension is returned when a multicast destination is
	// encoded without an MGRP extension.
	ErrMissingExtension = errors.New("security2: multicast frame requires an MGRP extension")

	// ErrNotReady is returned when encapsulation is attempted before the
	// security context has an own node id and manager.
	ErrNotReady = errors.New("security2: security context not ready")
)
