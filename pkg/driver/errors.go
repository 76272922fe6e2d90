package driver

import "errors"

// Driver errors.
var (
	// ErrNotReady is returned when a send is attempted before the
	// controller has a node id.
	ErrNotReady = errors.New("driver: controller not ready")

	// ErrNoSecurity is returned by New when no security manager is
	// configured.
	ErrNoSecurity = errors.New("driver: security keys not available")

	// ErrAwaitTimeout is returned when a peer does not answer in time.
	ErrAwaitTimeout = errors.New("driver: timed out awaiting response")

	// ErrBootstrapFailed is returned when the KEX dialog terminates
	// without provisioning keys. It wraps the triggering condition.
	ErrBootstrapFailed = errors.New("driver: S2 bootstrap failed")
)
