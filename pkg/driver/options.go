package driver

import "time"

// TransmitOptions are the radio-level transmit flags passed to the
// transport.
type TransmitOptions uint8

// Transmit flags.
const (
	TransmitACK       TransmitOptions = 0x01
	TransmitLowPower  TransmitOptions = 0x02
	TransmitAutoRoute TransmitOptions = 0x04
	TransmitNoRoute   TransmitOptions = 0x10
	TransmitExplore   TransmitOptions = 0x20
)

// TransmitDefault is the standard flag set for application frames.
const TransmitDefault = TransmitACK | TransmitAutoRoute | TransmitExplore

// Priority orders outgoing frames in the transport's send queue.
type Priority int

const (
	// PriorityNormal is the default application priority.
	PriorityNormal Priority = iota

	// PriorityNodeQuery is used for interview queries.
	PriorityNodeQuery

	// PriorityNonce jumps the queue: nonce exchanges gate everything else.
	PriorityNonce
)

// SendOptions configure one outgoing command.
type SendOptions struct {
	TransmitOptions TransmitOptions

	// MaxSendAttempts bounds transport-level retransmission.
	MaxSendAttempts int

	Priority Priority

	// ChangeNodeStatusOnMissingACK lets a missing ACK mark the node dead.
	ChangeNodeStatusOnMissingACK bool

	// Secure is the command's security encapsulation flag. Secure
	// commands to S2 nodes are encapsulated per the S2 policy.
	Secure bool
}

// DefaultSendOptions returns the options for ordinary application frames.
func DefaultSendOptions() SendOptions {
	return SendOptions{
		TransmitOptions:              TransmitDefault,
		MaxSendAttempts:              3,
		Priority:                     PriorityNormal,
		ChangeNodeStatusOnMissingACK: true,
		Secure:                       true,
	}
}

// NonceSendOptions returns the options for NonceGet/NonceReport frames:
// one attempt, elevated priority, and a missing ACK never changes node
// status.
func NonceSendOptions() SendOptions {
	return SendOptions{
		TransmitOptions:              TransmitACK | TransmitAutoRoute,
		MaxSendAttempts:              1,
		Priority:                     PriorityNonce,
		ChangeNodeStatusOnMissingACK: false,
	}
}

// Await and retry defaults.
const (
	// DefaultAwaitTimeout bounds one wait for a peer's reply.
	DefaultAwaitTimeout = 10 * time.Second

	// interviewRetryDelay is the pause between interview retries after a
	// "could not decode" result.
	interviewRetryDelay = 500 * time.Millisecond
)
