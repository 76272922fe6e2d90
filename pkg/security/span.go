package security

import (
	"time"

	"github.com/mikebaz/gozwave/pkg/crypto"
)

// SPANStateKind identifies which SPAN variant is active for a peer.
// Exactly one variant is active per peer at any time.
type SPANStateKind uint8

const (
	// SPANStateNone means no shared nonce state exists.
	SPANStateNone SPANStateKind = iota

	// SPANStateLocalEI means we generated a receiver EI and sent it to the
	// peer; we are waiting for the peer's sender EI.
	SPANStateLocalEI

	// SPANStateRemoteEI means the peer sent us its receiver EI; we must
	// contribute our sender EI to establish the SPAN.
	SPANStateRemoteEI

	// SPANStateEstablished means the shared CTR_DRBG is seeded and
	// producing nonces.
	SPANStateEstablished
)

// String returns the state name.
func (k SPANStateKind) String() string {
	switch k {
	case SPANStateNone:
		return "None"
	case SPANStateLocalEI:
		return "LocalEI"
	case SPANStateRemoteEI:
		return "RemoteEI"
	case SPANStateEstablished:
		return "SPAN"
	default:
		return "Unknown"
	}
}

// SavedNonce is a nonce retained after use, accepted again only for the
// immediately following sequence number until it expires.
type SavedNonce struct {
	Nonce   []byte
	Expires time.Time
}

// SPANState is the per-peer SPAN variant. Fields are populated according to
// Kind: ReceiverEI for LocalEI/RemoteEI, RNG/Current/SecurityClass for
// Established.
type SPANState struct {
	Kind SPANStateKind

	// ReceiverEI is the 16-byte receiver entropy input (LocalEI: ours,
	// RemoteEI: the peer's).
	ReceiverEI []byte

	// RNG is the established nonce generator.
	RNG *crypto.CTRDRBG

	// Current is the most recently issued nonce, if retained.
	Current *SavedNonce

	// SecurityClass is the class whose key schedule seeded RNG
	// (ClassTemporary for a bootstrap SPAN).
	SecurityClass Class
}

// Clone returns a deep copy, used to roll back after a failed trial
// decryption.
func (s *SPANState) Clone() *SPANState {
	if s == nil {
		return nil
	}
	c := &SPANState{
		Kind:          s.Kind,
		SecurityClass: s.SecurityClass,
	}
	if s.ReceiverEI != nil {
		c.ReceiverEI = append([]byte(nil), s.ReceiverEI...)
	}
	if s.RNG != nil {
		c.RNG = s.RNG.Clone()
	}
	if s.Current != nil {
		c.Current = &SavedNonce{
			Nonce:   append([]byte(nil), s.Current.Nonce...),
			Expires: s.Current.Expires,
		}
	}
	return c
}
