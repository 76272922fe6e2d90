// S2 key schedule: CMAC-based expansion of a permanent network key (or the
// bootstrap temp key) into the working key material. Each security class's
// 16-byte network key expands into:
//   - KeyCCM: the AES-CCM encryption/authentication key
//   - KeyMPAN: the multicast pre-agreed nonce key
//   - PersonalizationString: 32 bytes seeding the SPAN CTR_DRBG

package crypto

import "errors"

// Key schedule sizes.
const (
	// NetworkKeySize is the size of a permanent network key.
	NetworkKeySize = 16

	// PersonalizationStringSize is the size of the SPAN personalization string.
	PersonalizationStringSize = 32
)

// Key schedule constants. The expansion is an SP 800-108 style CMAC chain;
// the network and temp schedules differ only in the per-schedule constant.
var (
	constantNK  = repeat(0x55, 15)
	constantTE  = repeat(0x88, 15)
	constantPRK = repeat(0x33, 16)
)

// ErrInvalidNetworkKey is returned when a network key has the wrong length.
var ErrInvalidNetworkKey = errors.New("keys: invalid network key length")

// NetworkKeySet is the derived key material for one security class.
type NetworkKeySet struct {
	// NetworkKey is the 16-byte permanent network key (PNK) the set was
	// expanded from.
	NetworkKey []byte

	// KeyCCM is the AES-128-CCM key for singlecast frames.
	KeyCCM []byte

	// KeyMPAN is the multicast nonce key. Multicast decryption is not
	// implemented; the key is derived so the set is complete.
	KeyMPAN []byte

	// PersonalizationString seeds the SPAN CTR_DRBG for this class.
	PersonalizationString []byte
}

// ExpandNetworkKey derives the working key set from a 16-byte permanent
// network key.
func ExpandNetworkKey(networkKey []byte) (*NetworkKeySet, error) {
	if len(networkKey) != NetworkKeySize {
		return nil, ErrInvalidNetworkKey
	}
	set, err := expandKeySet(networkKey, constantNK)
	if err != nil {
		return nil, err
	}
	set.NetworkKey = append([]byte(nil), networkKey...)
	return set, nil
}

// ExpandTempKey derives the bootstrap temp key set from the ECDH shared
// secret and both parties' public keys. The pseudorandom key is
// CMAC(constant, secret || pubA || pubB); expansion then follows the same
// chain as the network schedule with the temp constant.
func ExpandTempKey(sharedSecret, pubKeyA, pubKeyB []byte) (*NetworkKeySet, error) {
	ikm := make([]byte, 0, len(sharedSecret)+len(pubKeyA)+len(pubKeyB))
	ikm = append(ikm, sharedSecret...)
	ikm = append(ikm, pubKeyA...)
	ikm = append(ikm, pubKeyB...)

	prk, err := CMACAES128(constantPRK, ikm)
	if err != nil {
		return nil, err
	}
	set, err := expandKeySet(prk, constantTE)
	if err != nil {
		return nil, err
	}
	set.NetworkKey = prk
	return set, nil
}

// expandKeySet runs the CMAC chain
//
//	T_i = CMAC(K, T_{i-1} || constant || i)
//
// and assigns T1=KeyCCM, T2=KeyMPAN, T3||T4=PersonalizationString.
func expandKeySet(key, constant []byte) (*NetworkKeySet, error) {
	var prev []byte
	blocks := make([][]byte, 4)
	for i := range blocks {
		msg := make([]byte, 0, len(prev)+len(constant)+1)
		msg = append(msg, prev...)
		msg = append(msg, constant...)
		msg = append(msg, byte(i+1))

		t, err := CMACAES128(key, msg)
		if err != nil {
			return nil, err
		}
		blocks[i] = t
		prev = t
	}

	pers := make([]byte, 0, PersonalizationStringSize)
	pers = append(pers, blocks[2]...)
	pers = append(pers, blocks[3]...)

	return &NetworkKeySet{
		KeyCCM:                blocks[0],
		KeyMPAN:               blocks[1],
		PersonalizationString: pers,
	}, nil
}

func repeat(b byte, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = b
	}
	return out
}
