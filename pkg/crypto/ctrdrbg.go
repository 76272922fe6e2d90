// AES-128 CTR_DRBG implementation for SPAN nonce generation.
// This implements the CTR_DRBG mechanism from NIST SP 800-90A without a
// derivation function, as required by the S2 SPAN construction: both peers
// instantiate the generator from the concatenated Entropy Inputs and the
// security class's personalization string, and then draw identical 16-byte
// nonce blocks from it.

package crypto

import "crypto/aes"

// CTR_DRBG parameters for AES-128 without a derivation function.
const (
	// CTRDRBGSeedSize is the seed length: AES key size + block size.
	CTRDRBGSeedSize = 32

	// CTRDRBGOutSize is the size of one generated block.
	CTRDRBGOutSize = 16
)

// CTRDRBG is a deterministic random bit generator over AES-128 in counter
// mode (SP 800-90A Section 10.2.1, no derivation function, no reseeding).
// It is not safe for concurrent use; the SecurityManager serializes access.
type CTRDRBG struct {
	key [aesBlockSize]byte
	v   [aesBlockSize]byte
}

// NewCTRDRBG instantiates a CTR_DRBG from 32 bytes of entropy input and an
// optional personalization string of up to 32 bytes. Shorter personalization
// strings are zero-padded; longer ones are truncated.
func NewCTRDRBG(entropy, personalization []byte) *CTRDRBG {
	var seed [CTRDRBGSeedSize]byte
	copy(seed[:], entropy)
	for i := 0; i < len(personalization) && i < CTRDRBGSeedSize; i++ {
		seed[i] ^= personalization[i]
	}

	d := &CTRDRBG{}
	d.update(seed)
	return d
}

// Generate produces n deterministic bytes and advances the generator state.
func (d *CTRDRBG) Generate(n int) []byte {
	block, _ := aes.NewCipher(d.key[:]) // key is always 16 bytes

	out := make([]byte, 0, n+aesBlockSize)
	var ks [aesBlockSize]byte
	for len(out) < n {
		incrementCounter(d.v[:])
		block.Encrypt(ks[:], d.v[:])
		out = append(out, ks[:]...)
	}

	// Post-generate update with zero additional input, per SP 800-90A.
	d.update([CTRDRBGSeedSize]byte{})
	return out[:n]
}

// Clone returns an independent copy of the generator state. Used to roll
// back a SPAN after a failed trial decryption.
func (d *CTRDRBG) Clone() *CTRDRBG {
	c := *d
	return &c
}

// update is the CTR_DRBG_Update function from SP 800-90A Section 10.2.1.2.
func (d *CTRDRBG) update(provided [CTRDRBGSeedSize]byte) {
	block, _ := aes.NewCipher(d.key[:])

	var temp [CTRDRBGSeedSize]byte
	for i := 0; i < CTRDRBGSeedSize; i += aesBlockSize {
		incrementCounter(d.v[:])
		block.Encrypt(temp[i:i+aesBlockSize], d.v[:])
	}
	for i := 0; i < CTRDRBGSeedSize; i++ {
		temp[i] ^= provided[i]
	}
	copy(d.key[:], temp[:aesBlockSize])
	copy(d.v[:], temp[aesBlockSize:])
}
