// AES-CMAC implementation for the Z-Wave Security 2 key schedule.
// This implements AES-128-CMAC as defined in RFC 4493 / NIST 800-38B.
// S2 uses CMAC as the PRF for network-key and temp-key expansion.

package crypto

import (
	"crypto/aes"
	"errors"
)

// CMACSize is the CMAC output size in bytes (one AES block).
const CMACSize = 16

// ErrCMACInvalidKeySize is returned when the CMAC key is not 16 bytes.
var ErrCMACInvalidKeySize = errors.New("cmac: invalid key size, must be 16 bytes")

// CMACAES128 computes the AES-128-CMAC of data under key.
// The key must be exactly 16 bytes; the result is a 16-byte tag.
func CMACAES128(key, data []byte) ([]byte, error) {
	if len(key) != AESCCMKeySize {
		return nil, ErrCMACInvalidKeySize
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	// Subkey generation (RFC 4493 Section 2.3):
	// L = AES(K, 0^128); K1 = dbl(L); K2 = dbl(K1)
	var l [aesBlockSize]byte
	block.Encrypt(l[:], l[:])
	k1 := dbl(l)
	k2 := dbl(k1)

	// Number of blocks, with the empty message counted as one block.
	n := (len(data) + aesBlockSize - 1) / aesBlockSize
	lastComplete := n > 0 && len(data)%aesBlockSize == 0
	if n == 0 {
		n = 1
	}

	// Build the final block M_n': XOR with K1 if complete, pad and XOR
	// with K2 otherwise.
	var last [aesBlockSize]byte
	if lastComplete {
		copy(last[:], data[(n-1)*aesBlockSize:])
		for i := 0; i < aesBlockSize; i++ {
			last[i] ^= k1[i]
		}
	} else {
		rest := data[(n-1)*aesBlockSize:]
		copy(last[:], rest)
		last[len(rest)] = 0x80
		for i := 0; i < aesBlockSize; i++ {
			last[i] ^= k2[i]
		}
	}

	// CBC-MAC over the first n-1 blocks, then the final block.
	var x [aesBlockSize]byte
	for i := 0; i < n-1; i++ {
		for j := 0; j < aesBlockSize; j++ {
			x[j] ^= data[i*aesBlockSize+j]
		}
		block.Encrypt(x[:], x[:])
	}
	for j := 0; j < aesBlockSize; j++ {
		x[j] ^= last[j]
	}
	block.Encrypt(x[:], x[:])

	out := make([]byte, CMACSize)
	copy(out, x[:])
	return out, nil
}

// dbl doubles a 128-bit value in GF(2^128) per RFC 4493 Section 2.3:
// left shift by one, XOR 0x87 into the low byte if the high bit was set.
func dbl(in [aesBlockSize]byte) [aesBlockSize]byte {
	var out [aesBlockSize]byte
	var carry byte
	for i := aesBlockSize - 1; i >= 0; i-- {
		out[i] = in[i]<<1 | carry
		carry = in[i] >> 7
	}
	if carry != 0 {
		out[aesBlockSize-1] ^= 0x87
	}
	return out
}
