// Curve25519 ECDH for the S2 KEX bootstrap. KEX profile 1 mandates
// Curve25519; the temp key is expanded from the shared secret via
// ExpandTempKey.

package crypto

import (
	"crypto/rand"

	"golang.org/x/crypto/curve25519"
)

// ECDHKeySize is the Curve25519 public and private key size in bytes.
const ECDHKeySize = 32

// ECDHKeyPair is a Curve25519 key pair for the KEX bootstrap.
type ECDHKeyPair struct {
	PrivateKey []byte
	PublicKey  []byte
}

// GenerateECDHKeyPair creates a fresh Curve25519 key pair from the system
// CSPRNG.
func GenerateECDHKeyPair() (*ECDHKeyPair, error) {
	priv := make([]byte, ECDHKeySize)
	if _, err := rand.Read(priv); err != nil {
		return nil, err
	}

	pub, err := curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return nil, err
	}

	return &ECDHKeyPair{PrivateKey: priv, PublicKey: pub}, nil
}

// SharedSecret computes the Curve25519 shared secret between our private key
// and the peer's public key.
func SharedSecret(privateKey, peerPublicKey []byte) ([]byte, error) {
	return curve25519.X25519(privateKey, peerPublicKey)
}
