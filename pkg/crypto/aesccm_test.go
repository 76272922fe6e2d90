package crypto

import (
	"bytes"
	"encoding/hex"
	"testing"
)

// RFC 3610 test vectors from Section 8.
// https://datatracker.ietf.org/doc/html/rfc3610
//
// All vectors have 13-byte nonces. Vectors #1 and #2 use 8-byte tags (M=8),
// which matches the S2 frame parameters exactly; vector #7 uses a 10-byte
// tag (M=10).
var rfc3610TestVectors = []struct {
	name       string
	key        string // AES key (hex)
	nonce      string // 13-byte nonce (hex)
	aad        string // Additional authenticated data (hex)
	plaintext  string // Plaintext to encrypt (hex)
	ciphertext string // Ciphertext without AAD (hex)
	tag        string // Tag (hex)
	nonceSize  int
	tagSize    int
}{
	// Packet Vector #1 (M=8, L=2)
	{
		name:       "RFC3610_Vector1",
		key:        "c0c1c2c3c4c5c6c7c8c9cacbcccdcecf",
		nonce:      "00000003020100a0a1a2a3a4a5",
		aad:        "0001020304050607",
		plaintext:  "08090a0b0c0d0e0f101112131415161718191a1b1c1d1e",
		ciphertext: "588c979a61c663d2f066d0c2c0f989806d5f6b61dac384",
		tag:        "17e8d12cfdf926e0",
		nonceSize:  13,
		tagSize:    8,
	},
	// Packet Vector #2 (M=8, L=2)
	{
		name:       "RFC3610_Vector2",
		key:        "c0c1c2c3c4c5c6c7c8c9cacbcccdcecf",
		nonce:      "00000004030201a0a1a2a3a4a5",
		aad:        "0001020304050607",
		plaintext:  "08090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f",
		ciphertext: "72c91a36e135f8cf291ca894085c87e3cc15c439c9e43a3b",
		tag:        "a091d56e10400916",
		nonceSize:  13,
		tagSize:    8,
	},
	// Packet Vector #7 (M=10, L=2) - 10-byte tag
	{
		name:       "RFC3610_Vector7",
		key:        "c0c1c2c3c4c5c6c7c8c9cacbcccdcecf",
		nonce:      "00000009080706a0a1a2a3a4a5",
		aad:        "0001020304050607",
		plaintext:  "08090a0b0c0d0e0f101112131415161718191a1b1c1d1e",
		ciphertext: "0135d1b2c95f41d5d1d4fec185d166b8094e999dfed96c",
		tag:        "048c56602c97acbb7490",
		nonceSize:  13,
		tagSize:    10,
	},
}

func TestAESCCMConstants(t *testing.T) {
	if AESCCMKeySize != 16 {
		t.Errorf("AESCCMKeySize = %d, want 16", AESCCMKeySize)
	}
	if AESCCMTagSize != 8 {
		t.Errorf("AESCCMTagSize = %d, want 8", AESCCMTagSize)
	}
	if AESCCMNonceSize != 13 {
		t.Errorf("AESCCMNonceSize = %d, want 13", AESCCMNonceSize)
	}
}

func TestNewAESCCM(t *testing.T) {
	key := make([]byte, AESCCMKeySize)
	_, err := NewAESCCM(key)
	if err != nil {
		t.Errorf("NewAESCCM with valid key failed: %v", err)
	}

	invalidSizes := []int{0, 8, 15, 17, 24, 32}
	for _, size := range invalidSizes {
		key := make([]byte, size)
		_, err := NewAESCCM(key)
		if err != ErrAESCCMInvalidKeySize {
			t.Errorf("NewAESCCM with %d-byte key: got error %v, want ErrAESCCMInvalidKeySize", size, err)
		}
	}
}

func TestAESCCMRFC3610Vectors(t *testing.T) {
	for _, tc := range rfc3610TestVectors {
		t.Run(tc.name, func(t *testing.T) {
			key := mustHex(t, tc.key)
			nonce := mustHex(t, tc.nonce)
			aad := mustHex(t, tc.aad)
			plaintext := mustHex(t, tc.plaintext)
			wantCiphertext := mustHex(t, tc.ciphertext)
			wantTag := mustHex(t, tc.tag)

			ccm, err := NewAESCCMWithParams(key, tc.nonceSize, tc.tagSize)
			if err != nil {
				t.Fatalf("NewAESCCMWithParams failed: %v", err)
			}

			sealed, err := ccm.Seal(nonce, plaintext, aad)
			if err != nil {
				t.Fatalf("Seal failed: %v", err)
			}

			gotCiphertext := sealed[:len(plaintext)]
			gotTag := sealed[len(plaintext):]
			if !bytes.Equal(gotCiphertext, wantCiphertext) {
				t.Errorf("ciphertext mismatch\ngot:  %x\nwant: %x", gotCiphertext, wantCiphertext)
			}
			if !bytes.Equal(gotTag, wantTag) {
				t.Errorf("tag mismatch\ngot:  %x\nwant: %x", gotTag, wantTag)
			}

			opened, err := ccm.Open(nonce, sealed, aad)
			if err != nil {
				t.Fatalf("Open failed: %v", err)
			}
			if !bytes.Equal(opened, plaintext) {
				t.Errorf("plaintext mismatch\ngot:  %x\nwant: %x", opened, plaintext)
			}
		})
	}
}

func TestAESCCMRoundtrip(t *testing.T) {
	key := mustHex(t, "000102030405060708090a0b0c0d0e0f")
	nonce := mustHex(t, "000102030405060708090a0b0c")
	plaintext := []byte("S2 encapsulated payload")
	aad := []byte("additional authenticated data")

	ccm, err := NewAESCCM(key)
	if err != nil {
		t.Fatalf("NewAESCCM failed: %v", err)
	}

	ciphertext, err := ccm.Seal(nonce, plaintext, aad)
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	if len(ciphertext) != len(plaintext)+AESCCMTagSize {
		t.Errorf("ciphertext length = %d, want %d", len(ciphertext), len(plaintext)+AESCCMTagSize)
	}

	decrypted, err := ccm.Open(nonce, ciphertext, aad)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if !bytes.Equal(plaintext, decrypted) {
		t.Errorf("decrypted text mismatch\ngot:  %x\nwant: %x", decrypted, plaintext)
	}
}

func TestAESCCMTamperDetection(t *testing.T) {
	key := make([]byte, AESCCMKeySize)
	nonce := make([]byte, AESCCMNonceSize)
	plaintext := []byte("authenticated content")
	aad := []byte{0x01, 0x05, 0xde, 0xad, 0xbe, 0xef}

	ccm, err := NewAESCCM(key)
	if err != nil {
		t.Fatalf("NewAESCCM failed: %v", err)
	}
	sealed, err := ccm.Seal(nonce, plaintext, aad)
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}

	t.Run("flipped ciphertext byte", func(t *testing.T) {
		bad := append([]byte(nil), sealed...)
		bad[0] ^= 0x01
		if _, err := ccm.Open(nonce, bad, aad); err != ErrAESCCMAuthFailed {
			t.Errorf("got error %v, want ErrAESCCMAuthFailed", err)
		}
	})

	t.Run("flipped tag byte", func(t *testing.T) {
		bad := append([]byte(nil), sealed...)
		bad[len(bad)-1] ^= 0x80
		if _, err := ccm.Open(nonce, bad, aad); err != ErrAESCCMAuthFailed {
			t.Errorf("got error %v, want ErrAESCCMAuthFailed", err)
		}
	})

	t.Run("modified aad", func(t *testing.T) {
		badAAD := append([]byte(nil), aad...)
		badAAD[2] ^= 0xff
		if _, err := ccm.Open(nonce, sealed, badAAD); err != ErrAESCCMAuthFailed {
			t.Errorf("got error %v, want ErrAESCCMAuthFailed", err)
		}
	})

	t.Run("wrong nonce", func(t *testing.T) {
		badNonce := append([]byte(nil), nonce...)
		badNonce[12] ^= 0x01
		if _, err := ccm.Open(badNonce, sealed, aad); err != ErrAESCCMAuthFailed {
			t.Errorf("got error %v, want ErrAESCCMAuthFailed", err)
		}
	})
}

func TestAESCCMEmptyPlaintext(t *testing.T) {
	key := make([]byte, AESCCMKeySize)
	nonce := make([]byte, AESCCMNonceSize)
	aad := []byte("frame header")

	ccm, err := NewAESCCM(key)
	if err != nil {
		t.Fatalf("NewAESCCM failed: %v", err)
	}

	sealed, err := ccm.Seal(nonce, nil, aad)
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	if len(sealed) != AESCCMTagSize {
		t.Errorf("sealed length = %d, want %d", len(sealed), AESCCMTagSize)
	}

	opened, err := ccm.Open(nonce, sealed, aad)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if len(opened) != 0 {
		t.Errorf("opened length = %d, want 0", len(opened))
	}
}

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("invalid hex %q: %v", s, err)
	}
	return b
}
