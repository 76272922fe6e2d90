package crypto

import (
	"bytes"
	"testing"
)

func TestExpandNetworkKey(t *testing.T) {
	pnk := mustHex(t, "000102030405060708090a0b0c0d0e0f")

	set, err := ExpandNetworkKey(pnk)
	if err != nil {
		t.Fatalf("ExpandNetworkKey failed: %v", err)
	}

	if len(set.KeyCCM) != AESCCMKeySize {
		t.Errorf("KeyCCM length = %d, want %d", len(set.KeyCCM), AESCCMKeySize)
	}
	if len(set.KeyMPAN) != AESCCMKeySize {
		t.Errorf("KeyMPAN length = %d, want %d", len(set.KeyMPAN), AESCCMKeySize)
	}
	if len(set.PersonalizationString) != PersonalizationStringSize {
		t.Errorf("PersonalizationString length = %d, want %d",
			len(set.PersonalizationString), PersonalizationStringSize)
	}
	if !bytes.Equal(set.NetworkKey, pnk) {
		t.Error("NetworkKey does not round-trip the input")
	}

	// The derived keys must be pairwise distinct.
	if bytes.Equal(set.KeyCCM, set.KeyMPAN) {
		t.Error("KeyCCM equals KeyMPAN")
	}
	if bytes.Equal(set.KeyCCM, set.PersonalizationString[:16]) {
		t.Error("KeyCCM leaks into the personalization string")
	}

	// Expansion is deterministic.
	again, err := ExpandNetworkKey(pnk)
	if err != nil {
		t.Fatalf("ExpandNetworkKey failed: %v", err)
	}
	if !bytes.Equal(set.KeyCCM, again.KeyCCM) {
		t.Error("expansion is not deterministic")
	}

	// Different network keys expand to different material.
	other, err := ExpandNetworkKey(mustHex(t, "ffffffffffffffffffffffffffffffff"))
	if err != nil {
		t.Fatalf("ExpandNetworkKey failed: %v", err)
	}
	if bytes.Equal(set.KeyCCM, other.KeyCCM) {
		t.Error("distinct network keys produced identical KeyCCM")
	}
}

func TestExpandNetworkKeyInvalidLength(t *testing.T) {
	if _, err := ExpandNetworkKey(make([]byte, 15)); err != ErrInvalidNetworkKey {
		t.Errorf("got error %v, want ErrInvalidNetworkKey", err)
	}
}

func TestExpandTempKey(t *testing.T) {
	alice, err := GenerateECDHKeyPair()
	if err != nil {
		t.Fatalf("GenerateECDHKeyPair failed: %v", err)
	}
	bob, err := GenerateECDHKeyPair()
	if err != nil {
		t.Fatalf("GenerateECDHKeyPair failed: %v", err)
	}

	secretA, err := SharedSecret(alice.PrivateKey, bob.PublicKey)
	if err != nil {
		t.Fatalf("SharedSecret failed: %v", err)
	}
	secretB, err := SharedSecret(bob.PrivateKey, alice.PublicKey)
	if err != nil {
		t.Fatalf("SharedSecret failed: %v", err)
	}
	if !bytes.Equal(secretA, secretB) {
		t.Fatal("ECDH shared secrets disagree")
	}

	// Both sides must expand to the same temp key set when they agree on
	// the public key ordering.
	setA, err := ExpandTempKey(secretA, alice.PublicKey, bob.PublicKey)
	if err != nil {
		t.Fatalf("ExpandTempKey failed: %v", err)
	}
	setB, err := ExpandTempKey(secretB, alice.PublicKey, bob.PublicKey)
	if err != nil {
		t.Fatalf("ExpandTempKey failed: %v", err)
	}
	if !bytes.Equal(setA.KeyCCM, setB.KeyCCM) {
		t.Error("temp KeyCCM disagrees between peers")
	}
	if !bytes.Equal(setA.PersonalizationString, setB.PersonalizationString) {
		t.Error("temp personalization string disagrees between peers")
	}

	// Swapped public key order is a different binding.
	swapped, err := ExpandTempKey(secretA, bob.PublicKey, alice.PublicKey)
	if err != nil {
		t.Fatalf("ExpandTempKey failed: %v", err)
	}
	if bytes.Equal(setA.KeyCCM, swapped.KeyCCM) {
		t.Error("public key order does not affect the temp key")
	}
}
