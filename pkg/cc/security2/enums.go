// Package security2 implements the Security 2 (S2) command class: the
// encapsulation codec with its SPAN-based nonce management, the nonce
// exchange commands, and the KEX bootstrap dialog messages.
//
// The encapsulation layer authenticates and encrypts arbitrary command class
// payloads with AES-128-CCM, binding the sender, destination, home id, frame
// length and the unencrypted frame prefix into the authentication data.
package security2

import "fmt"

// Security 2 command identifiers.
const (
	CmdNonceGet                uint8 = 0x01
	CmdNonceReport             uint8 = 0x02
	CmdMessageEncapsulation    uint8 = 0x03
	CmdKEXGet                  uint8 = 0x04
	CmdKEXReport               uint8 = 0x05
	CmdKEXSet                  uint8 = 0x06
	CmdKEXFail                 uint8 = 0x07
	CmdPublicKeyReport         uint8 = 0x08
	CmdNetworkKeyGet           uint8 = 0x09
	CmdNetworkKeyReport        uint8 = 0x0a
	CmdNetworkKeyVerify        uint8 = 0x0b
	CmdTransferEnd             uint8 = 0x0c
	CmdCommandsSupportedGet    uint8 = 0x0d
	CmdCommandsSupportedReport uint8 = 0x0e
)

// KEXScheme is a key exchange scheme. The scheme's numeric value is its bit
// position in the KEX scheme bitmask; bit 0 is reserved.
type KEXScheme uint8

// KEXScheme1 is the only scheme defined.
const KEXScheme1 KEXScheme = 1

// ECDHProfile is an ECDH curve profile. The profile's numeric value is its
// bit position in the KEX profile bitmask.
type ECDHProfile uint8

// ProfileCurve25519 is the only profile defined.
const ProfileCurve25519 ECDHProfile = 0

// KEXFailType is the reason code of a KEXFail command.
type KEXFailType uint8

// KEXFail reasons.
const (
	// KEXFailNoKeysRequested: the joining node requested no keys.
	KEXFailNoKeysRequested KEXFailType = 0x01

	// KEXFailNoSupportedScheme: no mutually supported KEX scheme.
	KEXFailNoSupportedScheme KEXFailType = 0x02

	// KEXFailNoSupportedCurve: no mutually supported ECDH profile.
	KEXFailNoSupportedCurve KEXFailType = 0x03

	// KEXFailDecrypt: a bootstrap frame failed to decrypt.
	KEXFailDecrypt KEXFailType = 0x05

	// KEXFailCancel: bootstrapping was canceled.
	KEXFailCancel KEXFailType = 0x06

	// KEXFailAuth: the echoed KEX frame did not match the original, or the
	// exchange ran at the wrong security level.
	KEXFailAuth KEXFailType = 0x07

	// KEXFailKeyNotGranted: a key was requested that was not granted.
	KEXFailKeyNotGranted KEXFailType = 0x08

	// KEXFailNoVerify: a granted key was never verified.
	KEXFailNoVerify KEXFailType = 0x09

	// KEXFailDifferentKey: key verification ran under an unexpected key.
	KEXFailDifferentKey KEXFailType = 0x0a
)

// String returns the reason name.
func (f KEXFailType) String() string {
	switch f {
	case KEXFailNoKeysRequested:
		return "NoKeysRequested"
	case KEXFailNoSupportedScheme:
		return "NoSupportedScheme"
	case KEXFailNoSupportedCurve:
		return "NoSupportedCurve"
	case KEXFailDecrypt:
		return "Decrypt"
	case KEXFailCancel:
		return "Cancel"
	case KEXFailAuth:
		return "Auth"
	case KEXFailKeyNotGranted:
		return "KeyNotGranted"
	case KEXFailNoVerify:
		return "NoVerify"
	case KEXFailDifferentKey:
		return "DifferentKey"
	default:
		return fmt.Sprintf("KEXFail(0x%02x)", uint8(f))
	}
}
