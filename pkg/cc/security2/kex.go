package security2

import (
	"fmt"
	"math/bits"

	"github.com/mikebaz/gozwave/pkg/cc"
	"github.com/mikebaz/gozwave/pkg/security"
)

// KEX flags byte bits (KEXReport and KEXSet).
const (
	kexFlagEcho = 0x01
	kexFlagCSA  = 0x02
)

// classesToBitmask encodes security classes into the KEX key bitmask. Each
// class's numeric value is its bit position (S2_Unauthenticated at bit 0,
// S0_Legacy at bit 7).
func classesToBitmask(classes []security.Class) (byte, error) {
	var mask byte
	for _, c := range classes {
		if c < 0 || c > 7 {
			return 0, fmt.Errorf("%w: class %v not encodable", cc.ErrPayloadInvalid, c)
		}
		mask |= 1 << uint(c)
	}
	return mask, nil
}

// classesFromBitmask decodes the KEX key bitmask, lowest bit first.
func classesFromBitmask(mask byte) []security.Class {
	var classes []security.Class
	for _, v := range cc.ParseBitMask([]byte{mask}, 0) {
		classes = append(classes, security.Class(v))
	}
	return classes
}

// KEXGet asks a node what key exchange parameters it supports.
type KEXGet struct{}

// CommandClassID implements cc.Command.
func (k *KEXGet) CommandClassID() cc.CommandClassID { return cc.Security2 }

// CommandID implements cc.Command.
func (k *KEXGet) CommandID() uint8 { return CmdKEXGet }

// MarshalPayload implements cc.Command.
func (k *KEXGet) MarshalPayload() ([]byte, error) { return nil, nil }

// DecodeKEXGet parses a KEXGet payload.
func DecodeKEXGet(payload []byte) (cc.Command, error) {
	return &KEXGet{}, nil
}

// KEXReport advertises the node's supported schemes, ECDH profiles and the
// security classes it requests. The same frame, with Echo set, is returned
// under the temp key to prove the key exchange was not tampered with.
type KEXReport struct {
	Echo              bool
	RequestCSA        bool
	SupportedSchemes  []KEXScheme
	SupportedProfiles []ECDHProfile
	RequestedKeys     []security.Class
}

// CommandClassID implements cc.Command.
func (k *KEXReport) CommandClassID() cc.CommandClassID { return cc.Security2 }

// CommandID implements cc.Command.
func (k *KEXReport) CommandID() uint8 { return CmdKEXReport }

// MarshalPayload implements cc.Command.
func (k *KEXReport) MarshalPayload() ([]byte, error) {
	var flags byte
	if k.Echo {
		flags |= kexFlagEcho
	}
	if k.RequestCSA {
		flags |= kexFlagCSA
	}

	var schemes byte
	for _, s := range k.SupportedSchemes {
		schemes |= 1 << uint(s)
	}
	var profiles byte
	for _, p := range k.SupportedProfiles {
		profiles |= 1 << uint(p)
	}
	keys, err := classesToBitmask(k.RequestedKeys)
	if err != nil {
		return nil, err
	}
	return []byte{flags, schemes, profiles, keys}, nil
}

// DecodeKEXReport parses a KEXReport payload.
func DecodeKEXReport(payload []byte) (cc.Command, error) {
	if len(payload) < 4 {
		return nil, fmt.Errorf("%w: KEXReport too short", cc.ErrPayloadInvalid)
	}
	k := &KEXReport{
		Echo:          payload[0]&kexFlagEcho != 0,
		RequestCSA:    payload[0]&kexFlagCSA != 0,
		RequestedKeys: classesFromBitmask(payload[3]),
	}
	for _, v := range cc.ParseBitMask([]byte{payload[1]}, 0) {
		k.SupportedSchemes = append(k.SupportedSchemes, KEXScheme(v))
	}
	for _, v := range cc.ParseBitMask([]byte{payload[2]}, 0) {
		k.SupportedProfiles = append(k.SupportedProfiles, ECDHProfile(v))
	}
	return k, nil
}

// KEXSet selects exactly one scheme and profile and grants keys. The same
// frame, with Echo set, is re-sent under the temp key for verification.
type KEXSet struct {
	Echo            bool
	PermitCSA       bool
	SelectedScheme  KEXScheme
	SelectedProfile ECDHProfile
	GrantedKeys     []security.Class
}

// CommandClassID implements cc.Command.
func (k *KEXSet) CommandClassID() cc.CommandClassID { return cc.Security2 }

// CommandID implements cc.Command.
func (k *KEXSet) CommandID() uint8 { return CmdKEXSet }

// MarshalPayload implements cc.Command.
func (k *KEXSet) MarshalPayload() ([]byte, error) {
	var flags byte
	if k.Echo {
		flags |= kexFlagEcho
	}
	if k.PermitCSA {
		flags |= kexFlagCSA
	}
	keys, err := classesToBitmask(k.GrantedKeys)
	if err != nil {
		return nil, err
	}
	return []byte{flags, 1 << uint(k.SelectedScheme), 1 << uint(k.SelectedProfile), keys}, nil
}

// DecodeKEXSet parses a KEXSet payload. The scheme and profile bytes must
// select exactly one bit each.
func DecodeKEXSet(payload []byte) (cc.Command, error) {
	if len(payload) < 4 {
		return nil, fmt.Errorf("%w: KEXSet too short", cc.ErrPayloadInvalid)
	}
	if bits.OnesCount8(payload[1]) != 1 {
		return nil, fmt.Errorf("%w: KEXSet must select exactly one scheme", cc.ErrPayloadInvalid)
	}
	if bits.OnesCount8(payload[2]) != 1 {
		return nil, fmt.Errorf("%w: KEXSet must select exactly one profile", cc.ErrPayloadInvalid)
	}
	return &KEXSet{
		Echo:            payload[0]&kexFlagEcho != 0,
		PermitCSA:       payload[0]&kexFlagCSA != 0,
		SelectedScheme:  KEXScheme(bits.TrailingZeros8(payload[1])),
		SelectedProfile: ECDHProfile(bits.TrailingZeros8(payload[2])),
		GrantedKeys:     classesFromBitmask(payload[3]),
	}, nil
}

// EchoEqual reports whether two KEXReport or KEXSet serializations are
// byte-for-byte identical once the echo bit is masked out. A mismatch
// terminates the bootstrap with KEXFail(Auth).
func EchoEqual(a, b []byte) bool {
	if len(a) != len(b) || len(a) == 0 {
		return false
	}
	if a[0]&^kexFlagEcho != b[0]&^kexFlagEcho {
		return false
	}
	for i := 1; i < len(a); i++ {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// KEXFail terminates a bootstrap with a reason code.
type KEXFail struct {
	Reason KEXFailType
}

// CommandClassID implements cc.Command.
func (k *KEXFail) CommandClassID() cc.CommandClassID { return cc.Security2 }

// CommandID implements cc.Command.
func (k *KEXFail) CommandID() uint8 { return CmdKEXFail }

// MarshalPayload implements cc.Command.
func (k *KEXFail) MarshalPayload() ([]byte, error) {
	return []byte{byte(k.Reason)}, nil
}

// DecodeKEXFail parses a KEXFail payload.
func DecodeKEXFail(payload []byte) (cc.Command, error) {
	if len(payload) < 1 {
		return nil, fmt.Errorf("%w: KEXFail too short", cc.ErrPayloadInvalid)
	}
	return &KEXFail{Reason: KEXFailType(payload[0])}, nil
}

// PublicKeyReport transfers one party's ECDH public key. The joining node
// sends its key with IncludingNode set; the including controller answers
// with IncludingNode clear.
//
// For authenticated classes the first two bytes of the joining node's key
// are obscured on the wire and entered out-of-band from the device's DSK.
type PublicKeyReport struct {
	IncludingNode bool
	PublicKey     []byte
}

// publicKeyReportFlagIncluding is bit 0 of the flags byte.
const publicKeyReportFlagIncluding = 0x01

// CommandClassID implements cc.Command.
func (p *PublicKeyReport) CommandClassID() cc.CommandClassID { return cc.Security2 }

// CommandID implements cc.Command.
func (p *PublicKeyReport) CommandID() uint8 { return CmdPublicKeyReport }

// MarshalPayload implements cc.Command.
func (p *PublicKeyReport) MarshalPayload() ([]byte, error) {
	if len(p.PublicKey) == 0 {
		return nil, fmt.Errorf("%w: PublicKeyReport without public key", cc.ErrPayloadInvalid)
	}
	var flags byte
	if p.IncludingNode {
		flags |= publicKeyReportFlagIncluding
	}
	out := make([]byte, 0, 1+len(p.PublicKey))
	out = append(out, flags)
	out = append(out, p.PublicKey...)
	return out, nil
}

// ObscuredPublicKey returns a copy of the key with the first two bytes
// zeroed, the form sent on the wire for authenticated bootstraps.
func (p *PublicKeyReport) ObscuredPublicKey() []byte {
	key := append([]byte(nil), p.PublicKey...)
	if len(key) >= 2 {
		key[0], key[1] = 0, 0
	}
	return key
}

// DecodePublicKeyReport parses a PublicKeyReport payload.
func DecodePublicKeyReport(payload []byte) (cc.Command, error) {
	if len(payload) < 2 {
		return nil, fmt.Errorf("%w: PublicKeyReport too short", cc.ErrPayloadInvalid)
	}
	return &PublicKeyReport{
		IncludingNode: payload[0]&publicKeyReportFlagIncluding != 0,
		PublicKey:     append([]byte(nil), payload[1:]...),
	}, nil
}

// NetworkKeyGet requests transfer of one granted key.
type NetworkKeyGet struct {
	RequestedKey security.Class
}

// CommandClassID implements cc.Command.
func (n *NetworkKeyGet) CommandClassID() cc.CommandClassID { return cc.Security2 }

// CommandID implements cc.Command.
func (n *NetworkKeyGet) CommandID() uint8 { return CmdNetworkKeyGet }

// MarshalPayload implements cc.Command.
func (n *NetworkKeyGet) MarshalPayload() ([]byte, error) {
	mask, err := classesToBitmask([]security.Class{n.RequestedKey})
	if err != nil {
		return nil, err
	}
	return []byte{mask}, nil
}

// DecodeNetworkKeyGet parses a NetworkKeyGet payload; exactly one key must
// be requested.
func DecodeNetworkKeyGet(payload []byte) (cc.Command, error) {
	if len(payload) < 1 {
		return nil, fmt.Errorf("%w: NetworkKeyGet too short", cc.ErrPayloadInvalid)
	}
	if bits.OnesCount8(payload[0]) != 1 {
		return nil, fmt.Errorf("%w: NetworkKeyGet must request exactly one key", cc.ErrPayloadInvalid)
	}
	return &NetworkKeyGet{
		RequestedKey: classesFromBitmask(payload[0])[0],
	}, nil
}

// NetworkKeyReport transfers a network key for one granted class. Always
// sent encrypted under the temp key.
type NetworkKeyReport struct {
	GrantedKey security.Class
	NetworkKey []byte
}

// CommandClassID implements cc.Command.
func (n *NetworkKeyReport) CommandClassID() cc.CommandClassID { return cc.Security2 }

// CommandID implements cc.Command.
func (n *NetworkKeyReport) CommandID() uint8 { return CmdNetworkKeyReport }

// MarshalPayload implements cc.Command.
func (n *NetworkKeyReport) MarshalPayload() ([]byte, error) {
	if len(n.NetworkKey) != security.EISize {
		return nil, fmt.Errorf("%w: NetworkKeyReport requires a 16-byte key", cc.ErrPayloadInvalid)
	}
	mask, err := classesToBitmask([]security.Class{n.GrantedKey})
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, 17)
	out = append(out, mask)
	out = append(out, n.NetworkKey...)
	return out, nil
}

// DecodeNetworkKeyReport parses a NetworkKeyReport payload.
func DecodeNetworkKeyReport(payload []byte) (cc.Command, error) {
	if len(payload) < 17 {
		return nil, fmt.Errorf("%w: NetworkKeyReport too short", cc.ErrPayloadInvalid)
	}
	if bits.OnesCount8(payload[0]) != 1 {
		return nil, fmt.Errorf("%w: NetworkKeyReport must grant exactly one key", cc.ErrPayloadInvalid)
	}
	return &NetworkKeyReport{
		GrantedKey: classesFromBitmask(payload[0])[0],
		NetworkKey: append([]byte(nil), payload[1:17]...),
	}, nil
}

// NetworkKeyVerify proves possession of a transferred key: it is sent
// encrypted under the key that was just received.
type NetworkKeyVerify struct{}

// CommandClassID implements cc.Command.
func (n *NetworkKeyVerify) CommandClassID() cc.CommandClassID { return cc.Security2 }

// CommandID implements cc.Command.
func (n *NetworkKeyVerify) CommandID() uint8 { return CmdNetworkKeyVerify }

// MarshalPayload implements cc.Command.
func (n *NetworkKeyVerify) MarshalPayload() ([]byte, error) { return nil, nil }

// DecodeNetworkKeyVerify parses a NetworkKeyVerify payload.
func DecodeNetworkKeyVerify(payload []byte) (cc.Command, error) {
	return &NetworkKeyVerify{}, nil
}

// TransferEnd flag bits.
const (
	transferEndKeyRequestComplete = 0x01
	transferEndKeyVerified        = 0x02
)

// TransferEnd acknowledges key verification (KeyVerified, sent by the
// including controller) or completes the whole key request phase
// (KeyRequestComplete, sent by the joining node after the last key).
type TransferEnd struct {
	KeyVerified        bool
	KeyRequestComplete bool
}

// CommandClassID implements cc.Command.
func (te *TransferEnd) CommandClassID() cc.CommandClassID { return cc.Security2 }

// CommandID implements cc.Command.
func (te *TransferEnd) CommandID() uint8 { return CmdTransferEnd }

// MarshalPayload implements cc.Command.
func (te *TransferEnd) MarshalPayload() ([]byte, error) {
	var flags byte
	if te.KeyRequestComplete {
		flags |= transferEndKeyRequestComplete
	}
	if te.KeyVerified {
		flags |= transferEndKeyVerified
	}
	return []byte{flags}, nil
}

// DecodeTransferEnd parses a TransferEnd payload.
func DecodeTransferEnd(payload []byte) (cc.Command, error) {
	if len(payload) < 1 {
		return nil, fmt.Errorf("%w: TransferEnd too short", cc.ErrPayloadInvalid)
	}
	return &TransferEnd{
		KeyRequestComplete: payload[0]&transferEndKeyRequestComplete != 0,
		KeyVerified:        payload[0]&transferEndKeyVerified != 0,
	}, nil
}
