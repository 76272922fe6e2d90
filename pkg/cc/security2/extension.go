package security2

import (
	"fmt"

	"github.com/mikebaz/gozwave/pkg/cc"
	"github.com/mikebaz/gozwave/pkg/security"
)

// ExtensionType identifies an S2 extension TLV.
type ExtensionType uint8

// Extension types.
const (
	// ExtensionSPAN carries the sender's 16-byte entropy input. Plaintext.
	ExtensionSPAN ExtensionType = 0x01

	// ExtensionMPAN carries multicast nonce state. Always encrypted.
	ExtensionMPAN ExtensionType = 0x02

	// ExtensionMGRP carries the 1-byte multicast group id. Plaintext.
	ExtensionMGRP ExtensionType = 0x03

	// ExtensionMOS signals multicast out-of-sync. Non-critical, empty body.
	ExtensionMOS ExtensionType = 0x04
)

// Extension flag bits. The low five bits of the flags byte carry the type.
const (
	extFlagMoreToFollow = 0x80
	extFlagCritical     = 0x40
	extFlagEncrypted    = 0x20
	extTypeMask         = 0x1f

	// extHeaderSize is the length and flags bytes of one extension.
	extHeaderSize = 2
)

// Extension is one S2 extension TLV.
type Extension struct {
	Type      ExtensionType
	Critical  bool
	Encrypted bool
	Body      []byte
}

// NewSPANExtension creates the SPAN extension carrying a sender entropy
// input.
func NewSPANExtension(senderEI []byte) Extension {
	return Extension{
		Type:     ExtensionSPAN,
		Critical: true,
		Body:     append([]byte(nil), senderEI...),
	}
}

// NewMGRPExtension creates the MGRP extension carrying a multicast group id.
func NewMGRPExtension(groupID uint8) Extension {
	return Extension{
		Type:     ExtensionMGRP,
		Critical: true,
		Body:     []byte{groupID},
	}
}

// NewMOSExtension creates the multicast out-of-sync marker extension.
func NewMOSExtension() Extension {
	return Extension{Type: ExtensionMOS}
}

// SenderEI returns the sender entropy input of a SPAN extension.
func (e *Extension) SenderEI() ([]byte, bool) {
	if e.Type != ExtensionSPAN || len(e.Body) != security.EISize {
		return nil, false
	}
	return e.Body, true
}

// GroupID returns the group id of an MGRP extension.
func (e *Extension) GroupID() (uint8, bool) {
	if e.Type != ExtensionMGRP || len(e.Body) != 1 {
		return 0, false
	}
	return e.Body[0], true
}

// findExtension returns the first extension of the given type.
func findExtension(exts []Extension, typ ExtensionType) (*Extension, bool) {
	for i := range exts {
		if exts[i].Type == typ {
			return &exts[i], true
		}
	}
	return nil, false
}

// encodeExtensions serializes a group of extensions, patching the
// more-to-follow flag so only the last element has it clear. The encrypted
// flag is forced to match the group the extensions are emitted in.
func encodeExtensions(exts []Extension, encrypted bool) ([]byte, error) {
	var out []byte
	for i, e := range exts {
		length := extHeaderSize + len(e.Body)
		if length > 0xff {
			return nil, fmt.Errorf("%w: extension body too long", cc.ErrPayloadInvalid)
		}

		flags := byte(e.Type) & extTypeMask
		if e.Critical {
			flags |= extFlagCritical
		}
		if encrypted {
			flags |= extFlagEncrypted
		}
		if i < len(exts)-1 {
			flags |= extFlagMoreToFollow
		}

		out = append(out, byte(length), flags)
		out = append(out, e.Body...)
	}
	return out, nil
}

// parseExtensions consumes a more-to-follow chain of extensions and returns
// the parsed list plus the number of bytes consumed. Unknown non-critical
// extensions are skipped; unknown critical extensions fail parsing.
func parseExtensions(data []byte) ([]Extension, int, error) {
	var exts []Extension
	offset := 0
	for {
		if len(data)-offset < extHeaderSize {
			return nil, 0, fmt.Errorf("%w: truncated extension header", cc.ErrPayloadInvalid)
		}
		length := int(data[offset])
		flags := data[offset+1]
		if length < extHeaderSize || offset+length > len(data) {
			return nil, 0, fmt.Errorf("%w: bad extension length %d", cc.ErrPayloadInvalid, length)
		}

		typ := ExtensionType(flags & extTypeMask)
		critical := flags&extFlagCritical != 0
		ext := Extension{
			Type:      typ,
			Critical:  critical,
			Encrypted: flags&extFlagEncrypted != 0,
			Body:      append([]byte(nil), data[offset+extHeaderSize:offset+length]...),
		}

		switch typ {
		case ExtensionSPAN, ExtensionMPAN, ExtensionMGRP, ExtensionMOS:
			exts = append(exts, ext)
		default:
			if critical {
				return nil, 0, fmt.Errorf("%w: unknown critical extension 0x%02x", cc.ErrPayloadInvalid, typ)
			}
			// Unknown non-critical: skip.
		}

		offset += length
		if flags&extFlagMoreToFollow == 0 {
			return exts, offset, nil
		}
	}
}
