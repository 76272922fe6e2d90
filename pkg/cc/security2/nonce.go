package security2

import (
	"fmt"

	"github.com/mikebaz/gozwave/pkg/cc"
	"github.com/mikebaz/gozwave/pkg/security"
)

// NonceGet asks a peer for a fresh receiver entropy input. The receiver
// answers with a NonceReport carrying SOS and a receiver EI.
type NonceGet struct {
	SequenceNumber uint8
}

// CommandClassID implements cc.Command.
func (n *NonceGet) CommandClassID() cc.CommandClassID { return cc.Security2 }

// CommandID implements cc.Command.
func (n *NonceGet) CommandID() uint8 { return CmdNonceGet }

// MarshalPayload implements cc.Command.
func (n *NonceGet) MarshalPayload() ([]byte, error) {
	return []byte{n.SequenceNumber}, nil
}

// DecodeNonceGet parses a NonceGet payload.
func DecodeNonceGet(payload []byte) (cc.Command, error) {
	if len(payload) < 1 {
		return nil, fmt.Errorf("%w: NonceGet too short", cc.ErrPayloadInvalid)
	}
	return &NonceGet{SequenceNumber: payload[0]}, nil
}

// NonceReport flag bits.
const (
	nonceReportSOS = 0x01
	nonceReportMOS = 0x02
)

// NonceReport offers SPAN state to a peer. With SOS set, ReceiverEI carries
// a fresh 16-byte receiver entropy input; with MOS set, the sender signals
// multicast desynchronization. At least one flag must be set.
type NonceReport struct {
	SequenceNumber uint8
	SOS            bool
	MOS            bool
	ReceiverEI     []byte
}

// CommandClassID implements cc.Command.
func (n *NonceReport) CommandClassID() cc.CommandClassID { return cc.Security2 }

// CommandID implements cc.Command.
func (n *NonceReport) CommandID() uint8 { return CmdNonceReport }

// MarshalPayload implements cc.Command.
func (n *NonceReport) MarshalPayload() ([]byte, error) {
	if !n.SOS && !n.MOS {
		return nil, fmt.Errorf("%w: NonceReport requires SOS or MOS", cc.ErrPayloadInvalid)
	}
	var flags byte
	if n.SOS {
		flags |= nonceReportSOS
	}
	if n.MOS {
		flags |= nonceReportMOS
	}

	out := []byte{n.SequenceNumber, flags}
	if n.SOS {
		if len(n.ReceiverEI) != security.EISize {
			return nil, fmt.Errorf("%w: NonceReport SOS requires a %d-byte receiver EI",
				cc.ErrPayloadInvalid, security.EISize)
		}
		out = append(out, n.ReceiverEI...)
	}
	return out, nil
}

// DecodeNonceReport parses a NonceReport payload.
func DecodeNonceReport(payload []byte) (cc.Command, error) {
	if len(payload) < 2 {
		return nil, fmt.Errorf("%w: NonceReport too short", cc.ErrPayloadInvalid)
	}
	n := &NonceReport{
		SequenceNumber: payload[0],
		SOS:            payload[1]&nonceReportSOS != 0,
		MOS:            payload[1]&nonceReportMOS != 0,
	}
	if !n.SOS && !n.MOS {
		return nil, fmt.Errorf("%w: NonceReport with neither SOS nor MOS", cc.ErrPayloadInvalid)
	}
	if n.SOS {
		if len(payload) < 2+security.EISize {
			return nil, fmt.Errorf("%w: NonceReport SOS without receiver EI", cc.ErrPayloadInvalid)
		}
		n.ReceiverEI = append([]byte(nil), payload[2:2+security.EISize]...)
	}
	return n, nil
}
