package security2

import (
	"github.com/mikebaz/gozwave/pkg/cc"
)

// CommandsSupportedGet queries which command classes a node supports at the
// security level the query was encapsulated with. The interview uses trial
// queries of this command to discover a node's granted security classes.
type CommandsSupportedGet struct{}

// CommandClassID implements cc.Command.
func (c *CommandsSupportedGet) CommandClassID() cc.CommandClassID { return cc.Security2 }

// CommandID implements cc.Command.
func (c *CommandsSupportedGet) CommandID() uint8 { return CmdCommandsSupportedGet }

// MarshalPayload implements cc.Command.
func (c *CommandsSupportedGet) MarshalPayload() ([]byte, error) { return nil, nil }

// DecodeCommandsSupportedGet parses a CommandsSupportedGet payload.
func DecodeCommandsSupportedGet(payload []byte) (cc.Command, error) {
	return &CommandsSupportedGet{}, nil
}

// CommandsSupportedReport lists the command classes supported (and, after
// the MARK, controlled) at the queried security level. An empty list means
// the queried level is not granted.
type CommandsSupportedReport struct {
	SupportedCCs  []cc.CommandClassID
	ControlledCCs []cc.CommandClassID
}

// CommandClassID implements cc.Command.
func (c *CommandsSupportedReport) CommandClassID() cc.CommandClassID { return cc.Security2 }

// CommandID implements cc.Command.
func (c *CommandsSupportedReport) CommandID() uint8 { return CmdCommandsSupportedReport }

// MarshalPayload implements cc.Command.
func (c *CommandsSupportedReport) MarshalPayload() ([]byte, error) {
	return cc.EncodeCCList(c.SupportedCCs, c.ControlledCCs), nil
}

// DecodeCommandsSupportedReport parses a CommandsSupportedReport payload.
func DecodeCommandsSupportedReport(payload []byte) (cc.Command, error) {
	supported, controlled := cc.ParseCCList(payload)
	return &CommandsSupportedReport{
		SupportedCCs:  supported,
		ControlledCCs: controlled,
	}, nil
}

// Register binds all Security 2 command decoders except the encapsulation
// itself, which needs a security context and is parsed explicitly by the
// driver.
func Register(reg *cc.Registry) {
	reg.MustRegister(cc.Security2, CmdNonceGet, DecodeNonceGet)
	reg.MustRegister(cc.Security2, CmdNonceReport, DecodeNonceReport)
	reg.MustRegister(cc.Security2, CmdKEXGet, DecodeKEXGet)
	reg.MustRegister(cc.Security2, CmdKEXReport, DecodeKEXReport)
	reg.MustRegister(cc.Security2, CmdKEXSet, DecodeKEXSet)
	reg.MustRegister(cc.Security2, CmdKEXFail, DecodeKEXFail)
	reg.MustRegister(cc.Security2, CmdPublicKeyReport, DecodePublicKeyReport)
	reg.MustRegister(cc.Security2, CmdNetworkKeyGet, DecodeNetworkKeyGet)
	reg.MustRegister(cc.Security2, CmdNetworkKeyReport, DecodeNetworkKeyReport)
	reg.MustRegister(cc.Security2, CmdNetworkKeyVerify, DecodeNetworkKeyVerify)
	reg.MustRegister(cc.Security2, CmdTransferEnd, DecodeTransferEnd)
	reg.MustRegister(cc.Security2, CmdCommandsSupportedGet, DecodeCommandsSupportedGet)
	reg.MustRegister(cc.Security2, CmdCommandsSupportedReport, DecodeCommandsSupportedReport)
}

// RequiresEncapsulation reports whether a command must be sent S2
// encapsulated. S0 commands never are. Of the S2 commands themselves, only
// the key transfer and supported-commands dialogs, echoed KEX frames, and
// KEXFail frames whose reason arises inside the encrypted dialog are
// encapsulated; everything else is sent in the clear.
func RequiresEncapsulation(cmd cc.Command) bool {
	switch cmd.CommandClassID() {
	case cc.SecurityS0:
		return false
	case cc.Security2:
		// Handled below.
	default:
		return true
	}

	switch c := cmd.(type) {
	case *CommandsSupportedGet, *CommandsSupportedReport,
		*NetworkKeyGet, *NetworkKeyReport, *NetworkKeyVerify,
		*TransferEnd:
		return true
	case *KEXSet:
		return c.Echo
	case *KEXReport:
		return c.Echo
	case *KEXFail:
		switch c.Reason {
		case KEXFailDecrypt, KEXFailAuth, KEXFailKeyNotGranted, KEXFailNoVerify:
			return true
		}
		return false
	default:
		return false
	}
}
