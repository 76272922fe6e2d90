// Package driver glues the Security 2 layer to its host: it encapsulates
// outgoing commands, decrypts and dispatches incoming frames, answers nonce
// requests, and runs the KEX bootstrap and the security interview.
//
// The host supplies the transport, the node inventory and the security
// manager; the driver never persists anything.
package driver

import (
	"context"

	"github.com/mikebaz/gozwave/pkg/cc"
	"github.com/mikebaz/gozwave/pkg/cc/security2"
	"github.com/mikebaz/gozwave/pkg/security"
)

// Transport delivers serialized command class bytes to a peer. The driver's
// send queue behind it guarantees per-peer ordering.
type Transport interface {
	SendFrame(ctx context.Context, peer cc.NodeID, data []byte, opts SendOptions) error
}

// Controller is the host surface the S2 layer consumes: our identity plus
// the per-node security class inventory. It embeds security2.SecurityInfo,
// so the same object backs grant lookups in the codec layer.
type Controller interface {
	security2.SecurityInfo

	// OwnNodeID is our node id; zero until the controller is ready.
	OwnNodeID() cc.NodeID

	// HomeID is the 32-bit network identifier.
	HomeID() uint32
}

// Endpoint is the per-endpoint view the security interview works on.
// Endpoint 0 is the root device.
type Endpoint interface {
	NodeID() cc.NodeID
	Index() uint8

	// SupportedCCs lists the endpoint's known command classes.
	SupportedCCs() []cc.CommandClassID

	// SetSecureCC marks a command class as supported securely.
	SetSecureCC(id cc.CommandClassID)
}

// Handler receives decoded incoming commands that no pending wait claimed.
type Handler func(peer cc.NodeID, cmd cc.Command)

// configuredS2Classes lists the S2 classes with a configured key, in
// probing order.
func configuredS2Classes(mgr *security.Manager) []security.Class {
	var out []security.Class
	for _, class := range security.S2Classes() {
		if mgr.HasKeysForSecurityClass(class) {
			out = append(out, class)
		}
	}
	return out
}
