package security2

import (
	"github.com/mikebaz/gozwave/pkg/cc"
	"github.com/mikebaz/gozwave/pkg/security"
)

// GrantState is the tri-state answer to "is this class granted to this
// node": it may be known granted, known not granted, or not yet known.
type GrantState uint8

const (
	GrantUnknown GrantState = iota
	GrantDenied
	GrantGranted
)

// SecurityInfo is the node-inventory view the S2 layer needs: per-node
// security class grants. The driver's node database implements it.
type SecurityInfo interface {
	// HasSecurityClass answers whether the node is granted the class.
	HasSecurityClass(node cc.NodeID, class security.Class) GrantState

	// SetSecurityClass records a discovered grant (or denial).
	SetSecurityClass(node cc.NodeID, class security.Class, granted bool)

	// GetHighestSecurityClass returns the node's highest granted class,
	// if known.
	GetHighestSecurityClass(node cc.NodeID) (security.Class, bool)
}

// Context carries everything an encapsulation operation needs. There are no
// hidden singletons: the driver constructs one Context and passes it to
// every codec call.
type Context struct {
	// OwnNodeID is our node id on the network.
	OwnNodeID cc.NodeID

	// HomeID is the 32-bit network identifier.
	HomeID uint32

	// Manager holds keys, SPAN states and sequence numbers.
	Manager *security.Manager

	// Grants resolves and records per-node security classes.
	Grants SecurityInfo

	// Registry decodes inner commands. Optional; without it inner
	// commands are returned as *cc.Raw.
	Registry *cc.Registry
}

// ready reports whether the context can encrypt or decrypt at all.
func (c *Context) ready() bool {
	return c != nil && c.OwnNodeID != 0 && c.Manager != nil && c.Grants != nil
}

// decodeInner parses an inner command, falling back to cc.ParseRaw without
// a registry.
func (c *Context) decodeInner(data []byte) (cc.Command, error) {
	if c.Registry != nil {
		return c.Registry.Decode(data)
	}
	raw, err := cc.ParseRaw(data)
	if err != nil {
		return nil, err
	}
	return raw, nil
}
