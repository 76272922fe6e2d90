// Package security implements the Security 2 per-peer state: security
// classes, network key sets, the SPAN (Singlecast Pre-agreed Nonce) state
// machine and sequence number bookkeeping.
package security

// Class is a security class. A node is granted zero or more classes during
// bootstrap; each S2 class has its own network key.
type Class int8

// Security classes. The numeric values of the S2 classes are their bit
// positions in the KEX security-class bitmask.
const (
	// ClassS2Unauthenticated is the lowest S2 class.
	ClassS2Unauthenticated Class = 0

	// ClassS2Authenticated requires DSK PIN verification during bootstrap.
	ClassS2Authenticated Class = 1

	// ClassS2AccessControl is the highest S2 class, for access control
	// devices like door locks.
	ClassS2AccessControl Class = 2

	// ClassS0Legacy is the legacy Security (S0) class.
	ClassS0Legacy Class = 7

	// ClassTemporary marks the bootstrap temp key. Never granted.
	ClassTemporary Class = -2

	// ClassNone means no security class.
	ClassNone Class = -1
)

// classOrder lists the granted-capable classes from highest to lowest
// preference.
var classOrder = []Class{
	ClassS2AccessControl,
	ClassS2Authenticated,
	ClassS2Unauthenticated,
	ClassS0Legacy,
}

// ClassOrder returns the security classes ordered highest first.
func ClassOrder() []Class {
	return append([]Class(nil), classOrder...)
}

// S2Classes returns the S2 classes ordered lowest first, the order the
// interview probes them in.
func S2Classes() []Class {
	return []Class{ClassS2Unauthenticated, ClassS2Authenticated, ClassS2AccessControl}
}

// IsS2 reports whether the class is one of the S2 classes.
func (c Class) IsS2() bool {
	switch c {
	case ClassS2Unauthenticated, ClassS2Authenticated, ClassS2AccessControl:
		return true
	}
	return false
}

// Highest returns the highest-preference class of the given set, or
// ClassNone if the set is empty.
func Highest(classes []Class) Class {
	for _, ordered := range classOrder {
		for _, c := range classes {
			if c == ordered {
				return ordered
			}
		}
	}
	return ClassNone
}

// String returns the class name.
func (c Class) String() string {
	switch c {
	case ClassS2Unauthenticated:
		return "S2_Unauthenticated"
	case ClassS2Authenticated:
		return "S2_Authenticated"
	case ClassS2AccessControl:
		return "S2_AccessControl"
	case ClassS0Legacy:
		return "S0_Legacy"
	case ClassTemporary:
		return "Temporary"
	case ClassNone:
		return "None"
	default:
		return "Unknown"
	}
}
