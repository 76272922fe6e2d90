package cc

import "fmt"

// DecodeFunc decodes a command payload (the bytes after the class and
// command identifiers) into a Command.
type DecodeFunc func(payload []byte) (Command, error)

type registryKey struct {
	class   CommandClassID
	command uint8
}

// Registry maps (class id, command id) pairs to decoders. It replaces the
// source's annotation-driven command registration with an explicit table
// constructed at startup. A Registry is immutable after construction time
// and safe for concurrent reads.
type Registry struct {
	decoders map[registryKey]DecodeFunc
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{decoders: make(map[registryKey]DecodeFunc)}
}

// Register binds a decoder to a class/command pair.
// Returns ErrDuplicateDecoder if the pair is already bound.
func (r *Registry) Register(class CommandClassID, command uint8, fn DecodeFunc) error {
	key := registryKey{class, command}
	if _, ok := r.decoders[key]; ok {
		return fmt.Errorf("%w: %v command 0x%02x", ErrDuplicateDecoder, class, command)
	}
	r.decoders[key] = fn
	return nil
}

// MustRegister is Register that panics on duplicate registration. Intended
// for the startup table where a duplicate is a programmer error.
func (r *Registry) MustRegister(class CommandClassID, command uint8, fn DecodeFunc) {
	if err := r.Register(class, command, fn); err != nil {
		panic(err)
	}
}

// Decode parses serialized command bytes. Commands without a registered
// decoder are returned as *Raw.
func (r *Registry) Decode(data []byte) (Command, error) {
	class, rest, err := splitClassID(data)
	if err != nil {
		return nil, err
	}
	if len(rest) < 1 {
		return nil, fmt.Errorf("%w: missing command id", ErrPayloadInvalid)
	}

	if fn, ok := r.decoders[registryKey{class, rest[0]}]; ok {
		return fn(rest[1:])
	}
	return &Raw{
		ClassID: class,
		Command: rest[0],
		Payload: append([]byte(nil), rest[1:]...),
	}, nil
}

// DecodeStrict parses serialized command bytes, failing with ErrNoDecoder
// instead of falling back to Raw.
func (r *Registry) DecodeStrict(data []byte) (Command, error) {
	class, rest, err := splitClassID(data)
	if err != nil {
		return nil, err
	}
	if len(rest) < 1 {
		return nil, fmt.Errorf("%w: missing command id", ErrPayloadInvalid)
	}

	fn, ok := r.decoders[registryKey{class, rest[0]}]
	if !ok {
		return nil, fmt.Errorf("%w: %v command 0x%02x", ErrNoDecoder, class, rest[0])
	}
	return fn(rest[1:])
}
