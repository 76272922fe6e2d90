package cc

import "errors"

// Command class framework errors.
var (
	// ErrPayloadInvalid is returned when a binary decoder length or range
	// check fails. Frames failing this check are dropped, never retried.
	ErrPayloadInvalid = errors.New("cc: payload invalid")

	// ErrNoDecoder is returned by Registry.DecodeStrict when no decoder is
	// registered for the class/command pair.
	ErrNoDecoder = errors.New("cc: no decoder registered")

	// ErrDuplicateDecoder is returned when a class/command pair is
	// registered twice.
	ErrDuplicateDecoder = errors.New("cc: decoder already registered")

	// ErrBitMaskRange is returned when a bitmask value lies outside the
	// encodable range.
	ErrBitMaskRange = errors.New("cc: bitmask value out of range")
)
