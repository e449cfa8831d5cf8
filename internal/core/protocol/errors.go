package protocol

import "errors"

var (
	// ErrMalformed is returned for frames that are not valid JSON envelopes or
	// that lack a required field for their type.
	ErrMalformed = errors.New("malformed message")
	// ErrUnknownType is returned for well-formed envelopes with an unrecognised type.
	ErrUnknownType = errors.New("unknown message type")
)
