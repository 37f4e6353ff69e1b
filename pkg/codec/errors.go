package codec

import "errors"

var (
	ErrUnknownKind   = errors.New("codec: unknown scalar kind")
	ErrInvalidSchema = errors.New("codec: invalid schema")
	ErrShapeMismatch = errors.New("codec: value does not match schema")
	ErrOutOfRange    = errors.New("codec: value out of range")
	ErrStringTooLong = errors.New("codec: string exceeds maximum length")
)
