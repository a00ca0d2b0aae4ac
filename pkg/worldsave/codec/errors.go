package codec

import "errors"

// Sentinel errors for schema compilation and codec operations.
var (
	// ErrSchema indicates an invalid schema declaration.
	ErrSchema = errors.New("invalid schema")

	// ErrEncode indicates a value could not be encoded.
	ErrEncode = errors.New("encode failed")

	// ErrDecode indicates bytes could not be decoded.
	ErrDecode = errors.New("decode failed")

	// ErrUnknownSchema indicates no schema is registered under a name.
	ErrUnknownSchema = errors.New("unknown schema")
)
