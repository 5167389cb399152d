package wire

import "errors"

// Sentinel errors for the wire codec and conversion layer (§4.1, §7).
var (
	ErrSchemaMismatch = errors.New("wire: schema mismatch")
	ErrInvalidUTF8    = errors.New("wire: invalid utf-8")
	ErrUnknownVariant = errors.New("wire: unknown variant")

	ErrUnsupportedAPIVersion = errors.New("wire: unsupported apiVersion")
	ErrInvalidName           = errors.New("wire: invalid name")
	ErrEmptyFilterMask       = errors.New("wire: filter mask must not be empty")
)
