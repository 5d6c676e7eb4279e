package crypto

import "errors"

// Canonicalization failures. Each one means the value has no single byte form and so cannot be digested.
var (
	ErrFloatNotAllowed = errors.New("canonical: floating point values have no exact form; use decimal")
	ErrNonStringMapKey = errors.New("canonical: object keys must be strings")
	ErrUnsupportedType = errors.New("canonical: unsupported value type")
	ErrKeyCollision    = errors.New("canonical: two keys normalize to the same name")
)
