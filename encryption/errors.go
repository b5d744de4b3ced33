package encryption

import "errors"

var (
	// ErrKeyGeneration is returned when a keypair cannot be produced. Retrying
	// only helps with a fresh randomness source.
	ErrKeyGeneration = errors.New("key generation failed")

	// ErrSignature is returned by signing for malformed keys, messages or
	// contexts. It always indicates a caller bug.
	ErrSignature = errors.New("signature error")

	ErrInvalidKey         = errors.New("invalid key encoding")
	ErrInvalidTag         = errors.New("invalid linkability tag")
	ErrMalformedSignature = errors.New("malformed signature")
)
