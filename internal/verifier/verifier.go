package verifier

import (
	"errors"
	"fmt"
)

// Verifier checks a detached signature over catalog bytes.
// Implementations never return an error: any malformed input, key mismatch
// or cryptographic failure yields false.
type Verifier interface {
	// Verify reports whether signature is a valid signature of message
	// under publicKey. Both texts may carry untrusted comment lines.
	Verify(message []byte, signature, publicKey string) bool

	// Scheme returns the name used in configuration
	Scheme() string
}

var (
	errInvalidLength        = errors.New("invalid length")
	errUnsupportedAlgorithm = errors.New("unsupported algorithm")
)

// Supported scheme names
const (
	SchemeSignify = "signify"
	SchemeOpenPGP = "openpgp"
)

// New returns the verifier for a configured scheme
func New(scheme string) (Verifier, error) {
	switch scheme {
	case SchemeSignify, "":
		return NewSignify(), nil
	case SchemeOpenPGP:
		return NewOpenPGP(), nil
	default:
		return nil, fmt.Errorf("unsupported signature scheme: %s", scheme)
	}
}
