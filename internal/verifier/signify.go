package verifier

import (
	"bytes"
	"encoding/base64"
	"strings"

	"github.com/cloudflare/circl/sign/ed25519"
	"github.com/sirupsen/logrus"
)

// Signify blob layout: algorithm (2 bytes) + key number (8 bytes) + payload
const (
	signifyAlgLen    = 2
	signifyKeyNumLen = 8
	signifyPrefixLen = signifyAlgLen + signifyKeyNumLen

	signifyPublicKeyLen = signifyPrefixLen + ed25519.PublicKeySize
	signifySignatureLen = signifyPrefixLen + ed25519.SignatureSize

	untrustedCommentPrefix = "untrusted comment:"
)

var signifyAlg = []byte("Ed")

// Signify verifies OpenBSD signify Ed25519 signatures
type Signify struct{}

// NewSignify creates a signify verifier
func NewSignify() *Signify {
	return &Signify{}
}

func (s *Signify) Scheme() string {
	return SchemeSignify
}

// Verify checks a signify signature. The key number embedded in the
// signature must match the one in the public key.
func (s *Signify) Verify(message []byte, signature, publicKey string) bool {
	pub, err := decodeSignifyBlob(publicKey, signifyPublicKeyLen)
	if err != nil {
		logrus.Debugf("Invalid signify public key: %v", err)
		return false
	}

	sig, err := decodeSignifyBlob(signature, signifySignatureLen)
	if err != nil {
		logrus.Debugf("Invalid signify signature: %v", err)
		return false
	}

	if !bytes.Equal(pub[:signifyPrefixLen], sig[:signifyPrefixLen]) {
		logrus.Debug("Signify key number mismatch")
		return false
	}

	return ed25519.Verify(ed25519.PublicKey(pub[signifyPrefixLen:]), message, sig[signifyPrefixLen:])
}

// decodeSignifyBlob strips comments, decodes base64 and checks the length
// and algorithm tag of a signify key or signature
func decodeSignifyBlob(text string, wantLen int) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(StripComments(text))
	if err != nil {
		return nil, err
	}
	if len(raw) != wantLen {
		return nil, errInvalidLength
	}
	if !bytes.Equal(raw[:signifyAlgLen], signifyAlg) {
		return nil, errUnsupportedAlgorithm
	}
	return raw, nil
}

// StripComments removes untrusted comment lines, the key file name the
// signature comment refers to, and all whitespace from a signify text
func StripComments(text string) string {
	var b strings.Builder
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, untrustedCommentPrefix) {
			// "verify with apps.N.pub" may run into the payload when the
			// line break is lost; base64 never contains ".pub".
			idx := strings.LastIndex(line, ".pub")
			if idx < 0 {
				continue
			}
			line = line[idx+len(".pub"):]
		}
		b.WriteString(line)
	}
	return strings.Join(strings.Fields(b.String()), "")
}
