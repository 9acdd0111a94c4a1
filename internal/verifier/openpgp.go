package verifier

import (
	"bytes"
	"errors"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/sirupsen/logrus"
)

// OpenPGP verifies detached OpenPGP signatures, armored or binary, as
// produced by GPG-signed repository tooling
type OpenPGP struct{}

// NewOpenPGP creates an OpenPGP verifier
func NewOpenPGP() *OpenPGP {
	return &OpenPGP{}
}

func (o *OpenPGP) Scheme() string {
	return SchemeOpenPGP
}

// Verify checks signature against every key in the publicKey keyring
func (o *OpenPGP) Verify(message []byte, signature, publicKey string) bool {
	keyring, err := readKeyRing(publicKey)
	if err != nil {
		logrus.Debugf("Invalid OpenPGP public key: %v", err)
		return false
	}

	if strings.Contains(signature, "-----BEGIN PGP SIGNATURE-----") {
		_, err = openpgp.CheckArmoredDetachedSignature(keyring, bytes.NewReader(message), strings.NewReader(signature), nil)
	} else {
		_, err = openpgp.CheckDetachedSignature(keyring, bytes.NewReader(message), strings.NewReader(signature), nil)
	}
	if err != nil {
		logrus.Debugf("OpenPGP signature check failed: %v", err)
		return false
	}
	return true
}

// readKeyRing parses an armored keyring, falling back to binary
func readKeyRing(publicKey string) (openpgp.EntityList, error) {
	entityList, err := openpgp.ReadArmoredKeyRing(strings.NewReader(publicKey))
	if err != nil {
		entityList, err = openpgp.ReadKeyRing(strings.NewReader(publicKey))
		if err != nil {
			return nil, err
		}
	}

	if len(entityList) == 0 {
		return nil, errors.New("no keys found in key file")
	}
	return entityList, nil
}
