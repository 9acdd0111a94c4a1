// Package testutil holds signing keys and a fake repository server shared by
// package tests.
package testutil

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"testing"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/cloudflare/circl/sign/ed25519"
)

// SignifyKey is an Ed25519 signify key pair
type SignifyKey struct {
	KeyNum  [8]byte
	Public  ed25519.PublicKey
	private ed25519.PrivateKey
}

// NewSignifyKey generates a fresh signify key pair
func NewSignifyKey(t testing.TB) *SignifyKey {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}

	k := &SignifyKey{Public: pub, private: priv}
	if _, err := rand.Read(k.KeyNum[:]); err != nil {
		t.Fatalf("Failed to generate key number: %v", err)
	}
	return k
}

// PublicKeyFile renders the key in signify's public key file format
func (k *SignifyKey) PublicKeyFile() string {
	var blob bytes.Buffer
	blob.WriteString("Ed")
	blob.Write(k.KeyNum[:])
	blob.Write(k.Public)
	return "untrusted comment: signify public key\n" + base64.StdEncoding.EncodeToString(blob.Bytes()) + "\n"
}

// SignatureFile signs message and renders signify's signature file format
func (k *SignifyKey) SignatureFile(message []byte, keyFileName string) string {
	var blob bytes.Buffer
	blob.WriteString("Ed")
	blob.Write(k.KeyNum[:])
	blob.Write(ed25519.Sign(k.private, message))
	return "untrusted comment: verify with " + keyFileName + "\n" + base64.StdEncoding.EncodeToString(blob.Bytes()) + "\n"
}

// OpenPGPKey is a generated OpenPGP entity
type OpenPGPKey struct {
	entity *openpgp.Entity
}

// NewOpenPGPKey generates an OpenPGP signing key
func NewOpenPGPKey(t testing.TB) *OpenPGPKey {
	t.Helper()

	entity, err := openpgp.NewEntity("appstore test", "", "test@example.org", nil)
	if err != nil {
		t.Fatalf("Failed to generate OpenPGP key: %v", err)
	}
	return &OpenPGPKey{entity: entity}
}

// PublicKey returns the armored public key
func (k *OpenPGPKey) PublicKey(t testing.TB) string {
	t.Helper()

	var buf bytes.Buffer
	w, err := armor.Encode(&buf, openpgp.PublicKeyType, nil)
	if err != nil {
		t.Fatalf("Failed to create armor writer: %v", err)
	}
	if err := k.entity.Serialize(w); err != nil {
		t.Fatalf("Failed to serialize key: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Failed to close armor writer: %v", err)
	}
	return buf.String()
}

// Sign returns an armored detached signature of message
func (k *OpenPGPKey) Sign(t testing.TB, message []byte) string {
	t.Helper()

	var buf bytes.Buffer
	if err := openpgp.ArmoredDetachSign(&buf, k.entity, bytes.NewReader(message), nil); err != nil {
		t.Fatalf("Failed to sign: %v", err)
	}
	return buf.String()
}
