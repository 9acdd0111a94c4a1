package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"strings"
)

// SHA256File returns the hex SHA-256 digest of a file, streaming its contents
func SHA256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashMatches compares two hex digests case-insensitively
func HashMatches(got, want string) bool {
	return want != "" && strings.EqualFold(got, want)
}

// FileMatchesHash reports whether path exists and its digest equals want.
// A missing or unreadable file never matches.
func FileMatchesHash(path, want string) bool {
	got, err := SHA256File(path)
	if err != nil {
		return false
	}
	return HashMatches(got, want)
}
