package testutil

import (
	"bytes"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Encode compresses data with the named content coding, gzip or zstd
func Encode(t testing.TB, encoding string, data []byte) []byte {
	t.Helper()

	switch encoding {
	case "gzip":
		var buf bytes.Buffer
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			t.Fatalf("Failed to gzip: %v", err)
		}
		if err := w.Close(); err != nil {
			t.Fatalf("Failed to gzip: %v", err)
		}
		return buf.Bytes()
	case "zstd":
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			t.Fatalf("Failed to create zstd encoder: %v", err)
		}
		defer enc.Close()
		return enc.EncodeAll(data, nil)
	default:
		t.Fatalf("Unsupported encoding %q", encoding)
		return nil
	}
}
