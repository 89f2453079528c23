package compress

import (
	"bytes"
	"compress/flate"
	"testing"
)

func TestDeflateInflate_RoundTrip(t *testing.T) {
	tx, err := New(flate.DefaultCompression)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rx, err := New(flate.DefaultCompression)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	messages := [][]byte{
		[]byte("hello, world"),
		[]byte(""),
		bytes.Repeat([]byte{0xAB}, 2000),
		[]byte("a second message on the same persistent stream"),
	}

	for i, msg := range messages {
		payload, _, err := tx.Deflate(msg)
		if err != nil {
			t.Fatalf("Deflate(#%d): %v", i, err)
		}
		got, err := rx.Inflate(payload)
		if err != nil {
			t.Fatalf("Inflate(#%d): %v", i, err)
		}
		if !bytes.Equal(got, msg) {
			t.Fatalf("round trip #%d: got %q, want %q", i, got, msg)
		}
	}
}

func TestInflate_BadAdlerIsFatal(t *testing.T) {
	tx, _ := New(flate.DefaultCompression)
	rx, _ := New(flate.DefaultCompression)

	payload, _, err := tx.Deflate([]byte("tamper with me"))
	if err != nil {
		t.Fatalf("Deflate: %v", err)
	}
	payload[len(payload)-1] ^= 0xFF

	if _, err := rx.Inflate(payload); err == nil {
		t.Fatal("expected fatal error on adler32 mismatch")
	}
}

func TestInflate_RejectsShortPayload(t *testing.T) {
	rx, _ := New(flate.DefaultCompression)
	if _, err := rx.Inflate([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected error for payload shorter than the adler32 trailer")
	}
}
