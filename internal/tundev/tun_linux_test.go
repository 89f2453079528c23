//go:build linux

package tundev

import "testing"

func TestTrimName(t *testing.T) {
	var b [16]byte
	copy(b[:], "tun0")
	if got := trimName(b[:]); got != "tun0" {
		t.Fatalf("trimName = %q, want %q", got, "tun0")
	}
}

func TestTrimName_FullBufferNoTrailingZero(t *testing.T) {
	b := []byte("abcdefghijklmnop")
	if got := trimName(b); got != "abcdefghijklmnop" {
		t.Fatalf("trimName = %q, want %q", got, "abcdefghijklmnop")
	}
}
