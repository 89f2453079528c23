package packet

import "testing"

func TestNew_CopiesPayload(t *testing.T) {
	src := []byte{1, 2, 3}
	p := New(TypeData, src)

	src[0] = 0xFF
	if p.Data[0] != 1 {
		t.Fatalf("New aliased caller's buffer: got %v", p.Data)
	}
	if p.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", p.Len())
	}
}

func TestWritePreamble(t *testing.T) {
	p := New(TypeCompressed, make([]byte, 300))
	p.WritePreamble()

	want := [HeaderLen]byte{'S', 'T', 'F', 0x01, byte(300 >> 8), byte(300 & 0xFF), TypeCompressed, 0x00}
	if p.Hdr != want {
		t.Fatalf("Hdr = %v, want %v", p.Hdr, want)
	}
}

func TestLen_NilPacket(t *testing.T) {
	var p *Packet
	if p.Len() != 0 {
		t.Fatalf("Len() on nil packet = %d, want 0", p.Len())
	}
}
