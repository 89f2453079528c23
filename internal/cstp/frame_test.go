package cstp

import (
	"bytes"
	"testing"

	"accvpn/internal/packet"
)

func TestEncodeDecodeFrame_RoundTrip(t *testing.T) {
	for _, tc := range []struct {
		typ     uint8
		payload []byte
	}{
		{packet.TypeData, []byte("hello")},
		{packet.TypeDPDOut, nil},
		{packet.TypeDPDResp, nil},
		{packet.TypeDisconn, []byte("user quit")},
		{packet.TypeKeepalive, nil},
		{packet.TypeCompressed, bytes.Repeat([]byte{0x42}, 50)},
		{packet.TypeTermServer, []byte("bye")},
	} {
		pkt := packet.New(tc.typ, tc.payload)
		hdr, payload := EncodeFrame(pkt)

		decoded, err := DecodeHeader(hdr)
		if err != nil {
			t.Fatalf("type %d: DecodeHeader: %v", tc.typ, err)
		}
		if decoded.Type != tc.typ {
			t.Fatalf("type %d: decoded type = %d", tc.typ, decoded.Type)
		}
		if int(decoded.Length) != len(tc.payload) {
			t.Fatalf("type %d: decoded length = %d, want %d", tc.typ, decoded.Length, len(tc.payload))
		}
		if !bytes.Equal(payload, pkt.Data) {
			t.Fatalf("type %d: payload mutated by EncodeFrame", tc.typ)
		}
	}
}

func TestDecodeHeader_BadSignatureIsProtocolViolation(t *testing.T) {
	var raw [HeaderLen]byte
	copy(raw[:], "XXXX\x00\x05\x00\x00")
	if _, err := DecodeHeader(raw); err == nil {
		t.Fatal("expected error for bad signature")
	}
}
