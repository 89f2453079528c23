// Package cstp implements the CSTP channel (spec §4.5): the framed,
// reliable TLS transport that is always present, carrying the HTTP
// CONNECT-style handshake, typed packet framing, and the send/receive
// loop the engine drives once per iteration.
package cstp

import (
	"encoding/binary"
	"fmt"

	"accvpn/internal/packet"
)

// HeaderLen is the wire size of the CSTP frame header (spec §4.5/§6).
const HeaderLen = 8

var signature = [4]byte{'S', 'T', 'F', 0x01}

// Header is the decoded form of the 8-byte CSTP frame header.
type Header struct {
	Type   uint8
	Length uint16
}

// EncodeFrame renders pkt as a complete wire frame: 8-byte header
// followed by pkt.Data. It writes the header directly into pkt.Hdr so a
// caller can emit header+payload as a single write (spec §4.1), and also
// returns the two slices for callers (like tests) that prefer not to
// depend on that in-place mutation.
func EncodeFrame(pkt *packet.Packet) (hdr [HeaderLen]byte, payload []byte) {
	n := len(pkt.Data)
	pkt.Hdr[0], pkt.Hdr[1], pkt.Hdr[2], pkt.Hdr[3] = signature[0], signature[1], signature[2], signature[3]
	binary.BigEndian.PutUint16(pkt.Hdr[4:6], uint16(n))
	pkt.Hdr[6] = pkt.Type
	pkt.Hdr[7] = 0x00
	return pkt.Hdr, pkt.Data
}

// DecodeHeader parses a raw 8-byte header. It returns an error
// (protocol violation, spec §4.5/§7) if the leading signature bytes
// don't match 'S' 'T' 'F' 0x01.
func DecodeHeader(raw [HeaderLen]byte) (Header, error) {
	if raw[0] != signature[0] || raw[1] != signature[1] || raw[2] != signature[2] || raw[3] != signature[3] {
		return Header{}, fmt.Errorf("cstp: bad frame signature % x", raw[:4])
	}
	return Header{
		Type:   raw[6],
		Length: binary.BigEndian.Uint16(raw[4:6]),
	}, nil
}
