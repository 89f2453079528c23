// Package compress implements the stateful deflate/inflate pipeline of
// spec §4.3: persistent compressor/decompressor streams per direction,
// each paired with a rolling Adler-32 over the cumulative uncompressed
// byte stream in that direction.
//
// No third-party library in the example pack implements raw (headerless)
// DEFLATE the way CSTP's COMPRESSED frame requires — the checksum travels
// as an explicit 4-byte trailer the channel manages itself, not inside a
// zlib/gzip container — so this is built on the standard library's
// compress/flate and hash/adler32, which expose exactly that framing
// primitive and nothing more (see DESIGN.md).
package compress

import (
	"bytes"
	"compress/flate"
	"encoding/binary"
	"fmt"
	"hash"
	"hash/adler32"
	"io"
)

// AdlerLen is the size of the trailing checksum appended to a COMPRESSED
// payload.
const AdlerLen = 4

// maxInflateChunk bounds a single decompression pass; CSTP/DTLS payloads
// never exceed a small multiple of the tunnel MTU.
const maxInflateChunk = 65536

// DefaultLevel is the compression level new sessions use unless the
// gateway or local config overrides it.
const DefaultLevel = flate.DefaultCompression

// State holds the persistent inflate/deflate streams and their rolling
// checksums. The streams are never reset mid-session (spec §3 invariant).
type State struct {
	deflate    *flate.Writer
	deflateBuf bytes.Buffer
	deflateSum hash.Hash32

	inflate     io.ReadCloser
	inflateBuf  *bytes.Buffer
	inflateSum  hash.Hash32
	inflateHist []byte
}

// New constructs a fresh compression pipeline. level follows
// compress/flate's convention (flate.DefaultCompression is a sensible
// default for CSTP).
func New(level int) (*State, error) {
	s := &State{
		deflateSum: adler32.New(),
		inflateSum: adler32.New(),
	}
	w, err := flate.NewWriter(&s.deflateBuf, level)
	if err != nil {
		return nil, fmt.Errorf("compress: init deflate: %w", err)
	}
	s.deflate = w
	s.inflateBuf = &bytes.Buffer{}
	s.inflate = flate.NewReader(s.inflateBuf)
	return s, nil
}

// Deflate compresses plaintext and returns a payload of compressed bytes
// followed by the trailing Adler-32 of all uncompressed bytes sent in
// this direction so far, including plaintext. ok is false when
// compression did not reduce the length below len(plaintext). Either
// way Deflate has already fed plaintext into the persistent stream and
// the rolling checksum, and the peer's inflater and checksum advance
// only on COMPRESSED frames, so the returned payload must go out as a
// COMPRESSED frame: sending the same bytes as DATA instead would leave
// the two sides' streams and checksums out of step.
func (s *State) Deflate(plaintext []byte) (payload []byte, ok bool, err error) {
	_, _ = s.deflateSum.Write(plaintext) // hash.Hash.Write never errors

	s.deflateBuf.Reset()
	if _, err := s.deflate.Write(plaintext); err != nil {
		return nil, false, fmt.Errorf("compress: deflate write: %w", err)
	}
	if err := s.deflate.Flush(); err != nil {
		return nil, false, fmt.Errorf("compress: deflate flush: %w", err)
	}

	compressed := s.deflateBuf.Bytes()
	out := make([]byte, len(compressed)+AdlerLen)
	copy(out, compressed)
	binary.BigEndian.PutUint32(out[len(compressed):], s.deflateSum.Sum32())

	return out, len(compressed) < len(plaintext), nil
}

// Inflate decompresses a COMPRESSED payload (compressed bytes + trailing
// Adler-32) and verifies the checksum against the rolling total of
// uncompressed bytes received in this direction. A mismatch is a fatal
// session error per spec §4.3/§7.
func (s *State) Inflate(payload []byte) ([]byte, error) {
	if len(payload) < AdlerLen {
		return nil, fmt.Errorf("compress: payload too short for adler32 trailer")
	}
	body := payload[:len(payload)-AdlerLen]
	wantSum := binary.BigEndian.Uint32(payload[len(payload)-AdlerLen:])

	s.inflateBuf.Reset()
	s.inflateBuf.Write(body)

	// Each frame's deflate output ends on a sync-flush boundary, not a
	// final block, so the reader runs out of buffered input rather than
	// reaching a real end-of-stream: loop until it does, and treat
	// io.EOF/io.ErrUnexpectedEOF there as the end of this frame. That
	// error is sticky in compress/flate, so the reader is reset onto each
	// frame with the last 32 KiB of inflated output as its dictionary,
	// which continues the same stream.
	if err := s.inflate.(flate.Resetter).Reset(s.inflateBuf, s.inflateHist); err != nil {
		return nil, fmt.Errorf("compress: inflate reset: %w", err)
	}
	out := make([]byte, 0, maxInflateChunk)
	buf := make([]byte, maxInflateChunk)
	for {
		n, err := s.inflate.Read(buf)
		out = append(out, buf[:n]...)
		if n == 0 || err != nil {
			if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
				return nil, fmt.Errorf("compress: inflate: %w", err)
			}
			break
		}
	}
	s.inflateHist = append(s.inflateHist, out...)
	if n := len(s.inflateHist); n > 32<<10 {
		s.inflateHist = append([]byte(nil), s.inflateHist[n-32<<10:]...)
	}

	_, _ = s.inflateSum.Write(out)
	if got := s.inflateSum.Sum32(); got != wantSum {
		return nil, fmt.Errorf("compress: adler32 mismatch: got %08x want %08x", got, wantSum)
	}
	return out, nil
}
