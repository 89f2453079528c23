package cstp

import (
	"bufio"
	"strings"
	"testing"
)

func TestReadHandshakeResponse_ParsesStatusAndPreservesHeaderOrder(t *testing.T) {
	raw := "HTTP/1.1 200 Connection established\r\n" +
		"X-CSTP-Address: 10.0.0.5\r\n" +
		"X-DTLS-Port: 443\r\n" +
		"X-CSTP-MTU: 1406\r\n" +
		"X-CSTP-DPD: 30\r\n" +
		"\r\n"

	code, text, lines, err := readHandshakeResponse(bufio.NewReader(strings.NewReader(raw)))
	if err != nil {
		t.Fatalf("readHandshakeResponse: %v", err)
	}
	if code != 200 {
		t.Fatalf("statusCode = %d, want 200", code)
	}
	if text != "Connection established" {
		t.Fatalf("statusText = %q", text)
	}

	wantOrder := []string{"X-Cstp-Address", "X-Dtls-Port", "X-Cstp-Mtu", "X-Cstp-Dpd"}
	if len(lines) != len(wantOrder) {
		t.Fatalf("got %d header lines, want %d: %+v", len(lines), len(wantOrder), lines)
	}
	for i, name := range wantOrder {
		if lines[i].Name != name {
			t.Errorf("header %d = %q, want %q (order must match the wire)", i, lines[i].Name, name)
		}
	}
}

func TestParseHandshakeHeaders_PreservesInterleavedOrder(t *testing.T) {
	lines := []HeaderLine{
		{Name: "X-Cstp-Address", Value: "10.0.0.5"},
		{Name: "X-Dtls-Port", Value: "443"},
		{Name: "X-Cstp-Mtu", Value: "1406"},
		{Name: "X-Dtls-Cipher-Suite", Value: "AES256-SHA"},
	}
	opts := ParseHandshakeHeaders(lines)

	if len(opts.CSTP) != 2 || opts.CSTP[0].Name != "X-Cstp-Address" || opts.CSTP[1].Name != "X-Cstp-Mtu" {
		t.Fatalf("CSTP options out of order: %+v", opts.CSTP)
	}
	if len(opts.DTLS) != 2 || opts.DTLS[0].Name != "X-Dtls-Port" || opts.DTLS[1].Name != "X-Dtls-Cipher-Suite" {
		t.Fatalf("DTLS options out of order: %+v", opts.DTLS)
	}
	if !opts.DTLSNegotiated {
		t.Fatal("expected DTLSNegotiated to be true when DTLS options are present")
	}
}
