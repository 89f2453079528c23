package cstp

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"net"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"accvpn/internal/session"
)

// ParsedOptions is the subset of X-CSTP-*/X-DTLS-* headers the core
// derives typed fields from (spec §4.5, §6). Everything else — known or
// unknown — is retained verbatim in the ordered Option vectors for
// diagnostics and reconnect re-logging (spec §9).
type ParsedOptions struct {
	CSTP []session.Option
	DTLS []session.Option

	Address net.IP
	Netmask net.IPMask
	DNS     []net.IP
	NBNS    []net.IP
	Domain  string
	MTU     int

	DPD       time.Duration
	Keepalive time.Duration
	Rekey     time.Duration

	DeflateNegotiated bool

	DTLSSessionID   [32]byte
	DTLSMasterSecret [48]byte
	DTLSCipher      string
	DTLSPort        string
	DTLSDPD         time.Duration
	DTLSKeepalive   time.Duration
	DTLSRekey       time.Duration
	DTLSNegotiated  bool
}

// HeaderLine is one "Name: value" header line as received off the
// wire, in the order the gateway sent it. http.Header is a map and
// loses the interleaving between distinct header names, which spec §9
// requires a reconnect to replay faithfully ("insertion order is
// retained … use an ordered sequence, not an unordered mapping") —
// readHandshakeResponse below captures that order before it would be
// lost to a map.
type HeaderLine struct {
	Name  string
	Value string
}

// readHandshakeResponse reads the CONNECT response's status line and
// headers directly off br, in wire order, instead of going through
// http.ReadResponse (whose Header is an unordered map).
func readHandshakeResponse(br *bufio.Reader) (statusCode int, statusText string, lines []HeaderLine, err error) {
	statusLine, err := br.ReadString('\n')
	if err != nil {
		return 0, "", nil, fmt.Errorf("reading status line: %w", err)
	}
	statusLine = strings.TrimRight(statusLine, "\r\n")
	parts := strings.SplitN(statusLine, " ", 3)
	if len(parts) < 2 {
		return 0, "", nil, fmt.Errorf("malformed status line %q", statusLine)
	}
	code, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, "", nil, fmt.Errorf("malformed status code %q", parts[1])
	}
	statusText = statusLine
	if len(parts) == 3 {
		statusText = parts[2]
	}

	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return 0, "", nil, fmt.Errorf("reading headers: %w", err)
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		idx := strings.Index(line, ":")
		if idx < 0 {
			continue
		}
		name := textproto.CanonicalMIMEHeaderKey(strings.TrimSpace(line[:idx]))
		value := strings.TrimSpace(line[idx+1:])
		lines = append(lines, HeaderLine{Name: name, Value: value})
	}
	return code, statusText, lines, nil
}

// ParseHandshakeHeaders walks the handshake response headers in wire
// order and builds the ordered option vectors plus the typed fields
// the engine consults.
func ParseHandshakeHeaders(lines []HeaderLine) ParsedOptions {
	var out ParsedOptions

	for _, l := range lines {
		switch {
		case strings.HasPrefix(l.Name, "X-Cstp-"):
			out.CSTP = append(out.CSTP, session.Option{Name: l.Name, Value: l.Value})
			applyCSTP(&out, l.Name, l.Value)
		case strings.HasPrefix(l.Name, "X-Dtls-"):
			out.DTLS = append(out.DTLS, session.Option{Name: l.Name, Value: l.Value})
			applyDTLS(&out, l.Name, l.Value)
		}
	}

	if len(out.DTLS) > 0 {
		out.DTLSNegotiated = true
	}
	return out
}

func applyCSTP(out *ParsedOptions, name, v string) {
	switch name {
	case "X-Cstp-Address":
		out.Address = net.ParseIP(v)
	case "X-Cstp-Netmask":
		if ip := net.ParseIP(v); ip != nil {
			out.Netmask = net.IPMask(ip.To4())
		}
	case "X-Cstp-Dns":
		if len(out.DNS) < 3 {
			if ip := net.ParseIP(v); ip != nil {
				out.DNS = append(out.DNS, ip)
			}
		}
	case "X-Cstp-Nbns":
		if len(out.NBNS) < 3 {
			if ip := net.ParseIP(v); ip != nil {
				out.NBNS = append(out.NBNS, ip)
			}
		}
	case "X-Cstp-Default-Domain":
		out.Domain = v
	case "X-Cstp-Mtu":
		if n, err := strconv.Atoi(v); err == nil {
			out.MTU = n
		}
	case "X-Cstp-Dpd":
		if n, err := strconv.Atoi(v); err == nil {
			out.DPD = time.Duration(n) * time.Second
		}
	case "X-Cstp-Keepalive":
		if n, err := strconv.Atoi(v); err == nil {
			out.Keepalive = time.Duration(n) * time.Second
		}
	case "X-Cstp-Rekey-Time":
		if n, err := strconv.Atoi(v); err == nil {
			out.Rekey = time.Duration(n) * time.Second
		}
	case "X-Cstp-Content-Encoding":
		if strings.EqualFold(v, "deflate") {
			out.DeflateNegotiated = true
		}
	}
}

func applyDTLS(out *ParsedOptions, name, v string) {
	switch name {
	case "X-Dtls-Session-Id":
		b, err := hex.DecodeString(v)
		if err == nil && len(b) == len(out.DTLSSessionID) {
			copy(out.DTLSSessionID[:], b)
		}
	case "X-Dtls-Port":
		out.DTLSPort = v
	case "X-Dtls-Cipher-Suite", "X-Dtls-Ciphersuite":
		out.DTLSCipher = v
	case "X-Dtls-Dpd":
		if n, err := strconv.Atoi(v); err == nil {
			out.DTLSDPD = time.Duration(n) * time.Second
		}
	case "X-Dtls-Keepalive":
		if n, err := strconv.Atoi(v); err == nil {
			out.DTLSKeepalive = time.Duration(n) * time.Second
		}
	case "X-Dtls-Rekey":
		if n, err := strconv.Atoi(v); err == nil {
			out.DTLSRekey = time.Duration(n) * time.Second
		}
	}
}
