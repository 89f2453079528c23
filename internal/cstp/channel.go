package cstp

import (
	"bufio"
	"crypto/rand"
	"crypto/tls"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"accvpn/internal/keepalive"
	"accvpn/internal/packet"
	"accvpn/internal/session"
)

// Logger is the narrow sink the channel reports diagnostics through; it
// never writes to stderr directly (spec §7).
type Logger interface {
	Printf(format string, v ...any)
}

// Channel is the CSTP transport of spec §4.5/§4.8: always present,
// reliable, framed over TLS. It is driven by the engine one Step() per
// iteration and never blocks past a single non-blocking I/O attempt.
type Channel struct {
	log Logger

	hostname string
	peerAddr string
	tlsConf  *tls.Config

	raw  *net.TCPConn
	conn *tls.Conn
	br   *bufio.Reader

	owesDPDResponse bool

	writePayload []byte
	writeOffset  int
	haveWrite    bool

	partial     []byte
	haveHeader  bool
	frameType   uint8
	frameLen    int
	frameBuf    []byte

	backoff time.Duration
}

// NewChannel constructs an idle Channel. Connect must be called before
// Step will do any work.
func NewChannel(log Logger, hostname string, tlsConf *tls.Config) *Channel {
	return &Channel{log: log, hostname: hostname, tlsConf: tlsConf}
}

// Connect dials the gateway, performs the CONNECT-style CSTP upgrade and
// populates sess with the negotiated options (spec §4.5, §6).
func (c *Channel) Connect(peerAddr, cookie string, sess *session.Session) error {
	c.peerAddr = peerAddr

	dialer := &net.Dialer{Timeout: 30 * time.Second}
	conn, err := dialer.Dial("tcp", peerAddr)
	if err != nil {
		return fmt.Errorf("cstp: dial %s: %w", peerAddr, err)
	}
	raw, ok := conn.(*net.TCPConn)
	if !ok {
		conn.Close()
		return fmt.Errorf("cstp: dial %s: not a TCP connection", peerAddr)
	}
	raw.SetNoDelay(true)

	tlsConn := tls.Client(raw, c.tlsConf)
	if err := tlsConn.Handshake(); err != nil {
		raw.Close()
		return fmt.Errorf("cstp: TLS handshake with %s: %w", peerAddr, err)
	}

	var dtlsSecret [48]byte
	var dtlsSessionID [32]byte
	if _, err := rand.Read(dtlsSecret[:]); err != nil {
		tlsConn.Close()
		return fmt.Errorf("cstp: generating DTLS master secret: %w", err)
	}
	if _, err := rand.Read(dtlsSessionID[:]); err != nil {
		tlsConn.Close()
		return fmt.Errorf("cstp: generating DTLS session id: %w", err)
	}

	req := buildConnectRequest(c.hostname, cookie, sess.MTU, dtlsSecret, dtlsSessionID)
	if _, err := tlsConn.Write([]byte(req)); err != nil {
		tlsConn.Close()
		return fmt.Errorf("cstp: sending CONNECT request: %w", err)
	}

	br := bufio.NewReader(tlsConn)
	statusCode, statusText, lines, err := readHandshakeResponse(br)
	if err != nil {
		tlsConn.Close()
		return fmt.Errorf("cstp: reading CONNECT response: %w", err)
	}
	if statusCode != http.StatusOK {
		tlsConn.Close()
		return fmt.Errorf("cstp: gateway rejected CONNECT: %s", statusText)
	}

	opts := ParseHandshakeHeaders(lines)
	applySessionOptions(sess, opts, dtlsSecret, dtlsSessionID)

	c.raw = raw
	c.conn = tlsConn
	c.br = br
	c.backoff = 0
	c.owesDPDResponse = false
	c.haveHeader = false
	c.partial = nil

	now := time.Now()
	if tcpAddr, ok := raw.RemoteAddr().(*net.TCPAddr); ok {
		sess.PeerAddr = tcpAddr
	}
	sess.CSTP.Running = true
	sess.CSTP.ConnectedSince = now
	sess.CSTP.KA.LastRx = now
	sess.CSTP.KA.LastTx = now
	sess.CSTP.KA.LastRekey = now
	c.log.Printf("cstp: connected to %s, address=%s mtu=%d deflate=%v", peerAddr, sess.VPNAddr, sess.MTU, sess.DeflateOK)
	return nil
}

func buildConnectRequest(hostname, cookie string, mtu int, secret [48]byte, sessionID [32]byte) string {
	hn, _ := os.Hostname()
	req := "CONNECT /CSCOSSLC/tunnel HTTP/1.1\r\n" +
		"Host: " + hostname + "\r\n" +
		"User-Agent: accvpn/1.0\r\n" +
		"Cookie: webvpn=" + cookie + "\r\n" +
		"X-CSTP-Version: 1\r\n" +
		"X-CSTP-Hostname: " + hn + "\r\n" +
		"X-CSTP-Accept-Encoding: deflate;q=1.0\r\n" +
		"X-DTLS-Master-Secret: " + hex.EncodeToString(secret[:]) + "\r\n" +
		"X-DTLS-Session-ID: " + hex.EncodeToString(sessionID[:]) + "\r\n" +
		"X-DTLS-CipherSuite: ECDHE-RSA-AES256-GCM-SHA384:AES256-SHA\r\n"
	if mtu > 0 {
		req += fmt.Sprintf("X-CSTP-MTU: %d\r\n", mtu)
	}
	req += "\r\n"
	return req
}

func applySessionOptions(sess *session.Session, opts ParsedOptions, secret [48]byte, sessionID [32]byte) {
	sess.CSTPOptions = opts.CSTP
	sess.DTLSOptions = opts.DTLS
	if opts.Address != nil {
		sess.VPNAddr = opts.Address
	}
	if opts.Netmask != nil {
		sess.VPNMask = opts.Netmask
	}
	if len(opts.DNS) > 0 {
		sess.VPNDNS = opts.DNS
	}
	if len(opts.NBNS) > 0 {
		sess.VPNNBNS = opts.NBNS
	}
	if opts.Domain != "" {
		sess.VPNDomain = opts.Domain
	}
	if opts.MTU > 0 {
		sess.MTU = opts.MTU
	}
	sess.DeflateOK = opts.DeflateNegotiated
	sess.CSTP.KA.DPD = opts.DPD
	sess.CSTP.KA.Keepalive = opts.Keepalive
	sess.CSTP.KA.Rekey = opts.Rekey

	// AttemptPeriod == 0 means DTLS was permanently disabled (--no-dtls
	// or an explicit override); no amount of gateway negotiation may
	// bring it out of DTLSDisabled in that case (spec §4.6, invariant
	// #5).
	if opts.DTLSNegotiated && sess.DTLS.AttemptPeriod > 0 {
		sess.DTLS.MasterSecret = secret
		sess.DTLS.SessionID = sessionID
		sess.DTLS.CipherSuite = opts.DTLSCipher
		sess.DTLS.Port = opts.DTLSPort
		sess.DTLS.KA.DPD = opts.DTLSDPD
		sess.DTLS.KA.Keepalive = opts.DTLSKeepalive
		sess.DTLS.KA.Rekey = opts.DTLSRekey
		if sess.DTLS.State == session.DTLSDisabled {
			sess.DTLS.State = session.DTLSClosed
		}
	}
}

// Fd returns the underlying socket descriptor for poll registration, and
// whether the channel currently has one.
func (c *Channel) Fd() (int, bool) {
	if c.raw == nil {
		return 0, false
	}
	sc, err := c.raw.SyscallConn()
	if err != nil {
		return 0, false
	}
	var fd int
	_ = sc.Control(func(f uintptr) { fd = int(f) })
	return fd, true
}

// Connected reports whether the channel currently holds a live socket.
func (c *Channel) Connected() bool {
	return c.conn != nil
}

// WantWrite reports whether the engine should register this channel's
// fd for write-readiness this iteration: a frame is already pinned, a
// DPD response is owed, or (when drainEgress) there is queued data
// waiting to go out.
func (c *Channel) WantWrite(sess *session.Session, drainEgress bool) bool {
	if c.conn == nil {
		return false
	}
	if c.haveWrite || c.owesDPDResponse {
		return true
	}
	return drainEgress && sess.Egress.Len() > 0
}

// Step performs at most one non-blocking read attempt and one
// non-blocking write attempt, dispatches any complete frame received,
// and consults the keepalive state machine for anything owed on the
// send side. drainEgress controls whether this channel may dequeue DATA
// packets from the session's egress queue this iteration — the engine
// sets it false while DTLS is RUNNING so CSTP does not race DTLS for
// the same packets (spec §4.8).
func (c *Channel) Step(now time.Time, sess *session.Session, readable, writable, drainEgress bool) (didWork bool, nextDeadline time.Time, err error) {
	if c.conn == nil {
		return false, time.Time{}, nil
	}

	if readable {
		worked, rerr := c.tryRead(now, sess)
		if rerr != nil {
			return worked, time.Time{}, rerr
		}
		didWork = didWork || worked
	}

	if writable {
		worked, werr := c.tryWrite(now, sess, drainEgress)
		if werr != nil {
			return didWork || worked, time.Time{}, werr
		}
		didWork = didWork || worked
	}

	action, newKA, deadline := keepalive.NextAction(now, sess.CSTP.KA)
	sess.CSTP.KA = newKA
	switch action {
	case keepalive.ActionDPDDead:
		return didWork, now, fmt.Errorf("cstp: peer stopped responding to DPD")
	case keepalive.ActionRekey:
		// crypto/tls's client cannot initiate TLS renegotiation, so the
		// spec's documented fallback applies: tear down and reconnect
		// instead of rekeying in place (spec §4.5, scenario S6).
		return didWork, now, fmt.Errorf("cstp: rekey interval elapsed; reconnecting (client cannot renegotiate)")
	case keepalive.ActionDPD:
		if err := c.queueControl(packet.TypeDPDOut, nil); err != nil {
			return didWork, now, err
		}
		didWork = true
	case keepalive.ActionKeepalive:
		if err := c.queueControl(packet.TypeKeepalive, nil); err != nil {
			return didWork, now, err
		}
		didWork = true
	}

	if c.owesDPDResponse && !c.haveWrite {
		if err := c.queueControl(packet.TypeDPDResp, nil); err != nil {
			return didWork, now, err
		}
		c.owesDPDResponse = false
		didWork = true
	}

	return didWork, deadline, nil
}

func (c *Channel) tryRead(now time.Time, sess *session.Session) (bool, error) {
	c.conn.SetReadDeadline(now)
	did := false
	for {
		if !c.haveHeader {
			var hdr [HeaderLen]byte
			n, err := readFill(c.br, c.partial, hdr[:])
			if n == 0 && err != nil {
				if isTimeout(err) {
					return did, nil
				}
				return did, fmt.Errorf("cstp: reading frame header: %w", err)
			}
			c.partial = append([]byte{}, hdr[:n]...)
			if n < HeaderLen {
				return did, nil
			}
			h, perr := DecodeHeader(hdr)
			if perr != nil {
				return did, perr
			}
			c.frameType = h.Type
			c.frameLen = int(h.Length)
			c.frameBuf = c.frameBuf[:0]
			c.haveHeader = true
			c.partial = nil
		}

		if c.frameLen > 0 {
			need := c.frameLen - len(c.frameBuf)
			buf := make([]byte, need)
			n, err := c.br.Read(buf)
			if n > 0 {
				c.frameBuf = append(c.frameBuf, buf[:n]...)
			}
			if len(c.frameBuf) < c.frameLen {
				if err != nil && !isTimeout(err) {
					return did, fmt.Errorf("cstp: reading frame payload: %w", err)
				}
				return did, nil
			}
		}

		sess.CSTP.KA.LastRx = now
		if derr := c.dispatch(c.frameType, c.frameBuf, sess); derr != nil {
			return did, derr
		}
		did = true
		c.haveHeader = false
		c.frameLen = 0
		c.frameBuf = nil
	}
}

func readFill(r *bufio.Reader, have []byte, into []byte) (int, error) {
	n := copy(into, have)
	if n == len(into) {
		return n, nil
	}
	m, err := r.Read(into[n:])
	return n + m, err
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}

func (c *Channel) dispatch(typ uint8, payload []byte, sess *session.Session) error {
	switch typ {
	case packet.TypeData:
		cp := append([]byte{}, payload...)
		sess.Ingress.Enqueue(packet.New(packet.TypeData, cp))
	case packet.TypeCompressed:
		plain, err := sess.Compression.Inflate(payload)
		if err != nil {
			return fmt.Errorf("cstp: inflate: %w", err)
		}
		sess.Ingress.Enqueue(packet.New(packet.TypeData, plain))
	case packet.TypeDPDOut:
		c.owesDPDResponse = true
	case packet.TypeDPDResp:
		// already recorded via LastRx in tryRead; nothing further owed.
	case packet.TypeKeepalive:
		// LastRx update above is sufficient.
	case packet.TypeDisconn, packet.TypeTermServer:
		reason := string(payload)
		if reason == "" {
			reason = "server terminated session"
		}
		sess.SetQuitReason(reason)
	default:
		c.log.Printf("cstp: ignoring unknown frame type %d (%d bytes)", typ, len(payload))
	}
	return nil
}

func (c *Channel) tryWrite(now time.Time, sess *session.Session, drainEgress bool) (bool, error) {
	c.conn.SetWriteDeadline(now)
	did := false

	for {
		if !c.haveWrite {
			if !drainEgress {
				return did, nil
			}
			pkt := sess.Egress.Dequeue()
			if pkt == nil {
				return did, nil
			}
			if err := c.prepareDataWrite(pkt, sess); err != nil {
				return did, err
			}
		}

		n, err := c.conn.Write(c.writePayload[c.writeOffset:])
		if n > 0 {
			c.writeOffset += n
		}
		if c.writeOffset >= len(c.writePayload) {
			c.haveWrite = false
			sess.CSTP.KA.LastTx = now
			did = true
			continue
		}
		if err != nil {
			if isTimeout(err) {
				// partial write pinned; retry next writable iteration (spec §4.5)
				return did, nil
			}
			return did, fmt.Errorf("cstp: writing frame: %w", err)
		}
		return did, nil
	}
}

func (c *Channel) prepareDataWrite(pkt *packet.Packet, sess *session.Session) error {
	typ := packet.TypeData
	data := pkt.Data
	if sess.DeflateOK {
		// Deflate has already fed pkt.Data into the persistent stream and
		// the rolling checksum, which the peer only advances on COMPRESSED
		// frames, so the result is sent as COMPRESSED even when not shorter.
		compressed, _, err := sess.Compression.Deflate(pkt.Data)
		if err != nil {
			return fmt.Errorf("cstp: deflate: %w", err)
		}
		typ = packet.TypeCompressed
		data = compressed
	}
	return c.setPendingFrame(packet.New(typ, data))
}

func (c *Channel) queueControl(typ uint8, payload []byte) error {
	if c.haveWrite {
		// a data or control frame is already pinned; drop the new
		// control send rather than reorder the wire (rare: only
		// happens under sustained backpressure).
		return nil
	}
	return c.setPendingFrame(packet.New(typ, payload))
}

func (c *Channel) setPendingFrame(pkt *packet.Packet) error {
	hdr, payload := EncodeFrame(pkt)
	full := make([]byte, 0, HeaderLen+len(payload))
	full = append(full, hdr[:]...)
	full = append(full, payload...)
	c.writePayload = full
	c.writeOffset = 0
	c.haveWrite = true
	return nil
}

// SendControl pins a control frame carrying payload (DISCONN with the
// quit reason at shutdown, for example) as the next frame to write. If
// a frame is already pinned, the new control frame is dropped.
func (c *Channel) SendControl(typ uint8, payload []byte) error {
	return c.queueControl(typ, payload)
}

// Close sends a best-effort DISCONN with the session's quit reason and
// tears down the socket. Errors from the final flush are swallowed: the
// connection is going away regardless.
func (c *Channel) Close(sess *session.Session) error {
	if c.conn == nil {
		return nil
	}
	reason := sess.QuitReason()
	if reason == "" {
		reason = "client disconnected"
	}
	_ = c.SendControl(packet.TypeDisconn, []byte(reason))
	c.conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	if c.haveWrite {
		_, _ = c.conn.Write(c.writePayload[c.writeOffset:])
	}
	err := c.conn.Close()
	c.conn = nil
	c.raw = nil
	c.haveWrite = false
	c.haveHeader = false
	return err
}

// NextBackoffFor advances and returns this channel's reconnect delay,
// bounded by reconnectTimeout (spec §9).
func (c *Channel) NextBackoffFor(reconnectTimeout time.Duration) time.Duration {
	c.backoff = NextBackoff(c.backoff, reconnectTimeout)
	return c.backoff
}

// ResetBackoff clears accumulated reconnect backoff after a successful
// connection.
func (c *Channel) ResetBackoff() {
	c.backoff = 0
}
