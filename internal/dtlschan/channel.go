// Package dtlschan implements the DTLS channel of spec §4.6: an
// unreliable, lower-latency UDP transport that supplements CSTP once the
// gateway has advertised DTLS parameters in the CSTP handshake. It uses
// github.com/pion/dtls/v2, grounded on the DTLS usage in
// other_examples/manifests/censys-oss-dtls and
// Fokir-Ianus-Split-Tunnel-VPN.
package dtlschan

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/pion/dtls/v2"

	"accvpn/internal/keepalive"
	"accvpn/internal/packet"
	"accvpn/internal/session"
)

// Logger is the narrow sink this channel reports diagnostics through.
type Logger interface {
	Printf(format string, v ...any)
}

// attemptResult is handed back from the background handshake goroutine;
// the engine never blocks waiting for it.
type attemptResult struct {
	conn *dtls.Conn
	err  error
}

// Channel is the DTLS transport. Unlike CSTP it is optional: it only
// exists once the CSTP handshake negotiates DTLS parameters, and it is
// torn down and retried independently of the CSTP channel's own
// lifecycle (spec §4.6).
type Channel struct {
	log Logger

	udp  *net.UDPConn
	conn *dtls.Conn

	attempting bool
	result     chan attemptResult
	cancel     context.CancelFunc

	backoff time.Duration
}

// NewChannel constructs an idle DTLS channel.
func NewChannel(log Logger) *Channel {
	return &Channel{log: log}
}

// MaybeStart begins (or continues) establishing the DTLS channel when
// the session calls for it: CSTP has negotiated DTLS parameters, the
// sub-state is not already RUNNING/HANDSHAKING, and the attempt cadence
// (sess.DTLS.AttemptPeriod) allows another try.
func (c *Channel) MaybeStart(now time.Time, sess *session.Session, certs []tls.Certificate, insecureSkipVerify bool) {
	if sess.DTLS.State == session.DTLSDisabled {
		return
	}
	// AttemptPeriod <= 0 disables DTLS permanently (spec §4.6): without
	// this guard, now.Before(NewStarted.Add(0)) is always false and the
	// cadence check below would re-fire on every CLOSED iteration,
	// letting DTLS reach RUNNING even though it was switched off.
	if sess.DTLS.AttemptPeriod <= 0 {
		return
	}
	if sess.DTLS.State == session.DTLSRunning || sess.DTLS.State == session.DTLSHandshaking {
		return
	}
	if c.attempting {
		return
	}
	if !sess.DTLS.NewStarted.IsZero() && now.Before(sess.DTLS.NewStarted.Add(sess.DTLS.AttemptPeriod)) {
		return
	}

	addr := net.JoinHostPort(sess.Hostname, sess.DTLS.Port)
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		c.log.Printf("dtls: resolving %s: %v", addr, err)
		sess.DTLS.NewStarted = now
		return
	}
	udpConn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		c.log.Printf("dtls: dialing %s: %v", addr, err)
		sess.DTLS.NewStarted = now
		return
	}

	cfg := &dtls.Config{
		Certificates:         certs,
		InsecureSkipVerify:   insecureSkipVerify,
		ConnectContextMaker: func() (context.Context, func()) {
			return context.WithTimeout(context.Background(), 10*time.Second)
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.udp = udpConn
	c.attempting = true
	c.result = make(chan attemptResult, 1)
	sess.DTLS.State = session.DTLSHandshaking
	sess.DTLS.NewStarted = now

	go func() {
		conn, herr := dtls.ClientWithContext(ctx, udpConn, cfg)
		c.result <- attemptResult{conn: conn, err: herr}
	}()
}

// Step checks for a completed handshake, performs at most one
// non-blocking read and one non-blocking write on an established
// channel, and consults the keepalive state machine. drainEgress
// mirrors the CSTP channel's parameter: true when this channel should
// be the one dequeuing DATA packets this iteration (spec §4.8 prefers
// DTLS over CSTP for data while it is RUNNING).
func (c *Channel) Step(now time.Time, sess *session.Session, readable, writable, drainEgress bool) (didWork bool, err error) {
	if c.attempting {
		select {
		case res := <-c.result:
			c.attempting = false
			if res.err != nil {
				c.log.Printf("dtls: handshake failed: %v", res.err)
				c.udp.Close()
				c.udp = nil
				sess.DTLS.State = session.DTLSClosed
				return false, nil
			}
			c.conn = res.conn
			sess.DTLS.State = session.DTLSRunning
			sess.DTLS.KA.LastRx = now
			sess.DTLS.KA.LastTx = now
			sess.DTLS.KA.LastRekey = now
			c.log.Printf("dtls: established to %s", c.udp.RemoteAddr())
			return true, nil
		default:
			return false, nil
		}
	}

	if c.conn == nil {
		return false, nil
	}

	if readable {
		worked, rerr := c.tryRead(now, sess)
		if rerr != nil {
			c.teardown(sess)
			return worked, rerr
		}
		didWork = didWork || worked
	}

	if writable && drainEgress {
		worked, werr := c.tryWrite(now, sess)
		if werr != nil {
			c.teardown(sess)
			return didWork || worked, werr
		}
		didWork = didWork || worked
	}

	action, newKA, _ := keepalive.NextAction(now, sess.DTLS.KA)
	sess.DTLS.KA = newKA
	switch action {
	case keepalive.ActionDPDDead:
		c.teardown(sess)
		return didWork, fmt.Errorf("dtls: peer stopped responding to DPD")
	case keepalive.ActionRekey:
		c.teardown(sess)
		sess.DTLS.KA.LastRekey = now
	case keepalive.ActionDPD:
		if werr := c.write(packet.TypeDPDOut, nil); werr != nil {
			return didWork, werr
		}
		didWork = true
	case keepalive.ActionKeepalive:
		if werr := c.write(packet.TypeKeepalive, nil); werr != nil {
			return didWork, werr
		}
		didWork = true
	}

	return didWork, nil
}

func (c *Channel) tryRead(now time.Time, sess *session.Session) (bool, error) {
	c.conn.SetReadDeadline(now)
	buf := make([]byte, 16*1024)
	n, err := c.conn.Read(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return false, nil
		}
		return false, fmt.Errorf("dtls: read: %w", err)
	}
	if n < 1 {
		return false, nil
	}
	sess.DTLS.KA.LastRx = now
	typ := buf[0]
	payload := append([]byte{}, buf[1:n]...)
	switch typ {
	case packet.TypeData:
		sess.Ingress.Enqueue(packet.New(packet.TypeData, payload))
	case packet.TypeDPDOut:
		if werr := c.write(packet.TypeDPDResp, nil); werr != nil {
			return true, werr
		}
	case packet.TypeDPDResp, packet.TypeKeepalive:
		// LastRx update above is sufficient.
	default:
		c.log.Printf("dtls: ignoring unknown frame type %d", typ)
	}
	return true, nil
}

func (c *Channel) tryWrite(now time.Time, sess *session.Session) (bool, error) {
	pkt := sess.Egress.Dequeue()
	if pkt == nil {
		return false, nil
	}
	if err := c.writePayload(packet.TypeData, pkt.Data, now); err != nil {
		return false, err
	}
	sess.DTLS.KA.LastTx = now
	return true, nil
}

func (c *Channel) write(typ uint8, payload []byte) error {
	return c.writePayload(typ, payload, time.Now())
}

func (c *Channel) writePayload(typ uint8, payload []byte, now time.Time) error {
	c.conn.SetWriteDeadline(now.Add(2 * time.Second))
	buf := make([]byte, 1+len(payload))
	buf[0] = typ
	copy(buf[1:], payload)
	_, err := c.conn.Write(buf)
	if err != nil {
		return fmt.Errorf("dtls: write: %w", err)
	}
	return nil
}

// Fd returns the underlying UDP socket descriptor for poll registration,
// if one currently exists (either mid-handshake or established).
func (c *Channel) Fd() (int, bool) {
	if c.udp == nil {
		return 0, false
	}
	sc, err := c.udp.SyscallConn()
	if err != nil {
		return 0, false
	}
	var fd int
	_ = sc.Control(func(f uintptr) { fd = int(f) })
	return fd, true
}

func (c *Channel) teardown(sess *session.Session) {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	if c.udp != nil {
		c.udp.Close()
		c.udp = nil
	}
	c.attempting = false
	sess.DTLS.State = session.DTLSClosed
}

// Close tears down the channel unconditionally, used at engine shutdown.
func (c *Channel) Close(sess *session.Session) {
	c.teardown(sess)
}

// WantWrite reports whether the engine should register this channel's
// fd for write-readiness this iteration.
func (c *Channel) WantWrite(sess *session.Session, drainEgress bool) bool {
	if c.conn == nil {
		return false
	}
	return drainEgress && sess.Egress.Len() > 0
}

// Running reports whether the DTLS channel is fully established.
func (c *Channel) Running() bool {
	return c.conn != nil
}
