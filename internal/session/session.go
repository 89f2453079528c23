// Package session defines the Session root aggregate of spec §3: the
// single mutable object the engine and its endpoints operate on, plus
// the ordered option vectors the CSTP handshake populates.
package session

import (
	"crypto/tls"
	"net"
	"sync"
	"time"

	"accvpn/internal/compress"
	"accvpn/internal/keepalive"
	"accvpn/internal/queue"
)

// Option is one X-CSTP-* / X-DTLS-* header from the handshake response,
// kept in the order the gateway sent it so a reconnect can re-log it
// verbatim (spec §9 "Option vectors").
type Option struct {
	Name  string
	Value string
}

// DTLSState is the DTLS sub-state machine of spec §3.
type DTLSState int

const (
	DTLSDisabled DTLSState = iota
	DTLSClosed
	DTLSHandshaking
	DTLSRunning
)

func (s DTLSState) String() string {
	switch s {
	case DTLSClosed:
		return "closed"
	case DTLSHandshaking:
		return "handshaking"
	case DTLSRunning:
		return "running"
	default:
		return "disabled"
	}
}

// Session is the root aggregate owned exclusively by the engine (C8) and
// the endpoints it dispatches to within one iteration (spec §3). No
// locking is required for the fields touched only from the single
// cooperative loop; mu guards the handful of fields main.go or a signal
// goroutine may also touch (QuitReason).
type Session struct {
	Hostname string
	PeerAddr *net.TCPAddr
	Cookie   string

	MTU int

	VPNAddr   net.IP
	VPNMask   net.IPMask
	VPNDNS    []net.IP
	VPNNBNS   []net.IP
	VPNDomain string

	CSTPOptions []Option
	DTLSOptions []Option

	TLSConfig *tls.Config

	CSTP CSTPState
	DTLS DTLSSubState

	Ingress *queue.Queue
	Egress  *queue.Queue

	Compression *compress.State
	DeflateOK   bool // negotiated with the gateway; false sends outbound DATA uncompressed (inbound COMPRESSED frames are still inflated)

	mu         sync.Mutex
	quitReason string
}

// CSTPState is the always-present reliable channel's liveness/connection
// state.
type CSTPState struct {
	Running bool
	KA      keepalive.State

	ReconnectTimeout time.Duration
	ConnectedSince   time.Time
}

// DefaultDTLSAttemptPeriod is the cadence at which MaybeStart retries
// a DTLS handshake after a failed or torn-down attempt, absent a
// gateway- or user-supplied override. Spec §4.6 defaults this to 60s
// and reserves 0 to mean "disabled permanently".
const DefaultDTLSAttemptPeriod = 60 * time.Second

// DTLSSubState carries the DTLS state machine plus the attempt cadence
// fields of spec §3. AttemptPeriod == 0 disables DTLS permanently
// (spec §4.6): the channel must never reach DTLSRunning while it holds
// that value (testable invariant #5).
type DTLSSubState struct {
	State         DTLSState
	KA            keepalive.State
	AttemptPeriod time.Duration
	NewStarted    time.Time

	MasterSecret [48]byte
	SessionID    [32]byte
	CipherSuite  string
	Port         string
}

// New constructs an empty Session with freshly allocated queues, ready
// to be populated by the auth collaborator (spec §6).
func New(hostname, cookie string) (*Session, error) {
	comp, err := compress.New(compress.DefaultLevel)
	if err != nil {
		return nil, err
	}
	s := &Session{
		Hostname:    hostname,
		Cookie:      cookie,
		Ingress:     queue.NewUnbounded(),
		Egress:      queue.NewBounded(queue.DefaultMaxLen),
		Compression: comp,
	}
	s.DTLS.AttemptPeriod = DefaultDTLSAttemptPeriod
	return s, nil
}

// SetQuitReason records the terminal reason for the session, if one is
// not already set. The first reason wins — a server-initiated
// disconnect racing a local signal must not clobber whichever fired
// first.
func (s *Session) SetQuitReason(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.quitReason == "" {
		s.quitReason = reason
	}
}

// QuitReason reports the terminal reason, or "" while the session is
// still running.
func (s *Session) QuitReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quitReason
}
