package dtlschan

import (
	"testing"
	"time"

	"accvpn/internal/session"
)

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

func TestMaybeStart_AttemptPeriodZeroNeverStarts(t *testing.T) {
	sess, err := session.New("vpn.example.com", "cookie")
	if err != nil {
		t.Fatalf("session.New: %v", err)
	}
	sess.DTLS.State = session.DTLSClosed
	sess.DTLS.AttemptPeriod = 0

	c := NewChannel(nopLogger{})
	c.MaybeStart(time.Now(), sess, nil, true)

	if sess.DTLS.State != session.DTLSClosed {
		t.Fatalf("DTLS.State = %v, want it to stay Closed when AttemptPeriod is 0", sess.DTLS.State)
	}
	if c.attempting {
		t.Fatal("MaybeStart must not begin a handshake attempt when AttemptPeriod is 0")
	}
	if _, ok := c.Fd(); ok {
		t.Fatal("no socket should be opened when AttemptPeriod is 0")
	}
}

func TestMaybeStart_DisabledStateNeverStarts(t *testing.T) {
	sess, err := session.New("vpn.example.com", "cookie")
	if err != nil {
		t.Fatalf("session.New: %v", err)
	}
	// session.New defaults AttemptPeriod > 0, but the state machine
	// starts Disabled until CSTP negotiates DTLS.
	if sess.DTLS.State != session.DTLSDisabled {
		t.Fatalf("fresh session DTLS.State = %v, want Disabled", sess.DTLS.State)
	}

	c := NewChannel(nopLogger{})
	c.MaybeStart(time.Now(), sess, nil, true)

	if sess.DTLS.State != session.DTLSDisabled {
		t.Fatalf("DTLS.State = %v, want it to stay Disabled until negotiated", sess.DTLS.State)
	}
}
