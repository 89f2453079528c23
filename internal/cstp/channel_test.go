package cstp

import (
	"strings"
	"testing"

	"accvpn/internal/packet"
	"accvpn/internal/session"
)

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

func newTestSession(t *testing.T) *session.Session {
	t.Helper()
	sess, err := session.New("vpn.example.com", "cookie123")
	if err != nil {
		t.Fatalf("session.New: %v", err)
	}
	return sess
}

func TestDispatch_DataEnqueuesIngress(t *testing.T) {
	c := &Channel{log: nopLogger{}}
	sess := newTestSession(t)

	if err := c.dispatch(packet.TypeData, []byte("hello"), sess); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	pkt := sess.Ingress.Dequeue()
	if pkt == nil || string(pkt.Data) != "hello" {
		t.Fatalf("ingress did not receive the data packet: %+v", pkt)
	}
}

func TestDispatch_CompressedInflatesThroughPersistentStream(t *testing.T) {
	c := &Channel{log: nopLogger{}}
	sess := newTestSession(t)

	payload, _, err := sess.Compression.Deflate([]byte("squeeze me"))
	if err != nil {
		t.Fatalf("deflate: %v", err)
	}
	if err := c.dispatch(packet.TypeCompressed, payload, sess); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	pkt := sess.Ingress.Dequeue()
	if pkt == nil || string(pkt.Data) != "squeeze me" {
		t.Fatalf("ingress did not receive inflated data: %+v", pkt)
	}
}

func TestDispatch_DPDOutMarksResponseOwed(t *testing.T) {
	c := &Channel{log: nopLogger{}}
	sess := newTestSession(t)

	if err := c.dispatch(packet.TypeDPDOut, nil, sess); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if !c.owesDPDResponse {
		t.Fatal("expected owesDPDResponse to be set after receiving a DPD probe")
	}
}

func TestDispatch_DisconnSetsQuitReason(t *testing.T) {
	c := &Channel{log: nopLogger{}}
	sess := newTestSession(t)

	if err := c.dispatch(packet.TypeDisconn, []byte("admin reset"), sess); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if sess.QuitReason() != "admin reset" {
		t.Fatalf("quit reason = %q, want %q", sess.QuitReason(), "admin reset")
	}
}

func TestDispatch_UnknownTypeIsIgnoredNotFatal(t *testing.T) {
	c := &Channel{log: nopLogger{}}
	sess := newTestSession(t)

	if err := c.dispatch(200, []byte("?"), sess); err != nil {
		t.Fatalf("unknown frame type should not be fatal: %v", err)
	}
}

func TestBuildConnectRequest_IncludesNegotiationHeaders(t *testing.T) {
	var secret [48]byte
	var sid [32]byte
	req := buildConnectRequest("vpn.example.com", "abc123", 1406, secret, sid)

	for _, want := range []string{
		"CONNECT /CSCOSSLC/tunnel HTTP/1.1",
		"Host: vpn.example.com",
		"Cookie: webvpn=abc123",
		"X-CSTP-MTU: 1406",
		"X-DTLS-Master-Secret:",
		"X-DTLS-Session-ID:",
	} {
		if !strings.Contains(req, want) {
			t.Errorf("request missing %q:\n%s", want, req)
		}
	}
	if !strings.HasSuffix(req, "\r\n\r\n") {
		t.Error("request must end with a blank line")
	}
}

func TestQueueControl_DropsWhenAlreadyPinned(t *testing.T) {
	c := &Channel{log: nopLogger{}}
	if err := c.queueControl(packet.TypeKeepalive, nil); err != nil {
		t.Fatalf("first queueControl: %v", err)
	}
	pinned := c.writePayload
	if err := c.queueControl(packet.TypeDPDOut, nil); err != nil {
		t.Fatalf("second queueControl: %v", err)
	}
	if string(c.writePayload) != string(pinned) {
		t.Fatal("a second control frame must not replace the pinned one")
	}
}
