package session

import "testing"

func TestNew_AllocatesQueuesAndCompression(t *testing.T) {
	s, err := New("vpn.example.com", "cookie123")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if s.Ingress == nil || s.Egress == nil || s.Compression == nil {
		t.Fatal("New must allocate ingress/egress queues and compression state")
	}
	if s.Egress.Len() != 0 {
		t.Fatalf("fresh egress queue should be empty, got len %d", s.Egress.Len())
	}
}

func TestNew_DefaultsDTLSAttemptPeriod(t *testing.T) {
	s, _ := New("h", "c")
	if s.DTLS.AttemptPeriod != DefaultDTLSAttemptPeriod {
		t.Fatalf("DTLS.AttemptPeriod = %v, want default %v", s.DTLS.AttemptPeriod, DefaultDTLSAttemptPeriod)
	}
}

func TestSetQuitReason_FirstReasonWins(t *testing.T) {
	s, _ := New("h", "c")
	s.SetQuitReason("Client received SIGINT")
	s.SetQuitReason("Server closed connection")

	if got := s.QuitReason(); got != "Client received SIGINT" {
		t.Fatalf("QuitReason() = %q, want the first reason set", got)
	}
}

func TestQuitReason_EmptyWhileRunning(t *testing.T) {
	s, _ := New("h", "c")
	if s.QuitReason() != "" {
		t.Fatal("QuitReason() should be empty before any shutdown trigger")
	}
}
