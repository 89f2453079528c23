package script

import (
	"net"
	"strings"
	"testing"
)

func TestBuildEnv_IncludesCoreVariables(t *testing.T) {
	env := Env{
		TunDevice:          "tun0",
		Reason:             ReasonConnect,
		InternalIP4Address: net.ParseIP("10.0.0.5"),
		InternalIP4DNS:     []net.IP{net.ParseIP("8.8.8.8"), net.ParseIP("8.8.4.4")},
		CiscoDefDomain:     "example.com",
	}
	vars := buildEnv(env)

	want := []string{
		"reason=connect",
		"TUNDEV=tun0",
		"INTERNAL_IP4_ADDRESS=10.0.0.5",
		"INTERNAL_IP4_DNS_0=8.8.8.8",
		"INTERNAL_IP4_DNS_1=8.8.4.4",
		"INTERNAL_IP4_DNS=8.8.8.8 8.8.4.4",
		"CISCO_DEF_DOMAIN=example.com",
	}
	joined := strings.Join(vars, "\n")
	for _, w := range want {
		if !strings.Contains(joined, w) {
			t.Errorf("missing env var %q in:\n%s", w, joined)
		}
	}
}

func TestBuildEnv_IncludesVPNGateway(t *testing.T) {
	env := Env{Reason: ReasonDisconnect, VPNGateway: net.ParseIP("203.0.113.1")}
	vars := buildEnv(env)
	joined := strings.Join(vars, "\n")
	if !strings.Contains(joined, "VPNGATEWAY=203.0.113.1") {
		t.Errorf("missing VPNGATEWAY in:\n%s", joined)
	}
}

func TestRun_NilPathIsNoOp(t *testing.T) {
	r := New("")
	if err := r.Run(Env{Reason: ReasonDisconnect}); err != nil {
		t.Fatalf("no-op runner should not error: %v", err)
	}
}
