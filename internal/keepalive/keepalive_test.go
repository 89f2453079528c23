package keepalive

import (
	"testing"
	"time"
)

func at(sec int) time.Time {
	return time.Unix(int64(sec), 0)
}

func TestNextAction_DPDFiresAtInterval(t *testing.T) {
	st := State{DPD: 30 * time.Second, LastRx: at(0)}

	action, st, _ := NextAction(at(30), st)
	if action != ActionDPD {
		t.Fatalf("action = %v, want DPD", action)
	}
	if !st.LastDPD.Equal(at(30)) {
		t.Fatalf("LastDPD = %v, want %v", st.LastDPD, at(30))
	}
}

func TestNextAction_DPDDeadAfterTwoIntervalsWithNoResponse(t *testing.T) {
	st := State{DPD: 30 * time.Second, LastRx: at(0)}
	action, _, _ := NextAction(at(61), st)
	if action != ActionDPDDead {
		t.Fatalf("action = %v, want DPDDead", action)
	}
}

func TestNextAction_NoFloodingWhileDPDOutstanding(t *testing.T) {
	st := State{DPD: 30 * time.Second, LastRx: at(0)}
	_, st, _ = NextAction(at(30), st) // sends first DPD, LastDPD=30

	// at 31s, a second DPD is not due yet (needs last_dpd + dpd/2 = 45)
	action, _, deadline := NextAction(at(31), st)
	if action != ActionNone {
		t.Fatalf("action = %v, want None (no flood)", action)
	}
	if deadline.Before(at(45)) {
		t.Fatalf("deadline %v should not be before the half-period retry at 45s", deadline)
	}

	action, _, _ = NextAction(at(45), st)
	if action != ActionDPD {
		t.Fatalf("action at half-period retry = %v, want DPD", action)
	}
}

func TestNextAction_KeepaliveFires(t *testing.T) {
	st := State{Keepalive: 20 * time.Second, LastTx: at(0)}
	action, _, _ := NextAction(at(20), st)
	if action != ActionKeepalive {
		t.Fatalf("action = %v, want Keepalive", action)
	}
}

func TestNextAction_RekeyTakesPriorityOverDPD(t *testing.T) {
	st := State{
		Rekey:     100 * time.Second,
		LastRekey: at(0),
		DPD:       30 * time.Second,
		LastRx:    at(0),
	}
	action, _, _ := NextAction(at(100), st)
	if action != ActionRekey {
		t.Fatalf("action = %v, want Rekey (priority 1 over DPD)", action)
	}
}

func TestNextAction_DisabledTimersNeverFire(t *testing.T) {
	st := State{}
	action, _, _ := NextAction(at(1_000_000), st)
	if action != ActionNone {
		t.Fatalf("action = %v, want None when all timers disabled", action)
	}
}

func TestStalledDPDDead(t *testing.T) {
	st := State{DPD: 30 * time.Second, LastRx: at(0)}
	if StalledDPDDead(at(60), st) {
		t.Fatal("should not be dead at exactly 2*dpd")
	}
	if !StalledDPDDead(at(61), st) {
		t.Fatal("should be dead past 2*dpd")
	}
	if StalledDPDDead(at(61), State{}) {
		t.Fatal("DPD disabled should never report dead")
	}
}
