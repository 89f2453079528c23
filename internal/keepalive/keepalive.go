// Package keepalive implements the pure liveness/rekey timer logic shared
// by the CSTP and DTLS channels (spec §4.4), grounded on the
// keepalive_action/ka_stalled_dpd_time pair in the original
// OpenConnect mainloop.c, translated into a side-effect-free function of
// (now, State).
package keepalive

import "time"

// Action is the outcome of evaluating a channel's keepalive state for one
// engine iteration.
type Action int

const (
	ActionNone Action = iota
	ActionDPD
	ActionDPDDead
	ActionKeepalive
	ActionRekey
)

func (a Action) String() string {
	switch a {
	case ActionDPD:
		return "dpd"
	case ActionDPDDead:
		return "dpd-dead"
	case ActionKeepalive:
		return "keepalive"
	case ActionRekey:
		return "rekey"
	default:
		return "none"
	}
}

// State is the per-channel liveness bookkeeping of spec §3. Durations of
// zero mean "disabled" for that concern, matching the CSTP/DTLS headers'
// "0 = disabled" convention.
type State struct {
	DPD       time.Duration
	Keepalive time.Duration
	Rekey     time.Duration

	LastTx    time.Time
	LastRx    time.Time
	LastRekey time.Time
	LastDPD   time.Time
}

// NextAction evaluates the priority-ordered rules of spec §4.4 and
// returns the action the caller must take plus the deadline at which
// NextAction should be re-evaluated if no action fires before then (i.e.
// when Action is ActionNone, or as an upper bound for the caller's own
// poll timeout otherwise).
//
// NextAction has no side effects except recording LastDPD into the
// returned State when it decides to send a DPD probe — the caller is
// expected to persist the returned State back onto the channel.
func NextAction(now time.Time, st State) (Action, State, time.Time) {
	deadline := now.Add(24 * time.Hour) // effectively "no pending deadline"
	haveDeadline := false

	track := func(due time.Time) {
		if !haveDeadline || due.Before(deadline) {
			deadline = due
			haveDeadline = true
		}
	}

	if st.Rekey > 0 {
		due := st.LastRekey.Add(st.Rekey)
		if !now.Before(due) {
			return ActionRekey, st, now
		}
		track(due)
	}

	if st.DPD > 0 {
		overdue := st.LastRx.Add(2 * st.DPD)
		if now.After(overdue) {
			return ActionDPDDead, st, now
		}

		due := st.LastRx.Add(st.DPD)
		if st.LastDPD.After(st.LastRx) {
			due = st.LastDPD.Add(st.DPD / 2)
		}
		if !now.Before(due) {
			st.LastDPD = now
			return ActionDPD, st, now
		}
		track(due)
		track(overdue)
	}

	if st.Keepalive > 0 {
		due := st.LastTx.Add(st.Keepalive)
		if !now.Before(due) {
			return ActionKeepalive, st, now
		}
		track(due)
	}

	return ActionNone, st, deadline
}

// StalledDPDDead reports whether a channel whose socket is currently
// unwritable must nonetheless be declared dead: when more than 2*DPD has
// elapsed since the last received packet. It mirrors
// ka_stalled_dpd_time's dead branch; the "sleep until due" branch is
// folded into NextAction's deadline above, since in this design there is
// a single timeout computation per iteration rather than a separate one
// for the unwritable-socket case.
func StalledDPDDead(now time.Time, st State) bool {
	if st.DPD <= 0 {
		return false
	}
	return now.After(st.LastRx.Add(2 * st.DPD))
}
