package mtp3

import (
	"testing"

	"github.com/nordiccore/ss7core/pointcode"
)

func TestRouterReportNetworkViewWorstCase(t *testing.T) {
	r := NewRouter("stp-a", pointcode.ITU)
	r.Initialize(map[string]any{"transfer": true})

	d := dest()
	rt := NewRoute(d)
	r.AddRoute(rt)

	r.ReportNetworkView("net1", d, Allowed)
	if got := rt.CurrentState(); got != Allowed {
		t.Fatalf("state = %s, want Allowed", got)
	}

	r.ReportNetworkView("net2", d, Prohibited)
	if got := rt.CurrentState(); got != Prohibited {
		t.Fatalf("state = %s, want Prohibited (worst case across networks)", got)
	}

	r.ReportNetworkView("net2", d, Allowed)
	if got := rt.CurrentState(); got != Allowed {
		t.Fatalf("state = %s, want Allowed once both networks recover", got)
	}
}

func TestRouterRestartCompletesAndClearsTimers(t *testing.T) {
	r := NewRouter("stp-a", pointcode.ITU)
	r.Initialize(map[string]any{})

	r.BeginRestart()
	r.mu.Lock()
	restarting := r.restarting
	r.mu.Unlock()
	if !restarting {
		t.Fatal("expected restarting to be true after BeginRestart")
	}

	r.CompleteRestart()
	r.mu.Lock()
	restarting = r.restarting
	r.mu.Unlock()
	if restarting {
		t.Fatal("expected restarting to be false after CompleteRestart")
	}
}

func TestRouterInhibitRoundTrip(t *testing.T) {
	r := NewRouter("stp-a", pointcode.ITU)
	r.Initialize(map[string]any{})

	r.SetLinkInhibit(3, false)
	if r.InhibitOf(3)&LocalInhibit == 0 {
		t.Fatal("expected LocalInhibit to be set")
	}
	r.SetLinkUninhibit(3, false)
	if r.InhibitOf(3)&LocalInhibit != 0 {
		t.Fatal("expected LocalInhibit to be cleared")
	}
}
