package isup

import (
	"testing"
	"time"

	ss7core "github.com/nordiccore/ss7core"
	"github.com/nordiccore/ss7core/circuit"
)

func newTestCircuit(code uint) *circuit.Circuit {
	c := circuit.NewCircuit(code, circuit.TDM)
	_, _ = c.Reserve(0)
	return c
}

func TestCallOutgoingFullEstablishment(t *testing.T) {
	c := NewCall(42, newTestCircuit(42))
	now := time.Unix(0, 0)

	if err := c.Call(now, "15551234", "15550000"); err != nil {
		t.Fatal(err)
	}
	if c.State() != Setup {
		t.Fatalf("expected Setup, got %v", c.State())
	}
	out := c.DrainOutbound()
	if len(out) != 1 || out[0].Type != IAM {
		t.Fatalf("expected one IAM, got %+v", out)
	}

	c.Handle(now, Message{Type: ACM, CIC: 42, Fixed: []byte{0x00}}, false)
	if c.State() != Accepted {
		t.Fatalf("expected Accepted, got %v", c.State())
	}

	c.Handle(now, Message{Type: CPG, CIC: 42, Fixed: []byte{eventRinging}}, false)
	if c.State() != Ringing {
		t.Fatalf("expected Ringing, got %v", c.State())
	}

	c.Handle(now, Message{Type: ANM, CIC: 42}, false)
	if c.State() != Answered {
		t.Fatalf("expected Answered, got %v", c.State())
	}

	c.Hangup(now, CauseNormalClearing)
	if c.State() != Releasing {
		t.Fatalf("expected Releasing, got %v", c.State())
	}
	out = c.DrainOutbound()
	if len(out) != 1 || out[0].Type != REL {
		t.Fatalf("expected REL queued on hangup, got %+v", out)
	}

	c.Handle(now, Message{Type: RLC, CIC: 42}, false)
	if c.State() != Released {
		t.Fatalf("expected Released after RLC, got %v", c.State())
	}
}

func TestCallHangupStartsT1AndT5(t *testing.T) {
	c := NewCall(1, newTestCircuit(1))
	now := time.Unix(0, 0)
	_ = c.Call(now, "123", "")
	c.DrainOutbound()
	c.Handle(now, Message{Type: ANM, CIC: 1}, false)

	c.Hangup(now, CauseNormalClearing)
	if !c.t1.Running() {
		t.Fatal("expected T1 running after hangup")
	}
	if !c.t5.Running() {
		t.Fatal("expected T5 running after hangup")
	}
}

func TestCallT5ExpiryInReleasingForcesReleased(t *testing.T) {
	c := NewCall(1, newTestCircuit(1))
	now := time.Unix(0, 0)
	_ = c.Call(now, "123", "")
	c.DrainOutbound()
	c.Handle(now, Message{Type: ANM, CIC: 1}, false)

	c.Hangup(now, CauseNormalClearing)
	c.DrainOutbound()

	later := now.Add(c.t5.Interval() + time.Second)
	terminal := c.Tick(later)
	if !terminal {
		t.Fatal("expected call to be terminal after T5 expiry in Releasing")
	}
	if c.State() != Released {
		t.Fatalf("expected Released after T5 expiry, got %v", c.State())
	}
}

func TestCallRLCStopsT5(t *testing.T) {
	c := NewCall(1, newTestCircuit(1))
	now := time.Unix(0, 0)
	_ = c.Call(now, "123", "")
	c.DrainOutbound()
	c.Handle(now, Message{Type: ANM, CIC: 1}, false)
	c.Hangup(now, CauseNormalClearing)
	c.DrainOutbound()

	c.Handle(now, Message{Type: RLC, CIC: 1}, false)
	if c.t5.Running() {
		t.Fatal("expected T5 stopped once RLC arrived")
	}
}

func TestCallMissingMandatoryStartsT1AndT5(t *testing.T) {
	c := NewCall(1, newTestCircuit(1))
	now := time.Unix(0, 0)
	_ = c.Call(now, "123", "")
	c.DrainOutbound()

	c.Handle(now, Message{Type: ACM, CIC: 1, Fixed: []byte{0x00}}, true)
	if c.State() != Releasing {
		t.Fatalf("expected Releasing on missing mandatory IE, got %v", c.State())
	}
	if !c.t1.Running() || !c.t5.Running() {
		t.Fatal("expected T1 and T5 both running after missing-mandatory REL")
	}
	out := c.DrainOutbound()
	if len(out) != 1 || out[0].Type != REL {
		t.Fatalf("expected REL queued, got %+v", out)
	}
}

func TestCallGlareLocalWinsSendsRELAndRetries(t *testing.T) {
	c := NewCall(1, newTestCircuit(1))
	now := time.Unix(0, 0)
	_ = c.Call(now, "123", "100")
	c.DrainOutbound()
	c.SetLocalWins(true)

	c.Handle(now, Message{Type: IAM, CIC: 1, Fixed: []byte{0x00}, Variable: [][]byte{calledPartyParam("999")}}, false)

	if c.State() != Releasing {
		t.Fatalf("expected Releasing, the winner clears the CIC with REL, got %v", c.State())
	}
	out := c.DrainOutbound()
	if len(out) != 1 || out[0].Type != REL {
		t.Fatalf("expected REL queued by the glare winner, got %+v", out)
	}
	calledDigits, callingDigits, _, retry := c.GlareRetry()
	if !retry {
		t.Fatal("expected a glare retry to be pending")
	}
	if calledDigits != "123" || callingDigits != "100" {
		t.Fatalf("expected retry to carry the original digits, got %q/%q", calledDigits, callingDigits)
	}
}

func TestCallGlareLocalLosesSurrendersSilently(t *testing.T) {
	c := NewCall(1, newTestCircuit(1))
	now := time.Unix(0, 0)
	_ = c.Call(now, "123", "100")
	c.DrainOutbound()
	c.SetLocalWins(false)

	c.Handle(now, Message{Type: IAM, CIC: 1, Fixed: []byte{0x00}, Variable: [][]byte{calledPartyParam("999")}}, false)

	if c.State() != Released {
		t.Fatalf("expected the loser to surrender straight to Released, got %v", c.State())
	}
	if out := c.DrainOutbound(); len(out) != 0 {
		t.Fatalf("expected the loser to send nothing, got %+v", out)
	}
	if _, _, _, retry := c.GlareRetry(); !retry {
		t.Fatal("expected the loser to also retry on a fresh CIC")
	}
}

func TestCallGlareRetryBoundedByReplaceCounter(t *testing.T) {
	c := NewCall(1, newTestCircuit(1))
	now := time.Unix(0, 0)
	c.replaceCount = ss7core.NewCounter(0)
	_ = c.Call(now, "123", "")
	c.DrainOutbound()
	c.SetLocalWins(true)

	c.Handle(now, Message{Type: IAM, CIC: 1, Fixed: []byte{0x00}, Variable: [][]byte{calledPartyParam("999")}}, false)

	if _, _, _, retry := c.GlareRetry(); retry {
		t.Fatal("expected no further retry once the replace-counter bound is reached")
	}
}

func TestCallIAMWithoutOriginatedCallIsConfused(t *testing.T) {
	c := NewCall(1, newTestCircuit(1))
	now := time.Unix(0, 0)

	c.Handle(now, Message{Type: IAM, CIC: 1, Fixed: []byte{0x00}, Variable: [][]byte{calledPartyParam("999")}}, false)

	out := c.DrainOutbound()
	if len(out) != 1 || out[0].Type != CNF {
		t.Fatalf("expected CNF for an IAM with no local outgoing attempt, got %+v", out)
	}
}
