package mtp2

import (
	"testing"
	"time"

	ss7core "github.com/nordiccore/ss7core"
)

type loopInterface struct {
	peer *Link
}

func (lp *loopInterface) Transmit(frame []byte) error {
	kind := FrameFISU
	switch len(frame) {
	case 2:
		kind = FrameFISU
	case 3:
		kind = FrameLSSU
	default:
		kind = FrameMSU
	}
	lp.peer.Receive(kind, frame)
	return nil
}

func TestAlignmentReachesNormal(t *testing.T) {
	e := ss7core.NewEngine(nil)

	a := NewLink("a", nil, nil)
	b := NewLink("b", nil, nil)
	a.iface = &loopInterface{peer: b}
	b.iface = &loopInterface{peer: a}

	if err := e.Attach(a); err != nil {
		t.Fatal(err)
	}
	if err := e.Attach(b); err != nil {
		t.Fatal(err)
	}

	a.Initialize(map[string]any{"auto_start": true})
	b.Initialize(map[string]any{"auto_start": true})

	now := time.Now()
	for i := 0; i < 20; i++ {
		a.Tick(now)
		b.Tick(now)
	}

	if a.Status() != NormalAlignment && a.Status() != EmergencyAlignment {
		t.Fatalf("side a status = %s, want aligned", a.Status())
	}
	if b.Status() != NormalAlignment && b.Status() != EmergencyAlignment {
		t.Fatalf("side b status = %s, want aligned", b.Status())
	}
}

func TestSendRejectedWhenNotAligned(t *testing.T) {
	l := NewLink("x", &loopInterface{}, nil)
	l.Initialize(map[string]any{})
	if err := l.Send([]byte{1, 2, 3}); err != ErrNotAligned {
		t.Fatalf("expected ErrNotAligned, got %v", err)
	}
}

func TestSeqAfterWraps(t *testing.T) {
	if !seqAfter(5, 3) {
		t.Fatal("5 should be after 3")
	}
	if seqAfter(3, 5) {
		t.Fatal("3 should not be after 5")
	}
	// wrap-around: 1 is after 126 (mod 128)
	if !seqAfter(1, 126) {
		t.Fatal("1 should be after 126 (wrap)")
	}
}

func TestFrameRoundTrip(t *testing.T) {
	f := Frame{Kind: FrameMSU, BSN: 10, BIB: 1, FSN: 20, FIB: 0, Payload: []byte{0xAA, 0xBB}}
	buf := f.Marshal()
	got, err := Unmarshal(FrameMSU, buf)
	if err != nil {
		t.Fatal(err)
	}
	if got.BSN != f.BSN || got.BIB != f.BIB || got.FSN != f.FSN || got.FIB != f.FIB {
		t.Fatalf("header mismatch: got %+v, want %+v", got, f)
	}
	if string(got.Payload) != string(f.Payload) {
		t.Fatalf("payload mismatch: got %v, want %v", got.Payload, f.Payload)
	}
}
