package q921

import (
	"testing"
	"time"
)

type fakeTransport struct {
	frames [][]byte
}

func (f *fakeTransport) Transmit(frame []byte) error {
	f.frames = append(f.frames, append([]byte(nil), frame...))
	return nil
}

func (f *fakeTransport) last() Frame {
	fr, _ := Unmarshal(f.frames[len(f.frames)-1])
	return fr
}

func newTestLink(role Role) (*Link, *fakeTransport) {
	tr := &fakeTransport{}
	l := NewLink("test", role, 0, 1, tr, nil)
	l.Initialize(map[string]any{"t200_ms": 1000, "t203_ms": 5000, "k": 3})
	return l, tr
}

func TestLinkEstablishSendsSABMEAndBecomesEstablishedOnUA(t *testing.T) {
	l, tr := newTestLink(Active)
	now := time.Unix(0, 0)
	l.Establish(now)

	if len(tr.frames) != 1 || tr.last().UType != SABME {
		t.Fatalf("expected one SABME frame, got %d frames", len(tr.frames))
	}
	if l.State() != WaitEstablish {
		t.Fatalf("expected WaitEstablish, got %v", l.State())
	}

	ua := Frame{Address: Address{SAPI: 0, TEI: 1, CR: false}, Kind: UFrame, UType: UA, PollFinal: true}
	l.Receive(ua.Marshal())
	l.Tick(now)

	if l.State() != Established {
		t.Fatalf("expected Established after UA, got %v", l.State())
	}
}

func TestLinkPassiveRespondsToSABMEWithUA(t *testing.T) {
	l, tr := newTestLink(Passive)
	now := time.Unix(0, 0)

	sabme := Frame{Address: Address{SAPI: 0, TEI: 1, CR: true}, Kind: UFrame, UType: SABME, PollFinal: true}
	l.Receive(sabme.Marshal())
	l.Tick(now)

	if l.State() != Established {
		t.Fatalf("expected Established after SABME, got %v", l.State())
	}
	if len(tr.frames) != 1 || tr.last().UType != UA {
		t.Fatalf("expected a UA reply, got %d frames", len(tr.frames))
	}
}

func TestLinkReleaseSendsDISCAndBecomesReleasedOnUA(t *testing.T) {
	l, tr := newTestLink(Active)
	now := time.Unix(0, 0)
	establish(t, l, now)

	l.Release(now)
	if tr.last().UType != DISC {
		t.Fatalf("expected DISC, got %+v", tr.last())
	}
	if l.State() != WaitRelease {
		t.Fatalf("expected WaitRelease, got %v", l.State())
	}

	ua := Frame{Address: Address{TEI: 1}, Kind: UFrame, UType: UA, PollFinal: true}
	l.Receive(ua.Marshal())
	l.Tick(now)
	if l.State() != Released {
		t.Fatalf("expected Released after UA, got %v", l.State())
	}
}

func establish(t *testing.T, l *Link, now time.Time) {
	t.Helper()
	l.Establish(now)
	ua := Frame{Address: Address{TEI: 1}, Kind: UFrame, UType: UA, PollFinal: true}
	l.Receive(ua.Marshal())
	l.Tick(now)
	if l.State() != Established {
		t.Fatalf("setup: expected Established, got %v", l.State())
	}
}

func TestLinkSendDataFailsWhenNotEstablished(t *testing.T) {
	l, _ := newTestLink(Active)
	if err := l.SendData([]byte("x")); err != ErrNotEstablished {
		t.Fatalf("expected ErrNotEstablished, got %v", err)
	}
}

func TestLinkSendDataFlushesWithinWindow(t *testing.T) {
	l, tr := newTestLink(Active)
	now := time.Unix(0, 0)
	establish(t, l, now)
	before := len(tr.frames)

	for i := 0; i < 2; i++ {
		if err := l.SendData([]byte{byte(i)}); err != nil {
			t.Fatal(err)
		}
	}
	l.Tick(now)

	if len(tr.frames)-before != 2 {
		t.Fatalf("expected 2 I-frames transmitted, got %d", len(tr.frames)-before)
	}
}

func TestLinkWindowLimitsOutstandingFrames(t *testing.T) {
	l, tr := newTestLink(Active) // k=3
	now := time.Unix(0, 0)
	establish(t, l, now)
	before := len(tr.frames)

	for i := 0; i < 5; i++ {
		_ = l.SendData([]byte{byte(i)})
	}
	l.Tick(now)

	if sent := len(tr.frames) - before; sent != 3 {
		t.Fatalf("expected window to cap at 3 outstanding I-frames, got %d", sent)
	}
}

func TestLinkRejTriggersRetransmission(t *testing.T) {
	l, tr := newTestLink(Active)
	now := time.Unix(0, 0)
	establish(t, l, now)

	for i := 0; i < 3; i++ {
		_ = l.SendData([]byte{byte(i)})
	}
	l.Tick(now)
	before := len(tr.frames)

	rej := Frame{Address: Address{TEI: 1}, Kind: SFrame, SType: REJ, NR: 0, PollFinal: true}
	l.Receive(rej.Marshal())
	l.Tick(now)

	if len(tr.frames) <= before {
		t.Fatalf("expected retransmission after REJ, frame count stayed at %d", before)
	}
}

func TestLinkN200ExhaustionReleasesLink(t *testing.T) {
	l, _ := newTestLink(Active)
	now := time.Unix(0, 0)
	l.Establish(now)

	for i := 0; i < 5; i++ {
		now = now.Add(2 * time.Second)
		l.Tick(now)
	}

	if l.State() != Released {
		t.Fatalf("expected Released after N200 exhaustion, got %v", l.State())
	}
}

func TestLinkInSequenceIFrameDeliveredUpward(t *testing.T) {
	var got []byte
	tr := &fakeTransport{}
	l := NewLink("test", Passive, 0, 1, tr, func(p []byte) { got = p })
	l.Initialize(nil)
	now := time.Unix(0, 0)

	sabme := Frame{Address: Address{TEI: 1, CR: true}, Kind: UFrame, UType: SABME, PollFinal: true}
	l.Receive(sabme.Marshal())
	l.Tick(now)

	iframe := Frame{Address: Address{TEI: 1, CR: true}, Kind: IFrame, NS: 0, NR: 0, Payload: []byte("hello")}
	l.Receive(iframe.Marshal())
	l.Tick(now)

	if string(got) != "hello" {
		t.Fatalf("expected payload delivered upward, got %q", got)
	}
}

func TestLinkOutOfSequenceIFrameTriggersREJ(t *testing.T) {
	tr := &fakeTransport{}
	l := NewLink("test", Passive, 0, 1, tr, nil)
	l.Initialize(nil)
	now := time.Unix(0, 0)

	sabme := Frame{Address: Address{TEI: 1, CR: true}, Kind: UFrame, UType: SABME, PollFinal: true}
	l.Receive(sabme.Marshal())
	l.Tick(now)
	before := len(tr.frames)

	iframe := Frame{Address: Address{TEI: 1, CR: true}, Kind: IFrame, NS: 2, NR: 0, Payload: []byte("x")}
	l.Receive(iframe.Marshal())
	l.Tick(now)

	if len(tr.frames) != before+1 || tr.last().Kind != SFrame || tr.last().SType != REJ {
		t.Fatalf("expected a REJ reply, got %+v", tr.frames[before:])
	}
}
