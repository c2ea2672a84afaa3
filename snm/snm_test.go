package snm

import (
	"testing"

	"github.com/nordiccore/ss7core/pointcode"
)

func testDest() pointcode.PC {
	return pointcode.PC{Dialect: pointcode.ITU, Network: 1, Cluster: 2, Member: 3}
}

func TestMessageRoundTripTFP(t *testing.T) {
	m := Message{Heading: TFP, Dest: testDest()}
	buf, err := m.Marshal(pointcode.ITU)
	if err != nil {
		t.Fatal(err)
	}
	got, err := Unmarshal(pointcode.ITU, buf)
	if err != nil {
		t.Fatal(err)
	}
	if got.Heading != TFP || got.Dest != m.Dest {
		t.Fatalf("got %+v, want %+v", got, m)
	}
}

func TestMessageRoundTripUPU(t *testing.T) {
	m := Message{Heading: UPU, Dest: testDest(), Cause: 2}
	buf, err := m.Marshal(pointcode.ITU)
	if err != nil {
		t.Fatal(err)
	}
	got, err := Unmarshal(pointcode.ITU, buf)
	if err != nil {
		t.Fatal(err)
	}
	if got.Cause != 2 {
		t.Fatalf("cause = %d, want 2", got.Cause)
	}
}

func TestMessageRoundTripCOO(t *testing.T) {
	m := Message{Heading: COO, SLC: 5}
	buf, err := m.Marshal(pointcode.ITU)
	if err != nil {
		t.Fatal(err)
	}
	got, err := Unmarshal(pointcode.ITU, buf)
	if err != nil {
		t.Fatal(err)
	}
	if got.SLC != 5 {
		t.Fatalf("SLC = %d, want 5", got.SLC)
	}
}

type fakeController struct {
	states    map[pointcode.PC]int
	inhibited map[uint8]bool
	restarted bool
}

func newFakeController() *fakeController {
	return &fakeController{states: make(map[pointcode.PC]int), inhibited: make(map[uint8]bool)}
}

func (f *fakeController) SetRouteState(dest pointcode.PC, state int) { f.states[dest] = state }
func (f *fakeController) RouteState(dest pointcode.PC) int           { return f.states[dest] }
func (f *fakeController) BeginRestart()                              {}
func (f *fakeController) CompleteRestart()                           { f.restarted = true }
func (f *fakeController) SetLinkInhibit(slc uint8, remote bool)      { f.inhibited[slc] = true }
func (f *fakeController) SetLinkUninhibit(slc uint8, remote bool)    { f.inhibited[slc] = false }

type fakeSender struct {
	sent [][]byte
}

func (s *fakeSender) SendSNM(dest pointcode.PC, raw []byte) error {
	s.sent = append(s.sent, raw)
	return nil
}

func TestHandlerTFPUpdatesController(t *testing.T) {
	c := newFakeController()
	h := NewHandler(pointcode.ITU, c, nil)

	h.Handle(Message{Heading: TFP, Dest: testDest()})
	if c.states[testDest()] != StateProhibited {
		t.Fatalf("state = %d, want StateProhibited", c.states[testDest()])
	}
}

func TestHandlerTRACompletesRestart(t *testing.T) {
	c := newFakeController()
	h := NewHandler(pointcode.ITU, c, nil)

	h.Handle(Message{Heading: TRA})
	if !c.restarted {
		t.Fatal("expected CompleteRestart to be called on TRA")
	}
}

func TestHandlerLINRepliesLIA(t *testing.T) {
	c := newFakeController()
	s := &fakeSender{}
	h := NewHandler(pointcode.ITU, c, s)

	h.Handle(Message{Heading: LIN, SLC: 7})
	if !c.inhibited[7] {
		t.Fatal("expected SLC 7 to be inhibited")
	}
	if len(s.sent) != 1 {
		t.Fatalf("expected 1 reply sent, got %d", len(s.sent))
	}
	reply, err := Unmarshal(pointcode.ITU, s.sent[0])
	if err != nil {
		t.Fatal(err)
	}
	if reply.Heading != LIA || reply.SLC != 7 {
		t.Fatalf("reply = %+v, want LIA/7", reply)
	}
}
