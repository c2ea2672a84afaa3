package mtp3

import (
	"testing"

	"github.com/nordiccore/ss7core/msu"
	"github.com/nordiccore/ss7core/pointcode"
)

type fakeLink struct {
	up   bool
	sent [][]byte
}

func (f *fakeLink) Send(payload []byte) error {
	f.sent = append(f.sent, payload)
	return nil
}
func (f *fakeLink) Operational() bool { return f.up }
func (f *fakeLink) Congestion() int   { return 0 }

type recordingUser struct {
	got []msu.MSU
}

func (r *recordingUser) ReceiveMSU(m msu.MSU) { r.got = append(r.got, m) }

func TestLinksetSelectLinkSkipsInhibitedAndDown(t *testing.T) {
	ls := NewLinkset("ls1")
	down := &fakeLink{up: false}
	ls.AddLink(down)
	up := &fakeLink{up: true}
	ls.AddLink(up)

	link, err := ls.SelectLink(0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if link != up {
		t.Fatal("expected the operational link to be selected")
	}
}

func TestLinksetSelectLinkNoneAvailable(t *testing.T) {
	ls := NewLinkset("ls1")
	ls.AddLink(&fakeLink{up: false})
	if _, err := ls.SelectLink(0, 0); err != ErrNoSelectableLink {
		t.Fatalf("expected ErrNoSelectableLink, got %v", err)
	}
}

func TestLinksetSelectLinkIgnoreMask(t *testing.T) {
	ls := NewLinkset("ls1")
	ls.AddLink(&fakeLink{up: true})
	ls.SetInhibit(0, LocalInhibit)

	if _, err := ls.SelectLink(0, 0); err != ErrNoSelectableLink {
		t.Fatalf("expected inhibited link to be unselectable, got %v", err)
	}
	if _, err := ls.SelectLink(0, LocalInhibit); err != nil {
		t.Fatalf("expected ignore-mask to unmask the link, got %v", err)
	}
}

func dest() pointcode.PC {
	return pointcode.PC{Dialect: pointcode.ITU, Network: 1, Cluster: 2, Member: 3}
}

func TestLayer3SendNoRoute(t *testing.T) {
	l := NewLayer3("mtp3-a", pointcode.ITU)
	l.Initialize(map[string]any{})

	m := msu.MSU{Label: pointcode.Label{Dest: dest()}}
	if err := l.Send(m); err != ErrNoRoute {
		t.Fatalf("expected ErrNoRoute, got %v", err)
	}
}

func TestLayer3SendSelectsLink(t *testing.T) {
	l := NewLayer3("mtp3-a", pointcode.ITU)
	l.Initialize(map[string]any{})

	ls := NewLinkset("ls1")
	fl := &fakeLink{up: true}
	ls.AddLink(fl)
	l.AddLinkset("ls1", ls)

	r := NewRoute(dest())
	r.AddCandidate(ls)
	r.SetState(Allowed)
	l.AddRoute(r)

	m := msu.MSU{
		SIO:   msu.SIO{Service: msu.SIISUP},
		Label: pointcode.Label{Dest: dest(), SLS: 2},
	}
	if err := l.Send(m); err != nil {
		t.Fatal(err)
	}
	if len(fl.sent) != 1 {
		t.Fatalf("expected 1 frame sent, got %d", len(fl.sent))
	}
}

func TestLayer3DispatchBySI(t *testing.T) {
	l := NewLayer3("mtp3-a", pointcode.ITU)
	l.Initialize(map[string]any{})

	u := &recordingUser{}
	l.Attach(msu.SIISUP, u)

	m := msu.MSU{SIO: msu.SIO{Service: msu.SIISUP}, Label: pointcode.Label{Dest: dest()}}
	l.dispatch(m)

	if len(u.got) != 1 {
		t.Fatalf("expected 1 dispatched MSU, got %d", len(u.got))
	}
}

func TestLayer3DispatchUnknownSINoPanic(t *testing.T) {
	l := NewLayer3("mtp3-a", pointcode.ITU)
	l.Initialize(map[string]any{})

	m := msu.MSU{SIO: msu.SIO{Service: msu.SIBICC}, Label: pointcode.Label{Dest: dest()}}
	l.dispatch(m) // no Engine attached; must not panic
}

func TestRouteRerouteBuffer(t *testing.T) {
	r := NewRoute(dest())
	r.BufferForReroute([]byte{1})
	r.BufferForReroute([]byte{2})
	drained := r.DrainReroute()
	if len(drained) != 2 {
		t.Fatalf("expected 2 buffered payloads, got %d", len(drained))
	}
	if len(r.DrainReroute()) != 0 {
		t.Fatal("expected buffer to be empty after drain")
	}
}
