package q921

import (
	"testing"
	"time"
)

func TestTEIMessageMarshalRoundTrip(t *testing.T) {
	m := TEIMessage{Type: TEIAssigned, Ri: 0x1234, TEI: 42}
	got, err := UnmarshalTEIMessage(m.Marshal())
	if err != nil {
		t.Fatal(err)
	}
	if got != m {
		t.Fatalf("got %+v, want %+v", got, m)
	}
}

func TestUnmarshalTEIMessageRejectsWrongDiscriminator(t *testing.T) {
	raw := []byte{0x00, 0x00, 0x00, byte(TEIAssigned), 0x01}
	if _, err := UnmarshalTEIMessage(raw); err == nil {
		t.Fatal("expected error for wrong protocol discriminator")
	}
}

func TestManagerRequestTEIAssignsOnResponse(t *testing.T) {
	tr := &fakeTransport{}
	m := NewManager("iface", tr, nil)
	m.Initialize(nil)
	now := time.Unix(0, 0)

	m.RequestTEI(now)
	if len(tr.frames) != 1 {
		t.Fatalf("expected one Request frame, got %d", len(tr.frames))
	}
	req, err := UnmarshalTEIMessage(tr.last().Payload)
	if err != nil {
		t.Fatal(err)
	}
	if req.Type != TEIRequest {
		t.Fatalf("expected TEIRequest, got %v", req.Type)
	}

	reply := TEIMessage{Type: TEIAssigned, Ri: req.Ri, TEI: 70}
	m.HandleManagement(now, reply.Marshal())

	select {
	case tei := <-m.Assigned():
		if tei != 70 {
			t.Fatalf("expected TEI 70, got %d", tei)
		}
	default:
		t.Fatal("expected assignment signal")
	}

	children := m.Children()
	if len(children) != 1 || children[0] != 70 {
		t.Fatalf("expected child TEI 70 registered, got %v", children)
	}
	if m.Link(70) == nil {
		t.Fatal("expected a child Link for TEI 70")
	}
}

func TestManagerRetriesRequestOnT202Expiry(t *testing.T) {
	tr := &fakeTransport{}
	m := NewManager("iface", tr, nil)
	m.Initialize(nil)
	now := time.Unix(0, 0)

	m.RequestTEI(now)
	if len(tr.frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(tr.frames))
	}

	now = now.Add(3 * time.Second)
	m.Tick(now)

	if len(tr.frames) != 2 {
		t.Fatalf("expected retry after T202 expiry, got %d frames", len(tr.frames))
	}
}

func TestManagerDeniedStopsRetrying(t *testing.T) {
	tr := &fakeTransport{}
	m := NewManager("iface", tr, nil)
	m.Initialize(nil)
	now := time.Unix(0, 0)

	m.RequestTEI(now)
	req, _ := UnmarshalTEIMessage(tr.last().Payload)
	m.HandleManagement(now, TEIMessage{Type: TEIDenied, Ri: req.Ri}.Marshal())

	before := len(tr.frames)
	m.Tick(now.Add(10 * time.Second))
	if len(tr.frames) != before {
		t.Fatalf("expected no further retries after Denied, got %d new frames", len(tr.frames)-before)
	}
}

func TestManagerCheckRequestRespondsForEachAssignedTEI(t *testing.T) {
	tr := &fakeTransport{}
	m := NewManager("iface", tr, nil)
	m.Initialize(nil)
	now := time.Unix(0, 0)
	m.RequestTEI(now)
	req, _ := UnmarshalTEIMessage(tr.last().Payload)
	m.HandleManagement(now, TEIMessage{Type: TEIAssigned, Ri: req.Ri, TEI: 66}.Marshal())

	before := len(tr.frames)
	m.HandleManagement(now, TEIMessage{Type: TEICheckRequest, Ri: 0xABCD}.Marshal())

	if len(tr.frames) != before+1 {
		t.Fatalf("expected one CheckResponse, got %d new frames", len(tr.frames)-before)
	}
	resp, err := UnmarshalTEIMessage(tr.last().Payload)
	if err != nil || resp.Type != TEICheckResponse || resp.TEI != 66 {
		t.Fatalf("got %+v, err %v", resp, err)
	}
}

func TestManagerRemoveClearsChild(t *testing.T) {
	tr := &fakeTransport{}
	m := NewManager("iface", tr, nil)
	m.Initialize(nil)
	now := time.Unix(0, 0)
	m.RequestTEI(now)
	req, _ := UnmarshalTEIMessage(tr.last().Payload)
	m.HandleManagement(now, TEIMessage{Type: TEIAssigned, Ri: req.Ri, TEI: 55}.Marshal())

	m.HandleManagement(now, TEIMessage{Type: TEIRemove, TEI: 55}.Marshal())
	if len(m.Children()) != 0 {
		t.Fatalf("expected child removed, got %v", m.Children())
	}
}

func TestManagerPeriodicCheckSweepOnT201(t *testing.T) {
	tr := &fakeTransport{}
	m := NewManager("iface", tr, nil)
	m.Initialize(nil)
	now := time.Unix(0, 0)
	m.RequestTEI(now)
	req, _ := UnmarshalTEIMessage(tr.last().Payload)
	m.HandleManagement(now, TEIMessage{Type: TEIAssigned, Ri: req.Ri, TEI: 30}.Marshal())

	before := len(tr.frames)
	m.Tick(now.Add(31 * time.Second))

	if len(tr.frames) <= before {
		t.Fatal("expected a Check Request broadcast on T201 expiry")
	}
}
