package q921

import "testing"

func TestIFrameRoundTrip(t *testing.T) {
	f := Frame{
		Address:   Address{SAPI: 0, CR: true, TEI: 5},
		Kind:      IFrame,
		NS:        12,
		NR:        7,
		PollFinal: true,
		Payload:   []byte{0xDE, 0xAD},
	}
	raw := f.Marshal()
	got, err := Unmarshal(raw)
	if err != nil {
		t.Fatal(err)
	}
	if got.Kind != IFrame || got.NS != 12 || got.NR != 7 || !got.PollFinal {
		t.Fatalf("got %+v", got)
	}
	if string(got.Payload) != string(f.Payload) {
		t.Fatalf("payload mismatch: %v", got.Payload)
	}
	if got.Address.SAPI != 0 || got.Address.TEI != 5 || !got.Address.CR {
		t.Fatalf("address mismatch: %+v", got.Address)
	}
}

func TestSFrameRoundTripEachType(t *testing.T) {
	for _, st := range []SFrameType{RR, RNR, REJ} {
		f := Frame{Address: Address{SAPI: 0, TEI: 1}, Kind: SFrame, SType: st, NR: 3, PollFinal: true}
		got, err := Unmarshal(f.Marshal())
		if err != nil {
			t.Fatal(err)
		}
		if got.Kind != SFrame || got.SType != st || got.NR != 3 {
			t.Fatalf("st %v: got %+v", st, got)
		}
	}
}

func TestUFrameRoundTripEachType(t *testing.T) {
	for _, ut := range []UFrameType{SABME, DM, UI, DISC, UA, FRMR, XID} {
		f := Frame{Address: Address{SAPI: 0, TEI: 2}, Kind: UFrame, UType: ut, PollFinal: true}
		got, err := Unmarshal(f.Marshal())
		if err != nil {
			t.Fatal(err)
		}
		if got.Kind != UFrame || got.UType != ut {
			t.Fatalf("ut %v: got %+v", ut, got)
		}
	}
}

func TestUnmarshalUnrecognizedUFrameControlFails(t *testing.T) {
	raw := []byte{0x00, 0x01, 0xFF}
	if _, err := Unmarshal(raw); err == nil {
		t.Fatal("expected error for unrecognized U-frame control octet")
	}
}

func TestUnmarshalShortFrameFails(t *testing.T) {
	if _, err := Unmarshal([]byte{0x00}); err != ErrShortFrame {
		t.Fatalf("expected ErrShortFrame, got %v", err)
	}
}

func TestBroadcastTEIAddressRoundTrip(t *testing.T) {
	f := Frame{Address: Address{SAPI: 63, CR: true, TEI: BroadcastTEI}, Kind: UFrame, UType: UI, Payload: []byte{1}}
	got, err := Unmarshal(f.Marshal())
	if err != nil {
		t.Fatal(err)
	}
	if got.Address.TEI != BroadcastTEI || got.Address.SAPI != 63 {
		t.Fatalf("got %+v", got.Address)
	}
}
