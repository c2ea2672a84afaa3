package sccp

import "testing"

func TestGTTLongestPrefixWins(t *testing.T) {
	g := NewGTT()
	g.AddEntry(1, "1555", Address{HasSSN: true, SSN: 6})
	g.AddEntry(1, "15551234", Address{HasSSN: true, SSN: 9})

	got, err := g.Translate(GlobalTitle{Digits: "15551234999", TranslationType: 1})
	if err != nil {
		t.Fatal(err)
	}
	if got.SSN != 9 {
		t.Fatalf("ssn = %d, want 9 (longest prefix)", got.SSN)
	}
}

func TestGTTNoMatch(t *testing.T) {
	g := NewGTT()
	g.AddEntry(1, "1555", Address{HasSSN: true, SSN: 6})

	_, err := g.Translate(GlobalTitle{Digits: "2000", TranslationType: 1})
	if !IsNoTranslation(err) {
		t.Fatalf("expected no-translation error, got %v", err)
	}
}

func TestGTTTranslationTypeIsolation(t *testing.T) {
	g := NewGTT()
	g.AddEntry(1, "555", Address{HasSSN: true, SSN: 6})

	_, err := g.Translate(GlobalTitle{Digits: "5551234", TranslationType: 2})
	if !IsNoTranslation(err) {
		t.Fatal("expected translation type mismatch to miss")
	}
}

func TestRouteOrTranslatePrefersExistingPC(t *testing.T) {
	called := testAddress(8)
	got, _, err := RouteOrTranslate(NewGTT(), called)
	if err != nil {
		t.Fatal(err)
	}
	if got.SSN != 8 {
		t.Fatalf("expected unchanged address, got %+v", got)
	}
}

func TestRouteOrTranslateFallsBackToGTT(t *testing.T) {
	g := NewGTT()
	g.AddEntry(1, "1555", testAddress(8))
	called := Address{HasGT: true, GT: GlobalTitle{Digits: "15551234", TranslationType: 1}}

	got, _, err := RouteOrTranslate(g, called)
	if err != nil {
		t.Fatal(err)
	}
	if got.SSN != 8 {
		t.Fatalf("got %+v", got)
	}
}

func TestRouteOrTranslateNoGTNoPCFails(t *testing.T) {
	_, cause, err := RouteOrTranslate(NewGTT(), Address{})
	if err == nil {
		t.Fatal("expected error for an address with neither PC nor GT")
	}
	if cause != NoTranslationForThisAddress {
		t.Fatalf("cause = %d, want %d", cause, NoTranslationForThisAddress)
	}
}

func TestServiceRejectSwapsAddressesAndTypes(t *testing.T) {
	in := Message{Type: XUDT, Called: testAddress(8), Calling: testAddress(6), Data: []byte("x")}
	out := ServiceReject(in, NoTranslationForThisAddress)
	if out.Type != XUDTS {
		t.Fatalf("type = %v, want XUDTS", out.Type)
	}
	if out.Called.SSN != 6 || out.Calling.SSN != 8 {
		t.Fatalf("addresses not swapped: %+v", out)
	}
	if out.ReturnCause != NoTranslationForThisAddress {
		t.Fatalf("cause = %d", out.ReturnCause)
	}
}

func TestDecrementHopReachesZero(t *testing.T) {
	m := Message{Type: XUDT, HopCounter: 1}
	if decrementHop(&m) {
		t.Fatal("should not violate yet")
	}
	if m.HopCounter != 0 {
		t.Fatalf("hop counter = %d, want 0", m.HopCounter)
	}
	if !decrementHop(&m) {
		t.Fatal("expected hop counter violation")
	}
}
