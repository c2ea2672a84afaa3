package tcap

import "testing"

func TestPackageTagRoundTripITU(t *testing.T) {
	for p := Unidirectional; p <= Abort; p++ {
		tag := packageTag(ITU, p)
		got, ok := packageFromTag(ITU, tag)
		if !ok || got != p {
			t.Fatalf("ITU %v: got %v ok=%v", p, got, ok)
		}
	}
}

func TestPackageTagRoundTripANSI(t *testing.T) {
	for p := Unidirectional; p <= Abort; p++ {
		tag := packageTag(ANSI, p)
		got, ok := packageFromTag(ANSI, tag)
		if !ok || got != p {
			t.Fatalf("ANSI %v: got %v ok=%v", p, got, ok)
		}
	}
}

func TestWireCodeDiffersByDialect(t *testing.T) {
	p := Problem{Category: TransactionProblem, Code: 1}
	if wireCode(ITU, p) == wireCode(ANSI, p) {
		t.Fatal("expected ITU and ANSI wire codes to differ")
	}
}

func TestIDPoolDoesNotReuseInFlightID(t *testing.T) {
	p := newIDPool()
	a := p.alloc()
	b := p.alloc()
	if a == b {
		t.Fatal("expected distinct allocations")
	}
	p.release(a)
	c := p.alloc()
	if c == b {
		t.Fatal("new allocation collided with still-in-use id")
	}
}

func TestDialogueMarshalITUvsANSITags(t *testing.T) {
	dl := Dialogue{ApplicationContext: []byte{1, 2, 3}}
	itu := dl.Marshal(ITU)
	ansi := dl.Marshal(ANSI)
	if itu[0] != 0x6B || ansi[0] != 0xEF {
		t.Fatalf("got itu tag=0x%02x ansi tag=0x%02x", itu[0], ansi[0])
	}
}
