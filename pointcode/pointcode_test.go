package pointcode

import "testing"

func TestPackUnpackRoundTrip(t *testing.T) {
	cases := []PC{
		{Dialect: ITU, Network: 3, Cluster: 200, Member: 5},
		{Dialect: ANSI, Network: 1, Cluster: 2, Member: 3},
		{Dialect: ANSI8, Member: 42},
		{Dialect: China, Network: 7, Cluster: 8, Member: 9},
		{Dialect: Japan, Network: 100, Cluster: 10, Member: 20},
		{Dialect: Japan5, Network: 50, Cluster: 60, Member: 10},
	}
	for _, pc := range cases {
		buf, err := Pack(pc)
		if err != nil {
			t.Fatalf("pack %s: %v", pc.Dialect, err)
		}
		got, err := Unpack(pc.Dialect, buf)
		if err != nil {
			t.Fatalf("unpack %s: %v", pc.Dialect, err)
		}
		if got != pc {
			t.Errorf("%s: round trip mismatch: got %+v, want %+v", pc.Dialect, got, pc)
		}
	}
}

func TestLabelRoundTrip(t *testing.T) {
	l := Label{
		Dest:  PC{Dialect: ITU, Network: 1, Cluster: 2, Member: 3},
		Orig:  PC{Dialect: ITU, Network: 4, Cluster: 5, Member: 6},
		SLS:   7,
		Spare: 1,
	}
	buf, err := PackLabel(l)
	if err != nil {
		t.Fatal(err)
	}
	got, err := UnpackLabel(ITU, buf)
	if err != nil {
		t.Fatal(err)
	}
	if got.Dest != l.Dest || got.Orig != l.Orig || got.SLS != l.SLS || got.Spare != l.Spare {
		t.Fatalf("label round trip mismatch: got %+v, want %+v", got, l)
	}
}

func TestUnknownDialect(t *testing.T) {
	if _, err := Pack(PC{Dialect: Dialect(99)}); err != ErrUnknownDialect {
		t.Fatalf("expected ErrUnknownDialect, got %v", err)
	}
}
