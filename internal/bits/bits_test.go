package bits

import "testing"

func TestPackUnpackRoundTrip(t *testing.T) {
	cases := []struct {
		bitOffset, width int
		value            uint32
	}{
		{0, 3, 5},
		{3, 8, 200},
		{11, 3, 7},
		{0, 14, 0x3FFF},
		{0, 24, 0xABCDEF},
	}
	for _, c := range cases {
		buf := make([]byte, BytesForBits(c.bitOffset+c.width))
		PackLE(buf, c.bitOffset, c.width, c.value)
		got := UnpackLE(buf, c.bitOffset, c.width)
		if got != c.value {
			t.Errorf("offset=%d width=%d: got %#x, want %#x", c.bitOffset, c.width, got, c.value)
		}
	}
}

func TestITUPointCodeLayout(t *testing.T) {
	// ITU PC: member(3) | cluster(8) | zone(3), packed LSB-first across 14 bits.
	buf := make([]byte, 2)
	PackLE(buf, 0, 3, 5)  // member
	PackLE(buf, 3, 8, 42) // cluster
	PackLE(buf, 11, 3, 2) // zone

	if UnpackLE(buf, 0, 3) != 5 {
		t.Fatal("member mismatch")
	}
	if UnpackLE(buf, 3, 8) != 42 {
		t.Fatal("cluster mismatch")
	}
	if UnpackLE(buf, 11, 3) != 2 {
		t.Fatal("zone mismatch")
	}
}
