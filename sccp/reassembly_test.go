package sccp

import (
	"testing"
	"time"

	"github.com/nordiccore/ss7core/pointcode"
)

func testLabel() pointcode.Label {
	return pointcode.Label{Dest: pointcode.PC{Dialect: pointcode.ITU, Network: 1, Cluster: 2, Member: 3}}
}

func TestReassemblerCompletesOnZeroRemaining(t *testing.T) {
	r := NewReassembler(time.Second)
	now := time.Unix(0, 0)
	calling := testAddress(6)

	_, ok := r.Feed(now, testLabel(), Message{
		Calling: calling, Data: []byte("abc"),
		Segment: &Segmentation{FirstSegment: true, RemainingCount: 1, LocalRef: 7},
	})
	if ok {
		t.Fatal("should not complete after first of two segments")
	}
	if r.Pending() != 1 {
		t.Fatalf("pending = %d, want 1", r.Pending())
	}

	got, ok := r.Feed(now, testLabel(), Message{
		Calling: calling, Data: []byte("def"),
		Segment: &Segmentation{RemainingCount: 0, LocalRef: 7},
	})
	if !ok {
		t.Fatal("expected completion on remaining count 0")
	}
	if string(got.Data) != "abcdef" {
		t.Fatalf("reassembled data = %q, want abcdef", got.Data)
	}
	if r.Pending() != 0 {
		t.Fatalf("pending = %d, want 0 after completion", r.Pending())
	}
}

func TestReassemblerUnsegmentedPassesThroughImmediately(t *testing.T) {
	r := NewReassembler(time.Second)
	got, ok := r.Feed(time.Unix(0, 0), testLabel(), Message{Data: []byte("x")})
	if !ok || string(got.Data) != "x" {
		t.Fatalf("got %+v ok=%v", got, ok)
	}
}

func TestReassemblerTimeoutDiscardsStaleEntry(t *testing.T) {
	r := NewReassembler(10 * time.Second)
	start := time.Unix(0, 0)
	calling := testAddress(6)

	r.Feed(start, testLabel(), Message{
		Calling: calling, Data: []byte("abc"),
		Segment: &Segmentation{FirstSegment: true, RemainingCount: 1, LocalRef: 7},
	})
	if r.Pending() != 1 {
		t.Fatal("expected one pending reassembly")
	}

	r.Tick(start.Add(20 * time.Second))
	if r.Pending() != 0 {
		t.Fatalf("pending = %d, want 0 after timeout", r.Pending())
	}
}

func TestReassemblerDistinctKeysDoNotCollide(t *testing.T) {
	r := NewReassembler(time.Second)
	now := time.Unix(0, 0)

	r.Feed(now, testLabel(), Message{
		Calling: testAddress(6), Data: []byte("a"),
		Segment: &Segmentation{FirstSegment: true, RemainingCount: 1, LocalRef: 1},
	})
	r.Feed(now, testLabel(), Message{
		Calling: testAddress(9), Data: []byte("b"),
		Segment: &Segmentation{FirstSegment: true, RemainingCount: 1, LocalRef: 1},
	})
	if r.Pending() != 2 {
		t.Fatalf("pending = %d, want 2 for distinct calling addresses", r.Pending())
	}
}
