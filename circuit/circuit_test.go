package circuit

import "testing"

func TestReserveIdempotentFromReserved(t *testing.T) {
	c := NewCircuit(1, TDM)
	ok, err := c.Reserve(0)
	if !ok || err != nil {
		t.Fatalf("first reserve: ok=%v err=%v", ok, err)
	}
	ok, err = c.Reserve(0)
	if ok || err != nil {
		t.Fatalf("second reserve should be idempotent false/nil, got ok=%v err=%v", ok, err)
	}
}

func TestReserveRespectsLock(t *testing.T) {
	c := NewCircuit(1, TDM)
	c.SetLockFlags(LocalMaint)
	if ok, err := c.Reserve(LocalMaint); ok || err != ErrLocked {
		t.Fatalf("expected ErrLocked, got ok=%v err=%v", ok, err)
	}
	// a caller not checking that particular bit may still reserve.
	if ok, err := c.Reserve(RemoteHWFail); !ok || err != nil {
		t.Fatalf("expected successful reserve ignoring unrelated lock bit, got ok=%v err=%v", ok, err)
	}
}

func TestLifecycleTransitions(t *testing.T) {
	c := NewCircuit(1, TDM)
	if _, err := c.Reserve(0); err != nil {
		t.Fatal(err)
	}
	if err := c.Connect("g711a"); err != nil {
		t.Fatal(err)
	}
	if c.Status() != Connected {
		t.Fatalf("status = %s, want connected", c.Status())
	}
	if err := c.Disconnect(); err != nil {
		t.Fatal(err)
	}
	if c.Status() != Reserved {
		t.Fatalf("status = %s, want reserved", c.Status())
	}
	c.Release()
	if c.Status() != Idle {
		t.Fatalf("status = %s, want idle", c.Status())
	}
}

func TestDisableReEnable(t *testing.T) {
	c := NewCircuit(1, TDM)
	c.Disable()
	if c.Status() != Disabled {
		t.Fatal("expected disabled")
	}
	c.Enable()
	if c.Status() != Reserved {
		t.Fatalf("status = %s, want reserved after re-enable", c.Status())
	}
}

func buildGroup(t *testing.T, n uint) (*Group, *Range) {
	t.Helper()
	g := NewGroup(1)
	var codes []uint
	for i := uint(1); i <= n; i++ {
		c := NewCircuit(i, TDM)
		if err := g.Add(c); err != nil {
			t.Fatal(err)
		}
		codes = append(codes, i)
	}
	r := NewRange("default", Lowest, AnyParity, false)
	g.AddRange(r, codes)
	return g, r
}

func TestGroupReserveLowest(t *testing.T) {
	g, _ := buildGroup(t, 4)
	c, err := g.Reserve("default", 0)
	if err != nil {
		t.Fatal(err)
	}
	if c.Code() != 1 {
		t.Fatalf("code = %d, want 1", c.Code())
	}
}

func TestGroupReserveExhaustion(t *testing.T) {
	g, _ := buildGroup(t, 1)
	if _, err := g.Reserve("default", 0); err != nil {
		t.Fatal(err)
	}
	if _, err := g.Reserve("default", 0); err != ErrNoCircuitAvailable {
		t.Fatalf("expected ErrNoCircuitAvailable, got %v", err)
	}
}

func TestGroupParityFallback(t *testing.T) {
	g := NewGroup(1)
	c1 := NewCircuit(1, TDM) // odd
	c2 := NewCircuit(2, TDM) // even
	g.Add(c1)
	g.Add(c2)
	r := NewRange("fb", Lowest, Even, true)
	g.AddRange(r, []uint{1, 2})

	// reserve the only even circuit first, forcing fallback to odd.
	if _, err := g.Reserve("fb", 0); err != nil {
		t.Fatal(err)
	}
	c, err := g.Reserve("fb", 0)
	if err != nil {
		t.Fatal(err)
	}
	if c.Code() != 1 {
		t.Fatalf("expected fallback to odd circuit 1, got %d", c.Code())
	}
}

func TestGroupIncrementCyclesFromLastUsed(t *testing.T) {
	g, _ := buildGroup(t, 3)
	first, err := g.Reserve("default", 0)
	if err != nil {
		t.Fatal(err)
	}
	first.Release()

	r := g.Range("default")
	r.Strategy = Increment

	got, err := g.Reserve("default", 0)
	if err != nil {
		t.Fatal(err)
	}
	if got.Code() != 2 {
		t.Fatalf("code = %d, want 2 (the code after last-used 1)", got.Code())
	}
}
