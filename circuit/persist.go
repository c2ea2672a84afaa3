package circuit

// Persister is the storage hook a host application injects so circuit
// state survives a process restart. The core never implements storage
// itself (spec.md §6, "Stored state: None"); Persister exists purely as the
// seam a caller's CtrlSave control operation writes through.
type Persister interface {
	// SaveCircuit is called with a snapshot of one circuit's persistent
	// fields whenever the owning controller issues CtrlSave.
	SaveCircuit(groupBase uint, code uint, status Status, locks LockFlag) error

	// LoadCircuit returns a previously saved snapshot, ok=false if none
	// exists for the given group/code.
	LoadCircuit(groupBase uint, code uint) (status Status, locks LockFlag, ok bool)
}

// Snapshot captures a Circuit's persistent fields for handing to a
// Persister.
type Snapshot struct {
	Code   uint
	Status Status
	Locks  LockFlag
}

// SaveAll writes every circuit in the group through p, tagging entries with
// groupBase so a multi-group host can disambiguate codes.
func (g *Group) SaveAll(groupBase uint, p Persister) error {
	g.mu.Lock()
	snaps := make([]Snapshot, 0, len(g.circuits))
	for _, c := range g.circuits {
		snaps = append(snaps, Snapshot{Code: c.code, Status: c.Status(), Locks: c.LockFlags()})
	}
	g.mu.Unlock()

	for _, s := range snaps {
		if err := p.SaveCircuit(groupBase, s.Code, s.Status, s.Locks); err != nil {
			return err
		}
	}
	return nil
}

// RestoreAll applies previously persisted lock flags back onto the group's
// circuits; Status is not restored directly (a circuit always starts Idle)
// but lock flags (hardware-fail/maintenance) are, since those represent
// durable operator intent rather than in-flight call state.
func (g *Group) RestoreAll(groupBase uint, p Persister) {
	g.mu.Lock()
	codes := make([]uint, 0, len(g.circuits))
	for code := range g.circuits {
		codes = append(codes, code)
	}
	g.mu.Unlock()

	for _, code := range codes {
		_, locks, ok := p.LoadCircuit(groupBase, code)
		if !ok {
			continue
		}
		if c := g.Circuit(code); c != nil {
			c.SetLockFlags(locks)
		}
	}
}
