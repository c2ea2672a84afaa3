package sccp

import (
	"sync"
	"time"

	"github.com/nordiccore/ss7core/pointcode"
)

// reassemblyKey identifies one in-progress segmented message: the
// originator's calling-party address, the segmentation local reference it
// chose, and the MTP routing label it arrived under, per spec.md §4.7
// ("keyed by (calling-party address, segmentation local reference, MTP
// routing label)").
type reassemblyKey struct {
	calling  Address
	localRef uint32
	label    pointcode.Label
}

type pending struct {
	data     []byte
	deadline time.Time
}

// Reassembler reconstitutes segmented XUDT/LUDT messages, per spec.md §4.7.
// Grounded on mtp3.Route's rerouteBuffer bookkeeping style: a mutex-guarded
// map polled by Tick rather than one timer goroutine per entry.
type Reassembler struct {
	mu      sync.Mutex
	timeout time.Duration
	entries map[reassemblyKey]*pending
}

// NewReassembler returns a Reassembler discarding incomplete reassemblies
// after timeout.
func NewReassembler(timeout time.Duration) *Reassembler {
	return &Reassembler{timeout: timeout, entries: make(map[reassemblyKey]*pending)}
}

// Feed adds one segment of m (which must carry a Segmentation parameter) to
// its reassembly, keyed on label (the routing label the MSU carrying m
// arrived with). It returns the complete message and true once
// RemainingCount reaches zero; otherwise ok is false and the caller should
// not yet act on the data.
func (r *Reassembler) Feed(now time.Time, label pointcode.Label, m Message) (Message, bool) {
	if m.Segment == nil {
		return m, true
	}
	key := reassemblyKey{calling: m.Calling, localRef: m.Segment.LocalRef, label: label}

	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.entries[key]
	if !ok || m.Segment.FirstSegment {
		p = &pending{}
		r.entries[key] = p
	}
	p.data = append(p.data, m.Data...)
	p.deadline = now.Add(r.timeout)

	if m.Segment.RemainingCount == 0 {
		delete(r.entries, key)
		out := m
		out.Data = p.data
		out.Segment = nil
		return out, true
	}
	return Message{}, false
}

// Tick discards reassemblies whose deadline has passed, per spec.md §4.7's
// "per-reassembly timeout".
func (r *Reassembler) Tick(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, p := range r.entries {
		if now.After(p.deadline) {
			delete(r.entries, k)
		}
	}
}

// Pending returns the number of in-progress reassemblies, for tests and
// diagnostics.
func (r *Reassembler) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
