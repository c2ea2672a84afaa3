// Package circuit models bearer channels (spec.md §3, §4.3): circuits,
// circuit groups, ranges with allocation strategies, and spans. Grounded on
// pascaldekloe-part5/session/session.go's channel-queue-plus-mutex shape for
// per-unit event delivery, generalized from IEC's single In channel to a
// per-circuit event queue (an unbounded slice).
package circuit

import (
	"fmt"
	"sync"
)

// Type is the bearer technology a Circuit carries.
type Type int

const (
	Local Type = iota
	TDM
	RTP
	IAX
)

// Status is a Circuit's state, per spec.md §3/§4.3.
type Status int

const (
	Missing Status = iota
	Disabled
	Idle
	Reserved
	Starting
	Stopping
	Special
	Connected
)

func (s Status) String() string {
	switch s {
	case Missing:
		return "missing"
	case Disabled:
		return "disabled"
	case Idle:
		return "idle"
	case Reserved:
		return "reserved"
	case Starting:
		return "starting"
	case Stopping:
		return "stopping"
	case Special:
		return "special"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// LockFlag bits, per spec.md §4.3: local vs remote, hardware-fail vs
// maintenance, plus locking-in-progress and changed bits used by management
// protocols.
type LockFlag uint32

const (
	LocalHWFail LockFlag = 1 << iota
	LocalMaint
	RemoteHWFail
	RemoteMaint
	LockingInProgress
	Changed
)

// Event is a circuit-produced signal (DTMF, tone, hook state, alarm/clear),
// queued by the circuit and drained by its controller.
type Event struct {
	Kind string // e.g. "dtmf", "tone", "hook", "alarm", "clear"
	Data string
}

// Circuit is a bearer channel identified by an unsigned code, owned by a
// Group, belonging to a Span.
type Circuit struct {
	mu sync.Mutex

	code   uint
	typ    Type
	status Status
	locks  LockFlag
	format string // negotiated payload format, set on Connect

	group *Group // owning group
	span  *Span  // weak

	events []Event

	userData any // opaque payload held while Connected
}

// NewCircuit returns an Idle circuit with the given code and type.
func NewCircuit(code uint, typ Type) *Circuit {
	return &Circuit{code: code, typ: typ, status: Idle}
}

func (c *Circuit) Code() uint { return c.code }
func (c *Circuit) Type() Type { return c.typ }

func (c *Circuit) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Circuit) LockFlags() LockFlag {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.locks
}

// SetLockFlags replaces the lock-flag set, marking Changed.
func (c *Circuit) SetLockFlags(f LockFlag) {
	c.mu.Lock()
	c.locks = f | Changed
	c.mu.Unlock()
}

// ErrAlreadyReserved signals a reservation attempt on a non-Idle circuit.
var ErrAlreadyReserved = fmt.Errorf("circuit: not idle")

// ErrLocked signals a reservation attempt against a locked circuit.
var ErrLocked = fmt.Errorf("circuit: locked")

// Reserve transitions Idle → Reserved atomically. It is idempotent from
// Reserved per spec.md §8 (returns false, nil error, since it is not an
// error condition — callers should check the returned bool). checkLock is
// the caller's check-lock mask: reservation fails if it intersects the
// circuit's lock flags.
func (c *Circuit) Reserve(checkLock LockFlag) (reserved bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status == Reserved {
		return false, nil
	}
	if c.status != Idle {
		return false, ErrAlreadyReserved
	}
	if c.locks&checkLock != 0 {
		return false, ErrLocked
	}
	c.status = Reserved
	return true, nil
}

// ErrNotReserved signals Connect called on a non-Reserved circuit.
var ErrNotReserved = fmt.Errorf("circuit: not reserved")

// Connect transitions Reserved → Connected, optionally updating the
// negotiated format.
func (c *Circuit) Connect(format string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != Reserved {
		return ErrNotReserved
	}
	c.status = Connected
	if format != "" {
		c.format = format
	}
	return nil
}

// ErrNotConnected signals Disconnect called on a non-Connected circuit.
var ErrNotConnected = fmt.Errorf("circuit: not connected")

// Disconnect transitions Connected → Reserved.
func (c *Circuit) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != Connected {
		return ErrNotConnected
	}
	c.status = Reserved
	c.userData = nil
	return nil
}

// Release transitions Reserved → Idle, for use once a call tears down.
func (c *Circuit) Release() {
	c.mu.Lock()
	if c.status == Reserved {
		c.status = Idle
	}
	c.mu.Unlock()
}

// Disable transitions any state → Disabled.
func (c *Circuit) Disable() {
	c.mu.Lock()
	c.status = Disabled
	c.mu.Unlock()
}

// Enable transitions Disabled → Reserved (per spec.md §4.3, "Disabled →
// Reserved on re-enable").
func (c *Circuit) Enable() {
	c.mu.Lock()
	if c.status == Disabled {
		c.status = Reserved
	}
	c.mu.Unlock()
}

// SetUserData attaches opaque call/session state while Connected.
func (c *Circuit) SetUserData(v any) {
	c.mu.Lock()
	c.userData = v
	c.mu.Unlock()
}

// UserData returns the opaque call/session state.
func (c *Circuit) UserData() any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userData
}

// PushEvent enqueues a circuit event for the controller to drain.
func (c *Circuit) PushEvent(e Event) {
	c.mu.Lock()
	c.events = append(c.events, e)
	c.mu.Unlock()
}

// DrainEvents returns and clears all queued events.
func (c *Circuit) DrainEvents() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	ev := c.events
	c.events = nil
	return ev
}
