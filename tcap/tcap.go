// Package tcap implements the Transaction Capabilities Application Part
// transaction and component layer, ITU (Q.773) and ANSI (T1.114) dialects,
// per spec.md §4.8. Grounded on isup.Message's pointer/length-prefixed TLV
// codec style (this module has no ASN.1 BER library in its dependency
// pack, so the wire codec below is a purpose-built tag/length/value scheme
// in the same spirit rather than a hand-rolled BER decoder; see DESIGN.md)
// and on mtp3.Router's timer-driven state-table pattern for the
// transaction set.
package tcap

import (
	"fmt"
	"sync"

	ss7core "github.com/nordiccore/ss7core"
	"github.com/nordiccore/ss7core/sccp"
	"github.com/rs/xid"
)

// Dialect selects ITU (Q.773) or ANSI (T1.114) tag and error-code tables.
type Dialect int

const (
	ITU Dialect = iota
	ANSI
)

func (d Dialect) String() string {
	if d == ANSI {
		return "ANSI"
	}
	return "ITU"
}

// PackageType is the outer TCAP message type, Q.773 §2 / T1.114.3 (the two
// dialects name these identically; only the wire tag values differ).
type PackageType uint8

const (
	Unidirectional PackageType = iota
	Begin
	Continue
	End
	Abort
)

func (p PackageType) String() string {
	switch p {
	case Unidirectional:
		return "Unidirectional"
	case Begin:
		return "Begin"
	case Continue:
		return "Continue"
	case End:
		return "End"
	case Abort:
		return "Abort"
	default:
		return fmt.Sprintf("package(%d)", uint8(p))
	}
}

// packageTag returns the dialect-specific wire tag for p.
func packageTag(d Dialect, p PackageType) byte {
	ituTags := [...]byte{0x61, 0x62, 0x65, 0x64, 0x67}
	ansiTags := [...]byte{0xE9, 0xEB, 0xEC, 0xED, 0xEA}
	if d == ANSI {
		return ansiTags[p]
	}
	return ituTags[p]
}

func packageFromTag(d Dialect, tag byte) (PackageType, bool) {
	for p := Unidirectional; p <= Abort; p++ {
		if packageTag(d, p) == tag {
			return p, true
		}
	}
	return 0, false
}

// TransactionState is the per-transaction lifecycle state, spec.md §4.8.
type TransactionState int

const (
	Idle TransactionState = iota
	PackageSent
	PackageReceived
	Active
)

func (s TransactionState) String() string {
	switch s {
	case PackageSent:
		return "PackageSent"
	case PackageReceived:
		return "PackageReceived"
	case Active:
		return "Active"
	default:
		return "Idle"
	}
}

// EndFlag distinguishes TC-END's two release modes, Q.773 §2.4.2.
type EndFlag int

const (
	BasicEnd       EndFlag = iota // dialogue portion optional, transaction released on send
	PrearrangedEnd                // no dialogue portion; both ends release locally without a wire message
)

// OperationClass is the invoke's result/error reporting contract, Q.771
// §3.1.3.
type OperationClass int

const (
	SuccessOrFailureReport OperationClass = iota + 1
	FailureOnly
	SuccessOnly
	NoReport
)

// ProblemCategory groups the TC-U-ABORT/Reject problem taxonomy, Q.773
// §3.1.6.
type ProblemCategory int

const (
	TransactionProblem ProblemCategory = iota
	DialogProblem
	GeneralProblem
	InvokeProblem
	ReturnResultProblem
	ReturnErrorProblem
)

// Problem is one concrete reject/abort cause within a ProblemCategory.
type Problem struct {
	Category ProblemCategory
	Code     int
}

// wireCode maps p to its dialect-specific wire value. ANSI and ITU assign
// different numeric spaces to the same semantic problems (T1.114.4 vs
// Q.773 annex A); both tables are partial, covering the problems this
// module raises.
func wireCode(d Dialect, p Problem) byte {
	ituTable := map[ProblemCategory]map[int]byte{
		TransactionProblem: {0: 0x00, 1: 0x01, 2: 0x02},
		GeneralProblem:     {0: 0x00, 1: 0x01},
		InvokeProblem:      {0: 0x00, 1: 0x01, 2: 0x02},
	}
	ansiTable := map[ProblemCategory]map[int]byte{
		TransactionProblem: {0: 0x80, 1: 0x81, 2: 0x82},
		GeneralProblem:     {0: 0x80, 1: 0x81},
		InvokeProblem:      {0: 0x80, 1: 0x81, 2: 0x82},
	}
	table := ituTable
	if d == ANSI {
		table = ansiTable
	}
	if codes, ok := table[p.Category]; ok {
		if v, ok := codes[p.Code]; ok {
			return v
		}
	}
	return 0xFF
}

// ComponentType is a TCAP component's primitive kind, Q.773 §3.1.
type ComponentType uint8

const (
	Invoke ComponentType = iota
	InvokeNotLast                // ANSI only: invoke followed by more components in the same package
	ReturnResultLast
	ReturnResultNotLast
	ReturnError
	RejectComponent
)

// Component is one decoded TCAP component, carried within a Dialogue's
// component portion.
type Component struct {
	Type        ComponentType
	InvokeID    int
	LinkedID    int // ReturnResult/ReturnError/Reject back-reference to the Invoke
	OperationID int
	Class       OperationClass
	Parameters  []byte
	Problem     Problem // valid when Type == RejectComponent
}

// componentTag returns the dialect-specific wire tag for t.
func componentTag(d Dialect, t ComponentType) byte {
	ituTags := [...]byte{0xA1, 0xA1, 0xA2, 0xA2, 0xA3, 0xA4}
	ansiTags := [...]byte{0xE9 ^ 0x48, 0xE9 ^ 0x49, 0xEA ^ 0x48, 0xEA ^ 0x49, 0xEB ^ 0x48, 0xEC ^ 0x48}
	if d == ANSI {
		return ansiTags[t]
	}
	return ituTags[t]
}

// Reject is the RejectComponent's problem level, Q.773 annex A (R =
// rejecting entity, U = unrecognized by the user, L = local).
type RejectLevel int

const (
	RejectU RejectLevel = iota
	RejectR
	RejectL
)

// Dialogue carries the per-package dialogue portion, which this module
// represents uniformly across dialects even though the two tag sets
// differ on the wire (Q.773 §3.1.4 / T1.114.4 §3.4): an application
// context name plus opaque user information, enough for the transaction
// layer to route without interpreting the application-layer payload.
type Dialogue struct {
	ApplicationContext []byte
	UserInformation    []byte
}

// Marshal returns the dialogue portion's TLV encoding, a single
// constructed field tagged per dialect preceding the component portion.
func (dl Dialogue) Marshal(d Dialect) []byte {
	tag := byte(0x6B)
	if d == ANSI {
		tag = 0xEF
	}
	body := make([]byte, 0, len(dl.ApplicationContext)+len(dl.UserInformation)+4)
	body = append(body, 0x06, byte(len(dl.ApplicationContext)))
	body = append(body, dl.ApplicationContext...)
	if len(dl.UserInformation) > 0 {
		body = append(body, 0x28, byte(len(dl.UserInformation)))
		body = append(body, dl.UserInformation...)
	}
	return append([]byte{tag, byte(len(body))}, body...)
}

// idPool allocates 4-byte local transaction IDs from a ring seeded by
// xid.New() at process start, so restarts do not immediately reuse IDs a
// peer may still have a stale entry for.
type idPool struct {
	mu   sync.Mutex
	next uint32
	used map[uint32]bool
}

func newIDPool() *idPool {
	seed := xid.New()
	b := seed.Bytes()
	start := uint32(b[8])<<24 | uint32(b[9])<<16 | uint32(b[10])<<8 | uint32(b[11])
	return &idPool{next: start, used: make(map[uint32]bool)}
}

func (p *idPool) alloc() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	for {
		id := p.next
		p.next++
		if !p.used[id] {
			p.used[id] = true
			return id
		}
	}
}

func (p *idPool) release(id uint32) {
	p.mu.Lock()
	delete(p.used, id)
	p.mu.Unlock()
}

// Transaction is one TCAP dialogue instance, spec.md §4.8.
type Transaction struct {
	LocalID  uint32
	RemoteID uint32
	State    TransactionState
	Prearranged bool

	// Dest is the SCCP address packages for this transaction are sent to;
	// for a locally-initiated dialogue it is set once at Begin, for one
	// created from an inbound Begin it is the remote peer's calling address.
	Dest sccp.Address

	inactivity *ss7core.Timer

	components []Component
	dialogue   Dialogue
}

// QueueComponent appends a component to be sent with the transaction's next
// package.
func (t *Transaction) QueueComponent(c Component) {
	t.components = append(t.components, c)
}

// counters groups the incoming/outgoing/discarded/normal/abnormal tallies,
// spec.md §4.8; only incoming and outgoing are also mirrored to
// telemetry.Metrics.TCAPCounters.
type counters struct {
	incoming, outgoing, discarded, normal, abnormal int
}
