package isup

import (
	"fmt"
	"sync"
	"time"

	ss7core "github.com/nordiccore/ss7core"
	"github.com/nordiccore/ss7core/circuit"
)

// State is a Call's position in the Q.763 call state machine, per
// spec.md §4.6 (outgoing perspective; incoming is the mirror).
type State int

const (
	Null State = iota
	Testing
	Setup
	Accepted
	Ringing
	Answered
	Releasing
	Released
)

func (s State) String() string {
	switch s {
	case Null:
		return "null"
	case Testing:
		return "testing"
	case Setup:
		return "setup"
	case Accepted:
		return "accepted"
	case Ringing:
		return "ringing"
	case Answered:
		return "answered"
	case Releasing:
		return "releasing"
	case Released:
		return "released"
	default:
		return "unknown"
	}
}

// Cause is a Q.850/Q.763 release cause value.
type Cause uint8

const (
	CauseNormalClearing Cause = 16
	CauseInvalidIE      Cause = 96
	CauseUnequippedCIC  Cause = 87
)

// outbound queues a message this Call wants transmitted; the Controller
// drains it and marshals onto MTP3.
type outbound struct {
	msg Message
}

// Call is one ISUP circuit's call-control state machine.
type Call struct {
	mu sync.Mutex

	CIC     uint16
	Circuit *circuit.Circuit
	state   State

	calledDigits  string
	callingDigits string
	maxCalledLen  int

	replaceCount *ss7core.Counter

	originated bool // true once Call() has queued an outgoing IAM on this CIC
	localWins  bool // this side's point code sorts lower than the peer's, for glare resolution
	glareRetry bool // set after glare on either side while the replace-counter allows a retry on a new CIC

	t1  *ss7core.Timer // release guard
	t5  *ss7core.Timer // RLC timeout in Releasing
	t7  *ss7core.Timer // address-complete timeout
	t9  *ss7core.Timer // answer-to-release cutoff
	t34 *ss7core.Timer // SGM-receive timeout

	segmentHead *Message
	out         []outbound
}

// SetLocalWins records whether this side's point code sorts lower than the
// peer's, for glare resolution (spec.md §4.6 "Glare").
func (c *Call) SetLocalWins(wins bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.localWins = wins
}

// GlareRetry reports and clears a pending glare-driven reselection: the
// Controller should release this Call's map entry (it is already Releasing
// or Released) and start a fresh outgoing attempt with the returned digits
// and replace-counter, per spec.md §4.6 "Circuit replacement".
func (c *Call) GlareRetry() (calledDigits, callingDigits string, counter *ss7core.Counter, retry bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	retry = c.glareRetry
	c.glareRetry = false
	return c.calledDigits, c.callingDigits, c.replaceCount, retry
}

// NewCall returns a Null-state Call bound to cic/circuit.
func NewCall(cic uint16, c *circuit.Circuit) *Call {
	return &Call{
		CIC:          cic,
		Circuit:      c,
		state:        Null,
		maxCalledLen: 20,
		replaceCount: ss7core.NewCounter(3),
		t1:           ss7core.NewTimer(10 * time.Second),
		t5:           ss7core.NewTimer(5 * time.Second),
		t7:           ss7core.NewTimer(20 * time.Second),
		t9:           ss7core.NewTimer(2 * time.Minute),
		t34:          ss7core.NewTimer(3 * time.Second),
	}
}

// State returns the call's current state.
func (c *Call) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Call) queue(m Message) {
	c.out = append(c.out, outbound{msg: m})
}

// DrainOutbound returns and clears queued outbound messages.
func (c *Call) DrainOutbound() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	var msgs []Message
	for _, o := range c.out {
		msgs = append(msgs, o.msg)
	}
	c.out = nil
	return msgs
}

// ErrNotIdle signals Call() on a call already past Null.
var ErrNotIdle = fmt.Errorf("isup: call already in progress")

// Call starts an outgoing call (spec.md §4.6: "Null | user call() | Setup |
// reserve circuit; send IAM; start T7"). The circuit must already be
// Reserved by the caller (typically via a circuit.Group.Reserve).
func (c *Call) Call(now time.Time, calledDigits, callingDigits string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Null {
		return ErrNotIdle
	}

	c.calledDigits = calledDigits
	c.callingDigits = callingDigits

	iam := Message{
		Type:  IAM,
		CIC:   c.CIC,
		Fixed: []byte{0x00}, // nature of connection indicators: national, no satellite
		Variable: [][]byte{
			calledPartyParam(calledDigits),
		},
	}
	if callingDigits != "" {
		iam.Optional = append(iam.Optional, Param{Code: ParamCallingNumber, Value: callingPartyParam(callingDigits)})
	}
	c.queue(iam)
	c.state = Setup
	c.originated = true
	c.t7.Start(now)
	return nil
}

// calledPartyParam packs a Called Party Number per Q.763 §3.9: one
// odd/even-indicator-plus-NoA octet, one numbering-plan octet, then BCD
// digits.
func calledPartyParam(digits string) []byte {
	odd := byte(0)
	if len(digits)%2 == 1 {
		odd = 1
	}
	buf := []byte{odd | (0x03 << 1), 0x01} // NoA=national (3), numbering plan=ISDN (1)
	buf = append(buf, PackDigits(digits)...)
	return buf
}

// callingPartyParam packs a Calling Party Number per Q.763 §3.10.
func callingPartyParam(digits string) []byte {
	odd := byte(0)
	if len(digits)%2 == 1 {
		odd = 1
	}
	buf := []byte{odd | (0x03 << 1), 0x01, 0x00} // NoA, numbering plan, presentation/screening
	buf = append(buf, PackDigits(digits)...)
	return buf
}

// ErrCalledDigitsTooLong is returned by SendSAM when the accumulated called
// digits would exceed the call's maximum.
var ErrCalledDigitsTooLong = fmt.Errorf("isup: called digit count exceeds configured maximum")

// SendSAM appends additional called digits via a Subsequent Address
// Message, per spec.md §4.6 ("Overlapped sending"). The total is bounded by
// the call's maximum called-digit count, fixed at 20 by NewCall; the
// Controller does not configure it.
func (c *Call) SendSAM(digits string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.calledDigits)+len(digits) > c.maxCalledLen {
		return ErrCalledDigitsTooLong
	}
	c.calledDigits += digits
	c.queue(Message{Type: SAM, CIC: c.CIC, Variable: [][]byte{PackDigits(digits)}})
	return nil
}

// Hangup initiates release from any non-Released state (spec.md §4.6: "Any
// non-Released | user hangup | Releasing | send REL; start T1").
func (c *Call) Hangup(now time.Time, cause Cause) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Released {
		return
	}
	c.queue(Message{Type: REL, CIC: c.CIC, Variable: [][]byte{{byte(cause)}}})
	c.state = Releasing
	c.t1.Start(now)
	c.t5.Start(now)
}

// Handle applies an incoming decoded ISUP message to the call state
// machine. missingMandatory reports whether the caller's codec layer
// already detected an absent mandatory IE (spec.md §4.6 failure semantics).
func (c *Call) Handle(now time.Time, m Message, missingMandatory bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if missingMandatory {
		c.queue(Message{Type: REL, CIC: c.CIC, Variable: [][]byte{{byte(CauseInvalidIE)}}})
		c.state = Releasing
		c.t1.Start(now)
		c.t5.Start(now)
		return
	}

	switch m.Type {
	case IAM:
		if !c.originated || c.state == Null || c.state == Released {
			// no local outgoing attempt in flight on this CIC: not glare, a
			// protocol violation against an already-answered/released call.
			c.confused(m)
			return
		}
		// Glare (spec.md §4.6 "Glare", §8 scenario 3): both sides sent IAM
		// on this CIC. Resolved by point-code priority; the loser
		// surrenders silently (the winner's REL clears the CIC for it),
		// the winner sends REL itself. Either way, bounded by the
		// replace-counter, the call retries on a freshly selected CIC.
		if c.localWins {
			c.queue(Message{Type: REL, CIC: c.CIC, Variable: [][]byte{{byte(CauseNormalClearing)}}})
			c.state = Releasing
			c.t1.Start(now)
			c.t5.Start(now)
		} else {
			c.finishLocked()
		}
		if atMax := c.replaceCount.Inc(); !atMax {
			c.glareRetry = true
		}
	case ACM:
		if c.state == Setup {
			c.t7.Stop()
			c.state = Accepted
		} else {
			c.confused(m)
		}
	case CPG:
		if c.state == Accepted && len(m.Fixed) > 0 && m.Fixed[0] == eventRinging {
			c.state = Ringing
		} else if c.state != Accepted && c.state != Ringing {
			c.confused(m)
		}
	case ANM:
		if c.state == Accepted || c.state == Ringing {
			if c.Circuit != nil {
				_ = c.Circuit.Connect("")
			}
			c.state = Answered
			c.t9.Start(now)
		} else {
			c.confused(m)
		}
	case REL:
		c.t9.Stop()
		c.t7.Stop()
		c.queue(Message{Type: RLC, CIC: c.CIC})
		c.finishLocked()
	case RLC:
		if c.state == Releasing {
			c.t1.Stop()
			c.t5.Stop()
			c.finishLocked()
		} else {
			c.confused(m)
		}
	case CCR:
		c.state = Testing
	case COT:
		if c.state == Testing {
			c.state = Setup
		}
	case SGM:
		c.t34.Start(now)
	default:
		c.confused(m)
	}
}

const eventRinging = 0x02 // Q.763 Event Information: "ringing"

func (c *Call) confused(m Message) {
	c.queue(Message{Type: CNF, CIC: c.CIC})
}

func (c *Call) finishLocked() {
	c.state = Released
	c.t1.Stop()
	c.t5.Stop()
	c.t7.Stop()
	c.t9.Stop()
	c.t34.Stop()
	if c.Circuit != nil {
		_ = c.Circuit.Disconnect()
		c.Circuit.Release()
	}
}

// Tick advances the call's timers; returns true if the call is now
// terminal (Released) and may be removed by the controller.
func (c *Call) Tick(now time.Time) (terminal bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.t7.Check(now) {
		// address-complete timeout: treat like a failure, release locally.
		c.queue(Message{Type: REL, CIC: c.CIC, Variable: [][]byte{{byte(CauseNormalClearing)}}})
		c.state = Releasing
		c.t1.Start(now)
	}
	if c.t1.Check(now) {
		c.finishLocked()
	}
	if c.t5.Check(now) && c.state == Releasing {
		// T5 expiry in Releasing: force-release (spec.md §4.6).
		c.finishLocked()
	}
	if c.t9.Check(now) {
		// answer-to-release cutoff elapsed without hangup: no-op here, the
		// host observes via notification; nothing to force locally.
	}
	if c.t34.Check(now) {
		// segmentation timeout: clears segmentHead. Nothing assigns it, so no
		// head message is buffered and no SGM is merged into it.
		c.segmentHead = nil
	}
	return c.state == Released
}
