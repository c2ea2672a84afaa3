package q931

import (
	"fmt"
	"sync"
	"time"

	ss7core "github.com/nordiccore/ss7core"
)

// State is a Call's position in the Q.931 call state machine, Q.931 §5,
// per spec.md §4.9.
type State int

const (
	Null State = iota
	CallInitiated
	OverlapSend
	OutgoingProceeding
	CallDelivered
	CallPresent
	CallReceived
	ConnectReq
	IncomingProceeding
	Active
	DisconnectReq
	DisconnectIndication
	SuspendReq
	ResumeReq
	ReleaseReq
	CallAbort
	OverlapRecv
)

func (s State) String() string {
	switch s {
	case Null:
		return "Null"
	case CallInitiated:
		return "CallInitiated"
	case OverlapSend:
		return "OverlapSend"
	case OutgoingProceeding:
		return "OutgoingProceeding"
	case CallDelivered:
		return "CallDelivered"
	case CallPresent:
		return "CallPresent"
	case CallReceived:
		return "CallReceived"
	case ConnectReq:
		return "ConnectReq"
	case IncomingProceeding:
		return "IncomingProceeding"
	case Active:
		return "Active"
	case DisconnectReq:
		return "DisconnectReq"
	case DisconnectIndication:
		return "DisconnectIndication"
	case SuspendReq:
		return "SuspendReq"
	case ResumeReq:
		return "ResumeReq"
	case ReleaseReq:
		return "ReleaseReq"
	case CallAbort:
		return "CallAbort"
	case OverlapRecv:
		return "OverlapRecv"
	default:
		return "unknown"
	}
}

// BehaviourFlag is one bit of a switch-type's compatibility bitmask,
// spec.md §4.9 ("Switch-type behaviour flags").
type BehaviourFlag uint32

const (
	// SendingComplete includes the Sending Complete IE at the end of an
	// overlap-dialled SETUP once the dialled digits are final.
	SendingComplete BehaviourFlag = 1 << iota
	// DisplayIA5 selects IA5 (vs. the default) charset for Display IEs.
	DisplayIA5
	// KeypadDial sends dialled digits via a Keypad Facility IE instead of
	// Called Party Number.
	KeypadDial
	// BearerCapsFormatISO formats the Bearer Capability IE per the ISO
	// Q.931 layout rather than the ITU default.
	BearerCapsFormatISO
	// IncludeLayer1Caps appends Layer-1 capability octets to Bearer
	// Capability.
	IncludeLayer1Caps
	// NonISDNProgress accepts a Progress Indicator identifying a
	// non-ISDN-source/destination without treating it as an error.
	NonISDNProgress
	// CPEConnectOnProceeding transitions CPE-side calls to Active on
	// CALL PROCEEDING rather than waiting for CONNECT (some PBX switch
	// types answer without an explicit CONNECT).
	CPEConnectOnProceeding
)

// SwitchType names a preset behaviour-flag combination, spec.md §4.9 /
// §10's `switchtype` configuration parameter.
type SwitchType struct {
	Name  string
	Flags BehaviourFlag
}

var (
	SwitchEuroISDN = SwitchType{Name: "euroisdn", Flags: SendingComplete}
	SwitchNI2      = SwitchType{Name: "ni2", Flags: SendingComplete | KeypadDial}
	SwitchDMS100   = SwitchType{Name: "dms100", Flags: SendingComplete | IncludeLayer1Caps}
	SwitchQSIG     = SwitchType{Name: "qsig", Flags: BearerCapsFormatISO}
)

func (st SwitchType) has(f BehaviourFlag) bool { return st.Flags&f != 0 }

// outbound queues a message this Call wants transmitted; the Controller
// drains it onto the Q.921 link.
type outbound struct{ msg Message }

// Call is one Q.931 call-reference's call-control state machine, mirroring
// isup.Call's shape for ISUP circuits.
type Call struct {
	mu sync.Mutex

	Ref   CallRef
	state State

	sw SwitchType

	calledDigits  string
	callingDigits string
	overlapMax    int

	t302 *ss7core.Timer // overlap inter-digit timeout
	t303 *ss7core.Timer // SETUP retransmit
	t304 *ss7core.Timer // SETUP ACK / overlap receive timeout
	t305 *ss7core.Timer // DISCONNECT -> RELEASE
	t308 *ss7core.Timer // RELEASE -> RELEASE COMPLETE
	t309 *ss7core.Timer // layer-2 down while Active
	t313 *ss7core.Timer // CONNECT -> CONNECT ACK
	t314 *ss7core.Timer // segment reassembly timeout

	t303Count int

	out []outbound
}

// NewCall returns a Null-state Call for ref under switch type sw.
func NewCall(ref CallRef, sw SwitchType) *Call {
	return &Call{
		Ref:        ref,
		state:      Null,
		sw:         sw,
		overlapMax: 20,
		t302:       ss7core.NewTimer(10 * time.Second),
		t303:       ss7core.NewTimer(4 * time.Second),
		t304:       ss7core.NewTimer(20 * time.Second),
		t305:       ss7core.NewTimer(30 * time.Second),
		t308:       ss7core.NewTimer(4 * time.Second),
		t309:       ss7core.NewTimer(90 * time.Second),
		t313:       ss7core.NewTimer(4 * time.Second),
		t314:       ss7core.NewTimer(4 * time.Second),
	}
}

// State returns the call's current state.
func (c *Call) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Call) queue(m Message) { c.out = append(c.out, outbound{msg: m}) }

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

// ErrNotIdle signals Originate() on a call already past Null.
var ErrNotIdle = fmt.Errorf("q931: call already in progress")

// Originate starts an outgoing call (Null -> CallInitiated, sending SETUP
// and starting T303), Q.931 §5.1.1.
func (c *Call) Originate(now time.Time, calledDigits, callingDigits string, complete bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Null {
		return ErrNotIdle
	}
	c.calledDigits = calledDigits
	c.callingDigits = callingDigits

	setup := Message{Type: Setup, Ref: c.Ref}
	setup.IEs = append(setup.IEs, IE{Code: IEBearerCapability, Value: bearerCapability(c.sw)})
	if c.sw.has(KeypadDial) {
		setup.IEs = append(setup.IEs, IE{Code: IEKeypadFacility, Value: []byte(calledDigits)})
	} else {
		setup.IEs = append(setup.IEs, IE{Code: IECalledPartyNumber, Value: numberIE(calledDigits)})
	}
	if callingDigits != "" {
		setup.IEs = append(setup.IEs, IE{Code: IECallingPartyNumber, Value: numberIE(callingDigits)})
	}
	if complete && c.sw.has(SendingComplete) {
		setup.IEs = append(setup.IEs, IE{Code: IESendingComplete})
	}

	c.queue(setup)
	if complete {
		c.state = CallInitiated
	} else {
		c.state = OverlapSend
		c.t302.Start(now)
	}
	c.t303.Start(now)
	c.t303Count = 0
	return nil
}

func bearerCapability(sw SwitchType) []byte {
	v := []byte{0x80, 0x90, 0xA3} // coding std CCITT / speech / circuit mode 64kbit a-law, Q.931 §4.5.5
	if sw.has(BearerCapsFormatISO) {
		v[0] = 0x81
	}
	if sw.has(IncludeLayer1Caps) {
		v = append(v, 0x00)
	}
	return v
}

func numberIE(digits string) []byte {
	return append([]byte{0x80 | (0x02 << 4), 0x81}, []byte(digits)...) // NoA=national, plan=ISDN
}

// Hangup initiates release from any active state, Q.931 §5.3 (sends
// DISCONNECT, starts T305).
func (c *Call) Hangup(now time.Time, cause CauseValue) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Null || c.state == ReleaseReq {
		return
	}
	c.queue(Message{Type: Disconnect, Ref: c.Ref, IEs: []IE{CauseIE(cause)}})
	c.state = DisconnectReq
	c.t305.Start(now)
}

// ErrOverlapDigitsTooLong is returned by SendInfo when the accumulated
// digits would exceed the call's maximum (20, set by NewCall).
var ErrOverlapDigitsTooLong = fmt.Errorf("q931: overlap digit count exceeds configured maximum")

// SendInfo appends overlap-dialled digits via an INFORMATION message,
// Q.931 §5.1.3's "Overlap sending".
func (c *Call) SendInfo(now time.Time, digits string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.calledDigits)+len(digits) > c.overlapMax {
		return ErrOverlapDigitsTooLong
	}
	c.calledDigits += digits
	c.queue(Message{Type: Information, Ref: c.Ref, IEs: []IE{{Code: IECalledPartyNumber, Value: numberIE(digits)}}})
	c.t302.Start(now)
	return nil
}

// Handle applies an incoming decoded Q.931 message to the call state
// machine.
func (c *Call) Handle(now time.Time, m Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch m.Type {
	case Setup:
		c.state = CallPresent
		c.queue(Message{Type: CallProceeding, Ref: c.Ref})
		c.state = IncomingProceeding
		if ie, ok := m.IE(IECalledPartyNumber); ok {
			c.calledDigits = string(ie.Value[2:])
		}
	case CallProceeding:
		if c.state == CallInitiated || c.state == OverlapSend {
			c.t303.Stop()
			c.t302.Stop()
			if c.sw.has(CPEConnectOnProceeding) {
				c.state = Active
			} else {
				c.state = OutgoingProceeding
				c.t304.Start(now)
			}
		} else {
			c.status(m)
		}
	case SetupAck:
		if c.state == CallInitiated || c.state == OverlapSend {
			c.t303.Stop()
			c.state = OverlapSend
			c.t304.Start(now)
		}
	case Alerting:
		if c.state == OutgoingProceeding || c.state == CallInitiated {
			c.t304.Stop()
			c.state = CallDelivered
		} else {
			c.status(m)
		}
	case Connect:
		if c.state == OutgoingProceeding || c.state == CallDelivered || c.state == CallInitiated {
			c.t304.Stop()
			c.queue(Message{Type: ConnectAck, Ref: c.Ref})
			c.state = Active
		} else {
			c.status(m)
		}
	case ConnectAck:
		if c.state == ConnectReq {
			c.t313.Stop()
			c.state = Active
		}
	case Disconnect:
		c.t309.Stop()
		c.queue(Message{Type: Release, Ref: c.Ref})
		c.state = ReleaseReq
		c.t308.Start(now)
	case Release:
		c.t308.Stop()
		c.t305.Stop()
		c.queue(Message{Type: ReleaseComplete, Ref: c.Ref})
		c.state = Null
	case ReleaseComplete:
		c.t308.Stop()
		c.t305.Stop()
		c.state = Null
	case Status:
		// peer's state report; no transition of our own required, Q.931 §5.8.11.
	case StatusEnquiry:
		c.queue(Message{Type: Status, Ref: c.Ref, IEs: []IE{CauseIE(CauseRecoveryOnTimerExpiry), {Code: IECallState, Value: []byte{byte(c.state)}}}})
	case Information:
		if ie, ok := m.IE(IECalledPartyNumber); ok {
			c.calledDigits += string(ie.Value[2:])
		}
		c.t304.Start(now)
	default:
		c.status(m)
	}
}

func (c *Call) status(m Message) {
	c.queue(Message{Type: Status, Ref: c.Ref, IEs: []IE{CauseIE(CauseMessageNotCompatible), {Code: IECallState, Value: []byte{byte(c.state)}}}})
}

// Tick advances the call's timers; returns true if the call is now Null
// and may be removed by the controller.
func (c *Call) Tick(now time.Time) (terminal bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.t303.Check(now) {
		if c.t303Count < 1 {
			c.t303Count++
			c.queue(Message{Type: Setup, Ref: c.Ref})
			c.t303.Start(now)
		} else {
			c.queue(Message{Type: ReleaseComplete, Ref: c.Ref, IEs: []IE{CauseIE(CauseRecoveryOnTimerExpiry)}})
			c.state = Null
		}
	}
	if c.t302.Check(now) {
		c.queue(Message{Type: Disconnect, Ref: c.Ref, IEs: []IE{CauseIE(CauseRecoveryOnTimerExpiry)}})
		c.state = DisconnectReq
		c.t305.Start(now)
	}
	if c.t304.Check(now) {
		c.queue(Message{Type: Disconnect, Ref: c.Ref, IEs: []IE{CauseIE(CauseRecoveryOnTimerExpiry)}})
		c.state = DisconnectReq
		c.t305.Start(now)
	}
	if c.t305.Check(now) {
		c.queue(Message{Type: Release, Ref: c.Ref, IEs: []IE{CauseIE(CauseRecoveryOnTimerExpiry)}})
		c.state = ReleaseReq
		c.t308.Start(now)
	}
	if c.t308.Check(now) {
		c.state = Null
	}
	if c.t313.Check(now) {
		c.queue(Message{Type: Disconnect, Ref: c.Ref, IEs: []IE{CauseIE(CauseRecoveryOnTimerExpiry)}})
		c.state = DisconnectReq
		c.t305.Start(now)
	}
	if c.t314.Check(now) {
		// segment reassembly timeout: nothing buffered across messages in
		// this module's scope, so this is a no-op placeholder tick.
	}
	return c.state == Null
}
