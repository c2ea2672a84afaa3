package sccp

import (
	"fmt"
	"sync"
	"time"

	ss7core "github.com/nordiccore/ss7core"
	"github.com/nordiccore/ss7core/internal/telemetry"
	"github.com/nordiccore/ss7core/pointcode"
)

// ManagementType is the SCCP Management (SCMG) message type, Q.714 §5
// (subset: subsystem status and out-of-service negotiation, plus the ANSI
// congestion message).
type ManagementType uint8

const (
	SSA ManagementType = 1 // subsystem-allowed
	SSP ManagementType = 2 // subsystem-prohibited
	SST ManagementType = 3 // subsystem-status-test
	SOR ManagementType = 4 // subsystem-out-of-service-request
	SOG ManagementType = 5 // subsystem-out-of-service-grant
	SSC ManagementType = 6 // subsystem-congested (ANSI T1.112 only)
)

func (t ManagementType) String() string {
	switch t {
	case SSA:
		return "SSA"
	case SSP:
		return "SSP"
	case SST:
		return "SST"
	case SOR:
		return "SOR"
	case SOG:
		return "SOG"
	case SSC:
		return "SSC"
	default:
		return fmt.Sprintf("mgmt(%d)", uint8(t))
	}
}

// ManagementMessage is the decoded SCMG payload carried as Data in an SCCP
// UDT addressed to SSN 1 (management).
type ManagementMessage struct {
	Type        ManagementType
	AffectedSSN uint8
	AffectedPC  pointcode.PC
	Multiplicity uint8 // ANSI-only replication count, 0 for ITU
}

// managementSSNLen is the on-the-wire SSN field width: ITU carries one
// octet; ANSI additionally carries a multiplicity indicator octet per
// T1.112.3 §2.2, which this codec exposes as Multiplicity.
func managementSSNLen(d pointcode.Dialect) int {
	if d == pointcode.ANSI || d == pointcode.ANSI8 {
		return 2
	}
	return 1
}

// Marshal encodes m for dialect d.
func (m ManagementMessage) Marshal(d pointcode.Dialect) ([]byte, error) {
	pc, err := pointcode.Pack(m.AffectedPC)
	if err != nil {
		return nil, fmt.Errorf("sccp: marshal management affected PC: %w", err)
	}
	buf := []byte{byte(m.Type)}
	buf = append(buf, m.AffectedSSN)
	if managementSSNLen(d) == 2 {
		buf = append(buf, m.Multiplicity)
	}
	buf = append(buf, pc...)
	return buf, nil
}

// ErrShortManagement signals a buffer too short for its declared fields.
var ErrShortManagement = fmt.Errorf("sccp: management message truncated")

// UnmarshalManagement decodes a management message of dialect d.
func UnmarshalManagement(d pointcode.Dialect, buf []byte) (ManagementMessage, error) {
	ssnLen := managementSSNLen(d)
	if len(buf) < 1+ssnLen {
		return ManagementMessage{}, ErrShortManagement
	}
	m := ManagementMessage{Type: ManagementType(buf[0]), AffectedSSN: buf[1]}
	off := 2
	if ssnLen == 2 {
		m.Multiplicity = buf[off]
		off++
	}
	n, err := pointcode.Octets(d)
	if err != nil {
		return ManagementMessage{}, err
	}
	if len(buf) < off+n {
		return ManagementMessage{}, ErrShortManagement
	}
	pc, err := pointcode.Unpack(d, buf[off:off+n])
	if err != nil {
		return ManagementMessage{}, err
	}
	m.AffectedPC = pc
	return m, nil
}

// SubsystemState is the known reachability of a (point code, SSN) pair, per
// spec.md §4.7.
type SubsystemState int

const (
	SubsystemUnknown SubsystemState = iota
	SubsystemAllowed
	SubsystemProhibited
	SubsystemWaitForGrant // SOR sent, awaiting SOG before declaring Prohibited
)

func (s SubsystemState) String() string {
	switch s {
	case SubsystemAllowed:
		return "Allowed"
	case SubsystemProhibited:
		return "Prohibited"
	case SubsystemWaitForGrant:
		return "WaitForGrant"
	default:
		return "Unknown"
	}
}

// ManagementEvent identifies the broadcast notification kind delivered to
// attached SCCP users, per spec.md §4.7.
type ManagementEvent string

const (
	UserOutOfService        ManagementEvent = "UserOutOfService"
	UserInService           ManagementEvent = "UserInService"
	PCInaccessible          ManagementEvent = "PCInaccessible"
	PCAccessible            ManagementEvent = "PCAccessible"
	SccpRemoteInaccessible  ManagementEvent = "SccpRemoteInaccessible"
	SccpRemoteAccessible    ManagementEvent = "SccpRemoteAccessible"
	PCCongested             ManagementEvent = "PCCongested"
	SubsystemStatusEvent    ManagementEvent = "SubsystemStatus"
)

type remoteKey struct {
	pc  pointcode.PC
	ssn uint8
}

type remoteEntry struct {
	state   SubsystemState
	sstTest *ss7core.Timer
}

// Sender is the SCCP transport contract Management sends SCMG UDTs through.
type Sender interface {
	SendManagement(dest pointcode.PC, raw []byte) error
}

// Management is the SCCP Management (SCMG) component: per-remote-(PC,SSN)
// subsystem state tracking, SST-driven status polling, and a broadcast of
// reachability changes to attached SCCP users, per spec.md §4.7. Grounded on
// mtp3.Router's per-destination state table and restart-timer pattern,
// generalized from route state to subsystem state.
type Management struct {
	ss7core.Base

	mu      sync.Mutex
	dialect pointcode.Dialect
	sstIntv time.Duration
	remotes map[remoteKey]*remoteEntry
	sender  Sender
	log     telemetry.Logger
}

// NewManagement returns a Management component for dialect d.
func NewManagement(name string, d pointcode.Dialect) *Management {
	return &Management{
		Base:    ss7core.NewBase(name, "sccp-management"),
		dialect: d,
		sstIntv: 30 * time.Second,
		remotes: make(map[remoteKey]*remoteEntry),
	}
}

// SetSender attaches the transport Management replies through.
func (mg *Management) SetSender(s Sender) { mg.sender = s }

// Initialize implements ss7core.Component, applying sst_interval_ms.
func (mg *Management) Initialize(params map[string]any) bool {
	mg.mu.Lock()
	defer mg.mu.Unlock()
	if v, ok := params["sst_interval_ms"]; ok {
		if ms, ok := v.(int); ok {
			mg.sstIntv = time.Duration(ms) * time.Millisecond
		}
	}
	mg.log = telemetry.New(nil, mg.Name()).WithLevel(mg.DebugLevel())
	return true
}

func (mg *Management) entry(pc pointcode.PC, ssn uint8) *remoteEntry {
	key := remoteKey{pc: pc, ssn: ssn}
	e, ok := mg.remotes[key]
	if !ok {
		e = &remoteEntry{state: SubsystemUnknown, sstTest: ss7core.NewTimer(mg.sstIntv)}
		mg.remotes[key] = e
	}
	return e
}

// State returns the known subsystem state for (pc, ssn).
func (mg *Management) State(pc pointcode.PC, ssn uint8) SubsystemState {
	mg.mu.Lock()
	defer mg.mu.Unlock()
	key := remoteKey{pc: pc, ssn: ssn}
	if e, ok := mg.remotes[key]; ok {
		return e.state
	}
	return SubsystemUnknown
}

func (mg *Management) notify(event ManagementEvent, pc pointcode.PC, ssn uint8) {
	mg.log.Debugf("%s: pc %s ssn %d", event, pc, ssn)
	eng := mg.Engine()
	if eng == nil {
		return
	}
	eng.Notify(ss7core.Notification{
		Component: mg.Name(),
		Params: map[string]any{
			"event": string(event),
			"pc":    pc.String(),
			"ssn":   ssn,
		},
	})
}

// Handle applies an inbound SCMG message, updating subsystem state and
// emitting the corresponding broadcast event.
func (mg *Management) Handle(now time.Time, m ManagementMessage) {
	mg.mu.Lock()
	e := mg.entry(m.AffectedPC, m.AffectedSSN)

	switch m.Type {
	case SSA:
		e.state = SubsystemAllowed
		e.sstTest.Stop()
		mg.mu.Unlock()
		mg.notify(UserInService, m.AffectedPC, m.AffectedSSN)
		mg.notify(SubsystemStatusEvent, m.AffectedPC, m.AffectedSSN)
	case SSP:
		e.state = SubsystemProhibited
		e.sstTest.Start(now)
		mg.mu.Unlock()
		mg.notify(UserOutOfService, m.AffectedPC, m.AffectedSSN)
		mg.notify(SubsystemStatusEvent, m.AffectedPC, m.AffectedSSN)
	case SST:
		reply := ManagementMessage{Type: SubsystemStatusReply(e.state), AffectedSSN: m.AffectedSSN, AffectedPC: m.AffectedPC}
		mg.mu.Unlock()
		mg.send(reply)
	case SOR:
		e.state = SubsystemWaitForGrant
		mg.mu.Unlock()
	case SOG:
		e.state = SubsystemProhibited
		mg.mu.Unlock()
		mg.notify(UserOutOfService, m.AffectedPC, m.AffectedSSN)
	case SSC:
		mg.mu.Unlock()
		mg.notify(PCCongested, m.AffectedPC, m.AffectedSSN)
	default:
		mg.mu.Unlock()
	}
}

// SubsystemStatusReply maps a locally known state to the SSA/SSP reply an
// SST elicits.
func SubsystemStatusReply(s SubsystemState) ManagementType {
	if s == SubsystemAllowed || s == SubsystemUnknown {
		return SSA
	}
	return SSP
}

// ReportPCAccessibility records an MTP3-originated change in route
// reachability to dest. On recovery it broadcasts only PCAccessible to
// attached users; on loss it broadcasts PCInaccessible, then
// SccpRemoteInaccessible, then UserOutOfService for each known subsystem
// at dest.
func (mg *Management) ReportPCAccessibility(dest pointcode.PC, accessible bool) {
	mg.mu.Lock()
	affected := make([]remoteKey, 0)
	for k := range mg.remotes {
		if k.pc == dest {
			affected = append(affected, k)
		}
	}
	mg.mu.Unlock()

	if accessible {
		mg.notify(PCAccessible, dest, 0)
	} else {
		mg.notify(PCInaccessible, dest, 0)
		mg.notify(SccpRemoteInaccessible, dest, 0)
		for _, k := range affected {
			mg.notify(UserOutOfService, k.pc, k.ssn)
		}
	}
}

func (mg *Management) send(m ManagementMessage) {
	if mg.sender == nil {
		return
	}
	raw, err := m.Marshal(mg.dialect)
	if err != nil {
		return
	}
	_ = mg.sender.SendManagement(m.AffectedPC, raw)
}

// Tick fires SST polls for every Prohibited remote subsystem whose retry
// interval has elapsed, per spec.md §4.7's "SST timers per remote subsystem
// known Prohibited/WaitForGrant".
func (mg *Management) Tick(now time.Time) time.Duration {
	mg.mu.Lock()
	due := make([]remoteKey, 0)
	for k, e := range mg.remotes {
		if (e.state == SubsystemProhibited || e.state == SubsystemWaitForGrant) && e.sstTest.Check(now) {
			due = append(due, k)
			e.sstTest.Start(now)
		}
	}
	mg.mu.Unlock()

	for _, k := range due {
		mg.send(ManagementMessage{Type: SST, AffectedSSN: k.ssn, AffectedPC: k.pc})
	}
	return mg.sstIntv
}

// Control implements ss7core.Component; no control operations are defined
// beyond the standard engine status query.
func (mg *Management) Control(params map[string]any) bool {
	op, _ := params["operation"].(string)
	return op == "Status"
}

// Destroyed implements ss7core.Component.
func (mg *Management) Destroyed() {}
