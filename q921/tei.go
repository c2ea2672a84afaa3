package q921

import (
	"encoding/binary"
	"fmt"
	"math/rand"
	"sync"
	"time"

	ss7core "github.com/nordiccore/ss7core"
	"github.com/nordiccore/ss7core/internal/telemetry"
)

// TEIMessageType is the TEI management entity message type, Q.921 annex C
// table C-2, carried as UI frames on SAPI 63.
type TEIMessageType uint8

const (
	TEIRequest TEIMessageType = 1
	TEIAssigned TEIMessageType = 2
	TEIDenied   TEIMessageType = 3
	TEICheckRequest TEIMessageType = 4
	TEICheckResponse TEIMessageType = 5
	TEIRemove   TEIMessageType = 6
	TEIVerify   TEIMessageType = 7
)

func (t TEIMessageType) String() string {
	switch t {
	case TEIRequest:
		return "Request"
	case TEIAssigned:
		return "Assigned"
	case TEIDenied:
		return "Denied"
	case TEICheckRequest:
		return "CheckRequest"
	case TEICheckResponse:
		return "CheckResponse"
	case TEIRemove:
		return "Remove"
	case TEIVerify:
		return "Verify"
	default:
		return fmt.Sprintf("tei-msg(%d)", uint8(t))
	}
}

// managementSAPI is the dedicated SAPI TEI management entity traffic runs
// on, Q.921 §5.3.1.
const managementSAPI = 63

// TEIMessage is a decoded TEI management entity message.
type TEIMessage struct {
	Type TEIMessageType
	Ri   uint16 // reference number correlating Request with Assigned/Denied
	TEI  uint8  // 127 ("any") in a Request's Ai field
}

// protocolDiscriminator tags TEI management payloads, Q.921 §5.3.1 (fixed
// at 0x0F, "other Layer 3 or Layer 2 management procedures").
const protocolDiscriminator = 0x0F

// Marshal encodes m as a UI frame payload.
func (m TEIMessage) Marshal() []byte {
	buf := make([]byte, 0, 5)
	buf = append(buf, protocolDiscriminator)
	var ri [2]byte
	binary.BigEndian.PutUint16(ri[:], m.Ri)
	buf = append(buf, ri[:]...)
	buf = append(buf, byte(m.Type))
	buf = append(buf, (m.TEI<<1)|0x01)
	return buf
}

// ErrShortTEIMessage signals a buffer too short for its declared fields.
var ErrShortTEIMessage = fmt.Errorf("q921: TEI management message truncated")

// UnmarshalTEIMessage decodes a TEI management entity message from raw.
func UnmarshalTEIMessage(raw []byte) (TEIMessage, error) {
	if len(raw) < 5 || raw[0] != protocolDiscriminator {
		return TEIMessage{}, ErrShortTEIMessage
	}
	return TEIMessage{
		Ri:   binary.BigEndian.Uint16(raw[1:3]),
		Type: TEIMessageType(raw[3]),
		TEI:  raw[4] >> 1,
	}, nil
}

type childLink struct {
	link    *Link
	pending bool
}

// Manager runs TEI assignment for a point-to-multipoint interface: up to
// 128 child Q.921 Links keyed by TEI, plus the dynamic-TEI Request/Assigned
// negotiation and periodic Check Request verification, per spec.md §4.9.
// Grounded on mtp3.Router's per-destination map-of-state pattern,
// generalized from point codes to TEIs.
type Manager struct {
	ss7core.Base

	mu  sync.Mutex
	log telemetry.Logger

	transport Transport
	newUpward func(tei uint8) func([]byte)

	children map[uint8]*childLink

	pendingRi uint16
	t202      *ss7core.Timer
	t201      *ss7core.Timer
	n202      *ss7core.Counter

	awaitingTEI bool
	assigned    chan uint8
}

// NewManager returns a Manager transmitting SAPI-63 UI frames through t.
// newUpward is called once per assigned TEI to build that child link's
// upward delivery function.
func NewManager(name string, t Transport, newUpward func(tei uint8) func([]byte)) *Manager {
	return &Manager{
		Base:      ss7core.NewBase(name, "q921-tei"),
		transport: t,
		newUpward: newUpward,
		children:  make(map[uint8]*childLink),
		t202:      ss7core.NewTimer(2 * time.Second),
		t201:      ss7core.NewTimer(30 * time.Second),
		n202:      ss7core.NewCounter(3),
		assigned:  make(chan uint8, 1),
	}
}

// Initialize implements ss7core.Component.
func (m *Manager) Initialize(params map[string]any) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log = telemetry.New(nil, m.Name()).WithLevel(m.DebugLevel())
	return true
}

// RequestTEI begins dynamic TEI assignment, Q.921 §5.3.2: a TEIRequest is
// broadcast on SAPI 63 with a fresh Ri, and retried up to N202 times on
// T202 expiry until an Assigned or Denied response arrives.
func (m *Manager) RequestTEI(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pendingRi = uint16(rand.Intn(65536))
	m.awaitingTEI = true
	m.n202.Reset()
	m.sendLocked(TEIMessage{Type: TEIRequest, Ri: m.pendingRi, TEI: BroadcastTEI})
	m.t202.Start(now)
}

// Assigned returns a channel that receives the TEI once an Identity
// Assigned response matches RequestTEI's Ri. Nothing is sent on it on
// denial or when the N202 retries run out; the channel itself never times
// out, so callers with their own scheduling can instead poll Children().
func (m *Manager) Assigned() <-chan uint8 { return m.assigned }

func (m *Manager) sendLocked(msg TEIMessage) {
	f := Frame{Address: Address{SAPI: managementSAPI, CR: true, TEI: BroadcastTEI}, Kind: UFrame, UType: UI, Payload: msg.Marshal()}
	_ = m.transport.Transmit(f.Marshal())
}

// HandleManagement processes an inbound SAPI-63 UI frame payload.
func (m *Manager) HandleManagement(now time.Time, raw []byte) {
	msg, err := UnmarshalTEIMessage(raw)
	if err != nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	switch msg.Type {
	case TEIAssigned:
		if !m.awaitingTEI || msg.Ri != m.pendingRi {
			return
		}
		m.log.Infof("TEI %d assigned", msg.TEI)
		m.awaitingTEI = false
		m.t202.Stop()
		m.addChildLocked(msg.TEI)
		if !m.t201.Running() {
			m.t201.Start(now)
		}
		select {
		case m.assigned <- msg.TEI:
		default:
		}
	case TEIDenied:
		if m.awaitingTEI && msg.Ri == m.pendingRi {
			m.log.Warnf("TEI request denied")
			m.awaitingTEI = false
			m.t202.Stop()
		}
	case TEICheckRequest:
		for tei := range m.children {
			m.sendLocked(TEIMessage{Type: TEICheckResponse, Ri: msg.Ri, TEI: tei})
		}
	case TEICheckResponse:
		if c, ok := m.children[msg.TEI]; ok {
			c.pending = false
		}
	case TEIRemove:
		if msg.TEI == BroadcastTEI {
			for tei := range m.children {
				delete(m.children, tei)
			}
		} else {
			delete(m.children, msg.TEI)
		}
	case TEIVerify:
		c, ok := m.children[msg.TEI]
		if !ok {
			return
		}
		c.pending = true
		m.sendLocked(TEIMessage{Type: TEICheckResponse, Ri: msg.Ri, TEI: msg.TEI})
	}
}

func (m *Manager) addChildLocked(tei uint8) {
	if _, ok := m.children[tei]; ok {
		return
	}
	var upward func([]byte)
	if m.newUpward != nil {
		upward = m.newUpward(tei)
	}
	link := NewLink(fmt.Sprintf("%s/tei%d", m.Name(), tei), Active, 0, tei, m.transport, upward)
	m.children[tei] = &childLink{link: link}
}

// Children returns the TEIs currently assigned.
func (m *Manager) Children() []uint8 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]uint8, 0, len(m.children))
	for tei := range m.children {
		out = append(out, tei)
	}
	return out
}

// Link returns the child Link for tei, or nil.
func (m *Manager) Link(tei uint8) *Link {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.children[tei]; ok {
		return c.link
	}
	return nil
}

// Tick drives T202 retry (or final denial after N202 retries) and the
// T201 periodic Check Request sweep across assigned TEIs.
func (m *Manager) Tick(now time.Time) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.awaitingTEI && m.t202.Check(now) {
		if atMax := m.n202.Inc(); atMax {
			m.awaitingTEI = false
		} else {
			m.sendLocked(TEIMessage{Type: TEIRequest, Ri: m.pendingRi, TEI: BroadcastTEI})
			m.t202.Start(now)
		}
	}

	if m.t201.Check(now) {
		for tei, c := range m.children {
			c.pending = true
			m.sendLocked(TEIMessage{Type: TEICheckRequest, TEI: tei})
		}
		m.t201.Start(now)
	}

	return 200 * time.Millisecond
}

// Control implements ss7core.Component.
func (m *Manager) Control(params map[string]any) bool {
	op, _ := params["operation"].(string)
	return op == "Status"
}

// Destroyed implements ss7core.Component.
func (m *Manager) Destroyed() {}
