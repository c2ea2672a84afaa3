package q921

import (
	"fmt"
	"sync"
	"time"

	ss7core "github.com/nordiccore/ss7core"
	"github.com/nordiccore/ss7core/internal/telemetry"
)

// LinkState is the multi-frame establishment state, Q.921 §5.4, 5.5.
type LinkState int

const (
	Released LinkState = iota
	WaitEstablish
	Established
	WaitRelease
)

func (s LinkState) String() string {
	switch s {
	case WaitEstablish:
		return "WaitEstablish"
	case Established:
		return "Established"
	case WaitRelease:
		return "WaitRelease"
	default:
		return "Released"
	}
}

// Role distinguishes the TE ("active", which requests establishment) side
// of a data link from the NT ("passive", which only ever responds to an
// inbound SABME) side, per spec.md §4.9's "active Q.921 ... passive Q.921
// variant".
type Role int

const (
	Active Role = iota
	Passive
)

// Transport is the frame-carrying abstraction a Link transmits through,
// mirroring mtp2.Interface.
type Transport interface {
	Transmit(frame []byte) error
}

type rawFrame struct{ buf []byte }

// Link is one Q.921 data link for a (SAPI, TEI) pair, an MTP2-style
// Component: an I-frame window, retransmission counter, and idle/ack
// timers driven by Tick, per spec.md §4.9. Grounded on mtp2.Link's
// inbound-channel-plus-mutex-guarded-state shape.
type Link struct {
	ss7core.Base

	mu  sync.Mutex
	log telemetry.Logger

	role    Role
	sapi    uint8
	tei     uint8
	transport Transport
	upward  func(payload []byte)

	state LinkState

	vs, va, vr uint8 // V(S), V(A), V(R), mod 128

	localBusy, peerBusy bool

	n200     *ss7core.Counter
	t200     *ss7core.Timer
	t203     *ss7core.Timer

	sendQueue [][]byte // I-frames awaiting transmission within the window
	unacked   map[uint8][]byte

	windowSize int

	inbound chan rawFrame
}

// NewLink returns a Link for (sapi, tei) under role, transmitting through t
// and delivering each received I-frame and UI payload to upward as it
// arrives.
func NewLink(name string, role Role, sapi, tei uint8, t Transport, upward func([]byte)) *Link {
	return &Link{
		Base:       ss7core.NewBase(name, "q921"),
		role:       role,
		sapi:       sapi,
		tei:        tei,
		transport:  t,
		upward:     upward,
		n200:       ss7core.NewCounter(3),
		t200:       ss7core.NewTimer(1 * time.Second),
		t203:       ss7core.NewTimer(10 * time.Second),
		windowSize: 7,
		unacked:    make(map[uint8][]byte),
		inbound:    make(chan rawFrame, 256),
	}
}

// Initialize implements ss7core.Component, applying t200_ms/t203_ms/k
// (window size), Q.921 annex C's "system parameters".
func (l *Link) Initialize(params map[string]any) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if v, ok := params["t200_ms"].(int); ok {
		l.t200.SetInterval(time.Duration(v) * time.Millisecond)
	}
	if v, ok := params["t203_ms"].(int); ok {
		l.t203.SetInterval(time.Duration(v) * time.Millisecond)
	}
	if v, ok := params["k"].(int); ok && v > 0 {
		l.windowSize = v
	}
	l.log = telemetry.New(nil, l.Name()).WithLevel(l.DebugLevel())
	return true
}

// State returns the current link state.
func (l *Link) State() LinkState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Establish requests multi-frame establishment (Active role only), sending
// SABME and arming T200/N200, per Q.921 §5.4.1.
func (l *Link) Establish(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.role != Active {
		return
	}
	l.vs, l.va, l.vr = 0, 0, 0
	l.n200.Reset()
	l.state = WaitEstablish
	l.sendU(SABME, true)
	l.t200.Start(now)
}

// Release requests normal disconnection, per Q.921 §5.5.
func (l *Link) Release(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != Established {
		return
	}
	l.n200.Reset()
	l.state = WaitRelease
	l.sendU(DISC, true)
	l.t200.Start(now)
}

// ErrNotEstablished is returned by SendData when the link cannot carry
// I-frames.
var ErrNotEstablished = fmt.Errorf("q921: link not established")

// SendData queues payload as an I-frame, to be transmitted as the window
// allows.
func (l *Link) SendData(payload []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != Established {
		return ErrNotEstablished
	}
	l.sendQueue = append(l.sendQueue, payload)
	return nil
}

// Receive enqueues a raw inbound frame for processing on the next Tick.
func (l *Link) Receive(buf []byte) {
	select {
	case l.inbound <- rawFrame{buf: buf}:
	default:
	}
}

func (l *Link) addr(cr bool) Address {
	return Address{SAPI: l.sapi, CR: cr, TEI: l.tei}
}

func (l *Link) sendU(t UFrameType, poll bool) {
	f := Frame{Address: l.addr(l.role == Active), Kind: UFrame, UType: t, PollFinal: poll}
	_ = l.transport.Transmit(f.Marshal())
}

func (l *Link) sendS(t SFrameType, poll bool) {
	f := Frame{Address: l.addr(l.role == Active), Kind: SFrame, SType: t, NR: l.vr, PollFinal: poll}
	_ = l.transport.Transmit(f.Marshal())
}

func (l *Link) sendIFrameLocked(payload []byte) {
	f := Frame{Address: l.addr(l.role == Active), Kind: IFrame, NS: l.vs, NR: l.vr, Payload: payload}
	l.unacked[l.vs] = payload
	_ = l.transport.Transmit(f.Marshal())
	l.vs = (l.vs + 1) % 128
}

// Tick drains inbound frames, flushes the send queue against the current
// window, and drives T200/T203, per spec.md §4.9.
func (l *Link) Tick(now time.Time) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

drain:
	for {
		select {
		case rf := <-l.inbound:
			l.handleFrameLocked(now, rf.buf)
		default:
			break drain
		}
	}

	if l.state == Established && !l.peerBusy {
		for len(l.sendQueue) > 0 && l.outstandingLocked() < l.windowSize {
			payload := l.sendQueue[0]
			l.sendQueue = l.sendQueue[1:]
			l.sendIFrameLocked(payload)
			l.t203.Stop()
			l.t200.Start(now)
		}
	}

	if l.t200.Check(now) {
		l.handleT200Locked(now)
	}
	if l.t203.Check(now) && l.state == Established {
		l.sendS(RR, true)
		l.t200.Start(now)
	}

	return 50 * time.Millisecond
}

func (l *Link) outstandingLocked() int {
	return len(l.unacked)
}

func (l *Link) handleT200Locked(now time.Time) {
	if atMax := l.n200.Inc(); atMax {
		l.log.Warnf("N200 exhausted in %s, link released", l.state)
		l.state = Released
		l.n200.Reset()
		l.t200.Stop()
		l.t203.Stop()
		return
	}
	switch l.state {
	case WaitEstablish:
		l.sendU(SABME, true)
	case WaitRelease:
		l.sendU(DISC, true)
	case Established:
		l.sendS(RR, true)
	}
	l.t200.Start(now)
}

func (l *Link) handleFrameLocked(now time.Time, raw []byte) {
	f, err := Unmarshal(raw)
	if err != nil {
		return
	}

	switch f.Kind {
	case UFrame:
		l.handleUFrameLocked(now, f)
	case SFrame:
		l.handleSFrameLocked(now, f)
	case IFrame:
		l.handleIFrameLocked(now, f)
	}
}

func (l *Link) handleUFrameLocked(now time.Time, f Frame) {
	switch f.UType {
	case SABME:
		l.log.Infof("link established (passive)")
		l.vs, l.va, l.vr = 0, 0, 0
		l.sendQueue = nil
		l.unacked = make(map[uint8][]byte)
		l.state = Established
		l.sendU(UA, f.PollFinal)
		l.t200.Stop()
		l.t203.Start(now)
	case DISC:
		l.state = Released
		l.sendU(UA, f.PollFinal)
		l.t200.Stop()
		l.t203.Stop()
	case UA:
		switch l.state {
		case WaitEstablish:
			l.state = Established
			l.t200.Stop()
			l.n200.Reset()
			l.t203.Start(now)
		case WaitRelease:
			l.state = Released
			l.t200.Stop()
			l.n200.Reset()
		}
	case DM:
		if l.state == WaitEstablish || l.state == Established {
			l.state = Released
			l.t200.Stop()
			l.t203.Stop()
		}
	case UI:
		if l.upward != nil {
			l.upward(f.Payload)
		}
	case FRMR:
		l.state = Released
		l.t200.Stop()
	}
}

func (l *Link) handleSFrameLocked(now time.Time, f Frame) {
	if l.state != Established {
		return
	}
	l.processAckLocked(now, f.NR)
	switch f.SType {
	case RR:
		l.peerBusy = false
	case RNR:
		l.peerBusy = true
	case REJ:
		l.peerBusy = false
		l.retransmitFromLocked(f.NR, now)
	}
	if f.PollFinal && f.SType != REJ {
		l.sendS(l.localSTypeLocked(), true)
	}
}

func (l *Link) localSTypeLocked() SFrameType {
	if l.localBusy {
		return RNR
	}
	return RR
}

func (l *Link) handleIFrameLocked(now time.Time, f Frame) {
	if l.state != Established {
		l.sendFRMRLocked()
		return
	}
	l.processAckLocked(now, f.NR)

	if f.NS != l.vr {
		l.sendS(REJ, true)
		return
	}
	l.vr = (l.vr + 1) % 128
	if l.upward != nil {
		l.upward(f.Payload)
	}
	if !l.localBusy {
		l.sendS(RR, f.PollFinal)
	} else {
		l.sendS(RNR, f.PollFinal)
	}
}

func (l *Link) processAckLocked(now time.Time, nr uint8) {
	for seq := range l.unacked {
		if seqBetween(l.va, seq, nr) {
			delete(l.unacked, seq)
		}
	}
	l.va = nr
	if len(l.unacked) == 0 {
		l.t200.Stop()
		l.t203.Start(now)
	}
}

// seqBetween reports whether seq lies in [from, to) under mod-128 cyclic
// ordering, used to decide which outstanding I-frames an incoming N(R) acks.
func seqBetween(from, seq, to uint8) bool {
	span := (to - from) % 128
	offset := (seq - from) % 128
	return offset < span
}

func (l *Link) retransmitFromLocked(from uint8, now time.Time) {
	seq := from
	for {
		payload, ok := l.unacked[seq]
		if !ok {
			break
		}
		f := Frame{Address: l.addr(l.role == Active), Kind: IFrame, NS: seq, NR: l.vr, Payload: payload}
		_ = l.transport.Transmit(f.Marshal())
		seq = (seq + 1) % 128
		if seq == l.vs {
			break
		}
	}
	l.t200.Start(now)
}

func (l *Link) sendFRMRLocked() {
	f := Frame{Address: l.addr(l.role == Active), Kind: UFrame, UType: FRMR, PollFinal: true}
	_ = l.transport.Transmit(f.Marshal())
}

// SetBusy toggles the local receiver-busy condition, switching subsequent
// RR acknowledgements to RNR, per Q.921 §5.8.
func (l *Link) SetBusy(busy bool) {
	l.mu.Lock()
	l.localBusy = busy
	l.mu.Unlock()
}

// Control implements ss7core.Component.
func (l *Link) Control(params map[string]any) bool {
	op, _ := params["operation"].(string)
	return op == "Status"
}

// Destroyed implements ss7core.Component.
func (l *Link) Destroyed() {}
