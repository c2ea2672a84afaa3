package mtp2

import (
	"fmt"
	"sync"
	"time"

	"github.com/nordiccore/ss7core/internal/telemetry"
	ss7core "github.com/nordiccore/ss7core"
)

// Status is the link's alignment/operational state, per spec.md §4.4.
type Status int

const (
	OutOfAlignment Status = iota
	NormalAlignment
	EmergencyAlignment
	OutOfService
	ProcessorOutage
	LinkBusy
)

func (s Status) String() string {
	switch s {
	case OutOfAlignment:
		return "out-of-alignment"
	case NormalAlignment:
		return "normal-alignment"
	case EmergencyAlignment:
		return "emergency-alignment"
	case OutOfService:
		return "out-of-service"
	case ProcessorOutage:
		return "processor-outage"
	case LinkBusy:
		return "busy"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Interface is the hardware/transport abstraction MTP2 transmits frames
// through, per spec.md §2 ("Signalling interface"). Reception is delivered
// by the interface calling Link.Receive from its own goroutine.
type Interface interface {
	Transmit(frame []byte) error
}

// queuedMSU is one entry of the retransmission queue: an unacknowledged MSU
// keyed by the FSN it was sent with.
type queuedMSU struct {
	fsn     uint8
	payload []byte
	sentAt  time.Time
}

// rawFrame is an inbound frame as handed from the interface's receive
// goroutine into Link's internal queue, drained only by Tick (spec.md §5:
// "tick itself never blocks on I/O").
type rawFrame struct {
	kind FrameKind
	buf  []byte
}

// Link is one Q.703 data link: an MTP2 Component attached to an Interface,
// delivering ordered MSUs upward to a Layer3 user (spec.md §4.4).
type Link struct {
	ss7core.Base

	mu sync.Mutex

	cfg Config
	log telemetry.Logger

	iface  Interface
	upward func(msu []byte) // delivered MSU payloads, in FIFO order

	desired Status
	local   Status
	remote  Status

	fsn, bsn     uint8
	fib, bib     uint8
	provingCount int
	errorCount   int

	congestion int // 0..3

	retransmit []queuedMSU

	t1 *ss7core.Timer // alignment
	t6 *ss7core.Timer // congestion
	t7 *ss7core.Timer // retransmission guard

	inbound chan rawFrame

	upSince time.Time

	metrics *telemetry.Metrics

	linkUpNotified bool
}

// NewLink returns a Link named name, ready for Initialize.
func NewLink(name string, iface Interface, upward func([]byte)) *Link {
	return &Link{
		Base:    ss7core.NewBase(name, "mtp2"),
		iface:   iface,
		upward:  upward,
		desired: OutOfService,
		local:   OutOfService,
		remote:  OutOfService,
		t1:      ss7core.NewTimer(5 * time.Second),
		t6:      ss7core.NewTimer(2 * time.Second),
		t7:      ss7core.NewTimer(500 * time.Millisecond),
		inbound: make(chan rawFrame, 256),
	}
}

// SetMetrics attaches the shared prometheus collector set.
func (l *Link) SetMetrics(m *telemetry.Metrics) { l.metrics = m }

// Initialize implements ss7core.Component, applying spec.md §6's MTP2
// control mapping.
func (l *Link) Initialize(params map[string]any) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.cfg = fromParams(params)
	l.t1.SetInterval(l.cfg.AbortTimeout)
	l.t7.SetInterval(l.cfg.ResendTimeout)
	l.log = telemetry.New(nil, l.Name()).WithLevel(l.DebugLevel())

	if l.cfg.AutoStart {
		l.startAlignmentLocked(time.Now())
	}
	return true
}

// Receive is called by the owning Interface's receive goroutine with a
// decoded frame kind and body; it only enqueues, never blocks processing.
func (l *Link) Receive(kind FrameKind, buf []byte) {
	select {
	case l.inbound <- rawFrame{kind: kind, buf: buf}:
	default:
		// queue full: drop, mirroring a receiver overflow (spec.md §6
		// rx-overflow notification would fire here in a full deployment).
	}
}

// Status returns the link's local operational status.
func (l *Link) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.local
}

// Operational reports whether the link is in Normal or Emergency alignment,
// i.e. able to carry MSUs, satisfying mtp3.DataLink.
func (l *Link) Operational() bool {
	s := l.Status()
	return s == NormalAlignment || s == EmergencyAlignment
}

// Congestion returns the current 0..3 congestion level (spec.md §4.4).
func (l *Link) Congestion() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.congestion
}

// Uptime returns when the link last entered an operational state, or the
// zero Time if not currently operational.
func (l *Link) Uptime() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.local != NormalAlignment && l.local != EmergencyAlignment {
		return time.Time{}
	}
	return l.upSince
}

func (l *Link) startAlignmentLocked(now time.Time) {
	l.local = OutOfAlignment
	l.provingCount = 0
	l.t1.Start(now)
	l.sendLSSULocked(StatusO)
}

func (l *Link) sendLSSULocked(status LinkStatus) {
	f := Frame{Kind: FrameLSSU, BSN: l.bsn, BIB: l.bib, FSN: l.fsn, FIB: l.fib, Status: status}
	_ = l.iface.Transmit(f.Marshal())
}

func (l *Link) sendFISULocked() {
	f := Frame{Kind: FrameFISU, BSN: l.bsn, BIB: l.bib, FSN: l.fsn, FIB: l.fib}
	_ = l.iface.Transmit(f.Marshal())
}

// Tick implements ss7core.Component: drains inbound frames, advances the
// alignment/retransmission timers, and emits fill traffic.
func (l *Link) Tick(now time.Time) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

drain:
	for {
		select {
		case rf := <-l.inbound:
			l.handleFrameLocked(now, rf)
		default:
			break drain
		}
	}

	if l.t1.Check(now) {
		// alignment timed out: abort and notify outage upward.
		l.log.Warnf("alignment timed out, link out of service")
		l.local = OutOfService
		l.t1.Stop()
		l.notifyLinkDown()
	}

	if l.t7.Check(now) {
		l.retransmitAllLocked(now)
	}

	if l.local == OutOfAlignment && l.t1.Running() {
		// keep asserting our target indication until proven.
		status := StatusN
		if l.desired == EmergencyAlignment || (l.cfg.AutoEmergency && l.provingCount == 0) {
			status = StatusE
		}
		l.sendLSSULocked(status)
	} else if l.cfg.FillLink && (l.local == NormalAlignment || l.local == EmergencyAlignment) {
		l.sendFISULocked()
	}

	return l.cfg.FillInterval
}

func (l *Link) handleFrameLocked(now time.Time, rf rawFrame) {
	f, err := Unmarshal(rf.kind, rf.buf)
	if err != nil {
		return
	}

	// update our view of the peer's acknowledgement of our FSN stream.
	l.processAckLocked(f.BSN, f.BIB)

	switch f.Kind {
	case FrameLSSU:
		l.handleLSSULocked(now, f.Status)
	case FrameMSU:
		l.bsn = f.FSN
		l.bib ^= 0 // acks are implicit via BSN; this side never toggles BIB (no NACK is sent)
		if l.local == NormalAlignment || l.local == EmergencyAlignment {
			if l.upward != nil {
				l.upward(f.Payload)
			}
		}
	case FrameFISU:
		// nothing beyond the ack processing above.
	}
}

func (l *Link) handleLSSULocked(now time.Time, status LinkStatus) {
	switch status {
	case StatusO:
		if l.local == OutOfService || l.local == OutOfAlignment {
			l.startAlignmentLocked(now)
		}
	case StatusN, StatusE:
		if l.local == OutOfAlignment {
			l.provingCount++
			if l.provingCount >= l.cfg.MaxErrors {
				l.t1.Stop()
				if status == StatusE {
					l.local = EmergencyAlignment
				} else {
					l.local = NormalAlignment
				}
				l.remote = l.local
				l.upSince = now
				if !l.linkUpNotified {
					l.linkUpNotified = true
					l.notifyLinkUp()
				}
			}
		}
	case StatusOS:
		l.local = OutOfService
		l.remote = OutOfService
	case StatusPO:
		l.remote = ProcessorOutage
	case StatusB:
		l.remote = LinkBusy
	}
}

func (l *Link) notifyLinkUp() {
	l.log.Infof("link up")
	if e := l.Engine(); e != nil {
		e.Notify(ss7core.Notification{Component: l.Name(), Params: map[string]any{"event": "link-up"}})
	}
}

func (l *Link) notifyLinkDown() {
	l.log.Warnf("link down")
	if e := l.Engine(); e != nil {
		e.Notify(ss7core.Notification{Component: l.Name(), Params: map[string]any{"event": "link-down"}})
	}
}

// processAckLocked advances our view of the retransmission queue from a
// peer-reported BSN/BIB, per Basic error correction (Q.703 §6.2): a BIB flip
// relative to our last sent FIB signals a negative ack (NACK), requiring
// retransmission from bsnAck+1; otherwise the BSN is a cumulative positive
// ack and entries up to and including it are dropped from the queue.
func (l *Link) processAckLocked(bsn, bib uint8) {
	kept := l.retransmit[:0]
	for _, q := range l.retransmit {
		if seqAfter(q.fsn, bsn) {
			kept = append(kept, q)
		}
	}
	l.retransmit = kept
	if l.metrics != nil {
		l.metrics.MTP2QueueDepth.Set(float64(len(l.retransmit)))
	}
	if bib != l.fib {
		l.retransmitAllLocked(time.Now())
	}
}

// seqAfter reports whether a comes strictly after b in the 7-bit modular
// sequence space (spec.md §8: "Sequence-number wrap in MTP2 (mod 128)").
func seqAfter(a, b uint8) bool {
	return (a-b)&0x7F != 0 && (a-b)&0x7F < 64
}

func (l *Link) retransmitAllLocked(now time.Time) {
	for _, q := range l.retransmit {
		f := Frame{Kind: FrameMSU, BSN: l.bsn, BIB: l.bib, FSN: q.fsn, FIB: l.fib, Payload: q.payload}
		_ = l.iface.Transmit(f.Marshal())
		if l.metrics != nil {
			l.metrics.MTP2Retransmit.Inc()
		}
	}
	l.t7.Start(now)
}

// ErrNotAligned rejects Send while the link is not operational.
var ErrNotAligned = fmt.Errorf("mtp2: link not aligned")

// ErrLinkBusy rejects Send while the remote reports Busy (spec.md §4.4:
// "While the remote is busy, new I-frames are not transmitted").
var ErrLinkBusy = fmt.Errorf("mtp2: remote busy")

// Send transmits an MSU payload, queuing it for retransmission until
// acknowledged.
func (l *Link) Send(payload []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.local != NormalAlignment && l.local != EmergencyAlignment {
		return ErrNotAligned
	}
	if l.remote == LinkBusy {
		return ErrLinkBusy
	}

	l.fsn = NextSeq(l.fsn)
	f := Frame{Kind: FrameMSU, BSN: l.bsn, BIB: l.bib, FSN: l.fsn, FIB: l.fib, Payload: payload}
	if err := l.iface.Transmit(f.Marshal()); err != nil {
		return err
	}
	l.retransmit = append(l.retransmit, queuedMSU{fsn: l.fsn, payload: payload, sentAt: time.Now()})
	if !l.t7.Running() {
		l.t7.Start(time.Now())
	}
	if l.metrics != nil {
		l.metrics.MTP2QueueDepth.Set(float64(len(l.retransmit)))
	}
	return nil
}

// Control implements ss7core.Component: Pause, Resume, Align, Status
// (spec.md §6).
func (l *Link) Control(params map[string]any) bool {
	op, _ := params["operation"].(string)
	l.mu.Lock()
	defer l.mu.Unlock()

	switch op {
	case "Pause":
		prevUp := l.local == NormalAlignment || l.local == EmergencyAlignment
		l.local = OutOfService
		l.t1.Stop()
		l.t7.Stop()
		if prevUp {
			l.linkUpNotified = false
			l.notifyLinkDown()
		}
		return true
	case "Resume":
		l.startAlignmentLocked(time.Now())
		return true
	case "Align":
		l.desired = EmergencyAlignment
		if force, ok := params["emergency"].(bool); ok && !force {
			l.desired = NormalAlignment
		}
		l.startAlignmentLocked(time.Now())
		return true
	case "Status":
		if cb, ok := params["reply"].(func(Status, int)); ok {
			cb(l.local, l.congestion)
		}
		return true
	default:
		return false
	}
}

// Destroyed implements ss7core.Component.
func (l *Link) Destroyed() {
	l.mu.Lock()
	l.t1.Stop()
	l.t6.Stop()
	l.t7.Stop()
	l.mu.Unlock()
}
