package sigtran

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	ss7core "github.com/nordiccore/ss7core"
	"github.com/nordiccore/ss7core/internal/telemetry"
)

// m2paVersion is the M2PA common-header version octet, RFC 4165 §3.
const m2paVersion = 1

// m2paMessageType distinguishes M2PA's two message types within
// ClassM2PASignal, RFC 4165 §3.
type m2paMessageType byte

const (
	m2paUserData   m2paMessageType = 1
	m2paLinkStatus m2paMessageType = 2
)

// LinkStatusValue is the 4-octet status field of an M2PA Link Status
// message, RFC 4165 §3.3.
type LinkStatusValue uint32

const (
	StatusAlignment        LinkStatusValue = 1
	StatusProvingNormal    LinkStatusValue = 2
	StatusProvingEmergency LinkStatusValue = 3
	StatusReady            LinkStatusValue = 4
	StatusProcessorOutage  LinkStatusValue = 5
	StatusProcessorRecovered LinkStatusValue = 6
	StatusBusy             LinkStatusValue = 7
	StatusBusyEnded        LinkStatusValue = 8
	StatusOutOfService     LinkStatusValue = 9
)

// m2paFrame is a decoded M2PA message: the common header, a 31-bit forward
// and backward sequence number (RFC 4165 §3.2, the "Link Status Octet"
// reserved bits ignored), and either a Data payload (User Data) or a
// Status value (Link Status).
type m2paFrame struct {
	typ    m2paMessageType
	fsn    uint32
	bsn    uint32
	data   []byte
	status LinkStatusValue
}

const m2paFixedLen = headerLen + 8 // common header + FSN/BSN fields

func (f m2paFrame) marshal() []byte {
	var body []byte
	if f.typ == m2paLinkStatus {
		body = make([]byte, 4)
		binary.BigEndian.PutUint32(body, uint32(f.status))
	} else {
		body = f.data
	}
	h := CommonHeader{Version: m2paVersion, Class: ClassM2PASignal, Type: byte(f.typ)}
	buf := h.marshal(8 + len(body))
	var seq [8]byte
	binary.BigEndian.PutUint32(seq[0:4], f.fsn&0x7FFFFFFF)
	binary.BigEndian.PutUint32(seq[4:8], f.bsn&0x7FFFFFFF)
	buf = append(buf, seq[:]...)
	return append(buf, body...)
}

// ErrShortM2PAFrame signals a buffer too short for M2PA's fixed fields.
var ErrShortM2PAFrame = fmt.Errorf("sigtran: m2pa frame truncated")

func unmarshalM2PA(raw []byte) (m2paFrame, error) {
	h, err := unmarshalHeader(raw)
	if err != nil {
		return m2paFrame{}, err
	}
	if len(raw) < m2paFixedLen || int(h.Length) > len(raw) {
		return m2paFrame{}, ErrShortM2PAFrame
	}
	f := m2paFrame{
		typ: m2paMessageType(h.Type),
		fsn: binary.BigEndian.Uint32(raw[8:12]) & 0x7FFFFFFF,
		bsn: binary.BigEndian.Uint32(raw[12:16]) & 0x7FFFFFFF,
	}
	body := raw[m2paFixedLen:h.Length]
	if f.typ == m2paLinkStatus {
		if len(body) < 4 {
			return m2paFrame{}, ErrShortM2PAFrame
		}
		f.status = LinkStatusValue(binary.BigEndian.Uint32(body[:4]))
	} else {
		f.data = append([]byte(nil), body...)
	}
	return f, nil
}

// Status is the M2PA link's alignment state, mirroring mtp2.Status so a
// Link can substitute mtp2.Link behind the same Interface contract.
type Status int

const (
	OutOfAlignment Status = iota
	Aligned
	ProvingNormal
	ProvingEmergency
	Established
	ProcessorOutage
)

func (s Status) String() string {
	switch s {
	case OutOfAlignment:
		return "out-of-alignment"
	case Aligned:
		return "aligned"
	case ProvingNormal:
		return "proving-normal"
	case ProvingEmergency:
		return "proving-emergency"
	case Established:
		return "established"
	case ProcessorOutage:
		return "processor-outage"
	default:
		return "unknown"
	}
}

type inboundM2PA struct{ f m2paFrame }

// Link is an M2PA (RFC 4165) transport over a net.Conn, substituting
// mtp2.Link's Interface for an SS7-over-IP deployment (spec.md §2, §10).
// Grounded on mtp2.Link's Tick-driven alignment/retransmission shape
// (inbound channel drained only by Tick, per spec.md §5's "tick never
// blocks on I/O"), generalized from mtp2's FISU/LSSU octet framing to
// M2PA's common-header-plus-sequence-number framing, and on session/
// tcp.go's pattern of a dedicated receive goroutine feeding that channel
// from a net.Conn.
type Link struct {
	ss7core.Base

	mu  sync.Mutex
	log telemetry.Logger

	conn net.Conn

	status Status

	fsn, bsn uint32 // next-to-send FSN, last FSN received from the peer (sent back as BSN)

	t1 *ss7core.Timer // alignment/proving timer
	t2 *ss7core.Timer // user data heartbeat / link status retransmit

	upward func(payload []byte)

	inbound chan inboundM2PA
	readErr chan error
}

// NewM2PALink returns a Link transporting over conn, delivering received
// MTP2-user payloads to upward.
func NewM2PALink(name string, conn net.Conn, upward func([]byte)) *Link {
	return &Link{
		Base:    ss7core.NewBase(name, "sigtran-m2pa"),
		conn:    conn,
		upward:  upward,
		t1:      ss7core.NewTimer(2 * time.Second),
		t2:      ss7core.NewTimer(5 * time.Second),
		inbound: make(chan inboundM2PA, 256),
		readErr: make(chan error, 1),
	}
}

// Initialize implements ss7core.Component, applying t1_ms/t2_ms and
// starting the background read goroutine.
func (l *Link) Initialize(params map[string]any) bool {
	l.mu.Lock()
	if v, ok := params["t1_ms"].(int); ok {
		l.t1.SetInterval(time.Duration(v) * time.Millisecond)
	}
	if v, ok := params["t2_ms"].(int); ok {
		l.t2.SetInterval(time.Duration(v) * time.Millisecond)
	}
	l.log = telemetry.New(nil, l.Name()).WithLevel(l.DebugLevel())
	l.mu.Unlock()

	go l.readLoop()
	return true
}

// readLoop is the connection's dedicated receive goroutine (spec.md §5:
// "transports may spawn their own receive threads"); it only parses and
// enqueues, all state transitions happen under Tick.
func (l *Link) readLoop() {
	var hdr [headerLen]byte
	for {
		if _, err := io.ReadFull(l.conn, hdr[:]); err != nil {
			l.log.Errorf("read loop: %v", err)
			l.readErr <- err
			return
		}
		total := binary.BigEndian.Uint32(hdr[4:8])
		if total < headerLen {
			l.readErr <- ErrShortHeader
			return
		}
		rest := make([]byte, total-headerLen)
		if _, err := io.ReadFull(l.conn, rest); err != nil {
			l.readErr <- err
			return
		}
		raw := append(hdr[:], rest...)
		f, err := unmarshalM2PA(raw)
		if err != nil {
			continue
		}
		select {
		case l.inbound <- inboundM2PA{f: f}:
		default:
		}
	}
}

// Transmit implements mtp2.Interface: sends payload as an M2PA User Data
// message, satisfying the contract Q.703 and Q.921 both expect from their
// underlying transport.
func (l *Link) Transmit(payload []byte) error {
	l.mu.Lock()
	f := m2paFrame{typ: m2paUserData, fsn: l.fsn, bsn: l.bsn, data: payload}
	l.fsn = (l.fsn + 1) & 0x7FFFFFFF
	l.mu.Unlock()
	_, err := l.conn.Write(f.marshal())
	return err
}

func (l *Link) sendStatus(status LinkStatusValue) {
	l.mu.Lock()
	f := m2paFrame{typ: m2paLinkStatus, fsn: l.fsn, bsn: l.bsn, status: status}
	l.mu.Unlock()
	_, _ = l.conn.Write(f.marshal())
}

// Establish begins link alignment: RFC 4165 §3.3's Alignment/Proving
// exchange, collapsed here to a single proving interval guarded by T1.
func (l *Link) Establish(now time.Time) {
	l.mu.Lock()
	l.status = OutOfAlignment
	l.t1.Start(now)
	l.mu.Unlock()
	l.sendStatus(StatusAlignment)
}

// Status returns the link's current alignment status.
func (l *Link) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status
}

// Operational reports whether the link can carry user data.
func (l *Link) Operational() bool {
	return l.Status() == Established
}

// Tick drains inbound M2PA frames, advances T1/T2, and surfaces a fatal
// read error as an Out-of-Service transition.
func (l *Link) Tick(now time.Time) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

drain:
	for {
		select {
		case r := <-l.inbound:
			l.handleFrameLocked(now, r.f)
		case err := <-l.readErr:
			_ = err
			l.status = OutOfAlignment
			break drain
		default:
			break drain
		}
	}

	if l.t1.Check(now) {
		switch l.status {
		case OutOfAlignment:
			l.status = Aligned
			l.t1.Start(now)
		case Aligned:
			l.status = ProvingNormal
			l.t1.Start(now)
		case ProvingNormal:
			l.status = Established
		}
	}
	if l.t2.Check(now) && l.status == Established {
		l.t2.Start(now)
	}

	return 50 * time.Millisecond
}

func (l *Link) handleFrameLocked(now time.Time, f m2paFrame) {
	l.bsn = f.fsn
	switch f.typ {
	case m2paLinkStatus:
		switch f.status {
		case StatusAlignment, StatusProvingNormal, StatusProvingEmergency:
			if l.status == OutOfAlignment {
				l.status = Aligned
				l.t1.Start(now)
			}
		case StatusReady:
			l.status = Established
		case StatusOutOfService:
			l.status = OutOfAlignment
		}
	case m2paUserData:
		if l.upward != nil {
			l.upward(f.data)
		}
	}
}

// Control implements ss7core.Component.
func (l *Link) Control(params map[string]any) bool {
	op, _ := params["operation"].(string)
	return op == "Status"
}

// Destroyed implements ss7core.Component.
func (l *Link) Destroyed() { _ = l.conn.Close() }
