// Package q921 implements the ISDN Q.921 (LAPD) data link layer: the
// frame codec, the per-TEI link state machine (active and passive roles),
// and TEI management, per spec.md §4.9. Grounded on mtp2's Frame/Link
// split (one file for the wire codec, one for the state machine ticked by
// the engine), generalized from MTP2's single point-to-point link to
// LAPD's per-(SAPI,TEI) multiplexed links.
package q921

import "fmt"

// FrameKind distinguishes LAPD's three frame formats, Q.921 §4.
type FrameKind int

const (
	IFrame FrameKind = iota
	SFrame
	UFrame
)

// SFrameType is the supervisory frame subtype, Q.921 §4.3.2.
type SFrameType uint8

const (
	RR  SFrameType = iota // receiver ready
	RNR                    // receiver not ready
	REJ                    // reject
)

// UFrameType is the unnumbered frame subtype, Q.921 §4.3.3 (subset this
// module implements).
type UFrameType uint8

const (
	SABME UFrameType = iota
	DM
	UI
	DISC
	UA
	FRMR
	XID
)

func (t UFrameType) String() string {
	switch t {
	case SABME:
		return "SABME"
	case DM:
		return "DM"
	case UI:
		return "UI"
	case DISC:
		return "DISC"
	case UA:
		return "UA"
	case FRMR:
		return "FRMR"
	case XID:
		return "XID"
	default:
		return fmt.Sprintf("uframe(%d)", uint8(t))
	}
}

// uFrameControl maps a UFrameType to its M-bits control octet (poll/final
// bit cleared; caller ORs it in).
func uFrameControl(t UFrameType) byte {
	switch t {
	case SABME:
		return 0x6F
	case DM:
		return 0x0F
	case UI:
		return 0x03
	case DISC:
		return 0x43
	case UA:
		return 0x63
	case FRMR:
		return 0x87
	case XID:
		return 0xAF
	default:
		return 0xFF
	}
}

func uFrameFromControl(octet byte) (UFrameType, bool) {
	masked := octet &^ 0x10 // clear P/F
	switch masked {
	case 0x6F:
		return SABME, true
	case 0x0F:
		return DM, true
	case 0x03:
		return UI, true
	case 0x43:
		return DISC, true
	case 0x63:
		return UA, true
	case 0x87:
		return FRMR, true
	case 0xAF:
		return XID, true
	default:
		return 0, false
	}
}

// Address is the LAPD address field: SAPI, command/response bit, and TEI,
// Q.921 §3.5.
type Address struct {
	SAPI uint8 // 6 bits
	CR   bool  // command (true) vs response (false), from the sender's perspective
	TEI  uint8 // 7 bits; 127 means broadcast
}

// BroadcastTEI is the "all TEIs" value used by TEI management and
// point-to-multipoint SAPI 0/63 traffic, Q.921 §5.3.1.
const BroadcastTEI = 127

func (a Address) marshal() []byte {
	b0 := (a.SAPI << 2) & 0xFC
	if a.CR {
		b0 |= 0x02
	}
	b1 := (a.TEI << 1) | 0x01
	return []byte{b0, b1}
}

func unmarshalAddress(buf []byte) (Address, error) {
	if len(buf) < 2 {
		return Address{}, ErrShortFrame
	}
	return Address{
		SAPI: buf[0] >> 2,
		CR:   buf[0]&0x02 != 0,
		TEI:  buf[1] >> 1,
	}, nil
}

// Frame is a decoded LAPD frame.
type Frame struct {
	Address Address
	Kind    FrameKind

	NS, NR uint8 // 7-bit mod-128 sequence numbers, I-frames only
	PollFinal bool

	SType SFrameType // valid when Kind == SFrame
	UType UFrameType // valid when Kind == UFrame

	Payload []byte
}

// ErrShortFrame signals a buffer too short for its declared fields.
var ErrShortFrame = fmt.Errorf("q921: frame truncated")

// Marshal encodes f onto the wire: 2-octet address, then a 1- or 2-octet
// control field depending on kind, then payload.
func (f Frame) Marshal() []byte {
	buf := append([]byte{}, f.Address.marshal()...)

	switch f.Kind {
	case IFrame:
		c0 := (f.NS << 1) & 0xFE
		c1 := (f.NR << 1) & 0xFE
		if f.PollFinal {
			c1 |= 0x01
		}
		buf = append(buf, c0, c1)
	case SFrame:
		c0 := byte(0x01)
		switch f.SType {
		case RR:
			c0 |= 0x00
		case RNR:
			c0 |= 0x04
		case REJ:
			c0 |= 0x08
		}
		c1 := (f.NR << 1) & 0xFE
		if f.PollFinal {
			c1 |= 0x01
		}
		buf = append(buf, c0, c1)
	case UFrame:
		c0 := uFrameControl(f.UType)
		if f.PollFinal {
			c0 |= 0x10
		}
		buf = append(buf, c0)
	}
	return append(buf, f.Payload...)
}

// Unmarshal decodes a frame from raw.
func Unmarshal(raw []byte) (Frame, error) {
	if len(raw) < 3 {
		return Frame{}, ErrShortFrame
	}
	addr, err := unmarshalAddress(raw[:2])
	if err != nil {
		return Frame{}, err
	}
	f := Frame{Address: addr}

	c0 := raw[2]
	switch {
	case c0&0x01 == 0:
		f.Kind = IFrame
		if len(raw) < 4 {
			return Frame{}, ErrShortFrame
		}
		f.NS = c0 >> 1
		f.NR = raw[3] >> 1
		f.PollFinal = raw[3]&0x01 != 0
		f.Payload = append([]byte(nil), raw[4:]...)
	case c0&0x03 == 0x01:
		f.Kind = SFrame
		if len(raw) < 4 {
			return Frame{}, ErrShortFrame
		}
		switch c0 & 0x0C {
		case 0x00:
			f.SType = RR
		case 0x04:
			f.SType = RNR
		case 0x08:
			f.SType = REJ
		}
		f.NR = raw[3] >> 1
		f.PollFinal = raw[3]&0x01 != 0
		f.Payload = append([]byte(nil), raw[4:]...)
	default:
		f.Kind = UFrame
		ut, ok := uFrameFromControl(c0)
		if !ok {
			return Frame{}, fmt.Errorf("q921: unrecognized U-frame control 0x%02x", c0)
		}
		f.UType = ut
		f.PollFinal = c0&0x10 != 0
		f.Payload = append([]byte(nil), raw[3:]...)
	}
	return f, nil
}
