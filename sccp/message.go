package sccp

import (
	"fmt"

	"github.com/nordiccore/ss7core/pointcode"
)

// MessageType is the SCCP message type octet, Q.713 table 2 (subset).
type MessageType uint8

const (
	UDT   MessageType = 0x09
	UDTS  MessageType = 0x0A
	XUDT  MessageType = 0x11
	XUDTS MessageType = 0x12
	LUDT  MessageType = 0x13
	LUDTS MessageType = 0x14
)

func (t MessageType) String() string {
	switch t {
	case UDT:
		return "UDT"
	case UDTS:
		return "UDTS"
	case XUDT:
		return "XUDT"
	case XUDTS:
		return "XUDTS"
	case LUDT:
		return "LUDT"
	case LUDTS:
		return "LUDTS"
	default:
		return fmt.Sprintf("type(%d)", uint8(t))
	}
}

// ReturnCause is the UDTS/XUDTS/LUDTS return-option cause, Q.713 §4.4.
type ReturnCause uint8

const (
	NoTranslationForThisAddress ReturnCause = 1
	HopCounterViolation         ReturnCause = 5
)

// Segmentation is the XUDT/LUDT segmentation parameter, Q.713 §3.17.
type Segmentation struct {
	FirstSegment   bool
	RemainingCount uint8
	LocalRef       uint32 // 24-bit in LUDT, 3 octets on the wire
}

// Message is a decoded SCCP connectionless signal unit.
type Message struct {
	Type        MessageType
	ProtoClass  uint8 // class (0 or 1) low nibble, message handling high nibble
	Called      Address
	Calling     Address
	Data        []byte
	HopCounter  uint8 // valid for XUDT/LUDT
	Segment     *Segmentation
	ReturnCause ReturnCause // valid for *S variants
}

// maxMSUPayload is the underlying MTP3 MSU budget of 272 octets (Q.704
// §2.2). udtCapacity is the largest Data payload a UDT can carry once Called
// and Calling addresses are encoded, per spec.md §4.7 ("the codec computes
// maximum payload for UDT, XUDT, and LUDT given the encoded address
// lengths"): 1 type octet, 1 class octet, 3 one-octet variable-part
// pointers and the two address lengths are subtracted from maxMSUPayload.
const maxMSUPayload = 272

func udtCapacity(calledLen, callingLen int) int {
	return maxMSUPayload - 1 - 1 - 3 - calledLen - callingLen
}

// xudtCapacity additionally reserves the hop counter octet and, if
// segmented, the segmentation parameter's TLV (2 header octets + 4 value octets).
func xudtCapacity(calledLen, callingLen int, segmented bool) int {
	c := maxMSUPayload - 1 - 1 - 1 - 4 - calledLen - callingLen // 4 pointers: called/calling/data/opt
	if segmented {
		c -= 6
	}
	return c
}

// ludtCapacity mirrors xudtCapacity with a 2-octet long-data-length field
// instead of XUDT's 1-octet length, per Q.713's LUDT format.
func ludtCapacity(calledLen, callingLen int, segmented bool) int {
	return xudtCapacity(calledLen, callingLen, segmented) + 1
}

// ChooseType selects UDT, a single-segment XUDT, or a segmented XUDT (at
// most 16 segments) for dataLen given address lengths, per spec.md §4.7.
// It never selects LUDT.
func ChooseType(calledLen, callingLen, dataLen int) (MessageType, int, bool) {
	if dataLen <= udtCapacity(calledLen, callingLen) {
		return UDT, 1, false
	}
	single := xudtCapacity(calledLen, callingLen, false)
	if dataLen <= single {
		return XUDT, 1, false
	}
	perSeg := xudtCapacity(calledLen, callingLen, true)
	if perSeg <= 0 {
		perSeg = 1
	}
	n := (dataLen + perSeg - 1) / perSeg
	if n > 16 {
		// LUDT's longer length field buys more headroom per segment but the
		// segment-count field itself stays 4 bits (Q.713 §3.17): 16 segments
		// is the hard ceiling either way.
		n = 16
	}
	return XUDT, n, true
}

// Marshal encodes m onto the wire for point-code dialect d: type octet,
// protocol class, addressing pointers (called, calling, data, and the
// optional part if present), then the address/data bodies, then — for
// XUDT/LUDT — the hop counter and any optional parameters (Segmentation)
// terminated like ISUP's EndOfParameters.
func (m Message) Marshal(d pointcode.Dialect) ([]byte, error) {
	calledBuf, err := m.Called.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("sccp: marshal called address: %w", err)
	}
	callingBuf, err := m.Calling.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("sccp: marshal calling address: %w", err)
	}

	extended := m.Type == XUDT || m.Type == XUDTS || m.Type == LUDT || m.Type == LUDTS

	header := []byte{byte(m.Type), m.ProtoClass}
	if extended {
		header = append(header, m.HopCounter)
	}

	pointerCount := 3
	if extended {
		pointerCount = 4
	}
	pointerStart := len(header)
	buf := append(header, make([]byte, pointerCount)...)

	writeVar := func(idx int, body []byte) {
		offset := byte(len(buf) - (pointerStart + idx))
		buf[pointerStart+idx] = offset
		buf = append(buf, byte(len(body)))
		buf = append(buf, body...)
	}
	writeVar(0, calledBuf)
	writeVar(1, callingBuf)
	writeVar(2, m.Data)

	if extended {
		if m.Segment == nil {
			buf[pointerStart+3] = 0
		} else {
			optPtr := byte(len(buf) - (pointerStart + 3))
			buf[pointerStart+3] = optPtr
			segByte := byte(0)
			if m.Segment.FirstSegment {
				segByte |= 0x80
			}
			segByte |= m.Segment.RemainingCount & 0x0F
			buf = append(buf, 0x01, 0x04, segByte,
				byte(m.Segment.LocalRef>>16), byte(m.Segment.LocalRef>>8), byte(m.Segment.LocalRef))
			buf = append(buf, 0x00) // EndOfOptionalParameters
		}
	}
	return buf, nil
}

// ErrShortMessage signals a buffer too short for its declared fields.
var ErrShortMessage = fmt.Errorf("sccp: message truncated")

// Unmarshal decodes a message of dialect d from raw.
func Unmarshal(d pointcode.Dialect, raw []byte) (Message, error) {
	if len(raw) < 2 {
		return Message{}, ErrShortMessage
	}
	m := Message{Type: MessageType(raw[0]), ProtoClass: raw[1]}
	extended := m.Type == XUDT || m.Type == XUDTS || m.Type == LUDT || m.Type == LUDTS

	off := 2
	if extended {
		if len(raw) < off+1 {
			return Message{}, ErrShortMessage
		}
		m.HopCounter = raw[off]
		off++
	}

	pointerCount := 3
	if extended {
		pointerCount = 4
	}
	if len(raw) < off+pointerCount {
		return Message{}, ErrShortMessage
	}
	pointerStart := off

	readVar := func(idx int) ([]byte, error) {
		fieldStart := pointerStart + idx + int(raw[pointerStart+idx])
		if fieldStart < 0 || fieldStart >= len(raw) {
			return nil, ErrShortMessage
		}
		length := int(raw[fieldStart])
		if fieldStart+1+length > len(raw) {
			return nil, ErrShortMessage
		}
		return raw[fieldStart+1 : fieldStart+1+length], nil
	}

	calledBuf, err := readVar(0)
	if err != nil {
		return Message{}, err
	}
	called, _, err := UnmarshalAddress(d, calledBuf)
	if err != nil {
		return Message{}, fmt.Errorf("sccp: called address: %w", err)
	}
	m.Called = called

	callingBuf, err := readVar(1)
	if err != nil {
		return Message{}, err
	}
	calling, _, err := UnmarshalAddress(d, callingBuf)
	if err != nil {
		return Message{}, fmt.Errorf("sccp: calling address: %w", err)
	}
	m.Calling = calling

	dataBuf, err := readVar(2)
	if err != nil {
		return Message{}, err
	}
	m.Data = append([]byte(nil), dataBuf...)

	if extended && raw[pointerStart+3] != 0 {
		optStart := pointerStart + 3 + int(raw[pointerStart+3])
		if optStart < 0 || optStart >= len(raw) {
			return Message{}, ErrShortMessage
		}
		p := optStart
		for p < len(raw) && raw[p] != 0x00 {
			if p+2 > len(raw) {
				return Message{}, ErrShortMessage
			}
			code := raw[p]
			length := int(raw[p+1])
			if p+2+length > len(raw) {
				return Message{}, ErrShortMessage
			}
			if code == 0x01 && length == 4 {
				v := raw[p+2 : p+2+length]
				m.Segment = &Segmentation{
					FirstSegment:   v[0]&0x80 != 0,
					RemainingCount: v[0] & 0x0F,
					LocalRef:       uint32(v[1])<<16 | uint32(v[2])<<8 | uint32(v[3]),
				}
			}
			p += 2 + length
		}
	}

	return m, nil
}
