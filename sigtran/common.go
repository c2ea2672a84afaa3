// Package sigtran implements SIGTRAN (SS7-over-IP) transports and adaptation
// layers: a full M2PA transport substituting MTP2 (RFC 4165), and thin
// frame codecs for M2UA, M3UA, IUA, and SUA sharing the common SIGTRAN
// message header, per spec.md §2 and §10's "SIGTRAN dual-stack" supplement.
// Grounded on session's TCP transport (apdu/tcp.go): a net.Conn-backed,
// sequence-numbered session layer with its own ack/keepalive timers, the
// closest pack idiom to M2PA's peer-to-peer link state machine.
package sigtran

import (
	"encoding/binary"
	"fmt"
)

// MessageClass identifies the adaptation layer a SIGTRAN message belongs
// to, common header byte 2 across RFC 3868/3331/4233/4666.
type MessageClass uint8

const (
	ClassManagement MessageClass = 0
	ClassTransfer   MessageClass = 1 // M3UA/SUA: MAUP; M2UA: Q.921/Q.703 data
	ClassSSNM       MessageClass = 2 // signalling network management
	ClassASPState   MessageClass = 3
	ClassASPTrafficMaintenance MessageClass = 4
	ClassM2PASignal MessageClass = 11
	ClassQPTM       MessageClass = 10
)

// CommonHeader is the fixed 8-octet SIGTRAN message header shared by
// M2UA/M2PA/M3UA/IUA/SUA: version, a reserved octet, message class,
// message type, and a 4-octet total-message length (header + parameters),
// per RFC 4165 §3 / RFC 4666 §3.
type CommonHeader struct {
	Version byte
	Class   MessageClass
	Type    byte
	Length  uint32 // total length including this header; filled by Marshal
}

const headerLen = 8

// ErrShortHeader signals a buffer too short to contain a CommonHeader.
var ErrShortHeader = fmt.Errorf("sigtran: header truncated")

func (h CommonHeader) marshal(bodyLen int) []byte {
	buf := make([]byte, headerLen)
	buf[0] = h.Version
	buf[1] = 0
	buf[2] = byte(h.Class)
	buf[3] = h.Type
	binary.BigEndian.PutUint32(buf[4:8], uint32(headerLen+bodyLen))
	return buf
}

func unmarshalHeader(raw []byte) (CommonHeader, error) {
	if len(raw) < headerLen {
		return CommonHeader{}, ErrShortHeader
	}
	return CommonHeader{
		Version: raw[0],
		Class:   MessageClass(raw[2]),
		Type:    raw[3],
		Length:  binary.BigEndian.Uint32(raw[4:8]),
	}, nil
}

// Parameter is one SIGTRAN TLV parameter: a 16-bit tag, 16-bit length
// (header + value, excluding padding), value, then zero-padding to the
// next 4-octet boundary, per RFC 4666 §3.2.
type Parameter struct {
	Tag   uint16
	Value []byte
}

func (p Parameter) marshal() []byte {
	const tlvHeader = 4
	n := tlvHeader + len(p.Value)
	padded := (n + 3) &^ 3
	buf := make([]byte, padded)
	binary.BigEndian.PutUint16(buf[0:2], p.Tag)
	binary.BigEndian.PutUint16(buf[2:4], uint16(n))
	copy(buf[4:], p.Value)
	return buf
}

// ErrShortParameter signals a buffer too short for a TLV parameter header.
var ErrShortParameter = fmt.Errorf("sigtran: parameter truncated")

func unmarshalParameters(raw []byte) ([]Parameter, error) {
	var params []Parameter
	off := 0
	for off < len(raw) {
		if off+4 > len(raw) {
			return nil, ErrShortParameter
		}
		tag := binary.BigEndian.Uint16(raw[off : off+2])
		length := int(binary.BigEndian.Uint16(raw[off+2 : off+4]))
		if length < 4 || off+length > len(raw) {
			return nil, ErrShortParameter
		}
		val := append([]byte(nil), raw[off+4:off+length]...)
		params = append(params, Parameter{Tag: tag, Value: val})
		padded := (length + 3) &^ 3
		off += padded
	}
	return params, nil
}

// Message is a generically decoded SIGTRAN message: the common header plus
// its TLV parameter list, the shape M2UA/M3UA/IUA/SUA share (RFC
// 3331/4666/4233/3868). Adaptation-layer-specific meaning is left to the
// caller; this module decodes only the header/TLV envelope (spec.md §10:
// "TLV parameter body is passed through undecoded").
type Message struct {
	Header     CommonHeader
	Parameters []Parameter
}

// Marshal encodes m onto the wire.
func (m Message) Marshal() []byte {
	var body []byte
	for _, p := range m.Parameters {
		body = append(body, p.marshal()...)
	}
	return append(m.Header.marshal(len(body)), body...)
}

// Unmarshal decodes a generic SIGTRAN message from raw.
func Unmarshal(raw []byte) (Message, error) {
	h, err := unmarshalHeader(raw)
	if err != nil {
		return Message{}, err
	}
	if int(h.Length) > len(raw) {
		return Message{}, ErrShortHeader
	}
	params, err := unmarshalParameters(raw[headerLen:h.Length])
	if err != nil {
		return Message{}, err
	}
	return Message{Header: h, Parameters: params}, nil
}
