package sigtran

// M3UA (RFC 4666) carries MTP3-user (ISUP/SCCP) data between a Signalling
// Gateway and an Application Server. This module frames the header/TLV
// envelope only (spec.md §10); the MTP3-user payload rides opaque in
// ParamProtocolData.
const m3uaVersion = 1

// M3UAType is a message type within ClassTransfer (MAUP) or
// ClassASPState/ClassASPTrafficMaintenance, RFC 4666 §1.4.
type M3UAType byte

const (
	M3UAPayloadData M3UAType = 1 // Class Transfer

	M3UAUp      M3UAType = 1 // Class ASPState
	M3UADown    M3UAType = 2
	M3UAUpAck   M3UAType = 3
	M3UADownAck M3UAType = 4

	M3UAActive    M3UAType = 1 // Class ASPTrafficMaintenance
	M3UAInactive  M3UAType = 2
	M3UAActiveAck M3UAType = 3
)

// M3UA TLV parameter tags, RFC 4666 §3.
const (
	ParamRoutingContext uint16 = 0x0006
	ParamProtocolData   uint16 = 0x0210
	ParamNetworkAppearance uint16 = 0x0200
)

// NewM3UAPayload wraps an MTP3-user payload (e.g. an ISUP or SCCP message)
// as an M3UA Payload Data message addressed by opc/dpc/si, RFC 4666 §3.3.1.
func NewM3UAPayload(opc, dpc uint32, si byte, payload []byte) Message {
	v := make([]byte, 9+len(payload))
	v[0] = byte(opc >> 24)
	v[1] = byte(opc >> 16)
	v[2] = byte(opc >> 8)
	v[3] = byte(opc)
	v[4] = byte(dpc >> 24)
	v[5] = byte(dpc >> 16)
	v[6] = byte(dpc >> 8)
	v[7] = byte(dpc)
	v[8] = si
	copy(v[9:], payload)
	return Message{
		Header:     CommonHeader{Version: m3uaVersion, Class: ClassTransfer, Type: byte(M3UAPayloadData)},
		Parameters: []Parameter{{Tag: ParamProtocolData, Value: v}},
	}
}

// ProtocolData decodes the opc/dpc/si/payload fields of an M3UA Payload
// Data message's ParamProtocolData, if present.
func (m Message) ProtocolData() (opc, dpc uint32, si byte, payload []byte, ok bool) {
	for _, p := range m.Parameters {
		if p.Tag != ParamProtocolData || len(p.Value) < 9 {
			continue
		}
		v := p.Value
		opc = uint32(v[0])<<24 | uint32(v[1])<<16 | uint32(v[2])<<8 | uint32(v[3])
		dpc = uint32(v[4])<<24 | uint32(v[5])<<16 | uint32(v[6])<<8 | uint32(v[7])
		si = v[8]
		payload = append([]byte(nil), v[9:]...)
		return opc, dpc, si, payload, true
	}
	return 0, 0, 0, nil, false
}
