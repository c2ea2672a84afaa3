package sigtran

// M2UA (RFC 3331) carries Q.703/Q.921-equivalent MTP2 user data between a
// Signalling Gateway and an Application Server over SCTP. This module
// implements only the header/parameter framing (spec.md §10); the MTP2
// payload itself is carried opaque in ParamData.
const m2uaVersion = 1

// M2UAType is a Transfer or Management message type, RFC 3331 §3-4.
type M2UAType byte

const (
	M2UAData         M2UAType = 1 // Class Transfer
	M2UAReleaseReq   M2UAType = 2 // Class Management
	M2UAStateReq     M2UAType = 3
	M2UAStateCon     M2UAType = 4
	M2UARetrievalReq M2UAType = 5
	M2UARetrievalCon M2UAType = 6
)

// M2UA TLV parameter tags in common use, RFC 3331 §4.
const (
	ParamLinkKey     uint16 = 0x0001
	ParamData        uint16 = 0x0300
	ParamStateReq    uint16 = 0x0700
	ParamStateEvent  uint16 = 0x0800
)

// NewM2UAData wraps payload (an MTP2-layer frame) as an M2UA Transfer
// message.
func NewM2UAData(payload []byte) Message {
	return Message{
		Header:     CommonHeader{Version: m2uaVersion, Class: ClassTransfer, Type: byte(M2UAData)},
		Parameters: []Parameter{{Tag: ParamData, Value: payload}},
	}
}

// DataPayload extracts the ParamData value from an M2UA Transfer message,
// if present.
func (m Message) DataPayload() ([]byte, bool) {
	for _, p := range m.Parameters {
		if p.Tag == ParamData {
			return p.Value, true
		}
	}
	return nil, false
}
