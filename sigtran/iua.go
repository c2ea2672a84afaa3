package sigtran

// IUA (RFC 4233) carries Q.921/Q.931 ISDN data between a Signalling
// Gateway and an Application Server. Framing only (spec.md §10); the
// Q.921/Q.931 payload rides opaque in ParamData.
const iuaVersion = 1

// IUAType is a Transfer-class message type, RFC 4233 §3.
type IUAType byte

const (
	IUAData IUAType = 1
)

// NewIUAData wraps payload (a Q.921 frame carrying Q.931) as an IUA
// Transfer message, addressed by the given interface identifier.
func NewIUAData(ifaceID uint32, payload []byte) Message {
	id := []byte{byte(ifaceID >> 24), byte(ifaceID >> 16), byte(ifaceID >> 8), byte(ifaceID)}
	return Message{
		Header: CommonHeader{Version: iuaVersion, Class: ClassTransfer, Type: byte(IUAData)},
		Parameters: []Parameter{
			{Tag: ParamIFaceID, Value: id},
			{Tag: ParamData, Value: payload},
		},
	}
}

// ParamIFaceID is IUA's Interface Identifier TLV tag, RFC 4233 §3.2.1.
const ParamIFaceID uint16 = 0x0001
