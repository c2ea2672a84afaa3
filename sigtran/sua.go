package sigtran

// SUA (RFC 3868) carries SCCP-user data (TCAP) between a Signalling
// Gateway and an Application Server, in place of an MTP3+SCCP stack.
// Framing only (spec.md §10); the SCCP-user payload rides opaque in
// ParamSUAData.
const suaVersion = 1

// SUAType is a message type within ClassTransfer (CL/CO) or
// ClassASPState/ClassASPTrafficMaintenance, RFC 3868 §1.4.
type SUAType byte

const (
	SUACLDT SUAType = 1 // connectionless data transfer
	SUACLDR SUAType = 2 // connectionless data response (return)
)

// SUA TLV parameter tags, RFC 3868 §3.10.
const (
	ParamSUAData   uint16 = 0x0116
	ParamSourceAddr uint16 = 0x0102
	ParamDestAddr   uint16 = 0x0103
)

// NewSUACLDT wraps an SCCP-user payload (e.g. a TCAP package) as an SUA
// connectionless data transfer message.
func NewSUACLDT(payload []byte) Message {
	return Message{
		Header:     CommonHeader{Version: suaVersion, Class: ClassTransfer, Type: byte(SUACLDT)},
		Parameters: []Parameter{{Tag: ParamSUAData, Value: payload}},
	}
}

// SCCPUserPayload extracts the ParamSUAData value, if present.
func (m Message) SCCPUserPayload() ([]byte, bool) {
	for _, p := range m.Parameters {
		if p.Tag == ParamSUAData {
			return p.Value, true
		}
	}
	return nil, false
}
