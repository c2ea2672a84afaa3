package tcap

import (
	"encoding/binary"
	"fmt"
)

// Marshal encodes pkg for dialect d. The format is a purpose-built
// tag/length/value scheme in the spirit of Q.773's ASN.1 BER encoding
// (outer package tag, transaction-ID fields, an optional dialogue portion,
// then components) without implementing general BER, since this module's
// dependency pack carries no ASN.1 library (see DESIGN.md).
func Marshal(d Dialect, pkg Package) []byte {
	body := make([]byte, 0, 64)
	body = append(body, 0x02, 4)
	body = appendUint32(body, pkg.LocalID)
	if pkg.HasRemote {
		body = append(body, 0x03, 4)
		body = appendUint32(body, pkg.RemoteID)
	}
	if len(pkg.Dialogue.ApplicationContext) > 0 || len(pkg.Dialogue.UserInformation) > 0 {
		body = append(body, pkg.Dialogue.Marshal(d)...)
	}
	if pkg.Abort != nil {
		body = append(body, 0x04, 1, wireCode(d, *pkg.Abort))
	}
	for _, comp := range pkg.Components {
		body = append(body, marshalComponent(d, comp)...)
	}

	out := []byte{packageTag(d, pkg.Type)}
	out = appendLength(out, len(body))
	return append(out, body...)
}

func marshalComponent(d Dialect, c Component) []byte {
	cbody := []byte{
		byte(c.InvokeID),
		byte(c.LinkedID),
		byte(c.OperationID),
		byte(c.Class),
	}
	if c.Type == RejectComponent {
		cbody = append(cbody, wireCode(d, c.Problem))
	}
	cbody = append(cbody, c.Parameters...)

	out := []byte{componentTag(d, c.Type)}
	out = appendLength(out, len(cbody))
	return append(out, cbody...)
}

func appendUint32(buf []byte, v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return append(buf, b[:]...)
}

// appendLength encodes n as a single octet when it fits, else a 0x82-tagged
// 2-octet big-endian extension (BER's long-form length convention,
// retained here since component lists can exceed 255 octets).
func appendLength(buf []byte, n int) []byte {
	if n < 128 {
		return append(buf, byte(n))
	}
	return append(buf, 0x82, byte(n>>8), byte(n))
}

func readLength(buf []byte, off int) (length, consumed int, err error) {
	if off >= len(buf) {
		return 0, 0, ErrShortPackage
	}
	if buf[off] == 0x82 {
		if off+3 > len(buf) {
			return 0, 0, ErrShortPackage
		}
		return int(buf[off+1])<<8 | int(buf[off+2]), 3, nil
	}
	return int(buf[off]), 1, nil
}

// ErrShortPackage signals a buffer too short for its declared fields.
var ErrShortPackage = fmt.Errorf("tcap: package truncated")

// Unmarshal decodes a package of dialect d from raw.
func Unmarshal(d Dialect, raw []byte) (Package, error) {
	if len(raw) < 2 {
		return Package{}, ErrShortPackage
	}
	typ, ok := packageFromTag(d, raw[0])
	if !ok {
		return Package{}, fmt.Errorf("tcap: unrecognized package tag 0x%02x", raw[0])
	}
	bodyLen, lenOff, err := readLength(raw, 1)
	if err != nil {
		return Package{}, err
	}
	off := 1 + lenOff
	if off+bodyLen > len(raw) {
		return Package{}, ErrShortPackage
	}
	end := off + bodyLen

	pkg := Package{Type: typ}
	for off < end {
		tag := raw[off]
		switch tag {
		case 0x02:
			if off+2+4 > end {
				return Package{}, ErrShortPackage
			}
			pkg.LocalID = binary.BigEndian.Uint32(raw[off+2 : off+6])
			off += 6
		case 0x03:
			if off+2+4 > end {
				return Package{}, ErrShortPackage
			}
			pkg.RemoteID = binary.BigEndian.Uint32(raw[off+2 : off+6])
			pkg.HasRemote = true
			off += 6
		case 0x04:
			if off+3 > end {
				return Package{}, ErrShortPackage
			}
			p := Problem{Category: TransactionProblem, Code: int(raw[off+2])}
			pkg.Abort = &p
			off += 3
		case 0x6B, 0xEF:
			l, lOff, err := readLength(raw, off+1)
			if err != nil {
				return Package{}, err
			}
			start := off + 1 + lOff
			if start+l > end {
				return Package{}, ErrShortPackage
			}
			for dl := raw[start : start+l]; len(dl) >= 2 && 2+int(dl[1]) <= len(dl); dl = dl[2+int(dl[1]):] {
				v := append([]byte(nil), dl[2:2+int(dl[1])]...)
				switch dl[0] {
				case 0x06:
					pkg.Dialogue.ApplicationContext = v
				case 0x28:
					pkg.Dialogue.UserInformation = v
				}
			}
			off = start + l
		default:
			comp, n, err := unmarshalComponent(d, raw[off:end])
			if err != nil {
				return Package{}, err
			}
			pkg.Components = append(pkg.Components, comp)
			off += n
		}
	}
	return pkg, nil
}

func unmarshalComponent(d Dialect, buf []byte) (Component, int, error) {
	if len(buf) < 2 {
		return Component{}, 0, ErrShortPackage
	}
	var typ ComponentType
	found := false
	for t := Invoke; t <= RejectComponent; t++ {
		if componentTag(d, t) == buf[0] {
			typ = t
			found = true
			break
		}
	}
	if !found {
		return Component{}, 0, fmt.Errorf("tcap: unrecognized component tag 0x%02x", buf[0])
	}
	length, lOff, err := readLength(buf, 1)
	if err != nil {
		return Component{}, 0, err
	}
	start := 1 + lOff
	if start+length > len(buf) {
		return Component{}, 0, ErrShortPackage
	}
	body := buf[start : start+length]
	if len(body) < 4 {
		return Component{}, 0, ErrShortPackage
	}
	c := Component{
		Type:        typ,
		InvokeID:    int(body[0]),
		LinkedID:    int(body[1]),
		OperationID: int(body[2]),
		Class:       OperationClass(body[3]),
	}
	rest := body[4:]
	if typ == RejectComponent {
		if len(rest) < 1 {
			return Component{}, 0, ErrShortPackage
		}
		c.Problem = Problem{Category: TransactionProblem, Code: int(rest[0])}
		rest = rest[1:]
	}
	c.Parameters = append([]byte(nil), rest...)
	return c, start + length, nil
}
