// Package sccp implements Q.713-style SCCP connectionless routing:
// addressing (SSN, point code, global title), the UDT/XUDT/LUDT message
// codec with size-bound segmentation, a reassembler, global title
// translation, and SCCP Management (subsystem state), per spec.md §4.7.
// Grounded on pointcode's fixed-width-field packing style, generalized to
// SCCP's variable-length, indicator-octet-gated address format.
package sccp

import (
	"fmt"

	"github.com/nordiccore/ss7core/pointcode"
)

// GlobalTitle carries the digits-plus-translation-metadata form of SCCP
// addressing used when no point code is present (Q.713 §3.4.2).
type GlobalTitle struct {
	Digits          string
	NumberingPlan   uint8
	Encoding        uint8
	TranslationType uint8
	Nature          uint8
}

// Address is an SCCP address: any subset of SSN, point code, and global
// title, gated by indicator bits, per spec.md §4.7.
type Address struct {
	HasSSN bool
	SSN    uint8

	HasPC bool
	PC    pointcode.PC

	HasGT bool
	GT    GlobalTitle
}

// indicator bits, Q.713 §3.4.1 (routing indicator, GT indicator, SSN
// indicator, PC indicator collapsed into one byte for this codec).
const (
	indPC = 1 << iota
	indSSN
	indGT
	indRouteOnGT
)

// Marshal encodes an address for dialect d: one indicator byte, then the
// point code (if present), SSN (if present), then the global title (if
// present) as four metadata octets (numbering plan, encoding, translation
// type, nature of address), a digit count, a byte count and the BCD
// digits.
func (a Address) Marshal(d pointcode.Dialect) ([]byte, error) {
	ind := byte(0)
	if a.HasPC {
		ind |= indPC
	}
	if a.HasSSN {
		ind |= indSSN
	}
	if a.HasGT {
		ind |= indGT
		if !a.HasPC {
			ind |= indRouteOnGT
		}
	}
	buf := []byte{ind}

	if a.HasPC {
		pc, err := pointcode.Pack(a.PC)
		if err != nil {
			return nil, fmt.Errorf("sccp: pack address point code: %w", err)
		}
		buf = append(buf, pc...)
	}
	if a.HasSSN {
		buf = append(buf, a.SSN)
	}
	if a.HasGT {
		digits := packDigitsBCD(a.GT.Digits)
		buf = append(buf, a.GT.NumberingPlan, a.GT.Encoding, a.GT.TranslationType, a.GT.Nature)
		buf = append(buf, byte(len(a.GT.Digits)), byte(len(digits)))
		buf = append(buf, digits...)
	}
	return buf, nil
}

// ErrShortAddress signals a buffer too short for its declared fields.
var ErrShortAddress = fmt.Errorf("sccp: address truncated")

// UnmarshalAddress decodes an address of dialect d from buf, returning the
// number of bytes consumed.
func UnmarshalAddress(d pointcode.Dialect, buf []byte) (Address, int, error) {
	if len(buf) < 1 {
		return Address{}, 0, ErrShortAddress
	}
	ind := buf[0]
	off := 1
	a := Address{
		HasPC:  ind&indPC != 0,
		HasSSN: ind&indSSN != 0,
		HasGT:  ind&indGT != 0,
	}

	if a.HasPC {
		n, err := pointcode.Octets(d)
		if err != nil {
			return Address{}, 0, err
		}
		if len(buf) < off+n {
			return Address{}, 0, ErrShortAddress
		}
		pc, err := pointcode.Unpack(d, buf[off:off+n])
		if err != nil {
			return Address{}, 0, err
		}
		a.PC = pc
		off += n
	}
	if a.HasSSN {
		if len(buf) < off+1 {
			return Address{}, 0, ErrShortAddress
		}
		a.SSN = buf[off]
		off++
	}
	if a.HasGT {
		if len(buf) < off+6 {
			return Address{}, 0, ErrShortAddress
		}
		a.GT.NumberingPlan = buf[off]
		a.GT.Encoding = buf[off+1]
		a.GT.TranslationType = buf[off+2]
		a.GT.Nature = buf[off+3]
		digitCount := int(buf[off+4])
		byteCount := int(buf[off+5])
		off += 6
		if len(buf) < off+byteCount {
			return Address{}, 0, ErrShortAddress
		}
		a.GT.Digits = unpackDigitsBCD(buf[off : off+byteCount])
		if len(a.GT.Digits) > digitCount {
			a.GT.Digits = a.GT.Digits[:digitCount]
		}
		off += byteCount
	}
	return a, off, nil
}

// packDigitsBCD/unpackDigitsBCD duplicate isup.PackDigits/UnpackDigits's
// Q.763 BCD convention locally: sccp must not import isup (isup will, in a
// full deployment, sit above sccp, and a reverse import would cycle).
func packDigitsBCD(digits string) []byte {
	buf := make([]byte, 0, (len(digits)+1)/2)
	for i := 0; i < len(digits); i += 2 {
		lo := digits[i] - '0'
		hi := byte(0x0F)
		if i+1 < len(digits) {
			hi = digits[i+1] - '0'
		}
		buf = append(buf, lo|(hi<<4))
	}
	return buf
}

func unpackDigitsBCD(buf []byte) string {
	out := make([]byte, 0, len(buf)*2)
	for _, b := range buf {
		lo := b & 0x0F
		hi := b >> 4
		out = append(out, '0'+lo)
		if hi == 0x0F {
			break
		}
		out = append(out, '0'+hi)
	}
	return string(out)
}
