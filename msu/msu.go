// Package msu defines the Message Signal Unit envelope MTP3 routes between
// layer-4 protocols, per spec.md §3.
package msu

import (
	"fmt"

	"github.com/nordiccore/ss7core/pointcode"
)

// ServiceIndicator selects the layer-4 user, per Q.704 §14.2.
type ServiceIndicator uint8

const (
	SISNM  ServiceIndicator = 0 // signalling network management
	SIMTN  ServiceIndicator = 1 // maintenance regular
	SISCCP ServiceIndicator = 3
	SITUP  ServiceIndicator = 4
	SIISUP ServiceIndicator = 5
	SIBICC ServiceIndicator = 9
)

func (si ServiceIndicator) String() string {
	switch si {
	case SISNM:
		return "SNM"
	case SIMTN:
		return "MTN"
	case SISCCP:
		return "SCCP"
	case SITUP:
		return "TUP"
	case SIISUP:
		return "ISUP"
	case SIBICC:
		return "BICC"
	default:
		return fmt.Sprintf("SI(%d)", uint8(si))
	}
}

// NetworkIndicator distinguishes national from international numbering, per
// Q.704 §14.2.
type NetworkIndicator uint8

const (
	International      NetworkIndicator = 0
	InternationalSpare NetworkIndicator = 1
	National           NetworkIndicator = 2
	NationalSpare      NetworkIndicator = 3
)

// SIO is the Service Information Octet: 4-bit service indicator plus a
// subservice field of priority (2 bits) and network indicator (2 bits).
type SIO struct {
	Service  ServiceIndicator
	Priority uint8 // 0..3
	Network  NetworkIndicator
}

// Byte packs the SIO into its single wire octet: SI in the low nibble,
// priority then network indicator in the high nibble (Q.704 figure 6).
func (s SIO) Byte() byte {
	return byte(s.Service&0x0F) | (s.Priority&0x03)<<4 | (byte(s.Network)&0x03)<<6
}

// ParseSIO unpacks an SIO octet.
func ParseSIO(b byte) SIO {
	return SIO{
		Service:  ServiceIndicator(b & 0x0F),
		Priority: (b >> 4) & 0x03,
		Network:  NetworkIndicator((b >> 6) & 0x03),
	}
}

// MSU is a raw Message Signal Unit: SIO octet, routing label, then the
// service payload, per spec.md §3.
type MSU struct {
	SIO     SIO
	Label   pointcode.Label
	Payload []byte
}

// MarshalBinary encodes the MSU for transmission over MTP2.
func (m MSU) MarshalBinary() ([]byte, error) {
	labelBuf, err := pointcode.PackLabel(m.Label)
	if err != nil {
		return nil, fmt.Errorf("msu: pack label: %w", err)
	}
	buf := make([]byte, 0, 1+len(labelBuf)+len(m.Payload))
	buf = append(buf, m.SIO.Byte())
	buf = append(buf, labelBuf...)
	buf = append(buf, m.Payload...)
	return buf, nil
}

// Unmarshal decodes an MSU received over MTP2, given the point-code dialect
// in effect for the receiving linkset.
func Unmarshal(d pointcode.Dialect, raw []byte) (MSU, error) {
	if len(raw) < 1 {
		return MSU{}, fmt.Errorf("msu: empty buffer")
	}
	sio := ParseSIO(raw[0])
	label, err := pointcode.UnpackLabel(d, raw[1:])
	if err != nil {
		return MSU{}, fmt.Errorf("msu: unpack label: %w", err)
	}
	n, _ := pointcode.Octets(d)
	labelLen := 2*n + 1
	return MSU{SIO: sio, Label: label, Payload: raw[1+labelLen:]}, nil
}
