package ss7core

import "io"

// PacketDirection tags a dumped packet as sent or received, per spec.md §4.2.
type PacketDirection int

const (
	PacketSent PacketDirection = iota
	PacketReceived
)

// Dumper is the contract a dump-capable component offers to an external
// collaborator (the dump writer itself is out of scope, per spec.md §1/§4.2).
// For each packet sent or received, the component writes a framed record to
// the configured stream via WriteFrame.
type Dumper interface {
	// SetDump attaches (or, with w == nil, detaches) the dump target and a
	// type tag identifying the protocol layer to the record.
	SetDump(w io.Writer, typeTag string)
}

// DumpSink implements the per-record framing a Dumper writes to: a type tag,
// a direction, a timestamp (implicit in the frame, left to the writer) and
// the raw bytes. The core only defines the interface; any concrete encoding
// is the external collaborator's concern.
type DumpSink interface {
	WriteFrame(typeTag string, dir PacketDirection, payload []byte) error
}
