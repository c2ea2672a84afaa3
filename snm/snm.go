// Package snm implements MTP3 Signalling Network Management message
// encoding and the handler that drives route-state changes inside a
// mtp3.Router from COO/COA, ECO/ECA, TFP/TFA/TFR/TFC, RST/RSR, the LIN
// family, UPU and TRA, per spec.md §4.5 ("Management (SNM)"). Grounded on
// the mtp2 Frame/Unmarshal shape (a small leading type tag plus a fixed
// parameter layout) generalized to SNM's one-octet heading code.
package snm

import (
	"fmt"

	"github.com/nordiccore/ss7core/pointcode"
)

// Heading is the SNM message type (H0/H1 heading codes collapsed to one
// byte for this codec, Q.704 §9-15).
type Heading uint8

const (
	COO Heading = iota // changeover order
	COA                // changeover acknowledgement
	ECO                // emergency changeover order
	ECA                // emergency changeover acknowledgement
	TFP                // transfer prohibited
	TFA                // transfer allowed
	TFR                // transfer restricted
	TFC                // transfer controlled
	RST                // route-set test
	RSR                // route-set test, restricted
	LIN                // link inhibit
	LUN                // link uninhibit
	LIA                // link inhibit acknowledgement
	LUA                // link uninhibit acknowledgement
	LID                // link inhibit denied
	LFU                // link forced uninhibit
	LLT                // link local inhibit test
	LRT                // link remote inhibit test
	UPU                // user part unavailable
	TRA                // traffic restart allowed
)

func (h Heading) String() string {
	names := [...]string{
		"COO", "COA", "ECO", "ECA", "TFP", "TFA", "TFR", "TFC", "RST", "RSR",
		"LIN", "LUN", "LIA", "LUA", "LID", "LFU", "LLT", "LRT", "UPU", "TRA",
	}
	if int(h) < len(names) {
		return names[h]
	}
	return fmt.Sprintf("heading(%d)", uint8(h))
}

// Message is a decoded SNM signal: a heading plus the affected destination
// (for route-set messages) and an optional cause, per Q.704 figures 9-15.
type Message struct {
	Heading Heading
	Dest    pointcode.PC // affected destination, for TFP/TFA/TFR/TFC/RST/RSR/TRA/UPU
	SLC     uint8        // signalling link code, for COO/COA/ECO/ECA/LIN family
	Cause   uint8        // UPU cause byte (Q.704 §15.17.5)
}

// Marshal encodes m onto the wire: heading byte, then destination point
// code where applicable (packed in m.Dest's own dialect; d is not used),
// then SLC or cause as a trailing byte.
func (m Message) Marshal(d pointcode.Dialect) ([]byte, error) {
	buf := []byte{byte(m.Heading)}
	switch m.Heading {
	case TFP, TFA, TFR, TFC, RST, RSR, TRA, UPU:
		pc, err := pointcode.Pack(m.Dest)
		if err != nil {
			return nil, fmt.Errorf("snm: pack dest: %w", err)
		}
		buf = append(buf, pc...)
		if m.Heading == UPU {
			buf = append(buf, m.Cause)
		}
	case COO, COA, ECO, ECA, LIN, LUN, LIA, LUA, LID, LFU, LLT, LRT:
		buf = append(buf, m.SLC)
	}
	return buf, nil
}

// ErrShortMessage signals a buffer too short to hold its heading code.
var ErrShortMessage = fmt.Errorf("snm: message shorter than heading code")

// Unmarshal decodes an SNM message of point-code dialect d.
func Unmarshal(d pointcode.Dialect, buf []byte) (Message, error) {
	if len(buf) < 1 {
		return Message{}, ErrShortMessage
	}
	m := Message{Heading: Heading(buf[0])}
	rest := buf[1:]

	n, err := pointcode.Octets(d)
	if err != nil {
		return Message{}, err
	}

	switch m.Heading {
	case TFP, TFA, TFR, TFC, RST, RSR, TRA, UPU:
		if len(rest) < n {
			return Message{}, fmt.Errorf("snm: need %d octets for destination, got %d", n, len(rest))
		}
		pc, err := pointcode.Unpack(d, rest[:n])
		if err != nil {
			return Message{}, err
		}
		m.Dest = pc
		if m.Heading == UPU && len(rest) > n {
			m.Cause = rest[n]
		}
	case COO, COA, ECO, ECA, LIN, LUN, LIA, LUA, LID, LFU, LLT, LRT:
		if len(rest) < 1 {
			return Message{}, fmt.Errorf("snm: need 1 octet for SLC")
		}
		m.SLC = rest[0]
	}
	return m, nil
}

// RouteController is the subset of mtp3.Router that a Handler drives.
type RouteController interface {
	SetRouteState(dest pointcode.PC, state int)
	RouteState(dest pointcode.PC) int
	BeginRestart()
	CompleteRestart()
	SetLinkInhibit(slc uint8, remote bool)
	SetLinkUninhibit(slc uint8, remote bool)
}

// Sender transmits an encoded SNM message toward a destination.
type Sender interface {
	SendSNM(dest pointcode.PC, raw []byte) error
}

// Handler is the Layer-4 SNM component: it decodes inbound SNM MSUs and
// applies the corresponding route-state transition to its RouteController,
// per spec.md §4.5 ("SNM drives route-state updates inside the router").
type Handler struct {
	dialect    pointcode.Dialect
	controller RouteController
	sender     Sender
}

// NewHandler returns a Handler for dialect d, driving controller and using
// sender for any reply traffic (e.g. COA in response to COO).
func NewHandler(d pointcode.Dialect, controller RouteController, sender Sender) *Handler {
	return &Handler{dialect: d, controller: controller, sender: sender}
}

// RouteState mirrors mtp3.RouteState's int values without importing mtp3,
// avoiding an import cycle (mtp3 imports snm's RouteController contract
// conceptually but snm must not import mtp3).
const (
	StateUnknown = iota
	StateProhibited
	StateRestricted
	StateCongestion
	StateAllowed
)

// Handle applies one decoded SNM message's effect.
func (h *Handler) Handle(m Message) {
	switch m.Heading {
	case TFP:
		h.controller.SetRouteState(m.Dest, StateProhibited)
	case TFA:
		h.controller.SetRouteState(m.Dest, StateAllowed)
	case TFR:
		h.controller.SetRouteState(m.Dest, StateRestricted)
	case TFC:
		h.controller.SetRouteState(m.Dest, StateCongestion)
	case RST, RSR:
		// route-set test: reply with the current state as a TF* message.
		state := h.controller.RouteState(m.Dest)
		reply := stateToHeading(state)
		raw, err := Message{Heading: reply, Dest: m.Dest}.Marshal(h.dialect)
		if err == nil && h.sender != nil {
			_ = h.sender.SendSNM(m.Dest, raw)
		}
	case TRA:
		h.controller.CompleteRestart()
	case LIN:
		h.controller.SetLinkInhibit(m.SLC, true)
		h.replySLC(LIA, m.SLC)
	case LUN:
		h.controller.SetLinkUninhibit(m.SLC, true)
		h.replySLC(LUA, m.SLC)
	case LFU:
		h.controller.SetLinkUninhibit(m.SLC, true)
	case COO:
		h.replySLC(COA, m.SLC)
	case ECO:
		h.replySLC(ECA, m.SLC)
	case UPU:
		// not acted on: the route table is unchanged and nothing is
		// reported to the host (Q.704 §15.17.5 concerns Layer 4).
	}
}

func stateToHeading(state int) Heading {
	switch state {
	case StateProhibited:
		return TFP
	case StateRestricted:
		return TFR
	case StateCongestion:
		return TFC
	default:
		return TFA
	}
}

func (h *Handler) replySLC(heading Heading, slc uint8) {
	if h.sender == nil {
		return
	}
	raw, err := Message{Heading: heading, SLC: slc}.Marshal(h.dialect)
	if err != nil {
		return
	}
	_ = h.sender.SendSNM(pointcode.PC{}, raw)
}
