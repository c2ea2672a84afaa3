package sccp

import (
	"sync"
)

// translation is one global-title-translation table entry: a digit prefix
// match against (numbering plan, translation type) resolves to a concrete
// SSN and/or point code, mirroring mtp3.Route's candidate-table shape
// generalized to prefix matching instead of exact destination lookup.
type translation struct {
	translationType uint8
	prefix          string
	result          Address
}

// GTT is a global title translation table: longest-prefix match within a
// translation type, per spec.md §4.7.
type GTT struct {
	mu      sync.Mutex
	entries []translation
}

// NewGTT returns an empty translation table.
func NewGTT() *GTT {
	return &GTT{}
}

// AddEntry registers a translation for digit strings beginning with prefix
// under translationType. Entries are matched longest-prefix-first
// regardless of insertion order.
func (g *GTT) AddEntry(translationType uint8, prefix string, result Address) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.entries = append(g.entries, translation{translationType: translationType, prefix: prefix, result: result})
}

// ErrNoTranslation is the NoTranslationForThisAddress return cause that
// goes on the UDTS/XUDTS/LUDTS service message the caller sends back when no
// entry matches, per spec.md §4.7. It is a ReturnCause, not the error
// Translate returns; test that error with IsNoTranslation.
var ErrNoTranslation = NoTranslationForThisAddress

// Translate resolves a global title to a concrete address. When gt already
// carries a usable SSN or point code untouched by translation, callers
// should prefer routing on that directly; Translate is only consulted when
// HasGT is set and HasPC is false (spec.md §4.7, routeOnGT indicator).
func (g *GTT) Translate(gt GlobalTitle) (Address, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	best := -1
	bestLen := -1
	for i, e := range g.entries {
		if e.translationType != gt.TranslationType {
			continue
		}
		if len(e.prefix) > len(gt.Digits) {
			continue
		}
		if gt.Digits[:len(e.prefix)] != e.prefix {
			continue
		}
		if len(e.prefix) > bestLen {
			bestLen = len(e.prefix)
			best = i
		}
	}
	if best < 0 {
		return Address{}, translateError{}
	}
	return g.entries[best].result, nil
}

// translateError is the concrete error Translate returns; ErrNoTranslation
// above is a ReturnCause, not an error, so this wraps a stable sentinel
// callers can compare against with errors.Is-style equality on the type.
type translateError struct{}

func (translateError) Error() string { return "sccp: no global title translation" }

// IsNoTranslation reports whether err is the "no matching entry" outcome.
func IsNoTranslation(err error) bool {
	_, ok := err.(translateError)
	return ok
}

// RouteOrTranslate resolves the destination address for an outgoing
// message's Called party: if it already carries a usable point code,
// returns it unchanged; otherwise consults gtt by global title, producing
// the service message's ReturnCause on failure.
func RouteOrTranslate(gtt *GTT, called Address) (Address, ReturnCause, error) {
	if called.HasPC {
		return called, 0, nil
	}
	if !called.HasGT {
		return Address{}, NoTranslationForThisAddress, translateError{}
	}
	resolved, err := gtt.Translate(called.GT)
	if err != nil {
		return Address{}, NoTranslationForThisAddress, err
	}
	return resolved, 0, nil
}

// ServiceReject builds the UDTS/XUDTS/LUDTS counterpart to in, carrying
// cause as the return reason, per spec.md §4.7 ("fallback returned via
// UDTS/XUDTS/LUDTS service messages").
func ServiceReject(in Message, cause ReturnCause) Message {
	serviceType := UDTS
	switch in.Type {
	case XUDT:
		serviceType = XUDTS
	case LUDT:
		serviceType = LUDTS
	}
	return Message{
		Type:        serviceType,
		ProtoClass:  in.ProtoClass,
		Called:      in.Calling,
		Calling:     in.Called,
		Data:        in.Data,
		HopCounter:  in.HopCounter,
		ReturnCause: cause,
	}
}

// decrementHop reports whether in's hop counter, if present, has reached
// zero, per Q.714's hop-counter-violation discard rule; serviceType carries
// HopCounterViolation back to the originator in that case.
func decrementHop(in *Message) bool {
	if in.Type != XUDT && in.Type != LUDT {
		return false
	}
	if in.HopCounter == 0 {
		return true
	}
	in.HopCounter--
	return false
}
