package isup

import (
	"fmt"
	"io"
	"sync"
	"time"

	ss7core "github.com/nordiccore/ss7core"
	"github.com/nordiccore/ss7core/circuit"
	"github.com/nordiccore/ss7core/internal/telemetry"
	"github.com/nordiccore/ss7core/msu"
	"github.com/nordiccore/ss7core/pointcode"
)

// Sender is the MTP3 contract Controller sends ISUP MSUs through.
type Sender interface {
	Send(m msu.MSU) error
}

// Controller is the ISUP Layer-4 component: one per linkset-to-exchange
// relationship, owning a set of per-CIC Calls backed by a circuit.Group and
// draining inbound MSUs dispatched to it by mtp3.Layer3 on SIISUP (spec.md
// §4.6).
type Controller struct {
	ss7core.Base

	mu sync.Mutex

	dest    pointcode.PC
	local   pointcode.PC
	sender  Sender
	group   *circuit.Group
	rng     string // circuit.Group range name calls reserve from
	persist circuit.Persister

	calls map[uint16]*Call

	inbound chan msu.MSU

	dump    io.Writer
	dumpTag string
	log     telemetry.Logger
	metric  *telemetry.Metrics
}

// SetDump implements ss7core.Dumper: w receives a framed record for every
// ISUP MSU sent or received once w also implements ss7core.DumpSink (spec.md
// §4.2); the record format itself is the external collaborator's concern.
func (ctl *Controller) SetDump(w io.Writer, typeTag string) {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	ctl.dump = w
	ctl.dumpTag = typeTag
}

// notify forwards a call-lifecycle event to the engine's Notifier, per
// spec.md §6's call-event vocabulary ("NewCall, Accept, Connect, Complete,
// Progress, Ringing, Answer, Transfer, Suspend, Resume, Release, …").
func (ctl *Controller) notify(c *Call, event string) {
	ctl.log.Debugf("cic %d: %s", c.CIC, event)
	e := ctl.Engine()
	if e == nil {
		return
	}
	e.Notify(ss7core.Notification{
		Component: ctl.Name(),
		Params:    map[string]any{"event": event, "cic": c.CIC},
	})
}

// observeTransition increments the state-transition counter vector, per
// spec.md §4.6's call state machine.
func (ctl *Controller) observeTransition(before, after State) {
	if ctl.metric == nil || before == after {
		return
	}
	ctl.metric.ISUPCallState.WithLabelValues(before.String(), after.String()).Inc()
}

// callEventFor maps a state transition onto the spec.md §6 call-event
// vocabulary this package's message set actually drives.
func callEventFor(before, after State) (string, bool) {
	switch {
	case after == Accepted && before == Setup:
		return "Accept", true
	case after == Ringing && before == Accepted:
		return "Ringing", true
	case after == Answered && before != Answered:
		return "Answer", true
	case after == Released && before != Released:
		return "Release", true
	default:
		return "", false
	}
}

func (ctl *Controller) writeDump(dir ss7core.PacketDirection, payload []byte) {
	ctl.mu.Lock()
	w, tag := ctl.dump, ctl.dumpTag
	ctl.mu.Unlock()
	if w == nil {
		return
	}
	if sink, ok := w.(ss7core.DumpSink); ok {
		_ = sink.WriteFrame(tag, dir, payload)
	}
}

// NewController returns a Controller for dest, allocating calls from group
// via range rng.
func NewController(name string, dest pointcode.PC, group *circuit.Group, rng string) *Controller {
	return &Controller{
		Base:    ss7core.NewBase(name, "isup"),
		dest:    dest,
		group:   group,
		rng:     rng,
		calls:   make(map[uint16]*Call),
		inbound: make(chan msu.MSU, 256),
	}
}

// SetSender attaches the MTP3 layer Controller transmits through.
func (ctl *Controller) SetSender(s Sender) { ctl.sender = s }

// SetLocal records this controller's own point code, compared against dest
// to resolve glare (spec.md §4.6 "Glare": "the side with the lower point
// code wins").
func (ctl *Controller) SetLocal(pc pointcode.PC) { ctl.local = pc }

func (ctl *Controller) localWinsGlare() bool { return ctl.local.Less(ctl.dest) }

// SetPersister attaches the circuit persistence hook for the CtrlSave
// control operation (spec.md §10 supplemented feature).
func (ctl *Controller) SetPersister(p circuit.Persister) { ctl.persist = p }

// SetMetrics attaches the shared prometheus collector set.
func (ctl *Controller) SetMetrics(m *telemetry.Metrics) { ctl.metric = m }

// Initialize implements ss7core.Component.
func (ctl *Controller) Initialize(params map[string]any) bool {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	ctl.log = telemetry.New(nil, ctl.Name()).WithLevel(ctl.DebugLevel())
	return true
}

// ErrUnknownCIC signals an operation against a CIC with no Call record.
var ErrUnknownCIC = fmt.Errorf("isup: unknown CIC")

// StartCall reserves a circuit from the controller's configured range and
// begins an outgoing Call, per spec.md §4.6's Null→Setup transition.
func (ctl *Controller) StartCall(calledDigits, callingDigits string) (*Call, error) {
	return ctl.startCallWithCounter(calledDigits, callingDigits, ss7core.NewCounter(3))
}

// startCallWithCounter is StartCall with an explicit replace-counter,
// shared across glare-driven reselections so the replace bound (spec.md
// §4.6 "Circuit replacement") is enforced cumulatively, not reset on every
// retry.
func (ctl *Controller) startCallWithCounter(calledDigits, callingDigits string, counter *ss7core.Counter) (*Call, error) {
	circ, err := ctl.group.Reserve(ctl.rng, 0)
	if err != nil {
		return nil, err
	}
	c := NewCall(uint16(circ.Code()), circ)
	c.replaceCount = counter
	c.SetLocalWins(ctl.localWinsGlare())
	if err := c.Call(time.Now(), calledDigits, callingDigits); err != nil {
		circ.Release()
		return nil, err
	}

	ctl.mu.Lock()
	ctl.calls[c.CIC] = c
	ctl.mu.Unlock()

	ctl.flush(c)
	ctl.observeTransition(Null, c.State())
	ctl.notify(c, "NewCall")
	return c, nil
}

// ReceiveMSU implements mtp3.Layer3User, decoding an inbound ISUP MSU and
// routing it to (or creating) the call for its CIC.
func (ctl *Controller) ReceiveMSU(m msu.MSU) {
	ctl.writeDump(ss7core.PacketReceived, m.Payload)
	select {
	case ctl.inbound <- m:
	default:
	}
}

// Tick drains inbound MSUs, advances every call's timers, flushes queued
// outbound messages, and reaps Released calls.
func (ctl *Controller) Tick(now time.Time) time.Duration {
drain:
	for {
		select {
		case m := <-ctl.inbound:
			ctl.handleInbound(now, m)
		default:
			break drain
		}
	}

	ctl.mu.Lock()
	calls := make([]*Call, 0, len(ctl.calls))
	for _, c := range ctl.calls {
		calls = append(calls, c)
	}
	ctl.mu.Unlock()

	for _, c := range calls {
		before := c.State()
		terminal := c.Tick(now)
		ctl.flush(c)
		ctl.observeTransition(before, c.State())
		if event, ok := callEventFor(before, c.State()); ok {
			ctl.notify(c, event)
		}
		if terminal {
			ctl.mu.Lock()
			delete(ctl.calls, c.CIC)
			ctl.mu.Unlock()
		}
	}
	return 20 * time.Millisecond
}

func (ctl *Controller) handleInbound(now time.Time, raw msu.MSU) {
	decoded, err := Unmarshal(raw.Payload)
	if err != nil {
		return
	}

	ctl.mu.Lock()
	c, ok := ctl.calls[decoded.CIC]
	ctl.mu.Unlock()

	if !ok {
		if decoded.Type == IAM {
			circ := ctl.group.Circuit(uint(decoded.CIC))
			if circ == nil {
				ctl.sendUCIC(decoded.CIC)
				return
			}
			reserved, err := circ.Reserve(0)
			if err != nil || !reserved {
				ctl.sendRELLocal(decoded.CIC, CauseNormalClearing)
				return
			}
			c = NewCall(decoded.CIC, circ)
			c.state = Setup
			c.SetLocalWins(ctl.localWinsGlare())
			ctl.mu.Lock()
			ctl.calls[decoded.CIC] = c
			ctl.mu.Unlock()
			ctl.observeTransition(Null, Setup)
			ctl.notify(c, "NewCall")
			// the IAM that created the call is not fed to Call.Handle,
			// whose IAM case covers glare and answers anything else with CNF.
			return
		} else {
			ctl.sendUCIC(decoded.CIC)
			return
		}
	}

	before := c.State()
	missing := decoded.Type == IAM && len(decoded.Variable) == 0
	c.Handle(now, decoded, missing)
	ctl.flush(c)
	ctl.observeTransition(before, c.State())
	if event, ok := callEventFor(before, c.State()); ok {
		ctl.notify(c, event)
	}

	if calledDigits, callingDigits, counter, retry := c.GlareRetry(); retry {
		if _, err := ctl.startCallWithCounter(calledDigits, callingDigits, counter); err != nil {
			ctl.log.Warnf("glare: replacement circuit exhausted for %s: %v", calledDigits, err)
		}
	}
}

func (ctl *Controller) sendUCIC(cic uint16) {
	ctl.log.Warnf("cic %d: unequipped, sending UCIC", cic)
	raw, err := Message{Type: UCIC, CIC: cic}.Marshal()
	if err != nil || ctl.sender == nil {
		return
	}
	ctl.writeDump(ss7core.PacketSent, raw)
	_ = ctl.sender.Send(msu.MSU{
		SIO:     msu.SIO{Service: msu.SIISUP},
		Label:   pointcode.Label{Dest: ctl.dest},
		Payload: raw,
	})
}

func (ctl *Controller) sendRELLocal(cic uint16, cause Cause) {
	ctl.log.Warnf("cic %d: reserve failed, sending REL cause %d", cic, cause)
	raw, err := Message{Type: REL, CIC: cic, Variable: [][]byte{{byte(cause)}}}.Marshal()
	if err != nil || ctl.sender == nil {
		return
	}
	ctl.writeDump(ss7core.PacketSent, raw)
	_ = ctl.sender.Send(msu.MSU{
		SIO:     msu.SIO{Service: msu.SIISUP},
		Label:   pointcode.Label{Dest: ctl.dest},
		Payload: raw,
	})
}

func (ctl *Controller) flush(c *Call) {
	if ctl.sender == nil {
		return
	}
	for _, m := range c.DrainOutbound() {
		raw, err := m.Marshal()
		if err != nil {
			continue
		}
		ctl.writeDump(ss7core.PacketSent, raw)
		_ = ctl.sender.Send(msu.MSU{
			SIO:     msu.SIO{Service: msu.SIISUP},
			Label:   pointcode.Label{Dest: ctl.dest},
			Payload: raw,
		})
	}
}

// Control implements ss7core.Component, adding the CtrlSave supplemented
// operation (spec.md §10) alongside the standard engine "status" query.
func (ctl *Controller) Control(params map[string]any) bool {
	op, _ := params["operation"].(string)
	switch op {
	case "CtrlSave":
		if ctl.persist == nil || ctl.group == nil {
			return false
		}
		return ctl.group.SaveAll(0, ctl.persist) == nil
	case "Status":
		return true
	default:
		return false
	}
}

// Destroyed implements ss7core.Component.
func (ctl *Controller) Destroyed() {}
