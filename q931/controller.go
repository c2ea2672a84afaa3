package q931

import (
	"fmt"
	"sync"
	"time"

	ss7core "github.com/nordiccore/ss7core"
	"github.com/nordiccore/ss7core/internal/telemetry"
)

// Sender is the Q.921 link contract Controller sends Q.931 messages
// through.
type Sender interface {
	SendData(payload []byte) error
}

type inboundRaw struct{ data []byte }

// Controller is the Q.931 Layer-3 component: one per Q.921 link, owning
// the per-call-reference Call set and the restart procedure, per spec.md
// §4.9. Grounded on isup.Controller's inbound-channel-drained-by-Tick
// shape, generalized from ISUP's per-CIC keying to Q.931's per-call-
// reference keying.
type Controller struct {
	ss7core.Base

	mu     sync.Mutex
	sender Sender
	sw     SwitchType

	calls  map[uint32]*Call
	nextRef uint32

	restarting bool
	restartN   *ss7core.Counter
	t316       *ss7core.Timer

	inbound chan inboundRaw

	log    telemetry.Logger
	metric *telemetry.Metrics
}

// NewController returns a Controller driving calls under switch type sw.
func NewController(name string, sw SwitchType) *Controller {
	return &Controller{
		Base:     ss7core.NewBase(name, "q931"),
		sw:       sw,
		calls:    make(map[uint32]*Call),
		restartN: ss7core.NewCounter(2),
		t316:     ss7core.NewTimer(120 * time.Second),
		inbound:  make(chan inboundRaw, 256),
	}
}

// SetSender attaches the Q.921 link Controller transmits through.
func (ctl *Controller) SetSender(s Sender) { ctl.sender = s }

// SetMetrics attaches the shared prometheus collector set.
func (ctl *Controller) SetMetrics(m *telemetry.Metrics) { ctl.metric = m }

// notify forwards a call-lifecycle event to the engine's Notifier, mirroring
// isup.Controller's notify (spec.md §6's call-event vocabulary).
func (ctl *Controller) notify(c *Call, event string) {
	ctl.log.Debugf("ref %d: %s", c.Ref.Value, event)
	e := ctl.Engine()
	if e == nil {
		return
	}
	e.Notify(ss7core.Notification{
		Component: ctl.Name(),
		Params:    map[string]any{"event": event, "ref": c.Ref.Value},
	})
}

// callEventFor maps a Q.931 state transition onto the spec.md §6 call-event
// vocabulary this package's message set drives.
func callEventFor(before, after State) (string, bool) {
	switch {
	case after == Active && before != Active:
		return "Answer", true
	case (after == CallDelivered || after == CallReceived) && before != after:
		return "Ringing", true
	case after == Null && before != Null:
		return "Release", true
	default:
		return "", false
	}
}

// Initialize implements ss7core.Component. Of the timer keys it applies
// only t316_ms; the per-call timers T302..T314 keep NewCall's defaults.
func (ctl *Controller) Initialize(params map[string]any) bool {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	if v, ok := params["t316_ms"].(int); ok {
		ctl.t316.SetInterval(time.Duration(v) * time.Millisecond)
	}
	ctl.log = telemetry.New(nil, ctl.Name()).WithLevel(ctl.DebugLevel())
	return true
}

// Originate starts a new outgoing call, allocating a fresh call reference.
func (ctl *Controller) Originate(now time.Time, calledDigits, callingDigits string, complete bool) (*Call, error) {
	ctl.mu.Lock()
	ctl.nextRef++
	ref := CallRef{Value: ctl.nextRef, Len: 1}
	c := NewCall(ref, ctl.sw)
	ctl.calls[ref.Value] = c
	ctl.mu.Unlock()

	if err := c.Originate(now, calledDigits, callingDigits, complete); err != nil {
		ctl.mu.Lock()
		delete(ctl.calls, ref.Value)
		ctl.mu.Unlock()
		return nil, err
	}
	ctl.flush(c)
	ctl.notify(c, "NewCall")
	return c, nil
}

// ReceiveQ921 implements the Q.921 user contract, enqueueing a raw inbound
// Q.931 message for the next Tick.
func (ctl *Controller) ReceiveQ921(raw []byte) {
	select {
	case ctl.inbound <- inboundRaw{data: raw}:
	default:
	}
}

// Tick drains inbound messages, advances every call's timers, flushes
// queued outbound messages, reaps Null calls, and drives the restart
// procedure's T316.
func (ctl *Controller) Tick(now time.Time) time.Duration {
drain:
	for {
		select {
		case r := <-ctl.inbound:
			ctl.handleInbound(now, r.data)
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
		if event, ok := callEventFor(before, c.State()); ok {
			ctl.notify(c, event)
		}
		if terminal {
			ctl.mu.Lock()
			delete(ctl.calls, c.Ref.Value)
			ctl.mu.Unlock()
		}
	}

	ctl.mu.Lock()
	restarting := ctl.restarting && ctl.t316.Check(now)
	ctl.mu.Unlock()
	if restarting {
		ctl.retryRestart(now)
	}

	return 20 * time.Millisecond
}

func (ctl *Controller) handleInbound(now time.Time, raw []byte) {
	m, err := Unmarshal(raw)
	if err != nil {
		return
	}

	if m.Type == Restart {
		ctl.handleRestart(now, m)
		return
	}
	if m.Type == RestartAck {
		ctl.mu.Lock()
		ctl.restarting = false
		ctl.t316.Stop()
		ctl.mu.Unlock()
		return
	}

	ctl.mu.Lock()
	c, ok := ctl.calls[m.Ref.Value]
	ctl.mu.Unlock()

	if !ok {
		if m.Type != Setup {
			return
		}
		c = NewCall(m.Ref, ctl.sw)
		ctl.mu.Lock()
		ctl.calls[m.Ref.Value] = c
		ctl.mu.Unlock()
		ctl.notify(c, "NewCall")
	}

	before := c.State()
	c.Handle(now, m)
	ctl.flush(c)
	if event, ok := callEventFor(before, c.State()); ok {
		ctl.notify(c, event)
	}
}

// RequestRestart begins the restart procedure (spec.md §4.9's "Restart
// procedure"): send RESTART, arm T316, retry up to N times until a
// RESTART ACK arrives.
func (ctl *Controller) RequestRestart(now time.Time, class RestartClass) {
	ctl.log.Infof("requesting restart, class %v", class)
	ctl.mu.Lock()
	ctl.restarting = true
	ctl.restartN.Reset()
	ctl.mu.Unlock()
	ctl.sendRestart(class)
	ctl.mu.Lock()
	ctl.t316.Start(now)
	ctl.mu.Unlock()
}

func (ctl *Controller) retryRestart(now time.Time) {
	ctl.mu.Lock()
	atMax := ctl.restartN.Inc()
	ctl.mu.Unlock()
	if atMax {
		ctl.log.Warnf("restart retries exhausted, giving up")
		ctl.mu.Lock()
		ctl.restarting = false
		ctl.t316.Stop()
		ctl.mu.Unlock()
		return
	}
	ctl.sendRestart(RestartSingleInterface)
	ctl.mu.Lock()
	ctl.t316.Start(now)
	ctl.mu.Unlock()
}

func (ctl *Controller) sendRestart(class RestartClass) {
	m := Message{Type: Restart, Ref: CallRef{Value: 0, Len: 1}, IEs: []IE{RestartIE(class)}}
	ctl.send(m)
}

func (ctl *Controller) handleRestart(now time.Time, m Message) {
	class := RestartSingleInterface
	if ie, ok := m.IE(IERestartIndicator); ok && len(ie.Value) > 0 {
		class = RestartClass(ie.Value[0] &^ 0x80)
	}
	ctl.mu.Lock()
	ctl.calls = make(map[uint32]*Call)
	ctl.mu.Unlock()
	ctl.send(Message{Type: RestartAck, Ref: m.Ref, IEs: []IE{RestartIE(class)}})
}

func (ctl *Controller) flush(c *Call) {
	for _, m := range c.DrainOutbound() {
		ctl.send(m)
	}
}

func (ctl *Controller) send(m Message) {
	ctl.mu.Lock()
	sender := ctl.sender
	metric := ctl.metric
	ctl.mu.Unlock()
	if metric != nil {
		metric.Q931Counters.WithLabelValues(m.Type.String(), "outgoing").Inc()
	}
	if sender == nil {
		return
	}
	_ = sender.SendData(m.Marshal())
}

// ErrUnknownCallRef signals an operation against an untracked call
// reference.
var ErrUnknownCallRef = fmt.Errorf("q931: unknown call reference")

// Call returns the Call for ref, if tracked.
func (ctl *Controller) Call(ref uint32) (*Call, error) {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	c, ok := ctl.calls[ref]
	if !ok {
		return nil, ErrUnknownCallRef
	}
	return c, nil
}

// Control implements ss7core.Component.
func (ctl *Controller) Control(params map[string]any) bool {
	op, _ := params["operation"].(string)
	return op == "Status"
}

// Destroyed implements ss7core.Component.
func (ctl *Controller) Destroyed() {}
