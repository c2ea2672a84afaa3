package tcap

import (
	"fmt"
	"sync"
	"time"

	ss7core "github.com/nordiccore/ss7core"
	"github.com/nordiccore/ss7core/internal/telemetry"
	"github.com/nordiccore/ss7core/sccp"
)

// Sender is the SCCP transport contract Controller sends TCAP packages
// through, addressed by the SCCP user on the far end.
type Sender interface {
	SendTCAP(dest sccp.Address, raw []byte) error
}

// Package is a fully decoded TCAP package: the outer type, both
// transaction IDs (RemoteID absent on Begin/Unidirectional), the optional
// dialogue portion, and the component list.
type Package struct {
	Type     PackageType
	LocalID  uint32
	RemoteID uint32
	HasRemote bool
	Dialogue Dialogue
	Components []Component
	Abort    *Problem
}

// Controller is the TCAP transaction layer: one per dialect, owning the
// transaction set and the inactivity-timeout sweep, per spec.md §4.8.
// Grounded on isup.Controller's inbound-channel-drained-by-Tick shape.
type Controller struct {
	ss7core.Base

	mu       sync.Mutex
	dialect  Dialect
	sender   Sender
	pool     *idPool
	txns     map[uint32]*Transaction
	inactivity time.Duration

	inbound chan inboundRaw

	log    telemetry.Logger
	metric *telemetry.Metrics
	counts counters
}

type inboundRaw struct {
	from sccp.Address
	data []byte
}

// NewController returns a Controller for dialect d.
func NewController(name string, d Dialect) *Controller {
	return &Controller{
		Base:       ss7core.NewBase(name, "tcap"),
		dialect:    d,
		pool:       newIDPool(),
		txns:       make(map[uint32]*Transaction),
		inactivity: 30 * time.Second,
		inbound:    make(chan inboundRaw, 256),
	}
}

// SetSender attaches the SCCP transport Controller transmits through.
func (c *Controller) SetSender(s Sender) { c.sender = s }

// SetMetrics attaches the shared prometheus collector set.
func (c *Controller) SetMetrics(m *telemetry.Metrics) { c.metric = m }

// Initialize implements ss7core.Component, applying inactivity_ms.
func (c *Controller) Initialize(params map[string]any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := params["inactivity_ms"]; ok {
		if ms, ok := v.(int); ok {
			c.inactivity = time.Duration(ms) * time.Millisecond
		}
	}
	c.log = telemetry.New(nil, c.Name()).WithLevel(c.DebugLevel())
	return true
}

// Begin starts a new transaction, allocating a local ID and sending a
// TC-BEGIN carrying dl and comps at once, and returns the transaction for
// the caller to drive further, per spec.md §4.8's Idle→PackageSent
// transition.
func (c *Controller) Begin(now time.Time, dest sccp.Address, dl Dialogue, comps []Component) *Transaction {
	t := &Transaction{
		LocalID:    c.pool.alloc(),
		State:      PackageSent,
		Dest:       dest,
		inactivity: ss7core.NewTimer(c.inactivity),
		dialogue:   dl,
		components: append([]Component(nil), comps...),
	}
	t.inactivity.Start(now)

	c.mu.Lock()
	c.txns[t.LocalID] = t
	c.mu.Unlock()

	c.send(t.Dest, Package{Type: Begin, LocalID: t.LocalID, Dialogue: dl, Components: t.components})
	t.components = nil
	return t
}

// ErrUnknownTransaction signals an operation against an unregistered local
// transaction ID.
var ErrUnknownTransaction = fmt.Errorf("tcap: unknown transaction")

// Continue sends a TC-CONTINUE for an Active transaction, flushing any
// queued components and resetting the inactivity timer (spec.md §4.8,
// "TimerReset").
func (c *Controller) Continue(now time.Time, localID uint32) error {
	c.mu.Lock()
	t, ok := c.txns[localID]
	c.mu.Unlock()
	if !ok {
		return ErrUnknownTransaction
	}
	t.inactivity.Start(now)
	c.send(t.Dest, Package{Type: Continue, LocalID: t.LocalID, RemoteID: t.RemoteID, HasRemote: true, Components: t.components})
	t.components = nil
	t.State = Active
	return nil
}

// End releases a transaction: basic end sends TC-END carrying any queued
// components; prearranged end releases both sides locally without
// transmitting a package, per spec.md §4.8's EndFlag.
func (c *Controller) End(localID uint32, flag EndFlag) error {
	c.mu.Lock()
	t, ok := c.txns[localID]
	if ok {
		delete(c.txns, localID)
	}
	c.mu.Unlock()
	if !ok {
		return ErrUnknownTransaction
	}
	c.pool.release(localID)
	if flag == PrearrangedEnd {
		return nil
	}
	c.send(t.Dest, Package{Type: End, LocalID: t.LocalID, RemoteID: t.RemoteID, HasRemote: true, Components: t.components})
	return nil
}

// Abort releases localID and sends TC-ABORT carrying problem.
func (c *Controller) Abort(localID uint32, problem Problem) error {
	c.mu.Lock()
	t, ok := c.txns[localID]
	if ok {
		delete(c.txns, localID)
	}
	c.mu.Unlock()
	if !ok {
		return ErrUnknownTransaction
	}
	c.pool.release(localID)
	c.send(t.Dest, Package{Type: Abort, LocalID: t.LocalID, RemoteID: t.RemoteID, HasRemote: true, Abort: &problem})
	c.mu.Lock()
	c.counts.abnormal++
	c.mu.Unlock()
	return nil
}

// ReceiveSCCP implements the SCCP-user contract: enqueue an inbound TCAP
// package (dropping it when the queue is full), decoded when the next Tick
// drains the queue.
func (c *Controller) ReceiveSCCP(from sccp.Address, raw []byte) {
	select {
	case c.inbound <- inboundRaw{from: from, data: raw}:
	default:
	}
}

// Tick drains inbound packages and sweeps inactivity timeouts, per spec.md
// §4.8.
func (c *Controller) Tick(now time.Time) time.Duration {
drain:
	for {
		select {
		case r := <-c.inbound:
			c.handleInbound(now, r)
		default:
			break drain
		}
	}

	c.mu.Lock()
	expired := make([]uint32, 0)
	for id, t := range c.txns {
		if t.inactivity.Check(now) {
			expired = append(expired, id)
		}
	}
	c.mu.Unlock()

	for _, id := range expired {
		c.log.Warnf("transaction %d inactive, aborting", id)
		_ = c.Abort(id, Problem{Category: TransactionProblem, Code: 1})
	}

	return 1 * time.Second
}

func (c *Controller) handleInbound(now time.Time, r inboundRaw) {
	pkg, err := Unmarshal(c.dialect, r.data)
	if err != nil {
		c.mu.Lock()
		c.counts.discarded++
		c.mu.Unlock()
		return
	}
	c.mu.Lock()
	c.counts.incoming++
	if c.metric != nil {
		c.metric.TCAPCounters.WithLabelValues(c.dialect.String(), "incoming").Inc()
	}
	c.mu.Unlock()

	switch pkg.Type {
	case Unidirectional:
		c.dispatch(pkg.Components)
	case Begin:
		t := &Transaction{
			LocalID:    c.pool.alloc(),
			RemoteID:   pkg.LocalID,
			State:      PackageReceived,
			Dest:       r.from,
			inactivity: ss7core.NewTimer(c.inactivity),
		}
		t.inactivity.Start(now)
		c.mu.Lock()
		c.txns[t.LocalID] = t
		c.mu.Unlock()
		c.dispatch(pkg.Components)
	case Continue:
		c.mu.Lock()
		t, ok := c.txns[pkg.RemoteID]
		c.mu.Unlock()
		if !ok {
			return
		}
		t.inactivity.Start(now)
		t.State = Active
		c.dispatch(pkg.Components)
	case End:
		c.mu.Lock()
		if _, ok := c.txns[pkg.RemoteID]; ok {
			delete(c.txns, pkg.RemoteID)
		}
		c.mu.Unlock()
		c.pool.release(pkg.RemoteID)
		c.dispatch(pkg.Components)
	case Abort:
		c.mu.Lock()
		delete(c.txns, pkg.RemoteID)
		c.counts.abnormal++
		c.mu.Unlock()
		c.pool.release(pkg.RemoteID)
	}
}

// dispatch adds inbound components to the normal tally; it does not hand
// them to any user. This module stops at the transaction/component
// boundary (spec.md §4.8's scope) and does no application-layer
// interpretation (MAP, CAP, INAP).
func (c *Controller) dispatch(comps []Component) {
	c.mu.Lock()
	c.counts.normal += len(comps)
	c.mu.Unlock()
}

func (c *Controller) send(dest sccp.Address, pkg Package) {
	c.mu.Lock()
	c.counts.outgoing++
	if c.metric != nil {
		c.metric.TCAPCounters.WithLabelValues(c.dialect.String(), "outgoing").Inc()
	}
	c.mu.Unlock()
	if c.sender == nil {
		return
	}
	raw := Marshal(c.dialect, pkg)
	_ = c.sender.SendTCAP(dest, raw)
}

// Control implements ss7core.Component.
func (c *Controller) Control(params map[string]any) bool {
	op, _ := params["operation"].(string)
	return op == "Status"
}

// Destroyed implements ss7core.Component.
func (c *Controller) Destroyed() {}
