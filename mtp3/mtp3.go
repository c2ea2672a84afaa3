// Package mtp3 implements the Q.704 network layer: linksets multiplexing
// Layer-2 links, an outgoing-route table per point-code dialect, SLS-based
// link selection, and dispatch of incoming MSUs to Layer-4 users by Service
// Indicator, per spec.md §4.5. Grounded on pascaldekloe-part5's
// session.Transport (a typed upward/downward channel contract a layer
// offers its user) generalized from a single connection to a set of
// linksets fanning into one router.
package mtp3

import (
	"fmt"
	"sync"
	"time"

	ss7core "github.com/nordiccore/ss7core"
	"github.com/nordiccore/ss7core/internal/telemetry"
	"github.com/nordiccore/ss7core/msu"
	"github.com/nordiccore/ss7core/pointcode"
)

// DataLink is the Layer-2 contract mtp3 consumes, satisfied by *mtp2.Link
// (and, for SIGTRAN, by sigtran transports).
type DataLink interface {
	Send(payload []byte) error
	Operational() bool
	Congestion() int
}

// InhibitFlag models the per-link inhibit state, per spec.md §4.5.
type InhibitFlag uint8

const (
	Unchecked InhibitFlag = 1 << iota // not yet MTN-validated
	Inactive                         // management-inactivated
	LocalInhibit
	RemoteInhibit
)

// linkEntry pairs a DataLink with its inhibit bits inside a Linkset.
type linkEntry struct {
	link    DataLink
	inhibit InhibitFlag
}

// Linkset groups Layer-2 links serving one adjacent signalling point.
type Linkset struct {
	mu    sync.Mutex
	Name  string
	links []linkEntry
}

// NewLinkset returns an empty Linkset.
func NewLinkset(name string) *Linkset {
	return &Linkset{Name: name}
}

// AddLink attaches a DataLink to the linkset with all inhibit flags clear
// except Unchecked.
func (ls *Linkset) AddLink(l DataLink) {
	ls.mu.Lock()
	ls.links = append(ls.links, linkEntry{link: l, inhibit: Unchecked})
	ls.mu.Unlock()
}

// SetInhibit updates the inhibit bits for the i-th link added.
func (ls *Linkset) SetInhibit(i int, flags InhibitFlag) {
	ls.mu.Lock()
	if i >= 0 && i < len(ls.links) {
		ls.links[i].inhibit = flags
	}
	ls.mu.Unlock()
}

// ErrNoSelectableLink signals that every link in the linkset is inhibited,
// not operational, or the linkset is empty (spec.md §7, "Link outage").
var ErrNoSelectableLink = fmt.Errorf("mtp3: no selectable link in linkset")

// SelectLink picks a link for sls, masked by ignoreMask (spec.md §4.5: "a
// link is selectable for transmission only if its inhibit flags, masked
// against the caller's ignore-mask, are zero").
func (ls *Linkset) SelectLink(sls uint8, ignoreMask InhibitFlag) (DataLink, error) {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	var selectable []DataLink
	for _, e := range ls.links {
		if e.inhibit&^ignoreMask != 0 {
			continue
		}
		if !e.link.Operational() {
			continue
		}
		selectable = append(selectable, e.link)
	}
	if len(selectable) == 0 {
		return nil, ErrNoSelectableLink
	}
	return selectable[int(sls)%len(selectable)], nil
}

// Empty reports whether the linkset has no links, used by route-state
// collapse to Prohibited (spec.md §7, "if the linkset becomes empty...").
func (ls *Linkset) Empty() bool {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return len(ls.links) == 0
}

// RouteState is a Route's reachability, per spec.md §3.
type RouteState int

const (
	Unknown RouteState = iota
	Prohibited
	Restricted
	RouteCongestion
	Allowed
)

func (s RouteState) String() string {
	switch s {
	case Unknown:
		return "unknown"
	case Prohibited:
		return "prohibited"
	case Restricted:
		return "restricted"
	case RouteCongestion:
		return "congestion"
	case Allowed:
		return "allowed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Route is one destination's routing entry, per spec.md §3.
type Route struct {
	mu sync.Mutex

	Dest       pointcode.PC
	Priority   int
	SLSShift   uint
	MaxPayload int
	State      RouteState

	candidates []*Linkset // candidate networks able to reach Dest

	rerouteBuffer [][]byte // controlled-rerouting buffer
	congestSample []int    // rolling congestion sample window
}

// NewRoute returns a Route in state Unknown.
func NewRoute(dest pointcode.PC) *Route {
	return &Route{Dest: dest, State: Unknown, MaxPayload: 272}
}

// AddCandidate registers ls as able to reach this route's destination.
func (r *Route) AddCandidate(ls *Linkset) {
	r.mu.Lock()
	r.candidates = append(r.candidates, ls)
	r.mu.Unlock()
}

// SetState updates reachability, returning the previous state so callers
// can detect a change worth an SNM notification.
func (r *Route) SetState(s RouteState) (prev RouteState) {
	r.mu.Lock()
	prev = r.State
	r.State = s
	r.mu.Unlock()
	return prev
}

// CurrentState returns the route's reachability.
func (r *Route) CurrentState() RouteState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.State
}

// BufferForReroute appends payload to the controlled-rerouting buffer.
func (r *Route) BufferForReroute(payload []byte) {
	r.mu.Lock()
	r.rerouteBuffer = append(r.rerouteBuffer, payload)
	r.mu.Unlock()
}

// DrainReroute returns and clears the controlled-rerouting buffer.
func (r *Route) DrainReroute() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	buf := r.rerouteBuffer
	r.rerouteBuffer = nil
	return buf
}

// SampleCongestion appends a congestion observation to the rolling window,
// keeping the most recent 16 samples.
func (r *Route) SampleCongestion(level int) {
	r.mu.Lock()
	r.congestSample = append(r.congestSample, level)
	if len(r.congestSample) > 16 {
		r.congestSample = r.congestSample[len(r.congestSample)-16:]
	}
	r.mu.Unlock()
}

// Layer3User receives MSU payloads dispatched by Service Indicator.
type Layer3User interface {
	ReceiveMSU(m msu.MSU)
}

// Layer3 is the Q.704 network layer: one dialect's route table plus a set of
// linksets, multiplexing Layer-2 links and delivering MSUs upward by SI.
type Layer3 struct {
	ss7core.Base

	mu sync.Mutex

	dialect  pointcode.Dialect
	local    pointcode.PC
	netInd   msu.NetworkIndicator
	slsShift bool

	linksets map[string]*Linkset
	routes   map[pointcode.PC]*Route

	users map[msu.ServiceIndicator]Layer3User

	log     telemetry.Logger
	metrics *telemetry.Metrics

	inbound chan msu.MSU
}

// NewLayer3 returns a Layer3 named name for the given point-code dialect.
func NewLayer3(name string, dialect pointcode.Dialect) *Layer3 {
	return &Layer3{
		Base:     ss7core.NewBase(name, "mtp3"),
		dialect:  dialect,
		linksets: make(map[string]*Linkset),
		routes:   make(map[pointcode.PC]*Route),
		users:    make(map[msu.ServiceIndicator]Layer3User),
		inbound:  make(chan msu.MSU, 512),
	}
}

// Initialize implements ss7core.Component, applying spec.md §6's MTP3
// control mapping.
func (l *Layer3) Initialize(params map[string]any) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if v, ok := params["local"].(pointcode.PC); ok {
		l.local = v
	}
	if v, ok := params["netindicator"]; ok {
		if n, ok := v.(int); ok {
			l.netInd = msu.NetworkIndicator(n)
		}
	}
	if v, ok := params["slc_shift"].(bool); ok {
		l.slsShift = v
	}
	l.log = telemetry.New(nil, l.Name()).WithLevel(l.DebugLevel())
	return true
}

// AddLinkset registers a linkset under name.
func (l *Layer3) AddLinkset(name string, ls *Linkset) {
	l.mu.Lock()
	l.linksets[name] = ls
	l.mu.Unlock()
}

// AddRoute registers the outgoing route for dest.
func (l *Layer3) AddRoute(r *Route) {
	l.mu.Lock()
	l.routes[r.Dest] = r
	l.mu.Unlock()
}

// Attach registers a Layer4 user for a Service Indicator.
func (l *Layer3) Attach(si msu.ServiceIndicator, user Layer3User) {
	l.mu.Lock()
	l.users[si] = user
	l.mu.Unlock()
}

// SetMetrics attaches the shared prometheus collector set.
func (l *Layer3) SetMetrics(m *telemetry.Metrics) { l.metrics = m }

// ErrNoRoute signals Send to a destination with no registered route.
var ErrNoRoute = fmt.Errorf("mtp3: no route to destination")

// ErrRouteUnavailable signals Send to a route with no candidate linkset.
// Send does not consult the route's State.
var ErrRouteUnavailable = fmt.Errorf("mtp3: route unavailable")

// Send transmits an MSU via the route for m.Label.Dest, selecting a link by
// SLS (spec.md §4.5, optionally right-shifted to spread across linksets).
func (l *Layer3) Send(m msu.MSU) error {
	l.mu.Lock()
	r, ok := l.routes[m.Label.Dest]
	l.mu.Unlock()
	if !ok {
		return ErrNoRoute
	}

	sls := m.Label.SLS
	if l.slsShift {
		sls >>= r.SLSShift
	}

	r.mu.Lock()
	candidates := append([]*Linkset(nil), r.candidates...)
	r.mu.Unlock()

	raw, err := m.MarshalBinary()
	if err != nil {
		return err
	}

	var lastErr error = ErrRouteUnavailable
	for _, ls := range candidates {
		link, err := ls.SelectLink(sls, 0)
		if err != nil {
			lastErr = err
			continue
		}
		return link.Send(raw)
	}
	l.log.Warnf("no selectable link to %s: %v", m.Label.Dest, lastErr)
	return lastErr
}

// ReceiveMSU is called by a Layer-2 link's upward callback with a decoded
// MSU; it queues the MSU (dropping it when the queue is full) for Tick,
// which dispatches to the registered Layer4 user by SIO.Service, or emits
// User Part Unavailable upward when unknown (spec.md §4.5, Q.704 §15.17.5).
func (l *Layer3) ReceiveMSU(m msu.MSU) {
	select {
	case l.inbound <- m:
	default:
	}
}

// UserPartUnavailableCause is the Q.704 §15.17.5 cause byte, per spec.md §6.
type UserPartUnavailableCause uint8

const (
	CauseUnknown             UserPartUnavailableCause = 0
	CauseUnequipped          UserPartUnavailableCause = 1
	CauseInaccessible        UserPartUnavailableCause = 2
	CauseUnavailableForOther UserPartUnavailableCause = 3
)

// Tick drains inbound MSUs and dispatches each to its Service Indicator's
// Layer4User.
func (l *Layer3) Tick(now time.Time) time.Duration {
	for {
		select {
		case m := <-l.inbound:
			l.dispatch(m)
		default:
			return 20 * time.Millisecond
		}
	}
}

func (l *Layer3) dispatch(m msu.MSU) {
	l.mu.Lock()
	user, ok := l.users[m.SIO.Service]
	l.mu.Unlock()

	if !ok {
		if e := l.Engine(); e != nil {
			e.Notify(ss7core.Notification{
				Component: l.Name(),
				Params: map[string]any{
					"event": "user-part-unavailable",
					"si":    m.SIO.Service,
					"cause": CauseUnequipped,
				},
			})
		}
		return
	}
	if l.metrics != nil {
		l.metrics.MTP3Relayed.Inc()
	}
	user.ReceiveMSU(m)
}

// Control implements ss7core.Component: Pause, Resume, Status (spec.md §6).
func (l *Layer3) Control(params map[string]any) bool {
	op, _ := params["operation"].(string)
	switch op {
	case "Pause", "Resume", "Status":
		return true
	default:
		return false
	}
}

// Destroyed implements ss7core.Component.
func (l *Layer3) Destroyed() {}
