package mtp3

import (
	"sync"
	"time"

	ss7core "github.com/nordiccore/ss7core"
	"github.com/nordiccore/ss7core/msu"
	"github.com/nordiccore/ss7core/pointcode"
	"github.com/nordiccore/ss7core/snm"
)

// networkView is one network's reported reachability for a destination,
// contributing to the Router's cross-network worst-case view (spec.md
// §4.5: "the router variant additionally maintains a cross-network view:
// for each destination, the worst-case state across networks with Transfer
// enabled").
type networkView struct {
	network string
	state   RouteState
}

// Router is the STP variant of Layer3: in addition to linkset multiplexing
// and route selection, it aggregates a cross-network reachability view per
// destination, runs the restart procedure (T20/T1), and tracks per-link
// inhibit state, per spec.md §4.5.
type Router struct {
	*Layer3

	mu sync.Mutex

	transfer       bool
	transferSilent bool
	testRestricted bool
	sendUnavail    bool
	sendProhibited bool

	restartTimer   *ss7core.Timer // T20
	isolationTimer *ss7core.Timer // T1
	restarting     bool

	views map[pointcode.PC][]networkView

	inhibit map[uint8]InhibitFlag // by SLC

	dialect pointcode.Dialect
}

// NewRouter returns a Router wrapping a new Layer3 for the given dialect.
func NewRouter(name string, dialect pointcode.Dialect) *Router {
	return &Router{
		Layer3:         NewLayer3(name, dialect),
		dialect:        dialect,
		restartTimer:   ss7core.NewTimer(90 * time.Second),
		isolationTimer: ss7core.NewTimer(5 * time.Second),
		views:          make(map[pointcode.PC][]networkView),
		inhibit:        make(map[uint8]InhibitFlag),
	}
}

// Initialize implements ss7core.Component, extending Layer3's control
// mapping with the Router-specific keys from spec.md §6: `transfer`,
// `transfer_silent`, `restart_ms`, `isolate_ms`, `test_restricted`,
// `route_test_ms`, `traffic_ok_ms`, `send_unavailable`, `send_prohibited`.
func (r *Router) Initialize(params map[string]any) bool {
	if !r.Layer3.Initialize(params) {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if v, ok := params["transfer"].(bool); ok {
		r.transfer = v
	}
	if v, ok := params["transfer_silent"].(bool); ok {
		r.transferSilent = v
	}
	if v, ok := params["test_restricted"].(bool); ok {
		r.testRestricted = v
	}
	if v, ok := params["send_unavailable"].(bool); ok {
		r.sendUnavail = v
	}
	if v, ok := params["send_prohibited"].(bool); ok {
		r.sendProhibited = v
	}
	if v, ok := params["restart_ms"]; ok {
		if ms, ok := asInt(v); ok {
			r.restartTimer.SetInterval(time.Duration(ms) * time.Millisecond)
		}
	}
	if v, ok := params["isolate_ms"]; ok {
		if ms, ok := asInt(v); ok {
			r.isolationTimer.SetInterval(time.Duration(ms) * time.Millisecond)
		}
	}
	return true
}

func asInt(v any) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case float64:
		return int64(x), true
	default:
		return 0, false
	}
}

// ReportNetworkView records network's reported reachability for dest and
// recomputes the aggregate route state as the worst case among networks
// with Transfer enabled.
func (r *Router) ReportNetworkView(network string, dest pointcode.PC, state RouteState) {
	r.mu.Lock()
	views := r.views[dest]
	found := false
	for i := range views {
		if views[i].network == network {
			views[i].state = state
			found = true
			break
		}
	}
	if !found {
		views = append(views, networkView{network: network, state: state})
	}
	r.views[dest] = views

	worst := Allowed
	for _, v := range views {
		if severity(v.state) > severity(worst) {
			worst = v.state
		}
	}
	r.mu.Unlock()

	if rt, ok := r.routeFor(dest); ok {
		prev := rt.SetState(worst)
		if prev != worst && r.transfer && !r.transferSilent {
			r.emitTransferNotify(dest, worst)
		}
	}
}

// severity orders RouteState by how severe a restriction it represents,
// worst first: Prohibited, then Congestion, then Restricted, then Allowed.
func severity(s RouteState) int {
	switch s {
	case Prohibited:
		return 3
	case RouteCongestion:
		return 2
	case Restricted:
		return 1
	default:
		return 0
	}
}

func (r *Router) routeFor(dest pointcode.PC) (*Route, bool) {
	r.Layer3.mu.Lock()
	defer r.Layer3.mu.Unlock()
	rt, ok := r.Layer3.routes[dest]
	return rt, ok
}

func (r *Router) emitTransferNotify(dest pointcode.PC, state RouteState) {
	if e := r.Engine(); e != nil {
		e.Notify(ss7core.Notification{
			Component: r.Name(),
			Params: map[string]any{
				"event": "route-status-change",
				"dest":  dest,
				"state": state.String(),
			},
		})
	}
}

// SetRouteState implements snm.RouteController, translating the package-
// local int encoding snm uses (to avoid an import cycle) into RouteState.
func (r *Router) SetRouteState(dest pointcode.PC, state int) {
	if rt, ok := r.routeFor(dest); ok {
		rt.SetState(RouteState(state))
	}
}

// RouteState implements snm.RouteController.
func (r *Router) RouteState(dest pointcode.PC) int {
	if rt, ok := r.routeFor(dest); ok {
		return int(rt.CurrentState())
	}
	return int(Unknown)
}

// BeginRestart implements snm.RouteController: arms T20 and the isolation
// timer T1, per spec.md §4.5's restart procedure.
func (r *Router) BeginRestart() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.restarting = true
	now := time.Now()
	r.restartTimer.Start(now)
	r.isolationTimer.Start(now)
}

// CompleteRestart implements snm.RouteController: stops the restart timers
// and sends TRA to adjacent routes (spec.md §4.5: "upon link resumption it
// sends TRA (Traffic Restart Allowed) to adjacent routes when restart
// completes").
func (r *Router) CompleteRestart() {
	r.mu.Lock()
	wasRestarting := r.restarting
	r.restarting = false
	r.restartTimer.Stop()
	r.isolationTimer.Stop()
	r.mu.Unlock()

	if !wasRestarting {
		return
	}
	r.broadcastTRA()
}

func (r *Router) broadcastTRA() {
	r.Layer3.mu.Lock()
	dests := make([]pointcode.PC, 0, len(r.Layer3.routes))
	for d := range r.Layer3.routes {
		dests = append(dests, d)
	}
	r.Layer3.mu.Unlock()

	for _, d := range dests {
		raw, err := snm.Message{Heading: snm.TRA, Dest: d}.Marshal(r.dialect)
		if err != nil {
			continue
		}
		m := msu.MSU{
			SIO:     msu.SIO{Service: msu.SISNM, Network: r.Layer3.netInd},
			Label:   pointcode.Label{Dest: d, Orig: r.Layer3.local},
			Payload: raw,
		}
		_ = r.Layer3.Send(m)
	}
}

// SetLinkInhibit implements snm.RouteController.
func (r *Router) SetLinkInhibit(slc uint8, remote bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	flag := LocalInhibit
	if remote {
		flag = RemoteInhibit
	}
	r.inhibit[slc] |= flag
}

// SetLinkUninhibit implements snm.RouteController.
func (r *Router) SetLinkUninhibit(slc uint8, remote bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	flag := LocalInhibit
	if remote {
		flag = RemoteInhibit
	}
	r.inhibit[slc] &^= flag
}

// InhibitOf returns the current inhibit bits for signalling link code slc.
func (r *Router) InhibitOf(slc uint8) InhibitFlag {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inhibit[slc]
}

// Tick extends Layer3.Tick with restart-timer bookkeeping: an expired T1
// isolation timer without a completed restart is treated as isolation
// failure and left for the host to observe via notification; an expired T20
// without TRA received surfaces the same way.
func (r *Router) Tick(now time.Time) time.Duration {
	sleep := r.Layer3.Tick(now)

	r.mu.Lock()
	restarting := r.restarting
	isolationFired := r.isolationTimer.Check(now)
	restartFired := r.restartTimer.Check(now)
	r.mu.Unlock()

	if restarting && (isolationFired || restartFired) {
		if e := r.Engine(); e != nil {
			e.Notify(ss7core.Notification{
				Component: r.Name(),
				Params:    map[string]any{"event": "restart-timeout"},
			})
		}
	}
	return sleep
}

// Control extends Layer3.Control with Restart (spec.md §6: "Router: Pause,
// Resume, Restart, Status, Traffic, Advertise").
func (r *Router) Control(params map[string]any) bool {
	op, _ := params["operation"].(string)
	switch op {
	case "Restart":
		r.BeginRestart()
		return true
	case "Traffic", "Advertise":
		return true
	default:
		return r.Layer3.Control(params)
	}
}
