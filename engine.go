package ss7core

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nordiccore/ss7core/internal/telemetry"
)

// Factory builds a Component from a type tag and a control mapping. It
// returns ok=false when it does not recognize typ, allowing Engine.Build to
// walk the registry.
type Factory interface {
	Build(typ string, params map[string]any) (c Component, ok bool)
}

// FactoryFunc adapts a function to a Factory.
type FactoryFunc func(typ string, params map[string]any) (Component, bool)

// Build implements Factory.
func (f FactoryFunc) Build(typ string, params map[string]any) (Component, bool) {
	return f(typ, params)
}

// Notification is the out-of-band status payload delivered to a Notifier,
// per spec.md §4.1.
type Notification struct {
	Component string
	Params    map[string]any
}

// Notifier receives Notify calls in the exact order components emit them.
type Notifier interface {
	Notify(n Notification)
}

// NotifierFunc adapts a function to a Notifier.
type NotifierFunc func(Notification)

// Notify implements Notifier.
func (f NotifierFunc) Notify(n Notification) { f(n) }

// Engine is a process-wide coordinator owning an ordered list of components
// and a single worker that ticks them. See spec.md §3, §4.1.
//
// primary holds the process-wide "designated primary instance" handle; it is
// written once by SetPrimary and read-only thereafter (spec.md §9).
var primary struct {
	mu sync.RWMutex
	e  *Engine
}

// SetPrimary designates e as the primary engine. Intended to be called once
// during process start-up.
func SetPrimary(e *Engine) {
	primary.mu.Lock()
	primary.e = e
	primary.mu.Unlock()
}

// Primary returns the designated primary engine, or nil if none was set.
func Primary() *Engine {
	primary.mu.RLock()
	defer primary.mu.RUnlock()
	return primary.e
}

// Engine owns components and drives their Tick in a single worker goroutine.
type Engine struct {
	mu         sync.Mutex
	components []Component
	byName     map[string]Component
	factories  []Factory

	notifier Notifier
	metrics  *telemetry.Metrics

	maxLockWait time.Duration
	tickDefault time.Duration

	stop   chan struct{}
	done   chan struct{}
	ticked sync.Once

	sleepHook func(usec time.Duration) // for tick_sleep, set only during Tick
}

// NewEngine returns an Engine with the given notifier (may be nil, in which
// case notifications are discarded) and an initial factory registry.
func NewEngine(notifier Notifier, factories ...Factory) *Engine {
	if notifier == nil {
		notifier = NotifierFunc(func(Notification) {})
	}
	return &Engine{
		byName:      make(map[string]Component),
		factories:   factories,
		notifier:    notifier,
		maxLockWait: 0, // infinite, per spec.md §5 default
		tickDefault: 20 * time.Millisecond,
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// SetMetrics attaches the shared prometheus collector set. The engine
// observes TickDuration on every Run iteration (SPEC_FULL.md's ambient
// metrics stack).
func (e *Engine) SetMetrics(m *telemetry.Metrics) {
	e.mu.Lock()
	e.metrics = m
	e.mu.Unlock()
}

// AddFactory registers an additional factory, consulted after existing ones.
func (e *Engine) AddFactory(f Factory) {
	e.mu.Lock()
	e.factories = append(e.factories, f)
	e.mu.Unlock()
}

// Configure applies the engine-root control mapping (`max_lock_wait`,
// `tick_default_us`), per spec.md §6.
func (e *Engine) Configure(params map[string]any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if v, ok := params["tick_default_us"]; ok {
		if us, ok := toInt(v); ok {
			e.tickDefault = time.Duration(us) * time.Microsecond
		}
	}
	if v, ok := params["max_lock_wait"]; ok {
		switch x := v.(type) {
		case string:
			if x == "infinite" {
				e.maxLockWait = 0
			}
		default:
			if us, ok := toInt(v); ok {
				e.maxLockWait = time.Duration(us) * time.Microsecond
			}
		}
	}
}

// MaxLockWait returns the configured bound, or 0 for infinite.
func (e *Engine) MaxLockWait() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.maxLockWait
}

func toInt(v any) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case uint:
		return int64(x), true
	case float64:
		return int64(x), true
	default:
		return 0, false
	}
}

// Attach adds c to the engine's component list, taking the engine's strong
// reference, and sets its weak back-reference. Returns ErrDuplicateName if
// c.Name() is already attached.
func (e *Engine) Attach(c Component) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.byName[c.Name()]; exists {
		return ErrDuplicateName{c.Name()}
	}
	e.components = append(e.components, c)
	e.byName[c.Name()] = c
	if b, ok := c.(interface{ setEngine(*Engine) }); ok {
		b.setEngine(e)
	}
	return nil
}

// Detach removes c by name, clears its back-reference and invokes Destroyed.
func (e *Engine) Detach(name string) {
	e.mu.Lock()
	c, ok := e.byName[name]
	if !ok {
		e.mu.Unlock()
		return
	}
	delete(e.byName, name)
	for i, x := range e.components {
		if x == c {
			e.components = append(e.components[:i], e.components[i+1:]...)
			break
		}
	}
	e.mu.Unlock()

	if b, ok := c.(interface{ setEngine(*Engine) }); ok {
		b.setEngine(nil)
	}
	c.Destroyed()
}

// Lookup returns the attached component named name, or nil.
func (e *Engine) Lookup(name string) Component {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.byName[name]
}

// ErrNoFactory is returned by Build when no factory recognizes typ.
type ErrNoFactory struct{ Type string }

func (e ErrNoFactory) Error() string {
	return fmt.Sprintf("ss7core: no factory recognizes component type %q", e.Type)
}

// Build returns an existing component named params["name"] if present;
// otherwise it walks the factory registry for the first that recognizes typ,
// builds it, and (if ref) auto-attaches it to the engine.
func (e *Engine) Build(typ string, params map[string]any, initialize, ref bool) (Component, error) {
	if name, ok := params["name"].(string); ok && name != "" {
		if existing := e.Lookup(name); existing != nil {
			if initialize {
				existing.Initialize(params)
			}
			return existing, nil
		}
	}

	e.mu.Lock()
	factories := append([]Factory(nil), e.factories...)
	e.mu.Unlock()

	for _, f := range factories {
		c, ok := f.Build(typ, params)
		if !ok {
			continue
		}
		if initialize {
			c.Initialize(params)
		}
		if ref {
			if err := e.Attach(c); err != nil {
				return nil, err
			}
		}
		return c, nil
	}
	return nil, ErrNoFactory{typ}
}

// ComponentStatus is a point-in-time snapshot of one attached component,
// returned by the engine's "status" control operation (SPEC_FULL.md §10,
// mirrored from yate's generic status-report convention).
type ComponentStatus struct {
	Name       string
	Type       string
	DebugLevel int
}

// Status returns a snapshot of every attached component, in attachment
// order.
func (e *Engine) Status() []ComponentStatus {
	e.mu.Lock()
	components := append([]Component(nil), e.components...)
	e.mu.Unlock()

	out := make([]ComponentStatus, 0, len(components))
	for _, c := range components {
		debug := 0
		if d, ok := c.(interface{ DebugLevel() int }); ok {
			debug = d.DebugLevel()
		}
		out = append(out, ComponentStatus{Name: c.Name(), Type: c.TypeName(), DebugLevel: debug})
	}
	return out
}

// Control broadcasts params to every attached component in attachment order,
// returning the number that reported handling it. The engine itself
// recognizes a "status" operation: rather than broadcasting, it writes a
// structured snapshot of every attached component into
// params["components"] and reports it handled (SPEC_FULL.md §10).
func (e *Engine) Control(params map[string]any) int {
	if op, _ := params["operation"].(string); op == "status" {
		params["components"] = e.Status()
		return 1
	}

	e.mu.Lock()
	components := append([]Component(nil), e.components...)
	e.mu.Unlock()

	n := 0
	for _, c := range components {
		if c.Control(params) {
			n++
		}
	}
	return n
}

// ControlCreate builds a typed control mapping with the given operation.
func ControlCreate(op string, extra map[string]any) map[string]any {
	m := make(map[string]any, len(extra)+1)
	for k, v := range extra {
		m[k] = v
	}
	m["operation"] = op
	return m
}

// Notify forwards n to the engine's notifier.
func (e *Engine) Notify(n Notification) {
	e.notifier.Notify(n)
}

// TickSleep may be called by a component from within its own Tick to shrink
// the engine's computed sleep for the current iteration.
func (e *Engine) TickSleep(d time.Duration) {
	if e.sleepHook != nil {
		e.sleepHook(d)
	}
}

// Run starts the worker loop and blocks until ctx is cancelled or Stop is
// called. It iterates components in attachment order, calls Tick(now) on
// each, and sleeps the minimum of the requested sleeps (and any TickSleep
// shrink requests) before the next iteration.
func (e *Engine) Run(ctx context.Context) {
	defer close(e.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stop:
			return
		default:
		}

		now := time.Now()

		e.mu.Lock()
		components := append([]Component(nil), e.components...)
		e.mu.Unlock()

		minSleep := e.tickDefault
		var mu sync.Mutex
		e.sleepHook = func(d time.Duration) {
			mu.Lock()
			if d < minSleep {
				minSleep = d
			}
			mu.Unlock()
		}

		for _, c := range components {
			sleep := c.Tick(now)
			mu.Lock()
			if sleep > 0 && sleep < minSleep {
				minSleep = sleep
			}
			mu.Unlock()
		}
		e.sleepHook = nil

		if e.metrics != nil {
			e.metrics.TickDuration.Observe(time.Since(now).Seconds())
		}

		if minSleep < 0 {
			minSleep = 0
		}

		select {
		case <-ctx.Done():
			return
		case <-e.stop:
			return
		case <-time.After(minSleep):
		}
	}
}

// Stop signals the worker to return promptly and detaches every component,
// invoking each Destroyed hook. Stop blocks until the worker has exited.
func (e *Engine) Stop() {
	e.ticked.Do(func() { close(e.stop) })
	<-e.done

	e.mu.Lock()
	names := make([]string, 0, len(e.components))
	for name := range e.byName {
		names = append(names, name)
	}
	e.mu.Unlock()

	sort.Strings(names)
	for _, name := range names {
		e.Detach(name)
	}
}

// Components returns a snapshot of the attached component list, in
// attachment order.
func (e *Engine) Components() []Component {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Component(nil), e.components...)
}
