package clocking

import (
	"log"
	"math"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/sarchlab/clocksim/sim/naming"
)

// A Clockable is a simulated hardware block that the server ticks.
//
// Concrete models embed a *ClockableBase, which provides the bookkeeping, and
// implement Clock. A model that registers with a domain but never overrides
// Clock falls back to the base implementation, which reports the mistake.
type Clockable interface {
	naming.Named

	// Clock is the per-cycle entry point used when the clockable registers
	// without an explicit callback.
	Clock(cycle uint64)

	// Clocking returns the embedded bookkeeping state.
	Clocking() *ClockableBase
}

// A DralListener is a clockable that wants to dump its internal state when
// event tracing is turned on after elaboration.
type DralListener interface {
	DralEventsTurnedOn()
}

// ClockableBase holds the state every clockable shares: registration status,
// the retained clock info, owned callbacks and per-tick statistics.
type ClockableBase struct {
	name   string
	parent Clockable

	lock           sync.Mutex
	registered     bool
	registeredDral bool
	hasReference   bool
	server         *Server
	domain         *Domain
	info           *ClockInfo
	thread         *Thread
	threads        []*Thread
	hostThread     *Thread
	ownsHostThread bool
	callbacks      []*Callback
	rateMatchers   []RateMatcherEnd
	closed         bool

	nCycles           atomic.Uint64
	nCyclesMin        atomic.Uint64
	nCyclesMax        atomic.Uint64
	nClocked          atomic.Uint64
	nCyclesWrapAround atomic.Uint64
	nWrapAround       atomic.Uint64
}

// NewClockableBase creates the bookkeeping state of a clockable. The parent
// may be nil. It is only consulted while the clockable is not registered, and
// it is never owned.
func NewClockableBase(name string, parent Clockable) *ClockableBase {
	naming.NameMustBeValid(name)

	b := &ClockableBase{
		name:   name,
		parent: parent,
	}
	b.nCyclesMin.Store(math.MaxUint64)

	return b
}

// Name returns the name of the clockable.
func (b *ClockableBase) Name() string {
	return b.name
}

// Clocking returns the base itself.
func (b *ClockableBase) Clocking() *ClockableBase {
	return b
}

// Clock is reached only when a model registered without providing a Clock
// method. That is a programming error, so it is reported every time.
func (b *ClockableBase) Clock(cycle uint64) {
	log.Printf("clocking: what am I doing here!? %s reached the default "+
		"Clock at cycle %d; the model does not implement Clock", b.name, cycle)
}

// Parent returns the parent clockable, or nil.
func (b *ClockableBase) Parent() Clockable {
	return b.parent
}

// IsRegistered tells if the clockable has been registered with a domain.
func (b *ClockableBase) IsRegistered() bool {
	b.lock.Lock()
	defer b.lock.Unlock()

	return b.registered
}

// IsRegisteredDral tells if the clockable asked for the trace turn-on
// notification.
func (b *ClockableBase) IsRegisteredDral() bool {
	b.lock.Lock()
	defer b.lock.Unlock()

	return b.registeredDral
}

// SetRegisteredDral marks the clockable as registered for the trace turn-on
// notification. It panics if it has been marked before.
func (b *ClockableBase) SetRegisteredDral() {
	b.lock.Lock()
	defer b.lock.Unlock()

	if b.registeredDral {
		log.Panicf("clockable %s is already registered for tracing", b.name)
	}

	b.registeredDral = true
}

// HostThread returns the thread the clockable wants to run in, or nil.
func (b *ClockableBase) HostThread() *Thread {
	b.lock.Lock()
	defer b.lock.Unlock()

	return b.hostThread
}

// SetHostThread sets the thread the clockable wants to run in. The thread is
// used by later registrations that do not name a thread explicitly.
func (b *ClockableBase) SetHostThread(t *Thread) {
	b.lock.Lock()
	defer b.lock.Unlock()

	b.hostThread = t
	b.ownsHostThread = false
}

// OwnHostThread sets the host thread and hands its ownership to the
// clockable. The thread is closed when the clockable is closed.
func (b *ClockableBase) OwnHostThread(t *Thread) {
	b.lock.Lock()
	defer b.lock.Unlock()

	b.hostThread = t
	b.ownsHostThread = true
}

// NewCallback creates a callback that calls fn with the local cycle. The
// callback is owned by the clockable.
func (b *ClockableBase) NewCallback(fn func(cycle uint64)) *Callback {
	return b.addCallback(&Callback{
		sig:     SignatureCycle,
		edge:    EdgeHigh,
		cycleFn: fn,
	})
}

// NewCallbackPhase creates a callback that calls fn with the local cycle and
// the edge it fires on.
func (b *ClockableBase) NewCallbackPhase(
	fn func(cycle uint64, edge Edge),
	edge Edge,
) *Callback {
	return b.addCallback(&Callback{
		sig:         SignatureCycleEdge,
		edge:        edge,
		cycleEdgeFn: fn,
	})
}

// NewCallbackPhased creates a callback that calls fn with a Phase.
func (b *ClockableBase) NewCallbackPhased(
	fn func(p Phase),
	edge Edge,
) *Callback {
	return b.addCallback(&Callback{
		sig:     SignaturePhase,
		edge:    edge,
		phaseFn: fn,
	})
}

func (b *ClockableBase) addCallback(cb *Callback) *Callback {
	if !cb.edge.IsValid() {
		log.Panicf("clockable %s: invalid edge %d", b.name, cb.edge)
	}

	b.lock.Lock()
	defer b.lock.Unlock()

	if b.closed {
		log.Panicf("clockable %s is closed", b.name)
	}

	cb.owner = b
	b.callbacks = append(b.callbacks, cb)

	return cb
}

// Callbacks returns the callbacks owned by the clockable.
func (b *ClockableBase) Callbacks() []*Callback {
	b.lock.Lock()
	defer b.lock.Unlock()

	list := make([]*Callback, len(b.callbacks))
	copy(list, b.callbacks)

	return list
}

// Close releases all the callbacks owned by the clockable and the host thread
// if the clockable owns it. Released callbacks are never invoked again.
func (b *ClockableBase) Close() {
	b.lock.Lock()
	defer b.lock.Unlock()

	if b.closed {
		return
	}

	for _, cb := range b.callbacks {
		cb.release()
	}

	b.callbacks = nil

	if b.ownsHostThread && b.hostThread != nil {
		b.hostThread.Close()
	}

	b.hostThread = nil
	b.closed = true
}

// IsClosed tells if Close has been called.
func (b *ClockableBase) IsClosed() bool {
	b.lock.Lock()
	defer b.lock.Unlock()

	return b.closed
}

// GetClockInfo returns the retained clock info. An unregistered clockable
// asks its parent, and returns nil if it has none.
func (b *ClockableBase) GetClockInfo() *ClockInfo {
	b.lock.Lock()
	registered, info, parent := b.registered, b.info, b.parent
	b.lock.Unlock()

	if registered {
		if info == nil {
			log.Panicf("clockable %s is registered without clock info", b.name)
		}

		return info
	}

	if parent == nil {
		return nil
	}

	return parent.Clocking().GetClockInfo()
}

// GetClockingThread returns the thread that clocks the clockable.
func (b *ClockableBase) GetClockingThread() *Thread {
	b.lock.Lock()
	registered, thread := b.registered, b.thread
	b.lock.Unlock()

	if registered {
		if thread == nil {
			log.Panicf("clockable %s is registered without a thread", b.name)
		}

		return thread
	}

	return b.mustHaveParent().Clocking().GetClockingThread()
}

// GetDomain returns the reference domain of the clockable.
func (b *ClockableBase) GetDomain() *Domain {
	b.lock.Lock()
	registered, domain := b.registered, b.domain
	b.lock.Unlock()

	if registered {
		return domain
	}

	return b.mustHaveParent().Clocking().GetDomain()
}

// GetCurrentBaseCycle returns the base cycle of the reference domain.
func (b *ClockableBase) GetCurrentBaseCycle() uint64 {
	if b.IsRegistered() {
		return b.GetClockInfo().BaseCycle()
	}

	return b.mustHaveParent().Clocking().GetCurrentBaseCycle()
}

// GetCurrentCycle returns the local cycle of the clockable.
func (b *ClockableBase) GetCurrentCycle() uint64 {
	if b.IsRegistered() {
		return b.GetClockInfo().Cycle()
	}

	return b.mustHaveParent().Clocking().GetCurrentCycle()
}

func (b *ClockableBase) mustHaveParent() Clockable {
	if b.parent == nil {
		log.Panicf("clockable %s is neither registered nor has a parent",
			b.name)
	}

	return b.parent
}

// beginRegistration checks that the clockable can be registered on thread t.
func (b *ClockableBase) beginRegistration(
	s *Server,
	t *Thread,
	reference bool,
) {
	b.lock.Lock()
	defer b.lock.Unlock()

	if b.closed {
		log.Panicf("clockable %s is closed", b.name)
	}

	if b.server != nil && b.server != s {
		log.Panicf("clockable %s is registered with another server", b.name)
	}

	if reference && b.hasReference {
		log.Panicf("clockable %s already has a reference domain %s",
			b.name, b.domain.Name())
	}

	if len(b.rateMatchers) > 0 && len(b.threads) > 0 &&
		!slices.Contains(b.threads, t) {
		log.Panicf("clockable %s ends a rate matcher and is clocked by "+
			"thread %s, it cannot be clocked by thread %s too",
			b.name, b.threads[0].Name(), t.Name())
	}
}

// completeRegistration retains the domain, clock info and thread of the first
// registration, unless a later one is the reference.
func (b *ClockableBase) completeRegistration(
	s *Server,
	d *Domain,
	info *ClockInfo,
	t *Thread,
	reference bool,
) {
	b.lock.Lock()
	defer b.lock.Unlock()

	b.server = s

	if !slices.Contains(b.threads, t) {
		b.threads = append(b.threads, t)
	}

	if b.registered && !reference {
		return
	}

	if reference {
		b.hasReference = true
	}

	b.domain = d
	b.info = info
	b.thread = t
	b.registered = true
}

// registerRateMatcher attaches a rate matcher end. Items are stamped with the
// time of the clocking thread, so an end must be clocked by a single thread.
func (b *ClockableBase) registerRateMatcher(end RateMatcherEnd) {
	b.lock.Lock()
	defer b.lock.Unlock()

	if len(b.threads) > 1 {
		log.Panicf("clockable %s is clocked by %d threads and cannot end "+
			"rate matcher %s", b.name, len(b.threads), end.Matcher.Name())
	}

	b.rateMatchers = append(b.rateMatchers, end)
}

// RateMatchers returns the rate matcher ends attached to the clockable.
func (b *ClockableBase) RateMatchers() []RateMatcherEnd {
	b.lock.Lock()
	defer b.lock.Unlock()

	list := make([]RateMatcherEnd, len(b.rateMatchers))
	copy(list, b.rateMatchers)

	return list
}

// IncCyclesSpent records the duration of one invocation of the clockable. A
// zero duration never lowers the minimum. It is safe for concurrent use, as
// a clockable registered on several threads is measured by each of them.
func (b *ClockableBase) IncCyclesSpent(cycles uint64) {
	if cycles > 0 {
		lowerTo(&b.nCyclesMin, cycles)
	}

	raiseTo(&b.nCyclesMax, cycles)

	b.nCycles.Add(cycles)
	b.nClocked.Add(1)
}

func lowerTo(v *atomic.Uint64, x uint64) {
	for {
		old := v.Load()
		if x >= old || v.CompareAndSwap(old, x) {
			return
		}
	}
}

func raiseTo(v *atomic.Uint64, x uint64) {
	for {
		old := v.Load()
		if x <= old || v.CompareAndSwap(old, x) {
			return
		}
	}
}

// IncWrapAround records cycles recovered from a counter that wrapped around.
func (b *ClockableBase) IncWrapAround(cycles uint64) {
	b.nCyclesWrapAround.Add(cycles)
	b.nWrapAround.Add(1)
}

// GetCycles returns the total cycles spent in the clockable.
func (b *ClockableBase) GetCycles() uint64 { return b.nCycles.Load() }

// GetCyclesMin returns the shortest non-zero invocation.
func (b *ClockableBase) GetCyclesMin() uint64 { return b.nCyclesMin.Load() }

// GetCyclesMax returns the longest invocation.
func (b *ClockableBase) GetCyclesMax() uint64 { return b.nCyclesMax.Load() }

// GetNumInvocations returns how many invocations were recorded.
func (b *ClockableBase) GetNumInvocations() uint64 { return b.nClocked.Load() }

// GetWrapAroundCycles returns the cycles recovered from wrapped counters.
func (b *ClockableBase) GetWrapAroundCycles() uint64 {
	return b.nCyclesWrapAround.Load()
}

// GetWrapAround returns how many wrapped readings were recorded.
func (b *ClockableBase) GetWrapAround() uint64 { return b.nWrapAround.Load() }

// RegisterDralTurnOn asks for a DralEventsTurnedOn call when tracing is turned
// on. It does nothing if no clock info is reachable, which is the case for
// models that do not use the clock server at all.
func RegisterDralTurnOn(c Clockable) {
	b := c.Clocking()

	info := b.GetClockInfo()
	if info == nil {
		return
	}

	b.lock.Lock()
	if b.registeredDral {
		b.lock.Unlock()
		return
	}
	b.registeredDral = true
	b.lock.Unlock()

	info.addEventsTurnOn(c)
}
