// Package clocking provides the clock server of a cycle-level simulator.
//
// Hardware blocks (clockables) register one or more per-cycle callbacks with
// named clock domains. Each domain runs at one or more frequencies. The server
// advances simulated time and, at every instant, invokes the callbacks that
// are due in skew order, so producers and consumers that share an instant
// always run in the same order. Domains can be spread over several threads;
// data crossing threads travels through rate matchers.
package clocking

import (
	"fmt"
	"log"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/sarchlab/clocksim/sim/hooking"
	"github.com/sarchlab/clocksim/sim/id"
	"github.com/sarchlab/clocksim/sim/naming"
	"github.com/sarchlab/clocksim/sim/timing"
)

// The positions at which the server invokes its hooks.
var (
	// HookPosBeforeTick is right before a callback runs. The item is a Tick.
	HookPosBeforeTick = &hooking.HookPos{Name: "BeforeTick"}

	// HookPosAfterTick is right after a callback returns. The item is a Tick.
	HookPosAfterTick = &hooking.HookPos{Name: "AfterTick"}

	// HookPosFreqChange is after a domain changed frequency. The item is a
	// FreqChange.
	HookPosFreqChange = &hooking.HookPos{Name: "FreqChange"}

	// HookPosDralOn is when event tracing is turned on, before clockables
	// are notified.
	HookPosDralOn = &hooking.HookPos{Name: "DralOn"}

	// HookPosDralEvent is when a clockable emits a trace event. The item is a
	// DralEvent.
	HookPosDralEvent = &hooking.HookPos{Name: "DralEvent"}
)

// FreqChange describes a frequency change of a domain.
type FreqChange struct {
	Domain        *Domain
	Old           timing.Freq
	New           timing.Freq
	EffectiveBase uint64
}

// DralEvent is a trace event emitted by a clockable.
type DralEvent struct {
	Source    Clockable
	What      string
	Detail    any
	BaseCycle uint64
	Cycle     uint64
	Time      timing.VTimeInFs
}

// DefaultThreadName is the name of the thread every server starts with.
const DefaultThreadName = "main"

// A Server owns the clock domains, the threads that clock them and the
// simulated time.
type Server struct {
	hooking.HookableBase

	ids     id.IDGenerator
	quantum timing.VTimeInFs

	lock          sync.Mutex
	domains       map[string]*Domain
	domainList    []*Domain
	threads       []*Thread
	defaultThread *Thread
	clockables    []Clockable
	clockableSet  map[Clockable]bool
	infoList      []*ClockInfo
	matchers      []RateMatcherInfo
	seq           uint64
	dralOn        atomic.Bool

	runLock     sync.Mutex
	running     atomic.Bool
	now         atomic.Uint64
	windowStart atomic.Uint64

	pauseLock     sync.RWMutex
	isPaused      bool
	isPausedGuard sync.Mutex
}

// A ServerOption configures a server.
type ServerOption func(s *Server)

// WithIDGenerator sets the generator of callback IDs.
func WithIDGenerator(g id.IDGenerator) ServerOption {
	return func(s *Server) {
		s.ids = g
	}
}

// WithSyncQuantum fixes the length of the windows in which threads run in
// parallel. By default, a window lasts one base cycle of the fastest active
// domain.
func WithSyncQuantum(q timing.VTimeInFs) ServerOption {
	return func(s *Server) {
		s.quantum = q
	}
}

// NewServer creates a server with a default thread and no domains.
func NewServer(opts ...ServerOption) *Server {
	s := &Server{
		ids:          id.NewIDGenerator(),
		domains:      make(map[string]*Domain),
		clockableSet: make(map[Clockable]bool),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.defaultThread = newThread(s, DefaultThreadName)
	s.threads = append(s.threads, s.defaultThread)

	return s
}

// DefaultThread returns the thread that clocks domains created without an
// explicit thread.
func (s *Server) DefaultThread() *Thread {
	return s.defaultThread
}

// NewThread creates a thread. Domains and registrations assigned to different
// threads run in parallel.
func (s *Server) NewThread(name string) *Thread {
	naming.NameMustBeValid(name)

	s.lock.Lock()
	defer s.lock.Unlock()

	for _, t := range s.threads {
		if t.name == name {
			log.Panicf("thread %s already exists", name)
		}
	}

	t := newThread(s, name)
	s.threads = append(s.threads, t)

	return t
}

// NewClockDomain creates a domain clocked by the default thread, or extends
// an existing one with more frequencies.
func (s *Server) NewClockDomain(name string, freqs ...timing.Freq) *Domain {
	return s.NewClockDomainOnThread(name, nil, freqs...)
}

// NewClockDomainOnThread creates a domain clocked by the given thread, or
// extends an existing one with more frequencies. A nil thread means the
// default thread. Extending a domain never moves it to another thread.
func (s *Server) NewClockDomainOnThread(
	name string,
	t *Thread,
	freqs ...timing.Freq,
) *Domain {
	naming.NameMustBeValid(name)

	if len(freqs) == 0 {
		log.Panicf("domain %s must have at least one frequency", name)
	}

	for _, f := range freqs {
		f.MustBeValid()
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	if t == nil {
		t = s.defaultThread
	}

	s.threadMustBelongToServer(t)

	if d, ok := s.domains[name]; ok {
		d.extend(freqs)
		return d
	}

	d := newDomain(s, name, t, s.Now())
	d.extend(freqs)

	s.domains[name] = d
	s.domainList = append(s.domainList, d)
	t.viewOf(d)

	return d
}

// SetDomainFrequency changes the frequency of a domain. The reference (first)
// frequency becomes f and the other frequencies keep their ratio to it. The
// change takes effect from the first base cycle that no thread has started.
func (s *Server) SetDomainFrequency(name string, f timing.Freq) {
	f.MustBeValid()

	d := s.mustGetDomain(name)
	old, effective := d.setFrequency(f)

	if s.NumHooks() == 0 {
		return
	}

	s.InvokeHook(hooking.HookCtx{
		Domain: s,
		Pos:    HookPosFreqChange,
		Item: FreqChange{
			Domain:        d,
			Old:           old,
			New:           f,
			EffectiveBase: effective,
		},
	})
}

// A RegisterOption changes how a callback is registered.
type RegisterOption func(o *registerOptions)

type registerOptions struct {
	thread    *Thread
	reference bool
	freq      timing.Freq
}

// WithThread clocks the registration on the given thread instead of the
// clockable's host thread or the domain's thread.
func WithThread(t *Thread) RegisterOption {
	return func(o *registerOptions) {
		o.thread = t
	}
}

// AsReferenceDomain makes the registration the one whose domain, clock info
// and thread the clockable retains. Only one registration of a clockable can
// be the reference.
func AsReferenceDomain() RegisterOption {
	return func(o *registerOptions) {
		o.reference = true
	}
}

// AtFrequency registers at one of the domain's frequencies. By default,
// registrations use the reference frequency.
func AtFrequency(f timing.Freq) RegisterOption {
	return func(o *registerOptions) {
		o.freq = f
	}
}

// RegisterClock registers the Clock method of c with a domain, on the HIGH
// edge.
func (s *Server) RegisterClock(
	c Clockable,
	domainName string,
	skew uint32,
	opts ...RegisterOption,
) *Domain {
	cb := c.Clocking().NewCallback(c.Clock)

	return s.RegisterCallback(c, domainName, cb, skew, opts...)
}

// RegisterCallbackAtEdge tags the callback with an edge and registers it.
func (s *Server) RegisterCallbackAtEdge(
	c Clockable,
	domainName string,
	cb *Callback,
	skew uint32,
	edge Edge,
	opts ...RegisterOption,
) *Domain {
	cb.SetEdge(edge)

	return s.RegisterCallback(c, domainName, cb, skew, opts...)
}

// RegisterCallback registers a callback owned by c with a domain. The
// callback runs after every callback with a lower effective skew and after
// every earlier registration with the same effective skew. The effective skew
// is skew plus the offset of the callback's edge.
//
// Registration may happen while the server runs. It takes effect from the
// next instant of the thread.
func (s *Server) RegisterCallback(
	c Clockable,
	domainName string,
	cb *Callback,
	skew uint32,
	opts ...RegisterOption,
) *Domain {
	if skew > MaxSkew {
		log.Panicf("skew %d of %s is larger than %d", skew, c.Name(), MaxSkew)
	}

	o := registerOptions{}
	for _, opt := range opts {
		opt(&o)
	}

	base := c.Clocking()
	if cb.owner != base {
		log.Panicf("callback %s is not owned by %s", cb.id, c.Name())
	}

	if cb.registered {
		log.Panicf("callback %s of %s is already registered",
			cb.id, c.Name())
	}

	if cb.IsReleased() {
		log.Panicf("callback of %s has been released", c.Name())
	}

	d := s.mustGetDomain(domainName)

	t := o.thread
	if t == nil {
		t = base.HostThread()
	}

	if t == nil {
		t = d.thread
	}

	base.beginRegistration(s, t, o.reference)

	slot := 0
	if o.freq != 0 {
		slot = d.findSlot(o.freq)
	}

	effSkew := skew + d.EdgeSkew(cb.edge)

	s.lock.Lock()
	s.threadMustBelongToServer(t)

	s.seq++
	seq := s.seq

	cb.id = s.ids.Generate()
	cb.skew = effSkew
	cb.registered = true

	v := t.viewOf(d)

	info, created := v.infoFor(slot, effSkew)
	if created {
		s.infoList = append(s.infoList, info)
	}

	if !s.clockableSet[c] {
		s.clockableSet[c] = true
		s.clockables = append(s.clockables, c)
	}
	s.lock.Unlock()

	v.addEntry(&entry{
		cb:    cb,
		owner: c,
		seq:   seq,
		skew:  effSkew,
		info:  info,
	})

	base.completeRegistration(s, d, info, t, o.reference)

	return d
}

func (s *Server) threadMustBelongToServer(t *Thread) {
	if t.server != s {
		log.Panicf("thread %s belongs to another server", t.name)
	}

	if t.IsClosed() {
		log.Panicf("thread %s is closed", t.name)
	}
}

func (s *Server) mustGetDomain(name string) *Domain {
	d := s.Domain(name)
	if d == nil {
		log.Panicf("unknown clock domain %s", name)
	}

	return d
}

// Domain returns the domain with the given name, or nil.
func (s *Server) Domain(name string) *Domain {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.domains[name]
}

// Domains returns all the domains, in creation order.
func (s *Server) Domains() []*Domain {
	s.lock.Lock()
	defer s.lock.Unlock()

	list := make([]*Domain, len(s.domainList))
	copy(list, s.domainList)

	return list
}

// Threads returns all the threads, the default thread first.
func (s *Server) Threads() []*Thread {
	s.lock.Lock()
	defer s.lock.Unlock()

	list := make([]*Thread, len(s.threads))
	copy(list, s.threads)

	return list
}

// Clockables returns all the registered clockables, in registration order.
func (s *Server) Clockables() []Clockable {
	s.lock.Lock()
	defer s.lock.Unlock()

	list := make([]Clockable, len(s.clockables))
	copy(list, s.clockables)

	return list
}

// RateMatchers returns all the rate matchers created on the server.
func (s *Server) RateMatchers() []RateMatcherInfo {
	s.lock.Lock()
	defer s.lock.Unlock()

	list := make([]RateMatcherInfo, len(s.matchers))
	copy(list, s.matchers)

	return list
}

func (s *Server) trackRateMatcher(m RateMatcherInfo) {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.matchers = append(s.matchers, m)
}

// Now returns the time up to which the simulation has run.
func (s *Server) Now() timing.VTimeInFs {
	return timing.VTimeInFs(s.now.Load())
}

// IsRunning tells if a run is in progress.
func (s *Server) IsRunning() bool {
	return s.running.Load()
}

// RunBaseCycles runs the next n base cycles of a domain. Every other domain
// runs for the same amount of simulated time. The end of the run follows
// frequency changes made while it runs.
func (s *Server) RunBaseCycles(domainName string, n uint64) {
	d := s.mustGetDomain(domainName)

	start := d.firstBaseAfter(s.Now(), true)
	if f := d.Frontier(); f > start {
		start = f
	}

	target := start + n

	s.run(func() timing.VTimeInFs { return d.TimeOf(target) })
}

// RunUntil runs every instant before horizon.
func (s *Server) RunUntil(horizon timing.VTimeInFs) {
	s.run(func() timing.VTimeInFs { return horizon })
}

// run runs every instant before the time returned by limit. The limit is
// asked again before every instant and every window.
func (s *Server) run(limit func() timing.VTimeInFs) {
	s.runLock.Lock()
	defer s.runLock.Unlock()

	if limit() <= s.Now() {
		return
	}

	s.running.Store(true)
	defer s.running.Store(false)

	threads := s.activeThreads()

	switch len(threads) {
	case 0:
	case 1:
		s.windowStart.Store(s.now.Load())
		threads[0].runUntil(limit)
	default:
		s.runWindows(threads, limit)
	}

	if end := limit(); end > s.Now() {
		s.now.Store(uint64(end))
	}
}

func (s *Server) activeThreads() []*Thread {
	s.lock.Lock()
	defer s.lock.Unlock()

	var threads []*Thread

	for _, t := range s.threads {
		if !t.IsClosed() && t.hasViews() {
			threads = append(threads, t)
		}
	}

	return threads
}

func (s *Server) runWindows(
	threads []*Thread,
	limit func() timing.VTimeInFs,
) {
	now := s.Now()

	for {
		horizon := limit()
		if now >= horizon {
			break
		}

		end := now + s.syncQuantum()
		if end > horizon || end < now {
			end = horizon
		}

		s.windowStart.Store(uint64(now))
		s.runWindow(threads, func() timing.VTimeInFs {
			return min(end, limit())
		})

		now = min(end, limit())
		s.now.Store(uint64(now))
	}
}

func (s *Server) runWindow(
	threads []*Thread,
	limit func() timing.VTimeInFs,
) {
	var (
		wg        sync.WaitGroup
		panicLock sync.Mutex
		panicked  any
	)

	for _, t := range threads {
		wg.Add(1)

		go func(t *Thread) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					panicLock.Lock()
					if panicked == nil {
						panicked = r
					}
					panicLock.Unlock()
				}
			}()

			t.runUntil(limit)
		}(t)
	}

	wg.Wait()

	if panicked != nil {
		panic(panicked)
	}
}

// syncQuantum returns the length of the next parallel window.
func (s *Server) syncQuantum() timing.VTimeInFs {
	if s.quantum > 0 {
		return s.quantum
	}

	var q timing.VTimeInFs

	for _, d := range s.Domains() {
		period := timing.CycleStart(1, uint64(d.BaseFreq()))
		if period == 0 {
			period = 1
		}

		if q == 0 || period < q {
			q = period
		}
	}

	if q == 0 {
		q = 1
	}

	return q
}

// Pause stops the threads at the end of the instant they are running. It
// must not be called from a callback.
func (s *Server) Pause() {
	s.isPausedGuard.Lock()
	defer s.isPausedGuard.Unlock()

	if s.isPaused {
		return
	}

	s.pauseLock.Lock()
	s.isPaused = true
}

// Continue resumes the threads after Pause.
func (s *Server) Continue() {
	s.isPausedGuard.Lock()
	defer s.isPausedGuard.Unlock()

	if !s.isPaused {
		return
	}

	s.pauseLock.Unlock()
	s.isPaused = false
}

// IsPaused tells if the server is paused.
func (s *Server) IsPaused() bool {
	s.isPausedGuard.Lock()
	defer s.isPausedGuard.Unlock()

	return s.isPaused
}

// TurnOnDralEvents turns on event tracing. Every clockable that asked for it
// through RegisterDralTurnOn is notified exactly once, in registration order.
func (s *Server) TurnOnDralEvents() {
	if s.dralOn.Swap(true) {
		return
	}

	s.InvokeHook(hooking.HookCtx{
		Domain: s,
		Pos:    HookPosDralOn,
	})

	s.lock.Lock()
	infos := make([]*ClockInfo, len(s.infoList))
	copy(infos, s.infoList)
	s.lock.Unlock()

	notified := make(map[Clockable]bool)

	for _, info := range infos {
		for _, c := range info.eventsTurnOnList() {
			if notified[c] {
				continue
			}

			notified[c] = true

			if l, ok := c.(DralListener); ok {
				l.DralEventsTurnedOn()
			}
		}
	}
}

// IsDralOn tells if event tracing has been turned on.
func (s *Server) IsDralOn() bool {
	return s.dralOn.Load()
}

// EmitEvent reports a trace event of a clockable to the hooks of its server.
// It does nothing if the clockable has no clock info or tracing is off.
func EmitEvent(c Clockable, what string, detail any) {
	info := c.Clocking().GetClockInfo()
	if info == nil {
		return
	}

	s := info.Server()
	if !s.IsDralOn() || s.NumHooks() == 0 {
		return
	}

	s.InvokeHook(hooking.HookCtx{
		Domain: s,
		Pos:    HookPosDralEvent,
		Item: DralEvent{
			Source:    c,
			What:      what,
			Detail:    detail,
			BaseCycle: info.BaseCycle(),
			Cycle:     info.Cycle(),
			Time:      info.Thread().Now(),
		},
	})
}

// Teardown closes every clockable and every thread.
func (s *Server) Teardown() {
	for _, c := range s.Clockables() {
		c.Clocking().Close()
	}

	for _, t := range s.Threads() {
		t.Close()
	}
}

// Describe returns a one-line summary of every domain, sorted by name.
func (s *Server) Describe() []string {
	domains := s.Domains()
	sort.Slice(domains, func(i, j int) bool {
		return domains[i].name < domains[j].name
	})

	lines := make([]string, 0, len(domains))
	for _, d := range domains {
		lines = append(lines, fmt.Sprintf("%s thread=%s base=%.3fGHz freqs=%v",
			d.name, d.thread.name, d.BaseFreq().InGHz(), d.Frequencies()))
	}

	return lines
}
