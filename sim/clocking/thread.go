package clocking

import (
	"slices"
	"sync"
	"sync/atomic"

	"github.com/sarchlab/clocksim/sim/hooking"
	"github.com/sarchlab/clocksim/sim/timing"
)

// Tick describes one callback invocation. It is the item of the hooks
// invoked at HookPosBeforeTick and HookPosAfterTick.
type Tick struct {
	Thread    *Thread
	Domain    *Domain
	Clockable Clockable
	Callback  *Callback
	BaseCycle uint64
	Cycle     uint64
	Skew      uint32
	Time      timing.VTimeInFs
}

type entry struct {
	cb    *Callback
	owner Clockable
	seq   uint64
	skew  uint32
	info  *ClockInfo
}

func compareEntries(a, b *entry) int {
	if a.skew != b.skew {
		if a.skew < b.skew {
			return -1
		}

		return 1
	}

	if a.seq < b.seq {
		return -1
	}

	if a.seq > b.seq {
		return 1
	}

	return 0
}

type infoKey struct {
	slot int
	skew uint32
}

// domainView is the part of a domain that one thread clocks.
type domainView struct {
	domain *Domain
	thread *Thread

	lock     sync.Mutex
	nextBase uint64
	entries  []*entry
	infos    map[infoKey]*ClockInfo
	infoList []*ClockInfo

	counts []uint64
	ticked []bool
}

func (v *domainView) nextTime() timing.VTimeInFs {
	v.lock.Lock()
	b := v.nextBase
	v.lock.Unlock()

	return v.domain.TimeOf(b)
}

func (v *domainView) infoFor(slot int, skew uint32) (*ClockInfo, bool) {
	v.lock.Lock()
	defer v.lock.Unlock()

	key := infoKey{slot: slot, skew: skew}
	if info, ok := v.infos[key]; ok {
		return info, false
	}

	info := &ClockInfo{view: v, slot: slot, skew: skew}
	v.infos[key] = info
	v.infoList = append(v.infoList, info)

	return info, true
}

func (v *domainView) addEntry(e *entry) {
	v.lock.Lock()
	defer v.lock.Unlock()

	i, _ := slices.BinarySearchFunc(v.entries, e, compareEntries)
	v.entries = slices.Insert(v.entries, i, e)
}

func (v *domainView) numEntries() int {
	v.lock.Lock()
	defer v.lock.Unlock()

	return len(v.entries)
}

// collectDue starts the next base cycle of the view and appends the entries
// that tick on it.
func (v *domainView) collectDue(due []*entry) []*entry {
	v.lock.Lock()
	defer v.lock.Unlock()

	b := v.nextBase

	_, v.counts, v.ticked = v.domain.startBase(b, v.counts, v.ticked)

	for _, info := range v.infoList {
		info.baseCycle.Store(b)

		if v.ticked[info.slot] {
			info.cycle.Store(v.counts[info.slot])
		}
	}

	for _, e := range v.entries {
		if e.cb.IsReleased() {
			continue
		}

		if v.ticked[e.info.slot] {
			due = append(due, e)
		}
	}

	v.nextBase = b + 1

	return due
}

// A Thread clocks a set of domain views in time order. Threads of the same
// server run in parallel, synchronized at window boundaries.
type Thread struct {
	name   string
	server *Server

	lock    sync.Mutex
	views   []*domainView
	byName  map[string]*domainView
	now     atomic.Uint64
	started atomic.Bool
	closed  atomic.Bool

	due    []*entry
	active []*domainView
}

func newThread(s *Server, name string) *Thread {
	return &Thread{
		name:   name,
		server: s,
		byName: make(map[string]*domainView),
	}
}

// Name returns the name of the thread.
func (t *Thread) Name() string {
	return t.name
}

// Server returns the server that owns the thread.
func (t *Thread) Server() *Server {
	return t.server
}

// Now returns the time of the instant the thread is running, or last ran.
func (t *Thread) Now() timing.VTimeInFs {
	return timing.VTimeInFs(t.now.Load())
}

// Close stops the thread. A closed thread is skipped by the server.
func (t *Thread) Close() {
	t.closed.Store(true)
}

// IsClosed tells if the thread has been closed.
func (t *Thread) IsClosed() bool {
	return t.closed.Load()
}

// Domains returns the domains clocked by the thread.
func (t *Thread) Domains() []*Domain {
	t.lock.Lock()
	defer t.lock.Unlock()

	domains := make([]*Domain, len(t.views))
	for i, v := range t.views {
		domains[i] = v.domain
	}

	return domains
}

func (t *Thread) hasViews() bool {
	t.lock.Lock()
	defer t.lock.Unlock()

	return len(t.views) > 0
}

// viewOf returns the view of a domain, creating it if needed. A view created
// after the thread started begins at the first base cycle after the thread's
// current time.
func (t *Thread) viewOf(d *Domain) *domainView {
	t.lock.Lock()
	defer t.lock.Unlock()

	if v, ok := t.byName[d.name]; ok {
		return v
	}

	v := &domainView{
		domain: d,
		thread: t,
		infos:  make(map[infoKey]*ClockInfo),
	}

	now, inclusive := t.Now(), !t.started.Load()
	if sn := t.server.Now(); sn > now {
		now, inclusive = sn, true
	}

	if now > 0 || !inclusive {
		v.nextBase = d.firstBaseAfter(now, inclusive)
	}

	t.views = append(t.views, v)
	t.byName[d.name] = v

	return v
}

func (t *Thread) viewsSnapshot() []*domainView {
	t.lock.Lock()
	defer t.lock.Unlock()

	return slices.Clone(t.views)
}

// nextInstant returns the earliest time at which one of the views has a base
// cycle to run.
func (t *Thread) nextInstant(views []*domainView) (timing.VTimeInFs, bool) {
	var (
		earliest timing.VTimeInFs
		found    bool
	)

	for _, v := range views {
		vt := v.nextTime()
		if !found || vt < earliest {
			earliest = vt
			found = true
		}
	}

	return earliest, found
}

// runUntil runs all the instants before the time returned by limit. The limit
// is asked again before every instant, as callbacks may change frequencies.
func (t *Thread) runUntil(limit func() timing.VTimeInFs) {
	for !t.closed.Load() {
		views := t.viewsSnapshot()

		now, ok := t.nextInstant(views)
		if !ok || now >= limit() {
			break
		}

		t.dispatchUnlessPaused(now, views)
	}

	end := limit()
	if end > t.Now() && end != timing.VTimeInFs(^uint64(0)) {
		t.advanceIdle(end)
	}
}

// advanceIdle moves the thread's clock forward to a window boundary without
// running anything, so that views created later start from there.
func (t *Thread) advanceIdle(end timing.VTimeInFs) {
	t.lock.Lock()
	defer t.lock.Unlock()

	if t.Now() < end {
		t.now.Store(uint64(end))
		t.started.Store(false)
	}
}

func (t *Thread) dispatchUnlessPaused(
	now timing.VTimeInFs,
	views []*domainView,
) {
	t.server.pauseLock.RLock()
	defer t.server.pauseLock.RUnlock()

	t.dispatch(now, views)
}

// dispatch runs one instant. Due callbacks from all the views run in skew
// order, and in registration order within a skew.
func (t *Thread) dispatch(now timing.VTimeInFs, views []*domainView) {
	t.lock.Lock()
	t.now.Store(uint64(now))
	t.started.Store(true)
	t.lock.Unlock()

	t.active = t.active[:0]
	for _, v := range views {
		if v.nextTime() == now {
			t.active = append(t.active, v)
		}
	}

	t.due = t.due[:0]
	for _, v := range t.active {
		t.due = v.collectDue(t.due)
	}

	if len(t.active) > 1 {
		slices.SortFunc(t.due, compareEntries)
	}

	for i, e := range t.due {
		t.invoke(e, now)
		t.due[i] = nil
	}
}

func (t *Thread) invoke(e *entry, now timing.VTimeInFs) {
	if e.cb.IsReleased() {
		return
	}

	cycle := e.info.Cycle()

	s := t.server
	if s.NumHooks() == 0 {
		e.cb.invoke(cycle)
		return
	}

	tick := Tick{
		Thread:    t,
		Domain:    e.info.view.domain,
		Clockable: e.owner,
		Callback:  e.cb,
		BaseCycle: e.info.BaseCycle(),
		Cycle:     cycle,
		Skew:      e.skew,
		Time:      now,
	}

	s.InvokeHook(hooking.HookCtx{
		Domain: s,
		Pos:    HookPosBeforeTick,
		Item:   tick,
	})

	e.cb.invoke(cycle)

	s.InvokeHook(hooking.HookCtx{
		Domain: s,
		Pos:    HookPosAfterTick,
		Item:   tick,
	})
}

// NumRegistrations returns how many callbacks the thread clocks.
func (t *Thread) NumRegistrations() int {
	n := 0
	for _, v := range t.viewsSnapshot() {
		n += v.numEntries()
	}

	return n
}
