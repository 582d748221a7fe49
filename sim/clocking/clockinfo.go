package clocking

import (
	"sync"
	"sync/atomic"

	"github.com/sarchlab/clocksim/sim/timing"
)

// ClockInfo is the timing record shared by every registration with the same
// thread, domain, frequency and skew. The owning thread writes the counters
// right before it runs the callbacks of an instant.
type ClockInfo struct {
	view *domainView
	slot int
	skew uint32

	baseCycle atomic.Uint64
	cycle     atomic.Uint64

	lock         sync.Mutex
	eventsTurnOn []Clockable
}

// BaseCycle returns the base cycle of the domain, as seen by the thread.
func (i *ClockInfo) BaseCycle() uint64 {
	return i.baseCycle.Load()
}

// Cycle returns the local cycle of the registrations sharing this record. It
// differs from BaseCycle when they run slower than the domain's base rate.
func (i *ClockInfo) Cycle() uint64 {
	return i.cycle.Load()
}

// Domain returns the clock domain of the record.
func (i *ClockInfo) Domain() *Domain {
	return i.view.domain
}

// Thread returns the thread that updates the record.
func (i *ClockInfo) Thread() *Thread {
	return i.view.thread
}

// Server returns the server that owns the domain.
func (i *ClockInfo) Server() *Server {
	return i.view.domain.server
}

// Freq returns the current frequency of the registrations sharing this
// record.
func (i *ClockInfo) Freq() timing.Freq {
	return i.view.domain.slotFreq(i.slot)
}

// Skew returns the registration skew of the record.
func (i *ClockInfo) Skew() uint32 {
	return i.skew
}

func (i *ClockInfo) addEventsTurnOn(c Clockable) {
	i.lock.Lock()
	defer i.lock.Unlock()

	i.eventsTurnOn = append(i.eventsTurnOn, c)
}

func (i *ClockInfo) eventsTurnOnList() []Clockable {
	i.lock.Lock()
	defer i.lock.Unlock()

	list := make([]Clockable, len(i.eventsTurnOn))
	copy(list, i.eventsTurnOn)

	return list
}
