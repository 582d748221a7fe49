package clocking

import (
	"log"
	"sync/atomic"

	ring "github.com/randomizedcoder/go-lock-free-ring"

	"github.com/sarchlab/clocksim/sim/naming"
	"github.com/sarchlab/clocksim/sim/timing"
)

// RateMatcherRole tells which end of a rate matcher a clockable holds.
type RateMatcherRole int

// The two ends of a rate matcher.
const (
	RateMatcherWriter RateMatcherRole = iota
	RateMatcherReader
)

func (r RateMatcherRole) String() string {
	if r == RateMatcherWriter {
		return "writer"
	}

	return "reader"
}

// RateMatcherInfo is the type-independent view of a rate matcher.
type RateMatcherInfo interface {
	naming.Named

	Writer() Clockable
	Reader() Clockable

	// Len returns the number of items written and not read yet.
	Len() int
}

// RateMatcherEnd records that a clockable is one end of a rate matcher.
type RateMatcherEnd struct {
	Role    RateMatcherRole
	Matcher RateMatcherInfo
}

// RateMatcherCapacity is the number of items a rate matcher can hold.
const RateMatcherCapacity = 1024

type stampedItem[T any] struct {
	item T
	time timing.VTimeInFs
}

// A RateMatcher carries items from a writer clockable to a reader clockable
// that may run at a different frequency, or in a different thread.
//
// An item becomes visible to the reader at the first instant of the reader
// after the instant it was written in. When the ends run in different
// threads, an item becomes visible once the window it was written in has
// ended. The results do not depend on how the threads are scheduled.
//
// Items are stamped with the time of the thread that clocks each end, so each
// end must be clocked by a single thread. Registering an end on a second
// thread panics.
type RateMatcher[T any] struct {
	naming.NamedBase

	server *Server
	writer Clockable
	reader Clockable

	queue    *ring.ShardedRing
	pending  []stampedItem[T]
	inFlight atomic.Int64
}

// NewRateMatcher creates a rate matcher between two clockables.
func NewRateMatcher[T any](
	s *Server,
	name string,
	writer, reader Clockable,
) *RateMatcher[T] {
	queue, err := ring.NewShardedRing(RateMatcherCapacity, 1)
	if err != nil {
		log.Panic(err)
	}

	m := &RateMatcher[T]{
		NamedBase: naming.MakeNamedBase(name),
		server:    s,
		writer:    writer,
		reader:    reader,
		queue:     queue,
	}

	writer.Clocking().registerRateMatcher(
		RateMatcherEnd{Role: RateMatcherWriter, Matcher: m})
	reader.Clocking().registerRateMatcher(
		RateMatcherEnd{Role: RateMatcherReader, Matcher: m})
	s.trackRateMatcher(m)

	return m
}

// Writer returns the clockable that writes.
func (m *RateMatcher[T]) Writer() Clockable {
	return m.writer
}

// Reader returns the clockable that reads.
func (m *RateMatcher[T]) Reader() Clockable {
	return m.reader
}

// Len returns the number of items written and not read yet.
func (m *RateMatcher[T]) Len() int {
	return int(m.inFlight.Load())
}

// Write enqueues an item. It returns false if the rate matcher is full. It
// must only be called by the writer.
func (m *RateMatcher[T]) Write(item T) bool {
	t := m.writer.Clocking().GetClockingThread()

	if !m.queue.Write(0, stampedItem[T]{item: item, time: t.Now()}) {
		return false
	}

	m.inFlight.Add(1)

	return true
}

// Read dequeues the oldest visible item. It must only be called by the
// reader.
func (m *RateMatcher[T]) Read() (T, bool) {
	m.drain()

	var zero T

	if len(m.pending) == 0 || m.pending[0].time >= m.visibleBefore() {
		return zero, false
	}

	item := m.pending[0].item
	m.pending[0] = stampedItem[T]{}
	m.pending = m.pending[1:]
	m.inFlight.Add(-1)

	return item, true
}

// Peek returns the oldest visible item without removing it.
func (m *RateMatcher[T]) Peek() (T, bool) {
	m.drain()

	var zero T

	if len(m.pending) == 0 || m.pending[0].time >= m.visibleBefore() {
		return zero, false
	}

	return m.pending[0].item, true
}

func (m *RateMatcher[T]) drain() {
	for {
		v, ok := m.queue.TryRead()
		if !ok {
			return
		}

		m.pending = append(m.pending, v.(stampedItem[T]))
	}
}

// visibleBefore returns the time before which written items are visible to
// the reader.
func (m *RateMatcher[T]) visibleBefore() timing.VTimeInFs {
	rt := m.reader.Clocking().GetClockingThread()
	wt := m.writer.Clocking().GetClockingThread()

	bound := rt.Now()
	if rt != wt && m.server.IsRunning() {
		ws := timing.VTimeInFs(m.server.windowStart.Load())
		if ws < bound {
			bound = ws
		}
	}

	return bound
}
