package tracing

import (
	"sort"
	"sync"
)

// TickCountTracer counts the events of each kind per location.
type TickCountTracer struct {
	lock   sync.Mutex
	counts map[string]map[string]uint64
}

// NewTickCountTracer creates a new TickCountTracer.
func NewTickCountTracer() *TickCountTracer {
	return &TickCountTracer{
		counts: make(map[string]map[string]uint64),
	}
}

// Trace counts the event.
func (t *TickCountTracer) Trace(e Event) {
	t.lock.Lock()
	defer t.lock.Unlock()

	perKind, ok := t.counts[e.Where]
	if !ok {
		perKind = make(map[string]uint64)
		t.counts[e.Where] = perKind
	}

	perKind[e.Kind]++
}

// Count returns how many events of a kind happened at a location.
func (t *TickCountTracer) Count(where, kind string) uint64 {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.counts[where][kind]
}

// Locations returns the locations that have events, sorted.
func (t *TickCountTracer) Locations() []string {
	t.lock.Lock()
	defer t.lock.Unlock()

	list := make([]string, 0, len(t.counts))
	for where := range t.counts {
		list = append(list, where)
	}

	sort.Strings(list)

	return list
}
