package clocking

import (
	"log"
	"math"
	"sync"

	"github.com/sarchlab/clocksim/sim/timing"
)

// slotAnchor fixes the tick count of a frequency slot from a base cycle on:
// count(b) = start + ceil((b - base) * num / den).
type slotAnchor struct {
	base  uint64
	start uint64
	num   uint64
	den   uint64
}

// freqSlot is one working frequency of a domain.
type freqSlot struct {
	nominalHz uint64
	anchors   []slotAnchor
}

// timeEpoch maps base cycles to time from a base cycle on, at a fixed base
// rate.
type timeEpoch struct {
	base uint64
	time timing.VTimeInFs
	hz   uint64
}

// A Domain is a named group of clockables sharing one or more frequencies
// and an edge-to-skew table.
//
// The base rate of a domain is its highest frequency. A registration at a
// lower frequency f ticks on base cycle b if and only if
// ceil((b+1)*f/F) > ceil(b*f/F), where F is the base rate. Frequencies are
// quantized to whole Hz and the arithmetic is exact, so slow clockables never
// drift. Every frequency ticks on base cycle 0.
type Domain struct {
	name      string
	server    *Server
	thread    *Thread
	edgeSkews [NumEdges]uint32

	lock         sync.RWMutex
	slots        []*freqSlot
	maxNominalHz uint64
	scale        float64
	epochs       []timeEpoch
	origin       timing.VTimeInFs
	frontier     uint64
}

// newDomain creates a domain whose base cycle 0 starts at origin.
func newDomain(s *Server, name string, t *Thread, origin timing.VTimeInFs) *Domain {
	return &Domain{
		name:      name,
		server:    s,
		thread:    t,
		edgeSkews: DefaultEdgeSkews,
		scale:     1,
		origin:    origin,
	}
}

// Name returns the name of the domain.
func (d *Domain) Name() string {
	return d.name
}

// Thread returns the thread assigned to the domain when it was created.
func (d *Domain) Thread() *Thread {
	return d.thread
}

// EdgeSkew returns the skew offset of an edge.
func (d *Domain) EdgeSkew(e Edge) uint32 {
	if !e.IsValid() {
		log.Panicf("domain %s: invalid edge %d", d.name, e)
	}

	return d.edgeSkews[e]
}

// Frequencies returns the working frequencies, in the order they were
// declared. The first one is the reference frequency.
func (d *Domain) Frequencies() []timing.Freq {
	d.lock.RLock()
	defer d.lock.RUnlock()

	freqs := make([]timing.Freq, len(d.slots))
	for i := range d.slots {
		freqs[i] = d.slotFreqLocked(i)
	}

	return freqs
}

// ReferenceFreq returns the first declared frequency.
func (d *Domain) ReferenceFreq() timing.Freq {
	return d.slotFreq(0)
}

// BaseFreq returns the rate at which base cycles are generated.
func (d *Domain) BaseFreq() timing.Freq {
	d.lock.RLock()
	defer d.lock.RUnlock()

	return timing.Freq(d.epochs[len(d.epochs)-1].hz)
}

// Frontier returns the first base cycle that no thread has started yet.
func (d *Domain) Frontier() uint64 {
	d.lock.RLock()
	defer d.lock.RUnlock()

	return d.frontier
}

func (d *Domain) slotFreq(i int) timing.Freq {
	d.lock.RLock()
	defer d.lock.RUnlock()

	return d.slotFreqLocked(i)
}

func (d *Domain) slotFreqLocked(i int) timing.Freq {
	return timing.Freq(float64(d.slots[i].nominalHz) * d.scale)
}

// extend adds working frequencies. Frequencies the domain already has are
// ignored. A frequency higher than the current base rate raises the base rate
// from the next unstarted base cycle on.
func (d *Domain) extend(freqs []timing.Freq) {
	d.lock.Lock()
	defer d.lock.Unlock()

	for _, f := range freqs {
		d.addSlotLocked(f)
	}
}

func (d *Domain) addSlotLocked(f timing.Freq) {
	nominal := d.nominalHzLocked(f)
	if d.findSlotByNominalLocked(nominal) >= 0 {
		return
	}

	eb := d.frontier

	if nominal > d.maxNominalHz {
		d.rebaseLocked(eb, nominal)
	}

	d.slots = append(d.slots, &freqSlot{
		nominalHz: nominal,
		anchors: []slotAnchor{
			{base: eb, start: 0, num: nominal, den: d.maxNominalHz},
		},
	})
}

func (d *Domain) nominalHzLocked(f timing.Freq) uint64 {
	hz := f.InHz()

	nominal := uint64(math.Round(float64(hz) / d.scale))
	if nominal == 0 {
		log.Panicf("domain %s: frequency %g Hz is too low", d.name, f)
	}

	return nominal
}

// rebaseLocked changes the denominator of every slot from base cycle eb on.
func (d *Domain) rebaseLocked(eb uint64, newMaxNominal uint64) {
	for _, s := range d.slots {
		start := s.countLocked(eb)
		s.setAnchor(slotAnchor{
			base:  eb,
			start: start,
			num:   s.nominalHz,
			den:   newMaxNominal,
		})
	}

	d.maxNominalHz = newMaxNominal
	d.setEpochLocked(eb, d.scaledBaseHzLocked(d.scale))
}

func (d *Domain) scaledBaseHzLocked(scale float64) uint64 {
	hz := uint64(math.Round(float64(d.maxNominalHz) * scale))
	if hz == 0 {
		log.Panicf("domain %s: base rate below 1 Hz", d.name)
	}

	return hz
}

func (d *Domain) setEpochLocked(eb uint64, hz uint64) {
	n := len(d.epochs)
	if n > 0 && d.epochs[n-1].base == eb {
		d.epochs[n-1].hz = hz
		return
	}

	t := d.origin
	if n > 0 {
		t = d.timeOfLocked(eb)
	}

	d.epochs = append(d.epochs, timeEpoch{base: eb, time: t, hz: hz})
}

func (s *freqSlot) setAnchor(a slotAnchor) {
	n := len(s.anchors)
	if n > 0 && s.anchors[n-1].base == a.base {
		if n == 1 {
			a.start = 0
		} else {
			a.start = s.anchors[n-2].count(a.base)
		}

		s.anchors[n-1] = a

		return
	}

	s.anchors = append(s.anchors, a)
}

func (a slotAnchor) count(b uint64) uint64 {
	return a.start + timing.CeilMulDiv(b-a.base, a.num, a.den)
}

// countLocked returns how many ticks the slot had before base cycle b.
func (s *freqSlot) countLocked(b uint64) uint64 {
	for i := len(s.anchors) - 1; i >= 0; i-- {
		if s.anchors[i].base <= b {
			return s.anchors[i].count(b)
		}
	}

	return 0
}

func (s *freqSlot) existsAt(b uint64) bool {
	return len(s.anchors) > 0 && s.anchors[0].base <= b
}

// setFrequency rescales the domain so that the reference frequency becomes
// f. Ratios between the working frequencies do not change, so the pattern of
// base cycles each registration ticks on is preserved; only the duration of
// a base cycle changes, from the next unstarted base cycle on.
func (d *Domain) setFrequency(f timing.Freq) (old timing.Freq, effective uint64) {
	hz := f.InHz()

	d.lock.Lock()
	defer d.lock.Unlock()

	old = d.slotFreqLocked(0)
	scale := float64(hz) / float64(d.slots[0].nominalHz)
	baseHz := d.scaledBaseHzLocked(scale)

	effective = d.frontier
	d.setEpochLocked(effective, baseHz)
	d.scale = scale

	return old, effective
}

// findSlot returns the slot index of a frequency, or panics if the domain
// does not have it.
func (d *Domain) findSlot(f timing.Freq) int {
	d.lock.RLock()
	defer d.lock.RUnlock()

	nominal := d.nominalHzLocked(f)

	i := d.findSlotByNominalLocked(nominal)
	if i < 0 {
		log.Panicf("domain %s does not have frequency %g GHz",
			d.name, f.InGHz())
	}

	return i
}

func (d *Domain) findSlotByNominalLocked(nominal uint64) int {
	for i, s := range d.slots {
		if s.nominalHz == nominal {
			return i
		}
	}

	return -1
}

func (d *Domain) numSlots() int {
	d.lock.RLock()
	defer d.lock.RUnlock()

	return len(d.slots)
}

// TimeOf returns the time at which base cycle b starts.
func (d *Domain) TimeOf(b uint64) timing.VTimeInFs {
	d.lock.RLock()
	defer d.lock.RUnlock()

	return d.timeOfLocked(b)
}

func (d *Domain) timeOfLocked(b uint64) timing.VTimeInFs {
	for i := len(d.epochs) - 1; i >= 0; i-- {
		e := d.epochs[i]
		if e.base <= b {
			return e.time + timing.CycleStart(b-e.base, e.hz)
		}
	}

	log.Panicf("domain %s has no frequency", d.name)

	return 0
}

// firstBaseAfter returns the first base cycle that starts after t, or at t if
// inclusive is set.
func (d *Domain) firstBaseAfter(t timing.VTimeInFs, inclusive bool) uint64 {
	d.lock.RLock()
	defer d.lock.RUnlock()

	e := d.epochs[0]
	for _, candidate := range d.epochs {
		if candidate.time <= t {
			e = candidate
		}
	}

	b := e.base
	if t > e.time {
		b += uint64(float64(t-e.time) * float64(e.hz) / timing.FsPerSec)
	}

	for b > e.base && d.isAfterLocked(b-1, t, inclusive) {
		b--
	}

	for !d.isAfterLocked(b, t, inclusive) {
		b++
	}

	return b
}

func (d *Domain) isAfterLocked(
	b uint64,
	t timing.VTimeInFs,
	inclusive bool,
) bool {
	bt := d.timeOfLocked(b)
	if inclusive {
		return bt >= t
	}

	return bt > t
}

// startBase marks base cycle b as started by a thread and fills the tick
// state of every slot: counts[i] is the number of ticks slot i had before b
// and ticked[i] tells if it ticks on b.
func (d *Domain) startBase(
	b uint64,
	counts []uint64,
	ticked []bool,
) (timing.VTimeInFs, []uint64, []bool) {
	d.lock.Lock()
	defer d.lock.Unlock()

	if b+1 > d.frontier {
		d.frontier = b + 1
	}

	counts = counts[:0]
	ticked = ticked[:0]

	for _, s := range d.slots {
		if !s.existsAt(b) {
			counts = append(counts, 0)
			ticked = append(ticked, false)

			continue
		}

		before := s.countLocked(b)
		after := s.countLocked(b + 1)
		counts = append(counts, before)
		ticked = append(ticked, after > before)
	}

	return d.timeOfLocked(b), counts, ticked
}
