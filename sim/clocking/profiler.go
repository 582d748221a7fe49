package clocking

import (
	"log"
	"math"
	"sync"
	"time"

	"github.com/sarchlab/clocksim/sim/hooking"
)

// A CycleCounter is a free-running counter, such as a host cycle counter,
// that the profiler samples around every callback.
type CycleCounter interface {
	Read() uint64
}

// WallClockCounter counts host nanoseconds since it was created.
type WallClockCounter struct {
	start time.Time
}

// NewWallClockCounter creates a counter that starts at 0 now.
func NewWallClockCounter() *WallClockCounter {
	return &WallClockCounter{start: time.Now()}
}

// Read returns the nanoseconds elapsed since the counter was created.
func (c *WallClockCounter) Read() uint64 {
	return uint64(time.Since(c.start).Nanoseconds())
}

// A Profiler is a hook that measures how long each callback takes and
// accumulates the result into the callback's clockable.
//
// The counter is width bits wide. A reading lower than the one taken before
// the callback means the counter wrapped; the elapsed count is then recorded
// with IncWrapAround instead of IncCyclesSpent.
type Profiler struct {
	counter CycleCounter
	mask    uint64

	lock   sync.Mutex
	starts map[*Thread]uint64
}

// NewProfiler creates a profiler that samples counter, a width-bit counter.
func NewProfiler(counter CycleCounter, width uint) *Profiler {
	if width == 0 || width > 64 {
		log.Panicf("counter width %d is not in 1..64", width)
	}

	mask := uint64(math.MaxUint64)
	if width < 64 {
		mask = 1<<width - 1
	}

	return &Profiler{
		counter: counter,
		mask:    mask,
		starts:  make(map[*Thread]uint64),
	}
}

// Func samples the counter around callback invocations.
func (p *Profiler) Func(ctx hooking.HookCtx) {
	tick, ok := ctx.Item.(Tick)
	if !ok {
		return
	}

	switch ctx.Pos {
	case HookPosBeforeTick:
		reading := p.counter.Read() & p.mask

		p.lock.Lock()
		p.starts[tick.Thread] = reading
		p.lock.Unlock()
	case HookPosAfterTick:
		end := p.counter.Read() & p.mask

		p.lock.Lock()
		start := p.starts[tick.Thread]
		p.lock.Unlock()

		p.record(tick.Clockable.Clocking(), start, end)
	}
}

func (p *Profiler) record(b *ClockableBase, start, end uint64) {
	if end >= start {
		b.IncCyclesSpent(end - start)
		return
	}

	b.IncWrapAround((end - start) & p.mask)
}

// ProfileStats summarizes the time spent in a clockable.
type ProfileStats struct {
	Name             string
	Cycles           uint64
	Min              uint64
	Max              uint64
	Invocations      uint64
	WrapAroundCycles uint64
	WrapArounds      uint64
}

// Avg returns the average duration of an invocation.
func (s ProfileStats) Avg() float64 {
	if s.Invocations == 0 {
		return 0
	}

	return float64(s.Cycles) / float64(s.Invocations)
}

// Profile returns the statistics of the clockable. Min is 0 if no non-zero
// duration was recorded.
func (b *ClockableBase) Profile() ProfileStats {
	minCycles := b.GetCyclesMin()
	if minCycles == math.MaxUint64 {
		minCycles = 0
	}

	return ProfileStats{
		Name:             b.name,
		Cycles:           b.GetCycles(),
		Min:              minCycles,
		Max:              b.GetCyclesMax(),
		Invocations:      b.GetNumInvocations(),
		WrapAroundCycles: b.GetWrapAroundCycles(),
		WrapArounds:      b.GetWrapAround(),
	}
}
