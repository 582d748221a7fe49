package datarecording

import (
	"sync"

	"github.com/sarchlab/clocksim/sim/clocking"
	"github.com/sarchlab/clocksim/sim/hooking"
)

// ProfileTable is the table that holds the per-clockable statistics.
const ProfileTable = "clockable_profile"

// FreqChangeTable is the table that holds domain frequency changes.
const FreqChangeTable = "freq_change"

// ProfileEntry is one row of the clockable profile table.
type ProfileEntry struct {
	Clockable        string
	Domain           string
	Thread           string
	FreqGHz          float64
	Cycles           uint64
	MinCycles        uint64
	MaxCycles        uint64
	AvgCycles        float64
	Invocations      uint64
	WrapAroundCycles uint64
	WrapArounds      uint64
}

// RecordProfiles writes one profile row per clockable. Clockables that never
// registered are skipped.
func RecordProfiles(r DataRecorder, clockables []clocking.Clockable) {
	r.CreateTable(ProfileTable, ProfileEntry{})

	for _, c := range clockables {
		r.InsertData(ProfileTable, profileEntryOf(c))
	}

	r.Flush()
}

func profileEntryOf(c clocking.Clockable) ProfileEntry {
	b := c.Clocking()
	p := b.Profile()

	entry := ProfileEntry{
		Clockable:        p.Name,
		Cycles:           p.Cycles,
		MinCycles:        p.Min,
		MaxCycles:        p.Max,
		AvgCycles:        p.Avg(),
		Invocations:      p.Invocations,
		WrapAroundCycles: p.WrapAroundCycles,
		WrapArounds:      p.WrapArounds,
	}

	if info := b.GetClockInfo(); info != nil {
		entry.Domain = info.Domain().Name()
		entry.Thread = info.Thread().Name()
		entry.FreqGHz = info.Freq().InGHz()
	}

	return entry
}

// FreqChangeEntry is one row of the frequency change table.
type FreqChangeEntry struct {
	Domain        string
	OldGHz        float64
	NewGHz        float64
	EffectiveBase uint64
}

// A FreqChangeRecorder is a server hook that records every frequency change.
type FreqChangeRecorder struct {
	recorder DataRecorder
	once     sync.Once
}

// NewFreqChangeRecorder creates a hook that writes into r.
func NewFreqChangeRecorder(r DataRecorder) *FreqChangeRecorder {
	return &FreqChangeRecorder{recorder: r}
}

// Func records FreqChange items.
func (h *FreqChangeRecorder) Func(ctx hooking.HookCtx) {
	if ctx.Pos != clocking.HookPosFreqChange {
		return
	}

	change := ctx.Item.(clocking.FreqChange)

	h.once.Do(func() {
		h.recorder.CreateTable(FreqChangeTable, FreqChangeEntry{})
	})

	h.recorder.InsertData(FreqChangeTable, FreqChangeEntry{
		Domain:        change.Domain.Name(),
		OldGHz:        change.Old.InGHz(),
		NewGHz:        change.New.InGHz(),
		EffectiveBase: change.EffectiveBase,
	})
}
