package tracing

import (
	"fmt"
	"reflect"

	"github.com/sarchlab/clocksim/sim/clocking"
	"github.com/sarchlab/clocksim/sim/hooking"
	"github.com/sarchlab/clocksim/sim/id"
)

// CollectTrace lets the tracer collect the trace events of a server. Ticks
// are only traced if withTicks is set.
func CollectTrace(s *clocking.Server, tracer Tracer, withTicks bool) {
	hooks := s.Hooks()
	for _, hook := range hooks {
		hook, ok := hook.(*traceHook)
		if ok && hook.t == tracer {
			panic(fmt.Sprintf(
				"server already has tracer %s", reflect.TypeOf(tracer)))
		}
	}

	h := traceHook{
		t:         tracer,
		withTicks: withTicks,
		ids:       id.NewIDGenerator(),
	}
	s.AcceptHook(&h)
}

// A traceHook is a hook that turns server hook calls into events.
type traceHook struct {
	t         Tracer
	withTicks bool
	ids       id.IDGenerator
}

// Func calls the tracer when the hook is triggered
func (h *traceHook) Func(ctx hooking.HookCtx) {
	switch ctx.Pos {
	case clocking.HookPosDralEvent:
		h.traceDral(ctx.Item.(clocking.DralEvent))
	case clocking.HookPosFreqChange:
		h.traceFreqChange(ctx.Item.(clocking.FreqChange))
	case clocking.HookPosDralOn:
		h.t.Trace(Event{ID: h.ids.Generate(), Kind: KindTraceOn})
	case clocking.HookPosBeforeTick:
		if h.withTicks {
			h.traceTick(ctx.Item.(clocking.Tick))
		}
	}
}

func (h *traceHook) traceDral(e clocking.DralEvent) {
	event := Event{
		ID:        h.ids.Generate(),
		Kind:      KindDral,
		What:      e.What,
		Where:     e.Source.Name(),
		BaseCycle: e.BaseCycle,
		Cycle:     e.Cycle,
		Time:      e.Time.InSec(),
	}

	if e.Detail != nil {
		event.Detail = fmt.Sprint(e.Detail)
	}

	if info := e.Source.Clocking().GetClockInfo(); info != nil {
		event.Thread = info.Thread().Name()
	}

	h.t.Trace(event)
}

func (h *traceHook) traceFreqChange(c clocking.FreqChange) {
	h.t.Trace(Event{
		ID:        h.ids.Generate(),
		Kind:      KindFreqChange,
		What:      fmt.Sprintf("%.6fGHz", c.New.InGHz()),
		Where:     c.Domain.Name(),
		Thread:    c.Domain.Thread().Name(),
		BaseCycle: c.EffectiveBase,
		Time:      c.Domain.TimeOf(c.EffectiveBase).InSec(),
		Detail:    fmt.Sprintf("%.6fGHz", c.Old.InGHz()),
	})
}

func (h *traceHook) traceTick(t clocking.Tick) {
	h.t.Trace(Event{
		ID:        h.ids.Generate(),
		Kind:      KindTick,
		What:      t.Callback.Signature().String(),
		Where:     t.Clockable.Name(),
		Thread:    t.Thread.Name(),
		BaseCycle: t.BaseCycle,
		Cycle:     t.Cycle,
		Time:      t.Time.InSec(),
		Detail:    t.Callback.Edge().String(),
	})
}
