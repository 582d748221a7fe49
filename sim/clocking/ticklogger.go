package clocking

import (
	"log"

	"github.com/sarchlab/clocksim/sim/hooking"
)

// TickLogger is a hook that prints every callback invocation.
type TickLogger struct {
	logger *log.Logger
}

// NewTickLogger returns a new TickLogger which will write into the logger.
func NewTickLogger(logger *log.Logger) *TickLogger {
	h := new(TickLogger)

	h.logger = logger

	return h
}

// Func writes the tick information into the logger.
func (h *TickLogger) Func(ctx hooking.HookCtx) {
	if ctx.Pos != HookPosBeforeTick {
		return
	}

	tick, ok := ctx.Item.(Tick)
	if !ok {
		return
	}

	h.logger.Printf("%d, %s/%s, %s cycle %d %s",
		tick.Time, tick.Thread.Name(), tick.Domain.Name(),
		tick.Clockable.Name(), tick.Cycle, tick.Callback.Edge())
}
