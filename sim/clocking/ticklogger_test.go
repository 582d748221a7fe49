package clocking

import (
	"bytes"
	"log"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/clocksim/sim/timing"
)

var _ = Describe("TickLogger", func() {
	It("should log every tick", func() {
		buf := &bytes.Buffer{}

		s := NewServer()
		s.NewClockDomain("core", 1*timing.GHz)
		s.RegisterClock(newLoggingClockable("c", nil), "core", 0)
		s.AcceptHook(NewTickLogger(log.New(buf, "", 0)))

		s.RunBaseCycles("core", 3)

		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		Expect(lines).To(HaveLen(3))
		Expect(lines[0]).To(HaveSuffix(", main/core, c cycle 0 HIGH"))
		Expect(lines[2]).To(HaveSuffix("c cycle 2 HIGH"))
	})
})
