package clocking

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/gmeasure"

	"github.com/sarchlab/clocksim/sim/timing"
)

var _ = Describe("Dispatch speed", func() {
	It("measure dispatch of two frequencies", func() {
		experiment := gmeasure.NewExperiment("Clock Server Dispatch Speed")
		AddReportEntry(experiment.Name, experiment)

		experiment.Sample(func(_ int) {
			s := NewServer()
			s.NewClockDomain("core", 2*timing.GHz, 1*timing.GHz)

			fast := newLoggingClockable("fast", nil)
			slow := newLoggingClockable("slow", nil)
			s.RegisterClock(fast, "core", 0)
			s.RegisterClock(slow, "core", 10, AtFrequency(1*timing.GHz))

			experiment.MeasureDuration("runtime", func() {
				s.RunBaseCycles("core", 10000)
			})

			Expect(fast.cycles).To(HaveLen(10000))
			Expect(slow.cycles).To(HaveLen(5000))
		}, gmeasure.SamplingConfig{N: 3})
	})
})
