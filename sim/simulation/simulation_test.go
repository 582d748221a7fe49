package simulation

import (
	"context"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/clocksim/datarecording"
	"github.com/sarchlab/clocksim/sim/clocking"
	"github.com/sarchlab/clocksim/sim/timing"
	"github.com/sarchlab/clocksim/tracing"
)

type stepCounter struct {
	value uint64
}

func (c *stepCounter) Read() uint64 {
	c.value += 3
	return c.value
}

type beeper struct {
	*clocking.ClockableBase

	beeps int
}

func (b *beeper) Clock(cycle uint64) {
	b.beeps++
	clocking.EmitEvent(b, "beep", cycle)
}

func newBeeper(name string) *beeper {
	return &beeper{ClockableBase: clocking.NewClockableBase(name, nil)}
}

func readAll[T any](r *datarecording.Reader, table string) []T {
	results, err := datarecording.ReadTable[T](context.Background(), r,
		table, datarecording.Selection{})
	Expect(err).NotTo(HaveOccurred())

	return results
}

var _ = Describe("Simulation", func() {
	var (
		path   string
		dbFile string
	)

	BeforeEach(func() {
		path = filepath.Join(GinkgoT().TempDir(), "sim")
		dbFile = path + ".sqlite3"
	})

	openReader := func() *datarecording.Reader {
		r, err := datarecording.OpenReader(dbFile)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(r.Close)

		return r
	}

	It("should reject monitor options without monitoring", func() {
		Expect(func() {
			MakeBuilder().WithoutMonitoring().WithMonitorPort(8080).Build()
		}).To(Panic())
	})

	It("should reject bad counter widths", func() {
		Expect(func() {
			MakeBuilder().
				WithoutMonitoring().
				WithOutputFileName(path).
				WithProfiler(&stepCounter{}, 65).
				Build()
		}).To(Panic())
	})

	It("should record profiles, frequency changes and the run", func() {
		sim := MakeBuilder().
			WithoutMonitoring().
			WithOutputFileName(path).
			WithProfiler(&stepCounter{}, 64).
			Build()

		Expect(sim.ID()).NotTo(BeEmpty())
		Expect(sim.GetMonitor()).To(BeNil())
		Expect(sim.GetTracer()).To(BeNil())

		s := sim.Server()
		s.NewClockDomain("core", 1*timing.GHz)
		b := newBeeper("core.beeper")
		s.RegisterClock(b, "core", 0)

		sim.AddExecInfo("Topology", "inline")
		sim.RunBaseCycles("core", 4)
		s.SetDomainFrequency("core", 2*timing.GHz)
		sim.RunBaseCycles("core", 4)
		sim.Terminate()
		sim.Terminate()

		Expect(b.beeps).To(Equal(8))
		Expect(b.IsClosed()).To(BeTrue())

		r := openReader()

		profiles := readAll[datarecording.ProfileEntry](r,
			datarecording.ProfileTable)
		Expect(profiles).To(HaveLen(1))
		p := profiles[0]
		Expect(p.Clockable).To(Equal("core.beeper"))
		Expect(p.Invocations).To(Equal(uint64(8)))
		Expect(p.Cycles).To(Equal(uint64(24)))

		changes := readAll[datarecording.FreqChangeEntry](r,
			datarecording.FreqChangeTable)
		Expect(changes).To(HaveLen(1))
		Expect(changes[0].EffectiveBase).
			To(Equal(uint64(4)))

		info := readAll[datarecording.ExecInfo](r, datarecording.ExecTable)
		properties := []string{}
		for _, e := range info {
			properties = append(properties, e.Property)
		}
		Expect(properties).To(ContainElements(
			"Simulation ID", "Topology", "End Time"))
	})

	It("should trace emitted events", func() {
		sim := MakeBuilder().
			WithoutMonitoring().
			WithOutputFileName(path).
			WithTracing(false).
			Build()

		s := sim.Server()
		s.NewClockDomain("core", 1*timing.GHz)
		s.RegisterClock(newBeeper("core.beeper"), "core", 0)

		sim.RunBaseCycles("core", 2)
		sim.StartTracing()
		sim.RunBaseCycles("core", 3)
		sim.Terminate()

		r := openReader()

		events := readAll[tracing.Event](r, "trace1")
		beeps := 0
		for _, e := range events {
			if e.What == "beep" {
				beeps++
			}
		}
		Expect(beeps).To(Equal(3))

		sessions := readAll[tracing.TraceIndexEntry](r,
			tracing.TraceIndexTable)
		Expect(sessions).To(HaveLen(1))
		session := sessions[0]
		Expect(session.SessionStart).To(BeNumerically("~", 2e-9, 1e-18))
		Expect(session.SessionEnd).To(BeNumerically("~", 5e-9, 1e-18))
	})

	It("should refuse to start tracing when tracing is off", func() {
		sim := MakeBuilder().
			WithoutMonitoring().
			WithOutputFileName(path).
			Build()
		defer sim.Terminate()

		Expect(sim.StartTracing).To(Panic())
	})

	It("should follow runs with a progress bar when monitored", func() {
		sim := MakeBuilder().
			WithOutputFileName(path).
			WithParallelIDs().
			Build()
		defer sim.Terminate()

		s := sim.Server()
		s.NewClockDomain("core", 1*timing.GHz)
		b := newBeeper("core.beeper")
		s.RegisterClock(b, "core", 0)

		sim.RunBaseCycles("core", 5)

		Expect(sim.GetMonitor()).NotTo(BeNil())
		Expect(b.beeps).To(Equal(5))
		Expect(b.Callbacks()[0].ID()).To(HaveLen(20))
	})
})
