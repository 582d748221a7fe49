package simulation

import (
	"log"

	"github.com/rs/xid"

	"github.com/sarchlab/clocksim/datarecording"
	"github.com/sarchlab/clocksim/monitoring"
	"github.com/sarchlab/clocksim/sim/clocking"
	"github.com/sarchlab/clocksim/sim/id"
	"github.com/sarchlab/clocksim/sim/timing"
	"github.com/sarchlab/clocksim/tracing"
)

// Builder can be used to build a simulation.
type Builder struct {
	parallelIDs    bool
	syncQuantum    timing.VTimeInFs
	monitorOn      bool
	monitorPort    int
	openBrowser    bool
	outputFileName string
	traceOn        bool
	traceTicks     bool
	counter        clocking.CycleCounter
	counterWidth   uint
}

// MakeBuilder creates a new builder.
func MakeBuilder() Builder {
	return Builder{
		monitorOn: true,
	}
}

// WithParallelIDs makes callback IDs globally unique instead of sequential.
func (b Builder) WithParallelIDs() Builder {
	b.parallelIDs = true
	return b
}

// WithSyncQuantum fixes the length of the windows in which threads run in
// parallel.
func (b Builder) WithSyncQuantum(q timing.VTimeInFs) Builder {
	b.syncQuantum = q
	return b
}

// WithoutMonitoring sets the simulation to not use monitoring.
func (b Builder) WithoutMonitoring() Builder {
	b.monitorOn = false
	return b
}

// WithMonitorPort sets the port number for the monitoring server.
func (b Builder) WithMonitorPort(port int) Builder {
	b.monitorPort = port
	return b
}

// WithBrowser opens the monitoring page in a browser.
func (b Builder) WithBrowser() Builder {
	b.openBrowser = true
	return b
}

// WithOutputFileName sets the custom output file name for the data recorder.
func (b Builder) WithOutputFileName(filename string) Builder {
	b.outputFileName = filename
	return b
}

// WithTracing stores the events that clockables emit into the data recorder.
// Ticks are stored too if withTicks is set.
func (b Builder) WithTracing(withTicks bool) Builder {
	b.traceOn = true
	b.traceTicks = withTicks
	return b
}

// WithProfiler measures every callback with a cycle counter of the given
// width, in bits.
func (b Builder) WithProfiler(counter clocking.CycleCounter, width uint) Builder {
	b.counter = counter
	b.counterWidth = width
	return b
}

func (b Builder) parametersMustBeValid() {
	if !b.monitorOn && (b.monitorPort != 0 || b.openBrowser) {
		log.Panic("monitor options cannot be set when monitoring is disabled")
	}

	if b.counter != nil && (b.counterWidth == 0 || b.counterWidth > 64) {
		log.Panicf("invalid cycle counter width %d", b.counterWidth)
	}
}

// Build builds the simulation.
func (b Builder) Build() *Simulation {
	b.parametersMustBeValid()

	s := &Simulation{
		id: xid.New().String(),
	}

	var opts []clocking.ServerOption
	if b.parallelIDs {
		opts = append(opts, clocking.WithIDGenerator(id.NewParallelIDGenerator()))
	}

	if b.syncQuantum > 0 {
		opts = append(opts, clocking.WithSyncQuantum(b.syncQuantum))
	}

	s.server = clocking.NewServer(opts...)

	outputPath := b.outputFileName
	if outputPath == "" {
		outputPath = "clocksim_" + s.id
	}

	s.dataRecorder = datarecording.New(outputPath)
	s.execRecorder = datarecording.NewExecRecorder(s.dataRecorder)
	s.execRecorder.Start()
	s.execRecorder.Add("Simulation ID", s.id)

	s.server.AcceptHook(datarecording.NewFreqChangeRecorder(s.dataRecorder))

	if b.counter != nil {
		s.server.AcceptHook(clocking.NewProfiler(b.counter, b.counterWidth))
	}

	if b.traceOn {
		s.tracer = tracing.NewDBTracer(s.server, s.dataRecorder)
		tracing.CollectTrace(s.server, s.tracer, b.traceTicks)
	}

	if b.monitorOn {
		s.monitor = monitoring.NewMonitor()
		if b.monitorPort > 0 {
			s.monitor.WithPortNumber(b.monitorPort)
		}

		if b.openBrowser {
			s.monitor.WithBrowser()
		}

		s.monitor.RegisterServer(s.server)
		s.monitor.StartServer()
	}

	return s
}
