// Package simulation ties a clock server to the services around it: result
// recording, tracing and monitoring.
package simulation

import (
	"sync"

	"github.com/sarchlab/clocksim/datarecording"
	"github.com/sarchlab/clocksim/monitoring"
	"github.com/sarchlab/clocksim/sim/clocking"
	"github.com/sarchlab/clocksim/tracing"
)

// A Simulation owns one clock server and the services attached to it.
type Simulation struct {
	id string

	server       *clocking.Server
	dataRecorder datarecording.DataRecorder
	execRecorder *datarecording.ExecRecorder
	monitor      *monitoring.Monitor
	tracer       *tracing.DBTracer

	terminateOnce sync.Once
}

// ID returns the ID of the simulation.
func (s *Simulation) ID() string {
	return s.id
}

// Server returns the clock server of the simulation.
func (s *Simulation) Server() *clocking.Server {
	return s.server
}

// GetDataRecorder returns the data recorder used in the simulation.
func (s *Simulation) GetDataRecorder() datarecording.DataRecorder {
	return s.dataRecorder
}

// GetMonitor returns the monitor used in the simulation, or nil.
func (s *Simulation) GetMonitor() *monitoring.Monitor {
	return s.monitor
}

// GetTracer returns the tracer used in the simulation, or nil.
func (s *Simulation) GetTracer() *tracing.DBTracer {
	return s.tracer
}

// AddExecInfo records a property of the run, such as the topology file.
func (s *Simulation) AddExecInfo(property, value string) {
	s.execRecorder.Add(property, value)
}

// StartTracing turns on event tracing and opens a tracing session.
func (s *Simulation) StartTracing() {
	if s.tracer == nil {
		panic("tracing is not enabled for this simulation")
	}

	s.tracer.StartTracing()
	s.server.TurnOnDralEvents()
}

// RunBaseCycles runs n base cycles of a domain. A progress bar follows the
// run when the simulation is monitored.
func (s *Simulation) RunBaseCycles(domain string, n uint64) {
	if s.monitor == nil {
		s.server.RunBaseCycles(domain, n)
		return
	}

	bar := s.monitor.CreateProgressBar("Run "+domain, n)
	defer s.monitor.CompleteProgressBar(bar)

	bar.IncrementInProgress(n)
	s.server.RunBaseCycles(domain, n)
	bar.MoveInProgressToFinished(n)
}

// Terminate records the clockable profiles, closes the trace and the data
// recorder, and tears the server down. It can be called more than once.
func (s *Simulation) Terminate() {
	s.terminateOnce.Do(func() {
		datarecording.RecordProfiles(s.dataRecorder, s.server.Clockables())

		if s.tracer != nil {
			s.tracer.Terminate()
		}

		s.execRecorder.End()
		s.server.Teardown()

		err := s.dataRecorder.Close()
		if err != nil {
			panic(err)
		}
	})
}
