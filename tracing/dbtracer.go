package tracing

import (
	"fmt"
	"log"
	"sync"

	"github.com/sarchlab/clocksim/datarecording"
	"github.com/sarchlab/clocksim/sim/timing"
)

// TraceIndexTable lists the tracing sessions.
const TraceIndexTable = "trace"

// TraceIndexEntry describes one tracing session. Events of the session are
// stored in the table it names.
type TraceIndexEntry struct {
	TableName    string
	SessionStart float64
	SessionEnd   float64
}

// A TimeTeller tells the current simulated time.
type TimeTeller interface {
	Now() timing.VTimeInFs
}

// DBTracer is a tracer that stores events into a DataRecorder. Events are
// only stored while a session is open, and only if they fall in the time
// range.
type DBTracer struct {
	mu         sync.Mutex
	timeTeller TimeTeller
	backend    datarecording.DataRecorder

	startTime, endTime float64

	isTracing        bool
	traceCount       int
	currentTableName string
	sessionStartTime float64
}

// NewDBTracer creates a new DBTracer.
func NewDBTracer(
	timeTeller TimeTeller,
	dataRecorder datarecording.DataRecorder,
) *DBTracer {
	dataRecorder.CreateTable(TraceIndexTable, TraceIndexEntry{})

	return &DBTracer{
		timeTeller: timeTeller,
		backend:    dataRecorder,
	}
}

// SetTimeRange limits the stored events to [startTime, endTime], in seconds.
// A zero bound is open.
func (t *DBTracer) SetTimeRange(startTime, endTime float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.startTime = startTime
	t.endTime = endTime
}

// IsTracing tells if a session is open.
func (t *DBTracer) IsTracing() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.isTracing
}

// CurrentTable returns the table of the open session, or an empty string.
func (t *DBTracer) CurrentTable() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.currentTableName
}

// StartTracing opens a session in a new table.
func (t *DBTracer) StartTracing() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.isTracing {
		return
	}

	t.isTracing = true
	t.traceCount++
	t.sessionStartTime = t.timeTeller.Now().InSec()
	t.currentTableName = fmt.Sprintf("trace%d", t.traceCount)
	t.backend.CreateTable(t.currentTableName, Event{})

	log.Printf("tracing into %s from %.9fs",
		t.currentTableName, t.sessionStartTime)
}

// StopTracing closes the session and records it in the index table.
func (t *DBTracer) StopTracing() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.isTracing {
		return
	}

	t.isTracing = false
	t.backend.InsertData(TraceIndexTable, TraceIndexEntry{
		TableName:    t.currentTableName,
		SessionStart: t.sessionStartTime,
		SessionEnd:   t.timeTeller.Now().InSec(),
	})
	t.currentTableName = ""
	t.backend.Flush()
}

// Trace stores the event if a session is open.
func (t *DBTracer) Trace(e Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.isTracing {
		return
	}

	if t.startTime > 0 && e.Time < t.startTime {
		return
	}

	if t.endTime > 0 && e.Time > t.endTime {
		return
	}

	t.backend.InsertData(t.currentTableName, e)
}

// Terminate closes the open session and flushes the backend.
func (t *DBTracer) Terminate() {
	t.StopTracing()
	t.backend.Flush()
}
