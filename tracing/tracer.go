// Package tracing records what happens inside a clock server: trace events
// emitted by clockables, frequency changes and, optionally, every tick.
package tracing

// Kinds of events.
const (
	KindTick       = "tick"
	KindDral       = "dral"
	KindFreqChange = "freq_change"
	KindTraceOn    = "trace_on"
)

// An Event is one traced occurrence.
type Event struct {
	ID        string
	Kind      string
	What      string
	Where     string
	Thread    string
	BaseCycle uint64
	Cycle     uint64
	Time      float64
	Detail    string
}

// A Tracer can collect trace events
type Tracer interface {
	Trace(e Event)
}

// A TraceWriter stores events somewhere, a file or a database.
type TraceWriter interface {
	Init()
	Write(e Event)
	Flush()
}

// WriterTracer is a tracer that stores every event with a TraceWriter.
type WriterTracer struct {
	w TraceWriter
}

// NewWriterTracer creates a tracer that writes to w. It initializes w.
func NewWriterTracer(w TraceWriter) *WriterTracer {
	w.Init()

	return &WriterTracer{w: w}
}

// Trace writes the event.
func (t *WriterTracer) Trace(e Event) {
	t.w.Write(e)
}
