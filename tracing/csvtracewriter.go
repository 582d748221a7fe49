package tracing

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/rs/xid"
	"github.com/tebeka/atexit"
)

// CSVTraceWriter is a trace writer that can store the events into a CSV file.
type CSVTraceWriter struct {
	path string
	file *os.File
	w    *csv.Writer

	lock       sync.Mutex
	events     []Event
	bufferSize int
}

// NewCSVTraceWriter creates a new CSVTraceWriter. The file is path.csv.
func NewCSVTraceWriter(path string) *CSVTraceWriter {
	return &CSVTraceWriter{
		path:       path,
		bufferSize: 1000,
	}
}

// Init creates the tracing csv file. It panics if the file already exists.
func (t *CSVTraceWriter) Init() {
	if t.path == "" {
		t.path = "clocksim_trace_" + xid.New().String()
	}

	filename := t.path + ".csv"

	_, err := os.Stat(filename)
	if err == nil {
		panic(fmt.Errorf("file %s already exists", filename))
	}

	file, err := os.Create(filename)
	if err != nil {
		panic(err)
	}

	t.file = file
	t.w = csv.NewWriter(file)

	t.mustWrite([]string{
		"ID", "Kind", "What", "Where", "Thread",
		"BaseCycle", "Cycle", "Time", "Detail",
	})

	atexit.Register(func() { t.Close() })
}

// Write buffers an event.
func (t *CSVTraceWriter) Write(e Event) {
	t.lock.Lock()
	defer t.lock.Unlock()

	t.events = append(t.events, e)
	if len(t.events) >= t.bufferSize {
		t.flushLocked()
	}
}

// Flush writes the buffered events to the CSV file.
func (t *CSVTraceWriter) Flush() {
	t.lock.Lock()
	defer t.lock.Unlock()

	t.flushLocked()
}

func (t *CSVTraceWriter) flushLocked() {
	if t.file == nil {
		return
	}

	for _, e := range t.events {
		t.mustWrite([]string{
			e.ID,
			e.Kind,
			e.What,
			e.Where,
			e.Thread,
			strconv.FormatUint(e.BaseCycle, 10),
			strconv.FormatUint(e.Cycle, 10),
			strconv.FormatFloat(e.Time, 'g', -1, 64),
			e.Detail,
		})
	}

	t.events = nil

	t.w.Flush()
	if err := t.w.Error(); err != nil {
		panic(err)
	}
}

// Close flushes the events and closes the file.
func (t *CSVTraceWriter) Close() {
	t.lock.Lock()
	defer t.lock.Unlock()

	if t.file == nil {
		return
	}

	t.flushLocked()

	err := t.file.Close()
	if err != nil {
		panic(err)
	}

	t.file = nil
}

func (t *CSVTraceWriter) mustWrite(record []string) {
	if err := t.w.Write(record); err != nil {
		panic(err)
	}
}
