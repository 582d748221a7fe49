package tracing

import (
	"encoding/json"
	"io"
	"sync"
)

// JSONTracer writes events as a JSON array.
type JSONTracer struct {
	w          io.Writer
	lock       sync.Mutex
	firstEvent bool
	finished   bool
}

// NewJSONTracer creates a new JSONTracer, injecting a writer as dependency.
func NewJSONTracer(w io.Writer) *JSONTracer {
	_, err := w.Write([]byte("[\n"))
	if err != nil {
		panic(err)
	}

	return &JSONTracer{
		w:          w,
		firstEvent: true,
	}
}

// Trace appends an event to the array.
func (t *JSONTracer) Trace(e Event) {
	t.lock.Lock()
	defer t.lock.Unlock()

	if t.finished {
		return
	}

	if t.firstEvent {
		t.firstEvent = false
	} else {
		_, err := t.w.Write([]byte(",\n"))
		if err != nil {
			panic(err)
		}
	}

	b, err := json.Marshal(e)
	if err != nil {
		panic(err)
	}

	_, err = t.w.Write(b)
	if err != nil {
		panic(err)
	}
}

// Finish closes the array. Later events are dropped.
func (t *JSONTracer) Finish() {
	t.lock.Lock()
	defer t.lock.Unlock()

	if t.finished {
		return
	}

	t.finished = true

	_, err := t.w.Write([]byte("\n]"))
	if err != nil {
		panic(err)
	}
}
