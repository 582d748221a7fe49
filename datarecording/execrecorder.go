package datarecording

import (
	"os"
	"strings"
	"time"
)

// ExecTable is the table that describes the run.
const ExecTable = "exec_info"

// ExecInfo is one property of the run.
type ExecInfo struct {
	Property string
	Value    string
}

// ExecRecorder records how and when the simulator was run.
type ExecRecorder struct {
	recorder DataRecorder
	entries  []ExecInfo
}

// NewExecRecorder creates the exec_info table in r.
func NewExecRecorder(r DataRecorder) *ExecRecorder {
	r.CreateTable(ExecTable, ExecInfo{})

	return &ExecRecorder{recorder: r}
}

// Start logs the start of the run.
func (e *ExecRecorder) Start() {
	e.Add("Start Time", time.Now().Format("2006-01-02 15:04:05.000000000"))
	e.Add("Command", strings.Join(os.Args, " "))

	cwd, err := os.Getwd()
	if err != nil {
		panic(err)
	}

	e.Add("Working Directory", cwd)
}

// Add records a property of the run.
func (e *ExecRecorder) Add(property, value string) {
	e.entries = append(e.entries, ExecInfo{Property: property, Value: value})
}

// End writes the recorded properties along with the exit time.
func (e *ExecRecorder) End() {
	e.Add("End Time", time.Now().Format("2006-01-02 15:04:05.000000000"))

	for _, entry := range e.entries {
		e.recorder.InsertData(ExecTable, entry)
	}

	e.entries = nil

	e.recorder.Flush()
}
