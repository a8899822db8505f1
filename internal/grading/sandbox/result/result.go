// Package result defines sandbox execution results and status mapping.
package result

// Status classifies one sandbox invocation.
type Status string

const (
	StatusOK             Status = "OK"
	StatusRuntimeError   Status = "RUNTIME_ERROR"
	StatusTimeout        Status = "TIMEOUT"
	StatusMemoryExceeded Status = "MEMORY_EXCEEDED"
)

// Aborts reports whether a status stops the remaining test cases.
func (s Status) Aborts() bool {
	return s == StatusTimeout || s == StatusMemoryExceeded
}

// RunResult captures raw sandbox execution data. A process killed by a
// signal reports ExitCode 128+signo and the signal name.
type RunResult struct {
	ExitCode   int
	Signal     string
	TimedOut   bool
	TimeMs     int64
	WallTimeMs int64
	MemoryKB   int64
	OutputKB   int64
	Stdout     string
	Stderr     string
	OomKilled  bool
}

// Outcome is what a CodeRunner reports for one code+stdin execution.
type Outcome struct {
	Output   string
	Status   Status
	ExitCode int
	TimeMs   int64
	MemoryKB int64
}
