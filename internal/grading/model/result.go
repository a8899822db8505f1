package model

import "github.com/cosc121od/pycode/internal/grading/sandbox/result"

// TestResult is the outcome of running one test case.
// Output is already truncated for storage; IsCorrect was decided on the full output.
type TestResult struct {
	TestCaseID int64  `json:"testCaseId"`
	Output     string `json:"output"`
	IsCorrect  bool   `json:"isCorrect"`
}

// AbortInfo records why execution stopped before the last test case.
type AbortInfo struct {
	TestCaseID int64         `json:"testCaseId"`
	Status     result.Status `json:"status"`
	Message    string        `json:"message"`
}

// ResultBundle is the ordered result list of one grading event.
// It may be shorter than the case list when execution aborted.
type ResultBundle struct {
	Results []TestResult `json:"results"`
	Abort   *AbortInfo   `json:"abort,omitempty"`
}

// Aborted reports whether execution stopped early.
func (b ResultBundle) Aborted() bool {
	return b.Abort != nil
}

// GradeState is the verdict of a grading event.
type GradeState string

const (
	GradeCorrect   GradeState = "CORRECT"
	GradeIncorrect GradeState = "INCORRECT"
)

// Grade is the all-or-nothing score of a submission.
type Grade struct {
	Score int        `json:"score"`
	State GradeState `json:"state"`
}
