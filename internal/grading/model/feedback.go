package model

// Column names of the results table.
const (
	ColumnTest     = "Test"
	ColumnStdin    = "Stdin"
	ColumnExpected = "Expected"
	ColumnGot      = "Got"
	ColumnMark     = "Mark"
)

// Column names of the examples table.
const (
	ColumnInput  = "Input"
	ColumnOutput = "Output"
)

// Narrative keys, in the order they may appear.
const (
	NarrativeAborted         = "aborted"
	NarrativeFailedHidden    = "failedhidden"
	NarrativeMoreHidden      = "morehidden"
	NarrativeNoErrorsAllowed = "noerrorsallowed"
	NarrativeAllOK           = "allok"
	NarrativeNoResults       = "noresults"
)

// NarrativeLine is one sentence of the feedback summary.
type NarrativeLine struct {
	Key  string `json:"key"`
	Text string `json:"text"`
}

// FeedbackRow is one visible result row. Cells align with Feedback.Columns
// except Mark, which is carried as a boolean.
type FeedbackRow struct {
	TestCaseID int64    `json:"testCaseId"`
	Cells      []string `json:"cells"`
	Mark       bool     `json:"mark"`
}

// Feedback is the presentation-neutral report for one graded submission.
type Feedback struct {
	Available    bool            `json:"available"`
	Passed       bool            `json:"passed"`
	Columns      []string        `json:"columns,omitempty"`
	Rows         []FeedbackRow   `json:"rows,omitempty"`
	Narrative    []NarrativeLine `json:"narrative"`
	Errors       int             `json:"errors"`
	HiddenErrors int             `json:"hiddenErrors"`
	Abort        *AbortInfo      `json:"abort,omitempty"`
}

// Examples is the block of example cases shown with a question.
// Tabular uses Columns and Rows; otherwise Lines holds "input → output" entries.
type Examples struct {
	Tabular bool       `json:"tabular"`
	Columns []string   `json:"columns,omitempty"`
	Rows    [][]string `json:"rows,omitempty"`
	Lines   []string   `json:"lines,omitempty"`
}
