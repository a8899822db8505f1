// Package feedback builds the student-facing report for a graded submission.
package feedback

import (
	"github.com/cosc121od/pycode/internal/grading/grader"
	"github.com/cosc121od/pycode/internal/grading/model"
	"github.com/cosc121od/pycode/internal/grading/normalize"
)

// Reporter builds feedback and example blocks under the configured limits.
type Reporter struct {
	cfg        model.Config
	normalizer *normalize.Normalizer
}

// NewReporter creates a reporter.
func NewReporter(cfg model.Config) *Reporter {
	return &Reporter{cfg: cfg, normalizer: normalize.New(cfg)}
}

// ShouldDisplay applies a test case's display policy to its result.
func ShouldDisplay(tc model.TestCase, res model.TestResult) bool {
	switch tc.Display {
	case model.DisplayShow:
		return true
	case model.DisplayHideIfFail:
		return res.IsCorrect
	case model.DisplayHideIfSucceed:
		return !res.IsCorrect
	}
	return false
}

// Build produces the feedback for a bundle. ok is false when no bundle could
// be recovered for the submission.
func (r *Reporter) Build(cases []model.TestCase, bundle model.ResultBundle, ok bool) model.Feedback {
	if !ok {
		return model.Feedback{Narrative: []model.NarrativeLine{line(model.NarrativeNoResults)}}
	}

	byID := make(map[int64]model.TestCase, len(cases))
	for _, tc := range cases {
		byID[tc.ID] = tc
	}
	showTest, showStdin := countBits(cases)

	fb := model.Feedback{
		Available: true,
		Columns:   resultColumns(showTest, showStdin),
		Rows:      make([]model.FeedbackRow, 0, len(bundle.Results)),
		Errors:    grader.CountErrors(bundle.Results),
		Abort:     bundle.Abort,
	}

	hidingRest := false
	for _, res := range bundle.Results {
		tc, known := byID[res.TestCaseID]
		displayed := known && !hidingRest && ShouldDisplay(tc, res)
		if displayed {
			fb.Rows = append(fb.Rows, r.resultRow(tc, res, showTest, showStdin))
		} else if !res.IsCorrect {
			fb.HiddenErrors++
		}
		if known && tc.HideRestIfFail && !res.IsCorrect {
			hidingRest = true
		}
	}

	fb.Narrative, fb.Passed = narrative(len(cases), len(bundle.Results), fb.Errors, fb.HiddenErrors)
	return fb
}

func (r *Reporter) resultRow(tc model.TestCase, res model.TestResult, showTest, showStdin bool) model.FeedbackRow {
	cells := make([]string, 0, 4)
	if showTest {
		cells = append(cells, r.normalizer.RestrictForDisplay(tc.Input))
	}
	if showStdin {
		cells = append(cells, r.normalizer.RestrictForDisplay(tc.Stdin))
	}
	cells = append(cells,
		r.normalizer.RestrictForDisplay(tc.ExpectedOutput),
		r.normalizer.RestrictForDisplay(res.Output),
	)
	return model.FeedbackRow{TestCaseID: tc.ID, Cells: cells, Mark: res.IsCorrect}
}

func resultColumns(showTest, showStdin bool) []string {
	cols := make([]string, 0, 5)
	if showTest {
		cols = append(cols, model.ColumnTest)
	}
	if showStdin {
		cols = append(cols, model.ColumnStdin)
	}
	return append(cols, model.ColumnExpected, model.ColumnGot, model.ColumnMark)
}

// narrative picks the summary lines; the first matching rule wins.
func narrative(numCases, numResults, errors, hidden int) ([]model.NarrativeLine, bool) {
	switch {
	case numResults < numCases:
		return []model.NarrativeLine{line(model.NarrativeAborted), line(model.NarrativeNoErrorsAllowed)}, false
	case errors > 0 && errors == hidden:
		return []model.NarrativeLine{line(model.NarrativeFailedHidden), line(model.NarrativeNoErrorsAllowed)}, false
	case errors > 0 && hidden > 0:
		return []model.NarrativeLine{line(model.NarrativeMoreHidden), line(model.NarrativeNoErrorsAllowed)}, false
	case errors > 0:
		return []model.NarrativeLine{line(model.NarrativeNoErrorsAllowed)}, false
	}
	return []model.NarrativeLine{line(model.NarrativeAllOK)}, true
}

// countBits reports whether any case has a test input and whether any has stdin.
func countBits(cases []model.TestCase) (anyInput, anyStdin bool) {
	for _, tc := range cases {
		if tc.Input != "" {
			anyInput = true
		}
		if tc.Stdin != "" {
			anyStdin = true
		}
	}
	return anyInput, anyStdin
}
