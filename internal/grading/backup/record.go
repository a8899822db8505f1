// Package backup exports and restores the test case list of a question.
package backup

import (
	"github.com/cosc121od/pycode/internal/grading/model"
	appErr "github.com/cosc121od/pycode/pkg/errors"
)

// Record is the portable form of one test case. Pointer fields distinguish
// an absent value from an empty one on import.
type Record struct {
	Input          string  `json:"input"`
	ExpectedOutput *string `json:"expectedOutput"`
	UseAsExample   bool    `json:"useAsExample"`
	Display        string  `json:"display,omitempty"`
	HideRestIfFail bool    `json:"hideRestIfFail"`
	Stdin          *string `json:"stdin,omitempty"`

	// Hidden is the older visibility flag; true means hidden unless passed.
	Hidden *bool `json:"hidden,omitempty"`
}

// FromTestCases exports cases in order. Display and stdin are always written.
func FromTestCases(cases []model.TestCase) []Record {
	records := make([]Record, 0, len(cases))
	for _, tc := range cases {
		expected := tc.ExpectedOutput
		stdin := tc.Stdin
		display := tc.Display
		if display == "" {
			display = model.DisplayShow
		}
		records = append(records, Record{
			Input:          tc.Input,
			ExpectedOutput: &expected,
			UseAsExample:   tc.UseAsExample,
			Display:        string(display),
			HideRestIfFail: tc.HideRestIfFail,
			Stdin:          &stdin,
		})
	}
	return records
}

// ToTestCases restores cases from records. Absent stdin becomes "" and absent
// display becomes SHOW, or HIDE_IF_FAIL when the older hidden flag is set.
// A record without an expected output is rejected. Returned cases carry no id.
func ToTestCases(records []Record) ([]model.TestCase, error) {
	cases := make([]model.TestCase, 0, len(records))
	for i, rec := range records {
		position := int64(i + 1)
		if rec.ExpectedOutput == nil {
			return nil, appErr.ConfigurationError(position, "expectedOutput", "is missing")
		}
		display, err := recordDisplay(position, rec)
		if err != nil {
			return nil, err
		}
		tc := model.TestCase{
			Input:          rec.Input,
			ExpectedOutput: *rec.ExpectedOutput,
			UseAsExample:   rec.UseAsExample,
			Display:        display,
			HideRestIfFail: rec.HideRestIfFail,
		}
		if rec.Stdin != nil {
			tc.Stdin = *rec.Stdin
		}
		cases = append(cases, tc)
	}
	return cases, nil
}

func recordDisplay(position int64, rec Record) (model.DisplayMode, error) {
	if rec.Display != "" {
		mode := model.DisplayMode(rec.Display)
		if !mode.Valid() {
			return "", appErr.ConfigurationError(position, "display", "unknown display mode "+rec.Display)
		}
		return mode, nil
	}
	if rec.Hidden != nil && *rec.Hidden {
		return model.DisplayHideIfFail, nil
	}
	return model.DisplayShow, nil
}
