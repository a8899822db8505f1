// Package grader turns a result bundle into an all-or-nothing grade.
package grader

import (
	"github.com/cosc121od/pycode/internal/grading/model"
	appErr "github.com/cosc121od/pycode/pkg/errors"
)

// MinCodeLength is the length a submission must exceed to be graded.
const MinCodeLength = 10

const answerRequiredMessage = "Please provide an answer"

// IsGradable reports whether code is long enough to be worth running.
func IsGradable(code string) bool {
	return code != "" && len(code) > MinCodeLength
}

// Validate returns a validation error for code that cannot be graded.
func Validate(code string) error {
	if IsGradable(code) {
		return nil
	}
	return appErr.ValidationError("code", "too_short").WithMessage(answerRequiredMessage)
}

// Grade awards full marks only when every case ran and none failed.
func Grade(cases []model.TestCase, bundle model.ResultBundle) model.Grade {
	if len(bundle.Results) == len(cases) && CountErrors(bundle.Results) == 0 {
		return model.Grade{Score: 1, State: model.GradeCorrect}
	}
	return model.Grade{Score: 0, State: model.GradeIncorrect}
}

// CountErrors returns the number of incorrect results.
func CountErrors(results []model.TestResult) int {
	errors := 0
	for _, r := range results {
		if !r.IsCorrect {
			errors++
		}
	}
	return errors
}
