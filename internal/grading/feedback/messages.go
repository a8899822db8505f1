package feedback

import "github.com/cosc121od/pycode/internal/grading/model"

var narrativeText = map[string]string{
	model.NarrativeAborted:         "Testing was aborted due to error.",
	model.NarrativeFailedHidden:    "Your code failed one or more hidden tests.",
	model.NarrativeMoreHidden:      "Some hidden test cases failed, too.",
	model.NarrativeNoErrorsAllowed: "Your code must pass all tests to earn any marks. Try again.",
	model.NarrativeAllOK:           "Passed all tests!",
	model.NarrativeNoResults:       "No test results are available for this submission.",
}

func line(key string) model.NarrativeLine {
	return model.NarrativeLine{Key: key, Text: narrativeText[key]}
}
