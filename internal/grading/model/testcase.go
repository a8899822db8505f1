// Package model holds the grading data types shared by the executor, grader and reporter.
package model

import (
	appErr "github.com/cosc121od/pycode/pkg/errors"
)

// DisplayMode controls when a test result is shown to the student.
type DisplayMode string

const (
	DisplayShow          DisplayMode = "SHOW"
	DisplayHideIfFail    DisplayMode = "HIDE_IF_FAIL"
	DisplayHideIfSucceed DisplayMode = "HIDE_IF_SUCCEED"
)

// Valid reports whether the mode is one of the known display modes.
func (m DisplayMode) Valid() bool {
	switch m {
	case DisplayShow, DisplayHideIfFail, DisplayHideIfSucceed:
		return true
	}
	return false
}

// TestCase is one predefined check of a question.
// Input is appended to the submitted code; Stdin is fed to the program.
type TestCase struct {
	ID             int64       `json:"id"`
	Input          string      `json:"input"`
	Stdin          string      `json:"stdin"`
	ExpectedOutput string      `json:"expectedOutput"`
	UseAsExample   bool        `json:"useAsExample"`
	Display        DisplayMode `json:"display"`
	HideRestIfFail bool        `json:"hideRestIfFail"`
}

// Validate rejects a test case the executor cannot run.
func (tc TestCase) Validate() error {
	if tc.ID <= 0 {
		return appErr.ConfigurationError(tc.ID, "id", "must be positive")
	}
	if !tc.Display.Valid() {
		return appErr.ConfigurationError(tc.ID, "display", "unknown display mode "+string(tc.Display))
	}
	return nil
}

// ValidateCases checks every case and rejects duplicate ids.
func ValidateCases(cases []TestCase) error {
	seen := make(map[int64]struct{}, len(cases))
	for _, tc := range cases {
		if err := tc.Validate(); err != nil {
			return err
		}
		if _, ok := seen[tc.ID]; ok {
			return appErr.ConfigurationError(tc.ID, "id", "is duplicated")
		}
		seen[tc.ID] = struct{}{}
	}
	return nil
}
