package model_test

import (
	"testing"

	"github.com/cosc121od/pycode/internal/grading/model"
	appErr "github.com/cosc121od/pycode/pkg/errors"
)

func TestTestCaseValidate(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name    string
		tc      model.TestCase
		wantErr bool
	}{
		{name: "show", tc: model.TestCase{ID: 1, Input: "sqr(0)", ExpectedOutput: "0", Display: model.DisplayShow}},
		{name: "empty_expected_output", tc: model.TestCase{ID: 2, Input: "copyStdin(0)", Display: model.DisplayHideIfFail}},
		{name: "hide_if_succeed", tc: model.TestCase{ID: 3, Display: model.DisplayHideIfSucceed}},
		{name: "zero_id", tc: model.TestCase{Display: model.DisplayShow}, wantErr: true},
		{name: "unknown_display", tc: model.TestCase{ID: 4, Display: "SOMETIMES"}, wantErr: true},
		{name: "empty_display", tc: model.TestCase{ID: 5}, wantErr: true},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.tc.Validate()
			if tc.wantErr {
				if !appErr.Is(err, appErr.TestCaseInvalid) {
					t.Fatalf("expected TestCaseInvalid, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestValidateCasesRejectsDuplicateIDs(t *testing.T) {
	cases := []model.TestCase{
		{ID: 1, Display: model.DisplayShow},
		{ID: 1, Display: model.DisplayShow},
	}
	err := model.ValidateCases(cases)
	if !appErr.Is(err, appErr.TestCaseInvalid) {
		t.Fatalf("expected TestCaseInvalid, got %v", err)
	}
	if appErr.GetError(err).Details["test_case_id"] != int64(1) {
		t.Fatalf("expected test_case_id detail, got %v", appErr.GetError(err).Details)
	}
}

func TestConfigWithDefaults(t *testing.T) {
	cfg := model.Config{MaxDisplayLines: 10}.WithDefaults()
	if cfg.MaxPersistedBytes != 60000 || cfg.MaxDisplayLineLength != 120 || cfg.MaxDisplayLines != 10 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if !model.DefaultConfig().ForceTabularExamples {
		t.Fatalf("tabular examples must be forced by default")
	}
}
