// Package executor runs a submission against its test cases, one at a time.
package executor

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/cosc121od/pycode/internal/grading/model"
	"github.com/cosc121od/pycode/internal/grading/normalize"
	"github.com/cosc121od/pycode/internal/grading/sandbox/result"
	"github.com/cosc121od/pycode/internal/grading/sandbox/runner"
	"github.com/cosc121od/pycode/internal/grading/sandbox/spec"
	appErr "github.com/cosc121od/pycode/pkg/errors"
	"github.com/cosc121od/pycode/pkg/utils/logger"
)

// ProgressReporter receives the number of finished cases after each run.
type ProgressReporter interface {
	ReportProgress(ctx context.Context, total, done int)
}

// ProgressFunc adapts a function to ProgressReporter.
type ProgressFunc func(ctx context.Context, total, done int)

func (f ProgressFunc) ReportProgress(ctx context.Context, total, done int) {
	f(ctx, total, done)
}

// Executor runs test cases sequentially through a CodeRunner.
type Executor struct {
	runner     runner.CodeRunner
	normalizer *normalize.Normalizer
	limits     spec.ResourceLimit
	progress   ProgressReporter
}

// New creates an executor. Zero limit fields use the runner's language defaults.
func New(r runner.CodeRunner, cfg model.Config, limits spec.ResourceLimit) *Executor {
	return &Executor{
		runner:     r,
		normalizer: normalize.New(cfg),
		limits:     limits,
	}
}

// SetProgressReporter injects a reporter called after every case.
func (e *Executor) SetProgressReporter(reporter ProgressReporter) {
	e.progress = reporter
}

// Execute runs code against cases in order and collects one result per case.
// A sandbox failure, timeout or memory overrun stops the run; the failing case
// gets no result and Abort describes it. Runtime errors and wrong output are
// recorded as incorrect results and execution continues.
func (e *Executor) Execute(ctx context.Context, code string, cases []model.TestCase) (model.ResultBundle, error) {
	if e.runner == nil {
		return model.ResultBundle{}, appErr.New(appErr.JudgeSystemError).WithMessage("executor runner is not initialized")
	}
	if err := model.ValidateCases(cases); err != nil {
		return model.ResultBundle{}, err
	}

	bundle := model.ResultBundle{Results: make([]model.TestResult, 0, len(cases))}
	total := len(cases)
	for i, tc := range cases {
		if err := ctx.Err(); err != nil {
			return bundle, err
		}

		outcome, err := e.runner.Execute(ctx, runner.ExecuteRequest{
			Code:   BuildProgram(code, tc.Input),
			Stdin:  tc.Stdin,
			Limits: e.limits,
		})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return bundle, ctxErr
			}
			logger.Warn(ctx, "sandbox failed, aborting test run",
				zap.Int64("test_case_id", tc.ID),
				zap.Int("done", i),
				zap.Error(err),
			)
			bundle.Abort = &model.AbortInfo{
				TestCaseID: tc.ID,
				Status:     result.StatusRuntimeError,
				Message:    err.Error(),
			}
			return bundle, nil
		}
		if outcome.Status.Aborts() {
			logger.Info(ctx, "test run aborted",
				zap.Int64("test_case_id", tc.ID),
				zap.String("status", string(outcome.Status)),
				zap.Int("done", i),
			)
			bundle.Abort = &model.AbortInfo{
				TestCaseID: tc.ID,
				Status:     outcome.Status,
				Message:    abortMessage(outcome.Status),
			}
			return bundle, nil
		}

		bundle.Results = append(bundle.Results, model.TestResult{
			TestCaseID: tc.ID,
			Output:     e.normalizer.TruncateForStorage(outcome.Output),
			IsCorrect:  outcome.Output == tc.ExpectedOutput,
		})
		if e.progress != nil {
			e.progress.ReportProgress(ctx, total, i+1)
		}
	}
	return bundle, nil
}

// BuildProgram appends a test case input to the submitted code as a new line.
func BuildProgram(code, input string) string {
	if input == "" {
		return code
	}
	var b strings.Builder
	b.Grow(len(code) + len(input) + 2)
	b.WriteString(code)
	if code != "" && !strings.HasSuffix(code, "\n") {
		b.WriteByte('\n')
	}
	b.WriteString(input)
	if !strings.HasSuffix(input, "\n") {
		b.WriteByte('\n')
	}
	return b.String()
}

func abortMessage(status result.Status) string {
	switch status {
	case result.StatusTimeout:
		return appErr.TimeLimitExceeded.Message()
	case result.StatusMemoryExceeded:
		return appErr.MemoryLimitExceeded.Message()
	}
	return appErr.ExecutionAborted.Message()
}
