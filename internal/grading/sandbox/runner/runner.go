// Package runner executes submitted code against one stdin inside the sandbox engine.
package runner

import (
	"context"

	"github.com/cosc121od/pycode/internal/grading/sandbox/result"
	"github.com/cosc121od/pycode/internal/grading/sandbox/spec"
)

// ExecuteRequest is one program execution: the full program text and its stdin.
// Zero limit fields fall back to the language defaults.
type ExecuteRequest struct {
	Code   string
	Stdin  string
	Limits spec.ResourceLimit
}

// CodeRunner runs a program and classifies the outcome.
// A returned error means the sandbox itself failed, not the program.
type CodeRunner interface {
	Execute(ctx context.Context, req ExecuteRequest) (result.Outcome, error)
}
