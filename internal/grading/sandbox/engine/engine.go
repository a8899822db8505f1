package engine

import (
	"context"

	"github.com/cosc121od/pycode/internal/grading/sandbox/result"
	"github.com/cosc121od/pycode/internal/grading/sandbox/spec"
)

// Engine executes a RunSpec as an isolated, resource-bounded process.
// Implementations keep no state between runs.
type Engine interface {
	Run(ctx context.Context, runSpec spec.RunSpec) (result.RunResult, error)
}
