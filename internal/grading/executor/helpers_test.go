package executor_test

import "github.com/cosc121od/pycode/internal/grading/sandbox/spec"

func testLimits() spec.ResourceLimit {
	return spec.ResourceLimit{WallTimeMs: 2000}
}
