package feedback

import (
	"strings"

	"github.com/cosc121od/pycode/internal/grading/model"
)

// Examples formats the cases marked as examples. A table is used unless every
// example is single-line without stdin and tabular output is not forced.
func (r *Reporter) Examples(cases []model.TestCase) model.Examples {
	examples := make([]model.TestCase, 0, len(cases))
	for _, tc := range cases {
		if tc.UseAsExample {
			examples = append(examples, tc)
		}
	}
	if len(examples) == 0 {
		return model.Examples{Tabular: r.cfg.ForceTabularExamples}
	}

	if allSingleLine(examples) && !r.cfg.ForceTabularExamples {
		lines := make([]string, 0, len(examples))
		for _, ex := range examples {
			lines = append(lines, ex.Input+" → "+ex.ExpectedOutput)
		}
		return model.Examples{Lines: lines}
	}

	anyInput, anyStdin := countBits(examples)
	out := model.Examples{Tabular: true}
	if anyStdin {
		out.Columns = append(out.Columns, model.ColumnInput)
	}
	if anyInput {
		out.Columns = append(out.Columns, model.ColumnTest)
	}
	out.Columns = append(out.Columns, model.ColumnOutput)

	out.Rows = make([][]string, 0, len(examples))
	for _, ex := range examples {
		row := make([]string, 0, 3)
		if anyStdin {
			row = append(row, ex.Stdin)
		}
		if anyInput {
			row = append(row, ex.Input)
		}
		out.Rows = append(out.Rows, append(row, ex.ExpectedOutput))
	}
	return out
}

func allSingleLine(examples []model.TestCase) bool {
	for _, ex := range examples {
		if ex.Stdin != "" || strings.Contains(ex.Input, "\n") || strings.Contains(ex.ExpectedOutput, "\n") {
			return false
		}
	}
	return true
}
