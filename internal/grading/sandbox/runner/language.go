package runner

import "github.com/cosc121od/pycode/internal/grading/sandbox/spec"

// LanguageSpec describes how to build and run one language inside the sandbox.
// Command templates may reference {src} and {bin}, expanded to work dir paths.
type LanguageSpec struct {
	ID             string   `yaml:"id"`
	SourceFile     string   `yaml:"sourceFile"`
	BinaryFile     string   `yaml:"binaryFile"`
	CompileEnabled bool     `yaml:"compileEnabled"`
	CompileCmdTpl  string   `yaml:"compileCmdTpl"`
	RunCmdTpl      string   `yaml:"runCmdTpl"`
	Env            []string `yaml:"env"`

	TimeMultiplier   float64 `yaml:"timeMultiplier"`
	MemoryMultiplier float64 `yaml:"memoryMultiplier"`

	// MemoryErrorMarkers are stderr fragments that identify an out-of-memory
	// failure raised by the language runtime itself.
	MemoryErrorMarkers []string `yaml:"memoryErrorMarkers"`

	DefaultLimits spec.ResourceLimit `yaml:"defaultLimits"`
	CompileLimits spec.ResourceLimit `yaml:"compileLimits"`
}

// DefaultLanguages returns the built-in python and c variants.
func DefaultLanguages() []LanguageSpec {
	return []LanguageSpec{
		{
			ID:                 "python",
			SourceFile:         "prog.py",
			RunCmdTpl:          "python3 -B {src}",
			Env:                []string{"PATH=/usr/local/bin:/usr/bin:/bin", "LANG=C.UTF-8", "PYTHONIOENCODING=utf-8"},
			TimeMultiplier:     1,
			MemoryMultiplier:   1,
			MemoryErrorMarkers: []string{"MemoryError"},
			DefaultLimits: spec.ResourceLimit{
				CPUTimeMs:  5000,
				WallTimeMs: 10000,
				MemoryMB:   256,
				StackMB:    64,
				OutputMB:   2,
				PIDs:       16,
			},
		},
		{
			ID:             "c",
			SourceFile:     "prog.c",
			BinaryFile:     "prog",
			CompileEnabled: true,
			CompileCmdTpl:  "gcc -std=c99 -Wall -O2 -o {bin} {src} -lm",
			RunCmdTpl:      "{bin}",
			DefaultLimits: spec.ResourceLimit{
				CPUTimeMs:  2000,
				WallTimeMs: 5000,
				MemoryMB:   64,
				StackMB:    8,
				OutputMB:   2,
				PIDs:       4,
			},
			CompileLimits: spec.ResourceLimit{
				CPUTimeMs:  10000,
				WallTimeMs: 20000,
				MemoryMB:   512,
				OutputMB:   8,
				PIDs:       32,
			},
		},
	}
}
