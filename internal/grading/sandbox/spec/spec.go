// Package spec defines the execution specification and resource limits.
package spec

// ResourceLimit describes hard limits enforced by the sandbox.
// A zero field means "no limit" for that resource.
type ResourceLimit struct {
	CPUTimeMs  int64 `yaml:"cpuTimeMs" json:"cpuTimeMs"`
	WallTimeMs int64 `yaml:"wallTimeMs" json:"wallTimeMs"`
	MemoryMB   int64 `yaml:"memoryMB" json:"memoryMB"`
	StackMB    int64 `yaml:"stackMB" json:"stackMB"`
	OutputMB   int64 `yaml:"outputMB" json:"outputMB"`
	PIDs       int64 `yaml:"pids" json:"pids"`
}

// RunSpec is the unified execution specification for one process.
// All paths are host paths; StdinPath may be empty.
type RunSpec struct {
	RunID      string
	WorkDir    string
	Cmd        []string
	Env        []string
	StdinPath  string
	StdoutPath string
	StderrPath string
	Limits     ResourceLimit
}
