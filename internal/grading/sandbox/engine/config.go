package engine

// Config controls sandbox engine behavior.
type Config struct {
	// CgroupRoot is a delegated cgroup v2 directory; required when EnableCgroup is set.
	CgroupRoot string `yaml:"cgroupRoot"`
	// StdoutStderrMaxBytes caps how much of each stream is read back.
	StdoutStderrMaxBytes int64 `yaml:"stdoutStderrMaxBytes"`
	EnableCgroup         bool  `yaml:"enableCgroup"`
	// EnableRlimits applies CPU, address space, stack and file size rlimits to the child.
	EnableRlimits bool `yaml:"enableRlimits"`
}

const defaultStdoutStderrMaxBytes int64 = 1 << 20
