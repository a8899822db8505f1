//go:build linux

package engine

import (
	"golang.org/x/sys/unix"

	"github.com/cosc121od/pycode/internal/grading/sandbox/spec"
)

const mb = 1024 * 1024

// applyRlimits sets per-process limits on a started child. The CPU limit gets
// one second of grace between SIGXCPU and SIGKILL.
func applyRlimits(pid int, limits spec.ResourceLimit) error {
	if limits.CPUTimeMs > 0 {
		secs := uint64((limits.CPUTimeMs + 999) / 1000)
		if err := setRlimit(pid, unix.RLIMIT_CPU, secs, secs+1); err != nil {
			return err
		}
	}
	if limits.MemoryMB > 0 {
		bytes := uint64(limits.MemoryMB) * mb
		if err := setRlimit(pid, unix.RLIMIT_AS, bytes, bytes); err != nil {
			return err
		}
	}
	if limits.StackMB > 0 {
		bytes := uint64(limits.StackMB) * mb
		if err := setRlimit(pid, unix.RLIMIT_STACK, bytes, bytes); err != nil {
			return err
		}
	}
	if limits.OutputMB > 0 {
		bytes := uint64(limits.OutputMB) * mb
		if err := setRlimit(pid, unix.RLIMIT_FSIZE, bytes, bytes); err != nil {
			return err
		}
	}
	return setRlimit(pid, unix.RLIMIT_CORE, 0, 0)
}

func setRlimit(pid, resource int, cur, max uint64) error {
	lim := unix.Rlimit{Cur: cur, Max: max}
	return unix.Prlimit(pid, resource, &lim, nil)
}
