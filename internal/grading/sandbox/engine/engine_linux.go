//go:build linux

package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/cosc121od/pycode/internal/grading/sandbox/result"
	"github.com/cosc121od/pycode/internal/grading/sandbox/spec"
	"github.com/cosc121od/pycode/pkg/utils/logger"
)

var defaultEnv = []string{"PATH=/usr/local/bin:/usr/bin:/bin", "LANG=C.UTF-8"}

type linuxEngine struct {
	cfg Config
}

// NewEngine creates a Linux sandbox engine.
func NewEngine(cfg Config) (Engine, error) {
	if cfg.StdoutStderrMaxBytes <= 0 {
		cfg.StdoutStderrMaxBytes = defaultStdoutStderrMaxBytes
	}
	if cfg.EnableCgroup && cfg.CgroupRoot == "" {
		return nil, fmt.Errorf("cgroup root is required when cgroups are enabled")
	}
	return &linuxEngine{cfg: cfg}, nil
}

func (e *linuxEngine) Run(ctx context.Context, runSpec spec.RunSpec) (result.RunResult, error) {
	if err := validateRunSpec(runSpec); err != nil {
		return result.RunResult{}, err
	}

	cgroupPath := ""
	cgroupCleanup := func() {}
	if e.cfg.EnableCgroup {
		var err error
		cgroupPath, cgroupCleanup, err = createRunCgroup(e.cfg.CgroupRoot, runSpec.RunID)
		if err != nil {
			return result.RunResult{}, fmt.Errorf("create cgroup: %w", err)
		}
		if err := applyCgroupLimits(cgroupPath, runSpec.Limits); err != nil {
			cgroupCleanup()
			return result.RunResult{}, fmt.Errorf("apply cgroup limits: %w", err)
		}
	}
	defer cgroupCleanup()

	streams, err := openStreams(runSpec)
	if err != nil {
		return result.RunResult{}, err
	}
	defer streams.Close()

	cmd := exec.CommandContext(ctx, runSpec.Cmd[0], runSpec.Cmd[1:]...)
	cmd.Dir = runSpec.WorkDir
	cmd.Env = runSpec.Env
	if len(cmd.Env) == 0 {
		cmd.Env = defaultEnv
	}
	cmd.Stdin = streams.stdin
	cmd.Stdout = streams.stdout
	cmd.Stderr = streams.stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGKILL,
	}
	// CommandContext only kills the leader; the whole group is killed below.
	cmd.Cancel = func() error {
		killProcessGroup(cmd.Process.Pid)
		return nil
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return result.RunResult{}, fmt.Errorf("start process: %w", err)
	}
	pid := cmd.Process.Pid

	if e.cfg.EnableRlimits {
		if err := applyRlimits(pid, runSpec.Limits); err != nil {
			killProcessGroup(pid)
			_ = cmd.Wait()
			return result.RunResult{}, fmt.Errorf("apply rlimits: %w", err)
		}
	}
	if e.cfg.EnableCgroup {
		if err := addProcessToCgroup(cgroupPath, pid); err != nil {
			logger.Warn(ctx, "add process to cgroup failed", zap.String("cgroup", cgroupPath), zap.Error(err))
		}
	}

	var timedOut atomic.Bool
	done := make(chan struct{})
	go func() {
		var wallTimer <-chan time.Time
		if wallLimit := durationFromMs(runSpec.Limits.WallTimeMs); wallLimit > 0 {
			timer := time.NewTimer(wallLimit)
			defer timer.Stop()
			wallTimer = timer.C
		}
		select {
		case <-wallTimer:
			timedOut.Store(true)
			killProcessGroup(pid)
		case <-done:
		}
	}()

	waitErr := cmd.Wait()
	close(done)
	// Reap anything the child left behind in its group.
	killProcessGroup(pid)

	runResult := result.RunResult{
		ExitCode:   exitCodeFromErr(waitErr, cmd.ProcessState),
		Signal:     signalName(cmd.ProcessState),
		TimeMs:     cpuTimeMs(cmd.ProcessState),
		WallTimeMs: time.Since(start).Milliseconds(),
		MemoryKB:   memoryPeakKB(cgroupPath, cmd.ProcessState),
		OutputKB:   fileSizeKB(runSpec.StdoutPath),
		Stdout:     readLimitedFile(runSpec.StdoutPath, e.cfg.StdoutStderrMaxBytes),
		Stderr:     readLimitedFile(runSpec.StderrPath, e.cfg.StdoutStderrMaxBytes),
		OomKilled:  wasOomKilled(cgroupPath),
	}

	runResult.TimedOut = timedOut.Load() || cpuLimitHit(cmd.ProcessState, runSpec.Limits)
	if runResult.TimedOut {
		return runResult, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return runResult, ctxErr
	}
	return runResult, nil
}

type runStreams struct {
	stdin  *os.File
	stdout *os.File
	stderr *os.File
}

func openStreams(runSpec spec.RunSpec) (*runStreams, error) {
	s := &runStreams{}
	var err error
	if runSpec.StdinPath != "" {
		if s.stdin, err = os.Open(runSpec.StdinPath); err != nil {
			return nil, fmt.Errorf("open stdin: %w", err)
		}
	}
	if s.stdout, err = os.OpenFile(runSpec.StdoutPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600); err != nil {
		s.Close()
		return nil, fmt.Errorf("create stdout: %w", err)
	}
	if s.stderr, err = os.OpenFile(runSpec.StderrPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600); err != nil {
		s.Close()
		return nil, fmt.Errorf("create stderr: %w", err)
	}
	return s, nil
}

func (s *runStreams) Close() {
	for _, f := range []*os.File{s.stdin, s.stdout, s.stderr} {
		if f != nil {
			_ = f.Close()
		}
	}
}

func exitCodeFromErr(err error, state *os.ProcessState) int {
	if state != nil {
		if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			return 128 + int(ws.Signal())
		}
		return state.ExitCode()
	}
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

func signalName(state *os.ProcessState) string {
	if state == nil {
		return ""
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return ws.Signal().String()
	}
	return ""
}

func cpuTimeMs(state *os.ProcessState) int64 {
	if state == nil {
		return 0
	}
	return (state.UserTime() + state.SystemTime()).Milliseconds()
}

// cpuLimitHit reports a process stopped by RLIMIT_CPU: SIGXCPU at the soft
// limit or SIGKILL at the hard limit.
func cpuLimitHit(state *os.ProcessState, limits spec.ResourceLimit) bool {
	if state == nil || limits.CPUTimeMs <= 0 {
		return false
	}
	ws, ok := state.Sys().(syscall.WaitStatus)
	if !ok || !ws.Signaled() {
		return false
	}
	switch ws.Signal() {
	case syscall.SIGXCPU:
		return true
	case syscall.SIGKILL:
		return cpuTimeMs(state) >= limits.CPUTimeMs
	}
	return false
}

func killProcessGroup(pid int) {
	if pid <= 0 {
		return
	}
	_ = syscall.Kill(-pid, syscall.SIGKILL)
}

func validateRunSpec(runSpec spec.RunSpec) error {
	if runSpec.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if runSpec.WorkDir == "" {
		return fmt.Errorf("work dir is required")
	}
	if len(runSpec.Cmd) == 0 {
		return fmt.Errorf("command is required")
	}
	if runSpec.StdoutPath == "" || runSpec.StderrPath == "" {
		return fmt.Errorf("stdout and stderr paths are required")
	}
	return nil
}
