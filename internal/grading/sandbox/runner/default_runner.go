package runner

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/shlex"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cosc121od/pycode/internal/grading/sandbox/engine"
	"github.com/cosc121od/pycode/internal/grading/sandbox/observer"
	"github.com/cosc121od/pycode/internal/grading/sandbox/result"
	"github.com/cosc121od/pycode/internal/grading/sandbox/spec"
	appErr "github.com/cosc121od/pycode/pkg/errors"
	"github.com/cosc121od/pycode/pkg/utils/logger"
)

const (
	stdinName      = "stdin.txt"
	stdoutName     = "stdout.txt"
	runtimeLogName = "runtime.log"
	compileOutName = "compile.out"
	compileLogName = "compile.log"
)

// DefaultRunner implements compile/run workflows for one language.
type DefaultRunner struct {
	eng      engine.Engine
	lang     LanguageSpec
	workRoot string
	metrics  observer.MetricsRecorder
}

// NewRunner creates a runner backed by the sandbox engine.
func NewRunner(eng engine.Engine, lang LanguageSpec, workRoot string) (*DefaultRunner, error) {
	return NewRunnerWithObserver(eng, lang, workRoot, observer.NoopMetricsRecorder{})
}

// NewRunnerWithObserver creates a runner with metrics hooks.
func NewRunnerWithObserver(eng engine.Engine, lang LanguageSpec, workRoot string, metrics observer.MetricsRecorder) (*DefaultRunner, error) {
	if eng == nil {
		return nil, appErr.ValidationError("engine", "required")
	}
	if err := validateLanguage(lang); err != nil {
		return nil, err
	}
	if metrics == nil {
		metrics = observer.NoopMetricsRecorder{}
	}
	return &DefaultRunner{eng: eng, lang: lang, workRoot: workRoot, metrics: metrics}, nil
}

// Execute writes the program and stdin to a fresh work dir, compiles if the
// language needs it, runs the program and classifies the outcome.
func (r *DefaultRunner) Execute(ctx context.Context, req ExecuteRequest) (result.Outcome, error) {
	workDir, err := prepareWorkDir(r.workRoot)
	if err != nil {
		return result.Outcome{}, err
	}
	defer func() {
		if rmErr := os.RemoveAll(workDir); rmErr != nil {
			logger.Warn(ctx, "remove work dir failed", zap.String("work_dir", workDir), zap.Error(rmErr))
		}
	}()

	if err := writeWorkFile(workDir, r.lang.SourceFile, req.Code); err != nil {
		return result.Outcome{}, err
	}
	if err := writeWorkFile(workDir, stdinName, req.Stdin); err != nil {
		return result.Outcome{}, err
	}

	if r.lang.CompileEnabled {
		outcome, ok, err := r.compile(ctx, workDir)
		if err != nil || !ok {
			return outcome, err
		}
	}

	limits := applyLimits(req.Limits, r.lang.DefaultLimits, r.lang)
	cmd, err := buildCommand(r.lang.RunCmdTpl, r.lang, workDir)
	if err != nil {
		return result.Outcome{}, err
	}
	runSpec := spec.RunSpec{
		RunID:      uuid.NewString(),
		WorkDir:    workDir,
		Cmd:        cmd,
		Env:        r.lang.Env,
		StdinPath:  filepath.Join(workDir, stdinName),
		StdoutPath: filepath.Join(workDir, stdoutName),
		StderrPath: filepath.Join(workDir, runtimeLogName),
		Limits:     limits,
	}

	runRes, runErr := r.eng.Run(ctx, runSpec)
	if runErr != nil {
		r.metrics.ObserveRun(ctx, r.lang.ID, "SANDBOX_ERROR", runRes.TimeMs, runRes.MemoryKB, runRes.OutputKB)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return result.Outcome{}, ctxErr
		}
		return result.Outcome{}, appErr.Wrapf(runErr, appErr.SandboxUnavailable, "sandbox run failed")
	}

	status := mapRunStatus(runRes, limits, r.lang)
	outcome := result.Outcome{
		Output:   runRes.Stdout,
		Status:   status,
		ExitCode: runRes.ExitCode,
		TimeMs:   runRes.TimeMs,
		MemoryKB: runRes.MemoryKB,
	}
	if status != result.StatusOK {
		outcome.Output += runRes.Stderr
	}
	r.metrics.ObserveRun(ctx, r.lang.ID, string(status), runRes.TimeMs, runRes.MemoryKB, runRes.OutputKB)
	return outcome, nil
}

// compile builds the program. ok is false when the compiler rejected it; the
// returned outcome then carries the compiler log as a runtime error.
func (r *DefaultRunner) compile(ctx context.Context, workDir string) (result.Outcome, bool, error) {
	cmd, err := buildCommand(r.lang.CompileCmdTpl, r.lang, workDir)
	if err != nil {
		return result.Outcome{}, false, err
	}
	runSpec := spec.RunSpec{
		RunID:      uuid.NewString(),
		WorkDir:    workDir,
		Cmd:        cmd,
		Env:        r.lang.Env,
		StdoutPath: filepath.Join(workDir, compileOutName),
		StderrPath: filepath.Join(workDir, compileLogName),
		Limits:     r.lang.CompileLimits,
	}

	runRes, err := r.eng.Run(ctx, runSpec)
	ok := err == nil && runRes.ExitCode == 0 && !runRes.TimedOut
	r.metrics.ObserveCompile(ctx, r.lang.ID, ok, runRes.TimeMs, runRes.MemoryKB)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return result.Outcome{}, false, ctxErr
		}
		return result.Outcome{}, false, appErr.Wrapf(err, appErr.SandboxUnavailable, "sandbox compile failed")
	}
	if !ok {
		return result.Outcome{
			Output:   runRes.Stdout + runRes.Stderr,
			Status:   result.StatusRuntimeError,
			ExitCode: runRes.ExitCode,
			TimeMs:   runRes.TimeMs,
			MemoryKB: runRes.MemoryKB,
		}, false, nil
	}
	return result.Outcome{}, true, nil
}

func validateLanguage(lang LanguageSpec) error {
	if lang.ID == "" {
		return appErr.ValidationError("language_id", "required")
	}
	if lang.SourceFile == "" {
		return appErr.ValidationError("source_file", "required")
	}
	if strings.TrimSpace(lang.RunCmdTpl) == "" {
		return appErr.ValidationError("run_cmd_tpl", "required")
	}
	if lang.CompileEnabled {
		if strings.TrimSpace(lang.CompileCmdTpl) == "" {
			return appErr.ValidationError("compile_cmd_tpl", "required")
		}
		if lang.BinaryFile == "" {
			return appErr.ValidationError("binary_file", "required")
		}
	}
	return nil
}

func buildCommand(tpl string, lang LanguageSpec, workDir string) ([]string, error) {
	if strings.TrimSpace(tpl) == "" {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("command template is required")
	}
	expanded := strings.ReplaceAll(tpl, "{src}", filepath.Join(workDir, lang.SourceFile))
	if lang.BinaryFile != "" {
		expanded = strings.ReplaceAll(expanded, "{bin}", filepath.Join(workDir, lang.BinaryFile))
	}
	fields, err := shlex.Split(expanded)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.InvalidParams, "parse command template failed")
	}
	if len(fields) == 0 {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("command is empty after expansion")
	}
	return fields, nil
}

func applyLimits(override, defaults spec.ResourceLimit, lang LanguageSpec) spec.ResourceLimit {
	merged := mergeLimits(defaults, override)
	return applyMultipliers(merged, lang)
}

func mergeLimits(base, override spec.ResourceLimit) spec.ResourceLimit {
	if override.CPUTimeMs > 0 {
		base.CPUTimeMs = override.CPUTimeMs
	}
	if override.WallTimeMs > 0 {
		base.WallTimeMs = override.WallTimeMs
	}
	if override.MemoryMB > 0 {
		base.MemoryMB = override.MemoryMB
	}
	if override.StackMB > 0 {
		base.StackMB = override.StackMB
	}
	if override.OutputMB > 0 {
		base.OutputMB = override.OutputMB
	}
	if override.PIDs > 0 {
		base.PIDs = override.PIDs
	}
	return base
}

func applyMultipliers(limits spec.ResourceLimit, lang LanguageSpec) spec.ResourceLimit {
	limits.CPUTimeMs = scaleLimit(limits.CPUTimeMs, lang.TimeMultiplier)
	limits.WallTimeMs = scaleLimit(limits.WallTimeMs, lang.TimeMultiplier)
	limits.MemoryMB = scaleLimit(limits.MemoryMB, lang.MemoryMultiplier)
	return limits
}

func scaleLimit(value int64, multiplier float64) int64 {
	if value <= 0 {
		return 0
	}
	if multiplier <= 0 {
		return value
	}
	return int64(math.Ceil(float64(value) * multiplier))
}

func mapRunStatus(res result.RunResult, limits spec.ResourceLimit, lang LanguageSpec) result.Status {
	if res.OomKilled {
		return result.StatusMemoryExceeded
	}
	if res.TimedOut {
		return result.StatusTimeout
	}
	if limits.MemoryMB > 0 && res.MemoryKB > limits.MemoryMB*1024 {
		return result.StatusMemoryExceeded
	}
	if res.ExitCode != 0 || res.Signal != "" {
		for _, marker := range lang.MemoryErrorMarkers {
			if marker != "" && strings.Contains(res.Stderr, marker) {
				return result.StatusMemoryExceeded
			}
		}
		return result.StatusRuntimeError
	}
	if limits.OutputMB > 0 && res.OutputKB > limits.OutputMB*1024 {
		return result.StatusRuntimeError
	}
	return result.StatusOK
}

func prepareWorkDir(workRoot string) (string, error) {
	if workRoot != "" {
		if err := os.MkdirAll(workRoot, 0755); err != nil {
			return "", appErr.Wrapf(err, appErr.SandboxUnavailable, "create work root failed")
		}
	}
	dir, err := os.MkdirTemp(workRoot, "run-")
	if err != nil {
		return "", appErr.Wrapf(err, appErr.SandboxUnavailable, "create work dir failed")
	}
	return dir, nil
}

func writeWorkFile(workDir, name, content string) error {
	if name == "" {
		return appErr.ValidationError("file_name", "required")
	}
	if err := os.WriteFile(filepath.Join(workDir, name), []byte(content), 0644); err != nil {
		return appErr.Wrapf(err, appErr.SandboxUnavailable, "write %s failed", name)
	}
	return nil
}
