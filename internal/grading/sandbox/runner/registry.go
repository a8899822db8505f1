package runner

import (
	"sort"
	"sync"

	"github.com/cosc121od/pycode/internal/grading/sandbox/engine"
	"github.com/cosc121od/pycode/internal/grading/sandbox/observer"
	appErr "github.com/cosc121od/pycode/pkg/errors"
)

// Registry maps language ids to runners.
type Registry struct {
	mu      sync.RWMutex
	runners map[string]CodeRunner
}

// NewRegistry builds one DefaultRunner per language spec.
func NewRegistry(eng engine.Engine, metrics observer.MetricsRecorder, workRoot string, langs []LanguageSpec) (*Registry, error) {
	reg := &Registry{runners: make(map[string]CodeRunner, len(langs))}
	for _, lang := range langs {
		r, err := NewRunnerWithObserver(eng, lang, workRoot, metrics)
		if err != nil {
			return nil, err
		}
		reg.runners[lang.ID] = r
	}
	return reg, nil
}

// Register adds or replaces the runner for a language id.
func (r *Registry) Register(languageID string, runner CodeRunner) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.runners == nil {
		r.runners = make(map[string]CodeRunner)
	}
	r.runners[languageID] = runner
}

// Get returns the runner for a language id.
func (r *Registry) Get(languageID string) (CodeRunner, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	runner, ok := r.runners[languageID]
	if !ok {
		return nil, appErr.Newf(appErr.LanguageNotSupported, "language %q is not supported", languageID)
	}
	return runner, nil
}

// Languages lists registered language ids in sorted order.
func (r *Registry) Languages() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.runners))
	for id := range r.runners {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
