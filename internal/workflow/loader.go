// Package workflow loads and validates static workflow definitions.
package workflow

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"yqhp/flowrunner/pkg/logger"
	"yqhp/flowrunner/pkg/types"
)

// Definition file suffixes recognized by the loader.
const (
	suffixJSON = ".workflow.json"
	suffixYAML = ".workflow.yaml"
)

// Loader resolves workflow definitions from a directory, one file per
// workflow, named <id>.workflow.json or <id>.workflow.yaml.
type Loader struct {
	dir string
}

// NewLoader creates a Loader rooted at dir.
func NewLoader(dir string) *Loader {
	return &Loader{dir: dir}
}

// Load resolves and parses the definition for the given workflow id.
func (l *Loader) Load(id string) (*types.WorkflowDefinition, error) {
	jsonPath := filepath.Join(l.dir, id+suffixJSON)
	if data, err := os.ReadFile(jsonPath); err == nil {
		return l.parse(data, false)
	}

	yamlPath := filepath.Join(l.dir, id+suffixYAML)
	if data, err := os.ReadFile(yamlPath); err == nil {
		return l.parse(data, true)
	}

	return nil, fmt.Errorf("workflow %s not found in %s", id, l.dir)
}

// List returns every parsable workflow definition in the directory, skipping
// files that fail to parse or validate.
func (l *Loader) List() ([]*types.WorkflowDefinition, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read workflows dir: %w", err)
	}

	var defs []*types.WorkflowDefinition
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		isYAML := strings.HasSuffix(name, suffixYAML)
		if !isYAML && !strings.HasSuffix(name, suffixJSON) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(l.dir, name))
		if err != nil {
			logger.Debug("workflow: skipping unreadable file %s: %v", name, err)
			continue
		}
		def, err := l.parse(data, isYAML)
		if err != nil {
			logger.Warn("workflow: skipping invalid definition %s: %v", name, err)
			continue
		}
		defs = append(defs, def)
	}
	return defs, nil
}

func (l *Loader) parse(data []byte, isYAML bool) (*types.WorkflowDefinition, error) {
	var def types.WorkflowDefinition
	if isYAML {
		if err := yaml.Unmarshal(data, &def); err != nil {
			return nil, fmt.Errorf("parse workflow yaml: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, &def); err != nil {
			return nil, fmt.Errorf("parse workflow json: %w", err)
		}
	}

	normalize(&def)
	if err := Validate(&def); err != nil {
		return nil, err
	}
	return &def, nil
}

// normalize applies definition defaults: an unset maxRetries means one
// retry. An explicit zero stays zero (no retries); negative values are
// clamped to zero.
func normalize(def *types.WorkflowDefinition) {
	for i := range def.Steps {
		switch {
		case def.Steps[i].MaxRetries == nil:
			one := 1
			def.Steps[i].MaxRetries = &one
		case *def.Steps[i].MaxRetries < 0:
			zero := 0
			def.Steps[i].MaxRetries = &zero
		}
	}
}

// Validate checks structural invariants of a definition: at least one step,
// unique non-empty step ids and non-empty inputs. A dangling or non-earlier
// onFail.retryStep reference is only warned about here; the engine treats it
// as "no fallback" at run time.
func Validate(def *types.WorkflowDefinition) error {
	if def.ID == "" {
		return fmt.Errorf("workflow id must not be empty")
	}
	if len(def.Steps) == 0 {
		return fmt.Errorf("workflow %s has no steps", def.ID)
	}

	seen := make(map[string]int, len(def.Steps))
	for i, step := range def.Steps {
		if step.ID == "" {
			return fmt.Errorf("workflow %s: step %d has no id", def.ID, i)
		}
		if _, dup := seen[step.ID]; dup {
			return fmt.Errorf("workflow %s: duplicate step id %q", def.ID, step.ID)
		}
		seen[step.ID] = i
		if step.Input == "" {
			return fmt.Errorf("workflow %s: step %q has no input", def.ID, step.ID)
		}
	}

	for i, step := range def.Steps {
		if step.OnFail == nil || step.OnFail.RetryStep == "" {
			continue
		}
		ref, ok := seen[step.OnFail.RetryStep]
		if !ok {
			logger.Warn("workflow %s: step %q onFail.retryStep %q does not exist", def.ID, step.ID, step.OnFail.RetryStep)
			continue
		}
		if ref >= i {
			logger.Warn("workflow %s: step %q onFail.retryStep %q does not precede it", def.ID, step.ID, step.OnFail.RetryStep)
		}
	}
	return nil
}
