package types

// OnFailPolicy declares the cross-step fallback for a failing step: re-run
// the named earlier step once, then retry the failing step exactly once more.
type OnFailPolicy struct {
	RetryStep string `json:"retryStep" yaml:"retryStep"`
}

// WorkflowStep is one unit of work in a workflow definition.
type WorkflowStep struct {
	ID      string `json:"id" yaml:"id"`
	Name    string `json:"name" yaml:"name"`
	Input   string `json:"input" yaml:"input"`
	Expects string `json:"expects,omitempty" yaml:"expects,omitempty"`
	// MaxRetries is the number of extra attempts after the first one.
	// An absent value is normalized to 1 by the loader; an explicit zero
	// disables retries.
	MaxRetries *int          `json:"maxRetries,omitempty" yaml:"maxRetries,omitempty"`
	OnFail     *OnFailPolicy `json:"onFail,omitempty" yaml:"onFail,omitempty"`
}

// WorkflowDefinition is a static, read-only workflow description loaded from
// a definition file. The engine interprets it; it never mutates it.
type WorkflowDefinition struct {
	ID          string         `json:"id" yaml:"id"`
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description" yaml:"description"`
	Steps       []WorkflowStep `json:"steps" yaml:"steps"`
}

// FindStep returns the definition step with the given id and its index, or
// nil and -1 when absent.
func (w *WorkflowDefinition) FindStep(id string) (*WorkflowStep, int) {
	for i := range w.Steps {
		if w.Steps[i].ID == id {
			return &w.Steps[i], i
		}
	}
	return nil, -1
}
