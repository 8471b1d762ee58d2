package interpreter

import "fmt"

// Workflow is one loaded rule document together with its suppression state.
// The blacklist belongs to the document, not the pass: permanent bans must
// survive every pass of the task.
type Workflow struct {
	name      string
	document  *Document
	engine    *Engine
	blacklist *Blacklist
}

// NewWorkflow loads a rule document from disk.
func NewWorkflow(path string, engine *Engine) (*Workflow, error) {
	document, err := LoadDocument(path)
	if err != nil {
		return nil, err
	}
	return &Workflow{
		name:      document.Name,
		document:  document,
		engine:    engine,
		blacklist: NewBlacklist(),
	}, nil
}

// NewWorkflowFromDocument wraps an already-parsed document. Used by tests.
func NewWorkflowFromDocument(document *Document, engine *Engine) *Workflow {
	return &Workflow{
		name:      document.Name,
		document:  document,
		engine:    engine,
		blacklist: NewBlacklist(),
	}
}

// Name returns the source file name of the document.
func (w *Workflow) Name() string { return w.name }

// Prepare clears auto-reset blacklist entries. The runtime calls it at the
// start of every pass.
func (w *Workflow) Prepare() {
	w.blacklist.Prepare()
}

// Execute evaluates the document against the run's model and reports whether
// the evaluation left side effects behind.
func (w *Workflow) Execute(run *Run) (bool, error) {
	run.Blacklist = w.blacklist
	ctx := NewContext(run)
	result, err := w.engine.Evaluate(w.document.Root, ctx)
	if err != nil {
		return false, fmt.Errorf("workflow %s: %w", w.name, err)
	}
	changed, _ := result.(bool)
	return changed, nil
}
