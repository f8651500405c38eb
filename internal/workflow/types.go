// Package workflow holds the in-memory shape of a stage-graph workflow
// definition and the guard-expression mini-language used on its
// transitions. Loading a definition from YAML (or any other format) is
// explicitly a thin convenience on top of this shape, not a normative part
// of it.
package workflow

import "fmt"

// StageTransition is one outgoing edge from a stage: an optional guard
// expression gating movement to Target.
type StageTransition struct {
	Target string
	When   string
}

// StageDefinition is one node in the stage graph.
type StageDefinition struct {
	ID               string
	Executor         string
	Tools            []string
	RequiresApproval bool
	Transitions      []StageTransition
	Metadata         map[string]any
}

// Definition is a fully validated workflow: a key/version identity, a
// workspace type collaborators may use to pick tooling, an initial stage,
// and the stage graph itself.
type Definition struct {
	Key           string
	Version       string
	Description   string
	WorkspaceType string
	InitialStage  string
	Stages        []StageDefinition

	byID map[string]*StageDefinition
}

// ValidationError reports a structurally invalid workflow definition.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "invalid workflow definition: " + e.Reason }

// New validates def and indexes its stages by id, returning a ready-to-use
// Definition. Validation happens once, at load time, matching the source's
// pydantic model_validator behavior of failing before the definition is
// ever used by the engine.
func New(def Definition) (*Definition, error) {
	if err := validate(def); err != nil {
		return nil, err
	}
	d := def
	d.byID = make(map[string]*StageDefinition, len(d.Stages))
	for i := range d.Stages {
		d.byID[d.Stages[i].ID] = &d.Stages[i]
	}
	return &d, nil
}

func validate(def Definition) error {
	if def.InitialStage == "" {
		return &ValidationError{Reason: "initial_stage is required"}
	}
	ids := make(map[string]bool, len(def.Stages))
	for _, s := range def.Stages {
		if s.ID == "" {
			return &ValidationError{Reason: "stage id must not be empty"}
		}
		if ids[s.ID] {
			return &ValidationError{Reason: fmt.Sprintf("duplicate stage id %q", s.ID)}
		}
		ids[s.ID] = true
	}
	if !ids[def.InitialStage] {
		return &ValidationError{Reason: fmt.Sprintf("initial_stage %q is not a declared stage", def.InitialStage)}
	}
	for _, s := range def.Stages {
		for _, tr := range s.Transitions {
			if tr.Target == "finished" {
				continue
			}
			if !ids[tr.Target] {
				return &ValidationError{Reason: fmt.Sprintf("stage %q: transition target %q is not a declared stage or \"finished\"", s.ID, tr.Target)}
			}
		}
	}
	return nil
}

// StageByID returns the stage with the given id, or nil if unknown.
func (d *Definition) StageByID(id string) *StageDefinition {
	return d.byID[id]
}
