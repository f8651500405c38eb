package workflow

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// yamlDefinition mirrors the on-disk shape before it's validated into a
// Definition: loose strings and maps, no cross-referential checks yet.
type yamlDefinition struct {
	Key           string                 `yaml:"key"`
	Version       string                 `yaml:"version"`
	Description   string                 `yaml:"description"`
	WorkspaceType string                 `yaml:"workspace_type"`
	InitialStage  string                 `yaml:"initial_stage"`
	Stages        []yamlStage            `yaml:"stages"`
}

type yamlStage struct {
	ID               string                 `yaml:"id"`
	Executor         string                 `yaml:"executor"`
	Tools            []string               `yaml:"tools"`
	RequiresApproval bool                   `yaml:"requires_approval"`
	Transitions      []yamlTransition       `yaml:"transitions"`
	Metadata         map[string]any         `yaml:"metadata"`
}

type yamlTransition struct {
	Target string `yaml:"target"`
	When   string `yaml:"when"`
}

// DefinitionLoader is the narrow interface callers outside this package
// depend on: resolve a workflow key to a validated Definition.
type DefinitionLoader interface {
	Load(key string) (*Definition, error)
}

// Loader loads and validates workflow definitions from YAML files named
// <workflow_key>.yaml under a directory, caching each key's first load.
type Loader struct {
	dir   string
	mu    sync.RWMutex
	cache map[string]*Definition
}

// NewLoader returns a Loader rooted at dir.
func NewLoader(dir string) *Loader {
	return &Loader{dir: dir, cache: make(map[string]*Definition)}
}

// Load reads, parses and validates the workflow identified by key, caching
// the result for subsequent calls.
func (l *Loader) Load(key string) (*Definition, error) {
	l.mu.RLock()
	if def, ok := l.cache[key]; ok {
		l.mu.RUnlock()
		return def, nil
	}
	l.mu.RUnlock()

	path := filepath.Join(l.dir, key+".yaml")
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("workflow definition not found for %q at %s: %w", key, path, err)
	}

	var doc yamlDefinition
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("workflow %q: invalid yaml: %w", key, err)
	}
	if doc.Key == "" {
		doc.Key = key
	}
	if doc.Version == "" {
		doc.Version = "1.0.0"
	}
	if doc.WorkspaceType == "" {
		doc.WorkspaceType = "none"
	}

	stages := make([]StageDefinition, 0, len(doc.Stages))
	for _, s := range doc.Stages {
		transitions := make([]StageTransition, 0, len(s.Transitions))
		for _, t := range s.Transitions {
			transitions = append(transitions, StageTransition{Target: t.Target, When: t.When})
		}
		stages = append(stages, StageDefinition{
			ID:               s.ID,
			Executor:         s.Executor,
			Tools:            s.Tools,
			RequiresApproval: s.RequiresApproval,
			Transitions:      transitions,
			Metadata:         s.Metadata,
		})
	}

	def, err := New(Definition{
		Key:           doc.Key,
		Version:       doc.Version,
		Description:   doc.Description,
		WorkspaceType: doc.WorkspaceType,
		InitialStage:  doc.InitialStage,
		Stages:        stages,
	})
	if err != nil {
		return nil, fmt.Errorf("workflow %q: %w", key, err)
	}

	l.mu.Lock()
	l.cache[key] = def
	l.mu.Unlock()
	return def, nil
}

// StaticLoader serves a fixed set of already-validated definitions, the
// shape tests and embedded default workflows use instead of reading files.
type StaticLoader struct {
	defs map[string]*Definition
}

// NewStaticLoader builds a StaticLoader from already-validated definitions.
func NewStaticLoader(defs ...*Definition) *StaticLoader {
	m := make(map[string]*Definition, len(defs))
	for _, d := range defs {
		m[d.Key] = d
	}
	return &StaticLoader{defs: m}
}

func (l *StaticLoader) Load(key string) (*Definition, error) {
	if d, ok := l.defs[key]; ok {
		return d, nil
	}
	return nil, fmt.Errorf("workflow definition not found for %q", key)
}
