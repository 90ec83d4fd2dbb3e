package nodes

import (
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/tuyendl123/ComfyUI/internal/models"
)

// Input describes one declared node input: its value type and, for numeric
// or choice inputs, option metadata surfaced to clients.
type Input struct {
	Type    string         `json:"type"`
	Options map[string]any `json:"options,omitempty"`
}

// RunContext carries per-invocation services into a node's Run func.
type RunContext struct {
	PromptID string
	NodeID   string
	// InputDir, OutputDir and TempDir are the managed roots nodes read
	// from and write into.
	InputDir  string
	OutputDir string
	TempDir   string
	// Progress reports node-internal progress (value out of max).
	Progress func(value, max int)
	// Preview publishes an in-progress preview image to the submitting
	// session.
	Preview func(img image.Image)
}

// Definition is a registered node type. Run receives resolved input values
// (literals and upstream results) and returns the UI-facing output payload
// plus the values handed to downstream nodes.
type Definition struct {
	Name        string
	DisplayName string
	Description string
	Category    string
	OutputNode  bool
	Inputs      map[string]Input
	Optional    map[string]Input
	ReturnTypes []string
	Run         func(ctx *RunContext, inputs map[string]any) (models.NodeOutput, []any, error)
}

// Registry holds the known node types. Registration order matters:
// conflicting names keep the first writer and log the conflict, so base
// definitions cannot be shadowed by later sources.
type Registry struct {
	mu     sync.RWMutex
	defs   map[string]*Definition
	logger arbor.ILogger
}

func NewRegistry(logger arbor.ILogger) *Registry {
	return &Registry{
		defs:   make(map[string]*Definition),
		logger: logger,
	}
}

// Register adds a node type. A name collision keeps the existing definition
// and returns an error naming the conflict.
func (r *Registry) Register(def *Definition) error {
	if def == nil || def.Name == "" {
		return fmt.Errorf("node definition missing name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.defs[def.Name]; exists {
		r.logger.Warn().Str("class", def.Name).Msg("Ignoring duplicate node registration, first writer kept")
		return fmt.Errorf("node type %s already registered", def.Name)
	}
	r.defs[def.Name] = def
	return nil
}

// Source is a named provider of node definitions, analogous to a plugin
// package.
type Source struct {
	Name     string
	Register func(r *Registry) error
}

// LoadSources registers each source in order. A failing source is logged
// and skipped; one bad plugin must not take the server down.
func (r *Registry) LoadSources(sources []Source) {
	for _, src := range sources {
		start := time.Now()
		err := src.Register(r)
		elapsed := time.Since(start)
		if err != nil {
			r.logger.Warn().Err(err).Str("source", src.Name).Dur("elapsed", elapsed).Msg("Node source failed to load")
			continue
		}
		r.logger.Info().Str("source", src.Name).Dur("elapsed", elapsed).Msg("Node source loaded")
	}
}

// Get returns a node definition by class name.
func (r *Registry) Get(name string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[name]
	return def, ok
}

// Names returns the registered class names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.defs))
	for name := range r.defs {
		names = append(names, name)
	}
	return names
}

// Info produces the introspection payload for one class.
func (d *Definition) Info() map[string]any {
	required := map[string]any{}
	for name, in := range d.Inputs {
		required[name] = []any{in.Type, in.Options}
	}
	input := map[string]any{"required": required}
	if len(d.Optional) > 0 {
		optional := map[string]any{}
		for name, in := range d.Optional {
			optional[name] = []any{in.Type, in.Options}
		}
		input["optional"] = optional
	}
	displayName := d.DisplayName
	if displayName == "" {
		displayName = d.Name
	}
	return map[string]any{
		"input":        input,
		"output":       d.ReturnTypes,
		"output_name":  d.ReturnTypes,
		"name":         d.Name,
		"display_name": displayName,
		"description":  d.Description,
		"category":     d.Category,
		"output_node":  d.OutputNode,
	}
}

// AllInfo produces the full introspection map, class name to Info.
func (r *Registry) AllInfo() map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]any, len(r.defs))
	for name, def := range r.defs {
		out[name] = def.Info()
	}
	return out
}
