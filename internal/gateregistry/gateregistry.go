// Package gateregistry maps a spec-declared gate type string to a gate
// implementation. The mapping is closed at process start; an unknown
// type is a data error handled by the caller, never a code error.
package gateregistry

import (
	"context"

	"github.com/cogni-dao/cogni-reviewd/internal/canonical"
)

// GateConfig is the spec-declared `with` block for one gate instance,
// passed through opaquely; each gate implementation decodes the subset
// of keys it understands.
type GateConfig map[string]any

// Gate is the uniform shape every gate implementation satisfies.
type Gate interface {
	Run(ctx context.Context, cc *canonical.Context, cfg GateConfig, log canonical.Logger) Outcome
}

// Status is the clamped gate result.
type Status string

const (
	StatusPass    Status = "pass"
	StatusFail    Status = "fail"
	StatusNeutral Status = "neutral"
)

// Violation is one finding a gate reports.
type Violation struct {
	Code    string
	Message string
	Path    string
	Line    int
	Column  int
	Level   string // error | warning | info
	Meta    map[string]any
}

// Outcome is the normalized result returned by every gate.
type Outcome struct {
	Status       Status
	NeutralReason string
	Violations   []Violation
	Stats        map[string]any
	DurationMS   int64

	Observations   []string
	ProviderResult any
	Rule           any
	Provenance     map[string]any
}

// GateFunc adapts a plain function to the Gate interface.
type GateFunc func(ctx context.Context, cc *canonical.Context, cfg GateConfig, log canonical.Logger) Outcome

func (f GateFunc) Run(ctx context.Context, cc *canonical.Context, cfg GateConfig, log canonical.Logger) Outcome {
	return f(ctx, cc, cfg, log)
}

// Registry is the closed type->implementation map. It is built once at
// startup via New and never mutated afterward from request-handling
// goroutines, so concurrent Resolve calls need no locking.
type Registry struct {
	gates map[string]Gate
}

// New builds a registry from a fixed set of (type, gate) pairs.
func New(entries map[string]Gate) *Registry {
	r := &Registry{gates: make(map[string]Gate, len(entries))}
	for k, v := range entries {
		r.gates[k] = v
	}
	return r
}

// Resolve looks up the gate implementation for a spec-declared type.
// The second return value is false for unknown types; callers (the
// orchestrator) MUST synthesize a neutral{unimplemented_gate} outcome in
// that case rather than treating it as an error.
func (r *Registry) Resolve(gateType string) (Gate, bool) {
	g, ok := r.gates[gateType]
	return g, ok
}
