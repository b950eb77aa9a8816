package tools

import (
	"context"
	"encoding/json"
)

// DispatchEvent captures a single tool dispatch invocation and result,
// adapted from the teacher's internal/tools.DispatchEvent with a Warnings
// field for PartialResult dispatches.
type DispatchEvent struct {
	Name     string
	Args     json.RawMessage
	Payload  []byte
	Warnings []string
	Err      error
}

type recordingRegistry struct {
	base Registry
	on   func(DispatchEvent)
}

// NewRecordingRegistry wraps an existing Registry and calls on for each
// Dispatch. The Tool Server uses the callback to log each dispatch; the
// Auto-Recall Middleware (C9) attaches recalled memories in the Tool
// Server's request handler, not through this wrapper.
func NewRecordingRegistry(base Registry, on func(DispatchEvent)) Registry {
	if base == nil {
		base = NewRegistry()
	}
	return &recordingRegistry{base: base, on: on}
}

func (r *recordingRegistry) Register(t Tool) { r.base.Register(t) }
func (r *recordingRegistry) Names() []string { return r.base.Names() }

func (r *recordingRegistry) Dispatch(ctx context.Context, name string, raw json.RawMessage) ([]byte, []string, error) {
	payload, warnings, err := r.base.Dispatch(ctx, name, raw)
	if r.on != nil {
		r.on(DispatchEvent{Name: name, Args: raw, Payload: payload, Warnings: warnings, Err: err})
	}
	return payload, warnings, err
}
