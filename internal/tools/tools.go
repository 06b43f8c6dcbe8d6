// Package tools exposes the agent-facing memory surfaces: the task
// ledger, the session key/value store, and the execution plan. Each
// handler validates its raw JSON input against an embedded schema and
// answers in plain text. Bad calls come back as "Error: ..." results
// the model can read and correct; a non-nil error means the state dir
// itself is failing and is for the host, not the model.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/basket/workmem/internal/store"
)

// Handler is one agent-facing tool.
type Handler interface {
	Name() string
	Description() string
	Handle(ctx context.Context, ownerID string, input json.RawMessage) (string, error)
}

// Registry holds the built-in handlers keyed by tool name.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry builds handlers for every tool over the given store.
func NewRegistry(st *store.Store) (*Registry, error) {
	if st == nil {
		return nil, fmt.Errorf("tools: store is required")
	}
	ledger, err := NewLedgerHandler(st)
	if err != nil {
		return nil, err
	}
	kv, err := NewKVHandler(st)
	if err != nil {
		return nil, err
	}
	plan, err := NewPlanHandler(st)
	if err != nil {
		return nil, err
	}

	r := &Registry{handlers: make(map[string]Handler)}
	for _, h := range []Handler{ledger, kv, plan} {
		r.handlers[h.Name()] = h
	}
	return r, nil
}

// Get returns the handler registered under name.
func (r *Registry) Get(name string) (Handler, bool) {
	h, ok := r.handlers[name]
	return h, ok
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dispatch routes one call to the named handler. An unknown tool is a
// textual error like any other bad input.
func (r *Registry) Dispatch(ctx context.Context, name, ownerID string, input json.RawMessage) (string, error) {
	h, ok := r.handlers[name]
	if !ok {
		return fmt.Sprintf("Error: unknown tool %q", name), nil
	}
	return h.Handle(ctx, ownerID, input)
}

// compileSchema compiles one embedded JSON Schema document.
func compileSchema(name, raw string) (*jsonschema.Schema, error) {
	// jsonschema.UnmarshalJSON keeps numbers as json.Number, which the
	// validator requires.
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("tools: unmarshal %s schema: %w", name, err)
	}
	c := jsonschema.NewCompiler()
	resource := name + ".json"
	if err := c.AddResource(resource, doc); err != nil {
		return nil, fmt.Errorf("tools: add %s schema: %w", name, err)
	}
	schema, err := c.Compile(resource)
	if err != nil {
		return nil, fmt.Errorf("tools: compile %s schema: %w", name, err)
	}
	return schema, nil
}

// validateInput checks raw input against the handler's schema. A nil
// return means the input is well-formed JSON that satisfies the schema.
func validateInput(schema *jsonschema.Schema, input json.RawMessage) error {
	if len(input) == 0 {
		input = json.RawMessage("{}")
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(input))
	if err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return schema.Validate(inst)
}

// storeResult maps a store error onto the two channels: domain errors
// become readable results, persistence errors stay errors.
func storeResult(err error) (string, error) {
	switch {
	case errors.Is(err, store.ErrValidation),
		errors.Is(err, store.ErrNotFound),
		errors.Is(err, store.ErrCapacity):
		return "Error: " + err.Error(), nil
	}
	return "", err
}
