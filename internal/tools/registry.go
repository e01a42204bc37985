package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	schemav "github.com/santhosh-tekuri/jsonschema/v5"
	ai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"pkdindustries/voicerag/internal/core"
)

// Handler executes a tool with its decoded arguments.
type Handler func(ctx context.Context, args map[string]any) (Result, error)

type entry struct {
	schema    ai.Tool
	handler   Handler
	validator *schemav.Schema
}

// Registry holds the tools a session may offer to the model, in registration order.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   []string
	logger  *zap.SugaredLogger
}

// NewRegistry creates an empty tool registry
func NewRegistry(logger *zap.SugaredLogger) *Registry {
	if logger == nil {
		logger = core.GetLogger()
	}
	return &Registry{
		entries: make(map[string]*entry),
		logger:  logger,
	}
}

// Register stores a tool under name, replacing any tool already registered
// with that name. A replaced tool keeps its place in List.
func (r *Registry) Register(name string, schema ai.Tool, handler Handler) error {
	if name == "" {
		return fmt.Errorf("tool name is required")
	}
	if handler == nil {
		return fmt.Errorf("tool %s: handler is required", name)
	}
	if schema.Function == nil {
		return fmt.Errorf("tool %s: schema has no function definition", name)
	}
	if schema.Type == "" {
		schema.Type = ai.ToolTypeFunction
	}
	if schema.Function.Name == "" {
		fn := *schema.Function
		fn.Name = name
		schema.Function = &fn
	}
	if schema.Function.Name != name {
		return fmt.Errorf("tool %s: schema names function %q", name, schema.Function.Name)
	}

	validator, err := compileParameters(name, schema.Function.Parameters)
	if err != nil {
		return fmt.Errorf("tool %s: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[name]; !exists {
		r.order = append(r.order, name)
	}
	r.entries[name] = &entry{schema: schema, handler: handler, validator: validator}
	r.logger.Debugw("registered tool", "tool", name)
	return nil
}

// List returns the schemas of all tools in registration order.
func (r *Registry) List() []ai.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	schemas := make([]ai.Tool, 0, len(r.order))
	for _, name := range r.order {
		schemas = append(schemas, r.entries[name].schema)
	}
	return schemas
}

// Names returns the registered tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Clone returns a registry with the same tools that can be changed independently.
func (r *Registry) Clone() *Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c := &Registry{
		entries: make(map[string]*entry, len(r.entries)),
		order:   append([]string(nil), r.order...),
		logger:  r.logger,
	}
	for name, e := range r.entries {
		c.entries[name] = e
	}
	return c
}

// Dispatch decodes rawArgs and runs the named tool.
func (r *Registry) Dispatch(ctx context.Context, name string, rawArgs string) (Result, error) {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return Result{}, core.NewError(core.KindToolExecution, "dispatch", nil, "tool %q is not registered", name)
	}

	args, err := decodeArguments(rawArgs)
	if err != nil {
		return Result{}, core.NewError(core.KindToolArgumentParse, "dispatch", err,
			"tool %s: malformed arguments: %v", name, err)
	}
	if e.validator != nil {
		if err := e.validator.Validate(args); err != nil {
			return Result{}, core.NewError(core.KindToolArgumentParse, "dispatch", err,
				"tool %s: arguments do not match schema: %v", name, err)
		}
	}

	result, err := e.handler(ctx, args)
	if err != nil {
		return Result{}, core.NewError(core.KindToolExecution, "dispatch", err,
			"tool %s failed: %v", name, err)
	}
	return result, nil
}

func decodeArguments(raw string) (map[string]any, error) {
	if len(bytes.TrimSpace([]byte(raw))) == 0 {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, err
	}
	if args == nil {
		return nil, fmt.Errorf("arguments must be a JSON object")
	}
	return args, nil
}

// compileParameters prepares a validator for the tool's parameter schema.
// A tool without parameters accepts any object.
func compileParameters(name string, params any) (*schemav.Schema, error) {
	if params == nil {
		return nil, nil
	}
	data, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal parameters: %w", err)
	}
	if string(data) == "null" {
		return nil, nil
	}
	schema, err := schemav.CompileString("mem://tools/"+name+".json", string(data))
	if err != nil {
		return nil, fmt.Errorf("compile parameters: %w", err)
	}
	return schema, nil
}
