package tool

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/hupe1980/agentflow/core"
	"github.com/hupe1980/agentflow/internal/util"
)

// FunctionToolOptions configures a FunctionTool.
type FunctionToolOptions struct {
	// LongRunning marks the tool as returning its real result later.
	LongRunning bool
	// SkipValidation disables argument validation.
	SkipValidation bool
}

// FunctionTool exposes a plain Go function as a Tool.
//
// Arguments are validated against the declared JSON schema before the
// function runs; a validation failure is returned as a *ToolError with code
// VALIDATION_ERROR so the model can correct its call. Errors returned by the
// function are passed through unchanged. Return a *ToolError to report a
// recoverable failure to the model.
//
// A FunctionTool has no mutable state after construction and is safe for
// concurrent use.
type FunctionTool struct {
	name        string
	description string
	parameters  map[string]any
	schema      *jsonschema.Schema
	fn          func(tc *core.ToolContext, args map[string]any) (any, error)
	opts        FunctionToolOptions
}

// NewFunctionTool constructs a FunctionTool from an explicit schema. It
// panics if the schema does not compile.
//
//	sum := tool.NewFunctionTool("sum", "Add two numbers", map[string]any{
//		"type": "object",
//		"properties": map[string]any{
//			"a": map[string]any{"type": "number"},
//			"b": map[string]any{"type": "number"},
//		},
//		"required": []string{"a", "b"},
//	}, func(tc *core.ToolContext, args map[string]any) (any, error) {
//		return args["a"].(float64) + args["b"].(float64), nil
//	})
func NewFunctionTool(
	name, description string,
	parameters map[string]any,
	fn func(tc *core.ToolContext, args map[string]any) (any, error),
	optFns ...func(o *FunctionToolOptions),
) *FunctionTool {
	opts := FunctionToolOptions{}
	for _, f := range optFns {
		f(&opts)
	}

	if parameters == nil {
		parameters = map[string]any{"type": "object", "properties": map[string]any{}}
	}

	t := &FunctionTool{
		name:        name,
		description: description,
		parameters:  parameters,
		fn:          fn,
		opts:        opts,
	}

	if !opts.SkipValidation {
		schema, err := util.CompileSchema(parameters)
		if err != nil {
			panic(fmt.Sprintf("tool %s: %v", name, err))
		}

		t.schema = schema
	}

	return t
}

// NewFunctionToolFromStruct derives the parameter schema from the fields of
// structType (see util.SchemaFor).
func NewFunctionToolFromStruct(
	name, description string,
	structType any,
	fn func(tc *core.ToolContext, args map[string]any) (any, error),
	optFns ...func(o *FunctionToolOptions),
) *FunctionTool {
	return NewFunctionTool(name, description, util.SchemaFor(structType), fn, optFns...)
}

// NewTypedTool wraps a function taking a typed argument struct. Arguments
// are decoded with encoding/json after validation.
func NewTypedTool[A any](
	name, description string,
	fn func(tc *core.ToolContext, args A) (any, error),
	optFns ...func(o *FunctionToolOptions),
) *FunctionTool {
	var zero A

	return NewFunctionToolFromStruct(name, description, zero, func(tc *core.ToolContext, raw map[string]any) (any, error) {
		b, err := json.Marshal(raw)
		if err != nil {
			return nil, err
		}

		var args A
		if err := json.Unmarshal(b, &args); err != nil {
			return nil, &ToolError{Tool: name, Message: err.Error(), Code: "VALIDATION_ERROR"}
		}

		return fn(tc, args)
	}, optFns...)
}

// Name implements Tool.
func (t *FunctionTool) Name() string { return t.name }

// Description implements Tool.
func (t *FunctionTool) Description() string { return t.description }

// Parameters implements Tool.
func (t *FunctionTool) Parameters() map[string]any { return t.parameters }

// IsLongRunning implements LongRunningTool.
func (t *FunctionTool) IsLongRunning() bool { return t.opts.LongRunning }

// Call validates args then invokes the wrapped function.
func (t *FunctionTool) Call(tc *core.ToolContext, args map[string]any) (any, error) {
	start := time.Now()

	tc.LogDebug("tool.call.start", "tool", t.name, "fc_id", tc.FunctionCallID())

	if err := util.ValidateArgs(t.schema, args); err != nil {
		tc.LogWarn("tool.call.validation_failed", "tool", t.name, "error", err.Error())

		return nil, &ToolError{
			Tool:    t.name,
			Message: fmt.Sprintf("parameter validation failed: %v", err),
			Code:    "VALIDATION_ERROR",
		}
	}

	result, err := t.fn(tc, args)
	if err != nil {
		var toolErr *ToolError
		if errors.As(err, &toolErr) {
			tc.LogWarn("tool.call.error", "tool", t.name, "code", toolErr.Code, "error", toolErr.Message)
		} else {
			tc.LogError("tool.call.error", "tool", t.name, "error", err.Error())
		}

		return nil, err
	}

	tc.LogInfo("tool.call.success", "tool", t.name, "duration_ms", time.Since(start).Milliseconds())

	return result, nil
}
