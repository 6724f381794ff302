package tools

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/longregen/marlowe/internal/metrics"
)

// UserIDParam is the parameter key the engine overwrites with the
// authenticated caller identity before every handler invocation.
const UserIDParam = "user_id"

// Result is the uniform output contract of the execution engine.
// Execute never raises across this boundary; failures come back with
// Success=false and a human-readable message.
type Result struct {
	ToolUseID string `json:"tool_use_id,omitempty"`
	Success   bool   `json:"success"`
	Data      any    `json:"data,omitempty"`
	Error     string `json:"error,omitempty"`
	Message   string `json:"message,omitempty"`
}

// Call is a model-requested tool invocation. ToolUseID is opaque and is
// echoed back unchanged on the matching Result.
type Call struct {
	ToolUseID string
	Name      string
	Arguments map[string]any
}

// Engine validates requested tool names against the registry, injects the
// authenticated user identity into parameters, and converts handler
// failures into structured results.
type Engine struct {
	registry *Registry
}

func NewEngine(registry *Registry) *Engine {
	return &Engine{registry: registry}
}

// Execute runs a single tool call for the given authenticated user.
// Whatever user_id the caller supplied in rawParams is discarded.
func (e *Engine) Execute(ctx context.Context, toolName string, rawParams map[string]any, callerUserID string) Result {
	ctx, span := otel.Tracer("internal/tools").Start(ctx, "tool.execute",
		trace.WithAttributes(attribute.String("tool.name", toolName)))
	defer span.End()

	def, ok := e.registry.Get(toolName)
	if !ok {
		metrics.ToolExecutionsTotal.WithLabelValues(toolName, "unknown").Inc()
		return Result{Success: false, Error: fmt.Sprintf("unknown tool: %s", toolName)}
	}

	params := make(map[string]any, len(rawParams)+1)
	for k, v := range rawParams {
		params[k] = v
	}
	params[UserIDParam] = callerUserID

	if msg := validateShape(def.Schema, params); msg != "" {
		span.SetAttributes(attribute.Bool("tool.success", false))
		metrics.ToolExecutionsTotal.WithLabelValues(toolName, "invalid").Inc()
		return Result{Success: false, Message: msg}
	}

	handler, ok := e.registry.handler(toolName)
	if !ok {
		// A definition without a handler is a wiring bug, not a runtime
		// condition the model can recover from.
		panic("tools: no handler registered for " + toolName)
	}

	start := time.Now()
	data, err := e.invoke(ctx, handler, params)
	metrics.ToolExecutionDuration.WithLabelValues(toolName).Observe(time.Since(start).Seconds())

	if err != nil {
		slog.ErrorContext(ctx, "tool execution failed", "tool", toolName, "error", err)
		span.SetAttributes(attribute.Bool("tool.success", false))
		metrics.ToolExecutionsTotal.WithLabelValues(toolName, "error").Inc()
		return Result{Success: false, Error: err.Error()}
	}

	span.SetAttributes(attribute.Bool("tool.success", true))
	metrics.ToolExecutionsTotal.WithLabelValues(toolName, "ok").Inc()
	return Result{Success: true, Data: data, Message: "ok"}
}

// invoke calls the handler, converting panics into errors so one bad tool
// cannot take down a multi-tool turn.
func (e *Engine) invoke(ctx context.Context, handler Handler, params map[string]any) (data any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool handler panic: %v", r)
		}
	}()
	return handler(ctx, params)
}

// ExecuteBatch runs every call in a model turn and returns one result per
// call, each carrying its original ToolUseID. Handlers are independent, so
// cross-call ordering is not significant; the slice order follows the
// request order for convenience.
func (e *Engine) ExecuteBatch(ctx context.Context, calls []Call, callerUserID string) []Result {
	results := make([]Result, len(calls))
	for i, call := range calls {
		res := e.Execute(ctx, call.Name, call.Arguments, callerUserID)
		res.ToolUseID = call.ToolUseID
		results[i] = res
	}
	return results
}

// validateShape checks params against the registered JSON schema: required
// fields present, declared property types respected. Returns a
// human-readable message on violation, empty string when fine.
func validateShape(schema map[string]any, params map[string]any) string {
	if schema == nil {
		return ""
	}

	if required, ok := schema["required"].([]string); ok {
		for _, field := range required {
			if _, present := params[field]; !present {
				return fmt.Sprintf("missing required parameter %q", field)
			}
		}
	} else if required, ok := schema["required"].([]any); ok {
		for _, f := range required {
			field, _ := f.(string)
			if _, present := params[field]; field != "" && !present {
				return fmt.Sprintf("missing required parameter %q", field)
			}
		}
	}

	props, ok := schema["properties"].(map[string]any)
	if !ok {
		return ""
	}
	for name, raw := range props {
		value, present := params[name]
		if !present || value == nil {
			continue
		}
		spec, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		declared, _ := spec["type"].(string)
		if declared == "" {
			continue
		}
		if !typeMatches(declared, value) {
			return fmt.Sprintf("parameter %q must be of type %s", name, declared)
		}
	}
	return ""
}

func typeMatches(declared string, value any) bool {
	switch declared {
	case "string":
		_, ok := value.(string)
		return ok
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "integer":
		switch v := value.(type) {
		case int, int32, int64:
			return true
		case float64:
			return v == float64(int64(v))
		default:
			return false
		}
	case "number":
		switch value.(type) {
		case int, int32, int64, float32, float64:
			return true
		default:
			return false
		}
	case "array":
		_, ok := value.([]any)
		return ok
	case "object":
		_, ok := value.(map[string]any)
		return ok
	default:
		return true
	}
}
