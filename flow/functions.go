package flow

import (
	"errors"
	"fmt"
	"maps"
	"reflect"
	"runtime/debug"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/agentflow/core"
	"github.com/hupe1980/agentflow/internal/util"
	"github.com/hupe1980/agentflow/telemetry"
	"github.com/hupe1980/agentflow/tool"
)

const (
	// ClientFunctionCallIDPrefix marks call ids generated by the framework for
	// models that do not assign their own. They are stripped before history
	// is sent back to a model.
	ClientFunctionCallIDPrefix = "af-"

	// RequestCredentialFunctionName is the long-running call through which
	// the framework asks the end user for credentials.
	RequestCredentialFunctionName = "request_credential"
)

// GenerateClientFunctionCallID returns a fresh client side call id.
func GenerateClientFunctionCallID() string {
	return ClientFunctionCallIDPrefix + uuid.NewString()
}

// PopulateClientFunctionCallIDs assigns an id to every call of ev that has
// none.
func PopulateClientFunctionCallIDs(ev *core.Event) {
	if ev.Content == nil {
		return
	}

	for i, p := range ev.Content.Parts {
		if fc, ok := p.(core.FunctionCallPart); ok && fc.FunctionCall.ID == "" {
			fc.FunctionCall.ID = GenerateClientFunctionCallID()
			ev.Content.Parts[i] = fc
		}
	}
}

// RemoveClientFunctionCallIDs clears framework generated ids from calls and
// responses of c.
func RemoveClientFunctionCallIDs(c *core.Content) {
	if c == nil {
		return
	}

	for i, p := range c.Parts {
		switch v := p.(type) {
		case core.FunctionCallPart:
			if isClientID(v.FunctionCall.ID) {
				v.FunctionCall.ID = ""
				c.Parts[i] = v
			}
		case core.FunctionResponsePart:
			if isClientID(v.FunctionResponse.ID) {
				v.FunctionResponse.ID = ""
				c.Parts[i] = v
			}
		}
	}
}

func isClientID(id string) bool {
	return strings.HasPrefix(id, ClientFunctionCallIDPrefix)
}

// LongRunningFunctionCallIDs returns the ids of calls served by long-running
// tools.
func LongRunningFunctionCallIDs(calls []core.FunctionCall, tools map[string]tool.Tool) []string {
	var ids []string

	for _, c := range calls {
		if t, ok := tools[c.Name]; ok && tool.IsLongRunning(t) {
			ids = append(ids, c.ID)
		}
	}

	return ids
}

// GenerateAuthEvent builds the credential request event for the auth
// configs requested while producing respEv, or nil when none were.
func GenerateAuthEvent(ictx *core.InvocationContext, respEv *core.Event) *core.Event {
	if len(respEv.Actions.RequestedAuthConfigs) == 0 {
		return nil
	}

	ids := make([]string, 0, len(respEv.Actions.RequestedAuthConfigs))
	for id := range respEv.Actions.RequestedAuthConfigs {
		ids = append(ids, id)
	}

	slices.Sort(ids)

	ev := core.NewEvent(ictx.InvocationID, ictx.AgentName())
	ev.Branch = ictx.Branch
	ev.Content = &core.Content{Role: respEv.Content.Role}

	for _, id := range ids {
		call := core.FunctionCall{
			ID:   GenerateClientFunctionCallID(),
			Name: RequestCredentialFunctionName,
			Args: map[string]any{
				"function_call_id": id,
				"auth_config":      respEv.Actions.RequestedAuthConfigs[id],
			},
		}

		ev.Content.Parts = append(ev.Content.Parts, core.FunctionCallPart{FunctionCall: call})
		ev.LongRunningToolIDs = append(ev.LongRunningToolIDs, call.ID)
	}

	return ev
}

// HandleFunctionCalls executes the calls of callEvent concurrently and
// returns one merged response event, or nil when no call produced a
// response. When filter is non-nil only the calls whose id it contains are
// executed.
//
// Unknown tools, tool errors other than *tool.ToolError and panics are
// fatal.
func HandleFunctionCalls(ictx *core.InvocationContext, callEvent *core.Event, tools map[string]tool.Tool, filter map[string]bool) (*core.Event, error) {
	return newDispatcher(ictx, tools).run(callEvent, filter)
}

type dispatcher struct {
	ictx      *core.InvocationContext
	tools     map[string]tool.Tool
	callbacks ToolCallbacks
	telemetry *telemetry.Telemetry
}

func newDispatcher(ictx *core.InvocationContext, tools map[string]tool.Tool) *dispatcher {
	d := &dispatcher{ictx: ictx, tools: tools, telemetry: telemetry.Default()}
	if cb, ok := ictx.Agent.(ToolCallbacks); ok {
		d.callbacks = cb
	}

	return d
}

func (d *dispatcher) run(callEvent *core.Event, filter map[string]bool) (*core.Event, error) {
	calls := callEvent.GetFunctionCalls()
	results := make([]*core.Event, len(calls))

	g, gctx := errgroup.WithContext(d.ictx.Context)
	if n := d.ictx.RunConfig.MaxParallelToolCalls; n > 0 {
		g.SetLimit(n)
	}

	start := time.Now()

	for i, call := range calls {
		if filter != nil && !filter[call.ID] {
			continue
		}

		g.Go(func() error {
			ev, err := d.execute(d.ictx.WithContext(gctx), call, nil)
			results[i] = ev

			return err
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	events := slices.DeleteFunc(results, func(ev *core.Event) bool { return ev == nil })

	d.ictx.LogDebug("agent.functions.batch.complete",
		"count", len(calls),
		"responses", len(events),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	merged := MergeParallelFunctionResponseEvents(events)
	if merged != nil && len(events) > 1 {
		d.telemetry.TraceMergedToolCalls(d.ictx.Context, merged)
	}

	return merged, nil
}

// invokeFunc runs the tool itself once the before callbacks passed.
type invokeFunc func(ictx *core.InvocationContext, t tool.Tool, tc *core.ToolContext, args map[string]any) (any, error)

// execute serves one call. A nil event with a nil error means a
// long-running tool has not produced a response yet.
func (d *dispatcher) execute(ictx *core.InvocationContext, call core.FunctionCall, invoke invokeFunc) (ev *core.Event, err error) {
	t, ok := d.tools[call.Name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrToolNotFound, call.Name)
	}

	if invoke == nil {
		invoke = callTool
	}

	ctx, span := d.telemetry.StartToolCall(ictx.Context, t.Name())
	defer func() {
		d.telemetry.TraceToolCall(ctx, span, t.Name(), t.Description(), call, ev, err)
		span.End()
	}()

	ictx = ictx.WithContext(ctx)
	tc := core.NewToolContext(ictx, call.ID, nil)

	args := call.Args
	if args == nil {
		args = map[string]any{}
	}

	start := time.Now()

	var response map[string]any

	if d.callbacks != nil {
		for _, cb := range d.callbacks.BeforeToolCallbacks() {
			r, cbErr := cb(t, args, tc)
			if cbErr != nil {
				return nil, fmt.Errorf("before tool callback for %s: %w", t.Name(), cbErr)
			}

			if r != nil {
				response = r
				break
			}
		}
	}

	var toolErr error

	if response == nil {
		result, callErr := invoke(ictx, t, tc, args)

		var te *tool.ToolError

		switch {
		case errors.As(callErr, &te):
			toolErr = te
			response = map[string]any{"error": te.Message}
		case callErr != nil:
			ictx.LogError("agent.function.failed", "function", call.Name, "function_call_id", call.ID, "error", callErr.Error())
			return nil, fmt.Errorf("tool %s: %w", call.Name, callErr)
		default:
			response = toResponseMap(result)
		}
	}

	if d.callbacks != nil {
		for _, cb := range d.callbacks.AfterToolCallbacks() {
			r, cbErr := cb(t, args, tc, response)
			if cbErr != nil {
				return nil, fmt.Errorf("after tool callback for %s: %w", t.Name(), cbErr)
			}

			if r != nil {
				response = r
				break
			}
		}
	}

	ictx.LogInfo("agent.function.executed",
		"function", call.Name,
		"function_call_id", call.ID,
		"duration_ms", time.Since(start).Milliseconds(),
		"error", toolErr != nil,
	)

	if response == nil {
		if tool.IsLongRunning(t) {
			return nil, nil
		}

		response = map[string]any{"result": nil}
	}

	ev = core.NewEvent(ictx.InvocationID, ictx.AgentName())
	ev.Branch = ictx.Branch
	ev.Actions = *tc.Actions()
	ev.Content = &core.Content{
		Role: core.RoleUser,
		Parts: []core.Part{core.FunctionResponsePart{FunctionResponse: core.FunctionResponse{
			ID:       call.ID,
			Name:     t.Name(),
			Response: response,
		}}},
	}

	if len(ev.Actions.StateDelta) == 0 {
		ev.Actions.StateDelta = nil
	}

	return ev, nil
}

// callTool runs t.Call, converting a panic into an error.
func callTool(_ *core.InvocationContext, t tool.Tool, tc *core.ToolContext, args map[string]any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicError(r)
			tc.LogError("agent.function.panic", "function", t.Name(), "recover", r)
		}
	}()

	return t.Call(tc, args)
}

// toResponseMap wraps results that are not objects as {"result": v}.
func toResponseMap(v any) map[string]any {
	if v == nil {
		return nil
	}

	if m, ok := v.(map[string]any); ok {
		return m
	}

	if rv := reflect.ValueOf(v); (rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Map) && rv.IsNil() {
		return nil
	}

	return map[string]any{"result": v}
}

// MergeParallelFunctionResponseEvents combines response events into one. A
// single event is returned unchanged and nil is returned for none.
//
// Parts are concatenated in order. Every action field takes the value of the
// last event that sets it, except RequestedAuthConfigs, which is the union
// over all events. The merged event keeps author, branch, invocation and
// timestamp of the first event and gets a new id. It shares no maps with
// the source events.
func MergeParallelFunctionResponseEvents(events []*core.Event) *core.Event {
	switch len(events) {
	case 0:
		return nil
	case 1:
		return events[0]
	}

	base := events[0]

	merged := core.NewEvent(base.InvocationID, base.Author)
	merged.Branch = base.Branch
	merged.Timestamp = base.Timestamp
	merged.Content = &core.Content{Role: core.RoleUser}

	var authConfigs map[string]any

	for _, ev := range events {
		if ev.Content != nil {
			for _, p := range ev.Content.Parts {
				merged.Content.Parts = append(merged.Content.Parts, core.ClonePart(p))
			}
		}

		a := ev.Actions
		if a.SkipSummarization != nil {
			merged.Actions.SkipSummarization = core.Ptr(*a.SkipSummarization)
		}

		if a.StateDelta != nil {
			merged.Actions.StateDelta = util.DeepCopyMap(a.StateDelta)
		}

		if a.ArtifactDelta != nil {
			merged.Actions.ArtifactDelta = maps.Clone(a.ArtifactDelta)
		}

		if a.TransferToAgent != nil {
			merged.Actions.TransferToAgent = core.Ptr(*a.TransferToAgent)
		}

		if a.Escalate != nil {
			merged.Actions.Escalate = core.Ptr(*a.Escalate)
		}

		for id, cfg := range a.RequestedAuthConfigs {
			if authConfigs == nil {
				authConfigs = map[string]any{}
			}

			authConfigs[id] = util.DeepCopyValue(cfg)
		}
	}

	merged.Actions.RequestedAuthConfigs = authConfigs

	return merged
}

// panicError converts a recovered panic value to an error carrying the stack.
func panicError(r any) error { return &panicErr{val: r, stack: debug.Stack()} }

type panicErr struct {
	val   any
	stack []byte
}

func (p *panicErr) Error() string { return fmt.Sprintf("panic recovered: %v", p.val) }
