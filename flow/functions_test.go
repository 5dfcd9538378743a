package flow

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentflow/core"
	"github.com/hupe1980/agentflow/internal/testutil"
	"github.com/hupe1980/agentflow/model"
	"github.com/hupe1980/agentflow/tool"
)

func toolMap(tools ...tool.Tool) map[string]tool.Tool {
	out := make(map[string]tool.Tool, len(tools))
	for _, t := range tools {
		out[t.Name()] = t
	}

	return out
}

func newTool(name string, fn func(tc *core.ToolContext, args map[string]any) (any, error), optFns ...func(o *tool.FunctionToolOptions)) *tool.FunctionTool {
	return tool.NewFunctionTool(name, name, nil, fn, optFns...)
}

func singleResponse(t *testing.T, ev *core.Event) core.FunctionResponse {
	t.Helper()

	require.NotNil(t, ev)

	responses := ev.GetFunctionResponses()
	require.Len(t, responses, 1)

	return responses[0]
}

func TestHandleFunctionCalls_Result(t *testing.T) {
	agent := newTestAgent("agent", model.NewMockModel("mock"))
	ictx := newInvocation(t, agent)

	callEv := testutil.NewEventBuilder().FunctionCall("c1", "roll_die", nil).Build()

	ev, err := HandleFunctionCalls(ictx, callEv, toolMap(newRollDieTool(4)), nil)
	require.NoError(t, err)

	resp := singleResponse(t, ev)
	assert.Equal(t, "c1", resp.ID)
	assert.Equal(t, "roll_die", resp.Name)
	assert.Equal(t, map[string]any{"result": 4}, resp.Response)
	assert.Equal(t, "agent", ev.Author)
	assert.Equal(t, core.RoleUser, ev.Content.Role)
	assert.Nil(t, ev.Actions.StateDelta)
}

func TestHandleFunctionCalls_ToolErrorIsReported(t *testing.T) {
	ictx := newInvocation(t, newTestAgent("agent", model.NewMockModel("mock")))
	flaky := newTool("flaky", func(*core.ToolContext, map[string]any) (any, error) {
		return nil, tool.NewToolError("flaky", "service unavailable", "UNAVAILABLE")
	})

	callEv := testutil.NewEventBuilder().FunctionCall("c1", "flaky", nil).Build()

	ev, err := HandleFunctionCalls(ictx, callEv, toolMap(flaky), nil)
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"error": "service unavailable"}, singleResponse(t, ev).Response)
}

func TestHandleFunctionCalls_FatalErrors(t *testing.T) {
	ictx := newInvocation(t, newTestAgent("agent", model.NewMockModel("mock")))

	t.Run("unknown tool", func(t *testing.T) {
		callEv := testutil.NewEventBuilder().FunctionCall("c1", "missing", nil).Build()

		_, err := HandleFunctionCalls(ictx, callEv, toolMap(), nil)
		require.ErrorIs(t, err, core.ErrToolNotFound)
	})

	t.Run("plain error", func(t *testing.T) {
		errBroken := errors.New("broken")
		broken := newTool("broken", func(*core.ToolContext, map[string]any) (any, error) { return nil, errBroken })
		callEv := testutil.NewEventBuilder().FunctionCall("c1", "broken", nil).Build()

		_, err := HandleFunctionCalls(ictx, callEv, toolMap(broken), nil)
		require.ErrorIs(t, err, errBroken)
	})

	t.Run("panic", func(t *testing.T) {
		boom := newTool("boom", func(*core.ToolContext, map[string]any) (any, error) { panic("kaboom") })
		callEv := testutil.NewEventBuilder().FunctionCall("c1", "boom", nil).Build()

		_, err := HandleFunctionCalls(ictx, callEv, toolMap(boom), nil)
		require.Error(t, err)

		var pe *panicErr
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, "kaboom", pe.val)
		assert.NotEmpty(t, pe.stack)
	})
}

func TestHandleFunctionCalls_NilResults(t *testing.T) {
	ictx := newInvocation(t, newTestAgent("agent", model.NewMockModel("mock")))
	nothing := func(*core.ToolContext, map[string]any) (any, error) { return nil, nil }

	t.Run("long-running tool without result", func(t *testing.T) {
		lr := newTool("approve", nothing, func(o *tool.FunctionToolOptions) { o.LongRunning = true })
		callEv := testutil.NewEventBuilder().FunctionCall("c1", "approve", nil).Build()

		ev, err := HandleFunctionCalls(ictx, callEv, toolMap(lr), nil)
		require.NoError(t, err)
		assert.Nil(t, ev)
	})

	t.Run("regular tool without result", func(t *testing.T) {
		noop := newTool("noop", nothing)
		callEv := testutil.NewEventBuilder().FunctionCall("c1", "noop", nil).Build()

		ev, err := HandleFunctionCalls(ictx, callEv, toolMap(noop), nil)
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"result": nil}, singleResponse(t, ev).Response)
	})
}

func TestHandleFunctionCalls_PreservesCallOrder(t *testing.T) {
	ictx := newInvocation(t, newTestAgent("agent", model.NewMockModel("mock")))

	var tools []tool.Tool

	b := testutil.NewEventBuilder()

	for i := range 4 {
		name := fmt.Sprintf("t%d", i)
		delay := time.Duration(4-i) * 5 * time.Millisecond

		tools = append(tools, newTool(name, func(*core.ToolContext, map[string]any) (any, error) {
			time.Sleep(delay)
			return name, nil
		}))
		b.FunctionCall("c-"+name, name, nil)
	}

	ev, err := HandleFunctionCalls(ictx, b.Build(), toolMap(tools...), nil)
	require.NoError(t, err)

	responses := ev.GetFunctionResponses()
	require.Len(t, responses, 4)

	for i, r := range responses {
		assert.Equal(t, fmt.Sprintf("c-t%d", i), r.ID)
		assert.Equal(t, fmt.Sprintf("t%d", i), r.Response["result"])
	}
}

func TestHandleFunctionCalls_ParallelLimit(t *testing.T) {
	cfg := core.DefaultRunConfig()
	cfg.MaxParallelToolCalls = 1
	ictx := newInvocation(t, newTestAgent("agent", model.NewMockModel("mock")), withRunConfig(cfg))

	var running, peak atomic.Int32

	slow := newTool("slow", func(*core.ToolContext, map[string]any) (any, error) {
		n := running.Add(1)
		defer running.Add(-1)

		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}

		time.Sleep(5 * time.Millisecond)

		return "ok", nil
	})

	b := testutil.NewEventBuilder()
	for i := range 3 {
		b.FunctionCall(fmt.Sprintf("c%d", i), "slow", nil)
	}

	ev, err := HandleFunctionCalls(ictx, b.Build(), toolMap(slow), nil)
	require.NoError(t, err)
	assert.Len(t, ev.GetFunctionResponses(), 3)
	assert.Equal(t, int32(1), peak.Load())
}

func TestHandleFunctionCalls_Filter(t *testing.T) {
	ictx := newInvocation(t, newTestAgent("agent", model.NewMockModel("mock")))

	var mu sync.Mutex

	var called []string

	echo := newTool("echo", func(tc *core.ToolContext, _ map[string]any) (any, error) {
		mu.Lock()
		defer mu.Unlock()

		called = append(called, tc.FunctionCallID())

		return "ok", nil
	})

	callEv := testutil.NewEventBuilder().
		FunctionCall("c1", "echo", nil).
		FunctionCall("c2", "echo", nil).
		Build()

	ev, err := HandleFunctionCalls(ictx, callEv, toolMap(echo), map[string]bool{"c2": true})
	require.NoError(t, err)

	assert.Equal(t, "c2", singleResponse(t, ev).ID)
	assert.Equal(t, []string{"c2"}, called)
}

func TestHandleFunctionCalls_Callbacks(t *testing.T) {
	var calls atomic.Int32

	counted := newTool("counted", func(*core.ToolContext, map[string]any) (any, error) {
		calls.Add(1)
		return "fresh", nil
	})

	t.Run("before callback short-circuits", func(t *testing.T) {
		agent := newTestAgent("agent", model.NewMockModel("mock"), counted)
		agent.beforeTool = []BeforeToolCallback{
			func(tl tool.Tool, _ map[string]any, _ *core.ToolContext) (map[string]any, error) {
				return map[string]any{"cached": tl.Name()}, nil
			},
		}

		ictx := newInvocation(t, agent)
		callEv := testutil.NewEventBuilder().FunctionCall("c1", "counted", nil).Build()

		ev, err := HandleFunctionCalls(ictx, callEv, toolMap(counted), nil)
		require.NoError(t, err)

		assert.Equal(t, map[string]any{"cached": "counted"}, singleResponse(t, ev).Response)
		assert.Zero(t, calls.Load())
	})

	t.Run("after callback replaces result", func(t *testing.T) {
		agent := newTestAgent("agent", model.NewMockModel("mock"), counted)
		agent.afterTool = []AfterToolCallback{
			func(_ tool.Tool, _ map[string]any, tc *core.ToolContext, result map[string]any) (map[string]any, error) {
				tc.State().Set("seen", true)
				return map[string]any{"wrapped": result["result"]}, nil
			},
		}

		ictx := newInvocation(t, agent)
		callEv := testutil.NewEventBuilder().FunctionCall("c1", "counted", nil).Build()

		ev, err := HandleFunctionCalls(ictx, callEv, toolMap(counted), nil)
		require.NoError(t, err)

		assert.Equal(t, map[string]any{"wrapped": "fresh"}, singleResponse(t, ev).Response)
		assert.Equal(t, map[string]any{"seen": true}, ev.Actions.StateDelta)
		assert.Equal(t, int32(1), calls.Load())
	})
}

func TestHandleFunctionCalls_ActionsAreMerged(t *testing.T) {
	ictx := newInvocation(t, newTestAgent("agent", model.NewMockModel("mock")))

	setter := newTool("setter", func(tc *core.ToolContext, _ map[string]any) (any, error) {
		tc.State().Set("color", "blue")
		return "set", nil
	})
	mover := newTool("mover", func(tc *core.ToolContext, _ map[string]any) (any, error) {
		tc.TransferToAgent("billing")
		return nil, nil
	})

	callEv := testutil.NewEventBuilder().
		FunctionCall("c1", "setter", nil).
		FunctionCall("c2", "mover", nil).
		Build()

	ev, err := HandleFunctionCalls(ictx, callEv, toolMap(setter, mover), nil)
	require.NoError(t, err)

	assert.Len(t, ev.GetFunctionResponses(), 2)
	assert.Equal(t, map[string]any{"color": "blue"}, ev.Actions.StateDelta)
	require.NotNil(t, ev.Actions.TransferToAgent)
	assert.Equal(t, "billing", *ev.Actions.TransferToAgent)
}

func TestMergeParallelFunctionResponseEvents(t *testing.T) {
	assert.Nil(t, MergeParallelFunctionResponseEvents(nil))

	single := testutil.NewEventBuilder().FunctionResponse("c1", "f", nil).Build()
	assert.Same(t, single, MergeParallelFunctionResponseEvents([]*core.Event{single}))

	first := testutil.NewEventBuilder().FunctionResponse("c1", "f", nil).Escalate().Build()
	second := testutil.NewEventBuilder().FunctionResponse("c2", "g", nil).Transfer("other").Build()
	second.Actions.Escalate = core.Ptr(false)

	merged := MergeParallelFunctionResponseEvents([]*core.Event{first, second})
	require.NotNil(t, merged)

	assert.NotEqual(t, first.ID, merged.ID)
	assert.Equal(t, first.Timestamp, merged.Timestamp)
	assert.False(t, *merged.Actions.Escalate)
	assert.Equal(t, "other", *merged.Actions.TransferToAgent)
}

func TestMergeParallelFunctionResponseEvents_SharesNoMaps(t *testing.T) {
	first := testutil.NewEventBuilder().
		FunctionResponse("c1", "f", map[string]any{"items": []any{"a"}}).
		StateDelta("k", "v1").
		Build()
	first.Actions.ArtifactDelta = map[string]int{"report.txt": 1}

	second := testutil.NewEventBuilder().FunctionResponse("c2", "g", map[string]any{"n": 1}).Build()

	merged := MergeParallelFunctionResponseEvents([]*core.Event{first, second})
	require.NotNil(t, merged)

	merged.Actions.StateDelta["k"] = "changed"
	merged.Actions.ArtifactDelta["report.txt"] = 7
	merged.GetFunctionResponses()[0].Response["items"] = nil
	merged.GetFunctionResponses()[1].Response["n"] = 99

	assert.Equal(t, "v1", first.Actions.StateDelta["k"])
	assert.Equal(t, 1, first.Actions.ArtifactDelta["report.txt"])
	assert.Equal(t, []any{"a"}, first.GetFunctionResponses()[0].Response["items"])
	assert.Equal(t, 1, second.GetFunctionResponses()[0].Response["n"])
}

func TestMergeParallelFunctionResponseEvents_Properties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	build := func(partsPerEvent []int) []*core.Event {
		events := make([]*core.Event, len(partsPerEvent))

		for i, n := range partsPerEvent {
			b := testutil.NewEventBuilder().Author("agent").Branch("root.agent")
			for j := range n {
				id := fmt.Sprintf("c%d-%d", i, j)
				b.FunctionResponse(id, "f", map[string]any{"i": i})
			}

			ev := b.Build()
			ev.Actions.RequestedAuthConfigs = map[string]any{fmt.Sprintf("c%d-0", i): map[string]any{"scheme": "oauth2"}}
			events[i] = ev
		}

		return events
	}

	properties.Property("parts are concatenated and auth requests unioned", prop.ForAll(
		func(partsPerEvent []int) bool {
			events := build(partsPerEvent)
			merged := MergeParallelFunctionResponseEvents(events)

			total := 0
			for _, n := range partsPerEvent {
				total += n
			}

			if len(merged.Content.Parts) != total || len(merged.Actions.RequestedAuthConfigs) != len(events) {
				return false
			}

			if merged.Author != "agent" || merged.Branch != "root.agent" || merged.InvocationID != events[0].InvocationID {
				return false
			}

			// Parts keep event order.
			return merged.GetFunctionResponses()[0].ID == "c0-0"
		},
		gen.SliceOf(gen.IntRange(1, 3)).SuchThat(func(v []int) bool { return len(v) >= 2 }),
	))

	properties.TestingRun(t)
}

func TestGenerateAuthEvent(t *testing.T) {
	ictx := newInvocation(t, newTestAgent("agent", model.NewMockModel("mock")))

	plain := testutil.NewEventBuilder().FunctionResponse("c1", "f", nil).Build()
	assert.Nil(t, GenerateAuthEvent(ictx, plain))

	respEv := testutil.NewEventBuilder().FunctionResponse("b", "f", nil).FunctionResponse("a", "g", nil).Build()
	respEv.Actions.RequestedAuthConfigs = map[string]any{
		"b": map[string]any{"scheme": "api_key"},
		"a": map[string]any{"scheme": "oauth2"},
	}

	ev := GenerateAuthEvent(ictx, respEv)
	require.NotNil(t, ev)

	calls := ev.GetFunctionCalls()
	require.Len(t, calls, 2)

	assert.Equal(t, "a", calls[0].Args["function_call_id"])
	assert.Equal(t, "b", calls[1].Args["function_call_id"])
	assert.Equal(t, map[string]any{"scheme": "oauth2"}, calls[0].Args["auth_config"])

	for i, c := range calls {
		assert.Equal(t, RequestCredentialFunctionName, c.Name)
		assert.True(t, strings.HasPrefix(c.ID, ClientFunctionCallIDPrefix))
		assert.Equal(t, c.ID, ev.LongRunningToolIDs[i])
	}

	assert.True(t, ev.IsFinalResponse())
}

func TestClientFunctionCallIDs(t *testing.T) {
	ev := testutil.NewEventBuilder().
		FunctionCall("", "f", nil).
		FunctionCall("model-id", "g", nil).
		Build()

	PopulateClientFunctionCallIDs(ev)

	calls := ev.GetFunctionCalls()
	assert.True(t, strings.HasPrefix(calls[0].ID, ClientFunctionCallIDPrefix))
	assert.Equal(t, "model-id", calls[1].ID)

	RemoveClientFunctionCallIDs(ev.Content)

	calls = ev.GetFunctionCalls()
	assert.Empty(t, calls[0].ID)
	assert.Equal(t, "model-id", calls[1].ID)
}
