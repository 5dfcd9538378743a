package tool

import (
	"fmt"

	"github.com/hupe1980/agentflow/core"
)

// StateTool lets a model read and write session state, recall memory and
// list artifacts through a single operation based function.
type StateTool struct {
	*FunctionTool
}

// NewStateTool creates the session state tool.
func NewStateTool() *StateTool {
	st := &StateTool{}
	st.FunctionTool = NewFunctionTool("session_state",
		"Read or write session state, search memory and list artifacts. "+
			"Operations: get_state, set_state, search_memory, list_artifacts.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"operation": map[string]any{
					"type": "string",
					"enum": []any{"get_state", "set_state", "search_memory", "list_artifacts"},
				},
				"key":   map[string]any{"type": "string", "description": "state key for get_state/set_state"},
				"value": map[string]any{"description": "value for set_state"},
				"query": map[string]any{"type": "string", "description": "query for search_memory"},
				"limit": map[string]any{"type": "integer", "description": "result limit for search_memory"},
			},
			"required": []any{"operation"},
		},
		st.call,
	)

	return st
}

func (st *StateTool) call(tc *core.ToolContext, args map[string]any) (any, error) {
	op, _ := args["operation"].(string)

	switch op {
	case "get_state":
		key, err := requireString(args, "key")
		if err != nil {
			return nil, err
		}

		v, ok := tc.State().Get(key)

		return map[string]any{"key": key, "exists": ok, "value": v}, nil
	case "set_state":
		key, err := requireString(args, "key")
		if err != nil {
			return nil, err
		}

		tc.State().Set(key, args["value"])

		return map[string]any{"key": key, "success": true}, nil
	case "search_memory":
		query, err := requireString(args, "query")
		if err != nil {
			return nil, err
		}

		limit := 10
		if l, ok := args["limit"].(float64); ok && l > 0 {
			limit = int(l)
		}

		results, err := tc.SearchMemory(query, limit)
		if err != nil {
			return nil, NewToolError("session_state", err.Error(), "MEMORY_ERROR")
		}

		memories := make([]any, 0, len(results))
		for _, r := range results {
			memories = append(memories, map[string]any{"author": r.Author, "text": r.Content.Text(), "session_id": r.SessionID})
		}

		return map[string]any{"query": query, "memories": memories}, nil
	case "list_artifacts":
		keys, err := tc.ListArtifacts()
		if err != nil {
			return nil, NewToolError("session_state", err.Error(), "ARTIFACT_ERROR")
		}

		out := make([]any, len(keys))
		for i, k := range keys {
			out[i] = k
		}

		return map[string]any{"artifacts": out}, nil
	default:
		return nil, NewToolError("session_state", fmt.Sprintf("unknown operation: %s", op), "VALIDATION_ERROR")
	}
}

func requireString(args map[string]any, key string) (string, error) {
	s, _ := args[key].(string)
	if s == "" {
		return "", NewToolError("session_state", fmt.Sprintf("%s is required", key), "VALIDATION_ERROR")
	}

	return s, nil
}
