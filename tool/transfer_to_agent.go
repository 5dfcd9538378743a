package tool

import (
	"github.com/hupe1980/agentflow/core"
)

// TransferToAgentName is the function name used for agent transfer.
const TransferToAgentName = "transfer_to_agent"

// transferToAgentTool hands the conversation to another agent.
type transferToAgentTool struct{}

// NewTransferToAgentTool constructs the transfer tool.
func NewTransferToAgentTool() Tool { return transferToAgentTool{} }

func (transferToAgentTool) Name() string { return TransferToAgentName }

func (transferToAgentTool) Description() string {
	return "Transfer the question to another agent. This tool hands off control to another agent when it's more suitable to answer the user's question according to the agent's description."
}

func (transferToAgentTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"agent_name": map[string]any{"type": "string", "description": "the agent name to transfer to."},
		},
		"required": []string{"agent_name"},
	}
}

func (transferToAgentTool) Call(tc *core.ToolContext, args map[string]any) (any, error) {
	name, _ := args["agent_name"].(string)
	if name == "" {
		return nil, NewToolError(TransferToAgentName, "agent_name must be a non-empty string", "VALIDATION_ERROR")
	}

	tc.TransferToAgent(name)

	return nil, nil
}
