package flow

import (
	"fmt"
	"strings"

	"github.com/hupe1980/agentflow/core"
	"github.com/hupe1980/agentflow/tool"
)

// AgentTransferProcessor lets the model hand the conversation to a related
// agent: it lists the reachable agents in the instructions and declares the
// transfer_to_agent function.
type AgentTransferProcessor struct {
	transferTool tool.Tool
}

// NewAgentTransferProcessor creates the agent transfer request processor.
func NewAgentTransferProcessor() *AgentTransferProcessor {
	return &AgentTransferProcessor{transferTool: tool.NewTransferToAgentTool()}
}

// Name implements RequestProcessor.
func (p *AgentTransferProcessor) Name() string { return "agent_transfer" }

// ProcessRequest implements RequestProcessor.
func (p *AgentTransferProcessor) ProcessRequest(ictx *core.InvocationContext, req *Request, agent FlowAgent) ([]*core.Event, error) {
	targets := TransferTargets(agent)
	if len(targets) == 0 {
		return nil, nil
	}

	req.AppendInstructions(buildTransferInstructions(agent, targets))

	if err := req.AddTool(core.NewToolContext(ictx, "", nil), p.transferTool); err != nil {
		return nil, err
	}

	return nil, nil
}

// TransferTargets returns the agents agent may transfer to: its sub-agents,
// its parent and its peers. Parent and peers are only reachable when the
// parent is itself model driven and the agent does not disallow them.
func TransferTargets(agent FlowAgent) []core.Agent {
	targets := append([]core.Agent(nil), agent.SubAgents()...)

	parent, ok := agent.Parent().(FlowAgent)
	if !ok {
		return targets
	}

	if !agent.DisallowTransferToParent() {
		targets = append(targets, parent)
	}

	if !agent.DisallowTransferToPeers() {
		for _, peer := range parent.SubAgents() {
			if peer.Name() != agent.Name() {
				targets = append(targets, peer)
			}
		}
	}

	return targets
}

func buildTransferInstructions(agent FlowAgent, targets []core.Agent) string {
	var sb strings.Builder

	sb.WriteString("You have a list of other agents to transfer to:\n\n")

	for _, t := range targets {
		fmt.Fprintf(&sb, "Agent name: %s\nAgent description: %s\n\n", t.Name(), t.Description())
	}

	fmt.Fprintf(&sb, `If you are the best to answer the question according to your description, you
can answer it.

If another agent is better for answering the question according to its
description, call `+"`%s`"+` function to transfer the
question to that agent. When transferring, do not generate any text other than
the function call.
`, tool.TransferToAgentName)

	if parent := agent.Parent(); parent != nil {
		fmt.Fprintf(&sb, `
Your parent agent is %s. If neither the other agents nor
you are best for answering the question according to the descriptions, transfer
to your parent agent. If you don't have parent agent, try answer by yourself.
`, parent.Name())
	}

	return sb.String()
}
