package flow

// MultiAgentFlow extends SingleAgentFlow with agent transfer: the model is
// told about its sub-agents, parent and peers and may call
// transfer_to_agent to hand over the conversation.
type MultiAgentFlow struct{ *BaseFlow }

// NewMultiAgentFlow creates a flow for an agent that is part of a tree.
func NewMultiAgentFlow(optFns ...func(o *BaseFlowOptions)) *MultiAgentFlow {
	baseFlow := NewSingleAgentFlow(optFns...).BaseFlow

	// Transfer instructions go last so they follow the agent's own.
	baseFlow.AddRequestProcessor(NewAgentTransferProcessor())

	return &MultiAgentFlow{BaseFlow: baseFlow}
}
