package flow

// SingleAgentFlow runs an agent that cannot hand the conversation to other
// agents. It wires the processors for model settings, credential
// resumption, instructions, identity and history.
type SingleAgentFlow struct{ *BaseFlow }

// NewSingleAgentFlow creates a flow for an isolated agent.
func NewSingleAgentFlow(optFns ...func(o *BaseFlowOptions)) *SingleAgentFlow {
	baseFlow := NewBaseFlow(optFns...)

	baseFlow.AddRequestProcessor(
		NewBasicProcessor(),
		NewAuthProcessor(),
		NewInstructionsProcessor(),
		NewIdentityProcessor(),
		NewContentsProcessor(),
	)

	return &SingleAgentFlow{BaseFlow: baseFlow}
}
