package flow

// Selector determines which flow to use based on agent capabilities.
type Selector struct {
	optFns []func(o *BaseFlowOptions)
}

// NewSelector creates a new flow selector. The options are passed to every
// flow it creates.
func NewSelector(optFns ...func(o *BaseFlowOptions)) *Selector {
	return &Selector{optFns: optFns}
}

// SelectFlow chooses the appropriate flow for the given agent:
//   - SingleAgentFlow for agents without sub-agents that may neither
//     transfer to their parent nor to their peers
//   - MultiAgentFlow otherwise
func (s *Selector) SelectFlow(agent FlowAgent) Flow {
	if agent.DisallowTransferToParent() && agent.DisallowTransferToPeers() && len(agent.SubAgents()) == 0 {
		return NewSingleAgentFlow(s.optFns...)
	}

	return NewMultiAgentFlow(s.optFns...)
}
