package core

import "iter"

// Agent defines the interface implemented by every node of an agent tree.
//
// RunAsync and RunLive return lazy event streams. Consumers range over them;
// a non-nil error is yielded once as the final element and ends the stream.
// Breaking out of the range loop cancels the remaining work.
//
// Parent is a non-owning back reference: children are owned by their parent
// through SubAgents, and an agent can have at most one parent.
type Agent interface {
	Name() string
	Description() string
	Parent() Agent
	SubAgents() []Agent
	FindAgent(name string) Agent
	RunAsync(ictx *InvocationContext) iter.Seq2[*Event, error]
	RunLive(ictx *InvocationContext) iter.Seq2[*Event, error]
}

// RootAgent walks parent references up to the tree root.
func RootAgent(a Agent) Agent {
	if a == nil {
		return nil
	}

	for a.Parent() != nil {
		a = a.Parent()
	}

	return a
}

// ErrorSeq returns a stream yielding only err.
func ErrorSeq(err error) iter.Seq2[*Event, error] {
	return func(yield func(*Event, error) bool) {
		yield(nil, err)
	}
}
