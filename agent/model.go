package agent

import (
	"iter"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/hupe1980/agentflow/core"
	"github.com/hupe1980/agentflow/flow"
	"github.com/hupe1980/agentflow/model"
	"github.com/hupe1980/agentflow/telemetry"
	"github.com/hupe1980/agentflow/tool"
)

// ModelAgentOptions configures a ModelAgent instance.
//
// Use functional options with NewModelAgent to override defaults.
type ModelAgentOptions struct {
	Description string

	// Instruction is rendered over session state unless it comes from a
	// Provider.
	Instruction Instruction
	// GlobalInstruction applies to every agent of the tree. Only the root
	// agent's value is used.
	GlobalInstruction Instruction

	Tools          []tool.Tool
	GenerateConfig model.GenerateConfig

	// ExcludeContents sends only the current turn instead of the whole
	// visible history.
	ExcludeContents bool

	// OutputKey, when set, stores the text of the agent's final response in
	// session state under this key.
	OutputKey string

	DisallowTransferToParent bool
	DisallowTransferToPeers  bool

	BeforeAgentCallbacks []BeforeAgentCallback
	AfterAgentCallbacks  []AfterAgentCallback
	BeforeModelCallbacks []flow.BeforeModelCallback
	AfterModelCallbacks  []flow.AfterModelCallback
	BeforeToolCallbacks  []flow.BeforeToolCallback
	AfterToolCallbacks   []flow.AfterToolCallback

	// Transcriber replays cached live input on reconnect.
	Transcriber flow.Transcriber
	// Telemetry defaults to telemetry.Default().
	Telemetry *telemetry.Telemetry
}

// ModelAgent integrates with language models to provide intelligent text
// processing capabilities. It is driven by a flow chosen from its transfer
// settings: agents that can neither delegate nor hand back run a single
// agent flow, all others can call transfer_to_agent.
type ModelAgent struct {
	BaseAgent

	llm               model.Model
	globalInstruction Instruction
	generateConfig    model.GenerateConfig
	excludeContents   bool
	outputKey         string
	disallowParent    bool
	disallowPeers     bool

	beforeModel []flow.BeforeModelCallback
	afterModel  []flow.AfterModelCallback
	beforeTool  []flow.BeforeToolCallback
	afterTool   []flow.AfterToolCallback

	selector *flow.Selector

	configMu    sync.RWMutex
	instruction Instruction
	tools       []tool.Tool
}

// NewModelAgent creates a new model-based agent.
//
// Parameters:
//   - name: Human-readable name, also used as event author
//   - llm: Language model implementation for text generation
func NewModelAgent(name string, llm model.Model, optFns ...func(o *ModelAgentOptions)) *ModelAgent {
	opts := ModelAgentOptions{}

	for _, fn := range optFns {
		fn(&opts)
	}

	a := &ModelAgent{
		BaseAgent: newBaseAgent(name, BaseAgentOptions{
			Description:          opts.Description,
			BeforeAgentCallbacks: opts.BeforeAgentCallbacks,
			AfterAgentCallbacks:  opts.AfterAgentCallbacks,
			Telemetry:            opts.Telemetry,
		}),
		llm:               llm,
		instruction:       opts.Instruction,
		globalInstruction: opts.GlobalInstruction,
		tools:             slices.Clone(opts.Tools),
		generateConfig:    opts.GenerateConfig,
		excludeContents:   opts.ExcludeContents,
		outputKey:         opts.OutputKey,
		disallowParent:    opts.DisallowTransferToParent,
		disallowPeers:     opts.DisallowTransferToPeers,
		beforeModel:       opts.BeforeModelCallbacks,
		afterModel:        opts.AfterModelCallbacks,
		beforeTool:        opts.BeforeToolCallbacks,
		afterTool:         opts.AfterToolCallbacks,
		selector: flow.NewSelector(func(o *flow.BaseFlowOptions) {
			o.Transcriber = opts.Transcriber
			o.Telemetry = opts.Telemetry
		}),
	}

	a.bind(a)

	return a
}

// RegisterTool adds a tool to the agent's capability set. A tool with the
// same name is replaced.
func (a *ModelAgent) RegisterTool(t tool.Tool) {
	a.configMu.Lock()
	defer a.configMu.Unlock()

	a.tools = slices.DeleteFunc(a.tools, func(existing tool.Tool) bool { return existing.Name() == t.Name() })
	a.tools = append(a.tools, t)
}

// RegisterTools adds several tools.
func (a *ModelAgent) RegisterTools(tools ...tool.Tool) {
	for _, t := range tools {
		a.RegisterTool(t)
	}
}

// HasTool reports whether a tool with the given name is registered.
func (a *ModelAgent) HasTool(name string) bool {
	a.configMu.RLock()
	defer a.configMu.RUnlock()

	return slices.ContainsFunc(a.tools, func(t tool.Tool) bool { return t.Name() == name })
}

// OutputKey returns the state key the final response is saved under.
func (a *ModelAgent) OutputKey() string { return a.outputKey }

// Model implements flow.FlowAgent.
func (a *ModelAgent) Model() model.Model { return a.llm }

// Instruction implements flow.FlowAgent.
func (a *ModelAgent) Instruction(cc *core.CallbackContext) (string, bool, error) {
	a.configMu.RLock()
	inst := a.instruction
	a.configMu.RUnlock()

	return inst.Resolve(cc)
}

// GlobalInstruction implements flow.FlowAgent.
func (a *ModelAgent) GlobalInstruction(cc *core.CallbackContext) (string, bool, error) {
	return a.globalInstruction.Resolve(cc)
}

// Tools implements flow.FlowAgent.
func (a *ModelAgent) Tools(*core.CallbackContext) ([]tool.Tool, error) {
	a.configMu.RLock()
	defer a.configMu.RUnlock()

	return slices.Clone(a.tools), nil
}

// GenerateConfig implements flow.FlowAgent.
func (a *ModelAgent) GenerateConfig() model.GenerateConfig {
	cfg := a.generateConfig
	cfg.Labels = maps.Clone(cfg.Labels)
	cfg.ResponseModalities = slices.Clone(cfg.ResponseModalities)

	return cfg
}

// IncludeContents implements flow.FlowAgent.
func (a *ModelAgent) IncludeContents() bool { return !a.excludeContents }

// DisallowTransferToParent implements flow.FlowAgent.
func (a *ModelAgent) DisallowTransferToParent() bool { return a.disallowParent }

// DisallowTransferToPeers implements flow.FlowAgent.
func (a *ModelAgent) DisallowTransferToPeers() bool { return a.disallowPeers }

// BeforeModelCallbacks implements flow.FlowAgent.
func (a *ModelAgent) BeforeModelCallbacks() []flow.BeforeModelCallback { return a.beforeModel }

// AfterModelCallbacks implements flow.FlowAgent.
func (a *ModelAgent) AfterModelCallbacks() []flow.AfterModelCallback { return a.afterModel }

// BeforeToolCallbacks implements flow.ToolCallbacks.
func (a *ModelAgent) BeforeToolCallbacks() []flow.BeforeToolCallback { return a.beforeTool }

// AfterToolCallbacks implements flow.ToolCallbacks.
func (a *ModelAgent) AfterToolCallbacks() []flow.AfterToolCallback { return a.afterTool }

// RunAsync implements core.Agent.
func (a *ModelAgent) RunAsync(ictx *core.InvocationContext) iter.Seq2[*core.Event, error] {
	return a.runAsync(ictx, func(ictx *core.InvocationContext) iter.Seq2[*core.Event, error] {
		return a.withOutputKey(a.selector.SelectFlow(a).RunAsync(ictx))
	})
}

// RunLive implements core.Agent.
func (a *ModelAgent) RunLive(ictx *core.InvocationContext) iter.Seq2[*core.Event, error] {
	return a.runLive(ictx, func(ictx *core.InvocationContext) iter.Seq2[*core.Event, error] {
		return a.withOutputKey(a.selector.SelectFlow(a).RunLive(ictx))
	})
}

// withOutputKey records the text of final responses authored by this agent
// into the event's state delta.
func (a *ModelAgent) withOutputKey(seq iter.Seq2[*core.Event, error]) iter.Seq2[*core.Event, error] {
	if a.outputKey == "" {
		return seq
	}

	return func(yield func(*core.Event, error) bool) {
		for ev, err := range seq {
			if err == nil && ev.Author == a.Name() && ev.IsFinalResponse() && ev.Content != nil && len(ev.Content.Parts) > 0 {
				if ev.Actions.StateDelta == nil {
					ev.Actions.StateDelta = map[string]any{}
				}

				ev.Actions.StateDelta[a.outputKey] = finalText(ev.Content)
			}

			if !yield(ev, err) {
				return
			}
		}
	}
}

// finalText joins the non-thought text parts of c.
func finalText(c *core.Content) string {
	var sb strings.Builder

	for _, p := range c.Parts {
		if tp, ok := p.(core.TextPart); ok && !tp.Thought {
			sb.WriteString(tp.Text)
		}
	}

	return sb.String()
}

// enableTaskCompletion lets the agent end its live turn inside a sequence by
// calling task_completed. It is idempotent.
func (a *ModelAgent) enableTaskCompletion() {
	a.configMu.Lock()
	defer a.configMu.Unlock()

	if slices.ContainsFunc(a.tools, func(t tool.Tool) bool { return t.Name() == tool.TaskCompletedName }) {
		return
	}

	a.tools = append(a.tools, tool.NewTaskCompletedTool())
	a.instruction = withTaskCompletedInstruction(a.instruction)
}

func withTaskCompletedInstruction(inst Instruction) Instruction {
	if inst.IsStatic() {
		if inst.text == "" {
			return NewInstructionFromText(tool.TaskCompletedInstruction)
		}

		return NewInstructionFromText(inst.text + "\n\n" + tool.TaskCompletedInstruction)
	}

	return NewInstructionFromFunc(func(cc *core.CallbackContext) (string, error) {
		text, err := inst.provider.Instruction(cc)
		if err != nil {
			return "", err
		}

		return text + "\n\n" + tool.TaskCompletedInstruction, nil
	})
}

var _ flow.FlowAgent = (*ModelAgent)(nil)
