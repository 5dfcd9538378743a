package flow

import (
	"fmt"
	"maps"

	"github.com/hupe1980/agentflow/core"
	"github.com/hupe1980/agentflow/internal/util"
)

// BasicProcessor sets the model name and the generation settings.
type BasicProcessor struct{}

// NewBasicProcessor creates the basic request processor.
func NewBasicProcessor() *BasicProcessor { return &BasicProcessor{} }

// Name implements RequestProcessor.
func (p *BasicProcessor) Name() string { return "basic" }

// ProcessRequest implements RequestProcessor.
func (p *BasicProcessor) ProcessRequest(ictx *core.InvocationContext, req *Request, agent FlowAgent) ([]*core.Event, error) {
	if m := agent.Model(); m != nil {
		req.Model = m.Info().Name
	}

	cfg := agent.GenerateConfig()
	cfg.Labels = maps.Clone(cfg.Labels)

	rc := ictx.RunConfig
	if len(rc.ResponseModalities) > 0 {
		cfg.ResponseModalities = append([]string(nil), rc.ResponseModalities...)
	}

	cfg.InputAudioTranscription = cfg.InputAudioTranscription || rc.InputAudioTranscription
	cfg.OutputAudioTranscription = cfg.OutputAudioTranscription || rc.OutputAudioTranscription
	req.Config = cfg

	return nil, nil
}

// InstructionsProcessor adds the global instruction of the root agent and
// the instruction of the running agent, rendered over session state.
type InstructionsProcessor struct{}

// NewInstructionsProcessor creates the instructions request processor.
func NewInstructionsProcessor() *InstructionsProcessor { return &InstructionsProcessor{} }

// Name implements RequestProcessor.
func (p *InstructionsProcessor) Name() string { return "instructions" }

// ProcessRequest implements RequestProcessor.
func (p *InstructionsProcessor) ProcessRequest(ictx *core.InvocationContext, req *Request, agent FlowAgent) ([]*core.Event, error) {
	cc := core.NewCallbackContext(ictx, nil)

	if root, ok := core.RootAgent(agent).(FlowAgent); ok {
		text, bypass, err := root.GlobalInstruction(cc)
		if err != nil {
			return nil, fmt.Errorf("global instruction: %w", err)
		}

		if text, err = renderInstruction(cc, text, bypass); err != nil {
			return nil, fmt.Errorf("global instruction: %w", err)
		}

		req.AppendInstructions(text)
	}

	text, bypass, err := agent.Instruction(cc)
	if err != nil {
		return nil, fmt.Errorf("instruction: %w", err)
	}

	if text, err = renderInstruction(cc, text, bypass); err != nil {
		return nil, fmt.Errorf("instruction: %w", err)
	}

	req.AppendInstructions(text)

	return nil, nil
}

// renderInstruction injects {key} placeholders and then renders the text as
// a template over the merged state.
func renderInstruction(cc *core.CallbackContext, text string, bypass bool) (string, error) {
	if text == "" || bypass {
		return text, nil
	}

	state := cc.State().ToMap()

	out, err := util.InjectState(text, state, func(name string) (string, error) {
		part, err := cc.LoadArtifact(name, -1)
		if err != nil {
			return "", err
		}

		if tp, ok := part.(core.TextPart); ok {
			return tp.Text, nil
		}

		return "", fmt.Errorf("artifact %s is not text", name)
	})
	if err != nil {
		return "", err
	}

	return util.RenderTemplate(out, state)
}

// IdentityProcessor tells the model which agent it plays.
type IdentityProcessor struct{}

// NewIdentityProcessor creates the identity request processor.
func NewIdentityProcessor() *IdentityProcessor { return &IdentityProcessor{} }

// Name implements RequestProcessor.
func (p *IdentityProcessor) Name() string { return "identity" }

// ProcessRequest implements RequestProcessor.
func (p *IdentityProcessor) ProcessRequest(_ *core.InvocationContext, req *Request, agent FlowAgent) ([]*core.Event, error) {
	si := fmt.Sprintf("You are an agent. Your internal name is %q.", agent.Name())
	if d := agent.Description(); d != "" {
		si += fmt.Sprintf(" The description about you is %q.", d)
	}

	req.AppendInstructions(si)

	return nil, nil
}

// ContentsProcessor fills the request contents from the reconciled session
// history.
type ContentsProcessor struct{}

// NewContentsProcessor creates the contents request processor.
func NewContentsProcessor() *ContentsProcessor { return &ContentsProcessor{} }

// Name implements RequestProcessor.
func (p *ContentsProcessor) Name() string { return "contents" }

// ProcessRequest implements RequestProcessor.
func (p *ContentsProcessor) ProcessRequest(ictx *core.InvocationContext, req *Request, agent FlowAgent) ([]*core.Event, error) {
	if ictx.Session == nil {
		return nil, nil
	}

	build := BuildContents
	if !agent.IncludeContents() {
		build = BuildCurrentTurnContents
	}

	contents, err := build(ictx.Branch, ictx.Session.Events(), agent.Name())
	if err != nil {
		return nil, err
	}

	req.Contents = contents

	return nil, nil
}
