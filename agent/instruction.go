package agent

import "github.com/hupe1980/agentflow/core"

// Provider supplies dynamic instruction text at runtime.
// Implementations can derive instructions from session state, environment, etc.
// Provided text is used verbatim and never rendered over state.
type Provider interface {
	Instruction(cc *core.CallbackContext) (string, error)
}

// Func is a functional adapter to allow ordinary functions to be used as Providers.
type Func func(cc *core.CallbackContext) (string, error)

// Instruction implements Provider.
func (f Func) Instruction(cc *core.CallbackContext) (string, error) { return f(cc) }

// Instruction represents either a static instruction string or a dynamic provider.
// Static text is a template: {key} placeholders and {{ }} actions are
// rendered over session state before the model call.
type Instruction struct {
	text     string
	provider Provider
}

// NewInstructionFromText creates an Instruction from a static string.
func NewInstructionFromText(text string) Instruction { return Instruction{text: text} }

// NewInstructionFromProvider creates an Instruction from a dynamic provider.
func NewInstructionFromProvider(p Provider) Instruction { return Instruction{provider: p} }

// NewInstructionFromFunc creates an Instruction from a function.
func NewInstructionFromFunc(f func(cc *core.CallbackContext) (string, error)) Instruction {
	return Instruction{provider: Func(f)}
}

// IsStatic returns true if the instruction is backed by a static string.
func (i Instruction) IsStatic() bool { return i.provider == nil }

// IsZero reports whether no instruction was configured.
func (i Instruction) IsZero() bool { return i.provider == nil && i.text == "" }

// Resolve returns the instruction text, invoking the provider if needed.
// bypassState is true for provider output.
func (i Instruction) Resolve(cc *core.CallbackContext) (text string, bypassState bool, err error) {
	if i.provider != nil {
		text, err = i.provider.Instruction(cc)
		return text, true, err
	}

	return i.text, false, nil
}
