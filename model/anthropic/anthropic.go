// Package anthropic provides a model wrapper for the Anthropic Claude API.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/hupe1980/agentflow/core"
	"github.com/hupe1980/agentflow/model"
)

// DefaultModel is the model used when Options.Model is empty.
const DefaultModel = "claude-sonnet-4-5"

// MessagesClient is the subset of the SDK's messages service used by Model.
// *anthropic.MessageService satisfies it.
type MessagesClient interface {
	New(ctx context.Context, body anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
	NewStreaming(ctx context.Context, body anthropic.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[anthropic.MessageStreamEventUnion]
}

// Options configures the Anthropic model adapter (temperature, model id,
// max tokens, API key). Request level GenerateConfig values take precedence.
type Options struct {
	Model       string
	Temperature float64
	MaxTokens   int64
	APIKey      string
}

// Model wraps the Anthropic Messages API behind the generic model.Model interface.
type Model struct {
	client MessagesClient
	opts   Options
}

// NewModel creates a new Anthropic model using the official client.
func NewModel(optFns ...func(o *Options)) *Model {
	opts := defaultOptions(optFns)

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}

	client := anthropic.NewClient(clientOpts...)

	return &Model{client: &client.Messages, opts: opts}
}

// NewModelFromClient creates a new Anthropic model from an existing
// messages client.
func NewModelFromClient(client MessagesClient, optFns ...func(o *Options)) *Model {
	return &Model{client: client, opts: defaultOptions(optFns)}
}

func defaultOptions(optFns []func(o *Options)) Options {
	opts := Options{
		Model:       DefaultModel,
		Temperature: 0.7,
		MaxTokens:   4096,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return opts
}

// Info returns metadata describing this Anthropic model implementation.
func (m *Model) Info() model.Info {
	return model.Info{
		Name:          m.opts.Model,
		Provider:      "anthropic",
		SupportsTools: true,
	}
}

// Generate implements unified streaming / non-streaming generation.
func (m *Model) Generate(ctx context.Context, req model.Request) (<-chan model.Response, <-chan error) {
	out := make(chan model.Response, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		params, err := m.buildParams(req)
		if err != nil {
			errCh <- err
			return
		}

		if req.Stream {
			err = m.handleStreaming(ctx, params, out)
		} else {
			err = m.handleNonStreaming(ctx, params, out)
		}

		if err != nil {
			errCh <- err
		}
	}()

	return out, errCh
}

func (m *Model) buildParams(req model.Request) (anthropic.MessageNewParams, error) {
	messages, err := buildMessages(req.Contents)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}

	name := m.opts.Model
	if req.Model != "" {
		name = req.Model
	}

	maxTokens := m.opts.MaxTokens
	if req.Config.MaxOutputTokens > 0 {
		maxTokens = req.Config.MaxOutputTokens
	}

	temperature := m.opts.Temperature
	if req.Config.Temperature != nil {
		temperature = *req.Config.Temperature
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(name),
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: anthropic.Float(temperature),
	}

	if strings.TrimSpace(req.Instructions) != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.Instructions}}
	}

	if len(req.Tools) > 0 {
		params.Tools = buildTools(req.Tools)
	}

	return params, nil
}

// buildMessages converts contents to Anthropic messages. Function calls
// become tool_use blocks of assistant messages, function responses
// tool_result blocks of user messages.
func buildMessages(contents []*core.Content) ([]anthropic.MessageParam, error) {
	var messages []anthropic.MessageParam

	for _, c := range contents {
		if c == nil {
			continue
		}

		var blocks []anthropic.ContentBlockParamUnion

		for _, p := range c.Parts {
			switch part := p.(type) {
			case core.TextPart:
				if part.Text != "" && !part.Thought {
					blocks = append(blocks, anthropic.NewTextBlock(part.Text))
				}
			case core.FunctionCallPart:
				input := part.FunctionCall.Args
				if input == nil {
					input = map[string]any{}
				}

				blocks = append(blocks, anthropic.NewToolUseBlock(part.FunctionCall.ID, input, part.FunctionCall.Name))
			case core.FunctionResponsePart:
				payload, err := json.Marshal(part.FunctionResponse.Response)
				if err != nil {
					return nil, fmt.Errorf("anthropic: encode response of %s: %w", part.FunctionResponse.Name, err)
				}

				_, isError := part.FunctionResponse.Response["error"]
				blocks = append(blocks, anthropic.NewToolResultBlock(part.FunctionResponse.ID, string(payload), isError))
			}
		}

		if len(blocks) == 0 {
			continue
		}

		if c.Role == core.RoleModel {
			messages = append(messages, anthropic.NewAssistantMessage(blocks...))
		} else {
			messages = append(messages, anthropic.NewUserMessage(blocks...))
		}
	}

	if len(messages) == 0 {
		return nil, errors.New("anthropic: at least one user/assistant message is required")
	}

	return messages, nil
}

// buildTools converts function definitions to Anthropic tools. The JSON
// schema is passed through unchanged.
func buildTools(defs []model.ToolDefinition) []anthropic.ToolUnionParam {
	tools := make([]anthropic.ToolUnionParam, 0, len(defs))

	for _, def := range defs {
		schema := anthropic.ToolInputSchemaParam{ExtraFields: def.Function.Parameters}

		u := anthropic.ToolUnionParamOfTool(schema, def.Function.Name)
		if u.OfTool != nil && def.Function.Description != "" {
			u.OfTool.Description = anthropic.String(def.Function.Description)
		}

		tools = append(tools, u)
	}

	return tools
}

func (m *Model) handleNonStreaming(ctx context.Context, params anthropic.MessageNewParams, out chan<- model.Response) error {
	msg, err := m.client.New(ctx, params)
	if err != nil {
		return fmt.Errorf("anthropic api error: %w", err)
	}

	content := &core.Content{Role: core.RoleModel}

	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			if block.Text != "" {
				content.Parts = append(content.Parts, core.TextPart{Text: block.Text})
			}
		case "thinking":
			if block.Thinking != "" {
				content.Parts = append(content.Parts, core.TextPart{Text: block.Thinking, Thought: true})
			}
		case "tool_use":
			fc, err := functionCall(block.ID, block.Name, string(block.Input))
			if err != nil {
				return err
			}

			content.Parts = append(content.Parts, fc)
		}
	}

	send(ctx, out, model.Response{
		Content:      content,
		FinishReason: string(msg.StopReason),
		Usage:        usage(msg.Usage.InputTokens, msg.Usage.OutputTokens),
	})

	return nil
}

// toolBuffer accumulates the streamed input of one tool_use block.
type toolBuffer struct {
	id, name  string
	fragments []string
}

// handleStreaming forwards text and thinking deltas as partial responses.
// Tool calls are assembled per content block and sent together with the
// stop reason once the message ends.
func (m *Model) handleStreaming(ctx context.Context, params anthropic.MessageNewParams, out chan<- model.Response) error {
	stream := m.client.NewStreaming(ctx, params)
	defer func() { _ = stream.Close() }()

	var (
		text       strings.Builder
		toolBlocks = map[int64]*toolBuffer{}
		calls      []core.Part
		stopReason string
		tokens     *model.TokenUsage
	)

	for stream.Next() {
		switch ev := stream.Current().AsAny().(type) {
		case anthropic.ContentBlockStartEvent:
			if toolUse, ok := ev.ContentBlock.AsAny().(anthropic.ToolUseBlock); ok {
				toolBlocks[ev.Index] = &toolBuffer{id: toolUse.ID, name: toolUse.Name}
			}
		case anthropic.ContentBlockDeltaEvent:
			switch delta := ev.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				if delta.Text == "" {
					continue
				}

				text.WriteString(delta.Text)

				if !send(ctx, out, model.Response{Partial: true, Content: core.NewTextContent(core.RoleModel, delta.Text)}) {
					return ctx.Err()
				}
			case anthropic.ThinkingDelta:
				if delta.Thinking == "" {
					continue
				}

				if !send(ctx, out, model.Response{Partial: true, Content: &core.Content{
					Role:  core.RoleModel,
					Parts: []core.Part{core.TextPart{Text: delta.Thinking, Thought: true}},
				}}) {
					return ctx.Err()
				}
			case anthropic.InputJSONDelta:
				if tb := toolBlocks[ev.Index]; tb != nil {
					tb.fragments = append(tb.fragments, delta.PartialJSON)
				}
			}
		case anthropic.ContentBlockStopEvent:
			tb := toolBlocks[ev.Index]
			if tb == nil {
				continue
			}

			delete(toolBlocks, ev.Index)

			fc, err := functionCall(tb.id, tb.name, strings.Join(tb.fragments, ""))
			if err != nil {
				return err
			}

			calls = append(calls, fc)
		case anthropic.MessageDeltaEvent:
			stopReason = string(ev.Delta.StopReason)
			tokens = usage(ev.Usage.InputTokens, ev.Usage.OutputTokens)
		}
	}

	if err := stream.Err(); err != nil {
		return fmt.Errorf("anthropic streaming error: %w", err)
	}

	final := model.Response{FinishReason: stopReason, Usage: tokens}

	switch {
	case len(calls) > 0:
		final.Content = &core.Content{Role: core.RoleModel, Parts: calls}
	case text.Len() > 0:
		final.Content = core.NewTextContent(core.RoleModel, text.String())
	default:
		return nil
	}

	send(ctx, out, final)

	return nil
}

func functionCall(id, name, input string) (core.FunctionCallPart, error) {
	var args map[string]any

	if strings.TrimSpace(input) != "" {
		if err := json.Unmarshal([]byte(input), &args); err != nil {
			return core.FunctionCallPart{}, fmt.Errorf("anthropic: decode input of %s: %w", name, err)
		}
	}

	return core.FunctionCallPart{FunctionCall: core.FunctionCall{ID: id, Name: name, Args: args}}, nil
}

func usage(input, output int64) *model.TokenUsage {
	if input == 0 && output == 0 {
		return nil
	}

	return &model.TokenUsage{
		PromptTokens:     int(input),
		CompletionTokens: int(output),
		TotalTokens:      int(input + output),
	}
}

func send(ctx context.Context, out chan<- model.Response, r model.Response) bool {
	select {
	case <-ctx.Done():
		return false
	case out <- r:
		return true
	}
}
