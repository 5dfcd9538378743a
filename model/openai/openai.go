// Package openai provides an implementation of model.Model using the OpenAI
// Chat Completions API (including streaming + function/tool calling). It
// adapts agentflow's normalized Request/Response structures into the SDK's
// message format and back.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"

	"github.com/hupe1980/agentflow/core"
	"github.com/hupe1980/agentflow/model"
)

// ChatCompletionsClient is the subset of the SDK's chat completion service
// used by Model. *openai.ChatCompletionService satisfies it.
type ChatCompletionsClient interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
	NewStreaming(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) *ssestream.Stream[openai.ChatCompletionChunk]
}

// aggCall aggregates partial tool call streaming deltas (id, name, arguments)
// allowing reconstruction of complete function calls when the finish reason
// is emitted.
type aggCall struct{ id, name, args string }

// Options configure the OpenAI model adapter. Request level GenerateConfig
// values take precedence.
type Options struct {
	Model               string
	Temperature         float64
	MaxCompletionTokens int64
}

// Model wraps the OpenAI Chat Completions API behind the generic model.Model interface.
type Model struct {
	client ChatCompletionsClient
	opts   Options
}

// NewModel creates a new OpenAI model using the official client configured
// from the environment (OPENAI_API_KEY).
func NewModel(optFns ...func(o *Options)) *Model {
	client := openai.NewClient()
	return NewModelFromClient(&client.Chat.Completions, optFns...)
}

// NewModelFromClient creates a new OpenAI model from an existing chat
// completions client.
func NewModelFromClient(client ChatCompletionsClient, optFns ...func(o *Options)) *Model {
	opts := Options{
		Model:               openai.ChatModelGPT4oMini,
		Temperature:         0.7,
		MaxCompletionTokens: 4096,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Model{client: client, opts: opts}
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

// Info returns metadata describing this OpenAI model implementation.
func (m *Model) Info() model.Info {
	return model.Info{
		Name:          m.opts.Model,
		Provider:      "openai",
		SupportsTools: true,
	}
}

// buildParams assembles the OpenAI request parameters including tool definitions.
func (m *Model) buildParams(req model.Request) (openai.ChatCompletionNewParams, error) {
	messages, err := buildMessages(req)
	if err != nil {
		return openai.ChatCompletionNewParams{}, err
	}

	name := m.opts.Model
	if req.Model != "" {
		name = req.Model
	}

	temperature := m.opts.Temperature
	if req.Config.Temperature != nil {
		temperature = *req.Config.Temperature
	}

	maxTokens := m.opts.MaxCompletionTokens
	if req.Config.MaxOutputTokens > 0 {
		maxTokens = req.Config.MaxOutputTokens
	}

	params := openai.ChatCompletionNewParams{
		Messages:            messages,
		Model:               name,
		Temperature:         openai.Float(temperature),
		MaxCompletionTokens: openai.Int(maxTokens),
	}

	if len(req.Tools) == 0 {
		return params, nil
	}

	tools := make([]openai.ChatCompletionToolParam, len(req.Tools))
	for i, tdef := range req.Tools {
		tools[i] = openai.ChatCompletionToolParam{
			Type: "function",
			Function: openai.FunctionDefinitionParam{
				Name:        tdef.Function.Name,
				Description: openai.String(tdef.Function.Description),
				Parameters:  tdef.Function.Parameters,
			},
		}
	}

	params.Tools = tools

	return params, nil
}

// buildMessages converts normalized contents into OpenAI chat messages.
// Function responses become tool messages placed where the user turn
// carrying them sits, right after the assistant message that called them.
func buildMessages(req model.Request) ([]openai.ChatCompletionMessageParamUnion, error) {
	var messages []openai.ChatCompletionMessageParamUnion

	if strings.TrimSpace(req.Instructions) != "" {
		messages = append(messages, openai.SystemMessage(req.Instructions))
	}

	for _, c := range req.Contents {
		if c == nil {
			continue
		}

		var (
			text      strings.Builder
			toolCalls []openai.ChatCompletionMessageToolCallParam
			results   []openai.ChatCompletionMessageParamUnion
		)

		for _, p := range c.Parts {
			switch part := p.(type) {
			case core.TextPart:
				if !part.Thought {
					text.WriteString(part.Text)
				}
			case core.FunctionCallPart:
				args, err := json.Marshal(part.FunctionCall.Args)
				if err != nil {
					return nil, fmt.Errorf("encode arguments of %s: %w", part.FunctionCall.Name, err)
				}

				toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCallParam{
					ID:   part.FunctionCall.ID,
					Type: "function",
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      part.FunctionCall.Name,
						Arguments: string(args),
					},
				})
			case core.FunctionResponsePart:
				payload, err := json.Marshal(part.FunctionResponse.Response)
				if err != nil {
					return nil, fmt.Errorf("encode response of %s: %w", part.FunctionResponse.Name, err)
				}

				results = append(results, openai.ToolMessage(string(payload), part.FunctionResponse.ID))
			}
		}

		switch {
		case c.Role == core.RoleModel && len(toolCalls) > 0:
			msg := openai.ChatCompletionMessageParamUnion{OfAssistant: &openai.ChatCompletionAssistantMessageParam{
				Role:      "assistant",
				ToolCalls: toolCalls,
			}}
			if text.Len() > 0 {
				msg.OfAssistant.Content.OfString = openai.String(text.String())
			}

			messages = append(messages, msg)
		case c.Role == core.RoleModel:
			if text.Len() > 0 {
				messages = append(messages, openai.AssistantMessage(text.String()))
			}
		default:
			messages = append(messages, results...)
			if text.Len() > 0 {
				messages = append(messages, openai.UserMessage(text.String()))
			}
		}
	}

	if len(messages) == 0 {
		return nil, errors.New("openai: at least one message is required")
	}

	return messages, nil
}

// handleStreaming forwards text deltas as partial responses. Tool calls are
// assembled from their deltas and sent with the finish reason.
func (m *Model) handleStreaming(ctx context.Context, params openai.ChatCompletionNewParams, out chan<- model.Response) error {
	stream := m.client.NewStreaming(ctx, params)
	defer func() { _ = stream.Close() }()

	var (
		text    strings.Builder
		toolAgg = map[int64]*aggCall{}
		usage   *model.TokenUsage
		finish  string
	)

	for stream.Next() {
		ck := stream.Current()

		if ck.Usage.TotalTokens > 0 {
			usage = convertUsage(ck.Usage)
		}

		for _, ch := range ck.Choices {
			if ch.Delta.Content != "" {
				text.WriteString(ch.Delta.Content)

				if !send(ctx, out, model.Response{
					Partial: true,
					Content: core.NewTextContent(core.RoleModel, ch.Delta.Content),
				}) {
					return ctx.Err()
				}
			}

			for _, tc := range ch.Delta.ToolCalls {
				ac, ok := toolAgg[tc.Index]
				if !ok {
					ac = &aggCall{}
					toolAgg[tc.Index] = ac
				}

				if tc.ID != "" {
					ac.id = tc.ID
				}

				if tc.Function.Name != "" {
					ac.name = tc.Function.Name
				}

				ac.args += tc.Function.Arguments
			}

			if ch.FinishReason != "" {
				finish = ch.FinishReason
			}
		}
	}

	if err := stream.Err(); err != nil {
		return fmt.Errorf("openai streaming error: %w", err)
	}

	final := model.Response{FinishReason: finish, Usage: usage}

	if len(toolAgg) == 0 {
		if text.Len() == 0 {
			return nil
		}

		final.Content = core.NewTextContent(core.RoleModel, text.String())
		send(ctx, out, final)

		return nil
	}

	final.Content = &core.Content{Role: core.RoleModel}

	for _, i := range slices.Sorted(maps.Keys(toolAgg)) {
		ac := toolAgg[i]

		fc, err := functionCall(ac.id, ac.name, ac.args)
		if err != nil {
			return err
		}

		final.Content.Parts = append(final.Content.Parts, fc)
	}

	send(ctx, out, final)

	return nil
}

// handleNonStreaming processes a normal (non-streaming) completion.
func (m *Model) handleNonStreaming(ctx context.Context, params openai.ChatCompletionNewParams, out chan<- model.Response) error {
	resp, err := m.client.New(ctx, params)
	if err != nil {
		return fmt.Errorf("openai api error: %w", err)
	}

	if len(resp.Choices) == 0 {
		return errors.New("openai: no choices returned")
	}

	ch0 := resp.Choices[0]

	content := &core.Content{Role: core.RoleModel}
	if ch0.Message.Content != "" {
		content.Parts = append(content.Parts, core.TextPart{Text: ch0.Message.Content})
	}

	for _, tc := range ch0.Message.ToolCalls {
		fc, err := functionCall(tc.ID, tc.Function.Name, tc.Function.Arguments)
		if err != nil {
			return err
		}

		content.Parts = append(content.Parts, fc)
	}

	send(ctx, out, model.Response{
		Content:      content,
		FinishReason: ch0.FinishReason,
		Usage:        convertUsage(resp.Usage),
	})

	return nil
}

func functionCall(id, name, args string) (core.FunctionCallPart, error) {
	var parsed map[string]any

	if strings.TrimSpace(args) != "" {
		if err := json.Unmarshal([]byte(args), &parsed); err != nil {
			return core.FunctionCallPart{}, fmt.Errorf("openai: decode arguments of %s: %w", name, err)
		}
	}

	return core.FunctionCallPart{FunctionCall: core.FunctionCall{ID: id, Name: name, Args: parsed}}, nil
}

func convertUsage(u openai.CompletionUsage) *model.TokenUsage {
	if u.TotalTokens == 0 {
		return nil
	}

	return &model.TokenUsage{
		PromptTokens:     int(u.PromptTokens),
		CompletionTokens: int(u.CompletionTokens),
		TotalTokens:      int(u.TotalTokens),
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
