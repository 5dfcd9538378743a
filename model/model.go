package model

import (
	"context"
	"maps"
	"strings"

	"github.com/hupe1980/agentflow/core"
)

// ToolDefinition declaratively exposes a callable function to the model.
type ToolDefinition struct {
	Type     string             `json:"type"` // "function"
	Function FunctionDefinition `json:"function"`
}

// FunctionDefinition describes an individual function exposed to the model.
// Parameters is a JSON Schema object.
type FunctionDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// GenerateConfig carries provider independent generation settings.
type GenerateConfig struct {
	Temperature     *float64          `json:"temperature,omitempty"`
	MaxOutputTokens int64             `json:"max_output_tokens,omitempty"`
	Labels          map[string]string `json:"labels,omitempty"`

	// Live settings; ignored by unary providers.
	ResponseModalities       []string `json:"response_modalities,omitempty"`
	InputAudioTranscription  bool     `json:"input_audio_transcription,omitempty"`
	OutputAudioTranscription bool     `json:"output_audio_transcription,omitempty"`
}

// Request captures the normalized model input produced by flows.
type Request struct {
	Model        string           `json:"model,omitempty"`
	Instructions string           `json:"instructions"`
	Contents     []*core.Content  `json:"contents"`
	Tools        []ToolDefinition `json:"tools,omitempty"`
	Config       GenerateConfig   `json:"config"`
	Stream       bool             `json:"stream,omitempty"`
}

// AppendInstructions adds instruction paragraphs separated by blank lines.
func (r *Request) AppendInstructions(instructions ...string) {
	for _, in := range instructions {
		if strings.TrimSpace(in) == "" {
			continue
		}

		if r.Instructions != "" {
			r.Instructions += "\n\n"
		}

		r.Instructions += in
	}
}

// AppendTools registers function definitions, replacing earlier ones with
// the same name.
func (r *Request) AppendTools(defs ...ToolDefinition) {
	for _, d := range defs {
		replaced := false

		for i := range r.Tools {
			if r.Tools[i].Function.Name == d.Function.Name {
				r.Tools[i] = d
				replaced = true

				break
			}
		}

		if !replaced {
			r.Tools = append(r.Tools, d)
		}
	}
}

// SetLabel sets a request label.
func (r *Request) SetLabel(k, v string) {
	if r.Config.Labels == nil {
		r.Config.Labels = map[string]string{}
	}

	r.Config.Labels[k] = v
}

// Clone returns a copy that shares no contents or labels with r.
func (r Request) Clone() Request {
	out := r
	out.Contents = make([]*core.Content, len(r.Contents))

	for i, c := range r.Contents {
		out.Contents[i] = c.Clone()
	}

	out.Tools = append([]ToolDefinition(nil), r.Tools...)
	out.Config.Labels = maps.Clone(r.Config.Labels)

	return out
}

// TokenUsage captures token usage statistics for a response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a (partial or final) chunk emitted by a model. In streaming
// mode providers emit text deltas as Partial responses followed by one
// aggregated, non partial response.
type Response struct {
	Content        *core.Content  `json:"content,omitempty"`
	Partial        bool           `json:"partial,omitempty"`
	TurnComplete   bool           `json:"turn_complete,omitempty"`
	Interrupted    bool           `json:"interrupted,omitempty"`
	ErrorCode      string         `json:"error_code,omitempty"`
	ErrorMessage   string         `json:"error_message,omitempty"`
	FinishReason   string         `json:"finish_reason,omitempty"`
	Usage          *TokenUsage    `json:"usage,omitempty"`
	CustomMetadata map[string]any `json:"custom_metadata,omitempty"`
}

// IsEmpty reports whether the response carries nothing worth an event.
func (r Response) IsEmpty() bool {
	return (r.Content == nil || len(r.Content.Parts) == 0) && r.ErrorCode == "" && !r.Interrupted
}

// Info contains metadata about a model implementation.
type Info struct {
	Name          string `json:"name"`
	Provider      string `json:"provider"`
	SupportsTools bool   `json:"supports_tools"`
	SupportsLive  bool   `json:"supports_live"`
}

// Model is the minimal interface required by flows to drive generation.
// Both channels are closed when generation ends; at most one error is sent.
type Model interface {
	Generate(ctx context.Context, req Request) (<-chan Response, <-chan error)

	// Info returns information about the model implementation.
	Info() Info
}

// LiveModel is implemented by models that support bidirectional sessions.
type LiveModel interface {
	Model

	// Connect opens a live connection configured from req (instructions,
	// tools, live settings). Contents of req are not sent.
	Connect(ctx context.Context, req Request) (Connection, error)
}

// Connection is a duplex model session.
type Connection interface {
	// SendHistory sends prior conversation turns.
	SendHistory(ctx context.Context, history []*core.Content) error
	// SendContent sends a complete user turn or function responses.
	SendContent(ctx context.Context, content *core.Content) error
	// SendRealtime streams a media chunk.
	SendRealtime(ctx context.Context, blob core.Blob) error
	// Receive streams model output until the connection ends. The response
	// channel is closed when the connection ends; a terminal error, if any,
	// is delivered on the error channel first.
	Receive(ctx context.Context) (<-chan Response, <-chan error)
	// Close releases the connection. It is safe to call more than once.
	Close() error
}
