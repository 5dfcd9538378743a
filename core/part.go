package core

import (
	"maps"
	"strings"

	"github.com/hupe1980/agentflow/internal/util"
)

// Conversation roles used on Content.
const (
	RoleUser  = "user"
	RoleModel = "model"
)

// Part represents a polymorphic segment of role-based content. Concrete part
// types implement the unexported isPart marker enabling a closed set.
type Part interface{ isPart() }

// TextPart is a plain text content segment.
type TextPart struct {
	Text     string         `json:"text"`
	Thought  bool           `json:"thought,omitempty"` // model reasoning, never sent back as context
	Metadata map[string]any `json:"metadata,omitempty"`
}

func (TextPart) isPart() {}

// DataPart is a structured data segment (e.g., JSON object map).
type DataPart struct {
	Data     map[string]any `json:"data"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func (DataPart) isPart() {}

// FilePart references file data stored outside the conversation.
type FilePart struct {
	URI      string `json:"uri"`
	MIMEType string `json:"mime_type,omitempty"`
	Name     string `json:"name,omitempty"`
}

func (FilePart) isPart() {}

// Blob carries inline bytes such as audio or video frames.
type Blob struct {
	MIMEType string `json:"mime_type"`
	Data     []byte `json:"data"`
}

// BlobPart wraps inline data as a content part.
type BlobPart struct {
	Blob Blob `json:"inline_data"`
}

func (BlobPart) isPart() {}

// FunctionCall describes a tool/function invocation request.
type FunctionCall struct {
	ID   string         `json:"id,omitempty"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// FunctionCallPart wraps a FunctionCall as a content part.
type FunctionCallPart struct {
	FunctionCall FunctionCall `json:"function_call"`
}

func (FunctionCallPart) isPart() {}

// FunctionResponse describes the outcome of a function call.
type FunctionResponse struct {
	ID       string         `json:"id,omitempty"`
	Name     string         `json:"name"`
	Response map[string]any `json:"response,omitempty"`
}

// FunctionResponsePart wraps a FunctionResponse as a content part.
type FunctionResponsePart struct {
	FunctionResponse FunctionResponse `json:"function_response"`
}

func (FunctionResponsePart) isPart() {}

// Content holds role + ordered parts.
type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

// NewTextContent builds a single text part content.
func NewTextContent(role, text string) *Content {
	return &Content{Role: role, Parts: []Part{TextPart{Text: text}}}
}

// Text concatenates all non-thought text parts.
func (c *Content) Text() string {
	if c == nil {
		return ""
	}

	var sb strings.Builder
	for _, p := range c.Parts {
		if tp, ok := p.(TextPart); ok && !tp.Thought {
			sb.WriteString(tp.Text)
		}
	}

	return sb.String()
}

// Clone returns a deep copy; nested argument and response maps are copied too.
func (c *Content) Clone() *Content {
	if c == nil {
		return nil
	}

	out := &Content{Role: c.Role, Parts: make([]Part, len(c.Parts))}
	for i, p := range c.Parts {
		out.Parts[i] = ClonePart(p)
	}

	return out
}

// ClonePart deep copies a single part.
func ClonePart(p Part) Part {
	switch v := p.(type) {
	case TextPart:
		v.Metadata = maps.Clone(v.Metadata)
		return v
	case DataPart:
		v.Data = util.DeepCopyMap(v.Data)
		v.Metadata = maps.Clone(v.Metadata)
		return v
	case BlobPart:
		v.Blob.Data = append([]byte(nil), v.Blob.Data...)
		return v
	case FunctionCallPart:
		v.FunctionCall.Args = util.DeepCopyMap(v.FunctionCall.Args)
		return v
	case FunctionResponsePart:
		v.FunctionResponse.Response = util.DeepCopyMap(v.FunctionResponse.Response)
		return v
	default:
		return p
	}
}
