package flow

import (
	"strings"

	"github.com/hupe1980/agentflow/core"
	"github.com/hupe1980/agentflow/model"
)

// streamAggregator reassembles streamed text. Text chunks are marked
// partial; the accumulated text is emitted as one consolidated response
// before the next non-text chunk and at the end of the stream. When the
// model already sends its own consolidated text the buffer is dropped.
type streamAggregator struct {
	text    strings.Builder
	thought strings.Builder
	last    model.Response
}

func (a *streamAggregator) process(r model.Response) []model.Response {
	text, thought, ok := textChunk(r)

	switch {
	case ok && r.Partial && !hasNonText(r):
		a.text.WriteString(text)
		a.thought.WriteString(thought)
		a.last = r

		return []model.Response{r}
	case ok && !r.Partial && a.pending():
		// The model sent its own consolidated text.
		a.reset()

		return []model.Response{r}
	}

	var out []model.Response

	if a.pending() && !isBlobChunk(r) {
		out = append(out, a.consolidated())
	}

	return append(out, r)
}

// flush returns the consolidated text still buffered at the end of the
// stream.
func (a *streamAggregator) flush() (model.Response, bool) {
	if !a.pending() {
		return model.Response{}, false
	}

	return a.consolidated(), true
}

func (a *streamAggregator) pending() bool { return a.text.Len() > 0 || a.thought.Len() > 0 }

func (a *streamAggregator) reset() {
	a.text.Reset()
	a.thought.Reset()
	a.last = model.Response{}
}

func (a *streamAggregator) consolidated() model.Response {
	content := &core.Content{Role: core.RoleModel}
	if a.thought.Len() > 0 {
		content.Parts = append(content.Parts, core.TextPart{Text: a.thought.String(), Thought: true})
	}

	if a.text.Len() > 0 {
		content.Parts = append(content.Parts, core.TextPart{Text: a.text.String()})
	}

	r := model.Response{
		Content:      content,
		FinishReason: a.last.FinishReason,
		Usage:        a.last.Usage,
	}
	a.reset()

	return r
}

// textChunk returns the text carried by a response whose first part is
// text.
func textChunk(r model.Response) (text, thought string, ok bool) {
	if r.Content == nil || len(r.Content.Parts) == 0 {
		return "", "", false
	}

	if _, first := r.Content.Parts[0].(core.TextPart); !first {
		return "", "", false
	}

	for _, p := range r.Content.Parts {
		if tp, isText := p.(core.TextPart); isText {
			if tp.Thought {
				thought += tp.Text
			} else {
				text += tp.Text
			}
		}
	}

	return text, thought, true
}

func hasNonText(r model.Response) bool {
	for _, p := range r.Content.Parts {
		if _, ok := p.(core.TextPart); !ok {
			return true
		}
	}

	return false
}

func isBlobChunk(r model.Response) bool {
	if r.Content == nil || len(r.Content.Parts) == 0 {
		return false
	}

	_, ok := r.Content.Parts[0].(core.BlobPart)

	return ok
}
