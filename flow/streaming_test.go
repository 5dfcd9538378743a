package flow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentflow/core"
	"github.com/hupe1980/agentflow/model"
)

func partialText(text string, thought bool) model.Response {
	return model.Response{Partial: true, Content: &core.Content{
		Role:  core.RoleModel,
		Parts: []core.Part{core.TextPart{Text: text, Thought: thought}},
	}}
}

func TestStreamAggregator(t *testing.T) {
	t.Run("flushes accumulated text at the end", func(t *testing.T) {
		agg := &streamAggregator{}

		assert.Len(t, agg.process(partialText("Hel", false)), 1)
		assert.Len(t, agg.process(partialText("lo", false)), 1)

		r, ok := agg.flush()
		require.True(t, ok)
		assert.False(t, r.Partial)
		assert.Equal(t, "Hello", r.Content.Text())

		_, ok = agg.flush()
		assert.False(t, ok)
	})

	t.Run("keeps thoughts apart", func(t *testing.T) {
		agg := &streamAggregator{}
		agg.process(partialText("hmm ", true))
		agg.process(partialText("answer", false))

		r, ok := agg.flush()
		require.True(t, ok)
		require.Len(t, r.Content.Parts, 2)
		assert.Equal(t, core.TextPart{Text: "hmm ", Thought: true}, r.Content.Parts[0])
		assert.Equal(t, "answer", r.Content.Text())
	})

	t.Run("model consolidation replaces the buffer", func(t *testing.T) {
		agg := &streamAggregator{}
		agg.process(partialText("a", false))
		agg.process(partialText("b", false))

		out := agg.process(textResponse("ab"))
		require.Len(t, out, 1)
		assert.Equal(t, "ab", out[0].Content.Text())

		_, ok := agg.flush()
		assert.False(t, ok)
	})

	t.Run("function call flushes text first", func(t *testing.T) {
		agg := &streamAggregator{}
		agg.process(partialText("let me check", false))

		out := agg.process(callResponse("c1", "lookup", nil))
		require.Len(t, out, 2)
		assert.Equal(t, "let me check", out[0].Content.Text())
		assert.False(t, out[0].Partial)
		assert.NotEmpty(t, out[1].Content.Parts)
	})

	t.Run("audio does not flush", func(t *testing.T) {
		agg := &streamAggregator{}
		agg.process(partialText("spoken", false))

		audio := model.Response{Partial: true, Content: &core.Content{
			Role:  core.RoleModel,
			Parts: []core.Part{core.BlobPart{Blob: core.Blob{MIMEType: "audio/pcm", Data: []byte{1, 2}}}},
		}}

		out := agg.process(audio)
		require.Len(t, out, 1)
		assert.True(t, agg.pending())
	})
}
