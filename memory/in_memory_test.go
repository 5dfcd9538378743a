package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentflow/core"
	"github.com/hupe1980/agentflow/internal/testutil"
)

func sessionWith(appName, userID, id string, events ...*core.Event) *core.Session {
	s := core.NewSession(appName, userID, id)
	for _, ev := range events {
		s.Append(ev)
	}

	return s
}

func TestInMemoryStore_Search(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	older := testutil.NewEventBuilder().UserText("I love Go and Rust").Build()
	older.Timestamp = time.Unix(100, 0)

	newer := testutil.NewEventBuilder().Author("agent").ModelText("Go is great").Build()
	newer.Timestamp = time.Unix(200, 0)

	unrelated := testutil.NewEventBuilder().UserText("weather today").Build()
	noText := testutil.NewEventBuilder().FunctionCall("c1", "f", nil).Build()

	require.NoError(t, store.AddSession(ctx, sessionWith("app", "u1", "s1", older, newer, unrelated, noText)))

	results, err := store.Search(ctx, "app", "u1", "go rust", 0)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "I love Go and Rust", results[0].Content.Text())
	assert.InDelta(t, 1.0, results[0].Score, 1e-9)
	assert.Equal(t, "s1", results[0].SessionID)

	assert.Equal(t, "agent", results[1].Author)
	assert.InDelta(t, 0.5, results[1].Score, 1e-9)

	t.Run("ties prefer recent memories", func(t *testing.T) {
		results, err := store.Search(ctx, "app", "u1", "GO!", 1)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "Go is great", results[0].Content.Text())
	})

	t.Run("scoped by app and user", func(t *testing.T) {
		results, err := store.Search(ctx, "app", "u2", "go", 0)
		require.NoError(t, err)
		assert.Empty(t, results)
	})

	t.Run("empty query", func(t *testing.T) {
		results, err := store.Search(ctx, "app", "u1", "  ", 0)
		require.NoError(t, err)
		assert.Empty(t, results)
	})
}

func TestInMemoryStore_AddSessionReplaces(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	first := sessionWith("app", "u1", "s1", testutil.NewEventBuilder().UserText("apples").Build())
	require.NoError(t, store.AddSession(ctx, first))

	second := sessionWith("app", "u1", "s1", testutil.NewEventBuilder().UserText("pears").Build())
	require.NoError(t, store.AddSession(ctx, second))

	results, err := store.Search(ctx, "app", "u1", "apples", 0)
	require.NoError(t, err)
	assert.Empty(t, results)

	results, err = store.Search(ctx, "app", "u1", "pears", 0)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestInMemoryStore_ResultsAreCopies(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	require.NoError(t, store.AddSession(ctx, sessionWith("app", "u1", "s1", testutil.NewEventBuilder().UserText("keep me").Build())))

	results, err := store.Search(ctx, "app", "u1", "keep", 0)
	require.NoError(t, err)
	results[0].Content.Parts[0] = core.TextPart{Text: "changed"}

	results, err = store.Search(ctx, "app", "u1", "keep", 0)
	require.NoError(t, err)
	assert.Equal(t, "keep me", results[0].Content.Text())
}
