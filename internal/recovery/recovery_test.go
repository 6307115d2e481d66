package recovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvonrenteln/FlowScribe-sub000/internal/schema"
)

func chapterSchema() *schema.Node {
	return schema.NewArray(schema.NewObject().
		Prop("title", schema.NewString()).
		Prop("start", schema.NewNumber()).
		Require("title"))
}

func TestRecover_TruncatedArray(t *testing.T) {
	raw := `[{"title": "Intro", "start": 0}, {"title": "Main", "start": 120}, {"title": "Concl`
	res := Recover(raw, chapterSchema(), Options{MaxDepth: 32})
	require.True(t, res.OK())
	assert.Equal(t, StrategyCompleteElements, res.Strategy)
	assert.Equal(t, 2, res.Recovered)
	assert.Equal(t, 1, res.Skipped)

	items := res.Data.([]any)
	require.Len(t, items, 2)
	assert.Equal(t, "Intro", items[0].(map[string]any)["title"])
	assert.Equal(t, "Main", items[1].(map[string]any)["title"])
}

func TestRecover_NeverFabricates(t *testing.T) {
	// The truncated trailing element must not appear in any form.
	raw := `[{"title": "A"}, {"title": "B", "start": 9`
	res := Recover(raw, chapterSchema(), Options{MaxDepth: 32})
	require.True(t, res.OK())
	items := res.Data.([]any)
	require.Len(t, items, 1)
	assert.Equal(t, "A", items[0].(map[string]any)["title"])
}

func TestRecover_SchemaInvalidElementSkipped(t *testing.T) {
	// Middle element lacks the required title; later elements still recover.
	raw := `[{"title": "A"}, {"start": 3}, {"title": "C"}]`
	res := Recover(raw, chapterSchema(), Options{MaxDepth: 32})
	require.True(t, res.OK())
	assert.Equal(t, 2, res.Recovered)
	assert.Equal(t, 1, res.Skipped)
	items := res.Data.([]any)
	assert.Equal(t, "A", items[0].(map[string]any)["title"])
	assert.Equal(t, "C", items[1].(map[string]any)["title"])
}

func TestRecover_CoercionWarningsSurvive(t *testing.T) {
	raw := `[{"title": "A", "start": "5"}, {"title": "B", "start": 10}, {"broken`
	res := Recover(raw, chapterSchema(), Options{MaxDepth: 32})
	require.True(t, res.OK())
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "coerced string to number")
	assert.Equal(t, 5.0, res.Data.([]any)[0].(map[string]any)["start"])
}

func TestRecover_WrappedArray(t *testing.T) {
	target := schema.NewObject().
		Prop("chapters", chapterSchema()).
		Require("chapters")
	raw := `{"chapters": [{"title": "A"}, {"title": "B"}, {"title": "Cut of`
	res := Recover(raw, target, Options{MaxDepth: 32})
	require.True(t, res.OK())
	assert.Equal(t, StrategyWrappedArray, res.Strategy)
	assert.Equal(t, 2, res.Recovered)
	assert.Equal(t, 1, res.Skipped)

	wrapped := res.Data.(map[string]any)
	items := wrapped["chapters"].([]any)
	require.Len(t, items, 2)
	assert.Equal(t, "B", items[1].(map[string]any)["title"])
}

func TestRecover_BracketInsideStringDoesNotAnchor(t *testing.T) {
	// A '[' inside a preceding string value must not become the array anchor.
	target := schema.NewObject().
		Prop("note", schema.NewString()).
		Prop("chapters", chapterSchema()).
		Require("chapters")
	raw := `{"note": "see [1] for context", "chapters": [{"title": "A"}, {"title": "B"}, {"title": "Cut o`
	res := Recover(raw, target, Options{MaxDepth: 32})
	require.True(t, res.OK())
	assert.Equal(t, StrategyWrappedArray, res.Strategy)
	assert.Equal(t, 2, res.Recovered)
	assert.Equal(t, 1, res.Skipped)

	items := res.Data.(map[string]any)["chapters"].([]any)
	require.Len(t, items, 2)
	assert.Equal(t, "A", items[0].(map[string]any)["title"])
	assert.Equal(t, "B", items[1].(map[string]any)["title"])
}

func TestRecover_WrappedNeedsExactlyOneArrayProp(t *testing.T) {
	target := schema.NewObject().
		Prop("a", schema.NewArray(schema.NewString())).
		Prop("b", schema.NewArray(schema.NewString()))
	res := Recover(`{"a": ["x"], "b": ["y"`, target, Options{MaxDepth: 32})
	assert.False(t, res.OK())
}

func TestRecover_NonRecoverableSchema(t *testing.T) {
	res := Recover(`"just a string`, schema.NewString(), Options{MaxDepth: 32})
	assert.False(t, res.OK())
}

func TestRecover_NothingUsable(t *testing.T) {
	res := Recover(`no structured data at all`, chapterSchema(), Options{MaxDepth: 32})
	require.NotNil(t, res)
	assert.False(t, res.OK())
	// Both element strategies must have been attempted and recorded.
	require.Len(t, res.Attempts, 2)
	assert.Equal(t, StrategyCompleteElements, res.Attempts[0].Strategy)
	assert.Equal(t, StrategyLenientArray, res.Attempts[1].Strategy)
}

func TestRecover_ScalarElements(t *testing.T) {
	raw := `[1, 2, 3, 4`
	res := Recover(raw, schema.NewArray(schema.NewNumber()), Options{MaxDepth: 32})
	require.True(t, res.OK())
	// The trailing "4" may itself be a truncated longer number.
	assert.Equal(t, []any{1.0, 2.0, 3.0}, res.Data)
	assert.Equal(t, 1, res.Skipped)
}

func TestRecover_DefaultsApplied(t *testing.T) {
	itemSchema := schema.NewObject().
		Prop("title", schema.NewString()).
		Prop("kind", schema.NewString().WithDefault("chapter")).
		Require("title")
	raw := `[{"title": "A"}, {"title": "B"}, {"trunc`
	res := Recover(raw, schema.NewArray(itemSchema), Options{ApplyDefaults: true, MaxDepth: 32})
	require.True(t, res.OK())
	assert.Equal(t, "chapter", res.Data.([]any)[0].(map[string]any)["kind"])
}
