package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestGet_CachesPerCategory(t *testing.T) {
	SetRoot(zap.NewNop())
	a := Get(CategoryExtract)
	b := Get(CategoryExtract)
	assert.Same(t, a, b)
	assert.NotSame(t, a, Get(CategorySched))
}

func TestSetRoot_RebuildsCategoryLoggers(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	SetRoot(zap.New(core))
	defer SetRoot(nil)

	Get(CategoryLLM).Info("call started")
	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "llm", entry.LoggerName)
	assert.Equal(t, "call started", entry.Message)
}

func TestBuild_UnknownLevelFallsBackToInfo(t *testing.T) {
	defer SetRoot(nil)
	l, err := Build("definitely-not-a-level", "json")
	require.NoError(t, err)
	assert.False(t, l.Core().Enabled(zap.DebugLevel))
	assert.True(t, l.Core().Enabled(zap.InfoLevel))
}
