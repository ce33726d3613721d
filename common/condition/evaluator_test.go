package condition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluate_EmptyExpressionAlwaysMatches(t *testing.T) {
	e := NewEvaluator()
	ok, err := e.Evaluate("", nil, nil)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvaluate_ResultField(t *testing.T) {
	e := NewEvaluator()
	ok, err := e.Evaluate(`result.approved == true`, map[string]any{"approved": true}, nil)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.Evaluate(`result.approved == true`, map[string]any{"approved": false}, nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEvaluate_ContextField(t *testing.T) {
	e := NewEvaluator()
	ok, err := e.Evaluate(`context.retries < 3`, nil, map[string]any{"retries": 1})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvaluate_NonBooleanResultIsError(t *testing.T) {
	e := NewEvaluator()
	_, err := e.Evaluate(`result.count`, map[string]any{"count": 5}, nil)
	assert.Error(t, err)
}

func TestEvaluate_CompileErrorIsReported(t *testing.T) {
	e := NewEvaluator()
	_, err := e.Evaluate(`result. ===`, nil, nil)
	assert.Error(t, err)
}

func TestEvaluate_CachesCompiledProgram(t *testing.T) {
	e := NewEvaluator()
	_, err := e.Evaluate(`result.approved == true`, map[string]any{"approved": true}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, e.CacheSize())

	_, err = e.Evaluate(`result.approved == true`, map[string]any{"approved": false}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, e.CacheSize())

	e.ClearCache()
	assert.Equal(t, 0, e.CacheSize())
}
