package trigger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestJQExecutor_ExtractsPath(t *testing.T) {
	e := newJQExecutor()
	result, err := e.Execute(context.Background(), ".payload.status", map[string]interface{}{
		"payload": map[string]interface{}{"status": "open"},
	})
	require.NoError(t, err)
	require.Equal(t, "open", result)
}

func TestJQExecutor_EmptyExpressionReturnsInputUnchanged(t *testing.T) {
	e := newJQExecutor()
	input := map[string]interface{}{"a": 1}
	result, err := e.Execute(context.Background(), "", input)
	require.NoError(t, err)
	require.Equal(t, input, result)
}

func TestJQExecutor_InvalidExpressionErrors(t *testing.T) {
	e := newJQExecutor()
	_, err := e.Execute(context.Background(), ".[", map[string]interface{}{})
	require.Error(t, err)
}

func TestJQExecutor_ObjectConstruction(t *testing.T) {
	e := newJQExecutor()
	result, err := e.Execute(context.Background(), `{priority: .payload.priority}`, map[string]interface{}{
		"payload": map[string]interface{}{"priority": "high"},
	})
	require.NoError(t, err)
	require.Equal(t, map[string]interface{}{"priority": "high"}, result)
}
