package tools

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestExecutor(t *testing.T) *Executor {
	t.Helper()
	return NewExecutor(zerolog.Nop())
}

func echoDefinition(name string) Definition {
	return Definition{
		Name:        name,
		Description: "echoes its input back",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"value": map[string]interface{}{"type": "string"},
			},
			"required": []interface{}{"value"},
		},
		Handler: func(ctx context.Context, input map[string]interface{}, inv Invocation) (interface{}, error) {
			return map[string]interface{}{"value": input["value"]}, nil
		},
	}
}

func TestExecutorDispatch(t *testing.T) {
	e := newTestExecutor(t)
	require.NoError(t, e.Register(echoDefinition("echo")))

	result, err := e.Execute(context.Background(), "echo", map[string]interface{}{"value": "hi"}, Invocation{TargetID: "tab-1"})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"value": "hi"}, result)
}

func TestExecutorUnknownTool(t *testing.T) {
	e := newTestExecutor(t)
	require.NoError(t, e.Register(echoDefinition("echo")))

	_, err := e.Execute(context.Background(), "nonexistent_tool", nil, Invocation{})
	var unknown *UnknownToolError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "nonexistent_tool", unknown.Name)
	assert.Contains(t, unknown.Available, "echo")
}

func TestExecutorSchemaRejection(t *testing.T) {
	e := newTestExecutor(t)
	require.NoError(t, e.Register(echoDefinition("echo")))

	result, err := e.Execute(context.Background(), "echo", map[string]interface{}{}, Invocation{})
	require.NoError(t, err)
	assert.True(t, IsErrorResult(result))
}

func TestExecutorHandlerErrorIsRecoverable(t *testing.T) {
	e := newTestExecutor(t)
	require.NoError(t, e.Register(Definition{
		Name:        "flaky",
		Description: "always fails",
		Handler: func(ctx context.Context, input map[string]interface{}, inv Invocation) (interface{}, error) {
			return nil, errors.New("backend unavailable")
		},
	}))

	result, err := e.Execute(context.Background(), "flaky", nil, Invocation{})
	require.NoError(t, err)
	require.True(t, IsErrorResult(result))
	assert.Contains(t, result.(map[string]interface{})["error"], "backend unavailable")
}

func TestExecutorContextCancellationPropagates(t *testing.T) {
	e := newTestExecutor(t)
	require.NoError(t, e.Register(Definition{
		Name:        "blocking",
		Description: "waits for ctx",
		Handler: func(ctx context.Context, input map[string]interface{}, inv Invocation) (interface{}, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Execute(ctx, "blocking", nil, Invocation{})
	require.ErrorIs(t, err, context.Canceled)
}

func TestExecutorDuplicateRegistration(t *testing.T) {
	e := newTestExecutor(t)
	require.NoError(t, e.Register(echoDefinition("echo")))
	require.Error(t, e.Register(echoDefinition("echo")))
}

func TestExecutorSchemasSorted(t *testing.T) {
	e := newTestExecutor(t)
	require.NoError(t, e.Register(echoDefinition("zeta")))
	require.NoError(t, e.Register(echoDefinition("alpha")))

	schemas := e.Schemas()
	require.Len(t, schemas, 2)
	assert.Equal(t, "alpha", schemas[0].Name)
	assert.Equal(t, "zeta", schemas[1].Name)
	assert.Equal(t, []string{"alpha", "zeta"}, e.Names())
}

func TestIsErrorResult(t *testing.T) {
	assert.True(t, IsErrorResult(Errorf("boom %d", 1)))
	assert.False(t, IsErrorResult(map[string]interface{}{"value": "fine"}))
	assert.False(t, IsErrorResult("plain string"))
	assert.False(t, IsErrorResult(nil))
}
