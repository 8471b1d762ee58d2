package executor

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smilemakc/conductor/internal/domain"
	"github.com/smilemakc/conductor/internal/infrastructure/bus"
)

func newAgentExecutor(t *testing.T) (*AgentExecutor, *bus.MemoryBus, string) {
	t.Helper()
	dir := t.TempDir()
	memoryBus := bus.NewMemoryBus()
	x, err := NewAgentExecutor("etest", memoryBus, dir, zerolog.Nop())
	require.NoError(t, err)
	return x, memoryBus, dir
}

func writePlan(t *testing.T, dir, name string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".template"),
		[]byte("Scripts: []\nCommands:\n  - Name: $command\n"), 0o644))
}

func TestAgentSendPublishesPlan(t *testing.T) {
	x, memoryBus, dir := newAgentExecutor(t)
	writePlan(t, dir, "Deploy")

	err := x.Send("Deploy", map[string]any{"command": "Install"}, "SvcA", "Unit1", 10,
		func(result any, err error) error { return nil })
	require.NoError(t, err)
	assert.True(t, x.HasPending())

	message := memoryBus.Pop("etest-svca-unit1")
	require.NotNil(t, message)
	assert.NotEmpty(t, message.ID)
	commands := message.Body["Commands"].([]any)
	assert.Equal(t, "Install", commands[0].(map[string]any)["Name"])
}

func TestAgentFlushMatchesReplyBySourceID(t *testing.T) {
	x, memoryBus, dir := newAgentExecutor(t)
	writePlan(t, dir, "Deploy")

	var got map[string]any
	require.NoError(t, x.Send("Deploy", nil, "SvcA", "Unit1", 5,
		func(result any, err error) error {
			got, _ = result.(map[string]any)
			return err
		}))

	sent := memoryBus.Pop("etest-svca-unit1")
	require.NotNil(t, sent)
	reply := &bus.Message{
		ID:   "reply-1",
		Body: map[string]any{"SourceID": sent.ID, "Result": []any{}},
	}
	require.NoError(t, memoryBus.Publish("", "-execution-results-etest", reply))

	worked, err := x.Flush(context.Background())
	require.NoError(t, err)
	assert.True(t, worked)
	assert.False(t, x.HasPending())
	require.NotNil(t, got)
	assert.Equal(t, sent.ID, got["SourceID"])
}

func TestAgentFlushTimeoutFailsEveryPending(t *testing.T) {
	x, _, dir := newAgentExecutor(t)
	writePlan(t, dir, "Deploy")

	var errs []error
	cb := func(result any, err error) error {
		errs = append(errs, err)
		return nil
	}
	require.NoError(t, x.Send("Deploy", nil, "SvcA", "Unit1", 0.05, cb))
	require.NoError(t, x.Send("Deploy", nil, "SvcA", "Unit2", 0.01, cb))

	worked, err := x.Flush(context.Background())
	require.NoError(t, err)
	assert.True(t, worked)
	assert.False(t, x.HasPending())

	require.Len(t, errs, 2)
	for _, err := range errs {
		var timeoutErr *domain.AgentTimeoutError
		assert.ErrorAs(t, err, &timeoutErr)
	}
}

func TestAgentFlushWithoutPendingIsQuiet(t *testing.T) {
	x, _, _ := newAgentExecutor(t)
	worked, err := x.Flush(context.Background())
	require.NoError(t, err)
	assert.False(t, worked)
}

func TestAgentCallbackErrorPropagates(t *testing.T) {
	x, memoryBus, dir := newAgentExecutor(t)
	writePlan(t, dir, "Deploy")

	require.NoError(t, x.Send("Deploy", nil, "SvcA", "Unit1", 0.05,
		func(result any, err error) error {
			var timeoutErr *domain.AgentTimeoutError
			if ok := assert.ErrorAs(t, err, &timeoutErr); ok {
				return err
			}
			return nil
		}))
	_ = memoryBus

	worked, err := x.Flush(context.Background())
	assert.True(t, worked)
	assert.Error(t, err)
}

func TestAgentMaxTimeout(t *testing.T) {
	x, _, dir := newAgentExecutor(t)
	writePlan(t, dir, "Deploy")
	nop := func(any, error) error { return nil }

	require.NoError(t, x.Send("Deploy", nil, "s", "u1", 5, nop))
	require.NoError(t, x.Send("Deploy", nil, "s", "u2", 9, nop))
	assert.Equal(t, 9.0, x.maxTimeout())

	require.NoError(t, x.Send("Deploy", nil, "s", "u3", 0, nop))
	assert.Equal(t, 0.0, x.maxTimeout(), "a command without deadline makes the wait unbounded")
}
