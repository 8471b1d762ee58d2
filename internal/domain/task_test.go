package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTask(t *testing.T) {
	task, err := NewTask(map[string]any{
		"id":        "env1",
		"token":     "secret",
		"tenant_id": "tenant",
	})
	require.NoError(t, err)
	assert.Equal(t, "env1", task.ID)
	assert.Equal(t, "secret", task.Token)
	assert.Equal(t, "tenant", task.TenantID)
	assert.Equal(t, "eenv1", task.EnvironmentName())
}

func TestNewTaskRejectsMissingID(t *testing.T) {
	_, err := NewTask(map[string]any{"token": "x"})
	assert.Error(t, err)
	_, err = NewTask(nil)
	assert.Error(t, err)
}

func TestStopRequested(t *testing.T) {
	task, err := NewTask(map[string]any{"id": "env1"})
	require.NoError(t, err)
	assert.False(t, task.StopRequested())

	require.NoError(t, SetPath(task.Model, []string{"temp", "_stop_requested"}, true))
	assert.True(t, task.StopRequested())
}

func TestCleanupStripsSensitiveFields(t *testing.T) {
	task, err := NewTask(map[string]any{
		"id":    "env1",
		"token": "secret",
		"temp":  map[string]any{"_stop_requested": true},
		"services": map[string]any{
			"activeDirectories": []any{
				map[string]any{
					"id":   "AD1",
					"temp": map[string]any{"scratch": 1},
					"units": []any{
						map[string]any{"name": "dc01", "temp": "x"},
					},
				},
			},
		},
	})
	require.NoError(t, err)

	task.Cleanup()

	assert.NotContains(t, task.Model, "token")
	assert.NotContains(t, task.Model, "temp")
	service := task.Model["services"].(map[string]any)["activeDirectories"].([]any)[0].(map[string]any)
	assert.NotContains(t, service, "temp")
	unit := service["units"].([]any)[0].(map[string]any)
	assert.NotContains(t, unit, "temp")
	assert.Equal(t, "dc01", unit["name"])
}

func TestCleanupFlatServiceList(t *testing.T) {
	task, err := NewTask(map[string]any{
		"id": "env1",
		"services": []any{
			map[string]any{"id": "s1", "temp": 1},
		},
	})
	require.NoError(t, err)

	task.Cleanup()
	service := task.Model["services"].([]any)[0].(map[string]any)
	assert.NotContains(t, service, "temp")
}
