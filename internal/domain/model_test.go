package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetPath(t *testing.T) {
	model := map[string]any{
		"services": map[string]any{
			"activeDirectories": []any{
				map[string]any{"id": "AD1", "units": []any{
					map[string]any{"name": "dc01"},
				}},
			},
		},
	}

	value, ok, err := GetPath(model, []string{"services", "activeDirectories", "0", "units", "0", "name"})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "dc01", value)

	_, ok, err = GetPath(model, []string{"services", "missing"})
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = GetPath(model, []string{"services", "activeDirectories", "0", "id", "deeper"})
	assert.Error(t, err)
}

func TestSetPathVivifiesMappings(t *testing.T) {
	model := map[string]any{}
	require.NoError(t, SetPath(model, []string{"a", "b", "c"}, 42))

	value, ok, err := GetPath(model, []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 42, value)
}

func TestSetPathSequenceAppend(t *testing.T) {
	model := map[string]any{"items": []any{"first"}}

	require.NoError(t, SetPath(model, []string{"items", "1"}, "second"))
	items := model["items"].([]any)
	require.Len(t, items, 2)
	assert.Equal(t, "second", items[1])

	require.NoError(t, SetPath(model, []string{"items", "0"}, "replaced"))
	assert.Equal(t, "replaced", model["items"].([]any)[0])

	assert.Error(t, SetPath(model, []string{"items", "5"}, "gap"))
	assert.Error(t, SetPath(model, []string{"items", "x"}, "bad index"))
}

func TestSetPathRootRejected(t *testing.T) {
	assert.Error(t, SetPath(map[string]any{}, nil, "value"))
}

func TestDeepEqualNumbers(t *testing.T) {
	assert.True(t, DeepEqual(float64(3), 3))
	assert.True(t, DeepEqual(
		map[string]any{"a": []any{1, "x"}},
		map[string]any{"a": []any{float64(1), "x"}},
	))
	assert.False(t, DeepEqual(map[string]any{"a": 1}, map[string]any{"a": 2}))
	assert.False(t, DeepEqual([]any{1}, []any{1, 2}))
	assert.True(t, DeepEqual(nil, nil))
	assert.False(t, DeepEqual(nil, "x"))
}

func TestIsFalsy(t *testing.T) {
	assert.True(t, IsFalsy(nil))
	assert.True(t, IsFalsy(""))
	assert.True(t, IsFalsy(float64(0)))
	assert.True(t, IsFalsy(false))
	assert.True(t, IsFalsy([]any{}))
	assert.True(t, IsFalsy(map[string]any{}))
	assert.False(t, IsFalsy("value"))
	assert.False(t, IsFalsy(float64(1)))
}
