package matcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func model() map[string]any {
	return map[string]any{
		"services": map[string]any{
			"activeDirectories": []any{
				map[string]any{"id": "AD1", "domain": "acme.loc"},
				map[string]any{"id": "AD2", "state": map[string]any{"invalid": "value"}},
			},
		},
	}
}

func TestMatchFilterByAttribute(t *testing.T) {
	compiler := NewCompiler()
	expression, err := compiler.Compile(
		"$.services.activeDirectories[*][?(@.id=='AD1' and not @.state.invalid)]")
	require.NoError(t, err)

	matches, err := expression.Match(model())
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, []string{"services", "activeDirectories", "0"}, matches[0].Path)
	assert.Equal(t, "AD1", matches[0].Node.(map[string]any)["id"])
}

func TestMatchFilterNegationMatchesMissingAttribute(t *testing.T) {
	compiler := NewCompiler()
	expression, err := compiler.Compile(
		"$.services.activeDirectories[*][?(not @.state.invalid)]")
	require.NoError(t, err)

	matches, err := expression.Match(model())
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "AD1", matches[0].Node.(map[string]any)["id"])
}

func TestMatchWildcardOverList(t *testing.T) {
	compiler := NewCompiler()
	expression, err := compiler.Compile("$.services.activeDirectories[*]")
	require.NoError(t, err)

	matches, err := expression.Match(model())
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, []string{"services", "activeDirectories", "0"}, matches[0].Path)
	assert.Equal(t, []string{"services", "activeDirectories", "1"}, matches[1].Path)
}

func TestMatchWildcardOverMappingIsDeterministic(t *testing.T) {
	compiler := NewCompiler()
	expression, err := compiler.Compile("$.services[*]")
	require.NoError(t, err)

	data := map[string]any{"services": map[string]any{
		"b": "second", "a": "first",
	}}
	matches, err := expression.Match(data)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, []string{"services", "a"}, matches[0].Path)
	assert.Equal(t, []string{"services", "b"}, matches[1].Path)
}

func TestMatchIndexSegment(t *testing.T) {
	compiler := NewCompiler()
	expression, err := compiler.Compile("$.services.activeDirectories[1]")
	require.NoError(t, err)

	matches, err := expression.Match(model())
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "AD2", matches[0].Node.(map[string]any)["id"])
}

func TestMatchRootExpression(t *testing.T) {
	compiler := NewCompiler()
	expression, err := compiler.Compile("$")
	require.NoError(t, err)

	data := model()
	matches, err := expression.Match(data)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Empty(t, matches[0].Path)
}

func TestMatchFilterOnSequenceSelectsElements(t *testing.T) {
	compiler := NewCompiler()
	expression, err := compiler.Compile("$.services.activeDirectories[?(@.id=='AD2')]")
	require.NoError(t, err)

	matches, err := expression.Match(model())
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, []string{"services", "activeDirectories", "1"}, matches[0].Path)
}

func TestMatchMissingPathYieldsNothing(t *testing.T) {
	compiler := NewCompiler()
	expression, err := compiler.Compile("$.nothing[*]")
	require.NoError(t, err)

	matches, err := expression.Match(model())
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestCompileRejectsDescendantTraversal(t *testing.T) {
	compiler := NewCompiler()
	_, err := compiler.Compile("$..services")
	assert.Error(t, err)
}

func TestCompileRejectsBadExpressions(t *testing.T) {
	compiler := NewCompiler()
	for _, source := range []string{"services", "$.a[?(broken", "$.a[0", "$."} {
		_, err := compiler.Compile(source)
		assert.Error(t, err, source)
	}
}

func TestCompileCachesExpressions(t *testing.T) {
	compiler := NewCompiler()
	first, err := compiler.Compile("$.services[*]")
	require.NoError(t, err)
	second, err := compiler.Compile("$.services[*]")
	require.NoError(t, err)
	assert.Same(t, first, second)
}

func TestPredicateTypeErrorIsNoMatch(t *testing.T) {
	compiler := NewCompiler()
	// Negating a present string value errors inside the predicate; that entry
	// is skipped rather than aborting the pass.
	expression, err := compiler.Compile(
		"$.services.activeDirectories[*][?(not @.state.invalid)]")
	require.NoError(t, err)

	matches, err := expression.Match(model())
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}
