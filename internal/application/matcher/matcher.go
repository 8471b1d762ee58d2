// Package matcher enumerates sub-nodes of a model that satisfy a tree-query
// path expression, reporting each match together with its location so the
// interpreter can reposition its data-source cursor.
package matcher

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/smilemakc/conductor/internal/domain"
)

// Match pairs a matched sub-node with its location relative to the queried
// root.
type Match struct {
	Path []string
	Node any
}

type segmentKind int

const (
	segmentKey segmentKind = iota
	segmentWildcard
	segmentIndex
	segmentFilter
)

type segment struct {
	kind    segmentKind
	key     string
	index   int
	program *vm.Program
	source  string
}

// Expression is a compiled path expression. Compile once, match many times;
// matching never mutates the model.
type Expression struct {
	source   string
	segments []segment
}

// Compiler caches compiled expressions. Rule documents evaluate the same
// match attribute once per pass per workflow, so the cache is hit constantly.
type Compiler struct {
	mu    sync.Mutex
	cache map[string]*Expression
}

func NewCompiler() *Compiler {
	return &Compiler{cache: make(map[string]*Expression)}
}

// Compile parses a path expression of the form
// $.step.step[*][0][?(@.attr=='x' and not @.other)].
func (c *Compiler) Compile(source string) (*Expression, error) {
	c.mu.Lock()
	cached, ok := c.cache[source]
	c.mu.Unlock()
	if ok {
		return cached, nil
	}

	compiled, err := compile(source)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cache[source] = compiled
	c.mu.Unlock()
	return compiled, nil
}

func compile(source string) (*Expression, error) {
	if strings.Contains(source, "..") {
		return nil, domain.NewDomainError(domain.ErrCodeInvalidInput,
			fmt.Sprintf("descendant traversal is not supported in %q", source), nil)
	}
	rest := strings.TrimSpace(source)
	if !strings.HasPrefix(rest, "$") {
		return nil, domain.NewDomainError(domain.ErrCodeInvalidInput,
			fmt.Sprintf("path expression %q must start with $", source), nil)
	}
	rest = rest[1:]

	var segments []segment
	for rest != "" {
		switch {
		case strings.HasPrefix(rest, "."):
			rest = rest[1:]
			end := strings.IndexAny(rest, ".[")
			if end == -1 {
				end = len(rest)
			}
			name := rest[:end]
			if name == "" {
				return nil, domain.NewDomainError(domain.ErrCodeInvalidInput,
					fmt.Sprintf("empty step in path expression %q", source), nil)
			}
			segments = append(segments, segment{kind: segmentKey, key: name})
			rest = rest[end:]
		case strings.HasPrefix(rest, "[?("):
			end := strings.Index(rest, ")]")
			if end == -1 {
				return nil, domain.NewDomainError(domain.ErrCodeInvalidInput,
					fmt.Sprintf("unterminated filter in path expression %q", source), nil)
			}
			predicate := rest[3:end]
			program, err := compilePredicate(predicate)
			if err != nil {
				return nil, err
			}
			segments = append(segments, segment{kind: segmentFilter, program: program, source: predicate})
			rest = rest[end+2:]
		case strings.HasPrefix(rest, "[*]"):
			segments = append(segments, segment{kind: segmentWildcard})
			rest = rest[3:]
		case strings.HasPrefix(rest, "["):
			end := strings.Index(rest, "]")
			if end == -1 {
				return nil, domain.NewDomainError(domain.ErrCodeInvalidInput,
					fmt.Sprintf("unterminated index in path expression %q", source), nil)
			}
			body := strings.Trim(rest[1:end], "'\"")
			if idx, err := strconv.Atoi(body); err == nil {
				segments = append(segments, segment{kind: segmentIndex, index: idx})
			} else {
				segments = append(segments, segment{kind: segmentKey, key: body})
			}
			rest = rest[end+1:]
		default:
			return nil, domain.NewDomainError(domain.ErrCodeInvalidInput,
				fmt.Sprintf("unexpected %q in path expression %q", rest, source), nil)
		}
	}
	return &Expression{source: source, segments: segments}, nil
}

// currentItem references the matched candidate inside compiled predicates.
// The '@' marker of the surface syntax is rewritten to it before compilation.
const currentItem = "__at"

var attrAccess = regexp.MustCompile(`@\.([A-Za-z_][\w.]*)`)
var bareItem = regexp.MustCompile(`@`)

func compilePredicate(predicate string) (*vm.Program, error) {
	rewritten := attrAccess.ReplaceAllString(predicate, `attr(`+currentItem+`, "$1")`)
	rewritten = bareItem.ReplaceAllString(rewritten, currentItem)
	program, err := expr.Compile(rewritten)
	if err != nil {
		return nil, domain.NewDomainError(domain.ErrCodeInvalidInput,
			fmt.Sprintf("failed to compile predicate %q", predicate), err)
	}
	return program, nil
}

// attr performs path-based attribute access on the current item. Missing or
// nil attributes resolve to false so negated predicates ("not @.state.x")
// match entries that do not carry the attribute yet.
func attr(node any, path string) any {
	value, ok, err := domain.GetPath(node, strings.Split(path, "."))
	if err != nil || !ok || value == nil {
		return false
	}
	return value
}

// Match enumerates the sub-nodes of root selected by the expression, in
// encounter order. Mapping children are visited in sorted key order to keep
// runs deterministic.
func (e *Expression) Match(root any) ([]Match, error) {
	candidates := []Match{{Path: nil, Node: root}}
	for _, seg := range e.segments {
		var next []Match
		for _, candidate := range candidates {
			expanded, err := seg.apply(candidate)
			if err != nil {
				return nil, err
			}
			next = append(next, expanded...)
		}
		candidates = next
	}
	return candidates, nil
}

func (s segment) apply(candidate Match) ([]Match, error) {
	switch s.kind {
	case segmentKey:
		node, ok := candidate.Node.(map[string]any)
		if !ok {
			return nil, nil
		}
		value, ok := node[s.key]
		if !ok {
			return nil, nil
		}
		return []Match{child(candidate, s.key, value)}, nil
	case segmentIndex:
		node, ok := candidate.Node.([]any)
		if !ok || s.index < 0 || s.index >= len(node) {
			return nil, nil
		}
		return []Match{child(candidate, strconv.Itoa(s.index), node[s.index])}, nil
	case segmentWildcard:
		switch node := candidate.Node.(type) {
		case []any:
			matches := make([]Match, 0, len(node))
			for i, item := range node {
				matches = append(matches, child(candidate, strconv.Itoa(i), item))
			}
			return matches, nil
		case map[string]any:
			keys := make([]string, 0, len(node))
			for key := range node {
				keys = append(keys, key)
			}
			sort.Strings(keys)
			matches := make([]Match, 0, len(node))
			for _, key := range keys {
				matches = append(matches, child(candidate, key, node[key]))
			}
			return matches, nil
		default:
			return nil, nil
		}
	case segmentFilter:
		// Applied to a sequence the filter selects its elements; applied to
		// anything else it keeps or drops the candidate itself.
		if node, ok := candidate.Node.([]any); ok {
			var matches []Match
			for i, item := range node {
				if s.evaluate(item) {
					matches = append(matches, child(candidate, strconv.Itoa(i), item))
				}
			}
			return matches, nil
		}
		if s.evaluate(candidate.Node) {
			return []Match{candidate}, nil
		}
		return nil, nil
	}
	return nil, nil
}

// evaluate runs the predicate against one item. Evaluation errors (missing
// attributes compared with the wrong type, negation of non-booleans) resolve
// to no-match rather than aborting the pass.
func (s segment) evaluate(item any) bool {
	env := map[string]any{
		currentItem: item,
		"attr":      attr,
	}
	result, err := expr.Run(s.program, env)
	if err != nil {
		return false
	}
	matched, ok := result.(bool)
	return ok && matched
}

func child(parent Match, step string, node any) Match {
	path := make([]string, 0, len(parent.Path)+1)
	path = append(path, parent.Path...)
	path = append(path, step)
	return Match{Path: path, Node: node}
}
