// Package interpreter evaluates rule documents against a mutable task model.
// It repeatedly selects matching subtrees, executes their bodies, and tracks
// side effects so the per-task fixpoint loop knows when to stop.
package interpreter

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/smilemakc/conductor/internal/application/matcher"
	"github.com/smilemakc/conductor/internal/domain"
)

// Handler implements the semantics of one element kind.
type Handler func(e *Engine, ctx *Context, el *Element) (any, error)

// Engine evaluates rule-document elements. The element registry is explicit:
// it is assembled by the caller and passed in, never mutated afterwards.
type Engine struct {
	handlers map[string]Handler
	compiler *matcher.Compiler
	log      zerolog.Logger
}

// NewEngine builds an engine around a handler registry. Use
// DefaultHandlers() for the standard element set.
func NewEngine(handlers map[string]Handler, log zerolog.Logger) *Engine {
	return &Engine{
		handlers: handlers,
		compiler: matcher.NewCompiler(),
		log:      log,
	}
}

// DefaultHandlers returns the standard element registry: structural elements
// plus every registered action.
func DefaultHandlers() map[string]Handler {
	return map[string]Handler{
		"workflow":      evalWorkflow,
		"rule":          evalRule,
		"set":           evalSet,
		"select":        evalSelect,
		"select-all":    evalSelectAll,
		"select-single": evalSelectSingle,
		"mute":          evalMute,
		"unmute":        evalUnmute,
		"stop":          evalStop,
		"empty":         evalEmpty,

		"update-cf-stack":        actionUpdateStack,
		"delete-cf-stack":        actionDeleteStack,
		"send-command":           actionSendCommand,
		"get-cidr":               actionGetCIDR,
		"get-default-router-id":  actionGetDefaultRouter,
		"get-default-network-id": actionGetDefaultNetwork,
		"get-net-topology":       actionGetNetTopology,
		"prepare-user-data":      actionPrepareUserData,
		"generate-hostname":      actionGenerateHostname,
		"run-script":             actionRunScript,
		"instance-names":         actionInstanceNames,
	}
}

// Evaluate runs one element in a fresh child frame.
func (e *Engine) Evaluate(el *Element, ctx *Context) (any, error) {
	handler, ok := e.handlers[el.Tag]
	if !ok {
		return nil, domain.NewDomainError(domain.ErrCodeUnknownElement,
			fmt.Sprintf("no handler registered for element <%s>", el.Tag), nil)
	}
	return handler(e, ctx.Child(), el)
}

// EvaluateContent evaluates an element's mixed content. Pure-element content
// with a single child returns that child's raw value; content mixing text and
// elements concatenates everything into a trimmed string.
func (e *Engine) EvaluateContent(el *Element, ctx *Context) (any, error) {
	var pieces []string
	var values []any
	hasText := false
	for _, part := range el.Parts {
		if part.El != nil {
			value, err := e.Evaluate(part.El, ctx)
			if err != nil {
				return nil, err
			}
			values = append(values, value)
			pieces = append(pieces, Stringify(value))
			continue
		}
		if strings.TrimSpace(part.Text) != "" {
			hasText = true
		}
		pieces = append(pieces, part.Text)
	}

	if !hasText {
		switch len(values) {
		case 0:
			return nil, nil
		case 1:
			return values[0], nil
		}
	}
	return strings.TrimSpace(strings.Join(pieces, "")), nil
}

// Stringify renders a model value for text interpolation. Whole floats print
// without a fraction so JSON-decoded integers read naturally.
func Stringify(value any) string {
	switch typed := value.(type) {
	case nil:
		return ""
	case string:
		return typed
	case float64:
		if typed == float64(int64(typed)) {
			return strconv.FormatInt(int64(typed), 10)
		}
		return strconv.FormatFloat(typed, 'g', -1, 64)
	default:
		return fmt.Sprint(value)
	}
}

// evalWorkflow clears the side-effect flag and evaluates children in order,
// returning true as soon as a rule evaluation left side effects behind.
func evalWorkflow(e *Engine, ctx *Context, el *Element) (any, error) {
	run := ctx.Run()
	run.HasSideEffects = false
	for _, child := range el.Children() {
		if _, err := e.Evaluate(child, ctx); err != nil {
			return nil, err
		}
		if child.Tag == "rule" && run.HasSideEffects {
			return true, nil
		}
	}
	return false, nil
}

// evalRule matches a path expression against the model and fires the rule
// body once per matching sub-node, honouring the blacklist and the limit
// attribute.
func evalRule(e *Engine, ctx *Context, el *Element) (any, error) {
	run := ctx.Run()
	ctx.markRule()

	ruleID := el.Attr("id")
	if ruleID == "" {
		ruleID = fmt.Sprintf("rule#%d", el.seq)
	}
	ctx.Set(ctxCurrentRuleID, ruleID)

	matchAttr := el.Attr("match")
	if matchAttr == "" {
		return nil, domain.NewDomainError(domain.ErrCodeInvalidInput,
			fmt.Sprintf("rule %s has no match attribute", ruleID), nil)
	}

	position, suffix := domain.SplitRelative(matchAttr, ctx.currentPosition())
	desc := el.Attr("desc")
	if desc == "" {
		desc = suffix
	}

	limit := 0
	if raw := el.Attr("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			return nil, domain.NewDomainError(domain.ErrCodeInvalidInput,
				fmt.Sprintf("rule %s has invalid limit %q", ruleID, raw), err)
		}
		limit = parsed
	}

	data, _, err := domain.GetPath(run.Model, position)
	if err != nil {
		return nil, err
	}

	expression, err := e.compiler.Compile(suffix)
	if err != nil {
		return nil, err
	}
	matches, err := expression.Match(data)
	if err != nil {
		return nil, err
	}

	index := 0
	for _, match := range matches {
		if limit > 0 && index >= limit {
			break
		}
		index++

		newPosition := append(append([]string(nil), position...), match.Path...)
		ctx.Set(ctxCurrentPosition, newPosition)

		entity := ""
		useBlacklist := false
		if object, ok := match.Node.(map[string]any); ok {
			if id, ok := object["id"]; ok {
				useBlacklist = true
				entity = Stringify(id)
			}
		}
		if useBlacklist && run.Blacklist.Banned(ruleID, entity) {
			continue
		}

		ctx.Set(ctxCurrentObject, match.Node)
		e.log.Debug().Str("rule", desc).Interface("object", match.Node).
			Msg("rule matched")

		// The auto-reset ban goes in before the body runs so each pass fires
		// at most once per entity, even when the body re-enters the matcher.
		if useBlacklist {
			run.Blacklist.Ban(ruleID, entity)
		}
		for _, child := range el.Children() {
			if child.Tag == "empty" {
				continue
			}
			if _, err := e.Evaluate(child, ctx); err != nil {
				return nil, err
			}
			if child.Tag == "rule" && run.HasSideEffects {
				break
			}
		}
	}

	if index == 0 {
		if empty := el.Find("empty"); empty != nil {
			e.log.Debug().Str("rule", desc).Msg("running empty handler")
			if _, err := e.EvaluateContent(empty, ctx); err != nil {
				return nil, err
			}
		}
	}
	return nil, nil
}

// evalSet writes its evaluated content to the context, a named target, or the
// current model location. Only a real change (deep inequality) raises the
// side-effect flag; config keys are read-only.
func evalSet(e *Engine, ctx *Context, el *Element) (any, error) {
	run := ctx.Run()
	path := el.Attr("path")
	if path == "" {
		return nil, domain.NewDomainError(domain.ErrCodeInvalidInput,
			"set element has no path attribute", nil)
	}

	body, err := e.EvaluateContent(el, ctx)
	if err != nil {
		return nil, err
	}

	switch {
	case strings.HasPrefix(path, "##"):
		return nil, domain.NewDomainError(domain.ErrCodeReadOnly,
			"cannot modify engine configuration from a rule document", nil)
	case strings.HasPrefix(path, "#"):
		e.log.Debug().Str("variable", path[1:]).Interface("value", body).
			Msg("setting context variable")
		ctx.Set(":"+path[1:], body)
		return nil, nil
	}

	if target := el.Attr("target"); target != "" {
		data := ctx.Get(target)
		steps := strings.Split(path, ".")
		current, _, err := domain.GetPath(data, steps)
		if err != nil {
			return nil, err
		}
		if !domain.DeepEqual(current, body) {
			e.log.Debug().Str("path", path).Interface("value", body).Msg("setting value")
			if err := domain.SetPath(data, steps, body); err != nil {
				return nil, err
			}
			run.HasSideEffects = true
		}
		return nil, nil
	}

	steps := domain.ResolvePath(path, ctx.currentPosition())
	current, _, err := domain.GetPath(run.Model, steps)
	if err != nil {
		return nil, err
	}
	if !domain.DeepEqual(current, body) {
		e.log.Debug().Str("path", path).Interface("value", body).Msg("setting value")
		if err := domain.SetPath(run.Model, steps, body); err != nil {
			return nil, err
		}
		run.HasSideEffects = true
	}
	return nil, nil
}

// evalSelect reads a value from the engine config ('##'), the context ('#'),
// a named source, or the current model location, with an optional default for
// falsy results.
func evalSelect(e *Engine, ctx *Context, el *Element) (any, error) {
	run := ctx.Run()
	path := el.Attr("path")

	var result any
	switch {
	case strings.HasPrefix(path, "##"):
		result = run.Config[path[2:]]
	case strings.HasPrefix(path, "#"):
		result = ctx.Get(path[1:])
	case el.Attr("source") != "":
		data := ctx.Get(el.Attr("source"))
		value, _, err := domain.GetPath(data, strings.Split(path, "."))
		if err != nil {
			return nil, err
		}
		result = value
	default:
		value, _, err := domain.GetPath(run.Model, domain.ResolvePath(path, ctx.currentPosition()))
		if err != nil {
			return nil, err
		}
		result = value
	}

	if domain.IsFalsy(result) {
		if def := el.Attr("default"); def != "" {
			return def, nil
		}
	}
	return result, nil
}

// evalSelectAll enumerates every value matched by a path expression without
// mutating the model.
func evalSelectAll(e *Engine, ctx *Context, el *Element) (any, error) {
	nodes, err := e.selectNodes(ctx, el)
	if err != nil {
		return nil, err
	}
	if raw := el.Attr("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			return nil, domain.NewDomainError(domain.ErrCodeInvalidInput,
				fmt.Sprintf("select-all has invalid limit %q", raw), err)
		}
		if limit > 0 && len(nodes) > limit {
			nodes = nodes[:limit]
		}
	}
	return nodes, nil
}

// evalSelectSingle returns the first matched value or nil.
func evalSelectSingle(e *Engine, ctx *Context, el *Element) (any, error) {
	nodes, err := e.selectNodes(ctx, el)
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, nil
	}
	return nodes[0], nil
}

func (e *Engine) selectNodes(ctx *Context, el *Element) ([]any, error) {
	run := ctx.Run()
	path := el.Attr("path")

	var data any
	expression := path
	if source := el.Attr("source"); source != "" {
		data = ctx.Get(source)
	} else {
		position, suffix := domain.SplitRelative(path, ctx.currentPosition())
		value, _, err := domain.GetPath(run.Model, position)
		if err != nil {
			return nil, err
		}
		data = value
		expression = suffix
	}

	compiled, err := e.compiler.Compile(expression)
	if err != nil {
		return nil, err
	}
	matches, err := compiled.Match(data)
	if err != nil {
		return nil, err
	}
	nodes := make([]any, 0, len(matches))
	for _, match := range matches {
		nodes = append(nodes, match.Node)
	}
	return nodes, nil
}

// evalMute installs a permanent ban for the current or specified pair.
func evalMute(e *Engine, ctx *Context, el *Element) (any, error) {
	rule, entity := pairFromContext(ctx, el)
	ctx.Run().Blacklist.Mute(rule, entity)
	return nil, nil
}

// evalUnmute removes any ban of the current or specified pair.
func evalUnmute(e *Engine, ctx *Context, el *Element) (any, error) {
	rule, entity := pairFromContext(ctx, el)
	ctx.Run().Blacklist.Unmute(rule, entity)
	return nil, nil
}

func pairFromContext(ctx *Context, el *Element) (rule, entity string) {
	rule = el.Attr("rule")
	if rule == "" {
		rule, _ = ctx.Get(ctxCurrentRuleID).(string)
	}
	entity = el.Attr("id")
	if entity == "" {
		if object, ok := ctx.Get(ctxCurrentObject).(map[string]any); ok {
			entity = Stringify(object["id"])
		}
	}
	return rule, entity
}

// evalStop writes the stop sentinel observed by the task runtime after the
// next dispatcher drain.
func evalStop(e *Engine, ctx *Context, el *Element) (any, error) {
	run := ctx.Run()
	return nil, domain.SetPath(run.Model, []string{"temp", "_stop_requested"}, true)
}

// evalEmpty exists so documents can carry <empty> handlers; the rule handler
// evaluates their content itself.
func evalEmpty(e *Engine, ctx *Context, el *Element) (any, error) {
	return nil, nil
}

// attrValue resolves an attribute that may reference a context variable with
// a '#' prefix; plain values pass through as strings.
func attrValue(ctx *Context, raw string) any {
	if strings.HasPrefix(raw, "#") {
		return ctx.Get(raw[1:])
	}
	if raw == "" {
		return nil
	}
	return raw
}

// attrMapping resolves an attribute expected to hold a mapping (usually via a
// '#' context reference).
func attrMapping(ctx *Context, raw string) map[string]any {
	if mapping, ok := attrValue(ctx, raw).(map[string]any); ok {
		return mapping
	}
	return map[string]any{}
}
