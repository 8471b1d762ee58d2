package interpreter

import (
	"strings"

	"github.com/smilemakc/conductor/internal/application/dispatcher"
	"github.com/smilemakc/conductor/internal/domain"
)

// Reporter forwards progress and error events to the outbound notifications
// channel.
type Reporter interface {
	Report(text string)
	ReportError(text string, err error)
}

// Run is the per-pass execution state shared by every element handler: the
// model root, the command dispatcher, the reporter, the engine configuration
// map, the active workflow's blacklist and the side-effect flag.
type Run struct {
	Task        *domain.Task
	Model       domain.Model
	Dispatcher  *dispatcher.Dispatcher
	Reporter    Reporter
	Config      map[string]any
	Blacklist   *Blacklist
	DataDir     string
	MetadataDir string
	Hostnames   *HostnameGenerator

	// HasSideEffects turns true when an element actually mutates the model,
	// signalling the fixpoint loop to re-evaluate.
	HasSideEffects bool
}

// Context is a chain of frames carrying interpreter variables. Keys beginning
// with '/' live in the root frame and survive the whole pass; keys set with a
// ':' prefix land in the nearest enclosing rule frame; plain keys belong to
// the current frame and lookups walk the chain outward.
type Context struct {
	parent *Context
	values map[string]any
	run    *Run
	isRule bool
}

// NewContext creates the root frame of a pass.
func NewContext(run *Run) *Context {
	return &Context{values: map[string]any{}, run: run}
}

// Child opens a nested frame. Every element evaluation gets its own frame so
// sibling elements cannot leak plain variables into each other.
func (c *Context) Child() *Context {
	return &Context{parent: c, values: map[string]any{}}
}

// Run returns the shared execution state.
func (c *Context) Run() *Run {
	frame := c
	for frame.parent != nil {
		frame = frame.parent
	}
	return frame.run
}

func (c *Context) root() *Context {
	frame := c
	for frame.parent != nil {
		frame = frame.parent
	}
	return frame
}

// markRule tags this frame as a rule body scope, the target of ':'-prefixed
// writes.
func (c *Context) markRule() {
	c.isRule = true
}

// Get resolves a variable. '/'-prefixed keys read the root frame; other keys
// walk the frame chain outward and return nil when unset.
func (c *Context) Get(key string) any {
	if strings.HasPrefix(key, "/") {
		return c.root().values[key]
	}
	for frame := c; frame != nil; frame = frame.parent {
		if value, ok := frame.values[key]; ok {
			return value
		}
	}
	return nil
}

// Set stores a variable. '/'-prefixed keys go to the root frame, ':'-prefixed
// keys go to the nearest rule frame (stripped of the prefix), plain keys go
// to the current frame.
func (c *Context) Set(key string, value any) {
	switch {
	case strings.HasPrefix(key, "/"):
		c.root().values[key] = value
	case strings.HasPrefix(key, ":"):
		target := c
		for frame := c; frame != nil; frame = frame.parent {
			if frame.isRule {
				target = frame
				break
			}
			if frame.parent == nil {
				target = frame
			}
		}
		target.values[key[1:]] = value
	default:
		c.values[key] = value
	}
}

// Cursor keys maintained by the rule handler.
const (
	ctxCurrentPosition = "__currentPosition"
	ctxCurrentObject   = "__currentObject"
	ctxCurrentRuleID   = "__currentRuleId"
)

// currentPosition returns the data-source cursor of the innermost rule.
func (c *Context) currentPosition() []string {
	if position, ok := c.Get(ctxCurrentPosition).([]string); ok {
		return position
	}
	return nil
}
