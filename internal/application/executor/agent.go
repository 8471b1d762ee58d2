package executor

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/smilemakc/conductor/internal/application/dispatcher"
	"github.com/smilemakc/conductor/internal/domain"
	"github.com/smilemakc/conductor/internal/infrastructure/bus"
	"github.com/smilemakc/conductor/pkg/agentplan"
)

type pendingCommand struct {
	id             string
	callback       dispatcher.Callback
	timeoutSeconds float64 // 0 means no deadline
}

// AgentExecutor sends execution plans to the on-instance agents of one
// environment and matches their replies back to the issuing callbacks.
type AgentExecutor struct {
	stackName    string
	client       bus.Client
	templateDir  string
	resultsQueue string
	log          zerolog.Logger

	pending []pendingCommand
}

// NewAgentExecutor declares the environment's result queue and returns the
// executor.
func NewAgentExecutor(stackName string, client bus.Client, templateDir string,
	log zerolog.Logger) (*AgentExecutor, error) {
	resultsQueue := strings.ToLower("-execution-results-" + stackName)
	if err := client.Declare(resultsQueue); err != nil {
		return nil, err
	}
	return &AgentExecutor{
		stackName:    stackName,
		client:       client,
		templateDir:  templateDir,
		resultsQueue: resultsQueue,
		log:          log,
	}, nil
}

// Send loads the named execution plan, substitutes the mappings, and ships it
// on the unit's queue. The reply is collected during the next flush.
func (x *AgentExecutor) Send(template string, mappings map[string]any, service, unit string,
	timeoutSeconds float64, cb dispatcher.Callback) error {
	planPath := filepath.Join(x.templateDir, template+".template")
	plan, planID, err := agentplan.Load(planPath)
	if err != nil {
		return err
	}
	transformed, _ := domain.TransformJSON(plan, mappings).(map[string]any)

	queue := strings.ToLower(x.stackName + "-" + service + "-" + unit)
	if err := x.client.Declare(queue); err != nil {
		return err
	}
	if err := x.client.Publish("", queue, &bus.Message{ID: planID, Body: transformed}); err != nil {
		return err
	}
	x.log.Info().Str("queue", queue).Str("plan_id", planID).
		Msg("sent execution plan to agent")

	x.pending = append(x.pending, pendingCommand{
		id:             planID,
		callback:       cb,
		timeoutSeconds: timeoutSeconds,
	})
	return nil
}

func (x *AgentExecutor) HasPending() bool {
	return len(x.pending) > 0
}

// Flush opens the result queue and waits until every pending command has
// either a reply or a timeout.
func (x *AgentExecutor) Flush(ctx context.Context) (bool, error) {
	if !x.HasPending() {
		return false, nil
	}

	subscription, err := x.client.Subscribe(x.resultsQueue)
	if err != nil {
		return false, err
	}
	defer subscription.Close()

	for len(x.pending) > 0 {
		timeout := x.maxTimeout()
		if timeout > 0 {
			x.log.Debug().Float64("timeout_sec", timeout).Int("remaining", len(x.pending)).
				Msg("waiting for agent responses")
		} else {
			x.log.Debug().Int("remaining", len(x.pending)).
				Msg("waiting for agent responses indefinitely")
		}

		message, err := subscription.Get(time.Duration(timeout * float64(time.Second)))
		if err != nil {
			return true, err
		}

		if message == nil {
			// Deadline passed: every remaining command times out together.
			expired := x.pending
			x.pending = nil
			var firstErr error
			for _, command := range expired {
				timeoutErr := &domain.AgentTimeoutError{Timeout: timeout}
				if err := command.callback(nil, timeoutErr); err != nil && firstErr == nil {
					firstErr = err
				}
			}
			if firstErr != nil {
				return true, firstErr
			}
			continue
		}

		if err := message.Ack(); err != nil {
			x.log.Warn().Err(err).Msg("cannot acknowledge agent reply")
		}
		sourceID, _ := message.Body["SourceID"].(string)
		if sourceID == "" {
			sourceID = message.ID
		}
		matched := false
		for i, command := range x.pending {
			if command.id == sourceID {
				x.pending = append(x.pending[:i], x.pending[i+1:]...)
				matched = true
				if err := command.callback(message.Body, nil); err != nil {
					return true, err
				}
				break
			}
		}
		if !matched {
			x.log.Warn().Str("source_id", sourceID).
				Msg("agent reply does not match any pending command")
		}
	}
	return true, nil
}

func (x *AgentExecutor) Close() error { return nil }

// maxTimeout returns the widest deadline across pending commands; 0 when any
// command waits without one.
func (x *AgentExecutor) maxTimeout() float64 {
	max := 0.0
	for _, command := range x.pending {
		if command.timeoutSeconds <= 0 {
			return 0
		}
		if command.timeoutSeconds > max {
			max = command.timeoutSeconds
		}
	}
	return max
}
