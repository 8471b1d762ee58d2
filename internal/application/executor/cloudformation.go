// Package executor implements the command back-ends behind the dispatcher:
// the stack orchestrator, the unit-agent messenger, and the network helper.
// Each batches requests issued during an interpreter pass and flushes them as
// one unit during the dispatcher drain.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/smilemakc/conductor/internal/application/dispatcher"
	"github.com/smilemakc/conductor/internal/domain"
	"github.com/smilemakc/conductor/internal/infrastructure/network"
	"github.com/smilemakc/conductor/internal/infrastructure/stack"
)

const (
	stackPollInterval  = 2 * time.Second
	stackRetryInitial  = 1 * time.Second
	stackRetryAttempts = 4
)

type updateRequest struct {
	template  map[string]any
	arguments map[string]any
	callback  dispatcher.Callback
}

// StackExecutor batches CreateOrUpdate and Delete commands against one
// environment's stack. All queued updates flush as a single create-or-update:
// templates deep-merge, arguments shallow-merge, and every callback receives
// the same outcome.
type StackExecutor struct {
	stackName   string
	client      stack.Client
	networks    network.Client
	templateDir string
	log         zerolog.Logger

	updates []updateRequest
	deletes []dispatcher.Callback

	pollInterval time.Duration
	retryInitial time.Duration
}

// NewStackExecutor builds the executor for one task's environment. The
// template dir is the cf template root of the task's metadata checkout.
func NewStackExecutor(stackName string, client stack.Client, networks network.Client,
	templateDir string, log zerolog.Logger) *StackExecutor {
	return &StackExecutor{
		stackName:    stackName,
		client:       client,
		networks:     networks,
		templateDir:  templateDir,
		log:          log,
		pollInterval: stackPollInterval,
		retryInitial: stackRetryInitial,
	}
}

// CreateOrUpdate loads a named template, substitutes the mappings into it and
// queues it for the next flush.
func (x *StackExecutor) CreateOrUpdate(template string, mappings, arguments map[string]any,
	cb dispatcher.Callback) error {
	x.log.Debug().Str("template", template).Str("stack", x.stackName).
		Msg("queueing stack update")

	raw, err := os.ReadFile(filepath.Join(x.templateDir, template+".template"))
	if err != nil {
		return domain.NewDomainError(domain.ErrCodeNotFound,
			fmt.Sprintf("cannot read stack template %s", template), err)
	}
	var parsed map[string]any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return domain.NewDomainError(domain.ErrCodeInvalidInput,
			fmt.Sprintf("stack template %s is not valid JSON", template), err)
	}

	if mappings == nil {
		mappings = map[string]any{}
	}
	if _, ok := mappings["externalNetworkId"]; !ok {
		if id := x.externalNetworkID(); id != "" {
			mappings["externalNetworkId"] = id
		}
	}

	transformed, _ := domain.TransformJSON(parsed, mappings).(map[string]any)
	x.updates = append(x.updates, updateRequest{
		template:  transformed,
		arguments: arguments,
		callback:  cb,
	})
	return nil
}

// Delete queues a stack deletion.
func (x *StackExecutor) Delete(cb dispatcher.Callback) {
	x.deletes = append(x.deletes, cb)
}

func (x *StackExecutor) externalNetworkID() string {
	networks, err := x.networks.ListNetworks(context.Background())
	if err != nil {
		x.log.Error().Err(err).Msg("cannot list external networks")
		return ""
	}
	var external []network.Network
	for _, net := range networks {
		if net.External {
			external = append(external, net)
		}
	}
	if len(external) == 0 {
		x.log.Error().Msg("no external networks found")
		return ""
	}
	if len(external) > 1 {
		x.log.Warn().Msg("multiple external networks found, will use the first one")
	}
	return external[0].ID
}

func (x *StackExecutor) HasPending() bool {
	return len(x.updates)+len(x.deletes) > 0
}

// Flush waits the stack out of any in-progress state, then applies queued
// updates and deletes.
func (x *StackExecutor) Flush(ctx context.Context) (bool, error) {
	if !x.HasPending() {
		return false, nil
	}
	if _, err := x.waitState(ctx, func(string) bool { return true }); err != nil {
		return false, err
	}
	didUpdates, err := x.flushUpdates(ctx)
	if err != nil {
		return didUpdates, err
	}
	didDeletes, err := x.flushDeletes(ctx)
	return didUpdates || didDeletes, err
}

func (x *StackExecutor) Close() error { return nil }

func (x *StackExecutor) flushUpdates(ctx context.Context) (bool, error) {
	if len(x.updates) == 0 {
		return false, nil
	}

	pending := x.updates
	x.updates = nil

	outputs, flushErr := x.applyUpdates(ctx, pending)
	var firstCallbackErr error
	for _, request := range pending {
		var err error
		if flushErr != nil {
			err = request.callback(nil, flushErr)
		} else {
			err = request.callback(outputs, nil)
		}
		if err != nil && firstCallbackErr == nil {
			firstCallbackErr = err
		}
	}
	return true, firstCallbackErr
}

func (x *StackExecutor) applyUpdates(ctx context.Context, pending []updateRequest) (map[string]any, error) {
	_, getErr := x.getWithRetry(ctx)
	stackExists := getErr == nil
	if getErr != nil && !errors.Is(getErr, stack.ErrNotFound) {
		return nil, getErr
	}

	// The stack is rebuilt from scratch on every deployment, so the live
	// template is never merged in.
	template := map[string]any{}
	arguments := map[string]any{}
	var err error
	for _, request := range pending {
		template, err = domain.MergeDicts(template, request.template, 0)
		if err != nil {
			return nil, err
		}
		arguments, err = domain.MergeDicts(arguments, request.arguments, 1)
		if err != nil {
			return nil, err
		}
	}

	x.log.Info().Str("stack", x.stackName).Interface("arguments", arguments).
		Msg("executing stack template")

	if stackExists {
		if err := x.client.Update(ctx, x.stackName, template, arguments); err != nil {
			return nil, err
		}
		x.log.Debug().Str("stack", x.stackName).Msg("waiting for the stack to be updated")
		outputs, err := x.waitState(ctx, func(status string) bool {
			return status == "UPDATE_COMPLETE"
		})
		if err != nil {
			return nil, err
		}
		x.log.Info().Str("stack", x.stackName).Msg("stack updated")
		return outputs, nil
	}

	if err := x.client.Create(ctx, x.stackName, template, arguments); err != nil {
		return nil, err
	}
	x.log.Debug().Str("stack", x.stackName).Msg("waiting for the stack to be created")
	outputs, err := x.waitState(ctx, func(status string) bool {
		return status == "CREATE_COMPLETE"
	})
	if err != nil {
		return nil, err
	}
	x.log.Info().Str("stack", x.stackName).Msg("stack created")
	return outputs, nil
}

func (x *StackExecutor) flushDeletes(ctx context.Context) (bool, error) {
	if len(x.deletes) == 0 {
		return false, nil
	}

	x.log.Debug().Str("stack", x.stackName).Msg("deleting stack")
	if err := x.client.Delete(ctx, x.stackName); err != nil && !errors.Is(err, stack.ErrNotFound) {
		x.log.Error().Err(err).Str("stack", x.stackName).Msg("stack delete request failed")
	} else {
		if _, err := x.waitState(ctx, func(status string) bool {
			return status == "DELETE_COMPLETE" || status == "NOT_FOUND"
		}); err != nil {
			x.log.Error().Err(err).Str("stack", x.stackName).Msg("stack delete wait failed")
		} else {
			x.log.Info().Str("stack", x.stackName).Msg("stack deleted")
		}
	}

	pending := x.deletes
	x.deletes = nil
	var firstErr error
	for _, cb := range pending {
		if err := cb(true, nil); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return true, firstErr
}

// waitState polls the stack until it leaves every in-progress state, then
// checks the terminal state against accept and returns the stack outputs.
func (x *StackExecutor) waitState(ctx context.Context, accept func(status string) bool) (map[string]any, error) {
	for {
		info, err := x.getWithRetry(ctx)
		status := "NOT_FOUND"
		if err != nil && !errors.Is(err, stack.ErrNotFound) {
			return nil, err
		}
		if info != nil {
			status = info.Status
		}

		if strings.Contains(status, "IN_PROGRESS") {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(x.pollInterval):
			}
			continue
		}
		if !accept(status) {
			return nil, &domain.StackStateError{Stack: x.stackName, Status: status}
		}
		if info == nil || info.Outputs == nil {
			return map[string]any{}, nil
		}
		return info.Outputs, nil
	}
}

// getWithRetry looks the stack up, retrying transient errors with doubling
// delays. Absence is a result, not an error to retry.
func (x *StackExecutor) getWithRetry(ctx context.Context) (*stack.Stack, error) {
	var info *stack.Stack
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = x.retryInitial
	policy.Multiplier = 2
	policy.RandomizationFactor = 0

	err := backoff.Retry(func() error {
		var err error
		info, err = x.client.Get(ctx, x.stackName)
		if errors.Is(err, stack.ErrNotFound) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(policy, stackRetryAttempts), ctx))

	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		return nil, permanent.Err
	}
	return info, err
}
