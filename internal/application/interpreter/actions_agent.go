package interpreter

import (
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/smilemakc/conductor/internal/domain"
)

// actionSendCommand builds an execution plan and sends it to a unit's agent.
// The callback splits the reply into ok/error lists, stores them under the
// result/error context keys, and runs the success/failure sub-blocks. Errors
// without a failure block abort the task.
func actionSendCommand(e *Engine, ctx *Context, el *Element) (any, error) {
	run := ctx.Run()
	template := el.Attr("template")
	service := Stringify(attrValue(ctx, el.Attr("service")))
	unit := Stringify(attrValue(ctx, el.Attr("unit")))
	mappings := attrMapping(ctx, el.Attr("mappings"))
	resultKey := el.Attr("result")
	errorKey := el.Attr("error")

	if osVersion := el.Attr("osVersion"); osVersion != "" {
		template = path.Join(osVersion, template)
	}

	timeout := 0.0
	if raw := el.Attr("timeout"); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, domain.NewDomainError(domain.ErrCodeInvalidInput,
				fmt.Sprintf("send-command has invalid timeout %q", raw), err)
		}
		timeout = parsed
	}

	callback := func(result any, cmdErr error) error {
		e.log.Info().Str("template", template).Str("unit", unit).
			Msg("received result from agent")

		ok, agentErrors := extractAgentResults(result, cmdErr)

		if len(ok) > 0 {
			if resultKey != "" {
				ctx.Set(resultKey, ok)
			}
			if success := el.Find("success"); success != nil {
				if _, err := e.EvaluateContent(success, ctx); err != nil {
					return err
				}
			}
		}
		if len(agentErrors) > 0 {
			if errorKey != "" {
				ctx.Set(errorKey, agentErrors)
			}
			failure := el.Find("failure")
			if failure == nil {
				e.log.Error().Interface("errors", agentErrors).
					Msg("no failure block found for agent errors")
				var timeoutErr *domain.AgentTimeoutError
				if errors.As(cmdErr, &timeoutErr) {
					return cmdErr
				}
				return &domain.UnhandledAgentError{Errors: agentErrors}
			}
			e.log.Warn().Interface("errors", agentErrors).
				Msg("handling agent errors in failure block")
			if _, err := e.EvaluateContent(failure, ctx); err != nil {
				return err
			}
		}
		return nil
	}

	return nil, run.Dispatcher.Agent().Send(template, mappings, service, unit, timeout, callback)
}

// extractAgentResults splits an agent reply into successful command results
// and error records. Timeouts become a dedicated error kind so rules can tell
// them apart from agent-reported failures.
func extractAgentResults(result any, cmdErr error) (ok []any, agentErrors []map[string]any) {
	var timeoutErr *domain.AgentTimeoutError
	if errors.As(cmdErr, &timeoutErr) {
		agentErrors = append(agentErrors, map[string]any{
			"source":    "timeout",
			"message":   timeoutErr.Error(),
			"timeout":   timeoutErr.Timeout,
			"timestamp": time.Now().Format(time.RFC3339),
		})
		return nil, agentErrors
	}

	reply, isMap := result.(map[string]any)
	if !isMap {
		return nil, nil
	}

	formatVersion, _ := reply["FormatVersion"].(string)
	if formatVersion == "" || strings.HasPrefix(formatVersion, "1.") {
		return extractV1Results(reply)
	}
	return extractV2Results(reply)
}

func extractV1Results(reply map[string]any) (ok []any, agentErrors []map[string]any) {
	if isException, _ := reply["IsException"].(bool); isException {
		record := exceptionInfo(reply["Result"])
		record["source"] = "execution_plan"
		return nil, []map[string]any{record}
	}
	results, _ := reply["Result"].([]any)
	for _, item := range results {
		entry, isMap := item.(map[string]any)
		if !isMap {
			continue
		}
		if isException, _ := entry["IsException"].(bool); isException {
			record := exceptionInfo(entry["Result"])
			record["source"] = "command"
			agentErrors = append(agentErrors, record)
		} else {
			ok = append(ok, entry)
		}
	}
	return ok, agentErrors
}

func extractV2Results(reply map[string]any) (ok []any, agentErrors []map[string]any) {
	errorCode, _ := reply["ErrorCode"].(float64)
	if errorCode == 0 {
		return []any{reply["Body"]}, nil
	}
	body, _ := reply["Body"].(map[string]any)
	record := map[string]any{
		"message":   body["Message"],
		"details":   body["AdditionalInfo"],
		"errorCode": errorCode,
		"time":      reply["Time"],
	}
	extra := map[string]any{}
	for key, value := range body {
		if key != "Message" && key != "AdditionalInfo" {
			extra[key] = value
		}
	}
	if len(extra) > 0 {
		record["extra"] = extra
	} else {
		record["extra"] = nil
	}
	return nil, []map[string]any{record}
}

// exceptionInfo unpacks the positional exception tuple of a v1 reply.
func exceptionInfo(data any) map[string]any {
	items, _ := data.([]any)
	at := func(index int) any {
		if index < len(items) {
			return items[index]
		}
		return nil
	}
	return map[string]any{
		"type":      at(0),
		"message":   at(1),
		"command":   at(2),
		"details":   at(3),
		"timestamp": time.Now().Format(time.RFC3339),
	}
}
