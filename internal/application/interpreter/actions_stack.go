package interpreter

import (
	"time"
)

// actionUpdateStack enqueues a CreateOrUpdate command on the stack
// orchestrator. The callback wires outputs back into the context and runs the
// success or failure sub-block.
func actionUpdateStack(e *Engine, ctx *Context, el *Element) (any, error) {
	run := ctx.Run()
	template := el.Attr("template")
	resultKey := el.Attr("result")
	errorKey := el.Attr("error")
	mappings := attrMapping(ctx, el.Attr("mappings"))
	arguments := attrMapping(ctx, el.Attr("arguments"))

	callback := func(result any, cmdErr error) error {
		if resultKey != "" {
			ctx.Set(resultKey, result)
		}
		if cmdErr != nil {
			if errorKey != "" {
				ctx.Set(errorKey, map[string]any{
					"message":   cmdErr.Error(),
					"timestamp": time.Now().Unix(),
				})
			}
			failure := el.Find("failure")
			if failure == nil {
				e.log.Error().Err(cmdErr).Msg("no failure block found for stack error")
				return cmdErr
			}
			e.log.Warn().Err(cmdErr).Msg("handling stack error in failure block")
			_, err := e.EvaluateContent(failure, ctx)
			return err
		}
		if success := el.Find("success"); success != nil {
			_, err := e.EvaluateContent(success, ctx)
			return err
		}
		return nil
	}

	return nil, run.Dispatcher.Stack().CreateOrUpdate(template, mappings, arguments, callback)
}

// actionDeleteStack enqueues a Delete command on the stack orchestrator.
// Deletion of a missing stack completes without error.
func actionDeleteStack(e *Engine, ctx *Context, el *Element) (any, error) {
	run := ctx.Run()

	callback := func(result any, cmdErr error) error {
		if success := el.Find("success"); success != nil {
			_, err := e.EvaluateContent(success, ctx)
			return err
		}
		return nil
	}

	run.Dispatcher.Stack().Delete(callback)
	return nil, nil
}
