package interpreter

// actionGetCIDR asks the network helper for a subnet CIDR: the next free one
// under a router, or the CIDR of an existing network.
func actionGetCIDR(e *Engine, ctx *Context, el *Element) (any, error) {
	run := ctx.Run()
	resultKey := el.Attr("result")
	routerID := Stringify(attrValue(ctx, el.Attr("routerId")))
	existingNetwork := Stringify(attrValue(ctx, el.Attr("existingNetwork")))

	callback := func(result any, cmdErr error) error {
		if cmdErr != nil {
			return cmdErr
		}
		if resultKey != "" {
			ctx.Set(resultKey, map[string]any{"cidr": result})
		}
		if success := el.Find("success"); success != nil {
			_, err := e.EvaluateContent(success, ctx)
			return err
		}
		return nil
	}

	if existingNetwork != "" {
		run.Dispatcher.Network().GetExistingSubnet(existingNetwork, callback)
	} else {
		run.Dispatcher.Network().GetNewSubnet(routerID, callback)
	}
	return nil, nil
}

// actionGetDefaultRouter resolves the environment's default router id.
func actionGetDefaultRouter(e *Engine, ctx *Context, el *Element) (any, error) {
	run := ctx.Run()
	resultKey := el.Attr("result")

	callback := func(result any, cmdErr error) error {
		if cmdErr != nil {
			return cmdErr
		}
		if resultKey != "" {
			ctx.Set(resultKey, map[string]any{"routerId": result, "floatingId": nil})
		}
		if success := el.Find("success"); success != nil {
			_, err := e.EvaluateContent(success, ctx)
			return err
		}
		return nil
	}

	run.Dispatcher.Network().GetDefaultRouter(callback)
	return nil, nil
}

// actionGetDefaultNetwork resolves the environment's default network id.
func actionGetDefaultNetwork(e *Engine, ctx *Context, el *Element) (any, error) {
	run := ctx.Run()
	resultKey := el.Attr("result")

	callback := func(result any, cmdErr error) error {
		if cmdErr != nil {
			return cmdErr
		}
		if resultKey != "" {
			ctx.Set(resultKey, map[string]any{"networkId": result})
		}
		if success := el.Find("success"); success != nil {
			_, err := e.EvaluateContent(success, ctx)
			return err
		}
		return nil
	}

	run.Dispatcher.Network().GetDefaultNetwork(callback)
	return nil, nil
}

// actionGetNetTopology returns the configured network topology synchronously.
func actionGetNetTopology(e *Engine, ctx *Context, el *Element) (any, error) {
	return ctx.Run().Config["network_topology"], nil
}
