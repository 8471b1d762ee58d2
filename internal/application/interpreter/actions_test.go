package interpreter

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smilemakc/conductor/internal/application/dispatcher"
	"github.com/smilemakc/conductor/internal/domain"
)

// capturingStack records CreateOrUpdate calls and lets the test fire the
// callback the way a flush would.
type capturingStack struct {
	fakeStackExecutor
	template  string
	mappings  map[string]any
	arguments map[string]any
	callback  dispatcher.Callback
	deletes   []dispatcher.Callback
}

func (c *capturingStack) CreateOrUpdate(template string, mappings, arguments map[string]any, cb dispatcher.Callback) error {
	c.template = template
	c.mappings = mappings
	c.arguments = arguments
	c.callback = cb
	return nil
}

func (c *capturingStack) Delete(cb dispatcher.Callback) {
	c.deletes = append(c.deletes, cb)
}

type capturingAgent struct {
	fakeAgentExecutor
	template string
	service  string
	unit     string
	timeout  float64
	callback dispatcher.Callback
}

func (c *capturingAgent) Send(template string, mappings map[string]any, service, unit string, timeoutSeconds float64, cb dispatcher.Callback) error {
	c.template = template
	c.service = service
	c.unit = unit
	c.timeout = timeoutSeconds
	c.callback = cb
	return nil
}

func capturingRun(t *testing.T, model map[string]any, stack *capturingStack, agent *capturingAgent) *Run {
	t.Helper()
	run := testRun(t, model)
	run.Dispatcher = dispatcher.New(stack, agent, fakeNetworkExecutor{}, zerolog.Nop())
	return run
}

func TestUpdateCFStackDispatchAndSuccess(t *testing.T) {
	model := adModel()
	stack := &capturingStack{}
	agent := &capturingAgent{}
	var successSaw any
	workflow := testWorkflow(t, `<workflow>
		<rule match="$.services.activeDirectories[*][?(not @.sent)]">
			<set path="sent">yes</set>
			<set path="#mappings"><build-mappings/></set>
			<update-cf-stack template="test" mappings="#mappings" result="stackOut">
				<success><observe/></success>
			</update-cf-stack>
		</rule>
	</workflow>`, map[string]Handler{
		"build-mappings": func(e *Engine, ctx *Context, el *Element) (any, error) {
			return map[string]any{"name": "testName"}, nil
		},
		"observe": func(e *Engine, ctx *Context, el *Element) (any, error) {
			successSaw = ctx.Get("stackOut")
			return nil, nil
		},
	})
	run := capturingRun(t, model, stack, agent)

	_, err := workflow.Execute(run)
	require.NoError(t, err)

	assert.Equal(t, "test", stack.template)
	assert.Equal(t, map[string]any{"name": "testName"}, stack.mappings)
	require.NotNil(t, stack.callback)

	// Simulate the flush resolving with stack outputs.
	require.NoError(t, stack.callback(map[string]any{"ip": "10.0.0.5"}, nil))
	assert.Equal(t, map[string]any{"ip": "10.0.0.5"}, successSaw)
}

func TestUpdateCFStackFailureWithoutHandlerAborts(t *testing.T) {
	model := adModel()
	stack := &capturingStack{}
	agent := &capturingAgent{}
	workflow := testWorkflow(t, `<workflow>
		<rule match="$.services.activeDirectories[*][?(not @.sent)]">
			<set path="sent">yes</set>
			<update-cf-stack template="test"/>
		</rule>
	</workflow>`, nil)
	run := capturingRun(t, model, stack, agent)

	_, err := workflow.Execute(run)
	require.NoError(t, err)
	require.NotNil(t, stack.callback)

	flushErr := &domain.StackStateError{Stack: "eenv1", Status: "CREATE_FAILED"}
	assert.Error(t, stack.callback(nil, flushErr))
}

func TestUpdateCFStackFailureHandlerAbsorbsError(t *testing.T) {
	model := adModel()
	stack := &capturingStack{}
	agent := &capturingAgent{}
	handled := false
	workflow := testWorkflow(t, `<workflow>
		<rule match="$.services.activeDirectories[*][?(not @.sent)]">
			<set path="sent">yes</set>
			<update-cf-stack template="test" error="stackErr">
				<failure><observe/></failure>
			</update-cf-stack>
		</rule>
	</workflow>`, map[string]Handler{
		"observe": func(e *Engine, ctx *Context, el *Element) (any, error) {
			handled = true
			errInfo, _ := ctx.Get("stackErr").(map[string]any)
			assert.Contains(t, errInfo["message"], "CREATE_FAILED")
			return nil, nil
		},
	})
	run := capturingRun(t, model, stack, agent)

	_, err := workflow.Execute(run)
	require.NoError(t, err)
	require.NotNil(t, stack.callback)

	flushErr := &domain.StackStateError{Stack: "eenv1", Status: "CREATE_FAILED"}
	assert.NoError(t, stack.callback(nil, flushErr))
	assert.True(t, handled)
}

func TestDeleteCFStackEnqueues(t *testing.T) {
	model := adModel()
	stack := &capturingStack{}
	agent := &capturingAgent{}
	workflow := testWorkflow(t, `<workflow>
		<rule match="$.services.activeDirectories[*][?(not @.deleted)]">
			<set path="deleted">yes</set>
			<delete-cf-stack/>
		</rule>
	</workflow>`, nil)
	run := capturingRun(t, model, stack, agent)

	_, err := workflow.Execute(run)
	require.NoError(t, err)
	require.Len(t, stack.deletes, 1)
	assert.NoError(t, stack.deletes[0](true, nil))
}

func TestSendCommandTimeoutWithoutFailureAborts(t *testing.T) {
	model := adModel()
	stack := &capturingStack{}
	agent := &capturingAgent{}
	workflow := testWorkflow(t, `<workflow>
		<rule match="$.services.activeDirectories[*][?(not @.sent)]">
			<set path="sent">yes</set>
			<send-command template="Deploy" service="s1" unit="u1" timeout="30"/>
		</rule>
	</workflow>`, nil)
	run := capturingRun(t, model, stack, agent)

	_, err := workflow.Execute(run)
	require.NoError(t, err)
	assert.Equal(t, "Deploy", agent.template)
	assert.Equal(t, 30.0, agent.timeout)
	require.NotNil(t, agent.callback)

	timeoutErr := &domain.AgentTimeoutError{Timeout: 30}
	assert.ErrorIs(t, agent.callback(nil, timeoutErr), timeoutErr)
}

func TestSendCommandTimeoutWithFailureHandler(t *testing.T) {
	model := adModel()
	stack := &capturingStack{}
	agent := &capturingAgent{}
	var captured []map[string]any
	workflow := testWorkflow(t, `<workflow>
		<rule match="$.services.activeDirectories[*][?(not @.sent)]">
			<set path="sent">yes</set>
			<send-command template="Deploy" service="s1" unit="u1" timeout="30" error="agentErrors">
				<failure><observe/></failure>
			</send-command>
		</rule>
	</workflow>`, map[string]Handler{
		"observe": func(e *Engine, ctx *Context, el *Element) (any, error) {
			captured, _ = ctx.Get("agentErrors").([]map[string]any)
			return nil, nil
		},
	})
	run := capturingRun(t, model, stack, agent)

	_, err := workflow.Execute(run)
	require.NoError(t, err)
	require.NotNil(t, agent.callback)

	assert.NoError(t, agent.callback(nil, &domain.AgentTimeoutError{Timeout: 30}))
	require.Len(t, captured, 1)
	assert.Equal(t, "timeout", captured[0]["source"])
}

func TestSendCommandSuccessResults(t *testing.T) {
	model := adModel()
	stack := &capturingStack{}
	agent := &capturingAgent{}
	var captured []any
	workflow := testWorkflow(t, `<workflow>
		<rule match="$.services.activeDirectories[*][?(not @.sent)]">
			<set path="sent">yes</set>
			<send-command template="Deploy" service="s1" unit="u1" result="agentOut">
				<success><observe/></success>
			</send-command>
		</rule>
	</workflow>`, map[string]Handler{
		"observe": func(e *Engine, ctx *Context, el *Element) (any, error) {
			captured, _ = ctx.Get("agentOut").([]any)
			return nil, nil
		},
	})
	run := capturingRun(t, model, stack, agent)

	_, err := workflow.Execute(run)
	require.NoError(t, err)
	require.NotNil(t, agent.callback)

	reply := map[string]any{
		"IsException": false,
		"Result": []any{
			map[string]any{"IsException": false, "Out": "done"},
		},
	}
	require.NoError(t, agent.callback(reply, nil))
	require.Len(t, captured, 1)
	assert.Equal(t, "done", captured[0].(map[string]any)["Out"])
}

func TestExtractAgentResultsV1Errors(t *testing.T) {
	reply := map[string]any{
		"IsException": true,
		"Result":      []any{"SomeError", "it broke", "cmd", "details"},
	}
	ok, agentErrors := extractAgentResults(reply, nil)
	assert.Empty(t, ok)
	require.Len(t, agentErrors, 1)
	assert.Equal(t, "execution_plan", agentErrors[0]["source"])
	assert.Equal(t, "it broke", agentErrors[0]["message"])
}

func TestExtractAgentResultsV1MixedCommands(t *testing.T) {
	reply := map[string]any{
		"IsException": false,
		"Result": []any{
			map[string]any{"IsException": false, "Out": "ok"},
			map[string]any{"IsException": true, "Result": []any{"E", "bad"}},
		},
	}
	ok, agentErrors := extractAgentResults(reply, nil)
	assert.Len(t, ok, 1)
	require.Len(t, agentErrors, 1)
	assert.Equal(t, "command", agentErrors[0]["source"])
}

func TestExtractAgentResultsV2(t *testing.T) {
	okReply := map[string]any{
		"FormatVersion": "2.0.0",
		"ErrorCode":     float64(0),
		"Body":          map[string]any{"Out": "fine"},
	}
	ok, agentErrors := extractAgentResults(okReply, nil)
	require.Len(t, ok, 1)
	assert.Empty(t, agentErrors)

	errReply := map[string]any{
		"FormatVersion": "2.0.0",
		"ErrorCode":     float64(2),
		"Time":          "now",
		"Body": map[string]any{
			"Message":        "boom",
			"AdditionalInfo": "details",
			"Custom":         "extra-data",
		},
	}
	ok, agentErrors = extractAgentResults(errReply, nil)
	assert.Empty(t, ok)
	require.Len(t, agentErrors, 1)
	assert.Equal(t, "boom", agentErrors[0]["message"])
	assert.Equal(t, float64(2), agentErrors[0]["errorCode"])
	assert.Equal(t, map[string]any{"Custom": "extra-data"}, agentErrors[0]["extra"])
}

func TestGetNetTopologyAction(t *testing.T) {
	model := adModel()
	run := testRun(t, model)
	engine := NewEngine(DefaultHandlers(), zerolog.Nop())
	ctx := NewContext(run)

	value, err := engine.Evaluate(mustParse(t, `<get-net-topology/>`), ctx)
	require.NoError(t, err)
	assert.Equal(t, "routed", value)
}

func TestInstanceNamesAction(t *testing.T) {
	model := adModel()
	run := testRun(t, model)
	engine := NewEngine(DefaultHandlers(), zerolog.Nop())
	ctx := NewContext(run)
	ctx.Set("hosts", []any{"dc01", "dc02"})

	value, err := engine.Evaluate(
		mustParse(t, `<instance-names environment="env1" hostNames="#hosts"/>`), ctx)
	require.NoError(t, err)
	assert.Equal(t, []any{"eenv1.dc01", "eenv1.dc02"}, value)
}

func TestGenerateHostnameAction(t *testing.T) {
	model := adModel()
	run := testRun(t, model)
	engine := NewEngine(DefaultHandlers(), zerolog.Nop())
	ctx := NewContext(run)

	value, err := engine.Evaluate(
		mustParse(t, `<generate-hostname pattern="web#" serviceId="svc1"/>`), ctx)
	require.NoError(t, err)
	assert.Equal(t, "web1", value)
}

func TestNetworkActionsWireCallbacks(t *testing.T) {
	model := adModel()
	var observed any
	workflow := testWorkflow(t, `<workflow>
		<rule match="$.services.activeDirectories[*][?(not @.sent)]">
			<set path="sent">yes</set>
			<get-cidr result="subnet">
				<success><observe/></success>
			</get-cidr>
		</rule>
	</workflow>`, map[string]Handler{
		"observe": func(e *Engine, ctx *Context, el *Element) (any, error) {
			observed = ctx.Get("subnet")
			return nil, nil
		},
	})

	network := &capturingNetwork{}
	run := testRun(t, model)
	run.Dispatcher = dispatcher.New(fakeStackExecutor{}, fakeAgentExecutor{}, network, zerolog.Nop())

	_, err := workflow.Execute(run)
	require.NoError(t, err)
	require.NotNil(t, network.newSubnetCB)

	require.NoError(t, network.newSubnetCB("10.0.1.0/24", nil))
	assert.Equal(t, map[string]any{"cidr": "10.0.1.0/24"}, observed)
}

type capturingNetwork struct {
	fakeNetworkExecutor
	newSubnetCB dispatcher.Callback
}

func (c *capturingNetwork) GetNewSubnet(routerID string, cb dispatcher.Callback) {
	c.newSubnetCB = cb
}
