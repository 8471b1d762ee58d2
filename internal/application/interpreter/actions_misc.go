package interpreter

import (
	"encoding/base64"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/smilemakc/conductor/internal/domain"
)

// actionPrepareUserData renders the instance boot script: the agent config
// template gets the bus endpoint and queue names substituted in, then rides
// base64-embedded inside the init script.
func actionPrepareUserData(e *Engine, ctx *Context, el *Element) (any, error) {
	run := ctx.Run()
	hostname := Stringify(attrValue(ctx, el.Attr("hostname")))
	service := Stringify(attrValue(ctx, el.Attr("service")))
	unit := Stringify(attrValue(ctx, el.Attr("unit")))
	template := el.Attr("template")
	if template == "" {
		template = "Default"
	}

	initScript, err := os.ReadFile(filepath.Join(run.DataDir, "init.ps1"))
	if err != nil {
		return nil, domain.NewDomainError(domain.ErrCodeNotFound,
			"cannot read init script", err)
	}
	templateData, err := os.ReadFile(filepath.Join(
		run.DataDir, "templates", "agent-config", template+".template"))
	if err != nil {
		return nil, domain.NewDomainError(domain.ErrCodeNotFound,
			fmt.Sprintf("cannot read agent config template %s", template), err)
	}

	environment := run.Task.EnvironmentName()
	replacements := map[string]string{
		"%RABBITMQ_HOST%":        Stringify(run.Config["rabbitmq_host"]),
		"%RABBITMQ_PORT%":        Stringify(run.Config["rabbitmq_port"]),
		"%RABBITMQ_INPUT_QUEUE%": strings.ToLower(environment + "-" + service + "-" + unit),
		"%RESULT_QUEUE%":         strings.ToLower("-execution-results-" + environment),
		"%RABBITMQ_USER%":        Stringify(run.Config["rabbitmq_login"]),
		"%RABBITMQ_PASSWORD%":    Stringify(run.Config["rabbitmq_password"]),
		"%RABBITMQ_VHOST%":       Stringify(run.Config["rabbitmq_virtual_host"]),
		"%RABBITMQ_SSL%":         Stringify(run.Config["rabbitmq_ssl"]),
	}
	config := string(templateData)
	for key, value := range replacements {
		config = strings.ReplaceAll(config, key, value)
	}

	fileServer := Stringify(run.Config["file_server"])
	if fileServer == "" {
		fileServer = Stringify(run.Config["rabbitmq_host"])
	}

	script := string(initScript)
	script = strings.ReplaceAll(script, "%AGENT_CONFIG_BASE64%",
		base64.StdEncoding.EncodeToString([]byte(config)))
	script = strings.ReplaceAll(script, "%INTERNAL_HOSTNAME%", hostname)
	script = strings.ReplaceAll(script, "%SERVER_ADDRESS%", fileServer)
	return script, nil
}

// actionGenerateHostname resolves a hostname pattern through the per-service
// counter store.
func actionGenerateHostname(e *Engine, ctx *Context, el *Element) (any, error) {
	run := ctx.Run()
	pattern := Stringify(attrValue(ctx, el.Attr("pattern")))
	serviceID := Stringify(attrValue(ctx, el.Attr("serviceId")))
	return run.Hostnames.Generate(pattern, serviceID), nil
}

// actionRunScript runs a named script from the data directory with flattened
// arguments.
func actionRunScript(e *Engine, ctx *Context, el *Element) (any, error) {
	run := ctx.Run()
	name := el.Attr("name")
	if name == "" {
		return nil, domain.NewDomainError(domain.ErrCodeInvalidInput,
			"run-script element has no name attribute", nil)
	}
	arguments := flattenArguments(attrValue(ctx, el.Attr("arguments")))

	script := filepath.Clean(filepath.Join(run.DataDir, "scripts", name))
	e.log.Info().Str("script", script).Strs("arguments", arguments).Msg("running script")
	cmd := exec.Command(script, arguments...)
	if output, err := cmd.CombinedOutput(); err != nil {
		return nil, domain.NewDomainError(domain.ErrCodeValidationFailed,
			fmt.Sprintf("script %s failed: %s", name, strings.TrimSpace(string(output))), err)
	}
	return nil, nil
}

func flattenArguments(value any) []string {
	switch typed := value.(type) {
	case nil:
		return nil
	case []any:
		var flat []string
		for _, item := range typed {
			flat = append(flat, flattenArguments(item)...)
		}
		return flat
	default:
		return []string{Stringify(value)}
	}
}

// actionInstanceNames expands a list of hostnames into fully qualified
// instance names within the environment.
func actionInstanceNames(e *Engine, ctx *Context, el *Element) (any, error) {
	environment := Stringify(attrValue(ctx, el.Attr("environment")))
	hostNames, _ := attrValue(ctx, el.Attr("hostNames")).([]any)
	names := make([]any, 0, len(hostNames))
	for _, host := range hostNames {
		names = append(names, fmt.Sprintf("e%s.%s", environment, Stringify(host)))
	}
	return names, nil
}
