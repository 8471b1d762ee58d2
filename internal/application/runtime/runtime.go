// Package runtime owns one task's lifecycle: it coordinates interpreter
// passes with dispatcher drains, observes stop requests, and cleans the model
// up for publication.
package runtime

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/rs/zerolog"

	"github.com/smilemakc/conductor/internal/application/dispatcher"
	"github.com/smilemakc/conductor/internal/application/executor"
	"github.com/smilemakc/conductor/internal/application/interpreter"
	"github.com/smilemakc/conductor/internal/config"
	"github.com/smilemakc/conductor/internal/domain"
	"github.com/smilemakc/conductor/internal/infrastructure/bus"
	"github.com/smilemakc/conductor/internal/infrastructure/monitoring"
	"github.com/smilemakc/conductor/internal/infrastructure/network"
	"github.com/smilemakc/conductor/internal/infrastructure/stack"
)

// Runner drives one task to its fixed point. Everything it touches is owned
// by the task: its bus client, its executors, its dispatcher.
type Runner struct {
	settings      *config.Settings
	busClient     bus.Client
	stackClient   stack.Client
	networkClient network.Client
	reporter      interpreter.Reporter
	metrics       *monitoring.Metrics
	hostnames     *interpreter.HostnameGenerator
	log           zerolog.Logger
}

// NewRunner wires a runner for one task. hostnames is shared across the
// process so generated names stay unique for its lifetime.
func NewRunner(settings *config.Settings, busClient bus.Client, stackClient stack.Client,
	networkClient network.Client, reporter interpreter.Reporter,
	metrics *monitoring.Metrics, hostnames *interpreter.HostnameGenerator,
	log zerolog.Logger) *Runner {
	return &Runner{
		settings:      settings,
		busClient:     busClient,
		stackClient:   stackClient,
		networkClient: networkClient,
		reporter:      reporter,
		metrics:       metrics,
		hostnames:     hostnames,
		log:           log,
	}
}

// Run executes the task against the workflow documents found under baseDir
// until no workflow reports side effects and no executor reports work. The
// model is mutated in place and stripped for publication before returning;
// the caller publishes it. Run never leaves the dispatcher open.
func (r *Runner) Run(ctx context.Context, task *domain.Task, baseDir string) error {
	defer task.Cleanup()

	agentExec, err := executor.NewAgentExecutor(task.EnvironmentName(), r.busClient,
		filepath.Join(baseDir, "templates", "agent"), r.log)
	if err != nil {
		r.reporter.ReportError("Unexpected error has occurred", err)
		return err
	}
	stackExec := executor.NewStackExecutor(task.EnvironmentName(), r.stackClient,
		r.networkClient, filepath.Join(baseDir, "templates", "cf"), r.log)
	networkExec := executor.NewNetworkExecutor(task.TenantID, r.networkClient,
		r.settings.MaxEnvironments, r.settings.MaxHosts, r.settings.EnvIPTemplate, r.log)

	disp := dispatcher.New(stackExec, agentExec, networkExec, r.log)
	defer disp.Close()

	workflows, err := r.loadWorkflows(baseDir)
	if err != nil {
		r.reporter.ReportError("Unexpected error has occurred", err)
		return err
	}

	run := &interpreter.Run{
		Task:        task,
		Model:       task.Model,
		Dispatcher:  disp,
		Reporter:    r.reporter,
		Config:      r.settings.EngineConfig(),
		DataDir:     baseDir,
		MetadataDir: baseDir,
		Hostnames:   r.hostnames,
	}

	stop := false
	for !stop {
		failed, done := r.runPass(ctx, run, workflows, task)
		if failed || done {
			break
		}
		stop = task.StopRequested()
		if stop {
			r.log.Info().Str("task_id", task.ID).Msg("workflow stop requested")
		}
	}
	if stop {
		r.log.Info().Str("task_id", task.ID).Msg("workflow stopped by stop command")
	}
	return nil
}

// runPass runs one inner fixpoint over the workflows followed by one
// dispatcher drain. It reports (failed, done).
func (r *Runner) runPass(ctx context.Context, run *interpreter.Run,
	workflows []*interpreter.Workflow, task *domain.Task) (bool, bool) {
	for _, workflow := range workflows {
		workflow.Prepare()
	}

	for {
		changed := false
		for _, workflow := range workflows {
			if r.metrics != nil {
				r.metrics.InterpreterPasses.Inc()
			}
			result, err := workflow.Execute(run)
			if err != nil {
				r.reporter.ReportError("Unexpected error has occurred", err)
				return true, false
			}
			if result {
				changed = true
			}
		}
		if !changed {
			r.log.Debug().Str("task_id", task.ID).
				Msg("no rules matched, will now execute pending commands")
			break
		}
	}

	worked, err := run.Dispatcher.ExecutePending(ctx)
	if err != nil {
		r.reporter.ReportError("Unexpected error has occurred", err)
		return true, false
	}
	if !worked {
		r.log.Debug().Str("task_id", task.ID).
			Msg("no pending commands found, seems like we are done")
		return false, true
	}
	return false, false
}

func (r *Runner) loadWorkflows(baseDir string) ([]*interpreter.Workflow, error) {
	paths, err := filepath.Glob(filepath.Join(baseDir, "workflows", "*.xml"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	if len(paths) == 0 {
		return nil, fmt.Errorf("no workflow documents found under %s", baseDir)
	}

	engine := interpreter.NewEngine(interpreter.DefaultHandlers(), r.log)
	workflows := make([]*interpreter.Workflow, 0, len(paths))
	for _, path := range paths {
		r.log.Debug().Str("path", path).Msg("loading workflow document")
		workflow, err := interpreter.NewWorkflow(path, engine)
		if err != nil {
			return nil, err
		}
		workflows = append(workflows, workflow)
	}
	return workflows, nil
}
