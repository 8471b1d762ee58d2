// Package service is the front-end: it consumes the task queue, spawns one
// runtime per task, publishes results and acknowledges task messages.
package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/smilemakc/conductor/internal/application/interpreter"
	"github.com/smilemakc/conductor/internal/application/runtime"
	"github.com/smilemakc/conductor/internal/config"
	"github.com/smilemakc/conductor/internal/domain"
	"github.com/smilemakc/conductor/internal/infrastructure/bus"
	"github.com/smilemakc/conductor/internal/infrastructure/metadata"
	"github.com/smilemakc/conductor/internal/infrastructure/monitoring"
	"github.com/smilemakc/conductor/internal/infrastructure/network"
	"github.com/smilemakc/conductor/internal/infrastructure/stack"
)

const (
	tasksQueue   = "tasks"
	resultsQueue = "task-results"
)

// Clients builds the per-task external clients. The token is the task's
// authentication token.
type Clients struct {
	NewBus     func() (bus.Client, error)
	NewStack   func(token string) stack.Client
	NewNetwork func(token string) network.Client
}

// DefaultClients wires the production clients from the configured endpoints.
func DefaultClients(settings *config.Settings, log zerolog.Logger) Clients {
	return Clients{
		NewBus: func() (bus.Client, error) {
			return bus.Connect(settings.RabbitMQ, log)
		},
		NewStack: func(token string) stack.Client {
			return stack.NewHTTPClient(settings.Stack.URL, token)
		},
		NewNetwork: func(token string) network.Client {
			return network.NewHTTPClient(settings.Network.URL, token)
		},
	}
}

// Service consumes the task queue. The prefetch window equals
// max_environments, so the bus stops delivering until earlier tasks ack.
type Service struct {
	settings  *config.Settings
	clients   Clients
	fetcher   *metadata.Fetcher
	journal   monitoring.Journal
	metrics   *monitoring.Metrics
	hostnames *interpreter.HostnameGenerator
	log       zerolog.Logger
}

// New builds the service front-end. fetcher and journal may be nil.
func New(settings *config.Settings, clients Clients, fetcher *metadata.Fetcher,
	journal monitoring.Journal, metrics *monitoring.Metrics, log zerolog.Logger) *Service {
	return &Service{
		settings:  settings,
		clients:   clients,
		fetcher:   fetcher,
		journal:   journal,
		metrics:   metrics,
		hostnames: interpreter.NewHostnameGenerator(),
		log:       log,
	}
}

// Run consumes tasks until the context is cancelled, reconnecting on bus
// failures.
func (s *Service) Run(ctx context.Context) error {
	for {
		if err := s.consume(ctx); err != nil {
			s.log.Error().Err(err).Msg("task consumer failed, reconnecting")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
}

func (s *Service) consume(ctx context.Context) error {
	client, err := s.clients.NewBus()
	if err != nil {
		return err
	}
	defer client.Close()

	for _, queue := range []string{tasksQueue, resultsQueue} {
		if err := client.Declare(queue); err != nil {
			return err
		}
	}

	messages, err := client.Consume(tasksQueue, s.settings.MaxEnvironments)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case message, ok := <-messages:
			if !ok {
				return nil
			}
			go s.handleTask(ctx, message)
		}
	}
}

// handleTask runs one task end to end. Exactly one result message is
// published per accepted task, even on abort, and only then is the task
// message acknowledged.
func (s *Service) handleTask(ctx context.Context, message *bus.Message) {
	if s.metrics != nil {
		s.metrics.TasksReceived.Inc()
		s.metrics.TasksInFlight.Inc()
		defer s.metrics.TasksInFlight.Dec()
	}

	client, err := s.clients.NewBus()
	if err != nil {
		s.log.Error().Err(err).Msg("cannot open task bus connection; task will be redelivered")
		return
	}
	defer client.Close()

	task, taskErr := domain.NewTask(message.Body)
	failed := false
	defer func() {
		body := message.Body
		if task != nil {
			body = task.Model
		}
		if err := client.Publish("", resultsQueue, &bus.Message{ID: message.ID, Body: body}); err != nil {
			s.log.Error().Err(err).Msg("cannot publish task result")
			return
		}
		if err := message.Ack(); err != nil {
			s.log.Error().Err(err).Msg("cannot acknowledge task message")
		}
		if s.metrics != nil {
			if failed {
				s.metrics.TasksFailed.Inc()
			} else {
				s.metrics.TasksCompleted.Inc()
			}
		}
	}()

	taskLog := s.log.With().Str("message_id", message.ID).Logger()
	if taskErr != nil {
		failed = true
		reporter := monitoring.NewReporter(client, s.journal, message.ID, taskLog)
		reporter.ReportError("Task message is malformed", taskErr)
		return
	}
	taskLog = taskLog.With().Str("task_id", task.ID).Logger()
	taskLog.Info().Msg("starting processing task")

	reporter := monitoring.NewReporter(client, s.journal, task.ID, taskLog)

	baseDir := s.settings.DataDir
	if s.fetcher != nil {
		dir, err := s.fetcher.Get(task.Token)
		if err != nil {
			failed = true
			reporter.ReportError("Cannot fetch task metadata", err)
			return
		}
		defer s.fetcher.Release(dir)
		baseDir = dir
	}

	runner := runtime.NewRunner(s.settings, client, s.clients.NewStack(task.Token),
		s.clients.NewNetwork(task.Token), reporter, s.metrics, s.hostnames, taskLog)
	if err := runner.Run(ctx, task, baseDir); err != nil {
		failed = true
	}
	taskLog.Info().Msg("finished processing task")
}
