// Package conductor is the public facade of the orchestration workflow
// engine: it re-exports the types embedders need to run deployment tasks or
// build tooling around them.
package conductor

import (
	"github.com/rs/zerolog"

	"github.com/smilemakc/conductor/internal/application/interpreter"
	"github.com/smilemakc/conductor/internal/application/matcher"
	"github.com/smilemakc/conductor/internal/config"
	"github.com/smilemakc/conductor/internal/domain"
	"github.com/smilemakc/conductor/internal/infrastructure/metadata"
	"github.com/smilemakc/conductor/internal/infrastructure/monitoring"
	"github.com/smilemakc/conductor/internal/service"
)

// Task is one environment-deployment request.
type Task = domain.Task

// Model is the mutable JSON-shaped document carried in a task.
type Model = domain.Model

// Settings is the full service configuration.
type Settings = config.Settings

// Match pairs a matched sub-node with its location.
type Match = matcher.Match

// NewTask builds a task from an inbound message body.
func NewTask(body map[string]any) (*Task, error) {
	return domain.NewTask(body)
}

// LoadSettings reads the configuration file over the defaults.
func LoadSettings(path string) (*Settings, error) {
	return config.Load(path)
}

// DefaultSettings returns the built-in configuration.
func DefaultSettings() *Settings {
	return config.Defaults()
}

// NewService builds the task-queue front-end with the production clients.
func NewService(settings *Settings, log zerolog.Logger) *Service {
	metrics := monitoring.NewMetrics()
	var fetcher *metadata.Fetcher
	if settings.MetadataURL != "" {
		fetcher = metadata.NewFetcher(settings.MetadataURL, settings.DataDir, log)
	}
	return service.New(settings, service.DefaultClients(settings, log), fetcher,
		nil, metrics, log)
}

// Service consumes the task queue and runs one runtime per task.
type Service = service.Service

// ParseDocument parses a rule document from a string, for tooling that
// validates documents before shipping them in a metadata archive.
func ParseDocument(name, source string) (*interpreter.Document, error) {
	return interpreter.ParseDocument(name, source)
}
