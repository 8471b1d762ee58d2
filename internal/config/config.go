// Package config loads the service configuration from a YAML file with
// environment-variable overrides for the common deployment knobs.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/smilemakc/conductor/internal/infrastructure/bus"
)

// Endpoint is one external service endpoint.
type Endpoint struct {
	URL      string `yaml:"url"`
	Insecure bool   `yaml:"insecure"`
	CAFile   string `yaml:"ca_file"`
}

// Settings is the full service configuration.
type Settings struct {
	LogLevel string `yaml:"log_level"`

	RabbitMQ bus.Settings `yaml:"rabbitmq"`

	Stack    Endpoint `yaml:"stack"`
	Identity Endpoint `yaml:"identity"`
	Network  Endpoint `yaml:"network"`

	DataDir        string `yaml:"data_dir"`
	InitScriptsDir string `yaml:"init_scripts_dir"`
	AgentConfigDir string `yaml:"agent_config_dir"`
	FileServer     string `yaml:"file_server"`
	MetadataURL    string `yaml:"metadata_url"`

	MaxEnvironments int    `yaml:"max_environments"`
	MaxHosts        int    `yaml:"max_hosts"`
	EnvIPTemplate   string `yaml:"env_ip_template"`
	NetworkTopology string `yaml:"network_topology"`

	// EventsDSN enables the Postgres report journal when set.
	EventsDSN string `yaml:"events_dsn"`
	// MetricsAddr enables the metrics listener when set, e.g. ":9090".
	MetricsAddr string `yaml:"metrics_addr"`
}

// Defaults returns the built-in configuration.
func Defaults() *Settings {
	return &Settings{
		LogLevel: "info",
		RabbitMQ: bus.Settings{
			Host:        "localhost",
			Port:        5672,
			Login:       "guest",
			Password:    "guest",
			VirtualHost: "/",
		},
		DataDir:         "/var/cache/conductor",
		InitScriptsDir:  "etc/init-scripts",
		AgentConfigDir:  "etc/agent-config",
		MaxEnvironments: 20,
		MaxHosts:        250,
		EnvIPTemplate:   "10.0.0.0",
		NetworkTopology: "routed",
	}
}

// Load reads the configuration file (when path is non-empty) over the
// defaults and applies environment overrides.
func Load(path string) (*Settings, error) {
	settings := Defaults()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, settings); err != nil {
			return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
		}
	}
	settings.applyEnv()
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return settings, nil
}

func (s *Settings) applyEnv() {
	s.LogLevel = getEnv("LOG_LEVEL", s.LogLevel)
	s.RabbitMQ.Host = getEnv("RABBITMQ_HOST", s.RabbitMQ.Host)
	s.RabbitMQ.Login = getEnv("RABBITMQ_LOGIN", s.RabbitMQ.Login)
	s.RabbitMQ.Password = getEnv("RABBITMQ_PASSWORD", s.RabbitMQ.Password)
	s.DataDir = getEnv("DATA_DIR", s.DataDir)
	s.MetadataURL = getEnv("METADATA_URL", s.MetadataURL)
	s.EventsDSN = getEnv("EVENTS_DSN", s.EventsDSN)
	if port, ok := os.LookupEnv("RABBITMQ_PORT"); ok {
		if parsed, err := strconv.Atoi(port); err == nil {
			s.RabbitMQ.Port = parsed
		}
	}
}

// Validate checks value ranges that would otherwise fail deep inside a task.
func (s *Settings) Validate() error {
	if s.MaxEnvironments <= 0 {
		return fmt.Errorf("max_environments must be positive, got %d", s.MaxEnvironments)
	}
	if s.MaxHosts <= 0 {
		return fmt.Errorf("max_hosts must be positive, got %d", s.MaxHosts)
	}
	switch s.NetworkTopology {
	case "nova", "flat", "routed":
	default:
		return fmt.Errorf("network_topology must be one of nova, flat, routed; got %q", s.NetworkTopology)
	}
	return nil
}

// EngineConfig flattens the settings into the read-only map rule documents
// reach through '##' paths.
func (s *Settings) EngineConfig() map[string]any {
	return map[string]any{
		"rabbitmq_host":         s.RabbitMQ.Host,
		"rabbitmq_port":         s.RabbitMQ.Port,
		"rabbitmq_login":        s.RabbitMQ.Login,
		"rabbitmq_password":     s.RabbitMQ.Password,
		"rabbitmq_virtual_host": s.RabbitMQ.VirtualHost,
		"rabbitmq_ssl":          s.RabbitMQ.SSL,
		"file_server":           s.FileServer,
		"data_dir":              s.DataDir,
		"max_environments":      s.MaxEnvironments,
		"max_hosts":             s.MaxHosts,
		"env_ip_template":       s.EnvIPTemplate,
		"network_topology":      s.NetworkTopology,
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
