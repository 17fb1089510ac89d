// Package config handles configuration loading and management for foreman.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment overrides, e.g. FOREMAN_SUPERVISOR_MAX_PROCESSES.
const EnvPrefix = "FOREMAN"

// Config holds all configuration for foreman.
type Config struct {
	Anthropic  AnthropicConfig  `mapstructure:"anthropic"`
	Registry   RegistryConfig   `mapstructure:"registry"`
	Queue      QueueConfig      `mapstructure:"queue"`
	Supervisor SupervisorConfig `mapstructure:"supervisor"`
	Resources  ResourcesConfig  `mapstructure:"resources"`
	Dispatch   DispatchConfig   `mapstructure:"dispatch"`
	Workflows  WorkflowsConfig  `mapstructure:"workflows"`
	State      StateConfig      `mapstructure:"state"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
}

// AnthropicConfig holds the API key handed to worker processes.
type AnthropicConfig struct {
	APIKey string `mapstructure:"api_key"`
}

// RegistryConfig holds worker registry settings.
type RegistryConfig struct {
	AvailabilityThreshold int `mapstructure:"availability_threshold" validate:"min=1,max=100"`
}

// QueueConfig holds task queue settings.
type QueueConfig struct {
	DefaultMaxRetries int `mapstructure:"default_max_retries" validate:"min=0"`
}

// SupervisorConfig holds process supervisor settings.
type SupervisorConfig struct {
	MaxProcesses        int               `mapstructure:"max_processes" validate:"min=1"`
	MaxRestarts         int               `mapstructure:"max_restarts" validate:"min=0"`
	RestartBackoff      time.Duration     `mapstructure:"restart_backoff" validate:"gte=0"`
	RestartDelay        time.Duration     `mapstructure:"restart_delay" validate:"gte=0"`
	StopGracePeriod     time.Duration     `mapstructure:"stop_grace_period" validate:"gt=0"`
	HealthCheckInterval time.Duration     `mapstructure:"health_check_interval" validate:"gt=0"`
	ProcessTimeout      time.Duration     `mapstructure:"process_timeout" validate:"gt=0"`
	Command             string            `mapstructure:"command" validate:"required"`
	Args                []string          `mapstructure:"args"`
	Env                 map[string]string `mapstructure:"env"`
}

// ResourcesConfig holds resource limits and the load-balancing strategy.
type ResourcesConfig struct {
	MaxProcessesPerWorker   int           `mapstructure:"max_processes_per_worker" validate:"min=1"`
	MaxTotalProcesses       int           `mapstructure:"max_total_processes" validate:"min=1"`
	MaxMemoryPerProcessMB   float64       `mapstructure:"max_memory_per_process_mb" validate:"gt=0"`
	MaxCPUPercentPerProcess float64       `mapstructure:"max_cpu_percent_per_process" validate:"gt=0,lte=100"`
	MaxTasksPerWorker       int           `mapstructure:"max_tasks_per_worker" validate:"min=1"`
	MinIdleTime             time.Duration `mapstructure:"min_idle_time" validate:"gte=0"`
	MinFreeMemoryMB         float64       `mapstructure:"min_free_memory_mb" validate:"gte=0"`
	LowMemoryWarningMB      float64       `mapstructure:"low_memory_warning_mb" validate:"gte=0"`
	CheckInterval           time.Duration `mapstructure:"check_interval" validate:"gt=0"`
	Strategy                string        `mapstructure:"strategy" validate:"oneof=round-robin least-loaded skill-based efficiency-based"`
}

// DispatchConfig holds run-loop settings.
type DispatchConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval" validate:"gt=0"`
	// AutoRetry puts failed tasks back in the queue while retries remain.
	AutoRetry bool `mapstructure:"auto_retry"`
}

// WorkflowsConfig holds workflow template settings.
type WorkflowsConfig struct {
	// TemplatesDir holds extra *.yaml templates. Empty means built-ins only.
	TemplatesDir string `mapstructure:"templates_dir"`
}

// StateConfig holds persistence settings.
type StateConfig struct {
	Dir string `mapstructure:"dir" validate:"required"`
}

// LoggingConfig holds log settings.
type LoggingConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
	File  string `mapstructure:"file"`
}

// TelemetryConfig holds tracing settings. The OTLP endpoint is taken from
// the standard OTEL_EXPORTER_OTLP_* environment variables.
type TelemetryConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name" validate:"required_if=Enabled true"`
}

// DatabasePath returns the SQLite database path inside the state directory.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.State.Dir, "foreman.db")
}

// SignalsDir returns the control-signal directory inside the state directory.
func (c *Config) SignalsDir() string {
	return filepath.Join(c.State.Dir, "signals")
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and returns a readable error listing
// every violated field.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (FOREMAN_*, ANTHROPIC_API_KEY)
// 2. Project config (.foreman.yaml in current directory or parent)
// 3. User config (~/.config/foreman/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v, err := loadViper()
	if err != nil {
		return nil, err
	}
	return decode(v)
}

// Settings returns the merged key/value view Load decodes from, including
// defaults. An empty path uses the user and project files; otherwise only
// the named file is read.
func Settings(path string) (map[string]any, error) {
	var v *viper.Viper
	if path == "" {
		var err error
		if v, err = loadViper(); err != nil {
			return nil, err
		}
	} else {
		v = newViper()
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config from %s: %w", path, err)
		}
	}
	return v.AllSettings(), nil
}

func loadViper() (*viper.Viper, error) {
	v := newViper()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(getUserConfigDir())

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading project config %s: %w", projectConfig, err)
		}
		if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
			return nil, fmt.Errorf("merging project config: %w", err)
		}
	}
	return v, nil
}

// LoadFromPath loads configuration from a specific file on top of defaults.
func LoadFromPath(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return decode(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("anthropic.api_key", "ANTHROPIC_API_KEY")
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.Anthropic.APIKey = os.ExpandEnv(cfg.Anthropic.APIKey)
	cfg.State.Dir = os.ExpandEnv(cfg.State.Dir)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes a single key to the user config file, keeping existing keys.
func Save(key string, value any) error {
	dir := getUserConfigDir()
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	path := filepath.Join(dir, "config.yaml")

	v := viper.New()
	v.SetConfigFile(path)
	if _, err := os.Stat(path); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
	}
	v.Set(key, value)
	return v.WriteConfigAs(path)
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("anthropic.api_key", "")

	v.SetDefault("registry.availability_threshold", d.Registry.AvailabilityThreshold)
	v.SetDefault("queue.default_max_retries", d.Queue.DefaultMaxRetries)

	v.SetDefault("supervisor.max_processes", d.Supervisor.MaxProcesses)
	v.SetDefault("supervisor.max_restarts", d.Supervisor.MaxRestarts)
	v.SetDefault("supervisor.restart_backoff", d.Supervisor.RestartBackoff.String())
	v.SetDefault("supervisor.restart_delay", d.Supervisor.RestartDelay.String())
	v.SetDefault("supervisor.stop_grace_period", d.Supervisor.StopGracePeriod.String())
	v.SetDefault("supervisor.health_check_interval", d.Supervisor.HealthCheckInterval.String())
	v.SetDefault("supervisor.process_timeout", d.Supervisor.ProcessTimeout.String())
	v.SetDefault("supervisor.command", d.Supervisor.Command)
	v.SetDefault("supervisor.args", d.Supervisor.Args)
	v.SetDefault("supervisor.env", map[string]string{})

	v.SetDefault("resources.max_processes_per_worker", d.Resources.MaxProcessesPerWorker)
	v.SetDefault("resources.max_total_processes", d.Resources.MaxTotalProcesses)
	v.SetDefault("resources.max_memory_per_process_mb", d.Resources.MaxMemoryPerProcessMB)
	v.SetDefault("resources.max_cpu_percent_per_process", d.Resources.MaxCPUPercentPerProcess)
	v.SetDefault("resources.max_tasks_per_worker", d.Resources.MaxTasksPerWorker)
	v.SetDefault("resources.min_idle_time", d.Resources.MinIdleTime.String())
	v.SetDefault("resources.min_free_memory_mb", d.Resources.MinFreeMemoryMB)
	v.SetDefault("resources.low_memory_warning_mb", d.Resources.LowMemoryWarningMB)
	v.SetDefault("resources.check_interval", d.Resources.CheckInterval.String())
	v.SetDefault("resources.strategy", d.Resources.Strategy)

	v.SetDefault("dispatch.poll_interval", d.Dispatch.PollInterval.String())
	v.SetDefault("dispatch.auto_retry", d.Dispatch.AutoRetry)
	v.SetDefault("workflows.templates_dir", d.Workflows.TemplatesDir)
	v.SetDefault("state.dir", d.State.Dir)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.file", d.Logging.File)

	v.SetDefault("telemetry.enabled", d.Telemetry.Enabled)
	v.SetDefault("telemetry.service_name", d.Telemetry.ServiceName)
}

// getUserConfigDir returns the XDG config directory for foreman.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "foreman")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "foreman")
	}
	return filepath.Join(home, ".config", "foreman")
}

// findProjectConfig searches for .foreman.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".foreman.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Registry: RegistryConfig{AvailabilityThreshold: 80},
		Queue:    QueueConfig{DefaultMaxRetries: 3},
		Supervisor: SupervisorConfig{
			MaxProcesses:        20,
			MaxRestarts:         3,
			RestartBackoff:      5 * time.Second,
			RestartDelay:        time.Second,
			StopGracePeriod:     5 * time.Second,
			HealthCheckInterval: 30 * time.Second,
			ProcessTimeout:      5 * time.Minute,
			Command:             "claude",
			Args:                []string{"--print"},
			Env:                 map[string]string{},
		},
		Resources: ResourcesConfig{
			MaxProcessesPerWorker:   3,
			MaxTotalProcesses:       20,
			MaxMemoryPerProcessMB:   512,
			MaxCPUPercentPerProcess: 25,
			MaxTasksPerWorker:       5,
			MinIdleTime:             30 * time.Second,
			MinFreeMemoryMB:         512,
			LowMemoryWarningMB:      1024,
			CheckInterval:           5 * time.Second,
			Strategy:                "least-loaded",
		},
		Dispatch:  DispatchConfig{PollInterval: 2 * time.Second, AutoRetry: true},
		State:     StateConfig{Dir: ".foreman"},
		Logging:   LoggingConfig{Level: "info"},
		Telemetry: TelemetryConfig{ServiceName: "foreman"},
	}
}
