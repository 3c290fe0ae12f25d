// Package config loads the orchestrator configuration from file, environment
// and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/yourorg/edge-orchestrator/pkg/action"
	"github.com/yourorg/edge-orchestrator/pkg/catalog"
	"github.com/yourorg/edge-orchestrator/pkg/controller"
	"github.com/yourorg/edge-orchestrator/pkg/history"
	"github.com/yourorg/edge-orchestrator/pkg/lifecycle"
	"github.com/yourorg/edge-orchestrator/pkg/rollout"
)

// EnvPrefix prefixes every environment override, e.g. EDGE_CONTROLLER_HOST.
const EnvPrefix = "EDGE"

var envKeyReplacer = strings.NewReplacer(".", "_")

// Config represents the complete orchestrator configuration
type Config struct {
	Controller ControllerConfig `mapstructure:"controller"`
	Workflow   WorkflowConfig   `mapstructure:"workflow"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Status     StatusConfig     `mapstructure:"status"`
	History    HistoryConfig    `mapstructure:"history"`
}

// ControllerConfig contains the SD-WAN controller connection settings
type ControllerConfig struct {
	Host               string        `mapstructure:"host"`
	Port               int           `mapstructure:"port"`
	Username           string        `mapstructure:"username"`
	Password           string        `mapstructure:"password"`
	InsecureSkipVerify bool          `mapstructure:"insecure_skip_verify"`
	Timeout            time.Duration `mapstructure:"timeout"`
	Retry              RetryConfig   `mapstructure:"retry"`
}

// RetryConfig bounds retries of controller reads
type RetryConfig struct {
	MaxRetries      int           `mapstructure:"max_retries"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
}

// WorkflowConfig tunes the lifecycle workflows
type WorkflowConfig struct {
	PollInterval        time.Duration `mapstructure:"poll_interval"`
	MaxWait             time.Duration `mapstructure:"max_wait"`
	RolloutPacing       time.Duration `mapstructure:"rollout_pacing"`
	RowConcurrency      int           `mapstructure:"row_concurrency"`
	MissingDevicePolicy string        `mapstructure:"missing_device_policy"`
	CloneSuffix         string        `mapstructure:"clone_suffix"`
	PlanFile            string        `mapstructure:"plan_file"`
	DeviceCategory      string        `mapstructure:"device_category"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// StatusConfig contains the status server configuration
type StatusConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

// HistoryConfig contains the run journal database configuration
type HistoryConfig struct {
	Enabled            bool          `mapstructure:"enabled"`
	Host               string        `mapstructure:"host"`
	Port               int           `mapstructure:"port"`
	Username           string        `mapstructure:"username"`
	Password           string        `mapstructure:"password"`
	Database           string        `mapstructure:"database"`
	MaxConnections     int           `mapstructure:"max_connections"`
	MaxIdleConnections int           `mapstructure:"max_idle_connections"`
	ConnectionLifetime time.Duration `mapstructure:"connection_lifetime"`
	LogLevel           string        `mapstructure:"log_level"`
}

// Loader handles configuration loading from multiple sources
type Loader struct {
	v          *viper.Viper
	configPath string
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		v: viper.New(),
	}
}

// SetConfigPath sets the configuration file path
func (l *Loader) SetConfigPath(path string) {
	l.configPath = path
}

// Viper exposes the underlying viper instance for flag binding.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// Load loads the configuration from all sources
func (l *Loader) Load() (*Config, error) {
	l.setDefaults()

	if l.configPath != "" {
		l.v.SetConfigFile(l.configPath)
	} else {
		l.v.SetConfigName("edgectl")
		l.v.SetConfigType("yaml")
		l.v.AddConfigPath("/etc/edgectl")
		l.v.AddConfigPath("$HOME/.edgectl")
		l.v.AddConfigPath(".")
	}

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	l.v.SetEnvPrefix(EnvPrefix)
	l.v.SetEnvKeyReplacer(envKeyReplacer)
	l.v.AutomaticEnv()

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// ConfigFileUsed returns the path of the file that was read, if any.
func (l *Loader) ConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

func (l *Loader) setDefaults() {
	retry := controller.DefaultRetryConfig()
	l.v.SetDefault("controller.host", "")
	l.v.SetDefault("controller.port", 443)
	l.v.SetDefault("controller.username", "")
	l.v.SetDefault("controller.password", "")
	l.v.SetDefault("controller.insecure_skip_verify", false)
	l.v.SetDefault("controller.timeout", "30s")
	l.v.SetDefault("controller.retry.max_retries", retry.MaxRetries)
	l.v.SetDefault("controller.retry.initial_interval", retry.InitialInterval)
	l.v.SetDefault("controller.retry.max_interval", retry.MaxInterval)

	polling := action.DefaultConfig()
	settings := lifecycle.DefaultSettings()
	l.v.SetDefault("workflow.poll_interval", polling.PollInterval)
	l.v.SetDefault("workflow.max_wait", polling.MaxWait)
	l.v.SetDefault("workflow.rollout_pacing", settings.RolloutPacing)
	l.v.SetDefault("workflow.row_concurrency", settings.RowConcurrency)
	l.v.SetDefault("workflow.missing_device_policy", string(settings.MissingPolicy))
	l.v.SetDefault("workflow.clone_suffix", "")
	l.v.SetDefault("workflow.plan_file", "")
	l.v.SetDefault("workflow.device_category", "vedges")

	l.v.SetDefault("logging.level", "info")
	l.v.SetDefault("logging.development", false)

	l.v.SetDefault("status.enabled", false)
	l.v.SetDefault("status.host", "127.0.0.1")
	l.v.SetDefault("status.port", 9090)
	l.v.SetDefault("status.jwt_secret", "")

	l.v.SetDefault("history.enabled", false)
	l.v.SetDefault("history.host", "localhost")
	l.v.SetDefault("history.port", 3306)
	l.v.SetDefault("history.username", "")
	l.v.SetDefault("history.password", "")
	l.v.SetDefault("history.database", "edge_orchestrator")
	l.v.SetDefault("history.max_connections", 10)
	l.v.SetDefault("history.max_idle_connections", 2)
	l.v.SetDefault("history.connection_lifetime", "1h")
	l.v.SetDefault("history.log_level", "warn")
}

// Session builds the controller session.
func (c *Config) Session() controller.Session {
	return controller.Session{
		BaseURL:            controller.BaseURLFor(c.Controller.Host, c.Controller.Port),
		Username:           c.Controller.Username,
		Password:           c.Controller.Password,
		InsecureSkipVerify: c.Controller.InsecureSkipVerify,
		Timeout:            c.Controller.Timeout,
		Retry: controller.RetryConfig{
			MaxRetries:      c.Controller.Retry.MaxRetries,
			InitialInterval: c.Controller.Retry.InitialInterval,
			MaxInterval:     c.Controller.Retry.MaxInterval,
		},
	}
}

// ActionConfig returns the action polling bounds.
func (c *Config) ActionConfig() action.Config {
	return action.Config{
		PollInterval: c.Workflow.PollInterval,
		MaxWait:      c.Workflow.MaxWait,
	}
}

// Settings builds the workflow settings, loading the rollout plan file when
// one is configured.
func (c *Config) Settings() (lifecycle.Settings, error) {
	policy, err := catalog.ParseMissingPolicy(c.Workflow.MissingDevicePolicy)
	if err != nil {
		return lifecycle.Settings{}, err
	}

	plan := rollout.DefaultPlan()
	if c.Workflow.PlanFile != "" {
		if plan, err = rollout.LoadPlan(c.Workflow.PlanFile); err != nil {
			return lifecycle.Settings{}, err
		}
	}

	return lifecycle.Settings{
		RowConcurrency: c.Workflow.RowConcurrency,
		RolloutPacing:  c.Workflow.RolloutPacing,
		MissingPolicy:  policy,
		CloneSuffix:    c.Workflow.CloneSuffix,
		Plan:           plan,
	}, nil
}

// Database builds the run journal connection settings.
func (c *Config) Database() *history.Config {
	return &history.Config{
		Host:               c.History.Host,
		Port:               c.History.Port,
		Username:           c.History.Username,
		Password:           c.History.Password,
		Database:           c.History.Database,
		MaxConnections:     c.History.MaxConnections,
		MaxIdleConnections: c.History.MaxIdleConnections,
		ConnectionLifetime: c.History.ConnectionLifetime,
		LogLevel:           c.History.LogLevel,
	}
}
