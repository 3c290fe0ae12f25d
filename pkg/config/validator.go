package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"go.uber.org/zap/zapcore"

	"github.com/yourorg/edge-orchestrator/pkg/catalog"
	"github.com/yourorg/edge-orchestrator/pkg/controller"
)

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors represents multiple validation errors
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validator validates configuration
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new configuration validator
func NewValidator() *Validator {
	return &Validator{}
}

// Validate validates the configuration and returns any errors
func (v *Validator) Validate(cfg *Config) error {
	v.errors = nil

	v.validateController(cfg.Controller)
	v.validateWorkflow(cfg.Workflow)
	v.validateLogging(cfg.Logging)
	v.validateStatus(cfg.Status)
	v.validateHistory(cfg.History)

	if len(v.errors) > 0 {
		return v.errors
	}
	return nil
}

func (v *Validator) validateController(cfg ControllerConfig) {
	if cfg.Host == "" {
		v.addError("controller.host", "controller host is required")
	} else if _, err := url.Parse(controller.BaseURLFor(cfg.Host, cfg.Port)); err != nil {
		v.addError("controller.host", "invalid host")
	}

	if cfg.Port < 0 || cfg.Port > 65535 {
		v.addError("controller.port", "must be between 0 and 65535")
	}

	if cfg.Username == "" {
		v.addError("controller.username", "username is required")
	}

	if cfg.Password == "" {
		v.addError("controller.password", "password is required")
	}

	if cfg.Timeout <= 0 {
		v.addError("controller.timeout", "must be positive")
	}

	if cfg.Retry.MaxRetries < 0 {
		v.addError("controller.retry.max_retries", "must not be negative")
	}

	if cfg.Retry.InitialInterval <= 0 {
		v.addError("controller.retry.initial_interval", "must be positive")
	}

	if cfg.Retry.MaxInterval < cfg.Retry.InitialInterval {
		v.addError("controller.retry.max_interval", "must be greater than or equal to initial_interval")
	}
}

func (v *Validator) validateWorkflow(cfg WorkflowConfig) {
	if cfg.PollInterval <= 0 {
		v.addError("workflow.poll_interval", "must be positive")
	}

	if cfg.MaxWait < cfg.PollInterval {
		v.addError("workflow.max_wait", "must be greater than or equal to poll_interval")
	}

	if cfg.RolloutPacing < 0 {
		v.addError("workflow.rollout_pacing", "must not be negative")
	}

	if cfg.RowConcurrency < 1 {
		v.addError("workflow.row_concurrency", "must be at least 1")
	}

	if _, err := catalog.ParseMissingPolicy(cfg.MissingDevicePolicy); err != nil {
		v.addError("workflow.missing_device_policy", err.Error())
	}

	if cfg.PlanFile != "" {
		if err := v.validateFileExists(cfg.PlanFile); err != nil {
			v.addError("workflow.plan_file", err.Error())
		}
	}

	if cfg.DeviceCategory == "" {
		v.addError("workflow.device_category", "device category is required")
	}
}

func (v *Validator) validateLogging(cfg LoggingConfig) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		v.addError("logging.level", fmt.Sprintf("unknown level %q", cfg.Level))
	}
}

func (v *Validator) validateStatus(cfg StatusConfig) {
	if !cfg.Enabled {
		return
	}

	if cfg.Port < 1 || cfg.Port > 65535 {
		v.addError("status.port", "must be between 1 and 65535")
	}

	if cfg.JWTSecret != "" && len(cfg.JWTSecret) < 32 {
		v.addError("status.jwt_secret", "must be at least 32 characters")
	}
}

func (v *Validator) validateHistory(cfg HistoryConfig) {
	if !cfg.Enabled {
		return
	}

	if cfg.Host == "" {
		v.addError("history.host", "database host is required")
	}

	if cfg.Port < 1 || cfg.Port > 65535 {
		v.addError("history.port", "must be between 1 and 65535")
	}

	if cfg.Database == "" {
		v.addError("history.database", "database name is required")
	}

	if cfg.MaxConnections < 1 {
		v.addError("history.max_connections", "must be at least 1")
	}

	if cfg.MaxIdleConnections > cfg.MaxConnections {
		v.addError("history.max_idle_connections", "must not exceed max_connections")
	}
}

// addError adds a validation error
func (v *Validator) addError(field, message string) {
	v.errors = append(v.errors, ValidationError{
		Field:   field,
		Message: message,
	})
}

func (v *Validator) validateFileExists(path string) error {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return fmt.Errorf("file does not exist")
	}
	if err != nil {
		return fmt.Errorf("failed to check file: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("path is a directory, not a file")
	}
	return nil
}

// ValidateForToken validates only what is needed to issue status tokens.
func ValidateForToken(cfg *Config) error {
	v := NewValidator()

	if len(cfg.Status.JWTSecret) < 32 {
		v.addError("status.jwt_secret", "a secret of at least 32 characters is required to issue tokens")
	}

	if len(v.errors) > 0 {
		return v.errors
	}
	return nil
}

// ValidateForMigration validates only the run journal settings.
func ValidateForMigration(cfg *Config) error {
	v := NewValidator()

	history := cfg.History
	history.Enabled = true
	v.validateHistory(history)

	if len(v.errors) > 0 {
		return v.errors
	}
	return nil
}
