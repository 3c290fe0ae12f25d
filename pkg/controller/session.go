package controller

import (
	"fmt"
	"strings"
	"time"
)

// Session is the immutable connection context for a controller. It is built
// once from configuration and handed to NewVManageClient.
type Session struct {
	BaseURL            string
	Username           string
	Password           string
	InsecureSkipVerify bool
	Timeout            time.Duration
	Retry              RetryConfig
}

// RetryConfig bounds the retries applied to idempotent reads.
type RetryConfig struct {
	MaxRetries      int           `json:"max_retries" yaml:"max_retries"`
	InitialInterval time.Duration `json:"initial_interval" yaml:"initial_interval"`
	MaxInterval     time.Duration `json:"max_interval" yaml:"max_interval"`
}

// DefaultRetryConfig returns the default read retry policy.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     5 * time.Second,
	}
}

// BaseURLFor builds the controller base URL from a host and port. A host that
// already carries a scheme is kept as is.
func BaseURLFor(host string, port int) string {
	host = strings.TrimSuffix(host, "/")
	if !strings.Contains(host, "://") {
		host = "https://" + host
	}
	if port > 0 {
		return fmt.Sprintf("%s:%d", host, port)
	}
	return host
}
