// Package cfg holds the application-level configuration for the sift server.
package cfg

import (
	"errors"
	"flag"
	"fmt"
	"time"
)

// Providers the -provider flag accepts.
const (
	ProviderGemini = "gemini"
	ProviderClaude = "claude"
)

// Config adds app-specific configuration fields to the
// common cfg.Registerable and cfg.Validatable interfaces
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	APIToken              string
	Provider              string
	GeminiAPIKey          string
	GeminiModel           string
	ClaudeAPIKey          string
	ClaudeModel           string
	ModelTimeout          time.Duration
	DispatchMaxAttempts   uint
	DispatchBackoff       time.Duration
	DispatchMaxBackoff    time.Duration
	DatabaseURL           string
	SlackWebhookURL       string
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.APIToken, "api-token", "", "bearer token required on API requests (empty = auth disabled)")
	fs.StringVar(&c.Provider, "provider", ProviderGemini, "LLM provider to use (gemini or claude)")
	fs.StringVar(&c.GeminiAPIKey, "gemini-api-key", "", "API key for accessing the Gemini LLM provider")
	fs.StringVar(&c.GeminiModel, "gemini-model", "gemini-1.5-flash-8b", "Gemini model to use")
	fs.StringVar(&c.ClaudeAPIKey, "claude-api-key", "", "API key for accessing the Claude LLM provider")
	fs.StringVar(&c.ClaudeModel, "claude-model", "claude-sonnet-4-20250514", "Claude model to use")
	fs.DurationVar(&c.ModelTimeout, "model-timeout", 2*time.Minute, "per-call timeout for model requests")
	fs.UintVar(&c.DispatchMaxAttempts, "dispatch-max-attempts", 3, "max attempts per durable step before the event fails (1..10)")
	fs.DurationVar(&c.DispatchBackoff, "dispatch-backoff", 500*time.Millisecond, "initial backoff between step retries")
	fs.DurationVar(&c.DispatchMaxBackoff, "dispatch-max-backoff", 30*time.Second, "backoff ceiling between step retries")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = in-memory store and ledger)")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for notifications")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	switch c.Provider {
	case ProviderGemini:
		if c.GeminiAPIKey == "" {
			errs = append(errs, errors.New("GEMINI_API_KEY is required when provider is gemini"))
		}
		if c.GeminiModel == "" {
			errs = append(errs, errors.New("GEMINI_MODEL is required when provider is gemini"))
		}
	case ProviderClaude:
		if c.ClaudeAPIKey == "" {
			errs = append(errs, errors.New("CLAUDE_API_KEY is required when provider is claude"))
		}
		if c.ClaudeModel == "" {
			errs = append(errs, errors.New("CLAUDE_MODEL is required when provider is claude"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid PROVIDER %q (must be gemini or claude)", c.Provider))
	}

	if c.ModelTimeout <= 0 {
		errs = append(errs, fmt.Errorf("invalid MODEL_TIMEOUT %s (must be positive)", c.ModelTimeout))
	}

	if c.DispatchMaxAttempts == 0 || c.DispatchMaxAttempts > 10 {
		errs = append(errs, fmt.Errorf("invalid DISPATCH_MAX_ATTEMPTS %d (must be 1..10)", c.DispatchMaxAttempts))
	}
	if c.DispatchBackoff <= 0 {
		errs = append(errs, fmt.Errorf("invalid DISPATCH_BACKOFF %s (must be positive)", c.DispatchBackoff))
	}
	if c.DispatchMaxBackoff < c.DispatchBackoff {
		errs = append(errs, fmt.Errorf("DISPATCH_MAX_BACKOFF %s must be >= DISPATCH_BACKOFF %s", c.DispatchMaxBackoff, c.DispatchBackoff))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
