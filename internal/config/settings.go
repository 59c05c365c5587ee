package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"golang.org/x/text/language"
)

const (
	DefaultName           = "AI Assistant"
	DefaultAPIKey         = "aa-123456789"
	DefaultBaseURL        = "https://ollama.your-endpoint.com/api"
	DefaultModel          = "mistral:7b"
	DefaultMaxTokens      = 300
	DefaultTemperature    = 0.7
	DefaultLanguage       = "en"
	DefaultRequestTimeout = 30 * time.Second
	DefaultMaxHistory     = 20

	DefaultSessionIdleTimeout = 30 * time.Minute
	DefaultMaxSessions        = 256

	MinMaxTokens   = 1
	MaxMaxTokens   = 4000
	MinTemperature = 0.0
	MaxTemperature = 2.0
)

// Settings configure one agent instance. They are immutable for the
// lifetime of the agent and replaced wholesale on reconfiguration.
type Settings struct {
	Name           string
	EndpointURL    string
	APIKey         string
	Model          string
	MaxTokens      int
	Temperature    float64
	Language       string
	SystemPrompt   string
	RequestTimeout time.Duration
	MaxHistory     int

	// SessionIdleTimeout and MaxSessions bound the sessions an agent keeps.
	// Only sessions without a turn in flight are evicted.
	SessionIdleTimeout time.Duration
	MaxSessions        int
}

// ConfigurationError reports missing or invalid settings detected at setup.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid setting %s: %s", e.Field, e.Reason)
}

// WithDefaults fills zero-valued fields from the package defaults and the
// service-wide agent defaults.
func (s Settings) WithDefaults(d AgentDefaults) Settings {
	if s.Name == "" {
		s.Name = DefaultName
	}
	if s.MaxTokens == 0 {
		s.MaxTokens = DefaultMaxTokens
	}
	if s.Language == "" {
		s.Language = DefaultLanguage
	}
	if s.RequestTimeout == 0 {
		s.RequestTimeout = d.RequestTimeout
	}
	if s.RequestTimeout == 0 {
		s.RequestTimeout = DefaultRequestTimeout
	}
	if s.MaxHistory == 0 {
		s.MaxHistory = d.MaxHistory
	}
	if s.MaxHistory == 0 {
		s.MaxHistory = DefaultMaxHistory
	}
	if s.SessionIdleTimeout == 0 {
		s.SessionIdleTimeout = d.SessionIdleTimeout
	}
	if s.SessionIdleTimeout == 0 {
		s.SessionIdleTimeout = DefaultSessionIdleTimeout
	}
	if s.MaxSessions == 0 {
		s.MaxSessions = d.MaxSessions
	}
	if s.MaxSessions == 0 {
		s.MaxSessions = DefaultMaxSessions
	}
	s.EndpointURL = strings.TrimRight(strings.TrimSpace(s.EndpointURL), "/")
	return s
}

func (s Settings) Validate() error {
	if s.EndpointURL == "" {
		return &ConfigurationError{Field: "base_url", Reason: "required"}
	}
	u, err := url.Parse(s.EndpointURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &ConfigurationError{Field: "base_url", Reason: "must be an absolute http(s) URL"}
	}
	if strings.TrimSpace(s.Model) == "" {
		return &ConfigurationError{Field: "model", Reason: "required"}
	}
	if s.MaxTokens < MinMaxTokens || s.MaxTokens > MaxMaxTokens {
		return &ConfigurationError{Field: "max_tokens", Reason: fmt.Sprintf("must be between %d and %d", MinMaxTokens, MaxMaxTokens)}
	}
	if s.Temperature < MinTemperature || s.Temperature > MaxTemperature {
		return &ConfigurationError{Field: "temperature", Reason: fmt.Sprintf("must be between %.0f and %.0f", MinTemperature, MaxTemperature)}
	}
	if _, err := language.Parse(s.Language); err != nil {
		return &ConfigurationError{Field: "language", Reason: fmt.Sprintf("invalid language tag %q", s.Language)}
	}
	if s.RequestTimeout <= 0 {
		return &ConfigurationError{Field: "request_timeout", Reason: "must be positive"}
	}
	if s.MaxHistory < 0 {
		return &ConfigurationError{Field: "max_history", Reason: "must not be negative"}
	}
	if s.SessionIdleTimeout < 0 {
		return &ConfigurationError{Field: "session_idle_timeout", Reason: "must not be negative"}
	}
	if s.MaxSessions < 0 {
		return &ConfigurationError{Field: "max_sessions", Reason: "must not be negative"}
	}
	return nil
}

// BaseLanguage returns the ISO 639 base of the configured language tag,
// e.g. "de" for "de-AT". Unparseable tags yield "en".
func (s Settings) BaseLanguage() string {
	tag, err := language.Parse(s.Language)
	if err != nil {
		return DefaultLanguage
	}
	base, _ := tag.Base()
	return base.String()
}
