// Package profile resolves process configuration from the environment once
// at startup. A .env file in the working directory is honored when present.
package profile

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Profile is the resolved process configuration injected into the server.
type Profile struct {
	Mode string // "prod" or "dev"; dev enables debug logging
	Addr string
	Port int

	Driver string // "sqlite", "postgres" or "mysql"
	DSN    string

	// Provider selects the AI backend: "openrouter" (default) or "openai".
	Provider         string
	OpenRouterAPIKey string
	OpenAIAPIKey     string

	// Streaming tunables.
	MaxConcurrentSessions int
	MaxChunkSize          int
	DebounceInterval      time.Duration
	IdleTimeout           time.Duration
	DisposalGrace         time.Duration

	// Upstream resilience tunables.
	BreakerFailureThreshold int
	BreakerRecoveryTimeout  time.Duration
	RetryMaxAttempts        int
	RetryBaseDelay          time.Duration

	// Upstream slugs backing each public model variant.
	ModelGeneral   string
	ModelCoding    string
	ModelAcademic  string
	ModelReasoning string
	ModelEconomy   string
}

// IsDev reports whether the process runs in development mode.
func (p *Profile) IsDev() bool { return p.Mode != "prod" }

// ProviderConfigured reports whether the selected AI backend has an API key.
func (p *Profile) ProviderConfigured() bool {
	if p.Provider == "openai" {
		return p.OpenAIAPIKey != ""
	}
	return p.OpenRouterAPIKey != ""
}

// GetProfile reads the environment (prefixed PARLEY_) over built-in defaults.
func GetProfile() (*Profile, error) {
	// Missing .env is fine; the environment alone is a complete config.
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("parley")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("mode", "dev")
	v.SetDefault("addr", "")
	v.SetDefault("port", 8081)
	v.SetDefault("driver", "sqlite")
	v.SetDefault("dsn", "parley.db")
	v.SetDefault("provider", "openrouter")
	v.SetDefault("max-concurrent-sessions", 100)
	v.SetDefault("max-chunk-size", 100)
	v.SetDefault("debounce-interval", 50*time.Millisecond)
	v.SetDefault("idle-timeout", 2*time.Minute)
	v.SetDefault("disposal-grace", 5*time.Second)
	v.SetDefault("breaker-failure-threshold", 5)
	v.SetDefault("breaker-recovery-timeout", 30*time.Second)
	v.SetDefault("retry-max-attempts", 3)
	v.SetDefault("retry-base-delay", 500*time.Millisecond)
	v.SetDefault("model-general", "openai/gpt-4o-mini")
	v.SetDefault("model-coding", "anthropic/claude-3.5-sonnet")
	v.SetDefault("model-academic", "openai/gpt-4o")
	v.SetDefault("model-reasoning", "openai/o1-mini")
	v.SetDefault("model-economy", "meta-llama/llama-3.1-8b-instruct")

	p := &Profile{
		Mode:                    v.GetString("mode"),
		Addr:                    v.GetString("addr"),
		Port:                    v.GetInt("port"),
		Driver:                  v.GetString("driver"),
		DSN:                     v.GetString("dsn"),
		Provider:                v.GetString("provider"),
		OpenRouterAPIKey:        v.GetString("openrouter-api-key"),
		OpenAIAPIKey:            v.GetString("openai-api-key"),
		MaxConcurrentSessions:   v.GetInt("max-concurrent-sessions"),
		MaxChunkSize:            v.GetInt("max-chunk-size"),
		DebounceInterval:        v.GetDuration("debounce-interval"),
		IdleTimeout:             v.GetDuration("idle-timeout"),
		DisposalGrace:           v.GetDuration("disposal-grace"),
		BreakerFailureThreshold: v.GetInt("breaker-failure-threshold"),
		BreakerRecoveryTimeout:  v.GetDuration("breaker-recovery-timeout"),
		RetryMaxAttempts:        v.GetInt("retry-max-attempts"),
		RetryBaseDelay:          v.GetDuration("retry-base-delay"),
		ModelGeneral:            v.GetString("model-general"),
		ModelCoding:             v.GetString("model-coding"),
		ModelAcademic:           v.GetString("model-academic"),
		ModelReasoning:          v.GetString("model-reasoning"),
		ModelEconomy:            v.GetString("model-economy"),
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Profile) validate() error {
	if p.Mode != "dev" && p.Mode != "prod" {
		return errors.Errorf("unsupported mode %q, expected dev or prod", p.Mode)
	}
	switch p.Driver {
	case "sqlite", "postgres", "mysql":
	default:
		return errors.Errorf("unsupported store driver %q", p.Driver)
	}
	switch p.Provider {
	case "openrouter", "openai":
	default:
		return errors.Errorf("unsupported provider %q", p.Provider)
	}
	if p.Port <= 0 || p.Port > 65535 {
		return errors.Errorf("invalid port %d", p.Port)
	}
	return nil
}
