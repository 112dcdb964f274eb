package httpbackend

import (
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/animus-labs/retrigger/internal/platform/env"
)

type Config struct {
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
	Backoff    time.Duration
	RateLimit  float64
	RateBurst  int
	UserAgent  string

	// Client credentials are optional. When ClientID is set every request
	// carries a bearer token from TokenURL.
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
}

func ConfigFromEnv() (Config, error) {
	timeout, err := env.Duration("TRIGGER_BACKEND_TIMEOUT", 10*time.Second)
	if err != nil {
		return Config{}, err
	}
	maxRetries, err := env.Int("TRIGGER_BACKEND_MAX_RETRIES", 3)
	if err != nil {
		return Config{}, err
	}
	backoff, err := env.Duration("TRIGGER_BACKEND_BACKOFF", 200*time.Millisecond)
	if err != nil {
		return Config{}, err
	}
	rateLimit, err := env.Float("TRIGGER_BACKEND_RATE_LIMIT", 5)
	if err != nil {
		return Config{}, err
	}
	rateBurst, err := env.Int("TRIGGER_BACKEND_RATE_BURST", 5)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		BaseURL:      env.String("TRIGGER_BACKEND_URL", ""),
		Timeout:      timeout,
		MaxRetries:   maxRetries,
		Backoff:      backoff,
		RateLimit:    rateLimit,
		RateBurst:    rateBurst,
		UserAgent:    env.String("TRIGGER_BACKEND_USER_AGENT", "retrigger-console/1.0"),
		TokenURL:     env.String("TRIGGER_BACKEND_TOKEN_URL", ""),
		ClientID:     env.String("TRIGGER_BACKEND_CLIENT_ID", ""),
		ClientSecret: env.String("TRIGGER_BACKEND_CLIENT_SECRET", ""),
		Scopes:       strings.Fields(env.String("TRIGGER_BACKEND_SCOPES", "")),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return errors.New("TRIGGER_BACKEND_URL is required")
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return errors.New("TRIGGER_BACKEND_URL must be an absolute URL")
	}
	if c.Timeout <= 0 {
		return errors.New("TRIGGER_BACKEND_TIMEOUT must be positive")
	}
	if c.MaxRetries < 0 {
		return errors.New("TRIGGER_BACKEND_MAX_RETRIES must be >= 0")
	}
	if c.Backoff < 0 {
		return errors.New("TRIGGER_BACKEND_BACKOFF must be >= 0")
	}
	if c.RateLimit <= 0 {
		return errors.New("TRIGGER_BACKEND_RATE_LIMIT must be positive")
	}
	if c.RateBurst < 1 {
		return errors.New("TRIGGER_BACKEND_RATE_BURST must be >= 1")
	}
	if strings.TrimSpace(c.ClientID) != "" && strings.TrimSpace(c.TokenURL) == "" {
		return errors.New("TRIGGER_BACKEND_TOKEN_URL is required when TRIGGER_BACKEND_CLIENT_ID is set")
	}
	return nil
}
