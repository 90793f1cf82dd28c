// Package config provides centralized configuration for the e2e suite.
// It loads configuration from environment variables (optionally a .env
// file), validates required fields, and provides sensible defaults.
//
// Secrets such as provider passwords are never given defaults; providers
// that need them fail fast at credential-resolution time.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Credentials is a provider-specific test credential pair.
type Credentials struct {
	Email    string
	Password string
}

// Config holds all suite configuration.
type Config struct {
	// Target environment
	Environment  string // dev, staging, prod
	WebURL       string // player-facing web app
	AdminURL     string // admin portal
	FunctionsURL string // backend API base URL

	// IdPHost overrides the identity-provider host the SSO flow detects.
	// Empty means the provider's default (login.microsoftonline.com).
	IdPHost string

	// Per-provider test credentials, keyed by provider name.
	TestUsers map[string]Credentials

	// Browser settings
	Headless      bool
	SlowMoMS      int
	BrowserType   string // chromium, firefox, webkit
	ScreenshotDir string
}

// ValidationError represents a configuration validation error with multiple issues.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("configuration validation failed:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

// Load reads configuration from the environment. A .env file in the
// working directory is merged in first when present; real environment
// variables win.
func Load() (*Config, error) {
	// Ignore a missing .env; CI sets everything explicitly.
	_ = godotenv.Load()

	cfg := &Config{
		Environment:  getEnv("ENVIRONMENT", "dev"),
		WebURL:       strings.TrimRight(os.Getenv("WEB_URL"), "/"),
		AdminURL:     strings.TrimRight(os.Getenv("ADMIN_URL"), "/"),
		FunctionsURL: strings.TrimRight(os.Getenv("FUNCTIONS_URL"), "/"),
		IdPHost:      os.Getenv("SSO_IDP_HOST"),
		TestUsers: map[string]Credentials{
			"aad": {
				Email:    getEnv("SSO_TEST_USER_EMAIL", "test.sso.user@xevolve.io"),
				Password: os.Getenv("SSO_TEST_USER_PASSWORD"),
			},
			"local": {
				Email:    getEnv("LOCAL_TEST_USER_EMAIL", "test@example.com"),
				Password: os.Getenv("LOCAL_TEST_USER_PASSWORD"),
			},
		},
		Headless:      getEnvBool("HEADLESS", true),
		SlowMoMS:      getEnvInt("SLOW_MO", 0),
		BrowserType:   getEnv("BROWSER", "chromium"),
		ScreenshotDir: getEnv("SCREENSHOT_DIR", "reports/screenshots"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that required fields are present and well formed.
func (c *Config) Validate() error {
	var issues []string

	if c.FunctionsURL == "" {
		issues = append(issues, "FUNCTIONS_URL is required")
	}
	switch c.BrowserType {
	case "chromium", "firefox", "webkit":
	default:
		issues = append(issues, fmt.Sprintf("BROWSER must be chromium, firefox, or webkit (got %q)", c.BrowserType))
	}
	if c.SlowMoMS < 0 {
		issues = append(issues, "SLOW_MO must be >= 0")
	}

	if len(issues) > 0 {
		return &ValidationError{Errors: issues}
	}
	return nil
}

// Credentials returns the test credential pair configured for a provider.
// The second return is false when no credentials are configured under
// that name. Whether a missing password is fatal is the provider's call.
func (c *Config) Credentials(provider string) (Credentials, bool) {
	creds, ok := c.TestUsers[provider]
	return creds, ok
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if v == "" {
		return fallback
	}
	return v == "true" || v == "1" || v == "yes"
}

func getEnvInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return parsed
}
