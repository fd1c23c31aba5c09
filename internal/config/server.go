package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Verifier backends.
const (
	VerifierClerk = "clerk"
	VerifierJWKS  = "jwks"
)

// ServerConfig holds configuration for the gate server. It is loaded once at
// startup and treated as read-only afterwards.
type ServerConfig struct {
	ListenAddr string
	LogLevel   slog.Level
	HTTP       HTTPConfig

	Verifier string
	// ClerkSecretKey is sensitive and must never be logged.
	ClerkSecretKey    string
	ClerkAPIURL       string
	AuthorizedParties []string
	JWKSURL           string
	JWTIssuer         string

	AuthMode      string
	VerifyTimeout time.Duration
	ClockLeeway   time.Duration

	LegacyRoutes       bool
	RateLimitPerMinute float64
}

// LoadServer loads server configuration from environment variables.
func LoadServer() (*ServerConfig, error) {
	cfg := &ServerConfig{
		ListenAddr: ":8080",
		HTTP: HTTPConfig{
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       120 * time.Second,
			ShutdownTimeout:   15 * time.Second,
		},
		Verifier:           VerifierClerk,
		AuthMode:           "strict",
		VerifyTimeout:      5 * time.Second,
		ClockLeeway:        5 * time.Second,
		LegacyRoutes:       true,
		RateLimitPerMinute: 120,
	}

	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		level, err := parseLogLevel(v)
		if err != nil {
			return nil, err
		}
		cfg.LogLevel = level
	}

	if v := os.Getenv("VERIFIER"); v != "" {
		cfg.Verifier = strings.ToLower(strings.TrimSpace(v))
	}

	cfg.ClerkSecretKey = strings.TrimSpace(os.Getenv("CLERK_SECRET_KEY"))
	cfg.ClerkAPIURL = os.Getenv("CLERK_API_URL")
	cfg.AuthorizedParties = splitList(os.Getenv("CLERK_AUTHORIZED_PARTIES"))
	cfg.JWKSURL = os.Getenv("JWKS_URL")
	cfg.JWTIssuer = os.Getenv("JWT_ISSUER")

	switch cfg.Verifier {
	case VerifierClerk:
		if cfg.ClerkSecretKey == "" {
			return nil, fmt.Errorf("CLERK_SECRET_KEY environment variable is required")
		}
	case VerifierJWKS:
		if cfg.JWKSURL == "" || cfg.JWTIssuer == "" {
			return nil, fmt.Errorf("JWKS_URL and JWT_ISSUER are required when VERIFIER=jwks")
		}
	default:
		return nil, fmt.Errorf("invalid VERIFIER value %q: must be clerk or jwks", cfg.Verifier)
	}

	if v := os.Getenv("AUTH_MODE"); v != "" {
		cfg.AuthMode = strings.ToLower(strings.TrimSpace(v))
	}
	if cfg.AuthMode != "strict" && cfg.AuthMode != "soft" {
		return nil, fmt.Errorf("invalid AUTH_MODE value %q: must be strict or soft", cfg.AuthMode)
	}

	if err := durationEnv("VERIFY_TIMEOUT", &cfg.VerifyTimeout); err != nil {
		return nil, err
	}
	if err := durationEnv("CLOCK_LEEWAY", &cfg.ClockLeeway); err != nil {
		return nil, err
	}
	if err := durationEnv("READ_HEADER_TIMEOUT", &cfg.HTTP.ReadHeaderTimeout); err != nil {
		return nil, err
	}
	if err := durationEnv("IDLE_TIMEOUT", &cfg.HTTP.IdleTimeout); err != nil {
		return nil, err
	}
	if err := durationEnv("SHUTDOWN_TIMEOUT", &cfg.HTTP.ShutdownTimeout); err != nil {
		return nil, err
	}
	if cfg.VerifyTimeout == 0 {
		return nil, fmt.Errorf("invalid VERIFY_TIMEOUT: must be positive")
	}

	if err := boolEnv("LEGACY_ROUTES", &cfg.LegacyRoutes); err != nil {
		return nil, err
	}

	if v := os.Getenv("RATE_LIMIT_PER_MINUTE"); v != "" {
		n, err := strconv.ParseFloat(v, 64)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid RATE_LIMIT_PER_MINUTE value %q: must be a non-negative number", v)
		}
		cfg.RateLimitPerMinute = n
	}

	return cfg, nil
}
