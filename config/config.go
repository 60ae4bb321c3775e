package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

type Config struct {
	HTTPAddr              string
	PostgresURL           string
	RedisAddr             string
	GatewayAddr           string
	PaymentsAddr          string
	JWTSecret             string
	LogLevel              logrus.Level
	LateConfirmationAfter time.Duration
	IssuingLease          time.Duration
	PromoCacheTTL         time.Duration
	GatewayTimeout        time.Duration
	ShutdownTimeout       time.Duration
}

// Load reads the environment, after a .env file in the working directory if
// there is one.
func Load() (Config, error) {
	_ = godotenv.Load()

	var errs []error

	level, err := logrus.ParseLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		errs = append(errs, fmt.Errorf("LOG_LEVEL: %w", err))
	}

	cfg := Config{
		HTTPAddr:              getEnv("HTTP_ADDR", ":8080"),
		PostgresURL:           os.Getenv("POSTGRES_URL"),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		GatewayAddr:           os.Getenv("GATEWAY_ADDR"),
		PaymentsAddr:          os.Getenv("PAYMENTS_ADDR"),
		JWTSecret:             os.Getenv("JWT_SECRET"),
		LogLevel:              level,
		LateConfirmationAfter: getEnvAsDuration("LATE_CONFIRMATION_AFTER", 15*time.Minute, &errs),
		IssuingLease:          getEnvAsDuration("ISSUING_LEASE", 2*time.Minute, &errs),
		PromoCacheTTL:         getEnvAsDuration("PROMO_CACHE_TTL", 5*time.Minute, &errs),
		GatewayTimeout:        getEnvAsDuration("GATEWAY_TIMEOUT", 10*time.Second, &errs),
		ShutdownTimeout:       getEnvAsDuration("SHUTDOWN_TIMEOUT", 5*time.Second, &errs),
	}

	if err := errors.Join(errs...); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func (c Config) Validate() error {
	var missing []string
	for name, value := range map[string]string{
		"POSTGRES_URL": c.PostgresURL,
		"REDIS_ADDR":   c.RedisAddr,
		"GATEWAY_ADDR": c.GatewayAddr,
		"JWT_SECRET":   c.JWTSecret,
	} {
		if value == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return fmt.Errorf("missing %s", strings.Join(missing, ", "))
	}

	if c.LateConfirmationAfter <= 0 {
		return fmt.Errorf("LATE_CONFIRMATION_AFTER must be positive")
	}
	if c.IssuingLease <= 0 {
		return fmt.Errorf("ISSUING_LEASE must be positive")
	}

	return nil
}

// PaymentsURL is where authorizations are sent. It defaults to the gateway.
func (c Config) PaymentsURL() string {
	if c.PaymentsAddr != "" {
		return c.PaymentsAddr
	}
	return c.GatewayAddr
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration, errs *[]error) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	d, err := time.ParseDuration(value)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	return d
}
