package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultAppName          = "InvestaPortal"
	defaultAppEnv           = "development"
	defaultPort             = "3000"
	defaultLogLevel         = "info"
	defaultAPIBaseURL       = "http://localhost:8080/api"
	defaultNamespace        = "portal"
	defaultShutdownDelay    = 10 * time.Second
	defaultRefreshInterval  = 10 * time.Second
	defaultSessionTTL       = 24 * time.Hour
	defaultPaymentPoll      = 5 * time.Second
	defaultAPITimeout       = 15 * time.Second
	defaultSubmitTTL        = 10 * time.Minute
	defaultAPIRateLimit     = 20
	defaultLoginAttempts    = 5
	shutdownSecondsEnvVar   = "SHUTDOWN_TIMEOUT_SECONDS"
	shutdownDurationEnvVar  = "SHUTDOWN_TIMEOUT"
	refreshSecondsEnvVar    = "REFRESH_INTERVAL_SECONDS"
	refreshDurationEnvVar   = "REFRESH_INTERVAL"
	sessionTTLEnvVar        = "SESSION_TTL"
	paymentPollEnvVar       = "PAYMENT_POLL_INTERVAL"
	apiTimeoutEnvVar        = "API_TIMEOUT"
	submitTTLEnvVar         = "SUBMIT_TTL"
	apiRateLimitEnvVar      = "API_RATE_LIMIT"
	loginAttemptsEnvVar     = "LOGIN_ATTEMPTS_PER_MINUTE"
	dotenvFileEnvVar        = "DOTENV_FILE"
	defaultDotenvFile       = ".env"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName          string
	AppEnv           string
	Port             string
	LogLevel         string
	APIBaseURL       string
	RedisURL         string
	StorageNamespace string
	ShutdownPeriod   time.Duration
	RefreshInterval  time.Duration
	SessionTTL       time.Duration
	PaymentPoll      time.Duration
	APITimeout       time.Duration
	SubmitTTL        time.Duration
	APIRateLimit     int
	LoginAttempts    int
	// SpinPrizes is the wheel layout as "CODE:Label,CODE:Label"; empty means built-in.
	SpinPrizes string
}

// Load reads an optional dotenv file and then populates a Config from the environment.
// Values already present in the environment win over the file.
func Load() (Config, error) {
	file := getEnv(dotenvFileEnvVar, defaultDotenvFile)
	if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load %s: %w", file, err)
	}

	cfg := Config{
		AppName:          getEnv("APP_NAME", defaultAppName),
		AppEnv:           getEnv("APP_ENV", defaultAppEnv),
		Port:             getEnv("PORT", defaultPort),
		LogLevel:         strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		APIBaseURL:       strings.TrimRight(getEnv("API_BASE_URL", defaultAPIBaseURL), "/"),
		RedisURL:         os.Getenv("REDIS_URL"),
		StorageNamespace: getEnv("STORAGE_NAMESPACE", defaultNamespace),
		ShutdownPeriod:   defaultShutdownDelay,
		RefreshInterval:  defaultRefreshInterval,
		SessionTTL:       defaultSessionTTL,
		PaymentPoll:      defaultPaymentPoll,
		APITimeout:       defaultAPITimeout,
		SubmitTTL:        defaultSubmitTTL,
		APIRateLimit:     defaultAPIRateLimit,
		LoginAttempts:    defaultLoginAttempts,
		SpinPrizes:       os.Getenv("SPIN_PRIZES"),
	}

	var err error
	if cfg.ShutdownPeriod, err = secondsOrDuration(shutdownSecondsEnvVar, shutdownDurationEnvVar, cfg.ShutdownPeriod); err != nil {
		return Config{}, err
	}
	if cfg.RefreshInterval, err = secondsOrDuration(refreshSecondsEnvVar, refreshDurationEnvVar, cfg.RefreshInterval); err != nil {
		return Config{}, err
	}
	if cfg.SessionTTL, err = duration(sessionTTLEnvVar, cfg.SessionTTL); err != nil {
		return Config{}, err
	}
	if cfg.PaymentPoll, err = duration(paymentPollEnvVar, cfg.PaymentPoll); err != nil {
		return Config{}, err
	}
	if cfg.APITimeout, err = duration(apiTimeoutEnvVar, cfg.APITimeout); err != nil {
		return Config{}, err
	}
	if cfg.SubmitTTL, err = duration(submitTTLEnvVar, cfg.SubmitTTL); err != nil {
		return Config{}, err
	}
	if cfg.APIRateLimit, err = integer(apiRateLimitEnvVar, cfg.APIRateLimit); err != nil {
		return Config{}, err
	}
	if cfg.LoginAttempts, err = integer(loginAttemptsEnvVar, cfg.LoginAttempts); err != nil {
		return Config{}, err
	}

	if cfg.RefreshInterval <= 0 {
		return Config{}, fmt.Errorf("%s must be positive", refreshDurationEnvVar)
	}

	if cfg.RedisURL == "" && !cfg.IsDev() {
		return Config{}, fmt.Errorf("REDIS_URL must be set when APP_ENV=%s", cfg.AppEnv)
	}

	return cfg, nil
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

// IsDev reports whether the portal runs in a local development environment.
func (c Config) IsDev() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local":
		return true
	default:
		return false
	}
}

func secondsOrDuration(secondsKey, durationKey string, fallback time.Duration) (time.Duration, error) {
	if v := os.Getenv(secondsKey); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", secondsKey, err)
		}
		return time.Duration(seconds) * time.Second, nil
	}
	return duration(durationKey, fallback)
}

func duration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func integer(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
