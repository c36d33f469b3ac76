package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is the process configuration, read from the environment.
type Config struct {
	Port      string
	LogLevel  string
	LogFormat string

	// PrepareTimeout bounds a player's prepare step; 0 leaves it unbounded.
	PrepareTimeout time.Duration
	// DisposeTimeout bounds how long StopPlayback waits for teardown.
	DisposeTimeout time.Duration
	// ControlRateLimit is the per-IP request budget per minute on control
	// routes; 0 disables limiting.
	ControlRateLimit int

	SurfaceName     string
	SimDuration     time.Duration
	SimPrepareDelay time.Duration
}

// FromEnv builds a Config from environment variables, applying defaults for
// anything unset or malformed.
func FromEnv() Config {
	return Config{
		Port:             GetEnv("PORT", "8080"),
		LogLevel:         GetEnv("LOG_LEVEL", "info"),
		LogFormat:        GetEnv("LOG_FORMAT", "json"),
		PrepareTimeout:   GetEnvDuration("PREPARE_TIMEOUT", 0),
		DisposeTimeout:   GetEnvDuration("DISPOSE_TIMEOUT", 5*time.Second),
		ControlRateLimit: GetEnvInt("CONTROL_RATE_LIMIT", 120),
		SurfaceName:      GetEnv("SURFACE_NAME", "main"),
		SimDuration:      GetEnvDuration("SIM_DURATION", 10*time.Minute),
		SimPrepareDelay:  GetEnvDuration("SIM_PREPARE_DELAY", 200*time.Millisecond),
	}
}

// Load reads the .env file from the current working directory and sets
// environment variables. If .env does not exist, Load returns an error but
// callers can ignore it and use system env or defaults. Pass one or more paths
// to load from specific files (e.g. ".env"); with no paths, ".env" is used.
func Load(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	return godotenv.Load(paths...)
}

// GetEnv returns the value of the environment variable named by key, or fallback
// if the variable is unset or empty.
func GetEnv(key, fallback string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return fallback
}

// GetEnvInt returns the integer value of the environment variable named by key,
// or fallback if the variable is unset, empty, or not a valid integer.
func GetEnvInt(key string, fallback int) int {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return fallback
}

// GetEnvDuration parses a time.ParseDuration value ("250ms", "5s").
func GetEnvDuration(key string, fallback time.Duration) time.Duration {
	if s := os.Getenv(key); s != "" {
		if d, err := time.ParseDuration(s); err == nil && d >= 0 {
			return d
		}
	}
	return fallback
}
