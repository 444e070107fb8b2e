package config

import (
	"os"
	"strconv"
	"time"
)

// ServiceConfig holds process-level settings read straight from the environment
type ServiceConfig struct {
	Port            string
	Environment     string
	LogLevel        string
	ShutdownTimeout time.Duration
	UseMemoryStore  bool
}

func LoadServiceConfig() *ServiceConfig {
	return &ServiceConfig{
		Port:            getEnv("PORT", "8080"),
		Environment:     getEnv("APP_ENV", "production"),
		LogLevel:        getEnv("LOG_LEVEL", ""),
		ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		UseMemoryStore:  getEnvAsBool("USE_MEMORY_STORE", false),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			return duration
		}
	}
	return defaultVal
}
