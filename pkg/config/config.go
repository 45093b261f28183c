// Package config collects environment configuration for the server and for
// clients of the realtime core.
package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Realtime RealtimeConfig
	Database DatabaseConfig
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type RealtimeConfig struct {
	// URL is the websocket endpoint clients dial.
	URL string

	// ReconnectMaxAttempts caps automatic reconnects after a lost socket.
	ReconnectMaxAttempts int

	// ReconnectDelay is the fixed wait before each reconnect attempt.
	ReconnectDelay time.Duration
}

type DatabaseConfig struct {
	// URL is optional; the server falls back to its in-memory store when
	// unset.
	URL string
}

// Load reads configuration from the environment, honoring a .env file when
// present.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found or error loading .env file: %v", err)
	}

	return &Config{
		Server: ServerConfig{
			Port:         getEnvOrDefault("PORT", ":8080"),
			ReadTimeout:  getDurationOrDefault("READ_TIMEOUT", "15s"),
			WriteTimeout: getDurationOrDefault("WRITE_TIMEOUT", "15s"),
		},
		Realtime: RealtimeConfig{
			URL:                  getEnvOrDefault("REALTIME_URL", "ws://localhost:8080/ws"),
			ReconnectMaxAttempts: getIntOrDefault("RECONNECT_MAX_ATTEMPTS", 5),
			ReconnectDelay:       getDurationOrDefault("RECONNECT_DELAY", "3s"),
		},
		Database: DatabaseConfig{
			URL: os.Getenv("DATABASE_URL"),
		},
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDurationOrDefault(key, defaultValue string) time.Duration {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		log.Fatalf("Invalid duration for %s: %v", key, err)
	}
	return duration
}

func getIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		log.Fatalf("Invalid integer for %s: %v", key, err)
	}
	return intValue
}
