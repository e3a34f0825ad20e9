// Package config loads relay settings from the environment (optionally seeded
// from a .env file) and manages the server discovery list file.
package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds every tunable of the relay process. Zero-valued optional
// addresses (RedisAddr, NATSURL) disable the corresponding integration.
type Config struct {
	ListenAddr     string `envconfig:"LISTEN_ADDR" default:":5000"`
	ServerName     string `envconfig:"SERVER_NAME" default:"relay-1"`
	WorkerPoolSize int    `envconfig:"WORKER_POOL_SIZE" default:"64"`
	MaxConnections int    `envconfig:"MAX_CONNECTIONS" default:"10000"`

	ReadTimeout       time.Duration `envconfig:"READ_TIMEOUT" default:"5s"`
	WriteTimeout      time.Duration `envconfig:"WRITE_TIMEOUT" default:"5s"`
	OutboxSize        int           `envconfig:"OUTBOX_SIZE" default:"64"`
	HeartbeatInterval time.Duration `envconfig:"HEARTBEAT_INTERVAL" default:"30s"`
	HeartbeatTimeout  time.Duration `envconfig:"HEARTBEAT_TIMEOUT" default:"10s"`
	MaxMessageBytes   int           `envconfig:"MAX_MESSAGE_BYTES" default:"4096"`

	AssistantName string `envconfig:"ASSISTANT_NAME" default:"川小农"`
	ServersFile   string `envconfig:"SERVERS_FILE" default:"config.json"`

	RedisAddr string `envconfig:"REDIS_ADDR"`
	NATSURL   string `envconfig:"NATS_URL"`
}

// Load reads a .env file if one exists, then the process environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("config: failed to load .env file: %v", err)
	}
	return FromEnv()
}

// FromEnv reads the process environment only.
func FromEnv() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the relay cannot run with.
func (c Config) Validate() error {
	switch {
	case c.WorkerPoolSize <= 0:
		return fmt.Errorf("config: WORKER_POOL_SIZE must be positive, got %d", c.WorkerPoolSize)
	case c.MaxConnections <= 0:
		return fmt.Errorf("config: MAX_CONNECTIONS must be positive, got %d", c.MaxConnections)
	case c.OutboxSize <= 0:
		return fmt.Errorf("config: OUTBOX_SIZE must be positive, got %d", c.OutboxSize)
	case c.MaxMessageBytes <= 0:
		return fmt.Errorf("config: MAX_MESSAGE_BYTES must be positive, got %d", c.MaxMessageBytes)
	case c.AssistantName == "":
		return fmt.Errorf("config: ASSISTANT_NAME must not be empty")
	}
	return nil
}
