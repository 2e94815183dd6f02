package main

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// config is the daemon's environment-driven configuration.
type config struct {
	Addr string `env:"CONVEYOR_ADDR" envDefault:":8180"`

	// Store selects the backend: memory, postgres, sqlite, redis, mongo.
	Store       string `env:"CONVEYOR_STORE" envDefault:"memory"`
	PostgresDSN string `env:"CONVEYOR_POSTGRES_DSN"`
	SQLitePath  string `env:"CONVEYOR_SQLITE_PATH" envDefault:"conveyor.db"`
	RedisAddr   string `env:"CONVEYOR_REDIS_ADDR"`
	MongoURI    string `env:"CONVEYOR_MONGO_URI"`
	MongoDB     string `env:"CONVEYOR_MONGO_DATABASE" envDefault:"conveyor"`

	Queues          []string      `env:"CONVEYOR_QUEUES" envSeparator:"," envDefault:"default"`
	Concurrency     int           `env:"CONVEYOR_CONCURRENCY" envDefault:"10"`
	LeaseDuration   time.Duration `env:"CONVEYOR_LEASE_DURATION" envDefault:"30s"`
	ShutdownTimeout time.Duration `env:"CONVEYOR_SHUTDOWN_TIMEOUT" envDefault:"30s"`

	LogLevel  string `env:"CONVEYOR_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"CONVEYOR_LOG_FORMAT" envDefault:"console"`

	// AMQP ingress is enabled when a URL is set.
	AMQPURL        string `env:"CONVEYOR_AMQP_URL"`
	AMQPExchange   string `env:"CONVEYOR_AMQP_EXCHANGE"`
	AMQPQueue      string `env:"CONVEYOR_AMQP_QUEUE" envDefault:"conveyor.ingress"`
	AMQPRoutingKey string `env:"CONVEYOR_AMQP_ROUTING_KEY" envDefault:"conveyor.enqueue"`

	// Retention sweeps.
	RetainCompleted   time.Duration `env:"CONVEYOR_RETAIN_COMPLETED" envDefault:"24h"`
	RetainFailed      time.Duration `env:"CONVEYOR_RETAIN_FAILED" envDefault:"720h"`
	RetainDLQ         time.Duration `env:"CONVEYOR_RETAIN_DLQ" envDefault:"720h"`
	RetentionSchedule string        `env:"CONVEYOR_RETENTION_SCHEDULE" envDefault:"@hourly"`
}

func loadConfig() (config, error) {
	var c config
	if err := env.Parse(&c); err != nil {
		return c, fmt.Errorf("parse environment: %w", err)
	}
	return c, nil
}
