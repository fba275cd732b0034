package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5"
	"github.com/joho/godotenv"
)

var validate = validator.New()

// Load reads an optional .env file, then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field constraints and the combinations between sections.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if _, err := pgx.ParseConfig(c.Postgres.EffectiveDSN()); err != nil {
		return fmt.Errorf("invalid postgres dsn: %w", err)
	}

	needKafka := c.Worker.Transport == TransportKafka || c.Worker.DeadLetter == DeadLetterKafka
	if needKafka && len(c.Kafka.Brokers) == 0 {
		return errors.New("invalid config: KAFKA_BROKERS is required")
	}
	if c.Worker.Transport == TransportSQS {
		if err := c.checkVisibility(); err != nil {
			return err
		}
	}
	if c.Worker.DeadLetter == DeadLetterRedis && !c.Redis.Enabled {
		return errors.New("invalid config: redis dead letters need REDIS_ENABLED=true")
	}
	if c.Worker.DeadLetter == DeadLetterS3 && c.S3.Bucket == "" {
		return errors.New("invalid config: S3_BUCKET is required")
	}
	return nil
}

// checkVisibility rejects an SQS lease that can run out while a message is
// still being handled; SQS would then redeliver it to another consumer.
func (c *Config) checkVisibility() error {
	visibility := time.Duration(c.SQS.VisibilityTO) * time.Second
	need := c.Worker.MaxHandleTime()
	if visibility < need {
		return fmt.Errorf("invalid config: SQS_VISIBILITY_TIMEOUT %s is shorter than the worst-case handling time %s", visibility, need)
	}
	return nil
}
