package config

import (
	"net/url"
	"strconv"
	"time"
)

const (
	TransportKafka = "kafka"
	TransportSQS   = "sqs"

	DeadLetterNone  = "none"
	DeadLetterKafka = "kafka"
	DeadLetterRedis = "redis"
	DeadLetterS3    = "s3"

	ConnModePerCall = "per_call"
	ConnModePooled  = "pooled"
)

type HTTPConfig struct {
	Host string `env:"HOST" envDefault:"0.0.0.0"`
	Port int    `env:"PORT" envDefault:"8080" validate:"gte=0,lte=65535"`
}

type WorkerConfig struct {
	// Queue is the well-known queue (topic) the worker consumes.
	Queue     string `env:"QUEUE" envDefault:"data" validate:"required"`
	Transport string `env:"TRANSPORT" envDefault:"kafka" validate:"oneof=kafka sqs"`

	InsertTimeout time.Duration `env:"INSERT_TIMEOUT" envDefault:"10s" validate:"gt=0"`
	StopTimeout   time.Duration `env:"STOP_TIMEOUT" envDefault:"30s" validate:"gt=0"`

	// StorageAttempts is 1 by default: a failed insert is not retried.
	StorageAttempts int           `env:"STORAGE_ATTEMPTS" envDefault:"1" validate:"gte=1,lte=10"`
	RetryBaseDelay  time.Duration `env:"RETRY_BASE_DELAY" envDefault:"200ms"`
	RetryMaxDelay   time.Duration `env:"RETRY_MAX_DELAY" envDefault:"2s"`

	DeadLetter string `env:"DEAD_LETTER" envDefault:"none" validate:"oneof=none kafka redis s3"`
}

// MaxHandleTime is the longest one message can be held: every storage
// attempt with the backoff between them, then the dead-letter send and the
// ack, each bounded by InsertTimeout.
func (w WorkerConfig) MaxHandleTime() time.Duration {
	attempts := max(w.StorageAttempts, 1)
	return time.Duration(attempts+2)*w.InsertTimeout + time.Duration(attempts-1)*w.RetryMaxDelay
}

type PostgresConfig struct {
	// Either DSN directly (e.g. from AWS RDS secret),
	// or components to build it if DSN is empty.
	DSN      string `env:"DSN"`
	Host     string `env:"HOST" validate:"required_without=DSN"`
	Port     int    `env:"PORT" envDefault:"5432"`
	User     string `env:"USER"`
	Password string `env:"PASSWORD"`
	DBName   string `env:"DBNAME"`
	SSLMode  string `env:"SSLMODE" envDefault:"disable"`

	Table    string `env:"TABLE" envDefault:"sensor_data" validate:"required"`
	ConnMode string `env:"CONN_MODE" envDefault:"per_call" validate:"oneof=per_call pooled"`

	MaxOpenConns int `env:"MAX_OPEN_CONNS" envDefault:"4" validate:"gte=1"`
}

func (c PostgresConfig) EffectiveDSN() string {
	if c.DSN != "" {
		return c.DSN
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     c.Host + ":" + strconv.Itoa(c.Port),
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=" + url.QueryEscape(c.SSLMode),
	}
	return u.String()
}

type RedisConfig struct {
	Enabled  bool   `env:"ENABLED" envDefault:"false"`
	Addr     string `env:"ADDR" envDefault:"localhost:6379"`
	Password string `env:"PASSWORD"`
	DB       int    `env:"DB" envDefault:"0"`

	DeadLetterKey    string `env:"DEAD_LETTER_KEY" envDefault:"dataproc:dead-letter"`
	DeadLetterMaxLen int64  `env:"DEAD_LETTER_MAX_LEN" envDefault:"10000" validate:"gte=1"`
}

type KafkaConfig struct {
	Brokers     []string `env:"BROKERS" envSeparator:","`
	ClientID    string   `env:"CLIENT_ID" envDefault:"dataproc"`
	GroupID     string   `env:"GROUP_ID" envDefault:"dataproc-worker"`
	TopicPrefix string   `env:"TOPIC_PREFIX"`

	DeadLetterTopic string `env:"DEAD_LETTER_TOPIC" envDefault:"data.dead-letter"`
}

type SQSConfig struct {
	// QueueURL skips the GetQueueUrl lookup when set.
	QueueURL        string `env:"QUEUE_URL"`
	WaitTimeSeconds int32  `env:"WAIT_TIME_SECONDS" envDefault:"20" validate:"gte=0,lte=20"`
	VisibilityTO    int32  `env:"VISIBILITY_TIMEOUT" envDefault:"30" validate:"gte=0"`
	Base64Body      bool   `env:"BASE64_BODY" envDefault:"true"`
}

type S3Config struct {
	Bucket string `env:"BUCKET"`
	Prefix string `env:"PREFIX" envDefault:"dead-letter"`
}

// ObservabilityConfig Observability / telemetry configuration
type ObservabilityConfig struct {
	Enabled     bool   `env:"ENABLED" envDefault:"false"`
	ServiceName string `env:"SERVICE_NAME" envDefault:"dataproc-worker"`
	ServiceEnv  string `env:"SERVICE_ENV" envDefault:"Development"`
	// e.g. "otel-collector:4317"
	OtelEndpoint string `env:"ENDPOINT"`
}

type Config struct {
	Environment string `env:"APP_ENV" envDefault:"Development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	HTTP          HTTPConfig          `envPrefix:"HTTP_"`
	Worker        WorkerConfig        `envPrefix:"WORKER_"`
	Postgres      PostgresConfig      `envPrefix:"PG_"`
	Redis         RedisConfig         `envPrefix:"REDIS_"`
	Kafka         KafkaConfig         `envPrefix:"KAFKA_"`
	SQS           SQSConfig           `envPrefix:"SQS_"`
	S3            S3Config            `envPrefix:"S3_"`
	Observability ObservabilityConfig `envPrefix:"OTEL_"`
}
