package config

import (
	"strings"
	"testing"
	"time"
)

func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("PG_HOST", "cassandra-replacement.local")
	t.Setenv("PG_USER", "waggle")
	t.Setenv("PG_PASSWORD", "p@ss word")
	t.Setenv("PG_DBNAME", "waggle")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
}

func TestLoadDefaults(t *testing.T) {
	setBaseEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Worker.Queue != "data" {
		t.Errorf("Queue = %q, want data", cfg.Worker.Queue)
	}
	if cfg.Worker.Transport != TransportKafka {
		t.Errorf("Transport = %q", cfg.Worker.Transport)
	}
	if cfg.Worker.StorageAttempts != 1 {
		t.Errorf("StorageAttempts = %d, want 1", cfg.Worker.StorageAttempts)
	}
	if cfg.Worker.InsertTimeout != 10*time.Second {
		t.Errorf("InsertTimeout = %v", cfg.Worker.InsertTimeout)
	}
	if cfg.Worker.DeadLetter != DeadLetterNone {
		t.Errorf("DeadLetter = %q", cfg.Worker.DeadLetter)
	}
	if cfg.Postgres.ConnMode != ConnModePerCall {
		t.Errorf("ConnMode = %q", cfg.Postgres.ConnMode)
	}
	if cfg.Postgres.Table != "sensor_data" {
		t.Errorf("Table = %q", cfg.Postgres.Table)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "k2:9092" {
		t.Errorf("Brokers = %v", cfg.Kafka.Brokers)
	}
}

func TestEffectiveDSN(t *testing.T) {
	c := PostgresConfig{Host: "db", Port: 5433, User: "u", Password: "p@ss", DBName: "waggle", SSLMode: "disable"}
	dsn := c.EffectiveDSN()
	if !strings.HasPrefix(dsn, "postgres://u:p%40ss@db:5433/waggle") {
		t.Fatalf("unexpected dsn %q", dsn)
	}

	c.DSN = "postgres://other/db"
	if c.EffectiveDSN() != "postgres://other/db" {
		t.Fatalf("explicit DSN must win")
	}
}

func TestLoadRejectsInvalidCombinations(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
	}{
		{"unknown transport", map[string]string{"WORKER_TRANSPORT": "carrier-pigeon"}},
		{"kafka without brokers", map[string]string{"KAFKA_BROKERS": ""}},
		{"redis dead letters without redis", map[string]string{"WORKER_DEAD_LETTER": "redis"}},
		{"s3 dead letters without bucket", map[string]string{"WORKER_DEAD_LETTER": "s3"}},
		{"zero attempts", map[string]string{"WORKER_STORAGE_ATTEMPTS": "0"}},
		{"bad conn mode", map[string]string{"PG_CONN_MODE": "sometimes"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			setBaseEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestLoadSQSTransportNeedsNoBrokers(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("KAFKA_BROKERS", "")
	t.Setenv("WORKER_TRANSPORT", "sqs")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.SQS.Base64Body || cfg.SQS.WaitTimeSeconds != 20 {
		t.Fatalf("unexpected sqs defaults: %+v", cfg.SQS)
	}
}

func TestValidateSQSVisibilityCoversHandling(t *testing.T) {
	cases := []struct {
		name       string
		attempts   int
		visibility int32
		wantErr    bool
	}{
		{"defaults", 1, 30, false},
		{"retries outlast lease", 10, 30, true},
		{"lease sized for retries", 10, 138, false},
		{"queue default lease", 1, 0, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			setBaseEnv(t)
			t.Setenv("WORKER_TRANSPORT", "sqs")
			cfg, err := Load()
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			cfg.Worker.StorageAttempts = tc.attempts
			cfg.Worker.InsertTimeout = 10 * time.Second
			cfg.SQS.VisibilityTO = tc.visibility

			err = cfg.Validate()
			if tc.wantErr && err == nil {
				t.Fatalf("expected error for visibility %ds with %d attempts", tc.visibility, tc.attempts)
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("Validate: %v", err)
			}
		})
	}
}

func TestMaxHandleTime(t *testing.T) {
	w := WorkerConfig{StorageAttempts: 3, InsertTimeout: 10 * time.Second, RetryMaxDelay: 2 * time.Second}
	if got, want := w.MaxHandleTime(), 54*time.Second; got != want {
		t.Fatalf("MaxHandleTime = %v, want %v", got, want)
	}
}
