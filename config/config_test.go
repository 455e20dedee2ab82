package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"SQS_QUEUE_URL", "QUEUE_BACKEND", "REDIS_ADDR", "STREAM_CHUNK_INTERVAL", "DATASTORE_DRIVER", "SERVER_PORT", "PORT"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	if cfg.ServerPort != "8080" {
		t.Fatalf("expected default port 8080 got %s", cfg.ServerPort)
	}
	if cfg.StreamChunkInterval != 50*time.Millisecond {
		t.Fatalf("unexpected chunk interval %s", cfg.StreamChunkInterval)
	}
	if cfg.QueueEnabled() {
		t.Fatalf("queue should be disabled without SQS_QUEUE_URL")
	}
	if cfg.DataStoreDriver != "" {
		t.Fatalf("expected in-memory ledger by default, got %q", cfg.DataStoreDriver)
	}
}

func TestResolvedQueueBackend(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		cfg  Config
		want string
	}{
		{name: "none", cfg: Config{}, want: ""},
		{name: "sqs url implies sqs", cfg: Config{SQSQueueURL: "https://sqs.us-east-1.amazonaws.com/1/q"}, want: QueueBackendSQS},
		{name: "explicit redis", cfg: Config{QueueBackend: QueueBackendRedis, RedisAddr: "localhost:6379"}, want: QueueBackendRedis},
		{name: "redis without address", cfg: Config{QueueBackend: QueueBackendRedis}, want: ""},
		{name: "explicit sqs without url", cfg: Config{QueueBackend: QueueBackendSQS, RedisAddr: "localhost:6379"}, want: ""},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := tc.cfg.ResolvedQueueBackend(); got != tc.want {
				t.Fatalf("ResolvedQueueBackend() = %q want %q", got, tc.want)
			}
		})
	}
}

func TestLoadParsesTypedValues(t *testing.T) {
	t.Setenv("STREAM_CHUNK_INTERVAL", "5ms")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("ORCA_DEV_MODE", "yes")
	t.Setenv("QUEUE_BATCH_SIZE", "not-a-number")
	t.Setenv("DATASTORE_DRIVER", "SQLite")
	t.Setenv("DATASTORE_DSN", "")

	cfg := Load()
	if cfg.StreamChunkInterval != 5*time.Millisecond {
		t.Fatalf("unexpected chunk interval %s", cfg.StreamChunkInterval)
	}
	if cfg.RedisDB != 3 {
		t.Fatalf("unexpected redis db %d", cfg.RedisDB)
	}
	if !cfg.DevMode {
		t.Fatalf("expected dev mode enabled")
	}
	if cfg.QueueBatchSize != 10 {
		t.Fatalf("invalid int should fall back to default, got %d", cfg.QueueBatchSize)
	}
	if cfg.DataStoreDriver != "sqlite" || cfg.DataStoreDSN == "" {
		t.Fatalf("expected sqlite driver with default dsn, got %q %q", cfg.DataStoreDriver, cfg.DataStoreDSN)
	}
}
