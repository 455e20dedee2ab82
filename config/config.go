// Package config provides application configuration management.
package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Queue backends understood by QueueBackend.
const (
	QueueBackendSQS   = "sqs"
	QueueBackendRedis = "redis"
)

// Config holds all application configuration.
type Config struct {
	// Server configuration
	ServerPort string
	Debug      bool

	// Offload queue configuration. An empty backend means "pick from what is configured".
	QueueBackend   string
	SQSQueueURL    string
	AWSRegion      string
	QueueBatchSize int

	// Redis / events configuration
	RedisAddr        string
	RedisUsername    string
	RedisPassword    string
	RedisDB          int
	RedisTLSEnabled  bool
	RedisTLSInsecure bool
	RedisQueueStream string
	RedisQueueGroup  string
	EventsChannel    string

	// Streaming sink configuration
	StreamURL           string
	StreamToken         string
	DevMode             bool
	StreamChunkInterval time.Duration
	StreamTimeout       time.Duration

	// Text generation
	OpenAIAPIKey     string
	OpenAIModel      string
	AgentProfilePath string

	// Completion ledger
	DataStoreDriver   string
	DataStoreDSN      string
	ResponseRetention time.Duration
	// A streaming claim younger than this blocks redelivered copies.
	ResponseLease     time.Duration

	// Scheduled maintenance
	ScheduleInterval time.Duration

	// Set by the Lambda runtime.
	LambdaFunctionName string
}

// Load loads configuration from environment variables with defaults.
// A .env file in the working directory is applied first when present;
// variables already set in the environment win.
func Load() *Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Ignoring unreadable .env file: %v", err)
	}

	dataStoreDriver := strings.ToLower(getEnv("DATASTORE_DRIVER", ""))
	dataStoreDSN := getEnv("DATASTORE_DSN", "")
	if dataStoreDriver == "postgres" && dataStoreDSN == "" {
		dataStoreDSN = os.Getenv("POSTGRES_DSN")
	}
	if dataStoreDriver == "sqlite" && dataStoreDSN == "" {
		dataStoreDSN = "/tmp/agent-dispatch.db"
	}

	return &Config{
		ServerPort:          getEnv("SERVER_PORT", getEnv("PORT", "8080")),
		Debug:               getEnvBool("LOG_DEBUG", false),
		QueueBackend:        strings.ToLower(getEnv("QUEUE_BACKEND", "")),
		SQSQueueURL:         os.Getenv("SQS_QUEUE_URL"),
		AWSRegion:           getEnv("AWS_REGION", ""),
		QueueBatchSize:      getEnvInt("QUEUE_BATCH_SIZE", 10),
		RedisAddr:           getEnv("REDIS_ADDR", ""),
		RedisUsername:       getEnv("REDIS_USERNAME", ""),
		RedisPassword:       os.Getenv("REDIS_PASSWORD"),
		RedisDB:             getEnvInt("REDIS_DB", 0),
		RedisTLSEnabled:     getEnvBool("REDIS_TLS_ENABLED", false),
		RedisTLSInsecure:    getEnvBool("REDIS_TLS_INSECURE_SKIP_VERIFY", false),
		RedisQueueStream:    getEnv("REDIS_QUEUE_STREAM", "agent-dispatch:messages"),
		RedisQueueGroup:     getEnv("REDIS_QUEUE_GROUP", "agent-workers"),
		EventsChannel:       getEnv("EVENTS_CHANNEL", "agent-dispatch-events"),
		StreamURL:           getEnv("STREAM_URL", ""),
		StreamToken:         os.Getenv("STREAM_TOKEN"),
		DevMode:             getEnvBool("ORCA_DEV_MODE", false),
		StreamChunkInterval: getEnvDuration("STREAM_CHUNK_INTERVAL", 50*time.Millisecond),
		StreamTimeout:       getEnvDuration("STREAM_TIMEOUT", 10*time.Second),
		OpenAIAPIKey:        os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:         getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		AgentProfilePath:    getEnv("AGENT_PROFILE_PATH", ""),
		DataStoreDriver:     dataStoreDriver,
		DataStoreDSN:        dataStoreDSN,
		ResponseRetention:   getEnvDuration("RESPONSE_RETENTION", 72*time.Hour),
		ResponseLease:       getEnvDuration("RESPONSE_LEASE", 15*time.Minute),
		ScheduleInterval:    getEnvDuration("SCHEDULE_INTERVAL", 15*time.Minute),
		LambdaFunctionName:  os.Getenv("AWS_LAMBDA_FUNCTION_NAME"),
	}
}

// QueueEnabled reports whether send_message should offload instead of awaiting.
func (c *Config) QueueEnabled() bool {
	return c.ResolvedQueueBackend() != ""
}

// ResolvedQueueBackend returns the backend in use, or "" when offload is disabled.
func (c *Config) ResolvedQueueBackend() string {
	switch c.QueueBackend {
	case QueueBackendSQS:
		if c.SQSQueueURL == "" {
			return ""
		}
		return QueueBackendSQS
	case QueueBackendRedis:
		if c.RedisAddr == "" {
			return ""
		}
		return QueueBackendRedis
	}
	if c.SQSQueueURL != "" {
		return QueueBackendSQS
	}
	return ""
}

// IsLambda reports whether the process runs inside the Lambda runtime.
func (c *Config) IsLambda() bool {
	return c.LambdaFunctionName != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		log.Printf("Invalid duration for %s: %s, using default %s", key, value, defaultValue)
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
		log.Printf("Invalid int for %s: %s, using default %d", key, value, defaultValue)
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(value) {
		case "1", "true", "yes", "y":
			return true
		case "0", "false", "no", "n":
			return false
		default:
			log.Printf("Invalid bool for %s: %s, using default %t", key, value, defaultValue)
		}
	}
	return defaultValue
}
