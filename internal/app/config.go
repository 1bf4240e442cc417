package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/yungbote/labreport-backend/internal/events"
	"github.com/yungbote/labreport-backend/internal/observability"
	"github.com/yungbote/labreport-backend/internal/temporalx"
)

type Config struct {
	Port    string `mapstructure:"PORT"`
	LogMode string `mapstructure:"LOG_MODE"`

	PostgresDSN          string `mapstructure:"POSTGRES_DSN"`
	PostgresHost         string `mapstructure:"POSTGRES_HOST"`
	PostgresPort         string `mapstructure:"POSTGRES_PORT"`
	PostgresUser         string `mapstructure:"POSTGRES_USER"`
	PostgresPassword     string `mapstructure:"POSTGRES_PASSWORD"`
	PostgresName         string `mapstructure:"POSTGRES_NAME"`
	PostgresSSLMode      string `mapstructure:"POSTGRES_SSLMODE"`
	PostgresMaxOpenConns int    `mapstructure:"POSTGRES_MAX_OPEN_CONNS"`

	ObjectStorageMode   string `mapstructure:"OBJECT_STORAGE_MODE"`
	StorageEmulatorHost string `mapstructure:"STORAGE_EMULATOR_HOST"`
	StoragePublicBase   string `mapstructure:"OBJECT_STORAGE_PUBLIC_BASE_URL"`
	ReportBucketName    string `mapstructure:"REPORT_GCS_BUCKET_NAME"`
	GoogleCredentials   string `mapstructure:"GOOGLE_APPLICATION_CREDENTIALS"`

	ExtractionProvider   string `mapstructure:"EXTRACTION_PROVIDER"`
	OpenAIAPIKey         string `mapstructure:"OPENAI_API_KEY"`
	OpenAIBaseURL        string `mapstructure:"OPENAI_BASE_URL"`
	OpenAIModel          string `mapstructure:"OPENAI_MODEL"`
	OpenAITimeoutSeconds int    `mapstructure:"OPENAI_TIMEOUT_SECONDS"`
	OpenAIMaxRetries     int    `mapstructure:"OPENAI_MAX_RETRIES"`

	DocumentAIProjectID        string `mapstructure:"DOCUMENTAI_PROJECT_ID"`
	DocumentAILocation         string `mapstructure:"DOCUMENTAI_LOCATION"`
	DocumentAIProcessorID      string `mapstructure:"DOCUMENTAI_PROCESSOR_ID"`
	DocumentAIProcessorVersion string `mapstructure:"DOCUMENTAI_PROCESSOR_VERSION"`
	OCRHintMaxChars            int    `mapstructure:"OCR_HINT_MAX_CHARS"`

	WorkerConcurrency        int           `mapstructure:"WORKER_CONCURRENCY"`
	IngestExtractMaxAttempts int           `mapstructure:"INGEST_EXTRACT_MAX_ATTEMPTS"`
	IngestStepTimeout        time.Duration `mapstructure:"INGEST_STEP_TIMEOUT"`
	IngestLease              time.Duration `mapstructure:"INGEST_LEASE"`
	IngestPollInterval       time.Duration `mapstructure:"INGEST_POLL_INTERVAL"`
	ResumeOnStart            bool          `mapstructure:"INGEST_RESUME_ON_START"`

	RedisAddr          string `mapstructure:"REDIS_ADDR"`
	RedisPassword      string `mapstructure:"REDIS_PASSWORD"`
	RedisDB            int    `mapstructure:"REDIS_DB"`
	RedisStatusChannel string `mapstructure:"REDIS_STATUS_CHANNEL"`

	CORSOrigins string `mapstructure:"CORS_ORIGINS"`

	Temporal temporalx.Config         `mapstructure:",squash"`
	Stream   events.Config            `mapstructure:",squash"`
	Otel     observability.OtelConfig `mapstructure:",squash"`
}

var defaults = map[string]interface{}{
	"PORT":                    "8080",
	"LOG_MODE":                "development",
	"POSTGRES_DSN":            "",
	"POSTGRES_HOST":           "localhost",
	"POSTGRES_PORT":           "5432",
	"POSTGRES_USER":           "postgres",
	"POSTGRES_PASSWORD":       "",
	"POSTGRES_NAME":           "labreport",
	"POSTGRES_SSLMODE":        "disable",
	"POSTGRES_MAX_OPEN_CONNS": 20,

	"OBJECT_STORAGE_MODE":            "",
	"STORAGE_EMULATOR_HOST":          "",
	"OBJECT_STORAGE_PUBLIC_BASE_URL": "",
	"REPORT_GCS_BUCKET_NAME":         "",
	"GOOGLE_APPLICATION_CREDENTIALS": "",

	"EXTRACTION_PROVIDER":    "openai",
	"OPENAI_API_KEY":         "",
	"OPENAI_BASE_URL":        "",
	"OPENAI_MODEL":           "gpt-4.1",
	"OPENAI_TIMEOUT_SECONDS": 180,
	"OPENAI_MAX_RETRIES":     0,

	"DOCUMENTAI_PROJECT_ID":        "",
	"DOCUMENTAI_LOCATION":          "us",
	"DOCUMENTAI_PROCESSOR_ID":      "",
	"DOCUMENTAI_PROCESSOR_VERSION": "",
	"OCR_HINT_MAX_CHARS":           20000,

	"WORKER_CONCURRENCY":          4,
	"INGEST_EXTRACT_MAX_ATTEMPTS": 3,
	"INGEST_STEP_TIMEOUT":         "5m",
	"INGEST_LEASE":                "5m",
	"INGEST_POLL_INTERVAL":        "2s",
	"INGEST_RESUME_ON_START":      true,

	"REDIS_ADDR":           "",
	"REDIS_PASSWORD":       "",
	"REDIS_DB":             0,
	"REDIS_STATUS_CHANNEL": "labreport:status",

	"CORS_ORIGINS": "",

	"TEMPORAL_ADDRESS":                  "",
	"TEMPORAL_NAMESPACE":                "",
	"TEMPORAL_TASK_QUEUE":               "",
	"TEMPORAL_CLIENT_CERT_PATH":         "",
	"TEMPORAL_CLIENT_KEY_PATH":          "",
	"TEMPORAL_CLIENT_CA_PATH":           "",
	"TEMPORAL_DIAL_TIMEOUT":             "5s",
	"TEMPORAL_DIAL_MAX_WAIT":            "30s",
	"TEMPORAL_AUTO_REGISTER_NAMESPACE":  false,
	"TEMPORAL_NAMESPACE_RETENTION_DAYS": 7,
	"TEMPORAL_NAMESPACE_ENSURE_TIMEOUT": "10s",
	"TEMPORAL_WORKER_CONCURRENCY":       8,

	"INGEST_STREAM":            "labreport:uploads",
	"INGEST_STREAM_GROUP":      "labreport-ingest",
	"INGEST_STREAM_CONSUMER":   "",
	"INGEST_STREAM_BATCH_SIZE": 10,
	"INGEST_STREAM_BLOCK":      "5s",
	"INGEST_STREAM_MIN_IDLE":   "1m",

	"OTEL_ENABLED":                false,
	"OTEL_SERVICE_NAME":           "labreport",
	"OTEL_ENVIRONMENT":            "",
	"OTEL_SERVICE_VERSION":        "",
	"OTEL_EXPORTER_OTLP_ENDPOINT": "",
	"OTEL_EXPORTER_OTLP_INSECURE": false,
	"OTEL_EXPORTER_OTLP_HEADERS":  "",
	"OTEL_SAMPLER_RATIO":          0.1,
}

// LoadConfig reads the environment, and envFile when it exists. Environment
// variables win over the file.
func LoadConfig(envFile string) (Config, error) {
	v := viper.New()
	if envFile != "" {
		v.SetConfigFile(envFile)
		v.SetConfigType("env")
	}
	v.AutomaticEnv()
	for key, val := range defaults {
		v.SetDefault(key, val)
	}
	if envFile != "" {
		// A missing file is fine; the environment alone is a valid config.
		_ = v.ReadInConfig()
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.ExtractionProvider)) {
	case "openai", "langchain":
	default:
		return fmt.Errorf("EXTRACTION_PROVIDER must be openai or langchain, got %q", c.ExtractionProvider)
	}
	if c.IngestExtractMaxAttempts < 1 {
		return fmt.Errorf("INGEST_EXTRACT_MAX_ATTEMPTS must be at least 1")
	}
	return nil
}

func (c Config) CORSOriginList() []string {
	var out []string
	for _, o := range strings.Split(c.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
