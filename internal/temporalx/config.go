package temporalx

import (
	"strings"
	"time"
)

// Config selects the Temporal cluster used to drive ingestion runs. An empty
// Address disables Temporal and the local runner takes over.
type Config struct {
	Address   string `mapstructure:"TEMPORAL_ADDRESS"`
	Namespace string `mapstructure:"TEMPORAL_NAMESPACE"`
	TaskQueue string `mapstructure:"TEMPORAL_TASK_QUEUE"`

	ClientCertPath string `mapstructure:"TEMPORAL_CLIENT_CERT_PATH"`
	ClientKeyPath  string `mapstructure:"TEMPORAL_CLIENT_KEY_PATH"`
	ClientCAPath   string `mapstructure:"TEMPORAL_CLIENT_CA_PATH"`

	DialTimeout       time.Duration `mapstructure:"TEMPORAL_DIAL_TIMEOUT"`
	DialMaxWait       time.Duration `mapstructure:"TEMPORAL_DIAL_MAX_WAIT"`
	AutoRegister      bool          `mapstructure:"TEMPORAL_AUTO_REGISTER_NAMESPACE"`
	RetentionDays     int           `mapstructure:"TEMPORAL_NAMESPACE_RETENTION_DAYS"`
	NamespaceMaxWait  time.Duration `mapstructure:"TEMPORAL_NAMESPACE_ENSURE_TIMEOUT"`
	WorkerConcurrency int           `mapstructure:"TEMPORAL_WORKER_CONCURRENCY"`
}

func (c Config) Enabled() bool { return strings.TrimSpace(c.Address) != "" }

func (c Config) hasTLS() bool {
	return c.ClientCertPath != "" || c.ClientKeyPath != "" || c.ClientCAPath != ""
}

// WithDefaults fills every unset field.
func (c Config) WithDefaults() Config {
	c.Address = strings.TrimSpace(c.Address)
	c.Namespace = stringsOr(c.Namespace, "labreport")
	c.TaskQueue = stringsOr(c.TaskQueue, "labreport-ingest")
	if c.DialTimeout <= 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.DialMaxWait < 0 {
		c.DialMaxWait = 0
	}
	if c.RetentionDays < 1 {
		c.RetentionDays = 7
	}
	if c.RetentionDays > 365 {
		c.RetentionDays = 365
	}
	if c.NamespaceMaxWait <= 0 {
		c.NamespaceMaxWait = 10 * time.Second
	}
	if c.WorkerConcurrency < 1 {
		c.WorkerConcurrency = 8
	}
	return c
}

func stringsOr(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return strings.TrimSpace(v)
}
