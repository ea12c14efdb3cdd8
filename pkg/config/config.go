package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the configuration for the betflow service
type Config struct {
	RPCURL          string `yaml:"rpc_url"`
	ContractAddress string `yaml:"contract_address"`

	// Event listener
	StartBlock      uint64        `yaml:"start_block"`
	PollingInterval time.Duration `yaml:"polling_interval"`
	LookbackRange   uint64        `yaml:"lookback_range"`

	// Block number collector
	HeadPollingInterval time.Duration `yaml:"head_polling_interval"`
	HeadMaxFailures     int           `yaml:"head_max_failures"`

	// Transaction pipeline
	RawQueueCapacity     int           `yaml:"raw_queue_capacity"`
	ReceiptQueueCapacity int           `yaml:"receipt_queue_capacity"`
	ConfirmationDepth    uint64        `yaml:"confirmation_depth"`
	ReceiptRetryAttempts int           `yaml:"receipt_retry_attempts"`
	ReceiptRetryDelay    time.Duration `yaml:"receipt_retry_delay"`
	SenderIdleDelay      time.Duration `yaml:"sender_idle_delay"`

	// Node dialing
	DialRetries int           `yaml:"dial_retries"`
	DialDelay   time.Duration `yaml:"dial_delay"`

	// Optional outer surfaces
	JournalDriver     string `yaml:"journal_driver"` // none, postgres or redis
	JournalDSN        string `yaml:"journal_dsn"`
	PublisherRedisURL string `yaml:"publisher_redis_url"`
	PublisherTopic    string `yaml:"publisher_topic"`
	HTTPAddr          string `yaml:"http_addr"`
	LogLevel          string `yaml:"log_level"`
}

// Load loads configuration from environment variables or a config file
func Load() (*Config, error) {
	// 1. Check if config file is specified
	if configPath := os.Getenv("BETFLOW_CONFIG_PATH"); configPath != "" {
		return LoadFromFile(configPath)
	}

	// 2. Fallback to env vars
	cfg := &Config{
		RPCURL:               getEnv("BETFLOW_RPC_URL", "http://localhost:8545"),
		ContractAddress:      getEnv("BETFLOW_CONTRACT_ADDRESS", ""),
		StartBlock:           getEnvUint64("BETFLOW_START_BLOCK", 0),
		PollingInterval:      getEnvDuration("BETFLOW_POLLING_INTERVAL", 0),
		LookbackRange:        getEnvUint64("BETFLOW_LOOKBACK_RANGE", 0),
		HeadPollingInterval:  getEnvDuration("BETFLOW_HEAD_POLLING_INTERVAL", 0),
		HeadMaxFailures:      getEnvInt("BETFLOW_HEAD_MAX_FAILURES", 0),
		RawQueueCapacity:     getEnvInt("BETFLOW_RAW_QUEUE_CAPACITY", 0),
		ReceiptQueueCapacity: getEnvInt("BETFLOW_RECEIPT_QUEUE_CAPACITY", 0),
		ConfirmationDepth:    getEnvUint64("BETFLOW_CONFIRMATION_DEPTH", 0),
		ReceiptRetryAttempts: getEnvInt("BETFLOW_RECEIPT_RETRY_ATTEMPTS", 0),
		ReceiptRetryDelay:    getEnvDuration("BETFLOW_RECEIPT_RETRY_DELAY", 0),
		SenderIdleDelay:      getEnvDuration("BETFLOW_SENDER_IDLE_DELAY", 0),
		DialRetries:          getEnvInt("BETFLOW_DIAL_RETRIES", 0),
		DialDelay:            getEnvDuration("BETFLOW_DIAL_DELAY", 0),
		JournalDriver:        getEnv("BETFLOW_JOURNAL_DRIVER", ""),
		JournalDSN:           getEnv("BETFLOW_JOURNAL_DSN", ""),
		PublisherRedisURL:    getEnv("BETFLOW_PUBLISHER_REDIS_URL", ""),
		PublisherTopic:       getEnv("BETFLOW_PUBLISHER_TOPIC", ""),
		HTTPAddr:             getEnv("BETFLOW_HTTP_ADDR", ""),
		LogLevel:             getEnv("BETFLOW_LOG_LEVEL", ""),
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetDefaults fills zero fields with their defaults
func (c *Config) SetDefaults() {
	if c.RPCURL == "" {
		c.RPCURL = "http://localhost:8545"
	}
	if c.PollingInterval == 0 {
		c.PollingInterval = 2 * time.Second
	}
	if c.LookbackRange == 0 {
		c.LookbackRange = 1000
	}
	if c.HeadPollingInterval == 0 {
		c.HeadPollingInterval = time.Second
	}
	if c.HeadMaxFailures == 0 {
		c.HeadMaxFailures = 10
	}
	if c.RawQueueCapacity == 0 {
		c.RawQueueCapacity = 256
	}
	if c.ReceiptQueueCapacity == 0 {
		c.ReceiptQueueCapacity = 256
	}
	if c.ConfirmationDepth == 0 {
		c.ConfirmationDepth = 6
	}
	if c.ReceiptRetryAttempts == 0 {
		c.ReceiptRetryAttempts = 5
	}
	if c.ReceiptRetryDelay == 0 {
		c.ReceiptRetryDelay = 2 * time.Second
	}
	if c.SenderIdleDelay == 0 {
		c.SenderIdleDelay = 200 * time.Millisecond
	}
	if c.DialRetries == 0 {
		c.DialRetries = 5
	}
	if c.DialDelay == 0 {
		c.DialDelay = time.Second
	}
	if c.JournalDriver == "" {
		c.JournalDriver = "none"
	}
	if c.PublisherTopic == "" {
		c.PublisherTopic = "betflow-events"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Validate rejects configurations the service cannot run with
func (c *Config) Validate() error {
	var errs []error
	if c.ContractAddress == "" {
		errs = append(errs, errors.New("contract_address is required"))
	}
	if c.HeadMaxFailures < 0 {
		errs = append(errs, errors.New("head_max_failures must not be negative"))
	}
	if c.RawQueueCapacity < 1 || c.ReceiptQueueCapacity < 1 {
		errs = append(errs, errors.New("queue capacities must be positive"))
	}
	if c.ReceiptRetryAttempts < 1 {
		errs = append(errs, errors.New("receipt_retry_attempts must be positive"))
	}
	switch c.JournalDriver {
	case "none":
	case "postgres", "redis":
		if c.JournalDSN == "" {
			errs = append(errs, fmt.Errorf("journal_dsn is required for journal driver %s", c.JournalDriver))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown journal driver %q (supported: none, postgres, redis)", c.JournalDriver))
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("unknown log level %q", c.LogLevel))
	}
	return errors.Join(errs...)
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvUint64(key string, fallback uint64) uint64 {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.ParseUint(value, 10, 64); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}
