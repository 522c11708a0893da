package config

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Defaults for everything that has one. Keys without a default here
// (credentials, channels, paths) are required and validated in Load.
const (
	DefaultWorkerCount           = 4
	DefaultMaxFileSizeMB         = 100
	DefaultMaxDecompressedBytes  = 2 << 30 // 2 GiB
	DefaultMaxDecompressionRatio = 100
	DefaultDownloadMaxRetries    = 5
	DefaultDBMaxRetries          = 3
	DefaultScanMaxLineBytes      = 64 * 1024
	DefaultMetricsAddr           = ":8080"
	DefaultShutdownGrace         = 30 * time.Second
	DefaultLogLevel              = "info"
)

// Config is the frozen service configuration, constructed once at boot and
// passed to components explicitly.
type Config struct {
	// Platform credentials and subscriptions
	TelegramPhone    string
	TelegramAPIID    int
	TelegramAPIHash  string
	TelegramPassword string // two-step verification password, optional
	Channels         []string

	// Pipeline shape
	WorkerCount   int
	QueueCapacity int

	// Storage
	StoragePath string
	DatabaseURL string

	// Indicator rules
	IOCDomains   []string
	IOCEmails    []string
	IOCIPv4CIDRs []string
	IOCRulesFile string

	// Safety limits
	MaxDecompressedBytes  int64
	MaxDecompressionRatio int64
	DownloadMaxRetries    int
	MaxFileSizeMB         int64 // 0 = unlimited
	DBMaxRetries          int
	ScanMaxLineBytes      int

	// Process surface
	MetricsAddr   string
	ShutdownGrace time.Duration
	LogLevel      string
	LogJSON       bool
}

// Load reads configuration from the environment, optionally merged over a
// YAML file. Environment values always win. A .env file in the working
// directory is loaded into the environment first when present.
//
// Validation problems are joined into a single error so a misconfigured
// deployment reports everything wrong at once.
func Load(configFile string) (Config, error) {
	// Populate the environment from .env when one exists.
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("WORKER_COUNT", DefaultWorkerCount)
	// 0 means "derive from worker count" below.
	v.SetDefault("QUEUE_CAPACITY", 0)
	v.SetDefault("MAX_FILE_SIZE_MB", DefaultMaxFileSizeMB)
	v.SetDefault("MAX_DECOMPRESSED_BYTES", DefaultMaxDecompressedBytes)
	v.SetDefault("MAX_DECOMPRESSION_RATIO", DefaultMaxDecompressionRatio)
	v.SetDefault("DOWNLOAD_MAX_RETRIES", DefaultDownloadMaxRetries)
	v.SetDefault("DB_MAX_RETRIES", DefaultDBMaxRetries)
	v.SetDefault("SCAN_MAX_LINE_BYTES", DefaultScanMaxLineBytes)
	v.SetDefault("METRICS_ADDR", DefaultMetricsAddr)
	v.SetDefault("SHUTDOWN_GRACE", DefaultShutdownGrace)
	v.SetDefault("LOG_LEVEL", DefaultLogLevel)
	v.SetDefault("LOG_JSON", true)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	cfg := Config{
		TelegramPhone:    v.GetString("TELEGRAM_PHONE"),
		TelegramAPIID:    v.GetInt("TELEGRAM_API_ID"),
		TelegramAPIHash:  v.GetString("TELEGRAM_API_HASH"),
		TelegramPassword: v.GetString("TELEGRAM_PASSWORD"),
		Channels:         splitCSV(v.GetString("TELEGRAM_CHANNELS")),

		WorkerCount:   v.GetInt("WORKER_COUNT"),
		QueueCapacity: v.GetInt("QUEUE_CAPACITY"),

		StoragePath: v.GetString("STORAGE_PATH"),
		DatabaseURL: v.GetString("DATABASE_URL"),

		IOCDomains:   splitCSV(v.GetString("IOC_DOMAINS")),
		IOCEmails:    splitCSV(v.GetString("IOC_EMAILS")),
		IOCIPv4CIDRs: splitCSV(v.GetString("IOC_IPV4_CIDRS")),
		IOCRulesFile: v.GetString("IOC_RULES_FILE"),

		MaxDecompressedBytes:  v.GetInt64("MAX_DECOMPRESSED_BYTES"),
		MaxDecompressionRatio: v.GetInt64("MAX_DECOMPRESSION_RATIO"),
		DownloadMaxRetries:    v.GetInt("DOWNLOAD_MAX_RETRIES"),
		MaxFileSizeMB:         v.GetInt64("MAX_FILE_SIZE_MB"),
		DBMaxRetries:          v.GetInt("DB_MAX_RETRIES"),
		ScanMaxLineBytes:      v.GetInt("SCAN_MAX_LINE_BYTES"),

		MetricsAddr:   v.GetString("METRICS_ADDR"),
		ShutdownGrace: v.GetDuration("SHUTDOWN_GRACE"),
		LogLevel:      v.GetString("LOG_LEVEL"),
		LogJSON:       v.GetBool("LOG_JSON"),
	}

	if cfg.QueueCapacity == 0 {
		cfg.QueueCapacity = 4 * cfg.WorkerCount
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	var errs []error

	if c.TelegramPhone == "" {
		errs = append(errs, errors.New("TELEGRAM_PHONE is required"))
	}
	if c.TelegramAPIID <= 0 {
		errs = append(errs, errors.New("TELEGRAM_API_ID must be a positive integer"))
	}
	if c.TelegramAPIHash == "" {
		errs = append(errs, errors.New("TELEGRAM_API_HASH is required"))
	}
	if len(c.Channels) == 0 {
		errs = append(errs, errors.New("TELEGRAM_CHANNELS must name at least one channel"))
	}
	if c.StoragePath == "" {
		errs = append(errs, errors.New("STORAGE_PATH is required"))
	}
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if c.WorkerCount < 1 {
		errs = append(errs, fmt.Errorf("WORKER_COUNT must be at least 1, got %d", c.WorkerCount))
	}
	if c.QueueCapacity < 1 {
		errs = append(errs, fmt.Errorf("QUEUE_CAPACITY must be at least 1, got %d", c.QueueCapacity))
	}
	if c.MaxDecompressedBytes <= 0 {
		errs = append(errs, fmt.Errorf("MAX_DECOMPRESSED_BYTES must be positive, got %d", c.MaxDecompressedBytes))
	}
	if c.MaxDecompressionRatio <= 0 {
		errs = append(errs, fmt.Errorf("MAX_DECOMPRESSION_RATIO must be positive, got %d", c.MaxDecompressionRatio))
	}
	if c.DownloadMaxRetries < 0 {
		errs = append(errs, fmt.Errorf("DOWNLOAD_MAX_RETRIES must not be negative, got %d", c.DownloadMaxRetries))
	}
	if c.MaxFileSizeMB < 0 {
		errs = append(errs, fmt.Errorf("MAX_FILE_SIZE_MB must not be negative, got %d", c.MaxFileSizeMB))
	}
	if c.ScanMaxLineBytes < 1024 {
		errs = append(errs, fmt.Errorf("SCAN_MAX_LINE_BYTES must be at least 1024, got %d", c.ScanMaxLineBytes))
	}
	if c.ShutdownGrace < 0 {
		errs = append(errs, fmt.Errorf("SHUTDOWN_GRACE must not be negative, got %s", c.ShutdownGrace))
	}

	for _, raw := range c.IOCIPv4CIDRs {
		p, err := netip.ParsePrefix(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("IOC_IPV4_CIDRS entry %q is not a valid CIDR", raw))
			continue
		}
		if !p.Addr().Is4() {
			errs = append(errs, fmt.Errorf("IOC_IPV4_CIDRS entry %q is not IPv4", raw))
		}
	}

	return errors.Join(errs...)
}

// MaxFileSizeBytes returns the listener size cutoff in bytes, 0 when
// unlimited.
func (c Config) MaxFileSizeBytes() int64 {
	return c.MaxFileSizeMB * 1024 * 1024
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
