package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/natefinch/atomic"
	"gopkg.in/yaml.v2"

	"github.com/levelfs/levelfs/internal/backend"
	"github.com/levelfs/levelfs/internal/circuit"
	"github.com/levelfs/levelfs/internal/driver"
	"github.com/levelfs/levelfs/internal/metrics"
	"github.com/levelfs/levelfs/internal/namespace"
	badgerstore "github.com/levelfs/levelfs/internal/storage/badger"
	s3store "github.com/levelfs/levelfs/internal/storage/s3"
	"github.com/levelfs/levelfs/pkg/health"
	"github.com/levelfs/levelfs/pkg/retry"
	"github.com/levelfs/levelfs/pkg/utils"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "LEVELFS_"

// Configuration represents the complete application configuration
type Configuration struct {
	Global      GlobalConfig      `yaml:"global"`
	Mount       MountConfig       `yaml:"mount"`
	Backend     BackendConfig     `yaml:"backend"`
	Performance PerformanceConfig `yaml:"performance"`
	Storage     StorageConfig     `yaml:"storage"`
}

// GlobalConfig represents global application settings
type GlobalConfig struct {
	LogLevel      string `yaml:"log_level" validate:"oneof=DEBUG INFO WARN ERROR"`
	LogFile       string `yaml:"log_file"`
	LogFormat     string `yaml:"log_format" validate:"oneof=text json"`
	LogMaxSizeMB  int64  `yaml:"log_max_size_mb" validate:"gte=0"`
	LogMaxBackups int    `yaml:"log_max_backups" validate:"gte=0"`
	LogCompress   bool   `yaml:"log_compress"`

	// MetricsAddr enables the Prometheus endpoint when set.
	MetricsAddr string `yaml:"metrics_addr" validate:"omitempty,hostname_port"`
}

// MountConfig represents the kernel-facing mount settings
type MountConfig struct {
	FSName     string `yaml:"fsname" validate:"required"`
	AllowOther bool   `yaml:"allow_other"`
	ReadOnly   bool   `yaml:"read_only"`
	Debug      bool   `yaml:"debug"`

	AttrTimeout     time.Duration `yaml:"attr_timeout" validate:"gte=0"`
	EntryTimeout    time.Duration `yaml:"entry_timeout" validate:"gte=0"`
	NegativeTimeout time.Duration `yaml:"negative_timeout" validate:"gte=0"`

	// Uid and Gid own every node; -1 means the mounting process.
	Uid int `yaml:"uid" validate:"gte=-1"`
	Gid int `yaml:"gid" validate:"gte=-1"`

	FileMode uint32 `yaml:"file_mode" validate:"lte=511"`
	DirMode  uint32 `yaml:"dir_mode" validate:"lte=511"`

	// Options are passed to the kernel verbatim.
	Options []string `yaml:"options"`
}

// BackendConfig represents store access settings
type BackendConfig struct {
	OperationTimeout time.Duration  `yaml:"operation_timeout" validate:"gt=0"`
	MaxDepth         int            `yaml:"max_depth" validate:"gte=1"`
	ListPageSize     int            `yaml:"list_page_size" validate:"gte=1"`
	MaxValueSize     int64          `yaml:"max_value_size" validate:"gte=1"`
	Retry            retry.Config   `yaml:"retry"`
	CircuitBreaker   circuit.Config `yaml:"circuit_breaker"`
	Health           health.Config  `yaml:"health"`
}

// PerformanceConfig represents performance-related settings
type PerformanceConfig struct {
	MaxConcurrency   int           `yaml:"max_concurrency" validate:"gte=1"`
	FlushParallelism int           `yaml:"flush_parallelism" validate:"gte=1"`
	GCInterval       time.Duration `yaml:"gc_interval" validate:"gte=0"`
}

// StorageConfig holds per-store settings. The store itself is chosen by the
// store path given on the command line.
type StorageConfig struct {
	Badger badgerstore.Config `yaml:"badger"`
	S3     s3store.Config     `yaml:"s3"`
}

// NewDefault returns a configuration with sensible defaults
func NewDefault() *Configuration {
	adapter := backend.DefaultConfig()
	return &Configuration{
		Global: GlobalConfig{
			LogLevel:      "INFO",
			LogFormat:     "text",
			LogMaxSizeMB:  100,
			LogMaxBackups: 5,
		},
		Mount: MountConfig{
			FSName:          "levelfs",
			AttrTimeout:     time.Second,
			EntryTimeout:    time.Second,
			NegativeTimeout: 100 * time.Millisecond,
			Uid:             -1,
			Gid:             -1,
			FileMode:        0o644,
			DirMode:         0o755,
		},
		Backend: BackendConfig{
			OperationTimeout: adapter.OperationTimeout,
			MaxDepth:         namespace.DefaultMaxDepth,
			ListPageSize:     adapter.ListPageSize,
			MaxValueSize:     driver.DefaultMaxValueSize,
			Retry:            retry.DefaultConfig(),
			CircuitBreaker:   circuit.DefaultConfig(),
			Health:           health.DefaultConfig(),
		},
		Performance: PerformanceConfig{
			MaxConcurrency:   adapter.MaxConcurrency,
			FlushParallelism: 8,
			GCInterval:       10 * time.Minute,
		},
		Storage: StorageConfig{
			Badger: badgerstore.NewDefaultConfig(""),
			S3:     *s3store.NewDefaultConfig(),
		},
	}
}

// LoadFromFile loads configuration from a YAML file
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.UnmarshalStrict(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// LoadFromEnv applies LEVELFS_* environment overrides
func (c *Configuration) LoadFromEnv() error {
	env := envReader{}

	// Global settings
	env.str("LOG_LEVEL", &c.Global.LogLevel)
	env.str("LOG_FILE", &c.Global.LogFile)
	env.str("LOG_FORMAT", &c.Global.LogFormat)
	env.str("METRICS_ADDR", &c.Global.MetricsAddr)

	// Mount settings
	env.str("FSNAME", &c.Mount.FSName)
	env.boolean("ALLOW_OTHER", &c.Mount.AllowOther)
	env.boolean("READ_ONLY", &c.Mount.ReadOnly)
	env.boolean("DEBUG", &c.Mount.Debug)
	env.integer("UID", &c.Mount.Uid)
	env.integer("GID", &c.Mount.Gid)

	// Backend and performance settings
	env.duration("OPERATION_TIMEOUT", &c.Backend.OperationTimeout)
	env.duration("HEALTH_CHECK_INTERVAL", &c.Backend.Health.CheckInterval)
	env.integer("MAX_DEPTH", &c.Backend.MaxDepth)
	env.integer64("MAX_VALUE_SIZE", &c.Backend.MaxValueSize)
	env.integer("MAX_CONCURRENCY", &c.Performance.MaxConcurrency)
	env.integer("FLUSH_PARALLELISM", &c.Performance.FlushParallelism)

	// Store settings
	env.boolean("SYNC_WRITES", &c.Storage.Badger.SyncWrites)
	env.str("S3_REGION", &c.Storage.S3.Region)
	env.str("S3_ENDPOINT", &c.Storage.S3.Endpoint)
	env.boolean("S3_FORCE_PATH_STYLE", &c.Storage.S3.ForcePathStyle)

	return env.err
}

// ApplyMountOptions applies comma separated mount options such as
// "ro,allow_other". Options levelfs does not interpret are kept for the kernel.
func (c *Configuration) ApplyMountOptions(options string) error {
	for _, opt := range strings.Split(options, ",") {
		opt = strings.TrimSpace(opt)
		if opt == "" {
			continue
		}
		name, value, hasValue := strings.Cut(opt, "=")
		switch name {
		case "ro":
			c.Mount.ReadOnly = true
		case "rw":
			c.Mount.ReadOnly = false
		case "allow_other":
			c.Mount.AllowOther = true
		case "debug":
			c.Mount.Debug = true
		case "fsname":
			if !hasValue || value == "" {
				return fmt.Errorf("mount option %q requires a value", name)
			}
			c.Mount.FSName = value
		case "uid", "gid":
			id, err := strconv.Atoi(value)
			if err != nil || id < 0 {
				return fmt.Errorf("invalid mount option %q", opt)
			}
			if name == "uid" {
				c.Mount.Uid = id
			} else {
				c.Mount.Gid = id
			}
		default:
			c.Mount.Options = append(c.Mount.Options, opt)
		}
	}
	return nil
}

// SaveToFile atomically writes the configuration to a YAML file
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := atomic.WriteFile(filename, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// LoggingConfig returns the logging setup for this configuration.
func (c *Configuration) LoggingConfig() utils.LogConfig {
	return utils.LogConfig{
		Level:      c.Global.LogLevel,
		File:       c.Global.LogFile,
		Format:     c.Global.LogFormat,
		MaxSizeMB:  c.Global.LogMaxSizeMB,
		MaxBackups: c.Global.LogMaxBackups,
		Compress:   c.Global.LogCompress,
	}
}

// MetricsConfig returns the collector configuration. Metrics are served only
// when an address is configured.
func (c *Configuration) MetricsConfig() *metrics.Config {
	cfg := metrics.DefaultConfig()
	if c.Global.MetricsAddr != "" {
		cfg.Enabled = true
		cfg.Address = c.Global.MetricsAddr
	}
	return cfg
}

// AdapterConfig returns the backend adapter configuration.
func (c *Configuration) AdapterConfig() backend.Config {
	return backend.Config{
		OperationTimeout: c.Backend.OperationTimeout,
		MaxConcurrency:   c.Performance.MaxConcurrency,
		ListPageSize:     c.Backend.ListPageSize,
		Retry:            c.Backend.Retry,
		Circuit:          c.Backend.CircuitBreaker,
	}
}

// DriverConfig returns the driver configuration with ownership resolved.
func (c *Configuration) DriverConfig() driver.Config {
	cfg := driver.DefaultConfig()
	if c.Mount.Uid >= 0 {
		cfg.Uid = uint32(c.Mount.Uid)
	}
	if c.Mount.Gid >= 0 {
		cfg.Gid = uint32(c.Mount.Gid)
	}
	cfg.FileMode = os.FileMode(c.Mount.FileMode)
	cfg.DirMode = os.FileMode(c.Mount.DirMode)
	cfg.ReadOnly = c.Mount.ReadOnly
	cfg.MaxDepth = c.Backend.MaxDepth
	cfg.MaxValueSize = c.Backend.MaxValueSize
	cfg.FlushParallelism = c.Performance.FlushParallelism
	return cfg
}

// envReader reads typed overrides and keeps the first parse failure.
type envReader struct {
	err error
}

func (e *envReader) lookup(name string) (string, bool) {
	val, ok := os.LookupEnv(EnvPrefix + name)
	if !ok || val == "" {
		return "", false
	}
	return val, true
}

func (e *envReader) fail(name, val string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("invalid %s%s=%q: %w", EnvPrefix, name, val, err)
	}
}

func (e *envReader) str(name string, dst *string) {
	if val, ok := e.lookup(name); ok {
		*dst = val
	}
}

func (e *envReader) boolean(name string, dst *bool) {
	val, ok := e.lookup(name)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		e.fail(name, val, err)
		return
	}
	*dst = b
}

func (e *envReader) integer(name string, dst *int) {
	val, ok := e.lookup(name)
	if !ok {
		return
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		e.fail(name, val, err)
		return
	}
	*dst = n
}

func (e *envReader) integer64(name string, dst *int64) {
	val, ok := e.lookup(name)
	if !ok {
		return
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		e.fail(name, val, err)
		return
	}
	*dst = n
}

func (e *envReader) duration(name string, dst *time.Duration) {
	val, ok := e.lookup(name)
	if !ok {
		return
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		e.fail(name, val, err)
		return
	}
	*dst = d
}
