package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// Test Constants
const (
	TestDebugLevel = "DEBUG"
	TestMetrics    = "127.0.0.1:9500"
)

func TestNewDefault(t *testing.T) {
	cfg := NewDefault()

	if cfg.Global.LogLevel != "INFO" {
		t.Errorf("Expected LogLevel to be INFO, got %s", cfg.Global.LogLevel)
	}
	if cfg.Global.MetricsAddr != "" {
		t.Errorf("Expected metrics to be disabled, got %s", cfg.Global.MetricsAddr)
	}

	if cfg.Mount.FSName != "levelfs" {
		t.Errorf("Expected FSName to be levelfs, got %s", cfg.Mount.FSName)
	}
	if cfg.Mount.AttrTimeout != time.Second || cfg.Mount.EntryTimeout != time.Second {
		t.Errorf("Expected 1s attr and entry timeouts, got %v and %v", cfg.Mount.AttrTimeout, cfg.Mount.EntryTimeout)
	}
	if cfg.Mount.Uid != -1 || cfg.Mount.Gid != -1 {
		t.Errorf("Expected process ownership, got uid %d gid %d", cfg.Mount.Uid, cfg.Mount.Gid)
	}
	if cfg.Mount.FileMode != 0o644 || cfg.Mount.DirMode != 0o755 {
		t.Errorf("Expected modes 0644/0755, got %#o/%#o", cfg.Mount.FileMode, cfg.Mount.DirMode)
	}

	if !cfg.Storage.Badger.SyncWrites {
		t.Error("Expected synchronous badger writes by default")
	}
	if !cfg.Backend.CircuitBreaker.Enabled {
		t.Error("Expected the circuit breaker to be enabled by default")
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected default configuration to validate, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  func() *Configuration
		wantErr bool
		errMsg  string
	}{
		{
			name: "valid config",
			config: func() *Configuration {
				return NewDefault()
			},
			wantErr: false,
		},
		{
			name: "invalid max concurrency",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Performance.MaxConcurrency = 0
				return cfg
			},
			wantErr: true,
			errMsg:  "performance.max_concurrency",
		},
		{
			name: "invalid log level",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Global.LogLevel = "INVALID"
				return cfg
			},
			wantErr: true,
			errMsg:  "global.log_level",
		},
		{
			name: "invalid metrics address",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Global.MetricsAddr = "not an address"
				return cfg
			},
			wantErr: true,
			errMsg:  "global.metrics_addr",
		},
		{
			name: "valid metrics address",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Global.MetricsAddr = TestMetrics
				return cfg
			},
			wantErr: false,
		},
		{
			name: "health thresholds out of order",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Backend.Health.UnavailableThreshold = 1
				return cfg
			},
			wantErr: true,
			errMsg:  "backend.health.unavailable_threshold",
		},
		{
			name: "zero max value size",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Backend.MaxValueSize = 0
				return cfg
			},
			wantErr: true,
			errMsg:  "backend.max_value_size",
		},
		{
			name: "non-positive operation timeout",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Backend.OperationTimeout = 0
				return cfg
			},
			wantErr: true,
			errMsg:  "backend.operation_timeout",
		},
		{
			name: "mode out of range",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Mount.FileMode = 0o1000
				return cfg
			},
			wantErr: true,
			errMsg:  "mount.file_mode",
		},
		{
			name: "directory mode without search permission",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Mount.DirMode = 0o644
				return cfg
			},
			wantErr: true,
			errMsg:  "mount.dir_mode",
		},
		{
			name: "retry delay longer than the operation timeout",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Backend.Retry.MaxDelay = time.Minute
				return cfg
			},
			wantErr: true,
			errMsg:  "operation_timeout",
		},
		{
			name: "zero retry attempts",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Backend.Retry.MaxAttempts = 0
				return cfg
			},
			wantErr: true,
			errMsg:  "max_attempts",
		},
		{
			name: "read-only store on a writable mount",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Storage.Badger.ReadOnly = true
				return cfg
			},
			wantErr: true,
			errMsg:  "storage.badger.read_only",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.config()
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if err != nil && tt.errMsg != "" && !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("Validate() error = %v, want error containing %v", err, tt.errMsg)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "config.yaml")

	configContent := `
global:
  log_level: DEBUG
  log_format: json
  metrics_addr: 127.0.0.1:9500

mount:
  fsname: mydb
  allow_other: true
  attr_timeout: 5s

backend:
  operation_timeout: 2s
  retry:
    max_attempts: 5

performance:
  max_concurrency: 4

storage:
  badger:
    sync_writes: false
  s3:
    region: eu-west-1
`

	if err := os.WriteFile(configFile, []byte(configContent), 0600); err != nil {
		t.Fatalf("Failed to write test config file: %v", err)
	}

	cfg := NewDefault()
	if err := cfg.LoadFromFile(configFile); err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}

	if cfg.Global.LogLevel != TestDebugLevel {
		t.Errorf("Expected LogLevel to be DEBUG, got %s", cfg.Global.LogLevel)
	}
	if cfg.Global.LogFormat != "json" {
		t.Errorf("Expected LogFormat to be json, got %s", cfg.Global.LogFormat)
	}
	if cfg.Global.MetricsAddr != TestMetrics {
		t.Errorf("Expected MetricsAddr to be %s, got %s", TestMetrics, cfg.Global.MetricsAddr)
	}
	if cfg.Mount.FSName != "mydb" || !cfg.Mount.AllowOther {
		t.Errorf("Expected fsname mydb with allow_other, got %+v", cfg.Mount)
	}
	if cfg.Mount.AttrTimeout != 5*time.Second {
		t.Errorf("Expected AttrTimeout to be 5s, got %v", cfg.Mount.AttrTimeout)
	}
	if cfg.Backend.OperationTimeout != 2*time.Second {
		t.Errorf("Expected OperationTimeout to be 2s, got %v", cfg.Backend.OperationTimeout)
	}
	if cfg.Backend.Retry.MaxAttempts != 5 {
		t.Errorf("Expected 5 retry attempts, got %d", cfg.Backend.Retry.MaxAttempts)
	}
	if cfg.Performance.MaxConcurrency != 4 {
		t.Errorf("Expected MaxConcurrency to be 4, got %d", cfg.Performance.MaxConcurrency)
	}
	if cfg.Storage.Badger.SyncWrites {
		t.Error("Expected SyncWrites to be false")
	}
	if cfg.Storage.S3.Region != "eu-west-1" {
		t.Errorf("Expected S3 region eu-west-1, got %s", cfg.Storage.S3.Region)
	}

	// Untouched settings keep their defaults.
	if cfg.Mount.EntryTimeout != time.Second {
		t.Errorf("Expected EntryTimeout default, got %v", cfg.Mount.EntryTimeout)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoadFromFileUnknownField(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configFile, []byte("global:\n  log_levle: DEBUG\n"), 0600); err != nil {
		t.Fatalf("Failed to write test config file: %v", err)
	}

	cfg := NewDefault()
	if err := cfg.LoadFromFile(configFile); err == nil {
		t.Error("Expected error for a misspelled field")
	}
}

func TestLoadFromFileNonExistent(t *testing.T) {
	cfg := NewDefault()
	err := cfg.LoadFromFile("/nonexistent/config.yaml")
	if err == nil {
		t.Error("Expected error when loading non-existent config file")
	}
}

func TestLoadFromEnv(t *testing.T) {
	testEnvVars := map[string]string{
		"LEVELFS_LOG_LEVEL":             "ERROR",
		"LEVELFS_METRICS_ADDR":          TestMetrics,
		"LEVELFS_READ_ONLY":             "true",
		"LEVELFS_UID":                   "1000",
		"LEVELFS_OPERATION_TIMEOUT":     "750ms",
		"LEVELFS_HEALTH_CHECK_INTERVAL": "5s",
		"LEVELFS_MAX_CONCURRENCY":       "64",
		"LEVELFS_MAX_VALUE_SIZE":        "1048576",
		"LEVELFS_S3_ENDPOINT":           "http://localhost:9000",
	}

	for key, value := range testEnvVars {
		t.Setenv(key, value)
	}

	cfg := NewDefault()
	if err := cfg.LoadFromEnv(); err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}

	if cfg.Global.LogLevel != "ERROR" {
		t.Errorf("Expected LogLevel to be ERROR, got %s", cfg.Global.LogLevel)
	}
	if cfg.Global.MetricsAddr != TestMetrics {
		t.Errorf("Expected MetricsAddr to be %s, got %s", TestMetrics, cfg.Global.MetricsAddr)
	}
	if !cfg.Mount.ReadOnly {
		t.Error("Expected ReadOnly to be true")
	}
	if cfg.Mount.Uid != 1000 {
		t.Errorf("Expected Uid to be 1000, got %d", cfg.Mount.Uid)
	}
	if cfg.Backend.OperationTimeout != 750*time.Millisecond {
		t.Errorf("Expected OperationTimeout to be 750ms, got %v", cfg.Backend.OperationTimeout)
	}
	if cfg.Backend.Health.CheckInterval != 5*time.Second {
		t.Errorf("Expected health check interval to be 5s, got %v", cfg.Backend.Health.CheckInterval)
	}
	if cfg.Backend.MaxValueSize != 1<<20 {
		t.Errorf("Expected MaxValueSize to be 1MiB, got %d", cfg.Backend.MaxValueSize)
	}
	if cfg.Performance.MaxConcurrency != 64 {
		t.Errorf("Expected MaxConcurrency to be 64, got %d", cfg.Performance.MaxConcurrency)
	}
	if cfg.Storage.S3.Endpoint != "http://localhost:9000" {
		t.Errorf("Expected S3 endpoint override, got %s", cfg.Storage.S3.Endpoint)
	}
}

func TestLoadFromEnvInvalidValue(t *testing.T) {
	t.Setenv("LEVELFS_MAX_CONCURRENCY", "lots")

	cfg := NewDefault()
	err := cfg.LoadFromEnv()
	if err == nil || !strings.Contains(err.Error(), "LEVELFS_MAX_CONCURRENCY") {
		t.Fatalf("Expected error naming the variable, got %v", err)
	}
}

func TestApplyMountOptions(t *testing.T) {
	cfg := NewDefault()
	if err := cfg.ApplyMountOptions("ro, allow_other,fsname=db,uid=42,noatime"); err != nil {
		t.Fatalf("ApplyMountOptions() error = %v", err)
	}

	if !cfg.Mount.ReadOnly || !cfg.Mount.AllowOther {
		t.Errorf("Expected ro and allow_other, got %+v", cfg.Mount)
	}
	if cfg.Mount.FSName != "db" {
		t.Errorf("Expected fsname db, got %s", cfg.Mount.FSName)
	}
	if cfg.Mount.Uid != 42 {
		t.Errorf("Expected uid 42, got %d", cfg.Mount.Uid)
	}
	if len(cfg.Mount.Options) != 1 || cfg.Mount.Options[0] != "noatime" {
		t.Errorf("Expected noatime to pass through, got %v", cfg.Mount.Options)
	}

	for _, bad := range []string{"fsname", "uid=-3", "gid=abc"} {
		if err := NewDefault().ApplyMountOptions(bad); err == nil {
			t.Errorf("Expected error for %q", bad)
		}
	}
}

func TestValidateStorePath(t *testing.T) {
	cfg := NewDefault()

	if err := cfg.ValidateStorePath("/var/lib/levelfs"); err != nil {
		t.Errorf("Expected directory store path to validate, got %v", err)
	}
	if err := cfg.ValidateStorePath("s3://bucket/prefix"); err != nil {
		t.Errorf("Expected s3 store path to validate, got %v", err)
	}
	if err := cfg.ValidateStorePath("s3://"); err == nil {
		t.Error("Expected error for s3 URI without bucket")
	}
	if err := cfg.ValidateStorePath(""); err == nil {
		t.Error("Expected error for empty store path")
	}
	if cfg.Storage.S3.Bucket != "" {
		t.Error("ValidateStorePath must not modify the configuration")
	}
}

func TestDerivedConfigs(t *testing.T) {
	cfg := NewDefault()
	cfg.Mount.Uid = 1234
	cfg.Mount.ReadOnly = true
	cfg.Performance.FlushParallelism = 3
	cfg.Backend.MaxValueSize = 4096
	cfg.Global.MetricsAddr = TestMetrics

	drv := cfg.DriverConfig()
	if drv.Uid != 1234 {
		t.Errorf("Expected driver uid 1234, got %d", drv.Uid)
	}
	if drv.Gid != uint32(os.Getgid()) {
		t.Errorf("Expected process gid, got %d", drv.Gid)
	}
	if !drv.ReadOnly || drv.FlushParallelism != 3 || drv.MaxValueSize != 4096 {
		t.Errorf("Unexpected driver config %+v", drv)
	}
	if drv.FileMode.Perm() != 0o644 {
		t.Errorf("Expected file mode 0644, got %v", drv.FileMode)
	}

	adapter := cfg.AdapterConfig()
	if adapter.MaxConcurrency != cfg.Performance.MaxConcurrency {
		t.Errorf("Expected adapter concurrency %d, got %d", cfg.Performance.MaxConcurrency, adapter.MaxConcurrency)
	}

	m := cfg.MetricsConfig()
	if !m.Enabled || m.Address != TestMetrics {
		t.Errorf("Expected metrics enabled on %s, got %+v", TestMetrics, m)
	}
	if NewDefault().MetricsConfig().Enabled {
		t.Error("Expected metrics disabled without an address")
	}

	logCfg := cfg.LoggingConfig()
	if logCfg.Level != cfg.Global.LogLevel || logCfg.Format != "text" {
		t.Errorf("Unexpected logging config %+v", logCfg)
	}
}

func TestSaveToFile(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "saved_config.yaml")

	cfg := NewDefault()
	cfg.Global.LogLevel = TestDebugLevel
	cfg.Mount.FSName = "saved"
	cfg.Backend.OperationTimeout = 3 * time.Second

	if err := cfg.SaveToFile(configFile); err != nil {
		t.Fatalf("SaveToFile() error = %v", err)
	}

	newCfg := NewDefault()
	if err := newCfg.LoadFromFile(configFile); err != nil {
		t.Fatalf("Failed to load saved config: %v", err)
	}

	if newCfg.Global.LogLevel != TestDebugLevel {
		t.Errorf("Expected LogLevel to be DEBUG, got %s", newCfg.Global.LogLevel)
	}
	if newCfg.Mount.FSName != "saved" {
		t.Errorf("Expected FSName to be saved, got %s", newCfg.Mount.FSName)
	}
	if newCfg.Backend.OperationTimeout != 3*time.Second {
		t.Errorf("Expected OperationTimeout to be 3s, got %v", newCfg.Backend.OperationTimeout)
	}

	// No temporary files are left behind.
	entries, err := os.ReadDir(tmpDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("Expected only the config file, found %d entries", len(entries))
	}
}

func TestSaveToFileCreateDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "subdir", "config.yaml")

	cfg := NewDefault()
	if err := cfg.SaveToFile(configFile); err != nil {
		t.Fatalf("SaveToFile() error = %v", err)
	}

	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		t.Error("Config file was not created")
	}
}
