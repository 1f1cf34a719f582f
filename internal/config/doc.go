/*
Package config provides configuration management for levelfs with multi-source support.

Sources are applied in order of increasing precedence:

	┌─────────────────────────────────────────────┐
	│          Command-line flags                 │ ← Highest Priority
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│        Environment Variables                │
	│           (LEVELFS_*)                       │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│         Configuration File                  │
	│            (YAML format)                    │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│           Default Values                    │ ← Lowest Priority
	└─────────────────────────────────────────────┘

# Usage

	cfg := config.NewDefault()
	if err := cfg.LoadFromFile("/etc/levelfs/config.yaml"); err != nil {
		return err
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return err
	}
	if err := cfg.ApplyMountOptions("ro,allow_other"); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

Configuration file format:

	global:
	  log_level: INFO
	  log_format: text
	  metrics_addr: 127.0.0.1:9464

	mount:
	  fsname: levelfs
	  allow_other: false
	  read_only: false
	  attr_timeout: 1s
	  entry_timeout: 1s
	  negative_timeout: 100ms
	  uid: -1
	  gid: -1

	backend:
	  operation_timeout: 5s
	  max_depth: 64
	  max_value_size: 67108864
	  retry:
	    max_attempts: 3
	    initial_delay: 10ms
	    max_delay: 250ms
	  circuit_breaker:
	    enabled: true
	    consecutive_failures: 5
	    timeout: 10s
	  health:
	    error_threshold: 3
	    unavailable_threshold: 10
	    check_interval: 30s

	performance:
	  max_concurrency: 32
	  flush_parallelism: 8
	  gc_interval: 10m

	storage:
	  badger:
	    sync_writes: true
	    block_cache_size_mb: 64
	  s3:
	    region: us-east-1
	    endpoint: ""

Unknown keys are rejected so that misspelled settings are not silently
ignored. Validation uses struct tags checked by go-playground/validator plus
cross-field rules, and reports fields by their YAML path.
*/
package config
