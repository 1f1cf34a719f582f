package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/levelfs/levelfs/pkg/errors"
	"github.com/levelfs/levelfs/pkg/health"
	"github.com/levelfs/levelfs/pkg/types"
)

var _ types.MetricsCollector = (*Collector)(nil)

// Collector records filesystem and backend operations
type Collector struct {
	mu       sync.RWMutex
	config   *Config
	registry *prometheus.Registry
	logger   *slog.Logger

	// Prometheus metrics
	operationCounter  *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	operationSize     *prometheus.HistogramVec
	errorCounter      *prometheus.CounterVec
	openHandles       prometheus.Gauge

	// Internal tracking
	operations map[string]*OperationMetrics
	lastReset  time.Time

	health    *health.Tracker
	openFiles func() []types.OpenFile
	status    map[string]StatusFunc

	server   *http.Server
	listener net.Listener
}

// Config represents metrics configuration
type Config struct {
	Enabled   bool   `yaml:"enabled"`
	Address   string `yaml:"address"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}

// DefaultConfig returns a disabled configuration with the standard path.
func DefaultConfig() *Config {
	return &Config{
		Enabled:   false,
		Address:   "127.0.0.1:9464",
		Path:      "/metrics",
		Namespace: "levelfs",
	}
}

// OperationMetrics tracks metrics for a specific operation type
type OperationMetrics struct {
	Count         int64         `json:"count"`
	TotalDuration time.Duration `json:"total_duration"`
	TotalSize     int64         `json:"total_size"`
	Errors        int64         `json:"errors"`
	LastOperation time.Time     `json:"last_operation"`
	AvgDuration   time.Duration `json:"avg_duration"`
}

// NewCollector creates a collector. A disabled collector accepts every
// observation and records nothing.
func NewCollector(config *Config, logger *slog.Logger) (*Collector, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := &Collector{
		config:     config,
		logger:     logger.With("component", "metrics"),
		operations: make(map[string]*OperationMetrics),
		lastReset:  time.Now(),
	}
	if !config.Enabled {
		return c, nil
	}

	c.registry = prometheus.NewRegistry()
	c.initMetrics()
	if err := c.registerMetrics(); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	return c, nil
}

// Start serves the metrics endpoint until Stop is called. It fails when the
// address cannot be bound.
func (c *Collector) Start(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(c.config.Path, promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("/health", c.healthHandler)
	mux.HandleFunc("/debug/operations", c.debugOperationsHandler)
	mux.HandleFunc("/debug/handles", c.debugHandlesHandler)

	ln, err := net.Listen("tcp", c.config.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", c.config.Address, err)
	}
	c.listener = ln
	c.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		if err := c.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			c.logger.Error("metrics server stopped", "error", err)
		}
	}()
	c.logger.Info("metrics endpoint listening", "address", ln.Addr().String(), "path", c.config.Path)
	return nil
}

// SetHealthTracker makes /health report the tracker's components.
func (c *Collector) SetHealthTracker(t *health.Tracker) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.health = t
}

// SetOpenFiles makes /debug/handles list the handles fn returns.
func (c *Collector) SetOpenFiles(fn func() []types.OpenFile) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.openFiles = fn
}

// StatusFunc reports the values of one /debug/operations section.
type StatusFunc func() map[string]string

// SetStatus adds a section to /debug/operations, replacing any section of the
// same name.
func (c *Collector) SetStatus(section string, fn StatusFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status == nil {
		c.status = make(map[string]StatusFunc)
	}
	c.status[section] = fn
}

func (c *Collector) statusSnapshot() map[string]map[string]string {
	c.mu.RLock()
	fns := make(map[string]StatusFunc, len(c.status))
	for name, fn := range c.status {
		fns[name] = fn
	}
	c.mu.RUnlock()

	out := make(map[string]map[string]string, len(fns))
	for name, fn := range fns {
		out[name] = fn()
	}
	return out
}

// Addr returns the bound address once Start has succeeded.
func (c *Collector) Addr() string {
	if c.listener == nil {
		return ""
	}
	return c.listener.Addr().String()
}

// Stop stops the metrics server
func (c *Collector) Stop(ctx context.Context) error {
	if c.server != nil {
		return c.server.Shutdown(ctx)
	}
	return nil
}

// RecordOperation records an operation with its metrics
func (c *Collector) RecordOperation(operation string, duration time.Duration, size int64, success bool) {
	if !c.config.Enabled {
		return
	}

	c.mu.Lock()
	m, ok := c.operations[operation]
	if !ok {
		m = &OperationMetrics{}
		c.operations[operation] = m
	}
	m.Count++
	m.TotalDuration += duration
	m.TotalSize += size
	if !success {
		m.Errors++
	}
	m.LastOperation = time.Now()
	m.AvgDuration = time.Duration(int64(m.TotalDuration) / m.Count)
	c.mu.Unlock()

	status := "success"
	if !success {
		status = "error"
	}
	c.operationCounter.WithLabelValues(operation, status).Inc()
	c.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if size > 0 {
		c.operationSize.WithLabelValues(operation).Observe(float64(size))
	}
}

// RecordError counts an error by the errno it is reported as
func (c *Collector) RecordError(operation string, err error) {
	if !c.config.Enabled || err == nil {
		return
	}
	c.errorCounter.WithLabelValues(operation, classifyError(err)).Inc()
}

// SetOpenHandles updates the open file handle gauge
func (c *Collector) SetOpenHandles(n int) {
	if !c.config.Enabled {
		return
	}
	c.openHandles.Set(float64(n))
}

// GetMetrics returns a copy of the per-operation counters
func (c *Collector) GetMetrics() map[string]OperationMetrics {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]OperationMetrics, len(c.operations))
	for k, v := range c.operations {
		out[k] = *v
	}
	return out
}

// ResetMetrics resets the per-operation counters
func (c *Collector) ResetMetrics() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.operations = make(map[string]*OperationMetrics)
	c.lastReset = time.Now()
}

func (c *Collector) initMetrics() {
	ns := c.config.Namespace

	c.operationCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Name:      "operations_total",
			Help:      "Total number of filesystem and backend operations",
		},
		[]string{"operation", "status"},
	)

	c.operationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "operation_duration_seconds",
			Help:      "Duration of operations in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 17), // 100us to ~6.5s
		},
		[]string{"operation"},
	)

	c.operationSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "operation_size_bytes",
			Help:      "Bytes moved by read and write operations",
			Buckets:   prometheus.ExponentialBuckets(64, 4, 10),
		},
		[]string{"operation"},
	)

	c.errorCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Name:      "errors_total",
			Help:      "Total number of failed operations by errno",
		},
		[]string{"operation", "errno"},
	)

	c.openHandles = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "open_handles",
			Help:      "Number of open file handles",
		},
	)
}

func (c *Collector) registerMetrics() error {
	metrics := []prometheus.Collector{
		c.operationCounter,
		c.operationDuration,
		c.operationSize,
		c.errorCounter,
		c.openHandles,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	}

	for _, metric := range metrics {
		if err := c.registry.Register(metric); err != nil {
			return err
		}
	}
	return nil
}

// classifyError names the errno an error surfaces as, e.g. "ENOENT".
func classifyError(err error) string {
	errno := errors.ToErrno(err)
	if name := errnoNames[errno]; name != "" {
		return name
	}
	return fmt.Sprintf("errno_%d", int(errno))
}

// HTTP handlers

type healthReport struct {
	Status     health.State       `json:"status"`
	Service    string             `json:"service"`
	Components []health.Component `json:"components,omitempty"`
}

// healthHandler answers 503 only when a component is unavailable; a
// degraded store still serves requests.
func (c *Collector) healthHandler(w http.ResponseWriter, r *http.Request) {
	report := healthReport{Status: health.StateHealthy, Service: "levelfs"}

	c.mu.RLock()
	tracker := c.health
	c.mu.RUnlock()
	if tracker != nil {
		report.Status = tracker.Overall()
		report.Components = tracker.Components()
	}

	w.Header().Set("Content-Type", "application/json")
	if report.Status == health.StateUnavailable {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	_ = json.NewEncoder(w).Encode(report)
}

type operationsReport struct {
	Operations map[string]OperationMetrics  `json:"operations"`
	Status     map[string]map[string]string `json:"status,omitempty"`
}

func (c *Collector) debugOperationsHandler(w http.ResponseWriter, r *http.Request) {
	ops := c.GetMetrics()
	status := c.statusSnapshot()

	if r.URL.Query().Get("format") == "json" {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(operationsReport{Operations: ops, Status: status})
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	writef := func(format string, args ...interface{}) { _, _ = fmt.Fprintf(w, format, args...) }

	c.mu.RLock()
	lastReset := c.lastReset
	c.mu.RUnlock()

	writef("levelfs operations\n\n")
	writef("Since: %v (%v)\n\n", lastReset.Format(time.RFC3339), time.Since(lastReset).Round(time.Second))
	if len(ops) == 0 {
		writef("No operations recorded.\n")
	} else {
		writef("%-20s %10s %10s %14s %10s\n", "Operation", "Count", "Errors", "Avg Duration", "Last Op")
		for _, name := range sortedKeys(ops) {
			op := ops[name]
			writef("%-20s %10d %10d %14v %10s\n",
				name, op.Count, op.Errors, op.AvgDuration, op.LastOperation.Format("15:04:05"))
		}
	}

	for _, section := range sortedKeys(status) {
		values := status[section]
		writef("\n[%s]\n", section)
		for _, key := range sortedKeys(values) {
			writef("%-20s %s\n", key, values[key])
		}
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (c *Collector) debugHandlesHandler(w http.ResponseWriter, r *http.Request) {
	c.mu.RLock()
	fn := c.openFiles
	c.mu.RUnlock()

	files := []types.OpenFile{}
	if fn != nil {
		files = fn()
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Handle < files[j].Handle })

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(files)
}
