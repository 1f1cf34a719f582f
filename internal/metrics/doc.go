/*
Package metrics exports levelfs operation metrics to Prometheus.

The Collector implements types.MetricsCollector. The dispatcher records one
observation per kernel request and the backend adapter one per store call
(operations prefixed with "backend_").

	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled:   true,
		Address:   "127.0.0.1:9464",
		Path:      "/metrics",
		Namespace: "levelfs",
	}, logger)
	if err != nil {
		return err
	}
	if err := collector.Start(ctx); err != nil {
		return err
	}
	defer collector.Stop(ctx)

# Prometheus Metrics

Counters:
  - levelfs_operations_total{operation,status}
  - levelfs_errors_total{operation,errno}: failures by the errno reported to the kernel

Histograms:
  - levelfs_operation_duration_seconds{operation}
  - levelfs_operation_size_bytes{operation}: bytes moved by read and write

Gauges:
  - levelfs_open_handles

Go runtime and process collectors are registered on the same registry.

# HTTP Endpoints

  - /metrics: the Prometheus exposition format
  - /health: overall and per-component state from the health tracker set
    with SetHealthTracker; 503 while a component is unavailable
  - /debug/operations: a per-operation summary followed by the sections
    added with SetStatus (add ?format=json for JSON)
  - /debug/handles: the open file handles reported by SetOpenFiles

A disabled collector drops every observation and Start is a no-op.
*/
package metrics
