/*
Package metrics provides Prometheus-based metrics collection for cccopy sync
operations, the state cache, and Production lock contention.

# Overview

The collector tracks Download/Upload/Save/Rollback/Export operations with
timing and byte counts, state cache hit/miss rates, conflict resolutions, and
the number of Production locks currently held. It exposes both a Prometheus
scrape endpoint and human-readable debug endpoints.

	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled:   true,
		Port:      9090,
		Namespace: "cccopy",
	})
	if err != nil {
		log.Fatal(err)
	}
	if err := collector.Start(ctx); err != nil {
		log.Fatal(err)
	}
	defer collector.Stop(ctx)

# Recording Operations

	start := time.Now()
	err := engine.Download(ctx, project)
	collector.RecordOperation("download", time.Since(start), bytesCopied, err == nil)

# Exported Metrics

Counters:
  - cccopy_operations_total{operation,status}
  - cccopy_cache_requests_total{type}
  - cccopy_conflicts_total{resolution}
  - cccopy_errors_total{operation,type}

Histograms:
  - cccopy_operation_duration_seconds{operation}
  - cccopy_operation_size_bytes{operation}

Gauges:
  - cccopy_cache_entries{cache}
  - cccopy_active_locks

# HTTP Endpoints

/metrics serves the Prometheus scrape; /healthz is a liveness probe for the
metrics server itself; /debug/metrics and /debug/operations give a
human-readable summary without needing a Prometheus instance.

# See Also

  - pkg/health: component health tracking and degraded-mode decisions
  - internal/circuit: circuit breaker for repeated escalation failures
  - pkg/errors: structured error handling
*/
package metrics
