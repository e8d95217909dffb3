/*
Package metrics provides Prometheus metrics collection and exposition for the
data transfer daemon.

The metrics package defines and registers every daemon metric using the
Prometheus client library, providing observability into queue backlog,
transfer throughput, delivery outcomes, and xrpc call latency. Metrics are
exposed via an HTTP endpoint for scraping by a Prometheus server.

# Architecture

	┌──────────────────── METRICS SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │          Prometheus Registry                │          │
	│  │  - Global DefaultRegistry                   │          │
	│  │  - MustRegister at package init             │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │              Metric Categories               │          │
	│  │                                              │          │
	│  │  Queue: backlog, state counts               │          │
	│  │  Transfer: objects/bytes moved, hop duration │          │
	│  │  Admission: rejections by reason             │          │
	│  │  Delivery: command duration, exit class      │          │
	│  │  xrpc: call duration, call errors            │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │          HTTP Metrics Endpoint               │          │
	│  │  - Path: /metrics                           │          │
	│  │  - Format: Prometheus text exposition        │          │
	│  │  - Handler: promhttp.Handler()               │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Core components

Metric Registry:
  - Global Prometheus DefaultRegistry
  - All metrics registered at package init

Collector:
  - Ticker-driven sampler (15s) that reads QueueSource and sets the
    queue-state and backlog gauges; the object, byte, hop-duration,
    queue-loop and xrpc counters and histograms are updated inline by the
    package that owns the event. dts_admission_rejections_total,
    dts_delivery_duration_seconds, dts_delivery_exit_status_total and
    dts_stripe_resends_total are registered and exported, but no package
    updates them.

Timer Helper:
  - Convenience wrapper for timing operations: Start, then observe to a
    histogram or histogram vec.

# Metrics catalog

dts_queues_total{type, state}: Gauge. Number of configured queues by
type (ingest/transfer/endpoint) and admission state.

dts_queue_backlog{queue}: Gauge. Slots between current and next.

dts_objects_transferred_total{queue}: Counter. Successful hops.

dts_objects_failed_total{queue, kind}: Counter. Failed hops by error kind
(the dtserr sentinel name).

dts_bytes_transferred_total{queue}: Counter.

dts_hop_duration_seconds{queue}: Histogram. initTransfer..endTransfer.

dts_admission_rejections_total{queue, reason}: Counter.

dts_delivery_duration_seconds{queue}: Histogram.

dts_delivery_exit_status_total{queue, class}: Counter. class is one of
ok, minor, fatal_object, fatal_queue, unknown.

dts_rpc_call_duration_seconds{method}: Histogram.

dts_rpc_call_errors_total{method}: Counter.

dts_queue_loop_duration_seconds{queue}, dts_queue_loop_cycles_total{queue}:
queue manager backlog-poll loop timing.

dts_stripe_resends_total{queue}: Counter. Chunk resends due to checksum
mismatch.
*/
package metrics
