/*
Package log provides structured logging for the DTS daemon using zerolog.

The log package wraps zerolog to provide JSON-structured logging with
component-specific child loggers, configurable log levels, and helper
functions for common logging patterns. All logs include timestamps and
support filtering by severity level for production debugging.

# Architecture

	┌──────────────────── LOGGING SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            Global Logger                    │          │
	│  │  - Zerolog instance                         │          │
	│  │  - Initialized via log.Init()               │          │
	│  │  - Thread-safe for concurrent use           │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Configuration                     │          │
	│  │  - Level: debug/info/warn/error             │          │
	│  │  - Format: JSON or console (human)          │          │
	│  │  - Output: stdout, file, or custom writer   │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │         Component Loggers                   │          │
	│  │  - WithComponent("queue")                   │          │
	│  │  - WithNode("node-b")                       │          │
	│  │  - WithQueue("ingest1")                     │          │
	│  │  - WithSlot("ingest1", 42)                  │          │
	│  │  - WithXfer("xfer-9f3a")                    │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │            Log Output                       │          │
	│  │                                              │          │
	│  │  JSON Format:                               │          │
	│  │  {"level":"info","component":"queue",       │          │
	│  │   "queue":"ingest1","time":"...",           │          │
	│  │   "message":"hop completed"}                │          │
	│  │                                              │          │
	│  │  Console Format:                            │          │
	│  │  <time> INF hop completed component=queue   │          │
	│  │             queue=ingest1                   │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Context Loggers

  - WithComponent: Add a component field ("spool", "xrpc", "transport",
    "queue", "delivery")
  - WithNode: Add a node field, identifying the remote or local daemon
  - WithQueue: Add a queue field, identifying one configured queue
  - WithSlot: Add queue and slot fields, identifying one spooled object
  - WithXfer: Add a xfer_id field, identifying one transfer session
    across its RPC handshake and stripe workers

# Usage

Initializing the logger:

	import "github.com/dts-project/dts/pkg/log"

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

Simple logging:

	log.Info("daemon starting")
	log.Warn("downstream node unreachable, retrying")
	log.Error("hop failed")

Component loggers:

	queueLog := log.WithComponent("queue").With().Str("queue", "ingest1").Logger()
	queueLog.Info().Msg("queue manager started")

	slotLog := log.WithSlot("ingest1", 42)
	slotLog.Error().Err(err).Msg("hop failed, will retry")

# Integration Points

This package integrates with:

  - pkg/spool: logs statfs failures during the free-space check
  - pkg/transport: does not log; stripe failures are returned as errors
  - pkg/xrpc: logs inbound calls and handler panics (LoggingMiddleware)
  - pkg/queue: logs hop failures, skipped ERR-marked or unreadable slots,
    and unreachable downstreams
  - pkg/delivery: logs delivery command exit status and parfile errors
  - pkg/daemon: logs startup/shutdown sequencing

# Security

Log content should never include the shared xrpc password, file payload
bytes, or absolute paths supplied by untrusted submitters beyond what's
already recorded in the control record.
*/
package log
