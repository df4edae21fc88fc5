/*
Package log provides structured logging for agentrun using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging
with component-specific loggers, configurable log levels, and helper functions
for common logging patterns. All logs include timestamps and support filtering
by severity level for production debugging.

# Architecture

The logging system provides structured JSON logging with minimal overhead:

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
	│  │  - WithComponent("manager")                 │          │
	│  │  - WithSession("a1b2c3d4")                  │          │
	│  │  - WithBackend("docker")                    │          │
	│  │  - WithInstance("env-42")                   │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │            Log Output                       │          │
	│  │                                              │          │
	│  │  JSON Format:                               │          │
	│  │  {                                           │          │
	│  │    "level": "info",                         │          │
	│  │    "component": "manager",                  │          │
	│  │    "session_id": "a1b2c3d4",               │          │
	│  │    "time": "2025-06-10T10:30:00Z",         │          │
	│  │    "message": "sandbox connected"           │          │
	│  │  }                                           │          │
	│  │                                              │          │
	│  │  Console Format:                            │          │
	│  │  10:30AM INF sandbox connected component=manager │     │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Core Components

Global Logger:
  - Package-level zerolog.Logger instance
  - Initialized once via log.Init()
  - Accessible from all agentrun packages
  - Thread-safe concurrent writes

Log Levels:
  - Debug: Detailed debugging information
  - Info: General informational messages
  - Warn: Warning messages (potential issues)
  - Error: Error messages (operation failed)
  - Fatal: Critical errors (process exits)

Configuration:
  - Level: Filter messages below threshold
  - JSONOutput: JSON vs human-readable console
  - Output: io.Writer for log destination (stdout, file)

Context Loggers:
  - WithComponent: Add component name to all logs
  - WithSession: Add sandbox session ID context
  - WithBackend: Add deployment backend context
  - WithInstance: Add training instance ID context

# Usage

Initializing the Logger:

	import "github.com/agentrun/agentrun/pkg/log"

	// JSON output (production)
	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

	// Console output (development)
	log.Init(log.Config{
		Level:      log.DebugLevel,
		JSONOutput: false,
		Output:     os.Stdout,
	})

Simple Logging:

	log.Info("Manager initialized successfully")
	log.Debug("Checking pool levels")
	log.Warn("Port range nearly exhausted")
	log.Error("Failed to connect to docker daemon")
	log.Fatal("Cannot start without state directory") // Exits process

Structured Logging:

	log.Logger.Info().
		Str("session_id", "a1b2c3d4").
		Int("ports", 2).
		Msg("Sandbox created")

	log.Logger.Error().
		Err(err).
		Str("backend", "kubernetes").
		Msg("Pod creation failed")

Component Loggers:

	// Create component-specific logger
	managerLog := log.WithComponent("manager")
	managerLog.Info().Msg("Starting warm pool refill")
	managerLog.Debug().Str("sandbox_type", "browser").Msg("Popping pooled sandbox")

	// Session-scoped logs
	sessLog := log.WithSession("a1b2c3d4")
	sessLog.Info().Msg("Sandbox connected")
	sessLog.Error().Err(err).Msg("Release failed")

# Integration Points

This package integrates with:

  - pkg/manager: Logs sandbox lifecycle and pool operations
  - pkg/driver: Logs backend create/start/stop/remove calls
  - pkg/server: Logs API requests and errors
  - pkg/box: Logs in-container tool invocations
  - pkg/deployments: Logs store writes, backups, and recovery
  - pkg/training: Logs environment instance lifecycle

# Log Output Examples

JSON Format (Production):

	{"level":"info","component":"manager","time":"2025-06-10T10:30:00Z","message":"Pool refilled"}
	{"level":"info","component":"driver","backend":"docker","session_id":"a1b2c3d4","time":"2025-06-10T10:30:01Z","message":"Container started"}
	{"level":"error","component":"client","session_id":"a1b2c3d4","error":"connection refused","time":"2025-06-10T10:30:02Z","message":"Readiness probe failed"}

Console Format (Development):

	10:30:00 INF Pool refilled component=manager
	10:30:01 INF Container started component=driver backend=docker session_id=a1b2c3d4
	10:30:02 ERR Readiness probe failed component=client session_id=a1b2c3d4 error="connection refused"

# Design Patterns

Global Logger Pattern:
  - Single package-level Logger instance
  - Initialized once at application start
  - Accessible from all packages without passing
  - Simplifies logging in deeply nested calls

Context Logger Pattern:
  - Create child loggers with context fields
  - Pass context loggers to functions
  - Automatically includes context in all logs
  - Avoids repetitive field specification

Structured Logging Pattern:
  - Use typed fields (.Str, .Int, .Err)
  - Enables log aggregation and querying
  - Better than string concatenation
  - Parseable by log analysis tools

Error Logging Pattern:
  - Always use .Err(err) for error objects
  - Enables error tracking and alerting
  - Consistent error format across codebase

# Performance Characteristics

Logging Overhead:
  - Disabled level: 0ns (compile-time optimization)
  - JSON encode: ~500ns per log line
  - Console format: ~1µs per log line
  - String field: +50ns per field

Memory Allocation:
  - Zero allocation for disabled levels
  - ~100 bytes per log line (JSON)
  - Amortized by buffer pooling

Log Level Impact:
  - Debug: High volume, use in development only
  - Info: Moderate volume, suitable for production
  - Warn/Error: Low volume, minimal impact

# Troubleshooting

Common Issues:

No Log Output:
  - Symptom: No logs appearing
  - Check: log.Init() called before logging
  - Check: Log level set appropriately (Debug < Info < Warn < Error)
  - Solution: Initialize logger in main() before any logging

Excessive Log Volume:
  - Symptom: Disk space fills quickly
  - Cause: Debug level in production
  - Check: Log level configuration
  - Solution: Use Info level in production, rotate logs

Missing Context Fields:
  - Symptom: Logs missing component or session fields
  - Cause: Using global Logger instead of context logger
  - Solution: Use WithComponent() or create child loggers

Token Leakage:
  - Symptom: Bearer tokens visible in logs
  - Cause: Logging raw request headers or container env
  - Solution: Never log Authorization headers or SECRET_TOKEN values

# Best Practices

Do:
  - Use Info level for production
  - Use structured fields for queryable data
  - Create component-specific loggers
  - Log errors with .Err() for context
  - Include session_id on every sandbox-scoped log

Don't:
  - Log runtime tokens or bearer credentials
  - Use Debug level in production
  - Log in tight loops (use sampling)
  - Concatenate strings (use .Str, .Int)

# See Also

  - Zerolog documentation: https://github.com/rs/zerolog
  - Structured logging: https://www.thoughtworks.com/radar/techniques/structured-logging
  - 12-Factor App Logs: https://12factor.net/logs
*/
package log
