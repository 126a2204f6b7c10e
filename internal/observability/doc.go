// Package observability provides monitoring and debugging capabilities for
// the agent runtime loop through metrics, structured logging, and
// distributed tracing.
//
// # Overview
//
// Three pillars:
//
//  1. Metrics - Quantitative measurements using Prometheus
//  2. Logging - Structured logs with sensitive data redaction
//  3. Tracing - Distributed request tracing with OpenTelemetry
//
// # Metrics
//
// Metrics are implemented using the Prometheus client libraries and track:
//   - LLM request latency and status
//   - Tool execution performance
//   - Retry/backoff and compaction activity
//   - FSM state occupancy
//   - Error rates by component and type
//
// Example usage:
//
//	metrics := observability.NewMetrics()
//
//	start := time.Now()
//	// ... make provider request ...
//	metrics.RecordLLMRequest("anthropic", "claude-3-opus", "success", time.Since(start).Seconds())
//
//	start = time.Now()
//	// ... execute tool ...
//	metrics.RecordToolExecution("echo", "success", time.Since(start).Seconds())
//
// # Logging
//
// Logging is built on Go's slog package with enhancements for:
//   - Automatic session ID correlation from context
//   - Sensitive data redaction (API keys, passwords, tokens)
//   - JSON output for production, text for development
//
// Example usage:
//
//	logger := observability.NewLogger(observability.LogConfig{
//	    Level:  "info",
//	    Format: "json",
//	})
//
//	ctx := observability.AddSessionID(ctx, sessionID)
//	logger.Info(ctx, "turn started", "attempt", 1)
//
// # Tracing
//
// Distributed tracing uses OpenTelemetry to track a turn across the stream
// decoder and tool dispatch:
//
//	tracer, shutdown := observability.NewTracer(observability.TraceConfig{
//	    ServiceName: "agentloop",
//	    Endpoint:    "localhost:4317",
//	})
//	defer shutdown(context.Background())
//
//	ctx, span := tracer.TraceLLMRequest(ctx, "anthropic", "claude-3-opus")
//	defer span.End()
//
//	ctx, toolSpan := tracer.TraceToolExecution(ctx, "echo")
//	defer toolSpan.End()
package observability
