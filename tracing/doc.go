// Package tracing starts OpenTelemetry consumer spans for message handling.
//
// A Tracer extracts the upstream span context from message headers, either a
// W3C traceparent or hex x-trace-id/x-span-id, and starts a consumer span
// under it. Invalid ids are ignored and the span becomes a new root. Unless a
// provider is supplied, the tracer owns an SDK provider whose exporter logs
// finished spans.
package tracing
