// Package health tracks the health of named components and aggregates them
// into a system-wide status.
//
// The stream manager keeps one entry per entity. Pipeline state changes are
// mapped with FromPipelineState and failures reported by a pipeline's
// uncaught error hook are recorded with RecordError:
//
//	monitor := health.NewMonitor()
//	monitor.Update("orders", health.FromPipelineState("orders", engine.Running))
//	monitor.RecordError("orders", err)
//
//	system := monitor.AggregateHealth("streams")
//	if system.IsUnhealthy() {
//	    // at least one pipeline is stopped or failed
//	}
//
// # Aggregation
//
//   - Any unhealthy component makes the aggregate unhealthy
//   - Otherwise any degraded component makes it degraded
//   - All healthy, or no components, is healthy
//
// # Error messages
//
// Messages recorded through RecordError are sanitized before they are
// stored: URLs, file paths, IP addresses, ports and credential-looking
// key/value pairs are replaced with placeholders, since health statuses
// are served over the control API.
//
// All Monitor methods are safe for concurrent use.
package health
