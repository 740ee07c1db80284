// Package ziggurat runs a fleet of named stream pipelines over a NATS
// JetStream broker, one per configured entity.
//
// Each entity in the stream router gets its own pipeline. A default entity
// reads a topic pattern and hands every record to the entity's handler; a
// joins entity reads several literal topics, windows them by key and hands
// the joined record on. Every pipeline is wrapped in the same
// instrumentation: a latency recorder with a staleness horizon, lowercase
// header propagation, a read counter and a trace span around the handler.
//
// # Packages
//
//	config      layered YAML configuration and JSON schema validation
//	topology    source/processor/sink graphs and windowed joins
//	engine      pipeline run-state machine, properties and sources
//	streams     topology builder, pipeline supervisor and manager
//	natsclient  broker connection and JetStream-backed source
//	metric      Prometheus registry and scrape server
//	tracing     consumer spans carried in message headers
//	health      per-entity health and aggregation
//	service     HTTP control API over the manager
//	cmd/ziggurat  the service binary
//
// # Lifecycle
//
// The manager starts every routed entity, isolating failures so one bad
// entity does not prevent the others from starting. Pipelines can be
// stopped one at a time or all together, and a pipeline that has reached
// NOT_RUNNING can be restarted in place without touching its siblings.
//
// Handler errors are reported to an uncaught error hook that logs and
// counts them; the record is still acknowledged. A handler panic or a
// source failure stops the pipeline.
//
// # Joins
//
// Joins are behind the stream_joins feature flag. The join configuration
// referenced by the first input topic governs every pairing in the chain,
// and the joined value maps each input topic's join key to its record.
package ziggurat
