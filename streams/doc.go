// Package streams builds, starts and supervises one pipeline per entity.
//
// Each entity in the stream_router configuration is paired with a Route
// carrying its handler. The Manager turns every route into a pipeline:
//
//	mgr, err := streams.NewManager(cfg, source, streams.WithMetricsRegistry(registry))
//	reg, err := mgr.StartAll(ctx, streams.Routes{
//	    "orders": {Handler: handleOrder},
//	})
//
// # Topologies
//
// A "default" entity consumes every topic matching origin_topic through
//
//	latency-recorder -> header-propagator -> read-count -> handler
//
// A "joins" entity, available when the stream_joins feature is on, opens
// one source per input topic and joins them pairwise on message key. Every
// pairing uses the join type and window of the first input topic's
// join_cfg. The joined value is a message.Joined keyed by each topic's
// join_key. With the feature off the entity is left out of the registry.
//
// # Lifecycle
//
// StartAll, Stop, StopAll, Restart and Shutdown are serialised. Registry
// returns an immutable snapshot; Restart publishes a new one in which only
// the restarted entity's pipeline differs. Restart acts only on a pipeline
// that is NOT_RUNNING, which is where a pipeline ends up after Stop, a
// panicking handler or a lost source.
//
// A failure starting one entity is logged and returned without affecting
// the others. Handler errors reach the uncaught error hook, which logs,
// counts and records them on the entity's health without stopping the
// pipeline.
package streams
