// Package engine runs topologies as pipelines.
//
// A Pipeline binds a topology.Topology to Properties and a SourceFactory.
// Start subscribes one consumer per topology source and hands records to a
// partitioned worker pool sized by the stream thread count, so records that
// share a key are processed in order. Close stops the consumers, drains the
// pool within a timeout and reports whether shutdown completed in time.
//
// Run-state follows CREATED -> RUNNING -> PENDING_SHUTDOWN -> NOT_RUNNING.
// A source failure or a panic in the graph moves the pipeline to ERROR and
// then shuts it down to NOT_RUNNING. Errors returned by the graph are passed
// to the uncaught error handler and the record is acknowledged.
package engine
