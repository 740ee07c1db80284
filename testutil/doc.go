// Package testutil provides in-memory stand-ins for pipeline tests.
//
// Broker implements engine.SourceFactory without a NATS server: Publish
// delivers synchronously to every subscription whose pattern matches the
// topic, and earliest-offset subscriptions replay history. Recorder is a
// handler that captures the messages it sees.
package testutil
