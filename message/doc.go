// Package message defines the envelope that flows through a pipeline.
//
// A Message carries a decoded key and value, the broker headers, the
// originating topic and the ingestion timestamp in Unix milliseconds.
// Handlers receive fully instrumented messages through HandlerFunc.
// Join pipelines deliver a Joined value keyed by join-key label.
package message
