// Package config loads ziggurat configuration.
//
// Configuration is layered: built-in defaults, then each file added with
// AddLayer (JSON or YAML, deep-merged in order), then ZIGGURAT_* environment
// overrides. The merged document is checked against an embedded JSON Schema
// before it is decoded into Config.
//
// Per-entity stream settings are resolved with Config.StreamFor, which layers
// the entity's stream_router entry over default_stream and then fixes the
// consumer type.
package config
