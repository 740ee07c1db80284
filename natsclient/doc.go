// Package natsclient binds stream pipelines to NATS JetStream.
//
// The Client wraps a NATS connection with a circuit breaker and a periodic
// RTT probe. With WithMetrics, connection status is mirrored into the
// ziggurat_nats_* core metrics and JetStream stream and consumer stats are
// polled into gauges.
//
// Source implements engine.SourceFactory. Each pipeline source becomes a
// durable pull consumer named "<application-id>-<source>" on the configured
// stream. The source pattern is matched against message subjects on the
// client side, so a single consumer can serve regex-named topics.
//
// # Basic Usage
//
//	client, err := natsclient.NewClient("nats://localhost:4222",
//		natsclient.WithLogger(logger),
//		natsclient.WithName("ziggurat"),
//	)
//	if err != nil {
//		return err
//	}
//	if err := client.Connect(ctx); err != nil {
//		return err
//	}
//	defer client.Close(ctx)
//
//	source := natsclient.NewSource(client, "ZIGGURAT", natsclient.WithSubjects("orders.>"))
//	pipeline, err := engine.New(topo, props, source)
//
// # Headers and keys
//
// The record key travels in the Nats-Msg-Key header (HeaderKey). Publish sets
// it together with the ingestion-timestamp header so that the latency stages
// can compute end-to-end delay.
//
// # Testing
//
// NewTestClient starts a NATS server with JetStream in a container via
// testcontainers-go. Tests that use it are skipped under -short.
package natsclient
