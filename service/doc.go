// Package service exposes the stream manager over HTTP.
//
// ControlServer serves a small JSON API for operators:
//
//	GET  /streams                   list entities with run-state
//	GET  /streams/{entity}          state, health and read counters
//	POST /streams/{entity}/stop     stop one pipeline
//	POST /streams/{entity}/restart  restart a NOT_RUNNING pipeline
//	POST /streams/stop              stop every pipeline
//	GET  /health                    aggregate health, 503 when unhealthy
//	GET  /healthz                   liveness
//
// Lifecycle POSTs are rate limited and answer 429 when the limit is hit.
// Restarting a running pipeline is a no-op reported with changed=false.
//
//	ctrl := service.NewControlServer(8081, manager,
//	    service.WithBroker(client),
//	    service.WithMetricsGatherer(registry),
//	)
//	go ctrl.Start()
//	defer ctrl.Stop(ctx)
package service
