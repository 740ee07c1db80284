package main

import (
	"context"
	"log/slog"
	"slices"

	"github.com/Aishwarya-Atre-1/ziggurat/config"
	"github.com/Aishwarya-Atre-1/ziggurat/message"
	"github.com/Aishwarya-Atre-1/ziggurat/streams"
	"github.com/Aishwarya-Atre-1/ziggurat/tracing"
)

// logRoutes gives every configured entity a handler that logs each message
func logRoutes(cfg *config.Config, logger *slog.Logger) streams.Routes {
	routes := make(streams.Routes, len(cfg.StreamRouter))
	entities := cfg.Entities()
	slices.Sort(entities)
	for _, entity := range entities {
		routes[entity] = streams.Route{Handler: logHandler(logger.With("entity", entity))}
	}
	return routes
}

func logHandler(logger *slog.Logger) message.HandlerFunc {
	return func(ctx context.Context, msg *message.Message) error {
		logger.Info("message received",
			"topic", msg.Topic,
			"key", msg.Key,
			"sequence", msg.Sequence,
			"trace", tracing.FormatTrace(ctx),
			"channels", message.ChannelsFromContext(ctx))
		return nil
	}
}
