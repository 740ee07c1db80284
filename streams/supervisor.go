package streams

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Aishwarya-Atre-1/ziggurat/config"
	"github.com/Aishwarya-Atre-1/ziggurat/engine"
	"github.com/Aishwarya-Atre-1/ziggurat/errors"
	"github.com/Aishwarya-Atre-1/ziggurat/health"
	"github.com/Aishwarya-Atre-1/ziggurat/metric"
	"github.com/Aishwarya-Atre-1/ziggurat/pkg/worker"
	"github.com/Aishwarya-Atre-1/ziggurat/tracing"
)

// Supervisor turns an entity's route and configuration into a started
// pipeline.
type Supervisor struct {
	cfg     *config.Config
	factory engine.SourceFactory
	logger  *slog.Logger
	tracer  *tracing.Tracer
	health  *health.Monitor

	metrics       *metric.Metrics
	engineMetrics *engine.Metrics
	workerMetrics *worker.Metrics
}

// Properties builds engine properties from merged stream settings. The
// offset reset policy is validated here and the ingestion-time extractor
// is always used.
func (s *Supervisor) Properties(sc config.StreamConfig) (engine.Properties, error) {
	reset, err := engine.ParseOffsetReset(sc.AutoOffsetReset)
	if err != nil {
		return engine.Properties{}, err
	}

	return engine.Properties{
		ApplicationID:      sc.ApplicationID,
		AutoOffsetReset:    reset,
		BufferedRecords:    sc.BufferedRecordsPerPartition,
		CommitInterval:     sc.CommitInterval(),
		ReplicationFactor:  sc.ChangelogTopicReplicationFactor,
		SessionTimeout:     time.Duration(sc.SessionTimeoutMs) * time.Millisecond,
		APITimeout:         time.Duration(sc.DefaultAPITimeoutMs) * time.Millisecond,
		StreamThreads:      sc.StreamThreadsCount,
		KeySerde:           sc.KeySerde,
		ValueSerde:         sc.ValueSerde,
		TimestampExtractor: engine.IngestionTimeExtractor,
		CloseTimeout:       s.cfg.ShutdownTimeout,
	}, nil
}

// Start builds, creates and starts the pipeline for entity. It returns nil
// and no error when the entity's topology is suppressed.
func (s *Supervisor) Start(ctx context.Context, entity string, route Route) (*engine.Pipeline, error) {
	logger := s.logger.With("entity", entity)

	sc, ok := s.cfg.StreamFor(entity)
	if !ok {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: no stream_router entry for %q", errors.ErrInvalidConfig, entity),
			"Supervisor", "Start", "resolve stream settings")
	}
	if route.Handler == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: route %q has no handler", errors.ErrInvalidConfig, entity),
			"Supervisor", "Start", "resolve route")
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}

	topo, err := Build(BuildInput{
		Entity:       entity,
		Stream:       sc,
		Handler:      withChannels(route.Handler, route.Channels),
		Stages:       NewStages(s.cfg.AppName, entity, s.metrics, s.tracer),
		JoinsEnabled: s.cfg.Features.StreamJoins,
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}
	if topo == nil {
		return nil, nil
	}

	props, err := s.Properties(sc)
	if err != nil {
		return nil, err
	}

	p, err := engine.New(topo, props, s.factory,
		engine.WithLogger(logger.With("component", "pipeline")),
		engine.WithMetrics(s.engineMetrics),
		engine.WithWorkerMetrics(s.workerMetrics),
	)
	if err != nil {
		return nil, err
	}

	if s.cfg.EnableStreamsUncaughtExceptionHandling {
		p.SetUncaughtErrorHandler(s.uncaughtHandler(entity, logger))
	}
	p.SetStateListener(s.stateListener(entity, logger))

	if err := p.Start(ctx); err != nil {
		return nil, err
	}
	logger.Info("pipeline started", "consumer_type", sc.ConsumerType, "application_id", sc.ApplicationID)
	return p, nil
}

// uncaughtHandler logs failures seen by the pipeline. It never stops it.
func (s *Supervisor) uncaughtHandler(entity string, logger *slog.Logger) engine.UncaughtErrorHandler {
	return func(goroutine string, err error) {
		logger.Error("uncaught exception in stream thread",
			"thread", goroutine, "class", errors.Classify(err).String(), "error", err)
		if s.metrics != nil {
			s.metrics.RecordUncaughtError(entity)
		}
		if s.health != nil {
			s.health.RecordError(entity, err)
		}
	}
}

func (s *Supervisor) stateListener(entity string, logger *slog.Logger) engine.StateListener {
	return func(from, to engine.State) {
		logger.Debug("pipeline state changed", "from", from, "to", to)
		if s.metrics != nil {
			s.metrics.RecordPipelineState(entity, int(to))
		}
		if s.health != nil {
			s.health.Update(entity, health.FromPipelineState(entity, to))
		}
	}
}
