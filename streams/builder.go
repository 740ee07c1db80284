package streams

import (
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/Aishwarya-Atre-1/ziggurat/config"
	"github.com/Aishwarya-Atre-1/ziggurat/errors"
	"github.com/Aishwarya-Atre-1/ziggurat/message"
	"github.com/Aishwarya-Atre-1/ziggurat/topology"
)

// BuildInput is everything a topology builder needs for one entity
type BuildInput struct {
	Entity       string
	Stream       config.StreamConfig
	Handler      message.HandlerFunc
	Stages       *Stages
	JoinsEnabled bool
	Logger       *slog.Logger
}

type builderFunc func(in BuildInput) (*topology.Topology, error)

var builders = map[string]builderFunc{
	config.ConsumerDefault: buildDefault,
	config.ConsumerJoins:   buildJoins,
}

// Build selects the builder for the entity's consumer type. It returns a
// nil topology and nil error when the join topology is disabled.
func Build(in BuildInput) (*topology.Topology, error) {
	kind := in.Stream.ConsumerType
	if kind == "" {
		kind = config.ConsumerDefault
	}
	build, ok := builders[kind]
	if !ok {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: unknown consumer_type %q", errors.ErrInvalidConfig, kind),
			"streams", "Build", "select topology builder")
	}
	if in.Logger == nil {
		in.Logger = slog.Default()
	}
	return build(in)
}

// buildDefault: consume -> latency -> headers -> read count -> traced handler
func buildDefault(in BuildInput) (*topology.Topology, error) {
	b := topology.NewBuilder()
	b.Stream("source", in.Stream.OriginTopic).
		Peek("latency-recorder", in.Stages.RecordLatency(in.Stream.StalenessHorizon())).
		Map("header-propagator", PropagateHeaders).
		Peek("read-count", in.Stages.CountRead()).
		Foreach("handler", in.Stages.Traced(in.Handler))
	return b.Build()
}

// buildJoins opens one source per input topic and folds them into a single
// joined stream. Every pairing uses the join type and window of the first
// input topic.
func buildJoins(in BuildInput) (*topology.Topology, error) {
	if !in.JoinsEnabled {
		in.Logger.Warn("stream joins are disabled, not starting pipeline", "entity", in.Entity)
		return nil, nil
	}

	topics := in.Stream.InputTopics
	if len(topics) == 0 {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: input_topics is required for joins", errors.ErrInvalidConfig),
			"streams", "buildJoins", "open input topics")
	}

	params := in.Stream.JoinParams(topics[0].JoinCfg)
	kind, err := topology.ParseJoinKind(params.Type)
	if err != nil {
		return nil, err
	}
	window := time.Duration(params.WindowMs) * time.Millisecond
	horizon := in.Stream.StalenessHorizon()

	b := topology.NewBuilder()
	opened := make([]*topology.Stream, len(topics))
	for i, t := range topics {
		opened[i] = b.Stream(t.Name, regexp.QuoteMeta(t.Name)).
			Peek(t.Name+"-latency-recorder", in.Stages.RecordJoinsLatency(t.Name, horizon)).
			Peek(t.Name+"-read-count", in.Stages.CountJoinsRead(t.Name))
	}

	acc := opened[0]
	labels := []string{topics[0].JoinKey}
	for i := 1; i < len(opened); i++ {
		acc = acc.Join(fmt.Sprintf("join-%d", i), opened[i], joinValues(labels, topics[i].JoinKey), window, kind)
		labels = append(labels, topics[i].JoinKey)
	}

	acc.Map("header-propagator", PropagateHeaders).
		Foreach("handler", in.Stages.Traced(in.Handler))
	return b.Build()
}

// joinValues combines the accumulated value, labelled by leftLabels, with
// the next topic's value under rightLabel. A left value produced by an
// earlier join is flattened so the result is keyed by every label. Missing
// sides of unmatched records are nil.
func joinValues(leftLabels []string, rightLabel string) topology.ValueJoiner {
	leftLabels = append([]string(nil), leftLabels...)
	return func(left, right any) any {
		out := make(message.Joined, len(leftLabels)+1)
		switch {
		case len(leftLabels) == 1:
			out[leftLabels[0]] = left
		case left != nil:
			for k, v := range left.(message.Joined) {
				out[k] = v
			}
		default:
			for _, l := range leftLabels {
				out[l] = nil
			}
		}
		out[rightLabel] = right
		return out
	}
}
