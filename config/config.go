package config

import (
	"fmt"
	"regexp"
	"time"

	"github.com/Aishwarya-Atre-1/ziggurat/errors"
	"github.com/Aishwarya-Atre-1/ziggurat/message"
)

// Consumer types
const (
	ConsumerDefault = "default"
	ConsumerJoins   = "joins"
)

// Join types
const (
	JoinInner = "inner"
	JoinLeft  = "left"
	JoinOuter = "outer"
)

// Offset reset policies
const (
	OffsetLatest   = "latest"
	OffsetEarliest = "earliest"
)

// Config is the root configuration
type Config struct {
	AppName  string         `json:"app_name"`
	Env      string         `json:"env,omitempty"`
	NATS     NATSConfig     `json:"nats"`
	Metrics  MetricsConfig  `json:"metrics"`
	Control  ControlConfig  `json:"control"`
	Features FeaturesConfig `json:"features"`

	EnableStreamsUncaughtExceptionHandling bool `json:"enable_streams_uncaught_exception_handling"`

	ShutdownTimeout time.Duration `json:"shutdown_timeout"`

	DefaultStream StreamConfig            `json:"default_stream"`
	StreamRouter  map[string]StreamConfig `json:"stream_router"`
}

// NATSConfig configures the broker connection
type NATSConfig struct {
	URLs          []string      `json:"urls"`
	Stream        string        `json:"stream"`
	Subjects      []string      `json:"subjects,omitempty"`
	Username      string        `json:"username,omitempty"`
	Password      string        `json:"password,omitempty"`
	Token         string        `json:"token,omitempty"`
	MaxReconnects int           `json:"max_reconnects"`
	ReconnectWait time.Duration `json:"reconnect_wait"`
}

// MetricsConfig configures the prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Port    int    `json:"port"`
	Path    string `json:"path"`
}

// ControlConfig configures the lifecycle HTTP API
type ControlConfig struct {
	Enabled bool `json:"enabled"`
	Port    int  `json:"port"`
}

// FeaturesConfig holds feature flags
type FeaturesConfig struct {
	StreamJoins bool `json:"stream_joins"`
}

// StreamConfig holds the settings of one entity's pipeline
type StreamConfig struct {
	ApplicationID string                `json:"application_id,omitempty"`
	OriginTopic   string                `json:"origin_topic,omitempty"`
	InputTopics   []InputTopic          `json:"input_topics,omitempty"`
	JoinCfg       map[string]JoinConfig `json:"join_cfg,omitempty"`

	BufferedRecordsPerPartition     int    `json:"buffered_records_per_partition,omitempty"`
	CommitIntervalMs                int    `json:"commit_interval_ms,omitempty"`
	AutoOffsetReset                 string `json:"auto_offset_reset,omitempty"`
	OldestProcessedMessageInS       int    `json:"oldest_processed_message_in_s,omitempty"`
	ChangelogTopicReplicationFactor int    `json:"changelog_topic_replication_factor,omitempty"`
	SessionTimeoutMs                int    `json:"session_timeout_ms,omitempty"`
	DefaultAPITimeoutMs             int    `json:"default_api_timeout_ms,omitempty"`
	StreamThreadsCount              int    `json:"stream_threads_count,omitempty"`
	ConsumerType                    string `json:"consumer_type,omitempty"`
	KeySerde                        string `json:"key_serde,omitempty"`
	ValueSerde                      string `json:"value_serde,omitempty"`
}

// InputTopic is one source of a join pipeline. JoinKey labels the topic's
// value in the joined record and JoinCfg names an entry of the stream's
// join_cfg map.
type InputTopic struct {
	Name    string `json:"name"`
	JoinKey string `json:"join_key"`
	JoinCfg string `json:"join_cfg,omitempty"`
}

// JoinConfig holds the window and type of a join
type JoinConfig struct {
	WindowMs int64  `json:"window_ms"`
	Type     string `json:"join_type,omitempty"`
}

// DefaultStreamConfig returns the global stream defaults
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		BufferedRecordsPerPartition:     10000,
		CommitIntervalMs:                15000,
		AutoOffsetReset:                 OffsetLatest,
		OldestProcessedMessageInS:       604800,
		ChangelogTopicReplicationFactor: 3,
		SessionTimeoutMs:                60000,
		DefaultAPITimeoutMs:             60000,
		StreamThreadsCount:              4,
		KeySerde:                        message.SerdeBytes,
		ValueSerde:                      message.SerdeBytes,
	}
}

// Merge returns s with every non-zero field of override applied
func (s StreamConfig) Merge(override StreamConfig) StreamConfig {
	out := s
	if override.ApplicationID != "" {
		out.ApplicationID = override.ApplicationID
	}
	if override.OriginTopic != "" {
		out.OriginTopic = override.OriginTopic
	}
	if len(override.InputTopics) > 0 {
		out.InputTopics = override.InputTopics
	}
	if len(override.JoinCfg) > 0 {
		out.JoinCfg = override.JoinCfg
	}
	if override.BufferedRecordsPerPartition != 0 {
		out.BufferedRecordsPerPartition = override.BufferedRecordsPerPartition
	}
	if override.CommitIntervalMs != 0 {
		out.CommitIntervalMs = override.CommitIntervalMs
	}
	if override.AutoOffsetReset != "" {
		out.AutoOffsetReset = override.AutoOffsetReset
	}
	if override.OldestProcessedMessageInS != 0 {
		out.OldestProcessedMessageInS = override.OldestProcessedMessageInS
	}
	if override.ChangelogTopicReplicationFactor != 0 {
		out.ChangelogTopicReplicationFactor = override.ChangelogTopicReplicationFactor
	}
	if override.SessionTimeoutMs != 0 {
		out.SessionTimeoutMs = override.SessionTimeoutMs
	}
	if override.DefaultAPITimeoutMs != 0 {
		out.DefaultAPITimeoutMs = override.DefaultAPITimeoutMs
	}
	if override.StreamThreadsCount != 0 {
		out.StreamThreadsCount = override.StreamThreadsCount
	}
	if override.ConsumerType != "" {
		out.ConsumerType = override.ConsumerType
	}
	if override.KeySerde != "" {
		out.KeySerde = override.KeySerde
	}
	if override.ValueSerde != "" {
		out.ValueSerde = override.ValueSerde
	}
	return out
}

// StalenessHorizon is the age beyond which latency is not recorded
func (s StreamConfig) StalenessHorizon() time.Duration {
	return time.Duration(s.OldestProcessedMessageInS) * time.Second
}

// CommitInterval returns commit_interval_ms as a duration
func (s StreamConfig) CommitInterval() time.Duration {
	return time.Duration(s.CommitIntervalMs) * time.Millisecond
}

// JoinParams returns the join_cfg entry named ref. Unknown refs and an
// empty type fall back to an inner join.
func (s StreamConfig) JoinParams(ref string) JoinConfig {
	jc := s.JoinCfg[ref]
	if jc.Type == "" {
		jc.Type = JoinInner
	}
	return jc
}

// Validate checks the structural settings of a stream. The offset reset
// policy is checked when pipeline properties are built.
func (s StreamConfig) Validate() error {
	fail := func(format string, args ...any) error {
		return errors.WrapInvalid(fmt.Errorf("%w: "+format, append([]any{errors.ErrInvalidConfig}, args...)...),
			"StreamConfig", "Validate", "validate stream settings")
	}

	if !message.ValidSerde(s.KeySerde) {
		return fail("unknown key_serde %q", s.KeySerde)
	}
	if !message.ValidSerde(s.ValueSerde) {
		return fail("unknown value_serde %q", s.ValueSerde)
	}

	switch s.ConsumerType {
	case "", ConsumerDefault:
		if s.OriginTopic == "" {
			return fail("origin_topic is required")
		}
		if _, err := regexp.Compile(s.OriginTopic); err != nil {
			return fail("origin_topic %q is not a valid pattern: %v", s.OriginTopic, err)
		}
	case ConsumerJoins:
		if len(s.InputTopics) == 0 {
			return fail("input_topics is required for joins")
		}
		labels := make(map[string]int, len(s.InputTopics))
		for i, t := range s.InputTopics {
			if t.Name == "" || t.JoinKey == "" {
				return fail("input_topics[%d] needs name and join_key", i)
			}
			if prev, dup := labels[t.JoinKey]; dup {
				return fail("input_topics[%d] reuses join_key %q of input_topics[%d]", i, t.JoinKey, prev)
			}
			labels[t.JoinKey] = i
		}
		for ref, jc := range s.JoinCfg {
			switch jc.Type {
			case "", JoinInner, JoinLeft, JoinOuter:
			default:
				return fail("join_cfg %q: unknown join_type %q", ref, jc.Type)
			}
			if jc.WindowMs < 0 {
				return fail("join_cfg %q: negative window_ms", ref)
			}
		}
	default:
		return fail("unknown consumer_type %q", s.ConsumerType)
	}
	return nil
}

// StreamFor resolves the stream settings of entity: the stream_router entry
// over default_stream, with consumer_type taken from the entry or "default".
// The application id falls back to the entity name.
func (c *Config) StreamFor(entity string) (StreamConfig, bool) {
	override, ok := c.StreamRouter[entity]
	if !ok {
		return StreamConfig{}, false
	}

	merged := c.DefaultStream.Merge(override)
	merged.ConsumerType = override.ConsumerType
	if merged.ConsumerType == "" {
		merged.ConsumerType = ConsumerDefault
	}
	if merged.ApplicationID == "" {
		merged.ApplicationID = entity
	}
	return merged, true
}

// Validate checks global settings
func (c *Config) Validate() error {
	if c.AppName == "" {
		return errors.WrapInvalid(fmt.Errorf("%w: app_name", errors.ErrMissingConfig),
			"Config", "Validate", "check app_name")
	}
	if len(c.NATS.URLs) == 0 {
		return errors.WrapInvalid(fmt.Errorf("%w: nats.urls", errors.ErrMissingConfig),
			"Config", "Validate", "check nats urls")
	}
	if c.ShutdownTimeout < 0 {
		return errors.WrapInvalid(fmt.Errorf("%w: negative shutdown_timeout", errors.ErrInvalidConfig),
			"Config", "Validate", "check shutdown timeout")
	}
	return nil
}

// Entities returns the entity names in stream_router
func (c *Config) Entities() []string {
	out := make([]string, 0, len(c.StreamRouter))
	for name := range c.StreamRouter {
		out = append(out, name)
	}
	return out
}
