package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aishwarya-Atre-1/ziggurat/errors"
)

func TestStreamFor_MergeOrder(t *testing.T) {
	cfg := Defaults()
	cfg.DefaultStream.ConsumerType = ConsumerJoins
	cfg.StreamRouter = map[string]StreamConfig{
		"orders": {
			OriginTopic:        "orders-topic",
			StreamThreadsCount: 1,
		},
		"matches": {
			ConsumerType: ConsumerJoins,
			InputTopics:  []InputTopic{{Name: "a", JoinKey: "ka"}},
		},
	}

	orders, ok := cfg.StreamFor("orders")
	require.True(t, ok)
	assert.Equal(t, "orders-topic", orders.OriginTopic)
	assert.Equal(t, 1, orders.StreamThreadsCount, "override beats defaults")
	assert.Equal(t, 10000, orders.BufferedRecordsPerPartition, "defaults fill the gaps")
	assert.Equal(t, ConsumerDefault, orders.ConsumerType, "computed kind ignores the global default")
	assert.Equal(t, "orders", orders.ApplicationID)

	matches, ok := cfg.StreamFor("matches")
	require.True(t, ok)
	assert.Equal(t, ConsumerJoins, matches.ConsumerType)

	_, ok = cfg.StreamFor("unknown")
	assert.False(t, ok)
}

func TestStreamConfig_Helpers(t *testing.T) {
	s := DefaultStreamConfig()
	assert.Equal(t, 7*24*time.Hour, s.StalenessHorizon())
	assert.Equal(t, 15*time.Second, s.CommitInterval())

	s.JoinCfg = map[string]JoinConfig{"a-b": {WindowMs: 500, Type: JoinLeft}, "b-c": {WindowMs: 9}}
	assert.Equal(t, JoinConfig{WindowMs: 500, Type: JoinLeft}, s.JoinParams("a-b"))
	assert.Equal(t, JoinConfig{WindowMs: 9, Type: JoinInner}, s.JoinParams("b-c"))
	assert.Equal(t, JoinConfig{Type: JoinInner}, s.JoinParams("missing"))
}

func TestStreamConfig_Validate(t *testing.T) {
	valid := DefaultStreamConfig()
	valid.OriginTopic = "orders-.*"
	require.NoError(t, valid.Validate())

	joins := DefaultStreamConfig()
	joins.ConsumerType = ConsumerJoins
	joins.InputTopics = []InputTopic{{Name: "a", JoinKey: "ka", JoinCfg: "a-b"}, {Name: "b", JoinKey: "kb"}}
	joins.JoinCfg = map[string]JoinConfig{"a-b": {WindowMs: 100, Type: JoinOuter}}
	require.NoError(t, joins.Validate())

	tests := []struct {
		name   string
		mutate func(*StreamConfig)
	}{
		{"missing origin", func(s *StreamConfig) { s.OriginTopic = "" }},
		{"bad pattern", func(s *StreamConfig) { s.OriginTopic = "orders-(" }},
		{"bad serde", func(s *StreamConfig) { s.ValueSerde = "avro" }},
		{"bad consumer", func(s *StreamConfig) { s.ConsumerType = "batch" }},
		{"joins without topics", func(s *StreamConfig) { s.ConsumerType = ConsumerJoins }},
		{"bad join type", func(s *StreamConfig) {
			s.ConsumerType = ConsumerJoins
			s.InputTopics = []InputTopic{{Name: "a", JoinKey: "ka"}}
			s.JoinCfg = map[string]JoinConfig{"x": {Type: "cross"}}
		}},
		{"topic without label", func(s *StreamConfig) {
			s.ConsumerType = ConsumerJoins
			s.InputTopics = []InputTopic{{Name: "a"}}
		}},
		{"duplicate join key", func(s *StreamConfig) {
			s.ConsumerType = ConsumerJoins
			s.InputTopics = []InputTopic{{Name: "a", JoinKey: "order"}, {Name: "b", JoinKey: "order"}}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := valid
			tt.mutate(&s)
			err := s.Validate()
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
			assert.ErrorIs(t, err, errors.ErrInvalidConfig)
		})
	}
}
