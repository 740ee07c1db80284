package message

import (
	"context"
	"maps"
	"strings"
	"time"

	"github.com/Aishwarya-Atre-1/ziggurat/pkg/timestamp"
)

// IngestionTimestampHeader overrides the broker ingestion time when present
const IngestionTimestampHeader = "ingestion-timestamp"

// Headers holds message headers. Keys are compared case-insensitively by Get.
type Headers map[string]string

// Get returns the value for key, ignoring case
func (h Headers) Get(key string) string {
	if v, ok := h[key]; ok {
		return v
	}
	for k, v := range h {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}

// Clone returns a copy of h
func (h Headers) Clone() Headers {
	if h == nil {
		return Headers{}
	}
	return maps.Clone(h)
}

// Normalized returns a copy with keys lower-cased and trimmed
func (h Headers) Normalized() Headers {
	out := make(Headers, len(h))
	for k, v := range h {
		out[strings.ToLower(strings.TrimSpace(k))] = v
	}
	return out
}

// Message is one record read from a topic
type Message struct {
	Key       string
	Value     any
	Headers   Headers
	Topic     string
	Timestamp int64
	Sequence  uint64
}

// Time returns the ingestion timestamp as a time.Time
func (m *Message) Time() time.Time {
	return timestamp.FromUnixMs(m.Timestamp)
}

// Age returns how long ago the message was ingested relative to now
func (m *Message) Age(now time.Time) time.Duration {
	return timestamp.SinceAt(m.Timestamp, now)
}

// WithValue returns a shallow copy of m carrying value
func (m *Message) WithValue(value any) *Message {
	cp := *m
	cp.Value = value
	return &cp
}

// Joined is the value of a message produced by a join pipeline, keyed by
// the join-key label of each input topic. An absent partner is nil.
type Joined map[string]any

// HandlerFunc processes one fully instrumented message
type HandlerFunc func(ctx context.Context, msg *Message) error

type channelsKey struct{}

// WithChannels attaches the route's auxiliary channel identifiers to ctx
func WithChannels(ctx context.Context, channels []string) context.Context {
	return context.WithValue(ctx, channelsKey{}, channels)
}

// ChannelsFromContext returns the channel identifiers attached to ctx
func ChannelsFromContext(ctx context.Context) []string {
	channels, _ := ctx.Value(channelsKey{}).([]string)
	return channels
}
