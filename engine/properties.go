package engine

import (
	"fmt"
	"time"

	"github.com/Aishwarya-Atre-1/ziggurat/errors"
	"github.com/Aishwarya-Atre-1/ziggurat/message"
	"github.com/Aishwarya-Atre-1/ziggurat/pkg/timestamp"
)

// OffsetReset selects where a new consumer starts reading
type OffsetReset string

const (
	// OffsetResetUnset leaves the choice to the source
	OffsetResetUnset    OffsetReset = ""
	OffsetResetLatest   OffsetReset = "latest"
	OffsetResetEarliest OffsetReset = "earliest"
)

// ParseOffsetReset accepts "latest", "earliest" or empty
func ParseOffsetReset(s string) (OffsetReset, error) {
	switch OffsetReset(s) {
	case OffsetResetUnset, OffsetResetLatest, OffsetResetEarliest:
		return OffsetReset(s), nil
	}
	return OffsetResetUnset, errors.WrapInvalid(
		fmt.Errorf("%w: auto_offset_reset must be latest, earliest or unset, got %q", errors.ErrInvalidConfig, s),
		"engine", "ParseOffsetReset", "validate offset reset")
}

// TimestampExtractor returns the timestamp of a record in Unix milliseconds
type TimestampExtractor func(msg *message.Message) int64

// IngestionTimeExtractor uses the ingestion-timestamp header when present
// and parseable, otherwise the broker's ingestion time.
func IngestionTimeExtractor(msg *message.Message) int64 {
	if ts := timestamp.Parse(msg.Headers.Get(message.IngestionTimestampHeader)); ts != 0 {
		return ts
	}
	return msg.Timestamp
}

// Properties configure a pipeline and its sources
type Properties struct {
	ApplicationID      string
	AutoOffsetReset    OffsetReset
	BufferedRecords    int
	CommitInterval     time.Duration
	ReplicationFactor  int
	SessionTimeout     time.Duration
	APITimeout         time.Duration
	StreamThreads      int
	KeySerde           string
	ValueSerde         string
	TimestampExtractor TimestampExtractor
	CloseTimeout       time.Duration
}

// Validate checks required properties
func (p Properties) Validate() error {
	fail := func(msg string) error {
		return errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrInvalidConfig, msg),
			"Properties", "Validate", "validate pipeline properties")
	}
	if p.ApplicationID == "" {
		return fail("application id is required")
	}
	if p.StreamThreads <= 0 {
		return fail("stream threads must be positive")
	}
	if _, err := ParseOffsetReset(string(p.AutoOffsetReset)); err != nil {
		return err
	}
	if !message.ValidSerde(p.KeySerde) || !message.ValidSerde(p.ValueSerde) {
		return fail("unknown serde")
	}
	return nil
}

func (p Properties) withDefaults() Properties {
	if p.TimestampExtractor == nil {
		p.TimestampExtractor = IngestionTimeExtractor
	}
	if p.CloseTimeout <= 0 {
		p.CloseTimeout = 30 * time.Second
	}
	if p.BufferedRecords <= 0 {
		p.BufferedRecords = 1000
	}
	return p
}

// queueSize splits the buffered record budget across stream threads
func (p Properties) queueSize() int {
	n := p.BufferedRecords / max(p.StreamThreads, 1)
	return max(n, 1)
}
