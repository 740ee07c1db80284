package engine

import (
	"context"
	"regexp"

	"github.com/Aishwarya-Atre-1/ziggurat/message"
)

// Record is a message delivered by a source with its acknowledgement
type Record struct {
	Message *message.Message
	Ack     func() error
	Nak     func() error
}

// SourceSpec describes one consumer a pipeline needs
type SourceSpec struct {
	Name    string
	Pattern *regexp.Regexp
	Props   Properties
}

// DeliverFunc hands a record to the pipeline. It blocks under backpressure
// and returns an error when the pipeline no longer accepts records.
type DeliverFunc func(ctx context.Context, rec Record) error

// Subscription is an open consumer
type Subscription interface {
	Stop()
}

// SourceFactory opens consumers for pipelines. onError reports failures that
// end the subscription.
type SourceFactory interface {
	Subscribe(ctx context.Context, spec SourceSpec, deliver DeliverFunc, onError func(error)) (Subscription, error)
}
