package testutil

import (
	"context"
	"sync"

	"github.com/Aishwarya-Atre-1/ziggurat/message"
)

// Recorder is a handler that records every message it receives
type Recorder struct {
	mu       sync.Mutex
	messages []*message.Message
	contexts []context.Context

	// Err, when set, is returned for every message
	Err error
	// Panic, when set, makes the handler panic with this value
	Panic any
}

// NewRecorder creates an empty recorder
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Handle implements message.HandlerFunc
func (r *Recorder) Handle(ctx context.Context, msg *message.Message) error {
	r.mu.Lock()
	r.messages = append(r.messages, msg)
	r.contexts = append(r.contexts, ctx)
	err, p := r.Err, r.Panic
	r.mu.Unlock()

	if p != nil {
		panic(p)
	}
	return err
}

// Messages returns a copy of the recorded messages
func (r *Recorder) Messages() []*message.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*message.Message(nil), r.messages...)
}

// Contexts returns the contexts the handler was called with
func (r *Recorder) Contexts() []context.Context {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]context.Context(nil), r.contexts...)
}

// Values returns the recorded message values in arrival order
func (r *Recorder) Values() []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]any, len(r.messages))
	for i, m := range r.messages {
		out[i] = m.Value
	}
	return out
}

// Len returns the number of recorded messages
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}

// SetErr changes the error returned for later messages
func (r *Recorder) SetErr(err error) {
	r.mu.Lock()
	r.Err = err
	r.mu.Unlock()
}

// SetPanic makes later messages panic with v, or stops panicking when v is nil
func (r *Recorder) SetPanic(v any) {
	r.mu.Lock()
	r.Panic = v
	r.mu.Unlock()
}
