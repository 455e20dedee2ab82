// Package sinktest provides a recording sink.Publisher for tests.
package sinktest

import (
	"context"
	"errors"
	"sync"

	"github.com/oremus-labs/agent-dispatch/internal/sink"
)

// ErrRejected is returned by a Recorder configured to fail.
var ErrRejected = errors.New("rejected by recorder")

// Call is one recorded publish.
type Call struct {
	Type string
	Dest sink.Destination
	Ref  sink.Ref
	Text string
	Meta sink.Metadata
}

// Recorder records every publish. FailChunks and FailComplete make the
// matching calls return an error wrapping sink.ErrDelivery.
type Recorder struct {
	*sink.Defaults

	mu           sync.Mutex
	calls        []Call
	FailChunks   bool
	FailComplete bool
}

var _ sink.Publisher = (*Recorder)(nil)

// New returns a Recorder with the given default destination.
func New(url, token string) *Recorder {
	return &Recorder{Defaults: sink.NewDefaults(url, token)}
}

func (r *Recorder) record(c Call, fail bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, c)
	if fail {
		return errors.Join(sink.ErrDelivery, ErrRejected)
	}
	return nil
}

// SendChunk implements sink.Publisher.
func (r *Recorder) SendChunk(_ context.Context, dest sink.Destination, ref sink.Ref, text string) error {
	return r.record(Call{Type: sink.TypeChunk, Dest: dest, Ref: ref, Text: text}, r.FailChunks)
}

// Complete implements sink.Publisher.
func (r *Recorder) Complete(_ context.Context, dest sink.Destination, ref sink.Ref, fullText string, meta sink.Metadata) error {
	return r.record(Call{Type: sink.TypeComplete, Dest: dest, Ref: ref, Text: fullText, Meta: meta}, r.FailComplete)
}

// Error implements sink.Publisher.
func (r *Recorder) Error(_ context.Context, dest sink.Destination, ref sink.Ref, message string) error {
	return r.record(Call{Type: sink.TypeError, Dest: dest, Ref: ref, Text: message}, false)
}

// Calls returns a copy of the recorded calls.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Call, len(r.calls))
	copy(out, r.calls)
	return out
}

// Filter returns the calls of one type, optionally for one response id.
func (r *Recorder) Filter(kind, responseID string) []Call {
	var out []Call
	for _, c := range r.Calls() {
		if c.Type != kind {
			continue
		}
		if responseID != "" && c.Ref.ResponseID != responseID {
			continue
		}
		out = append(out, c)
	}
	return out
}
