// Package sink delivers streamed response chunks and completions to the
// real-time channel that clients subscribe to.
package sink

import (
	"context"
	"errors"
	"sync"
)

// ErrDelivery is returned when the destination is unreachable or rejects a publish.
var ErrDelivery = errors.New("stream delivery failed")

// Event types carried in Envelope.Type.
const (
	TypeChunk    = "chunk"
	TypeComplete = "complete"
	TypeError    = "error"
)

// Destination is the publish endpoint and credential used for one request.
type Destination struct {
	URL   string
	Token string
}

// Ref identifies the logical stream a publish belongs to.
type Ref struct {
	ResponseID string
	Channel    string
	ThreadID   string
	MessageID  string
}

// Metadata accompanies the completion message.
type Metadata struct {
	ChunksSent  int    `json:"chunks_sent"`
	ChunksTotal int    `json:"chunks_total"`
	Truncated   bool   `json:"truncated"`
	Error       string `json:"error,omitempty"`
}

// Envelope is the data published for every chunk, completion and error.
type Envelope struct {
	Type         string    `json:"type"`
	ResponseUUID string    `json:"response_uuid"`
	ThreadID     string    `json:"thread_id,omitempty"`
	MessageUUID  string    `json:"message_uuid,omitempty"`
	Content      string    `json:"content"`
	Metadata     *Metadata `json:"metadata,omitempty"`
}

func newEnvelope(kind string, ref Ref, content string) Envelope {
	return Envelope{
		Type:         kind,
		ResponseUUID: ref.ResponseID,
		ThreadID:     ref.ThreadID,
		MessageUUID:  ref.MessageID,
		Content:      content,
	}
}

// Publisher is implemented by every sink.
type Publisher interface {
	// Resolve merges a per-request override over the process defaults.
	Resolve(override Destination) Destination
	SendChunk(ctx context.Context, dest Destination, ref Ref, text string) error
	Complete(ctx context.Context, dest Destination, ref Ref, fullText string, meta Metadata) error
	Error(ctx context.Context, dest Destination, ref Ref, message string) error
}

// Defaults holds the process-wide default destination. Requests never mutate
// it; they resolve their own Destination value from it.
type Defaults struct {
	mu   sync.RWMutex
	dest Destination
}

// NewDefaults returns Defaults seeded with url and token.
func NewDefaults(url, token string) *Defaults {
	return &Defaults{dest: Destination{URL: url, Token: token}}
}

// Reconfigure replaces the default destination for every later Resolve.
func (d *Defaults) Reconfigure(url, token string) {
	d.mu.Lock()
	d.dest = Destination{URL: url, Token: token}
	d.mu.Unlock()
}

// Current returns the default destination.
func (d *Defaults) Current() Destination {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.dest
}

// Resolve returns the destination for one request; non-empty override
// fields win over the defaults.
func (d *Defaults) Resolve(override Destination) Destination {
	dest := d.Current()
	if override.URL != "" {
		dest.URL = override.URL
	}
	if override.Token != "" {
		dest.Token = override.Token
	}
	return dest
}
