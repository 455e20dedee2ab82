// Package chat defines the request payload accepted by every trigger path.
package chat

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// ErrInvalidPayload is returned when a body cannot be turned into a Message.
var ErrInvalidPayload = errors.New("invalid chat message payload")

//go:embed schema.json
var schemaJSON []byte

var loadSchema = sync.OnceValues(func() (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schemaJSON))
})

// Variable is a caller supplied name/value pair (API keys, feature switches).
type Variable struct {
	Name  string `json:"name"`
	Value string `json:"value,omitempty"`
}

// Message is the request payload. ResponseUUID is supplied by the caller and
// correlates every chunk and the completion; it is never generated here.
type Message struct {
	Message        string     `json:"message"`
	ResponseUUID   string     `json:"response_uuid"`
	MessageUUID    string     `json:"message_uuid,omitempty"`
	ThreadID       string     `json:"thread_id,omitempty"`
	Model          string     `json:"model,omitempty"`
	ConversationID *int64     `json:"conversation_id,omitempty"`
	Channel        string     `json:"channel,omitempty"`
	URL            string     `json:"url,omitempty"`
	ProjectUUID    string     `json:"project_uuid,omitempty"`
	Variables      []Variable `json:"variables,omitempty"`

	// Optional per-request override of the streaming destination.
	StreamURL   string `json:"stream_url,omitempty"`
	StreamToken string `json:"stream_token,omitempty"`
}

// Parse validates data against the payload schema and decodes it.
func Parse(data []byte) (*Message, error) {
	schema, err := loadSchema()
	if err != nil {
		return nil, fmt.Errorf("load payload schema: %w", err)
	}
	result, err := schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}
		return nil, fmt.Errorf("%w: %s", ErrInvalidPayload, strings.Join(problems, "; "))
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return &msg, nil
}

// HasStreamOverride reports whether the payload carries its own destination.
func (m *Message) HasStreamOverride() bool {
	return m.StreamURL != "" || m.StreamToken != ""
}

// StreamChannel is the channel chunks are published on. Callers that do not
// name a channel get one per response.
func (m *Message) StreamChannel() string {
	if m.Channel != "" {
		return m.Channel
	}
	return m.ResponseUUID
}

// Variable returns the value of the named variable, or "".
func (m *Message) Variable(name string) string {
	for _, v := range m.Variables {
		if v.Name == name {
			return v.Value
		}
	}
	return ""
}
