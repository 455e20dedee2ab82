package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/oremus-labs/agent-dispatch/internal/logutil"
)

// Options configure the Centrifugo client.
type Options struct {
	URL        string
	Token      string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *zap.SugaredLogger
}

// Client publishes through the Centrifugo server HTTP API.
type Client struct {
	*Defaults
	http *http.Client
	log  *zap.SugaredLogger
}

var _ Publisher = (*Client)(nil)

// NewClient builds a Centrifugo publisher.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		Defaults: NewDefaults(opts.URL, opts.Token),
		http:     httpClient,
		log:      logutil.OrNop(opts.Logger),
	}
}

type publishRequest struct {
	Channel string   `json:"channel"`
	Data    Envelope `json:"data"`
}

type publishReply struct {
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// SendChunk publishes one fragment.
func (c *Client) SendChunk(ctx context.Context, dest Destination, ref Ref, text string) error {
	return c.publish(ctx, dest, ref, newEnvelope(TypeChunk, ref, text))
}

// Complete publishes the terminal message with the full text.
func (c *Client) Complete(ctx context.Context, dest Destination, ref Ref, fullText string, meta Metadata) error {
	env := newEnvelope(TypeComplete, ref, fullText)
	env.Metadata = &meta
	return c.publish(ctx, dest, ref, env)
}

// Error publishes an error notification for the stream.
func (c *Client) Error(ctx context.Context, dest Destination, ref Ref, message string) error {
	return c.publish(ctx, dest, ref, newEnvelope(TypeError, ref, message))
}

func (c *Client) publish(ctx context.Context, dest Destination, ref Ref, env Envelope) error {
	if dest.URL == "" {
		return fmt.Errorf("%w: no stream url configured", ErrDelivery)
	}
	channel := ref.Channel
	if channel == "" {
		channel = ref.ResponseID
	}
	body, err := json.Marshal(publishRequest{Channel: channel, Data: env})
	if err != nil {
		return fmt.Errorf("marshal publish request: %w", err)
	}

	endpoint := strings.TrimRight(dest.URL, "/") + "/publish"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if dest.Token != "" {
		req.Header.Set("X-API-Key", dest.Token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: %s returned %s", ErrDelivery, endpoint, resp.Status)
	}
	if len(raw) > 0 {
		var reply publishReply
		if err := json.Unmarshal(raw, &reply); err == nil && reply.Error != nil {
			return fmt.Errorf("%w: centrifugo error %d: %s", ErrDelivery, reply.Error.Code, reply.Error.Message)
		}
	}
	c.log.Debugw("Published stream event", "type", env.Type, "channel", channel, "response_uuid", ref.ResponseID)
	return nil
}
