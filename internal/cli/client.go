package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client wraps gateway API calls.
type Client struct {
	BaseURL string
	Timeout time.Duration
}

// StreamEvent is one server-sent event from the stream endpoint.
type StreamEvent struct {
	Type string
	Data json.RawMessage
}

func (c *Client) do(req *http.Request, target interface{}) error {
	httpClient := &http.Client{Timeout: c.Timeout}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("%s %s failed: %s %s", req.Method, req.URL.Path, resp.Status, strings.TrimSpace(string(body)))
	}
	if target == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(target)
}

// GetJSON performs a GET and decodes the JSON response.
func (c *Client) GetJSON(ctx context.Context, path string, target interface{}) error {
	base := strings.TrimRight(c.BaseURL, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	return c.do(req, target)
}

// PostJSON posts payload as JSON and decodes the JSON response.
func (c *Client) PostJSON(ctx context.Context, path string, payload interface{}, target interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	base := strings.TrimRight(c.BaseURL, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, target)
}

// StreamChannel opens the SSE feed of channel and invokes handler for each
// event. Returning false stops the stream.
func (c *Client) StreamChannel(ctx context.Context, channel string, handler func(StreamEvent) bool) error {
	base := strings.TrimRight(c.BaseURL, "/")
	path := "/api/v1/stream/" + url.PathEscape(channel)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := (&http.Client{}).Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("GET %s failed: %s", path, resp.Status)
	}

	reader := bufio.NewReader(resp.Body)
	var (
		eventType string
		dataLines []string
	)
	dispatch := func() bool {
		if len(dataLines) == 0 {
			eventType = ""
			return true
		}
		evt := StreamEvent{Type: eventType, Data: json.RawMessage(strings.Join(dataLines, "\n"))}
		dataLines = dataLines[:0]
		eventType = ""
		if handler != nil {
			return handler(evt)
		}
		return true
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		line = strings.TrimRight(line, "\r\n")
		switch {
		case line == "":
			if !dispatch() {
				return nil
			}
		case strings.HasPrefix(line, "event:"):
			eventType = strings.TrimSpace(line[len("event:"):])
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimSpace(line[len("data:"):]))
		}
	}
}
