// Package handlers provides the HTTP handlers of the agent gateway.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/oremus-labs/agent-dispatch/internal/chat"
	"github.com/oremus-labs/agent-dispatch/internal/events"
	"github.com/oremus-labs/agent-dispatch/internal/logutil"
	"github.com/oremus-labs/agent-dispatch/internal/metrics"
	"github.com/oremus-labs/agent-dispatch/internal/openapi"
	"github.com/oremus-labs/agent-dispatch/internal/queue"
)

// Status values returned by SendMessage.
const (
	StatusQueued = "queued"
	StatusOK     = "ok"
)

// Options configures handler runtime behavior.
type Options struct {
	Logger *zap.SugaredLogger
	// Heartbeat is the SSE keep-alive interval.
	Heartbeat time.Duration
}

type messageProcessor interface {
	Process(ctx context.Context, msg *chat.Message) error
}

type eventSubscriber interface {
	Subscribe(ctx context.Context, channel string) (<-chan events.Event, func())
}

// Handler encapsulates dependencies for HTTP handlers.
type Handler struct {
	proc  messageProcessor
	queue queue.Enqueuer
	bus   eventSubscriber
	log   *zap.SugaredLogger
	opts  Options
}

// New creates a Handler. A non-nil enq switches send_message to offload mode.
// bus may be nil when dev-mode streaming is off.
func New(proc messageProcessor, enq queue.Enqueuer, bus eventSubscriber, opts Options) *Handler {
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = 15 * time.Second
	}
	return &Handler{
		proc:  proc,
		queue: enq,
		bus:   bus,
		log:   logutil.OrNop(opts.Logger),
		opts:  opts,
	}
}

// Health returns the health status of the service.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// OpenAPISpec serves the OpenAPI document, as YAML when ?format=yaml.
func (h *Handler) OpenAPISpec(c *gin.Context) {
	if c.Query("format") == "yaml" {
		c.Data(http.StatusOK, "application/yaml", openapi.YAML())
		return
	}
	doc, err := openapi.JSON()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "application/json", doc)
}

type sendMessageResponse struct {
	Status       string `json:"status"`
	ResponseUUID string `json:"response_uuid"`
}

// SendMessage offloads the payload when a queue is configured and otherwise
// processes it before responding.
func (h *Handler) SendMessage(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	msg, err := chat.Parse(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	mode := "awaited"
	if h.queue != nil {
		mode = StatusQueued
	}
	requestID, _ := c.Get("requestID")
	log := h.log.With("response_uuid", msg.ResponseUUID, "request_id", requestID)
	log.Infow("send_message received", "mode", mode, "thread_id", msg.ThreadID, "stream_override", msg.HasStreamOverride())

	if h.queue != nil {
		// The validated body is queued as received so provider-specific fields survive.
		id, err := h.queue.Enqueue(c.Request.Context(), raw)
		metrics.ObserveSendMessage(mode, err == nil)
		if err != nil {
			log.Errorw("Failed to enqueue message", "error", err, "backend", h.queue.Backend())
			c.JSON(http.StatusBadGateway, gin.H{"error": "failed to enqueue message", "response_uuid": msg.ResponseUUID})
			return
		}
		log.Infow("Message queued", "backend", h.queue.Backend(), "message_id", id)
		c.JSON(http.StatusOK, sendMessageResponse{Status: StatusQueued, ResponseUUID: msg.ResponseUUID})
		return
	}

	err = h.proc.Process(c.Request.Context(), msg)
	metrics.ObserveSendMessage(mode, err == nil)
	if err != nil {
		log.Errorw("Failed to process message", "error", err)
		status := http.StatusInternalServerError
		if errors.Is(err, chat.ErrInvalidPayload) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": err.Error(), "response_uuid": msg.ResponseUUID})
		return
	}
	c.JSON(http.StatusOK, sendMessageResponse{Status: StatusOK, ResponseUUID: msg.ResponseUUID})
}
