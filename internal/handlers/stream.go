package handlers

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/oremus-labs/agent-dispatch/internal/sink"
)

// StreamChannel relays the events of one channel as server-sent events. The
// stream ends after the completion event. Only available in dev mode.
func (h *Handler) StreamChannel(c *gin.Context) {
	if h.bus == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "streaming endpoint is only available in dev mode"})
		return
	}
	channel := c.Param("channel")
	if channel == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "channel is required"})
		return
	}

	ctx := c.Request.Context()
	sub, cancel := h.bus.Subscribe(ctx, channel)
	defer cancel()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent("ready", gin.H{"channel": channel})
	c.Writer.Flush()

	heartbeat := time.NewTicker(h.opts.Heartbeat)
	defer heartbeat.Stop()

	h.log.Debugw("SSE client attached", "channel", channel)
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case <-heartbeat.C:
			c.SSEvent("ping", gin.H{"ts": time.Now().UTC()})
			return true
		case evt, ok := <-sub:
			if !ok {
				return false
			}
			c.SSEvent(evt.Type, string(evt.Data))
			return evt.Type != sink.TypeComplete
		}
	})
	h.log.Debugw("SSE client detached", "channel", channel)
}
