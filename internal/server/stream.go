package server

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/inklingapp/inkling-server/internal/push"
)

// handleStream upgrades an authenticated request to a server-sent-events
// stream. The bearer middleware has already validated the credential (header
// or access_token query parameter) before any byte is streamed.
func (h *httpHandler) handleStream(c *gin.Context) {
	principal, ok := requestPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	if h.streamLimiter != nil && !h.streamLimiter.Allow(principal.ID) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate_limited"})
		return
	}

	channel, err := push.NewChannel(principal.ID)
	if err != nil {
		h.logger.Error("failed to allocate push channel", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stream_unavailable"})
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming_unsupported"})
		return
	}

	header := c.Writer.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)
	flusher.Flush()

	sink := &sseSink{writer: c.Writer, flusher: flusher}
	conn := push.NewStreamConn(push.StreamConnConfig{
		Registry:      h.registry,
		Channel:       channel,
		PulseInterval: h.pulseInterval,
		Logger:        h.logger,
	})
	_ = conn.Run(c.Request.Context(), sink)
}

// sseSink frames push events as SSE ("event:" and "data:" lines) and flushes
// after every write so the client observes events immediately.
type sseSink struct {
	writer  http.ResponseWriter
	flusher http.Flusher
}

func (s *sseSink) WriteEvent(event push.Event) error {
	data, err := event.MarshalData()
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.writer, "event: %s\ndata: %s\n\n", event.Kind, data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
