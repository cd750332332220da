package handlers

import (
	"encoding/json"
	"io"

	"github.com/gin-gonic/gin"

	"afriverse/core/internal/realtime"
)

// SyncHandler relays per-user invalidation events over Server-Sent Events.
// Clients refetch the named resource when an event arrives; the stream
// carries no payload beyond resource identity.
type SyncHandler struct {
	notifier realtime.Notifier
}

// NewSyncHandler creates a new SyncHandler.
func NewSyncHandler(notifier realtime.Notifier) *SyncHandler {
	return &SyncHandler{notifier: notifier}
}

// Stream handles GET /v1/sync.
func (h *SyncHandler) Stream(c *gin.Context) {
	userID, ok := mustUserID(c)
	if !ok {
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	events, cancel := h.notifier.Subscribe(c.Request.Context(), userID.String())
	defer cancel()

	// Initial comment so proxies flush the response headers immediately.
	c.Writer.WriteString(": connected\n\n")
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case event, open := <-events:
			if !open {
				return false
			}
			payload, err := json.Marshal(event)
			if err != nil {
				return true
			}
			c.SSEvent("sync", string(payload))
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
