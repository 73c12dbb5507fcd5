// README: Server-sent events for listen-only live clients.
package handlers

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"trackd/internal/http/middleware"
	"trackd/internal/realtime"
)

type StreamHandler struct {
	hub *realtime.Hub
}

func NewStreamHandler(hub *realtime.Hub) *StreamHandler {
	return &StreamHandler{hub: hub}
}

// Stream registers a connection for the caller, joins its home topics plus
// the comma separated ?topics= list, and relays frames until either side
// goes away.
func (h *StreamHandler) Stream(c *gin.Context) {
	var topics []realtime.Topic
	if raw := c.Query("topics"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			t, err := realtime.ParseTopic(part)
			if err != nil {
				writeDomainError(c, err)
				return
			}
			if err := realtime.CanJoin(middleware.Caller(c), t); err != nil {
				writeDomainError(c, err)
				return
			}
			topics = append(topics, t)
		}
	}

	conn := h.hub.Open(middleware.Caller(c))
	defer h.hub.Close(conn)
	for _, t := range topics {
		if err := h.hub.Join(conn, t); err != nil {
			writeDomainError(c, err)
			return
		}
	}

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.SSEvent("ready", gin.H{"conn_id": conn.ID(), "subject": conn.Identity().SubjectID})
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case <-conn.Done():
			return false
		case f := <-conn.Outbound():
			c.SSEvent(f.Type, string(f.Body))
			return true
		}
	})
}
