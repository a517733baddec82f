package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const eventHeartbeatInterval = 30 * time.Second

type eventPayload struct {
	Type    string    `json:"type"`
	Mode    string    `json:"mode,omitempty"`
	Message string    `json:"message,omitempty"`
	At      time.Time `json:"at"`
}

// handleEvents streams the account's sync progress as server-sent events.
// Heartbeats keep intermediaries from closing an idle stream.
func (h *httpHandler) handleEvents(c *gin.Context) {
	account := h.ownedAccount(c)
	if account == nil {
		return
	}

	events, cancel := h.dispatcher.Subscribe(c.Request.Context(), account.ID)
	defer cancel()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	heartbeat := time.NewTicker(eventHeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			c.SSEvent(event.Type, eventPayload{
				Type:    event.Type,
				Mode:    string(event.Mode),
				Message: event.Message,
				At:      event.At,
			})
			c.Writer.Flush()
		case <-heartbeat.C:
			c.SSEvent("heartbeat", eventPayload{Type: "heartbeat", At: time.Now().UTC()})
			c.Writer.Flush()
		}
	}
}
