package sse

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
)

// StreamResponse 把订阅者收到的事件写成 SSE 流, 直到客户端断开
func StreamResponse(c *gin.Context, client *Client, hub *Hub, keepAliveInterval time.Duration) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	hub.Register(client)
	defer hub.Unregister(client)

	connectedEvent := Event{
		Type: EventConnected,
		Data: map[string]any{
			"client_id": client.ID,
			"resource":  client.Resource,
		},
	}
	if _, err := fmt.Fprint(c.Writer, connectedEvent.FormatSSE()); err != nil {
		return
	}
	c.Writer.Flush()

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	clientGone := c.Request.Context().Done()

	for {
		select {
		case <-clientGone:
			return

		case event, ok := <-client.Channel:
			if !ok {
				return
			}
			if _, err := fmt.Fprint(c.Writer, event.FormatSSE()); err != nil {
				return
			}
			c.Writer.Flush()

		case <-ticker.C:
			if _, err := fmt.Fprint(c.Writer, ": heartbeat\n\n"); err != nil {
				return
			}
			c.Writer.Flush()
		}
	}
}
