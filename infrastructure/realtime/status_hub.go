package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"social-publisher/domain/model"
	"social-publisher/domain/repository"

	"github.com/gin-gonic/gin"
)

var _ repository.IStatusPublisher = (*Hub)(nil)

// Hub keeps per-user SSE subscribers for ledger status events.
type Hub struct {
	mu    sync.RWMutex
	users map[string]map[chan model.StatusEvent]struct{}
}

func NewStatusHub() *Hub {
	return &Hub{users: make(map[string]map[chan model.StatusEvent]struct{})}
}

// Serve streams events for the authenticated user (user_id set by middleware).
func (h *Hub) Serve(c *gin.Context) {
	userID := c.GetString("user_id")
	if userID == "" {
		c.Status(http.StatusUnauthorized)
		return
	}
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no") // disable nginx buffering

	ch := make(chan model.StatusEvent, 8)
	h.subscribe(userID, ch)
	defer h.unsubscribe(userID, ch)

	_, _ = c.Writer.Write([]byte(":ok\n\n"))
	c.Writer.Flush()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case evt := <-ch:
			data, _ := json.Marshal(evt)
			_, _ = c.Writer.Write([]byte("event: " + evt.Type + "\n"))
			_, _ = c.Writer.Write([]byte("data: "))
			_, _ = c.Writer.Write(data)
			_, _ = c.Writer.Write([]byte("\n\n"))
			c.Writer.Flush()
		}
	}
}

// PublishStatus delivers to the owner's subscribers without blocking; slow subscribers miss events.
func (h *Hub) PublishStatus(_ context.Context, evt *model.StatusEvent) error {
	if evt == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.users[evt.UserID] {
		select {
		case ch <- *evt:
		default:
		}
	}
	return nil
}

func (h *Hub) Subscribers(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID])
}

func (h *Hub) subscribe(userID string, ch chan model.StatusEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.users[userID] == nil {
		h.users[userID] = make(map[chan model.StatusEvent]struct{})
	}
	h.users[userID][ch] = struct{}{}
}

func (h *Hub) unsubscribe(userID string, ch chan model.StatusEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if subs := h.users[userID]; subs != nil {
		delete(subs, ch)
		if len(subs) == 0 {
			delete(h.users, userID)
		}
	}
}
