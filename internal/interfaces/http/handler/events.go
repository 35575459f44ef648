package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/chatwatch/backend/internal/infrastructure/websocket"
)

// EventsHandler 事件推送处理器
type EventsHandler struct {
	hub *websocket.Hub
}

// NewEventsHandler 创建事件推送处理器
func NewEventsHandler(hub *websocket.Hub) *EventsHandler {
	return &EventsHandler{hub: hub}
}

// Stream 升级为 WebSocket 并推送监控事件
// GET /api/v1/events/ws
func (h *EventsHandler) Stream(c *gin.Context) {
	h.hub.ServeWS(c.Writer, c.Request)
}
