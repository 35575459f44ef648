package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/chatwatch/backend/internal/infrastructure/config"
	"github.com/chatwatch/backend/internal/infrastructure/websocket"
	"github.com/chatwatch/backend/internal/interfaces/http/handler"
	"github.com/chatwatch/backend/internal/interfaces/http/middleware"
)

func newTestServer() *HTTPServer {
	gin.SetMode(gin.TestMode)
	return NewServer(
		&config.ServerConfig{HTTPPort: ":0"},
		handler.NewMonitorHandler(nil, nil, nil, nil, nil, nil),
		handler.NewEventsHandler(websocket.NewHub()),
		nil,
	)
}

func TestServer_Health(t *testing.T) {
	s := newTestServer()

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
	assert.Contains(t, w.Body.String(), `"service":"chatwatch"`, "单例锁据此识别实例")
	assert.NotEmpty(t, w.Header().Get(middleware.HeaderRequestID))
}

func TestServer_RequestIDPropagates(t *testing.T) {
	s := newTestServer()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(middleware.HeaderRequestID, "req-123")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	assert.Equal(t, "req-123", w.Header().Get(middleware.HeaderRequestID))
}

func TestServer_SwaggerDoc(t *testing.T) {
	s := newTestServer()

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/swagger/doc.json", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "/messages/similar")
}

func TestServer_UnknownRoute(t *testing.T) {
	s := newTestServer()

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/nope", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, ":0", s.Addr())
}
