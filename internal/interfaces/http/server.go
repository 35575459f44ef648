package http

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"log/slog"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/chatwatch/backend/internal/infrastructure/config"
	"github.com/chatwatch/backend/internal/infrastructure/log"
	"github.com/chatwatch/backend/internal/infrastructure/singleton"
	"github.com/chatwatch/backend/internal/interfaces/http/handler"
	"github.com/chatwatch/backend/internal/interfaces/http/middleware"
	"github.com/chatwatch/backend/internal/interfaces/mcp"

	_ "github.com/chatwatch/backend/docs" // Swagger docs
)

// HTTPServer HTTP 服务器
type HTTPServer struct {
	router   *gin.Engine
	httpPort string
	server   *http.Server
	logger   *slog.Logger
}

// NewServer 创建 HTTP 服务器
func NewServer(
	cfg *config.ServerConfig,
	monitorHandler *handler.MonitorHandler,
	eventsHandler *handler.EventsHandler,
	mcpServer *mcp.MCPServer,
) *HTTPServer {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestID())

	logger := log.NewModuleLogger("http", "server")

	// 注册路由
	api := router.Group("/api/v1")
	{
		api.GET("/conversations", monitorHandler.ListConversations)
		api.POST("/conversations/:id/reactivate", monitorHandler.Reactivate)
		api.GET("/conversations/:id/members", monitorHandler.ConversationMembers)
		api.GET("/users/:id/conversations", monitorHandler.UserConversations)
		api.GET("/report", monitorHandler.Report)
		api.GET("/clusters", monitorHandler.Clusters)

		api.GET("/messages/urgent", monitorHandler.UrgentMessages)
		api.POST("/messages/similar", monitorHandler.SimilarMessages)

		api.POST("/cycles", monitorHandler.TriggerCycle)
		api.GET("/cycles/status", monitorHandler.CycleStatus)

		api.GET("/events/ws", eventsHandler.Stream)
	}

	// 健康检查（单例锁依赖此端点）
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, singleton.NewHealth(mcp.Version))
	})

	// Swagger UI
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// MCP SSE 端点
	if mcpServer != nil {
		router.Any("/mcp/sse", gin.WrapH(mcpServer.GetHandler()))
	}

	return &HTTPServer{
		router:   router,
		httpPort: cfg.HTTPPort,
		logger:   logger,
	}
}

// Handler 返回路由（测试使用）
func (s *HTTPServer) Handler() http.Handler {
	return s.router
}

// Addr 监听地址
func (s *HTTPServer) Addr() string {
	return s.httpPort
}

// Serve 在已持有的 listener 上提供服务；listener 为 nil 时自行监听
func (s *HTTPServer) Serve(listener net.Listener) error {
	s.server = &http.Server{
		Addr:              s.httpPort,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("HTTP server starting",
		"port", s.httpPort,
	)

	var err error
	if listener != nil {
		err = s.server.Serve(listener)
	} else {
		err = s.server.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown 优雅关闭
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// Stop 停止服务器
func (s *HTTPServer) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.Shutdown(ctx)
}
