package wire

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"

	appMonitor "github.com/chatwatch/backend/internal/application/monitor"
	"github.com/chatwatch/backend/internal/domain/events"
	"github.com/chatwatch/backend/internal/infrastructure/config"
	"github.com/chatwatch/backend/internal/infrastructure/discovery"
	applog "github.com/chatwatch/backend/internal/infrastructure/log"
	"github.com/chatwatch/backend/internal/infrastructure/telegram"
	"github.com/chatwatch/backend/internal/infrastructure/watcher"
	"github.com/chatwatch/backend/internal/infrastructure/websocket"
	httpapi "github.com/chatwatch/backend/internal/interfaces/http"
	"github.com/chatwatch/backend/internal/interfaces/mcp"
)

// pushedEvents 推送给 WebSocket 客户端的事件
var pushedEvents = []events.EventType{
	events.CycleStarted,
	events.CycleCompleted,
	events.CycleSkipped,
	events.ConversationFailed,
	events.AccessStateChanged,
	events.UrgentMessagesFound,
	events.DuplicatesDetected,
	events.ConfigReloaded,
}

// App 应用主结构，组合所有服务
type App struct {
	HTTPServer *httpapi.HTTPServer
	Scheduler  *appMonitor.Scheduler

	cfg        *config.Config
	runtime    *appMonitor.Runtime
	detector   *appMonitor.Detector
	quiet      *appMonitor.QuietPeriod
	protocol   *telegram.Client
	wsHub      *websocket.Hub
	eventBus   events.EventBus
	advertiser *discovery.Advertiser
	db         *sql.DB
	logger     *slog.Logger

	configWatcher *watcher.ConfigWatcher
	cancel        context.CancelFunc
	done          chan struct{}
}

// NewApp 创建应用实例
func NewApp(
	cfg *config.Config,
	httpServer *httpapi.HTTPServer,
	_ *mcp.MCPServer,
	scheduler *appMonitor.Scheduler,
	runtime *appMonitor.Runtime,
	detector *appMonitor.Detector,
	quiet *appMonitor.QuietPeriod,
	protocol *telegram.Client,
	wsHub *websocket.Hub,
	eventBus events.EventBus,
	advertiser *discovery.Advertiser,
	db *sql.DB,
) *App {
	return &App{
		HTTPServer: httpServer,
		Scheduler:  scheduler,
		cfg:        cfg,
		runtime:    runtime,
		detector:   detector,
		quiet:      quiet,
		protocol:   protocol,
		wsHub:      wsHub,
		eventBus:   eventBus,
		advertiser: advertiser,
		db:         db,
		logger:     applog.NewModuleLogger("app", "main"),
		done:       make(chan struct{}),
	}
}

// connect 连接远端并注册资源释放顺序
func (a *App) connect(ctx context.Context) error {
	a.runtime.OnClose(func() error {
		if a.db == nil {
			return nil
		}
		return a.db.Close()
	})
	a.runtime.OnClose(func() error {
		if a.eventBus != nil {
			a.eventBus.Close()
		}
		return nil
	})

	if err := a.cfg.ValidateTelegram(); err != nil {
		return err
	}
	if err := a.protocol.Start(ctx); err != nil {
		return fmt.Errorf("failed to connect to telegram: %w", err)
	}
	// 最后注册，最先执行
	a.runtime.OnClose(func() error {
		a.protocol.Wait()
		return nil
	})
	return nil
}

// Start 启动所有服务
// listener 为单例锁持有的端口，为 nil 时 HTTP 服务器自行监听
func (a *App) Start(listener net.Listener) error {
	a.logger.Info("Starting chatwatch")

	ctx, cancel := context.WithCancel(context.Background())
	if err := a.connect(ctx); err != nil {
		cancel()
		return err
	}
	a.cancel = cancel

	// 注册事件订阅者
	a.setupEventSubscribers()
	a.wsHub.Start()

	// 配置热加载
	if path := a.cfg.Path(); path != "" {
		cw, err := watcher.NewConfigWatcher(path, 0, a.reload, a.eventBus)
		if err != nil {
			a.logger.Error("Failed to create config watcher", "error", err)
		} else if err := cw.Start(); err != nil {
			a.logger.Error("Failed to start config watcher", "error", err)
		} else {
			a.configWatcher = cw
		}
	}

	// 启动 HTTP 服务器（goroutine）
	go func() {
		if err := a.HTTPServer.Serve(listener); err != nil {
			a.logger.Error("Failed to start HTTP server",
				"error", err,
			)
		}
	}()

	if a.cfg.Server.Advertise {
		if err := a.advertiser.Start(a.cfg.Server.HTTPPort, mcp.Version); err != nil {
			a.logger.Warn("mDNS advertisement disabled", "error", err)
		}
	}

	// 启动调度循环
	go func() {
		defer close(a.done)
		if err := a.Scheduler.Run(ctx); err != nil {
			a.logger.Error("Scheduler stopped", "error", err)
		}
	}()

	a.logger.Info("chatwatch started",
		"port", a.HTTPServer.Addr(),
		"interval", a.Scheduler.Interval(),
	)
	return nil
}

// RunOnce 连接远端，执行一个周期后释放资源
func (a *App) RunOnce(ctx context.Context) (*appMonitor.CycleReport, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := a.connect(ctx); err != nil {
		return nil, err
	}
	report, err := a.Scheduler.RunCycle(ctx)
	cancel()
	return report, errors.Join(err, a.runtime.Close())
}

// setupEventSubscribers 注册事件订阅者
func (a *App) setupEventSubscribers() {
	if a.eventBus == nil {
		return
	}
	a.eventBus.SubscribeMultiple(pushedEvents, a.wsHub)
	a.logger.Info("WebSocket hub subscribed to monitor events")
}

// reload 热加载可变配置项，其余配置项需要重启
func (a *App) reload(path string) error {
	next, err := config.Load(path)
	if err != nil {
		return err
	}
	r := config.ReloadableFrom(next)
	a.detector.SetThreshold(r.Threshold)
	a.Scheduler.SetInterval(r.Interval)
	a.quiet.SetInterval(r.QuietPeriod)
	applog.SetLevel(r.LogLevel)
	a.logger.Info("Applied reloadable settings",
		"threshold", r.Threshold,
		"interval", r.Interval,
		"quiet_period", r.QuietPeriod,
		"log_level", r.LogLevel,
	)
	return nil
}

// Stop 停止所有服务
func (a *App) Stop() error {
	a.logger.Info("Stopping chatwatch")

	if a.configWatcher != nil {
		a.configWatcher.Stop()
		a.logger.Info("Config watcher stopped")
	}

	a.advertiser.Stop()

	// 取消调度循环，等待当前周期退出
	if a.cancel != nil {
		a.cancel()
		<-a.done
	}

	var errs []error
	if err := a.HTTPServer.Stop(); err != nil {
		a.logger.Error("Failed to stop HTTP server",
			"error", err,
		)
		errs = append(errs, err)
	}
	a.wsHub.Stop()

	if err := a.runtime.Close(); err != nil {
		a.logger.Error("Failed to release resources",
			"error", err,
		)
		errs = append(errs, err)
	}

	a.logger.Info("chatwatch stopped")
	return errors.Join(errs...)
}
