package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	appMonitor "github.com/chatwatch/backend/internal/application/monitor"
	"github.com/chatwatch/backend/internal/application/review"
	"github.com/chatwatch/backend/internal/infrastructure/clock"
	"github.com/chatwatch/backend/internal/infrastructure/config"
	applog "github.com/chatwatch/backend/internal/infrastructure/log"
	"github.com/chatwatch/backend/internal/infrastructure/singleton"
	"github.com/chatwatch/backend/internal/infrastructure/storage"
	"github.com/chatwatch/backend/internal/infrastructure/telegram"
	"github.com/chatwatch/backend/internal/wire"
)

// loadConfig 加载配置并初始化日志
// 报告写 stdout 的模式把日志改写到 stderr
func loadConfig(path string, quiet bool) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	logCfg := cfg.Log
	if quiet && (logCfg.Output == "" || logCfg.Output == "stdout") {
		logCfg.Output = "stderr"
	}
	applog.Init(&logCfg)
	return cfg, nil
}

// runServe 常驻模式：调度循环 + HTTP/MCP 接口
func runServe(configPath string) error {
	cfg, err := loadConfig(configPath, false)
	if err != nil {
		return err
	}
	logger := applog.GetLogger()

	// 端口即进程锁
	listener, err := singleton.Acquire(cfg.Server.HTTPPort)
	if errors.Is(err, singleton.ErrAlreadyRunning) {
		logger.Info("Another instance is already running, exiting", "addr", cfg.Server.HTTPPort)
		return nil
	}
	if err != nil {
		return fmt.Errorf("singleton check failed: %w", err)
	}

	app, cleanup, err := wire.InitializeAll(cfg)
	if err != nil {
		listener.Close()
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer cleanup()

	if err := app.Start(listener); err != nil {
		listener.Close()
		return fmt.Errorf("failed to start application: %w", err)
	}

	// 优雅关闭
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	logger.Info("Shutting down application...")
	if err := app.Stop(); err != nil {
		logger.Error("Error during application shutdown",
			"error", err,
		)
		return err
	}
	logger.Info("Application stopped")
	return nil
}

// runOnce 执行一个周期后退出
func runOnce(ctx context.Context, configPath string) error {
	cfg, err := loadConfig(configPath, false)
	if err != nil {
		return err
	}

	app, cleanup, err := wire.InitializeAll(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	report, err := app.RunOnce(ctx)
	if report != nil {
		fetched, analyzed, failed := report.Totals()
		applog.GetLogger().Info("Cycle finished",
			"cycle_id", report.ID,
			"conversations", report.Conversations,
			"fetched", fetched,
			"analyzed", analyzed,
			"failed", failed,
			"clusters", len(report.Clusters),
		)
	}
	return err
}

// runReview 只读模式：读取本地数据库输出报告，不访问网络
func runReview(ctx context.Context, configPath string, out io.Writer) error {
	cfg, err := loadConfig(configPath, true)
	if err != nil {
		return err
	}

	db, err := storage.OpenReadOnly(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	rt := appMonitor.NewRuntime(
		storage.NewConversationRepository(db),
		storage.NewMessageRepository(db),
		storage.NewMemberRepository(db),
		storage.NewEventRepository(db),
		nil, nil, nil,
		clock.NewReal(),
		nil,
	)
	detector := appMonitor.NewDetector(rt, cfg.Detector.Threshold)
	svc := review.NewService(rt.Conversations, rt.Messages, rt.Members, rt.Events, detector, rt.Clock)

	report, err := svc.Build(ctx)
	if err != nil {
		return err
	}
	return review.Render(out, report)
}

// newLoginCmd 交互式登录，保存会话供后续运行使用
func newLoginCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Sign in to Telegram interactively and store the session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts.configPath, true)
			if err != nil {
				return err
			}
			if err := cfg.ValidateTelegram(); err != nil {
				return err
			}
			return telegram.Login(cmd.Context(), &cfg.Telegram, os.Stdin, cmd.OutOrStdout())
		},
	}
}
