package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/chatwatch/backend/internal/infrastructure/log/handler"
)

// ServiceName 每条日志携带的服务标识
const ServiceName = "chatwatch"

// 全局 logger 实例
var (
	mu            sync.RWMutex
	defaultLogger *slog.Logger
	levelVar      = new(slog.LevelVar)
	outputFile    *os.File
)

// Init 初始化日志系统
func Init(cfg *Config) {
	if cfg == nil {
		cfg = DefaultConfig()
		cfg.ApplyEnv()
	}

	mu.Lock()
	defer mu.Unlock()

	levelVar.Set(parseLevel(cfg.Level))

	opts := &slog.HandlerOptions{
		Level:     levelVar,
		AddSource: cfg.AddSource,
	}

	out, isFile := openOutput(cfg.Output)

	// 根据格式选择处理器
	var logHandler slog.Handler
	if cfg.JSON() {
		logHandler = slog.NewJSONHandler(out, opts)
	} else {
		logHandler = handler.NewConsoleHandler(out, opts, cfg.Colored(isFile))
	}

	defaultLogger = slog.New(logHandler.WithAttrs([]slog.Attr{
		slog.String("service", ServiceName),
	}))

	slog.SetDefault(defaultLogger)
}

// openOutput 解析输出目标，失败时回退到 stdout
func openOutput(output string) (io.Writer, bool) {
	if outputFile != nil {
		outputFile.Close()
		outputFile = nil
	}

	switch {
	case output == "" || output == "stdout":
		return os.Stdout, false
	case output == "stderr":
		return os.Stderr, false
	case strings.HasPrefix(output, "file:"):
		f, err := os.OpenFile(strings.TrimPrefix(output, "file:"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return os.Stdout, false
		}
		outputFile = f
		return f, true
	default:
		return os.Stdout, false
	}
}

// GetLogger 获取默认 logger
func GetLogger() *slog.Logger {
	mu.RLock()
	logger := defaultLogger
	mu.RUnlock()

	if logger == nil {
		// 未初始化，使用默认配置
		Init(nil)
		mu.RLock()
		logger = defaultLogger
		mu.RUnlock()
	}
	return logger
}

// With 创建带有额外字段的 logger
func With(args ...any) *slog.Logger {
	return GetLogger().With(args...)
}

// NewModuleLogger 为特定模块创建 logger
func NewModuleLogger(module, component string) *slog.Logger {
	return GetLogger().With(
		slog.String("module", module),
		slog.String("component", component),
	)
}

// SetLevel 运行时调整日志级别（配置热加载时使用）
func SetLevel(level string) {
	levelVar.Set(parseLevel(level))
}

// IsDebugMode 检查是否为调试模式
func IsDebugMode() bool {
	return levelVar.Level() <= slog.LevelDebug
}

// parseLevel 解析日志级别
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
