package config

import (
	"fmt"
	"path/filepath"
	"time"

	applog "github.com/chatwatch/backend/internal/infrastructure/log"
)

// Config 应用配置
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Inference InferenceConfig `yaml:"inference"`
	Vector    VectorConfig    `yaml:"vector"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Fetch     FetchConfig     `yaml:"fetch"`
	Detector  DetectorConfig  `yaml:"detector"`
	Members   MembersConfig   `yaml:"members"`
	Log       applog.Config   `yaml:"log"`

	// path 配置文件路径（可能为空）
	path string
}

// ServerConfig 状态 API 配置
type ServerConfig struct {
	HTTPPort  string `yaml:"http_port"` // 固定端口，同时用于单例锁
	Advertise bool   `yaml:"advertise"` // 是否通过 mDNS 广播状态 API
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// WebSocketConfig WebSocket 配置
type WebSocketConfig struct {
	ReadBufferSize  int `yaml:"read_buffer_size"`
	WriteBufferSize int `yaml:"write_buffer_size"`
}

// TelegramConfig 远端协议配置
type TelegramConfig struct {
	AppID       int    `yaml:"app_id"`
	AppHash     string `yaml:"app_hash"`
	SessionPath string `yaml:"session_path"`
}

// InferenceConfig 推理服务配置（OpenAI 兼容接口，默认指向本地 Ollama）
type InferenceConfig struct {
	BaseURL          string        `yaml:"base_url"`
	APIKey           string        `yaml:"api_key"`
	ChatModel        string        `yaml:"chat_model"`
	EmbeddingModel   string        `yaml:"embedding_model"`
	MaxPromptTokens  int           `yaml:"max_prompt_tokens"`
	MaxMessageTokens int           `yaml:"max_message_tokens"`
	Timeout          time.Duration `yaml:"timeout"`
	Concurrency      int           `yaml:"concurrency"`
}

// VectorConfig Qdrant 配置
type VectorConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	Collection string `yaml:"collection"`
}

// SchedulerConfig 调度配置
type SchedulerConfig struct {
	Interval            time.Duration `yaml:"interval"`
	Workers             int           `yaml:"workers"`
	ConversationTimeout time.Duration `yaml:"conversation_timeout"`
}

// FetchConfig 拉取配置
type FetchConfig struct {
	RequestTimeout     time.Duration `yaml:"request_timeout"`
	BackoffBase        time.Duration `yaml:"backoff_base"`
	BackoffCap         time.Duration `yaml:"backoff_cap"`
	BackoffMaxAttempts int           `yaml:"backoff_max_attempts"`
	QuietPeriod        time.Duration `yaml:"quiet_period"`
}

// DetectorConfig 重复话题检测配置
type DetectorConfig struct {
	Threshold float64 `yaml:"threshold"`
}

// MembersConfig 成员同步配置
type MembersConfig struct {
	Enabled         bool          `yaml:"enabled"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	PageSize        int           `yaml:"page_size"`
	Profiles        int           `yaml:"profiles"`
}

// NewConfig 创建配置（默认值）
func NewConfig() *Config {
	dataDir := GetDataDir()
	return &Config{
		Server: ServerConfig{
			HTTPPort: ":19970",
		},
		Database: DatabaseConfig{
			Path: filepath.Join(dataDir, "telegram_monitor.db"),
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		Telegram: TelegramConfig{
			SessionPath: filepath.Join(dataDir, "telegram.session"),
		},
		Inference: InferenceConfig{
			BaseURL:          "http://localhost:11434/v1",
			APIKey:           "ollama",
			ChatModel:        "mistral-small:latest",
			EmbeddingModel:   "mxbai-embed-large",
			MaxPromptTokens:  6000,
			MaxMessageTokens: 512,
			Timeout:          2 * time.Minute,
			Concurrency:      2,
		},
		Vector: VectorConfig{
			Enabled:    false,
			Host:       "localhost",
			Port:       6334,
			Collection: "chat_messages",
		},
		Scheduler: SchedulerConfig{
			Interval: 30 * time.Minute,
			Workers:  4,
		},
		Fetch: FetchConfig{
			RequestTimeout:     5 * time.Second,
			BackoffBase:        2 * time.Second,
			BackoffCap:         5 * time.Minute,
			BackoffMaxAttempts: 5,
			QuietPeriod:        2 * time.Second,
		},
		Detector: DetectorConfig{
			Threshold: 0.85,
		},
		Members: MembersConfig{
			Enabled:         true,
			RefreshInterval: 24 * time.Hour,
			PageSize:        200,
			Profiles:        20,
		},
		Log: *applog.DefaultConfig(),
	}
}

// Path 返回加载时使用的配置文件路径
func (c *Config) Path() string {
	return c.path
}

// EffectiveConversationTimeout 单个会话的超时时间
// 不小于 单页条数 × 单次请求超时
func (c *Config) EffectiveConversationTimeout(pageSize int) time.Duration {
	floor := time.Duration(pageSize) * c.Fetch.RequestTimeout
	if c.Scheduler.ConversationTimeout < floor {
		return floor
	}
	return c.Scheduler.ConversationTimeout
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be positive")
	}
	if c.Scheduler.Workers <= 0 {
		return fmt.Errorf("scheduler.workers must be positive")
	}
	if c.Inference.Concurrency <= 0 {
		return fmt.Errorf("inference.concurrency must be positive")
	}
	if c.Detector.Threshold <= 0 || c.Detector.Threshold > 1 {
		return fmt.Errorf("detector.threshold must be in (0, 1], got %v", c.Detector.Threshold)
	}
	if c.Fetch.BackoffBase <= 0 || c.Fetch.BackoffCap < c.Fetch.BackoffBase {
		return fmt.Errorf("fetch backoff must satisfy 0 < base <= cap")
	}
	if c.Fetch.RequestTimeout <= 0 {
		return fmt.Errorf("fetch.request_timeout must be positive")
	}
	if c.Fetch.QuietPeriod < 0 {
		return fmt.Errorf("fetch.quiet_period must not be negative")
	}
	return nil
}

// ValidateTelegram 校验远端协议凭据（仅运行模式需要）
func (c *Config) ValidateTelegram() error {
	if c.Telegram.AppID == 0 || c.Telegram.AppHash == "" {
		return fmt.Errorf("telegram credentials missing: set TG_ID and TG_HASH")
	}
	if c.Telegram.SessionPath == "" {
		return fmt.Errorf("telegram.session_path is required")
	}
	return nil
}

// NewDatabaseConfig 创建数据库配置
func NewDatabaseConfig(cfg *Config) *DatabaseConfig {
	return &cfg.Database
}

// NewServerConfig 创建服务器配置
func NewServerConfig(cfg *Config) *ServerConfig {
	return &cfg.Server
}

// NewTelegramConfig 创建远端协议配置
func NewTelegramConfig(cfg *Config) *TelegramConfig {
	return &cfg.Telegram
}

// NewInferenceConfig 创建推理配置
func NewInferenceConfig(cfg *Config) *InferenceConfig {
	return &cfg.Inference
}

// NewVectorConfig 创建向量索引配置
func NewVectorConfig(cfg *Config) *VectorConfig {
	return &cfg.Vector
}

// NewWebSocketConfig 创建 WebSocket 配置
func NewWebSocketConfig(cfg *Config) *WebSocketConfig {
	return &cfg.WebSocket
}
