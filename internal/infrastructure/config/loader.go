package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// 环境变量名
const (
	EnvTelegramID      = "TG_ID"
	EnvTelegramHash    = "TG_HASH"
	EnvOllamaModel     = "OLLAMA_MODEL"
	EnvOllamaEmbedding = "OLLAMA_EMBED_MODEL"
	EnvOllamaURL       = "OLLAMA_URL"
	EnvDatabasePath    = "CHATWATCH_DB"
	EnvHTTPPort        = "CHATWATCH_HTTP_PORT"
	EnvThreshold       = "CHATWATCH_DUPLICATE_THRESHOLD"
	EnvQdrantHost      = "QDRANT_HOST"
)

// DefaultConfigFileName 默认配置文件名
const DefaultConfigFileName = "config.yaml"

// Load 加载配置
// 顺序：默认值 -> YAML 配置文件 -> .env -> 环境变量
// path 为空时尝试数据目录下的 config.yaml，不存在则跳过
func Load(path string) (*Config, error) {
	cfg := NewConfig()

	explicit := path != ""
	if !explicit {
		path = filepath.Join(GetDataDir(), DefaultConfigFileName)
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
		cfg.path = path
	case errors.Is(err, os.ErrNotExist) && !explicit:
		// 默认配置文件不存在，使用默认值
	default:
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	// .env 文件可选，已存在的环境变量不会被覆盖
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// applyEnv 使用环境变量覆盖配置
func applyEnv(cfg *Config) error {
	if v := os.Getenv(EnvTelegramID); v != "" {
		id, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvTelegramID, err)
		}
		cfg.Telegram.AppID = id
	}
	if v := os.Getenv(EnvTelegramHash); v != "" {
		cfg.Telegram.AppHash = v
	}
	if v := os.Getenv(EnvOllamaModel); v != "" {
		cfg.Inference.ChatModel = v
	}
	if v := os.Getenv(EnvOllamaEmbedding); v != "" {
		cfg.Inference.EmbeddingModel = v
	}
	if v := os.Getenv(EnvOllamaURL); v != "" {
		cfg.Inference.BaseURL = v
	}
	if v := os.Getenv(EnvDatabasePath); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv(EnvHTTPPort); v != "" {
		cfg.Server.HTTPPort = v
	}
	if v := os.Getenv(EnvThreshold); v != "" {
		th, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvThreshold, err)
		}
		cfg.Detector.Threshold = th
	}
	if v := os.Getenv(EnvQdrantHost); v != "" {
		cfg.Vector.Host = v
		cfg.Vector.Enabled = true
	}
	cfg.Log.ApplyEnv()
	return nil
}

// Reloadable 可热加载的配置项
type Reloadable struct {
	Threshold   float64
	Interval    time.Duration
	LogLevel    string
	QuietPeriod time.Duration
}

// ReloadableFrom 提取可热加载的配置项
func ReloadableFrom(cfg *Config) Reloadable {
	return Reloadable{
		Threshold:   cfg.Detector.Threshold,
		Interval:    cfg.Scheduler.Interval,
		LogLevel:    cfg.Log.Level,
		QuietPeriod: cfg.Fetch.QuietPeriod,
	}
}
