package log

import (
	"os"
	"strconv"
	"strings"
)

// 日志环境变量，覆盖配置文件 log 段中的同名项
const (
	EnvLevel   = "CHATWATCH_LOG_LEVEL"
	EnvFormat  = "CHATWATCH_LOG_FORMAT"
	EnvOutput  = "CHATWATCH_LOG_OUTPUT"
	EnvSource  = "CHATWATCH_LOG_SOURCE"
	EnvNoColor = "CHATWATCH_LOG_NO_COLOR"
	// EnvNoColorStandard 通用约定，任意非空值都关闭颜色
	EnvNoColorStandard = "NO_COLOR"
)

// Config 日志配置
type Config struct {
	// Level debug, info, warn, error
	Level string `json:"level" yaml:"level"`
	// Format console 或 json
	Format string `json:"format" yaml:"format"`
	// Output stdout, stderr 或 file:/path/to/log
	Output    string `json:"output" yaml:"output"`
	AddSource bool   `json:"add_source" yaml:"add_source"`
	NoColor   bool   `json:"no_color" yaml:"no_color"`
}

// DefaultConfig info 级别，控制台格式输出到 stdout
func DefaultConfig() *Config {
	return &Config{
		Level:  "info",
		Format: "console",
		Output: "stdout",
	}
}

// ApplyEnv 用环境变量覆盖当前值
// 未设置或无法解析的变量保持原值
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvLevel); v != "" {
		c.Level = v
	}
	if v := os.Getenv(EnvFormat); v != "" {
		c.Format = v
	}
	if v := os.Getenv(EnvOutput); v != "" {
		c.Output = v
	}
	c.AddSource = envBool(EnvSource, c.AddSource)
	c.NoColor = envBool(EnvNoColor, c.NoColor)
	if os.Getenv(EnvNoColorStandard) != "" {
		c.NoColor = true
	}
}

// JSON 是否输出 JSON
func (c *Config) JSON() bool {
	return strings.EqualFold(c.Format, "json")
}

// Colored 控制台输出是否带颜色，写入文件时始终关闭
func (c *Config) Colored(toFile bool) bool {
	return !c.NoColor && !toFile && !c.JSON()
}

func envBool(key string, current bool) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return current
	}
	return v
}
