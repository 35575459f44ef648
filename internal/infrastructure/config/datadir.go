package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const (
	// EnvDataDir 数据目录环境变量名
	EnvDataDir = "CHATWATCH_DATA_DIR"
	// DefaultDataDirName 默认数据目录名
	DefaultDataDirName = ".chatwatch"
)

var (
	dataDirOnce sync.Once
	dataDirPath string
)

// GetDataDir 获取数据根目录
// 优先读取 CHATWATCH_DATA_DIR 环境变量（支持 ~/ 前缀），默认 ~/.chatwatch/
// 会话文件、数据库和配置文件都位于此目录下
func GetDataDir() string {
	dataDirOnce.Do(func() {
		home, homeErr := os.UserHomeDir()
		if dir := os.Getenv(EnvDataDir); dir != "" {
			dataDirPath = expandHome(dir, home)
			return
		}
		if homeErr != nil {
			dataDirPath = DefaultDataDirName
			return
		}
		dataDirPath = filepath.Join(home, DefaultDataDirName)
	})
	return dataDirPath
}

// expandHome 展开 ~ 和 ~/ 前缀，home 未知时原样返回
func expandHome(dir, home string) string {
	if home == "" {
		return dir
	}
	if dir == "~" {
		return home
	}
	if strings.HasPrefix(dir, "~/") || strings.HasPrefix(dir, `~\`) {
		return filepath.Join(home, dir[2:])
	}
	return dir
}

// EnsureDir 确保文件所在目录存在
func EnsureDir(filePath string) error {
	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return nil
}

// ResetDataDir 重置数据目录缓存（仅用于测试）
func ResetDataDir() {
	dataDirOnce = sync.Once{}
	dataDirPath = ""
}
