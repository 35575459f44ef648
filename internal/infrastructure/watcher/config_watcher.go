package watcher

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/chatwatch/backend/internal/domain/events"
	"github.com/chatwatch/backend/internal/infrastructure/log"
	"github.com/fsnotify/fsnotify"
)

// ReloadFunc 重新加载配置，返回错误时保留旧配置
type ReloadFunc func(path string) error

// ConfigWatcher 监听配置文件变化并触发热加载
// 监听文件所在目录，兼容编辑器先写临时文件再重命名的保存方式
type ConfigWatcher struct {
	path     string
	debounce time.Duration
	reload   ReloadFunc
	eventBus events.EventBus
	watcher  *fsnotify.Watcher
	logger   *slog.Logger

	timerMu sync.Mutex
	timer   *time.Timer

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewConfigWatcher 创建配置监听器
func NewConfigWatcher(path string, debounce time.Duration, reload ReloadFunc, eventBus events.EventBus) (*ConfigWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	return &ConfigWatcher{
		path:     abs,
		debounce: debounce,
		reload:   reload,
		eventBus: eventBus,
		watcher:  w,
		logger:   log.NewModuleLogger("watcher", "config_watcher"),
		stopCh:   make(chan struct{}),
	}, nil
}

// Start 开始监听
func (cw *ConfigWatcher) Start() error {
	if err := cw.watcher.Add(filepath.Dir(cw.path)); err != nil {
		return fmt.Errorf("watch config directory: %w", err)
	}
	cw.logger.Info("Watching config file", "path", cw.path)

	cw.wg.Add(1)
	go cw.watchLoop()
	return nil
}

// Stop 停止监听
func (cw *ConfigWatcher) Stop() {
	close(cw.stopCh)
	cw.watcher.Close()
	cw.wg.Wait()

	cw.timerMu.Lock()
	if cw.timer != nil {
		cw.timer.Stop()
	}
	cw.timerMu.Unlock()
}

func (cw *ConfigWatcher) watchLoop() {
	defer cw.wg.Done()
	for {
		select {
		case <-cw.stopCh:
			return
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != cw.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				cw.schedule()
			}
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			cw.logger.Warn("Config watcher error", "error", err)
		}
	}
}

// schedule 防抖：连续写入只触发一次加载
func (cw *ConfigWatcher) schedule() {
	cw.timerMu.Lock()
	defer cw.timerMu.Unlock()

	if cw.timer != nil {
		cw.timer.Stop()
	}
	cw.timer = time.AfterFunc(cw.debounce, cw.apply)
}

func (cw *ConfigWatcher) apply() {
	select {
	case <-cw.stopCh:
		return
	default:
	}

	if err := cw.reload(cw.path); err != nil {
		cw.logger.Warn("Config reload rejected, keeping previous values", "path", cw.path, "error", err)
		return
	}
	cw.logger.Info("Config reloaded", "path", cw.path)
	if cw.eventBus != nil {
		cw.eventBus.Publish(&events.ConfigReloadedEvent{Path: cw.path, EventTime: time.Now()})
	}
}
