// Package discovery 在局域网内通过 mDNS 广播状态 API
package discovery

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"sync"

	"github.com/chatwatch/backend/internal/infrastructure/log"
	"github.com/grandcat/zeroconf"
)

// ServiceType mDNS 服务类型
const ServiceType = "_chatwatch._tcp"

// Advertiser mDNS 服务广播器
type Advertiser struct {
	mu      sync.Mutex
	server  *zeroconf.Server
	running bool
	logger  *slog.Logger
}

// NewAdvertiser 创建 mDNS 广播器
func NewAdvertiser() *Advertiser {
	return &Advertiser{
		logger: log.NewModuleLogger("discovery", "mdns_advertiser"),
	}
}

// Start 开始广播，addr 为状态 API 的监听地址
func (a *Advertiser) Start(addr, version string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.running {
		return fmt.Errorf("advertiser is already running")
	}

	port, err := PortOf(addr)
	if err != nil {
		return err
	}

	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "chatwatch"
	}
	txt := []string{"version=" + version, "api=/api/v1"}

	server, err := zeroconf.Register(hostname, ServiceType, "local.", port, txt, nil)
	if err != nil {
		return fmt.Errorf("failed to register service: %w", err)
	}

	a.server = server
	a.running = true
	a.logger.Info("mDNS advertiser started", "instance", hostname, "service", ServiceType, "port", port)
	return nil
}

// Stop 停止广播
func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.running {
		return
	}
	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
	a.running = false
	a.logger.Info("mDNS advertiser stopped")
}

// PortOf 从监听地址中解析端口
func PortOf(addr string) (int, error) {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, fmt.Errorf("invalid listen address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return 0, fmt.Errorf("invalid port in %q", addr)
	}
	return port, nil
}
