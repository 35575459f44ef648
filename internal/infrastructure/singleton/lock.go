// Package singleton 用 HTTP 端口作为进程锁，保证同一台机器上只有一个常驻实例
package singleton

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
	"time"
)

const (
	// DefaultPort 默认监听端口，与状态 API 共用
	DefaultPort = ":19970"
	// ServiceName 健康检查中的服务标识
	ServiceName = "chatwatch"
	// HealthCheckTimeout 健康检查超时时间
	HealthCheckTimeout = 2 * time.Second

	// wsaeaddrinuse Windows 上的端口占用错误码
	wsaeaddrinuse = 10048
)

// ErrAlreadyRunning 端口上已有健康的 chatwatch 实例
var ErrAlreadyRunning = errors.New("another chatwatch instance is already running")

// Health /health 的响应体，HTTP 服务写出，锁检查读取
type Health struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Version string `json:"version,omitempty"`
}

// NewHealth 当前实例的健康响应
func NewHealth(version string) Health {
	return Health{Status: "ok", Service: ServiceName, Version: version}
}

// Acquire 监听 addr 作为进程锁
// 端口被另一个 chatwatch 实例占用时返回 ErrAlreadyRunning；
// 被其他程序占用时返回端口冲突错误，调用方不应静默退出
func Acquire(addr string) (net.Listener, error) {
	listener, err := net.Listen("tcp", addr)
	if err == nil {
		return listener, nil
	}
	if !addrInUse(err) {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	checkErr := checkInstance(addr)
	if checkErr == nil {
		return nil, ErrAlreadyRunning
	}
	return nil, fmt.Errorf("port %s is held by another program: %w", addr, checkErr)
}

func addrInUse(err error) bool {
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return false
	}
	return errno == syscall.EADDRINUSE || errno == wsaeaddrinuse
}

// checkInstance 确认占用端口的是 chatwatch 实例
func checkInstance(addr string) error {
	client := &http.Client{Timeout: HealthCheckTimeout}
	resp, err := client.Get("http://" + healthHost(addr) + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned %s", resp.Status)
	}
	var h Health
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&h); err != nil {
		return fmt.Errorf("decode health response: %w", err)
	}
	if h.Service != ServiceName || h.Status != "ok" {
		return fmt.Errorf("health check reports service %q status %q", h.Service, h.Status)
	}
	return nil
}

// healthHost 把监听地址转换为可访问的主机地址
// ":19970"、"0.0.0.0:19970" 和 "[::]:19970" 都指向本机
func healthHost(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "localhost" + addr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return net.JoinHostPort(host, port)
}
