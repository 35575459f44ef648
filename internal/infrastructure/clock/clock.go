// Package clock 提供可注入的时钟实现
package clock

import (
	"context"
	"time"

	"github.com/chatwatch/backend/internal/domain/monitor"
)

// Real 基于系统时间的时钟
type Real struct{}

// NewReal 创建系统时钟
func NewReal() monitor.Clock {
	return Real{}
}

// Now 返回当前时间
func (Real) Now() time.Time {
	return time.Now()
}

// Sleep 等待 d，ctx 取消时提前返回
func (Real) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

var _ monitor.Clock = Real{}
