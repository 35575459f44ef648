package monitor

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	domainMonitor "github.com/chatwatch/backend/internal/domain/monitor"
)

// QuietPeriod 保证相邻两次请求之间至少间隔固定时长
// 与退避状态无关，时间取自注入的时钟
type QuietPeriod struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	clock   domainMonitor.Clock
}

// NewQuietPeriod 创建静默间隔，interval 为 0 时不限制
func NewQuietPeriod(interval time.Duration, clock domainMonitor.Clock) *QuietPeriod {
	return &QuietPeriod{
		limiter: rate.NewLimiter(limitOf(interval), 1),
		clock:   clock,
	}
}

func limitOf(interval time.Duration) rate.Limit {
	if interval <= 0 {
		return rate.Inf
	}
	return rate.Every(interval)
}

// Wait 阻塞直到允许下一次请求
func (q *QuietPeriod) Wait(ctx context.Context) error {
	q.mu.Lock()
	now := q.clock.Now()
	r := q.limiter.ReserveN(now, 1)
	delay := r.DelayFrom(now)
	q.mu.Unlock()

	if delay <= 0 {
		return ctx.Err()
	}
	if err := q.clock.Sleep(ctx, delay); err != nil {
		r.CancelAt(q.clock.Now())
		return err
	}
	return nil
}

// SetInterval 修改间隔
func (q *QuietPeriod) SetInterval(interval time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.limiter.SetLimitAt(q.clock.Now(), limitOf(interval))
}
