package clock

import (
	"context"
	"sync"
	"time"

	"github.com/chatwatch/backend/internal/domain/monitor"
)

// Fake 测试用时钟，Sleep 立即返回并推进当前时间
type Fake struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

// NewFake 创建测试时钟
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

// Now 返回当前虚拟时间
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Sleep 记录等待时长并推进虚拟时间
func (f *Fake) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if d > 0 {
		f.sleeps = append(f.sleeps, d)
		f.now = f.now.Add(d)
	}
	return nil
}

// Advance 手动推进虚拟时间
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

// Sleeps 返回所有记录的等待时长
func (f *Fake) Sleeps() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]time.Duration, len(f.sleeps))
	copy(out, f.sleeps)
	return out
}

var _ monitor.Clock = (*Fake)(nil)
