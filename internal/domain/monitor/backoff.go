package monitor

import "time"

// 默认退避配置
const (
	DefaultBackoffBase        = 2 * time.Second
	DefaultBackoffCap         = 5 * time.Minute
	DefaultBackoffMaxAttempts = 5
)

// Backoff 单个会话的退避状态
// 延迟从 Base 开始，每次连续失败翻倍，不超过 Cap；成功后重置
type Backoff struct {
	Base        time.Duration
	Cap         time.Duration
	MaxAttempts int

	attempts     int
	nextEligible time.Time
}

// NewBackoff 创建退避状态
func NewBackoff(base, cap time.Duration, maxAttempts int) *Backoff {
	if base <= 0 {
		base = DefaultBackoffBase
	}
	if cap < base {
		cap = base
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultBackoffMaxAttempts
	}
	return &Backoff{Base: base, Cap: cap, MaxAttempts: maxAttempts}
}

// Attempts 连续失败次数
func (b *Backoff) Attempts() int {
	return b.attempts
}

// NextEligible 下一次允许请求的时间
func (b *Backoff) NextEligible() time.Time {
	return b.nextEligible
}

// Exhausted 是否已达到最大连续失败次数
func (b *Backoff) Exhausted() bool {
	return b.attempts >= b.MaxAttempts
}

// Delay 返回当前失败次数对应的等待时间（不改变状态）
func (b *Backoff) Delay() time.Duration {
	if b.attempts == 0 {
		return 0
	}
	d := b.Base
	for i := 1; i < b.attempts; i++ {
		d *= 2
		if d >= b.Cap {
			return b.Cap
		}
	}
	if d > b.Cap {
		return b.Cap
	}
	return d
}

// Failure 记录一次失败并返回下一次尝试前的等待时间
// hint 为服务端要求的最短等待时间，结果不小于 hint
func (b *Backoff) Failure(now time.Time, hint time.Duration) time.Duration {
	b.attempts++
	d := b.Delay()
	if hint > d {
		d = hint
	}
	b.nextEligible = now.Add(d)
	return d
}

// Success 成功后重置
func (b *Backoff) Success() {
	b.attempts = 0
	b.nextEligible = time.Time{}
}

// Ready 是否已到可请求时间
func (b *Backoff) Ready(now time.Time) bool {
	return !now.Before(b.nextEligible)
}
