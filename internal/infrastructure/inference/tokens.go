package inference

import (
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

// 在包初始化时设置离线加载器
func init() {
	tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
}

// TokenBudget 使用 tiktoken 控制提示词长度
type TokenBudget struct {
	encoding *tiktoken.Tiktoken
	mu       sync.Mutex
}

var (
	budgetInstance *TokenBudget
	budgetOnce     sync.Once
	budgetErr      error
)

// GetTokenBudget 获取 TokenBudget 单例
func GetTokenBudget() (*TokenBudget, error) {
	budgetOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			budgetErr = err
			return
		}
		budgetInstance = &TokenBudget{encoding: enc}
	})
	if budgetErr != nil {
		return nil, budgetErr
	}
	return budgetInstance, nil
}

// Count 计算文本的 Token 数量
func (b *TokenBudget) Count(text string) int {
	if text == "" {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.encoding.Encode(text, nil, nil))
}

// Truncate 把文本截断到最多 limit 个 Token
func (b *TokenBudget) Truncate(text string, limit int) string {
	if text == "" || limit <= 0 {
		return ""
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	tokens := b.encoding.Encode(text, nil, nil)
	if len(tokens) <= limit {
		return text
	}
	return trimPartialRune(b.encoding.Decode(tokens[:limit]))
}

// trimPartialRune 去掉截断在多字节字符中间时留下的尾部字节
// Token 边界不一定落在字符边界上，中文和 emoji 常常被拆成多个 Token
func trimPartialRune(s string) string {
	for i := 0; i < utf8.UTFMax && s != ""; i++ {
		r, size := utf8.DecodeLastRuneInString(s)
		if r != utf8.RuneError || size != 1 {
			break
		}
		s = s[:len(s)-1]
	}
	return s
}

// Fit 在总预算内截断一组文本
// 每条文本先截断到 perItem，总量仍超出时逐步收紧单条上限
func (b *TokenBudget) Fit(texts []string, perItem, total int) []string {
	out := make([]string, len(texts))
	limit := perItem
	if limit <= 0 {
		limit = total
	}
	for {
		sum := 0
		for i, t := range texts {
			out[i] = b.Truncate(t, limit)
			sum += b.Count(out[i])
		}
		if sum <= total || limit <= 16 || len(texts) == 0 {
			return out
		}
		next := total / len(texts)
		if next >= limit {
			next = limit / 2
		}
		limit = next
	}
}
