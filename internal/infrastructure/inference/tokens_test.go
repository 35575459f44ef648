package inference

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenBudget_Truncate(t *testing.T) {
	budget, err := GetTokenBudget()
	require.NoError(t, err)

	assert.Equal(t, "hello world", budget.Truncate("hello world", 10))
	long := strings.Repeat("word ", 200)
	truncated := budget.Truncate(long, 20)
	assert.LessOrEqual(t, budget.Count(truncated), 20)
	assert.Equal(t, "", budget.Truncate("text", 0))
}

func TestTokenBudget_TruncateKeepsRunesWhole(t *testing.T) {
	budget, err := GetTokenBudget()
	require.NoError(t, err)

	texts := map[string]string{
		"cjk":   strings.Repeat("紧急：生产数据库拒绝连接，请值班同学处理。", 20),
		"emoji": strings.Repeat("🚀🔥👨‍👩‍👧 deploy ", 20),
		"mixed": strings.Repeat("发布 v2.3 ✅ 回滚 ❌ ", 20),
	}
	for name, text := range texts {
		t.Run(name, func(t *testing.T) {
			for limit := 1; limit <= 40; limit++ {
				out := budget.Truncate(text, limit)
				require.True(t, utf8.ValidString(out), "limit %d 截断出无效 UTF-8: %q", limit, out)
				assert.True(t, strings.HasPrefix(text, out), "limit %d 结果不是原文前缀", limit)
			}
			assert.NotEmpty(t, budget.Truncate(text, 20))
		})
	}
}

func TestTrimPartialRune(t *testing.T) {
	rocket := "🚀"
	assert.Equal(t, "ok", trimPartialRune("ok"+rocket[:2]))
	assert.Equal(t, "ok", trimPartialRune("ok"+rocket[:1]))
	assert.Equal(t, "监控", trimPartialRune("监控"+"频"[:2]))
	assert.Equal(t, "ok"+rocket, trimPartialRune("ok"+rocket))
	assert.Equal(t, "\uFFFD", trimPartialRune("\uFFFD"), "合法的替换字符保留")
	assert.Equal(t, "", trimPartialRune(""))
}

func TestTokenBudget_Fit(t *testing.T) {
	budget, err := GetTokenBudget()
	require.NoError(t, err)

	texts := []string{strings.Repeat("alpha ", 300), strings.Repeat("beta ", 300), "short"}
	out := budget.Fit(texts, 512, 200)
	require.Len(t, out, 3)

	total := 0
	for _, s := range out {
		total += budget.Count(s)
	}
	assert.LessOrEqual(t, total, 200)
	assert.Equal(t, "short", out[2])
}
