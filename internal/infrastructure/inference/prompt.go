package inference

import (
	"fmt"
	"strings"
)

const systemPrompt = `You classify chat conversations. You only read messages and never reply to them.
Return a short topic category for the conversation, a concise standardized name for it,
and the numbers of the messages that need immediate attention.`

// analysisOutput 模型返回的结构化结果
type analysisOutput struct {
	Category      string `json:"category" jsonschema:"description=Short topic category for the conversation"`
	SuggestedName string `json:"suggested_name" jsonschema:"description=Concise standardized name for the conversation"`
	UrgentIndices []int  `json:"urgent_indices" jsonschema:"description=1-based numbers of urgent messages; empty when none"`
}

// buildPrompt 生成编号消息列表，编号从 1 开始
func buildPrompt(conversationName string, texts []string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "The following are recent messages in the chat %q:\n", conversationName)
	for i, text := range texts {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, strings.ReplaceAll(text, "\n", " "))
	}
	sb.WriteString("\nDetermine a short category for the topic of this chat.\n")
	sb.WriteString("List the numbers of messages that are urgent (needing immediate attention), or an empty list.\n")
	sb.WriteString("Suggest a concise, standardized name for this chat.\n")
	return sb.String()
}

// urgencyFlags 把 1 起始的编号转换为逐条标记
func urgencyFlags(indices []int, n int) ([]bool, error) {
	flags := make([]bool, n)
	for _, idx := range indices {
		if idx < 1 || idx > n {
			return nil, fmt.Errorf("urgent index %d out of range 1..%d", idx, n)
		}
		flags[idx-1] = true
	}
	return flags, nil
}
