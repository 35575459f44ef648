package review

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Render 以文本形式输出报告
// 颜色取决于 w 是否为终端，写入文件或管道时输出纯文本
func Render(w io.Writer, report *Report) error {
	r := lipgloss.NewRenderer(w)
	title := r.NewStyle().Bold(true).Underline(true)
	heading := r.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	urgent := r.NewStyle().Foreground(lipgloss.Color("9"))
	muted := r.NewStyle().Faint(true)

	var b strings.Builder
	line := func(format string, args ...any) {
		fmt.Fprintf(&b, format, args...)
		b.WriteByte('\n')
	}

	line("%s", title.Render("=== Telegram Chats Report ==="))
	line("%s", muted.Render("Generated "+report.GeneratedAt.UTC().Format(TimeLayout)+" UTC"))

	line("")
	line("%s", heading.Render(fmt.Sprintf("Conversations (%d)", len(report.Conversations))))
	for _, c := range report.Conversations {
		writeConversation(&b, c, urgent)
	}
	if len(report.Conversations) == 0 {
		line("  (none)")
	}

	line("")
	line("%s", heading.Render(fmt.Sprintf("Pending analysis (%d)", len(report.PendingAnalysis))))
	for _, c := range report.PendingAnalysis {
		line("  %s [%d]: %d message(s) awaiting analysis", c.Name, c.ID, c.Pending)
	}
	if len(report.PendingAnalysis) == 0 {
		line("  (none)")
	}

	line("")
	line("%s", heading.Render(fmt.Sprintf("Inaccessible (%d)", len(report.Inaccessible))))
	for _, c := range report.Inaccessible {
		line("  %s [%d]: cursor %d, %d message(s) never analyzed", c.Name, c.ID, c.Cursor, c.Pending)
	}
	if len(report.Inaccessible) == 0 {
		line("  (none)")
	}

	line("")
	line("%s", heading.Render(fmt.Sprintf("Duplicate topics (%d)", len(report.Clusters))))
	for _, cl := range report.Clusters {
		line("  - %s", strings.Join(cl.Names, ", "))
	}
	if len(report.Clusters) == 0 {
		line("  (none)")
	}

	line("")
	line("%s", heading.Render(fmt.Sprintf("Shared members (%d)", len(report.SharedMembers))))
	for _, m := range report.SharedMembers {
		names := make([]string, 0, len(m.Conversations))
		for _, c := range m.Conversations {
			names = append(names, c.Name)
		}
		line("  %s [%d]: %s", m.Name, m.UserID, strings.Join(names, ", "))
		if m.Bio != "" {
			line("%s", muted.Render("    "+m.Bio))
		}
	}
	if len(report.SharedMembers) == 0 {
		line("  (none)")
	}

	if len(report.RecentFailures) > 0 {
		line("")
		line("%s", heading.Render(fmt.Sprintf("Recent failures (%d)", len(report.RecentFailures))))
		for _, f := range report.RecentFailures {
			line("  %s  %-16s [%d] %s", f.CreatedAt.UTC().Format(TimeLayout), f.Kind, f.ConversationID, f.Message)
		}
	}

	line("")
	line("End of report.")

	_, err := io.WriteString(w, b.String())
	return err
}

func writeConversation(b *strings.Builder, c *ConversationSummary, urgent lipgloss.Style) {
	category := c.Category
	if category == "" {
		category = "Uncategorized"
	}
	suggested := c.SuggestedName
	if suggested == "" {
		suggested = "-"
	}
	dup := ""
	if c.Duplicate {
		dup = " (Duplicate Topic)"
	}

	fmt.Fprintf(b, "\nChat: %s [%d]%s\n", c.Name, c.ID, dup)
	fmt.Fprintf(b, " - Category: %s\n", category)
	fmt.Fprintf(b, " - Suggested Name: %s\n", suggested)
	fmt.Fprintf(b, " - State: %s, members: %d, pending: %d\n", c.AccessState, c.Members, c.Pending)
	for _, u := range c.Urgent {
		b.WriteString(urgent.Render(fmt.Sprintf("   * [URGENT @ %s] %s", u.SentAt.Format(TimeLayout), u.Preview)))
		b.WriteByte('\n')
	}
}
