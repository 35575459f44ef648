package mcp

import (
	"context"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	appMonitor "github.com/chatwatch/backend/internal/application/monitor"
	"github.com/chatwatch/backend/internal/application/review"
	domainMonitor "github.com/chatwatch/backend/internal/domain/monitor"
)

// Version 对外报告的版本号
const Version = "0.1.0"

// Cycles 调度器能力
type Cycles interface {
	Trigger() error
	Running() bool
	Interval() time.Duration
	LastReport() *appMonitor.CycleReport
	LastClusters() []*domainMonitor.DuplicateCluster
}

// Similarity 相似消息查询
type Similarity interface {
	SimilarToMessage(ctx context.Context, conversationID, messageID int64, limit int) ([]*domainMonitor.Neighbor, error)
}

// Reports 审阅报告和成员查询
type Reports interface {
	Build(ctx context.Context) (*review.Report, error)
	UserConversations(ctx context.Context, userID int64) ([]review.ConversationRef, error)
}

// MCPServer MCP 服务器
type MCPServer struct {
	server   *mcp.Server
	handler  http.Handler
	cycles   Cycles
	similar  Similarity
	reports  Reports
	messages domainMonitor.MessageRepository
}

// NewServer 创建 MCP 服务器
func NewServer(cycles Cycles, similar Similarity, reports Reports, messages domainMonitor.MessageRepository) *MCPServer {
	server := mcp.NewServer(
		&mcp.Implementation{
			Name:    "chatwatch",
			Version: Version,
		},
		nil, // 使用默认能力
	)

	s := &MCPServer{
		server:   server,
		cycles:   cycles,
		similar:  similar,
		reports:  reports,
		messages: messages,
	}

	mcp.AddTool(server, &mcp.Tool{
		Name: "list_urgent_messages",
		Description: `List messages the analysis engine marked urgent, newest first.
Parameters:
- conversation_id (int, optional): Only this conversation. Omit for all conversations.
- limit (int, optional): Maximum number of messages, default 20, max 200.

Returns: urgent messages with conversation id, message id, send time and text.`,
	}, s.listUrgentMessagesTool)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_duplicate_clusters",
		Description: "List groups of conversations whose content overlaps, as computed by the most recent cycle. No parameters required. Returns: clusters with conversation ids and names.",
	}, s.listDuplicateClustersTool)

	mcp.AddTool(server, &mcp.Tool{
		Name: "find_similar_messages",
		Description: `Find messages in other conversations that are semantically close to a given message.
Parameters:
- conversation_id (int, required): Conversation of the reference message
- message_id (int, required): Reference message id. It must already be analyzed.
- limit (int, optional): Maximum results, default 5, max 50

Returns: neighbors with conversation id, message id, text and cosine score.`,
	}, s.findSimilarMessagesTool)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_review_report",
		Description: "Get the review report: conversations with category, suggested name and urgent messages, conversations with pending analysis, inaccessible conversations, duplicate clusters and recent failures. No parameters required.",
	}, s.getReviewReportTool)

	mcp.AddTool(server, &mcp.Tool{
		Name: "get_user_conversations",
		Description: `List the monitored conversations a user is a member of, from the last member sync.
Parameters:
- user_id (int, required): Telegram user id

Returns: conversations with id and name, sorted by name. Empty when the user was never seen.`,
	}, s.getUserConversationsTool)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "trigger_cycle",
		Description: "Start a fetch and analysis cycle now. Returns triggered=false with a reason when a cycle is already running. No parameters required.",
	}, s.triggerCycleTool)

	s.handler = mcp.NewSSEHandler(
		func(r *http.Request) *mcp.Server {
			return server
		},
		nil,
	)
	return s
}

// ProvideServer 用应用层服务组装 MCP 服务器
func ProvideServer(
	scheduler *appMonitor.Scheduler,
	similarity *appMonitor.SimilarityService,
	reviewService *review.Service,
	rt *appMonitor.Runtime,
) *MCPServer {
	return NewServer(scheduler, similarity, reviewService, rt.Messages)
}

// GetHandler 获取 HTTP Handler（用于集成到 HTTP 服务器）
func (s *MCPServer) GetHandler() http.Handler {
	return s.handler
}
