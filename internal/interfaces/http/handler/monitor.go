package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	appMonitor "github.com/chatwatch/backend/internal/application/monitor"
	"github.com/chatwatch/backend/internal/application/review"
	domainMonitor "github.com/chatwatch/backend/internal/domain/monitor"
	"github.com/chatwatch/backend/internal/interfaces/http/response"
)

const (
	defaultUrgentLimit  = 50
	maxUrgentLimit      = 500
	defaultSimilarLimit = 5
	maxSimilarLimit     = 50
)

// CycleRunner 周期调度的查询和触发
type CycleRunner interface {
	Trigger() error
	Running() bool
	Interval() time.Duration
	LastReport() *appMonitor.CycleReport
	LastClusters() []*domainMonitor.DuplicateCluster
}

// Reactivator 人工恢复不可访问的会话
type Reactivator interface {
	Reactivate(ctx context.Context, conversationID int64) (*domainMonitor.Conversation, error)
}

// SimilarFinder 相似消息查询
type SimilarFinder interface {
	SimilarToMessage(ctx context.Context, conversationID, messageID int64, limit int) ([]*domainMonitor.Neighbor, error)
}

// ReportBuilder 审阅报告和成员查询
type ReportBuilder interface {
	Build(ctx context.Context) (*review.Report, error)
	Members(ctx context.Context, conversationID int64) ([]*review.MemberLine, error)
	UserConversations(ctx context.Context, userID int64) ([]review.ConversationRef, error)
}

// MonitorHandler 监控状态处理器
type MonitorHandler struct {
	cycles        CycleRunner
	reactivator   Reactivator
	similar       SimilarFinder
	reports       ReportBuilder
	conversations domainMonitor.ConversationRepository
	messages      domainMonitor.MessageRepository
}

// NewMonitorHandler 创建监控状态处理器
func NewMonitorHandler(
	cycles CycleRunner,
	reactivator Reactivator,
	similar SimilarFinder,
	reports ReportBuilder,
	conversations domainMonitor.ConversationRepository,
	messages domainMonitor.MessageRepository,
) *MonitorHandler {
	return &MonitorHandler{
		cycles:        cycles,
		reactivator:   reactivator,
		similar:       similar,
		reports:       reports,
		conversations: conversations,
		messages:      messages,
	}
}

// ConversationDTO 会话 DTO
type ConversationDTO struct {
	ID              int64  `json:"id"`
	Name            string `json:"name"`
	Kind            string `json:"kind"`
	Category        string `json:"category,omitempty"`
	SuggestedName   string `json:"suggested_name,omitempty"`
	Cursor          int64  `json:"cursor"`
	AccessState     string `json:"access_state"`
	Pending         int    `json:"pending"`
	MembersSyncedAt *int64 `json:"members_synced_at,omitempty"` // Unix 毫秒时间戳
}

// UrgentMessageDTO 紧急消息 DTO
type UrgentMessageDTO struct {
	ConversationID int64  `json:"conversation_id"`
	MessageID      int64  `json:"message_id"`
	SentAt         int64  `json:"sent_at"` // Unix 毫秒时间戳
	Text           string `json:"text"`
}

// SimilarRequest 相似消息查询请求
type SimilarRequest struct {
	ConversationID int64 `json:"conversation_id" binding:"required"`
	MessageID      int64 `json:"message_id" binding:"required"`
	Limit          int   `json:"limit"`
}

// CycleStatusDTO 调度状态
type CycleStatusDTO struct {
	Running    bool                    `json:"running"`
	Interval   string                  `json:"interval"`
	LastReport *appMonitor.CycleReport `json:"last_report,omitempty"`
}

// ListConversations 获取会话列表
// @Summary 获取会话列表
// @Tags 监控
// @Produce json
// @Success 200 {object} response.Response
// @Router /conversations [get]
func (h *MonitorHandler) ListConversations(c *gin.Context) {
	ctx := c.Request.Context()
	convs, err := h.conversations.List(ctx)
	if err != nil {
		response.FromError(c, err)
		return
	}
	pending, err := h.messages.PendingCounts(ctx)
	if err != nil {
		response.FromError(c, err)
		return
	}

	dtos := make([]*ConversationDTO, 0, len(convs))
	for _, conv := range convs {
		dto := &ConversationDTO{
			ID:            conv.ID,
			Name:          conv.Name(),
			Kind:          string(conv.Handle.Kind),
			Category:      conv.Category,
			SuggestedName: conv.SuggestedName,
			Cursor:        conv.Cursor,
			AccessState:   string(conv.AccessState),
			Pending:       pending[conv.ID],
		}
		if conv.MembersSyncedAt != nil {
			ts := conv.MembersSyncedAt.UnixMilli()
			dto.MembersSyncedAt = &ts
		}
		dtos = append(dtos, dto)
	}
	response.Success(c, dtos)
}

// Reactivate 人工恢复不可访问的会话
// @Summary 恢复会话
// @Tags 监控
// @Produce json
// @Param id path int true "会话 ID"
// @Success 200 {object} response.Response
// @Failure 404 {object} response.ErrorResponse
// @Router /conversations/{id}/reactivate [post]
func (h *MonitorHandler) Reactivate(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid conversation id")
		return
	}
	conv, err := h.reactivator.Reactivate(c.Request.Context(), id)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, gin.H{
		"id":           conv.ID,
		"access_state": conv.AccessState,
	})
}

// ConversationMembers 获取会话成员
// @Summary 会话成员
// @Tags 监控
// @Produce json
// @Param id path int true "会话 ID"
// @Success 200 {object} response.Response
// @Failure 404 {object} response.ErrorResponse
// @Router /conversations/{id}/members [get]
func (h *MonitorHandler) ConversationMembers(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid conversation id")
		return
	}
	members, err := h.reports.Members(c.Request.Context(), id)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, members)
}

// UserConversations 获取用户所在的会话
// @Summary 用户所在会话
// @Tags 监控
// @Produce json
// @Param id path int true "用户 ID"
// @Success 200 {object} response.Response
// @Router /users/{id}/conversations [get]
func (h *MonitorHandler) UserConversations(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid user id")
		return
	}
	convs, err := h.reports.UserConversations(c.Request.Context(), id)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, convs)
}

// Report 获取审阅报告
// @Summary 获取审阅报告
// @Tags 监控
// @Produce json
// @Success 200 {object} response.Response
// @Router /report [get]
func (h *MonitorHandler) Report(c *gin.Context) {
	report, err := h.reports.Build(c.Request.Context())
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, report)
}

// Clusters 获取最近一个周期的重复话题
// @Summary 获取重复话题
// @Tags 监控
// @Produce json
// @Success 200 {object} response.Response
// @Router /clusters [get]
func (h *MonitorHandler) Clusters(c *gin.Context) {
	clusters := h.cycles.LastClusters()
	if clusters == nil {
		clusters = []*domainMonitor.DuplicateCluster{}
	}
	response.Success(c, clusters)
}

// UrgentMessages 获取紧急消息，最新的在前
// @Summary 获取紧急消息
// @Tags 监控
// @Produce json
// @Param conversation_id query int false "会话 ID，不传则返回所有会话"
// @Param limit query int false "条数，默认 50"
// @Success 200 {object} response.Response
// @Router /messages/urgent [get]
func (h *MonitorHandler) UrgentMessages(c *gin.Context) {
	var convID int64
	if v := c.Query("conversation_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid conversation_id")
			return
		}
		convID = id
	}
	limit := clampLimit(c.Query("limit"), defaultUrgentLimit, maxUrgentLimit)

	msgs, err := h.messages.UrgentMessages(c.Request.Context(), convID, limit)
	if err != nil {
		response.FromError(c, err)
		return
	}
	dtos := make([]*UrgentMessageDTO, 0, len(msgs))
	for _, m := range msgs {
		dtos = append(dtos, &UrgentMessageDTO{
			ConversationID: m.ConversationID,
			MessageID:      m.MessageID,
			SentAt:         m.Timestamp.UnixMilli(),
			Text:           m.Text,
		})
	}
	response.Success(c, dtos)
}

// SimilarMessages 查找其他会话中的相似消息
// @Summary 相似消息
// @Tags 监控
// @Accept json
// @Produce json
// @Param body body SimilarRequest true "查询条件"
// @Success 200 {object} response.Response
// @Failure 422 {object} response.ErrorResponse
// @Router /messages/similar [post]
func (h *MonitorHandler) SimilarMessages(c *gin.Context) {
	var req SimilarRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request: "+err.Error())
		return
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultSimilarLimit
	}
	if limit > maxSimilarLimit {
		limit = maxSimilarLimit
	}

	neighbors, err := h.similar.SimilarToMessage(c.Request.Context(), req.ConversationID, req.MessageID, limit)
	if err != nil {
		response.FromError(c, err)
		return
	}
	if neighbors == nil {
		neighbors = []*domainMonitor.Neighbor{}
	}
	response.Success(c, neighbors)
}

// TriggerCycle 手动触发一个周期
// 已有周期在运行时返回 409
// @Summary 触发周期
// @Tags 监控
// @Produce json
// @Success 202 {object} response.Response
// @Failure 409 {object} response.ErrorResponse
// @Router /cycles [post]
func (h *MonitorHandler) TriggerCycle(c *gin.Context) {
	if err := h.cycles.Trigger(); err != nil {
		response.FromError(c, err)
		return
	}
	response.Accepted(c, gin.H{"triggered": true})
}

// CycleStatus 获取调度状态
// @Summary 调度状态
// @Tags 监控
// @Produce json
// @Success 200 {object} response.Response
// @Router /cycles/status [get]
func (h *MonitorHandler) CycleStatus(c *gin.Context) {
	response.Success(c, &CycleStatusDTO{
		Running:    h.cycles.Running(),
		Interval:   h.cycles.Interval().String(),
		LastReport: h.cycles.LastReport(),
	})
}

func clampLimit(raw string, def, max int) int {
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}
