package log

import (
	"context"
	"log/slog"
)

// ctxKey 上下文键类型
type ctxKey string

// 上下文键定义
const (
	// RequestContextID HTTP 请求 ID
	RequestContextID ctxKey = "request_id"

	// CycleContextID 调度周期 ID
	CycleContextID ctxKey = "cycle_id"

	// ConversationContextID 会话 ID
	ConversationContextID ctxKey = "conversation_id"
)

// WithRequestID 在上下文中添加请求 ID
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestContextID, requestID)
}

// WithCycleID 在上下文中添加周期 ID
func WithCycleID(ctx context.Context, cycleID string) context.Context {
	return context.WithValue(ctx, CycleContextID, cycleID)
}

// WithConversationID 在上下文中添加会话 ID
func WithConversationID(ctx context.Context, conversationID int64) context.Context {
	return context.WithValue(ctx, ConversationContextID, conversationID)
}

// CycleIDFromContext 读取周期 ID
func CycleIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(CycleContextID).(string); ok {
		return v
	}
	return ""
}

// LogCtxFromContext 从上下文中提取日志字段
func LogCtxFromContext(ctx context.Context) []slog.Attr {
	var attrs []slog.Attr

	if requestID, ok := ctx.Value(RequestContextID).(string); ok {
		attrs = append(attrs, slog.String("request_id", requestID))
	}
	if cycleID, ok := ctx.Value(CycleContextID).(string); ok {
		attrs = append(attrs, slog.String("cycle_id", cycleID))
	}
	if conversationID, ok := ctx.Value(ConversationContextID).(int64); ok {
		attrs = append(attrs, slog.Int64("conversation_id", conversationID))
	}

	return attrs
}

// FromContext 返回附带上下文字段的 logger
func FromContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	attrs := LogCtxFromContext(ctx)
	if len(attrs) == 0 {
		return logger
	}
	args := make([]any, len(attrs))
	for i, a := range attrs {
		args[i] = a
	}
	return logger.With(args...)
}
