package telegram

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"

	"github.com/chatwatch/backend/internal/domain/monitor"
	"github.com/gotd/td/tgerr"
)

// staleTypes 句柄失效，刷新 access hash 后可恢复
var staleTypes = []string{
	"PEER_ID_INVALID",
	"CHANNEL_INVALID",
	"CHAT_ID_INVALID",
	"CHANNEL_ID_INVALID",
}

// permanentTypes 访问被撤销或目标不存在
var permanentTypes = []string{
	"CHANNEL_PRIVATE",
	"CHAT_FORBIDDEN",
	"CHANNEL_PUBLIC_GROUP_NA",
	"USER_BANNED_IN_CHANNEL",
	"CHAT_ADMIN_REQUIRED",
	"CHAT_RESTRICTED",
	"USER_NOT_PARTICIPANT",
}

// transientTypes 服务端临时故障
var transientTypes = []string{
	"TIMEOUT",
	"RPC_CALL_FAIL",
	"RPC_MCGET_FAIL",
	"INTERDC_CALL_ERROR",
	"INTERDC_CALL_RICH_ERROR",
}

// Classify 把协议错误映射为领域错误分类
// 无法识别的错误按 Permanent 处理并记录日志；上下文取消原样返回
func Classify(logger *slog.Logger, op string, conversationID int64, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	var domainErr *monitor.Error
	if errors.As(err, &domainErr) {
		return err
	}

	if d, ok := tgerr.AsFloodWait(err); ok {
		e := monitor.NewError(monitor.KindTransient, op, conversationID, err)
		e.RetryAfter = d
		return e
	}

	switch {
	case tgerr.Is(err, staleTypes...):
		return monitor.NewError(monitor.KindStaleHandle, op, conversationID, err)
	case tgerr.Is(err, permanentTypes...):
		return monitor.NewError(monitor.KindPermanent, op, conversationID, err)
	case tgerr.Is(err, transientTypes...):
		return monitor.NewError(monitor.KindTransient, op, conversationID, err)
	}

	if rpcErr, ok := tgerr.As(err); ok && rpcErr.Code >= 500 {
		return monitor.NewError(monitor.KindTransient, op, conversationID, err)
	}

	if isNetworkError(err) {
		return monitor.NewError(monitor.KindTransient, op, conversationID, err)
	}

	logger.Warn("Unclassified protocol error treated as permanent",
		"op", op,
		"conversation_id", conversationID,
		"error", err,
	)
	e := monitor.NewError(monitor.KindPermanent, op, conversationID, err)
	e.Assumed = true
	return e
}

func isNetworkError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	if errors.Is(err, errNotConnected) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
