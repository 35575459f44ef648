package monitor

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind 错误分类
type ErrorKind string

const (
	// KindTransient 网络或限流，周期内退避重试
	KindTransient ErrorKind = "transient"
	// KindStaleHandle 句柄失效，刷新后重试一次
	KindStaleHandle ErrorKind = "stale_handle"
	// KindPermanent 访问被撤销或目标不存在
	KindPermanent ErrorKind = "permanent"
	// KindAnalysisFailure 推理调用失败或输出格式错误
	KindAnalysisFailure ErrorKind = "analysis_failure"
	// KindStorageFailure 事务失败
	KindStorageFailure ErrorKind = "storage_failure"
)

// ErrConversationNotFound 会话不存在
var ErrConversationNotFound = errors.New("conversation not found")

// ErrMessageNotAnalyzed 消息尚未分析，没有嵌入向量
var ErrMessageNotAnalyzed = errors.New("message has not been analyzed")

// ErrCycleInProgress 已有周期在运行
var ErrCycleInProgress = errors.New("cycle already in progress")

// Error 带分类的领域错误
type Error struct {
	Kind           ErrorKind
	Op             string
	ConversationID int64
	// Assumed 为 true 表示错误未能识别，按 Permanent 保守处理
	Assumed bool
	// RetryAfter 服务端要求的最短等待时间，仅 Transient 有效
	RetryAfter time.Duration
	Err        error
}

// NewError 创建领域错误
func NewError(kind ErrorKind, op string, conversationID int64, err error) *Error {
	return &Error{Kind: kind, Op: op, ConversationID: conversationID, Err: err}
}

func (e *Error) Error() string {
	if e.ConversationID != 0 {
		return fmt.Sprintf("%s: conversation %d: %s: %v", e.Op, e.ConversationID, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf 提取错误分类，未分类的错误视为 Permanent
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindPermanent
}

// IsKind 判断错误是否属于指定分类
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

// Transient 创建 Transient 错误
func Transient(op string, err error) *Error {
	return NewError(KindTransient, op, 0, err)
}

// StaleHandle 创建 StaleHandle 错误
func StaleHandle(op string, err error) *Error {
	return NewError(KindStaleHandle, op, 0, err)
}

// Permanent 创建 Permanent 错误
func Permanent(op string, err error) *Error {
	return NewError(KindPermanent, op, 0, err)
}

// RetryAfterOf 返回服务端给出的最短等待时间（例如 FLOOD_WAIT）
func RetryAfterOf(err error) time.Duration {
	var e *Error
	if errors.As(err, &e) {
		return e.RetryAfter
	}
	return 0
}
