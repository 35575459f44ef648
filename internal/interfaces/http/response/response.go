package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	domainMonitor "github.com/chatwatch/backend/internal/domain/monitor"
	"github.com/chatwatch/backend/internal/infrastructure/storage"
)

// 业务错误码
const (
	CodeBadRequest  = 400
	CodeNotFound    = 404
	CodeConflict    = 409
	CodeUnprocessed = 422
	CodeInternal    = 500
)

// Response 统一响应结构
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// ErrorResponse 错误响应
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Kind    string `json:"kind,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

// Success 成功响应
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    0,
		Message: "success",
		Data:    data,
	})
}

// Accepted 请求已受理，异步执行
func Accepted(c *gin.Context, data interface{}) {
	c.JSON(http.StatusAccepted, Response{
		Code:    0,
		Message: "accepted",
		Data:    data,
	})
}

// Error 错误响应
func Error(c *gin.Context, httpCode int, errCode int, message string) {
	c.JSON(httpCode, ErrorResponse{
		Code:    errCode,
		Message: message,
	})
}

// FromError 按错误类型选择状态码
func FromError(c *gin.Context, err error) {
	switch {
	case storage.IsNotFound(err):
		Error(c, http.StatusNotFound, CodeNotFound, err.Error())
	case errors.Is(err, domainMonitor.ErrCycleInProgress):
		Error(c, http.StatusConflict, CodeConflict, err.Error())
	case errors.Is(err, domainMonitor.ErrMessageNotAnalyzed):
		Error(c, http.StatusUnprocessableEntity, CodeUnprocessed, err.Error())
	default:
		resp := ErrorResponse{Code: CodeInternal, Message: "internal error", Detail: err.Error()}
		var de *domainMonitor.Error
		if errors.As(err, &de) {
			resp.Kind = string(de.Kind)
		}
		c.JSON(http.StatusInternalServerError, resp)
	}
}
