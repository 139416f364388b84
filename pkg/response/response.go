package response

import (
	"errors"
	"net/http"

	"revledger/internal/errs"

	"github.com/gin-gonic/gin"
)

const (
	CodeSuccess      = 0
	CodeParamError   = 400
	CodeUnauthorized = 401
	CodeForbidden    = 403
	CodeNotFound     = 404
	CodeConflict     = 409
	CodeServerError  = 500
	CodeUnavailable  = 503
)

// Response 统一响应信封；错误时 code 与 HTTP 状态码一致，kind 为错误类别
type Response struct {
	Code      int         `json:"code"`
	Message   string      `json:"message"`
	Kind      errs.Kind   `json:"kind,omitempty"`
	Retryable bool        `json:"retryable,omitempty"`
	Data      interface{} `json:"data,omitempty"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{
		Code:    CodeSuccess,
		Message: "created",
		Data:    data,
	})
}

func NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

func Error(c *gin.Context, status int, kind errs.Kind, message string) {
	c.AbortWithStatusJSON(status, Response{
		Code:      status,
		Message:   message,
		Kind:      kind,
		Retryable: kind == errs.KindStorageUnavailable,
	})
}

func ParamError(c *gin.Context, message string) {
	Error(c, http.StatusBadRequest, errs.KindInvalidRequest, message)
}

// Fail 把领域错误映射为 HTTP 响应，并挂到 gin 上下文供日志中间件记录
func Fail(c *gin.Context, err error) {
	_ = c.Error(err)

	kind := errs.KindOf(err)
	status := StatusOf(kind)

	message := "internal server error"
	var e *errs.Error
	switch {
	case kind == errs.KindStorageUnavailable:
		message = errs.ErrStorageUnavailable.Message
	case errors.As(err, &e):
		message = e.Message
	}
	Error(c, status, kind, message)
}

// StatusOf 错误类别对应的 HTTP 状态码
func StatusOf(kind errs.Kind) int {
	switch kind {
	case errs.KindInvalidAmount, errs.KindInvalidRequest, errs.KindSameAccount, errs.KindCannotAllocateToMain:
		return http.StatusBadRequest
	case errs.KindUnauthenticated:
		return http.StatusUnauthorized
	case errs.KindMainAccountProtected, errs.KindMainAccountImmutable:
		return http.StatusForbidden
	case errs.KindNotFound:
		return http.StatusNotFound
	case errs.KindInsufficientFunds, errs.KindAllocationExceedsAvailable, errs.KindNonZeroBalance, errs.KindPairedTransactionImmutable:
		return http.StatusConflict
	case errs.KindStorageUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
