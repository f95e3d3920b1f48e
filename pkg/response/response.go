package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	CodeSuccess       = 0
	CodeParamError    = 400
	CodeUnauthorized  = 401
	CodeForbidden     = 403
	CodeNotFound      = 404
	CodeServerError   = 500
	CodeBusinessError = 1000
)

// 账务业务错误码
const (
	CodeDuplicateOrder      = 1001
	CodeAccountNotFound     = 1002
	CodeAccountUnavailable  = 1003
	CodeBalanceNotEnough    = 1004
	CodeLimitExceeded       = 1005
	CodeAlreadyRefunded     = 1006
	CodeRefundExceedsCharge = 1007
	CodeRefundNotAllowed    = 1008
	CodeRecordNotFound      = 1009
	CodeAccountBusy         = 1101
	CodePricingFailed       = 1102
	CodeStorageUnavailable  = 1103
	CodeInvariantViolation  = 1201
)

type Response struct {
	Code      int         `json:"code"`
	Message   string      `json:"message"`
	Retryable bool        `json:"retryable,omitempty"` // 调用方可以用同一业务单号重试
	Data      interface{} `json:"data,omitempty"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

func Error(c *gin.Context, code int, message string) {
	c.JSON(http.StatusOK, Response{
		Code:    code,
		Message: message,
	})
}

// Retry 可重试的失败
func Retry(c *gin.Context, code int, message string) {
	c.JSON(http.StatusOK, Response{
		Code:      code,
		Message:   message,
		Retryable: true,
	})
}

func ParamError(c *gin.Context, message string) {
	Error(c, CodeParamError, message)
}

func Forbidden(c *gin.Context, message string) {
	Error(c, CodeForbidden, message)
}

func ServerError(c *gin.Context, message string) {
	Error(c, CodeServerError, message)
}

func BusinessError(c *gin.Context, code int, message string) {
	Error(c, code, message)
}
