package handler

import (
	"consumeledger/internal/bizerr"
	"consumeledger/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var codeTable = map[string]int{
	bizerr.ErrInvalidParameter.Code:    response.CodeParamError,
	bizerr.ErrDuplicateOrder.Code:      response.CodeDuplicateOrder,
	bizerr.ErrAccountNotFound.Code:     response.CodeAccountNotFound,
	bizerr.ErrAccountUnavailable.Code:  response.CodeAccountUnavailable,
	bizerr.ErrInsufficientBalance.Code: response.CodeBalanceNotEnough,
	bizerr.ErrLimitExceeded.Code:       response.CodeLimitExceeded,
	bizerr.ErrAlreadyRefunded.Code:     response.CodeAlreadyRefunded,
	bizerr.ErrRefundExceedsCharge.Code: response.CodeRefundExceedsCharge,
	bizerr.ErrRefundNotAllowed.Code:    response.CodeRefundNotAllowed,
	bizerr.ErrRecordNotFound.Code:      response.CodeRecordNotFound,
	bizerr.ErrAccountBusy.Code:         response.CodeAccountBusy,
	bizerr.ErrPricingFailed.Code:       response.CodePricingFailed,
	bizerr.ErrStorageUnavailable.Code:  response.CodeStorageUnavailable,
	bizerr.ErrInvariantViolation.Code:  response.CodeInvariantViolation,
}

// responseCode 业务错误码转换为接口错误码
func responseCode(err error) int {
	if code, ok := codeTable[bizerr.CodeOf(err)]; ok {
		return code
	}
	return response.CodeServerError
}

// fail 输出错误响应；依赖失败和不变量错误记录错误日志，原始原因不返回给调用方
func (h *Handler) fail(c *gin.Context, err error) {
	code := responseCode(err)

	e, ok := bizerr.As(err)
	if !ok {
		h.log.Error("未分类错误", zap.String("path", c.FullPath()), zap.Error(err))
		response.ServerError(c, "服务器内部错误")
		return
	}

	switch e.Kind {
	case bizerr.KindInvariant:
		h.log.Error("账务不变量校验失败", zap.String("path", c.FullPath()), zap.Error(err))
		response.BusinessError(c, code, e.Message)
	case bizerr.KindDependency, bizerr.KindContention:
		h.log.Warn("可重试错误", zap.String("path", c.FullPath()), zap.Error(err))
		response.Retry(c, code, e.Message)
	default:
		response.BusinessError(c, code, e.Message)
	}
}
