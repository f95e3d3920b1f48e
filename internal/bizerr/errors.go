package bizerr

import (
	"errors"
	"fmt"
)

// Kind 错误类别，调用方据此决定是否重试
type Kind int

const (
	KindValidation Kind = iota + 1 // 参数校验失败，不重试
	KindBusiness                   // 业务规则拒绝，终态
	KindContention                 // 锁竞争，可退避重试
	KindDependency                 // 依赖失败（定价/存储），未提交，可重试
	KindInvariant                  // 不变量被破坏，事务已中止
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindBusiness:
		return "business"
	case KindContention:
		return "contention"
	case KindDependency:
		return "dependency"
	case KindInvariant:
		return "invariant"
	default:
		return "unknown"
	}
}

// Error 账务引擎统一错误
//
// 同一 Code 的错误在 errors.Is 下视为相等，Message 可以携带具体原因。
type Error struct {
	Kind    Kind
	Code    string
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.cause
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Retryable 调用方是否可以重试
func (e *Error) Retryable() bool {
	return e.Kind == KindContention || e.Kind == KindDependency
}

func newError(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

var (
	ErrInvalidParameter = newError(KindValidation, "INVALID_PARAMETER", "参数错误")

	ErrDuplicateOrder      = newError(KindBusiness, "DUPLICATE_ORDER", "重复订单")
	ErrAccountNotFound     = newError(KindBusiness, "ACCOUNT_NOT_FOUND", "账户不存在")
	ErrAccountUnavailable  = newError(KindBusiness, "ACCOUNT_UNAVAILABLE", "账户不可用")
	ErrInsufficientBalance = newError(KindBusiness, "INSUFFICIENT_BALANCE", "余额不足")
	ErrLimitExceeded       = newError(KindBusiness, "LIMIT_EXCEEDED", "超出消费限额")
	ErrAlreadyRefunded     = newError(KindBusiness, "ALREADY_REFUNDED", "已全额退款")
	ErrRefundExceedsCharge = newError(KindBusiness, "REFUND_EXCEEDS_CHARGE", "退款金额超过可退金额")
	ErrRefundNotAllowed    = newError(KindBusiness, "REFUND_NOT_ALLOWED", "消费记录状态不允许退款")
	ErrRecordNotFound      = newError(KindBusiness, "RECORD_NOT_FOUND", "记录不存在")

	ErrAccountBusy = newError(KindContention, "ACCOUNT_BUSY", "账户繁忙，请稍后重试")

	ErrPricingFailed      = newError(KindDependency, "PRICING_FAILED", "定价失败")
	ErrStorageUnavailable = newError(KindDependency, "STORAGE_UNAVAILABLE", "存储不可用")

	ErrInvariantViolation = newError(KindInvariant, "INVARIANT_VIOLATION", "账务不变量校验失败")
)

// Wrap 基于哨兵错误生成携带详情的错误
func Wrap(sentinel *Error, detail string) *Error {
	return &Error{
		Kind:    sentinel.Kind,
		Code:    sentinel.Code,
		Message: fmt.Sprintf("%s: %s", sentinel.Message, detail),
	}
}

// WithCause 基于哨兵错误包装底层原因
func WithCause(sentinel *Error, cause error) *Error {
	return &Error{
		Kind:    sentinel.Kind,
		Code:    sentinel.Code,
		Message: sentinel.Message,
		cause:   cause,
	}
}

// InvalidParam 参数缺失或非法，field 为字段名
func InvalidParam(field string) *Error {
	return Wrap(ErrInvalidParameter, field)
}

// As 提取链路上的 *Error
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf 返回错误类别，非 *Error 视为依赖失败
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindDependency
}

// CodeOf 返回错误码，非 *Error 返回 INTERNAL
func CodeOf(err error) string {
	if err == nil {
		return "OK"
	}
	if e, ok := As(err); ok {
		return e.Code
	}
	return "INTERNAL"
}

// IsRetryable 是否为可重试错误
func IsRetryable(err error) bool {
	if e, ok := As(err); ok {
		return e.Retryable()
	}
	return false
}
