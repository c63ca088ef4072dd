package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind 错误分类，决定对外的 HTTP 状态码和是否需要告警
type Kind string

const (
	KindValidation         Kind = "validation"
	KindNotFound           Kind = "not_found"
	KindConflict           Kind = "conflict"
	KindAuthentication     Kind = "authentication"
	KindAuthorization      Kind = "authorization"
	KindExternalDependency Kind = "external_dependency"
	KindIntegrity          Kind = "integrity"
	KindRateLimited        Kind = "rate_limited"
	KindInternal           Kind = "internal"
)

// Error 业务错误
type Error struct {
	Kind Kind
	Code int
	Msg  string
	Err  error
}

func New(kind Kind, code int, msg string) *Error {
	return &Error{Kind: kind, Code: code, Msg: msg}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%d:%s: %v", e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("%d:%s", e.Code, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is 按错误码比较，使 errors.Is(err, ErrOrderNotFound) 对 Wrap 之后的错误也成立
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Wrap 返回携带底层原因的副本，哨兵错误本身不会被修改
func (e *Error) Wrap(err error) *Error {
	return &Error{Kind: e.Kind, Code: e.Code, Msg: e.Msg, Err: err}
}

// WithMsg 返回替换了提示信息的副本
func (e *Error) WithMsg(msg string) *Error {
	return &Error{Kind: e.Kind, Code: e.Code, Msg: msg, Err: e.Err}
}

// KindOf 未知错误一律视为 internal
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// HTTPStatus 按错误分类映射 HTTP 状态码
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindAuthorization:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindExternalDependency:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// NeedsAlert integrity 和 external_dependency 类错误必须记录错误日志
func NeedsAlert(kind Kind) bool {
	switch kind {
	case KindIntegrity, KindExternalDependency, KindInternal:
		return true
	}
	return false
}

var (
	ErrInvalidParam = New(KindValidation, 1_0001, "invalid param")
	ErrUnauthorized = New(KindAuthentication, 1_0002, "unauthorized")
	ErrInternal     = New(KindInternal, 1_0003, "internal server error")

	ErrInvalidOrExpiredCode = New(KindAuthentication, 2_0001, "verification code invalid or expired")
	ErrAlreadyRegistered    = New(KindConflict, 2_0002, "account already registered")
	ErrUserNotFound         = New(KindNotFound, 2_0003, "user not found")
	ErrInvalidCredentials   = New(KindAuthentication, 2_0004, "invalid credentials")
	ErrDeliveryFailed       = New(KindExternalDependency, 2_0005, "verification code delivery failed")
	ErrTooFrequent          = New(KindRateLimited, 2_0006, "verification code requested too frequently")

	ErrInvalidAmount    = New(KindValidation, 3_0001, "amount must be greater than 0")
	ErrInvalidMethod    = New(KindValidation, 3_0002, "unsupported payment method")
	ErrOrderNotFound    = New(KindNotFound, 3_0003, "order not found")
	ErrAmountMismatch   = New(KindIntegrity, 3_0004, "callback amount mismatch")
	ErrForbidden        = New(KindAuthorization, 3_0005, "no permission to access this order")
	ErrOrderNoCollision = New(KindIntegrity, 3_0006, "order number collision")
	ErrInvalidCallback  = New(KindValidation, 3_0007, "malformed callback payload")
	ErrAlreadyCredited  = New(KindIntegrity, 3_0008, "order already has a ledger entry")
)
