package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind 错误分类
type Kind string

const (
	KindValidation         Kind = "ValidationError"    // 本地前置校验失败
	KindUnauthorized       Kind = "Unauthorized"       // 调用方角色不符
	KindIllegalTransition  Kind = "IllegalTransition"  // 实体当前状态不允许该迁移
	KindGatewayUnavailable Kind = "GatewayUnavailable" // 账本网关不可用
	KindNotFound           Kind = "NotFound"           // 项目/里程碑不存在
)

// RuleUnknown 无法识别的账本拒绝原因
const RuleUnknown = "unknown reason"

// Error 业务错误
type Error struct {
	Kind    Kind   // 错误分类
	Rule    string // 违反的规则
	Message string // 描述
	State   string // 实体当前状态（IllegalTransition 时填写）
	Cause   error  // 底层错误
}

// 用于 errors.Is 的哨兵错误，只比较 Kind
var (
	ErrValidation         = &Error{Kind: KindValidation}
	ErrUnauthorized       = &Error{Kind: KindUnauthorized}
	ErrIllegalTransition  = &Error{Kind: KindIllegalTransition}
	ErrGatewayUnavailable = &Error{Kind: KindGatewayUnavailable}
	ErrNotFound           = &Error{Kind: KindNotFound}
)

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Rule != "" {
		b.WriteString(" [")
		b.WriteString(e.Rule)
		b.WriteString("]")
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.State != "" {
		b.WriteString(" (current state: ")
		b.WriteString(e.State)
		b.WriteString(")")
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is 按 Kind 匹配；目标带 Rule 时还需 Rule 相同
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Rule == "" || t.Rule == e.Rule
}

// Unknown 是否为未识别的账本拒绝
func (e *Error) Unknown() bool {
	return e.Kind == KindIllegalTransition && e.Rule == RuleUnknown
}

// Validation 创建校验错误
func Validation(rule, format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidation, Rule: rule, Message: fmt.Sprintf(format, args...)}
}

// Unauthorized 创建角色不符错误
func Unauthorized(rule, format string, args ...interface{}) *Error {
	return &Error{Kind: KindUnauthorized, Rule: rule, Message: fmt.Sprintf(format, args...)}
}

// IllegalTransition 创建非法状态迁移错误
func IllegalTransition(rule, state, format string, args ...interface{}) *Error {
	return &Error{Kind: KindIllegalTransition, Rule: rule, State: state, Message: fmt.Sprintf(format, args...)}
}

// NotFound 创建不存在错误
func NotFound(format string, args ...interface{}) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// Unavailable 包装网关传输错误
func Unavailable(cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: KindGatewayUnavailable, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// As 取出链路上的 *Error
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf 返回错误分类，非业务错误返回空
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return ""
}

// HTTPStatus 错误分类对应的 HTTP 状态码
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusForbidden
	case KindIllegalTransition:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	case KindGatewayUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
