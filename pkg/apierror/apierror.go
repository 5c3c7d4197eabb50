// Package apierror 提供统一的错误类型，用于 vmhost 所有层的错误处理
package apierror

import (
	"errors"
	"fmt"
)

// ErrorResponse 错误响应结构
type ErrorResponse struct {
	Success   bool   `json:"success"`
	Error     *Error `json:"error"`
	RequestID string `json:"requestID,omitempty"`
}

// Error 单个错误信息
type Error struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Retryable  bool   `json:"retryable,omitempty"` // 调用方是否可以重试（仅后端错误为 true）
	HTTPStatus int    `json:"-"`                   // HTTP 状态码，不会序列化到响应中
	RawError   error  `json:"-"`                   // 内部错误，用于服务端调试，不会序列化到响应中
}

// Error 实现 error 接口
func (e *Error) Error() string {
	str := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.RawError != nil {
		str += fmt.Sprintf(" (RawError: %v)", e.RawError)
	}
	return str
}

// Is 实现 errors.Is 接口，用于错误类型判断
// 如果 target 是 *Error 类型且 Code 相同，则返回 true
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}

	t, ok := target.(*Error)
	if !ok {
		return false
	}

	if e == nil || t == nil {
		return false
	}

	return e.Code == t.Code
}

// Unwrap 实现 errors.Unwrap 接口，返回底层错误
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.RawError
}

// 编译时检查 Error 是否实现了所有必需的接口
var _ interface {
	Error() string
	Is(target error) bool
	Unwrap() error
} = (*Error)(nil)

// NewErrorResponse 创建新的错误响应
func NewErrorResponse(requestID string, err *Error) *ErrorResponse {
	return &ErrorResponse{
		Success:   false,
		Error:     err,
		RequestID: requestID,
	}
}

// WrapError 包装预定义的错误，添加原始错误信息
// 保留预定义错误的 Code、HTTPStatus 和 Retryable，使用自定义消息和原始错误
func WrapError(baseErr *Error, message string, rawError error) *Error {
	return &Error{
		Code:       baseErr.Code,
		Message:    message,
		Retryable:  baseErr.Retryable,
		HTTPStatus: baseErr.HTTPStatus,
		RawError:   rawError,
	}
}

// Errorf 基于预定义错误创建格式化消息的错误
func Errorf(baseErr *Error, format string, args ...any) *Error {
	return WrapError(baseErr, fmt.Sprintf(format, args...), nil)
}

// From 从任意错误中提取 *Error
// 非 *Error 的错误统一包装为 ErrInternal
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return WrapError(ErrInternal, "An internal error has occurred", err)
}
