package apierror

import "net/http"

// 错误分类
// 校验、冲突和不存在错误在调用后端之前检测，不产生副作用
// 后端错误包装底层原因，状态保持在最后一次已知的正确值
var (
	// ErrValidation 调用方输入不合法
	ErrValidation = &Error{
		Code:       "ValidationError",
		Message:    "The request is invalid.",
		HTTPStatus: http.StatusBadRequest,
	}

	// ErrNotFound VM 或快照不存在
	ErrNotFound = &Error{
		Code:       "NotFound",
		Message:    "The requested resource does not exist.",
		HTTPStatus: http.StatusNotFound,
	}

	// ErrConflict 非法状态转换、名称重复或同一 VM 上有进行中的操作
	ErrConflict = &Error{
		Code:       "Conflict",
		Message:    "The request conflicts with the current state of the resource.",
		HTTPStatus: http.StatusConflict,
	}

	// ErrOperationInProgress 同一 VM 上已有一个进行中的操作
	// Code 与 ErrConflict 相同，errors.Is(err, ErrConflict) 成立
	ErrOperationInProgress = &Error{
		Code:       "Conflict",
		Message:    "operation already in progress",
		HTTPStatus: http.StatusConflict,
	}

	// ErrAdapter 调用 provisioning 后端失败
	ErrAdapter = &Error{
		Code:       "AdapterError",
		Message:    "The provisioning backend call failed.",
		Retryable:  true,
		HTTPStatus: http.StatusBadGateway,
	}

	// ErrAdapterTimeout 调用 provisioning 后端超时
	// 后端的副作用可能已经发生，重试前需要确认真实状态
	ErrAdapterTimeout = &Error{
		Code:       "AdapterError",
		Message:    "The provisioning backend call timed out.",
		Retryable:  true,
		HTTPStatus: http.StatusGatewayTimeout,
	}

	// ErrInternal 发生了内部错误
	ErrInternal = &Error{
		Code:       "InternalError",
		Message:    "An internal error has occurred.",
		HTTPStatus: http.StatusInternalServerError,
	}
)
