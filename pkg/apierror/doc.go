// Package apierror 提供 vmhost 的统一错误类型
//
// 错误分为四类，通过 Code 区分，使用 errors.Is 判断：
//
//   - ValidationError: 调用方输入不合法（400）
//   - NotFound: VM 或快照不存在（404）
//   - Conflict: 非法状态转换、名称重复、操作进行中（409）
//   - AdapterError: provisioning 后端调用失败或超时（502/504，可重试）
//
// JSON 格式：
//
//	{
//	    "success": false,
//	    "error": {
//	        "code": "Conflict",
//	        "message": "cannot start vm vm-123 in state running"
//	    },
//	    "requestID": "ea966190-f9aa-478e-9ede-example"
//	}
//
// 使用示例：
//
//	// 基于预定义错误创建
//	err := apierror.Errorf(apierror.ErrNotFound, "vm %s not found", id)
//
//	// 包装后端错误
//	err := apierror.WrapError(apierror.ErrAdapter, "halt failed", cause)
//
//	// 判断类型
//	if errors.Is(err, apierror.ErrConflict) { ... }
package apierror
