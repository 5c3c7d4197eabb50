// Package ginx 提供 gin 框架的 handler 适配器，支持自动参数绑定和统一的响应信封
//
// 成功响应：
//
//	{"success": true, "data": ..., "pagination": {...}}
//
// 错误响应（错误码和 HTTP 状态码来自 apierror）：
//
//	{"success": false, "error": {"code": "Conflict", "message": "..."}, "requestID": "..."}
//
// 支持的 handler 函数签名：
//
//	// 有参数，有返回值，有 error
//	func(c *gin.Context, args *Args) (resp, error)
//
//	// 无参数，有返回值，有 error
//	func(c *gin.Context) (resp, error)
//
//	// 无参数，只有返回值
//	func(c *gin.Context) resp
//
// 参数按 URI、Query（仅 GET）、JSON Body 的顺序绑定；
// 参数类型实现了 IsValid() error 时会在调用 handler 之前校验，失败返回 ValidationError。
//
// 使用示例：
//
//	router := gin.New()
//	router.Use(ginx.RequestIDMiddleware(logger))
//	router.POST("/api/vms/:id/start", ginx.Adapt5(func(c *gin.Context, args *entity.VMRequest) (*entity.VM, error) {
//	    return svc.Start(c.Request.Context(), args.ID)
//	}))
package ginx
