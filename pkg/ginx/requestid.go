package ginx

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// HeaderRequestID 请求 ID 的 header
const HeaderRequestID = "X-Request-ID"

type requestIDKey struct{}

// RequestIDMiddleware 为每个请求分配 request id，并把带 request_id 的 logger 挂到请求 context 上
// 客户端传入的 X-Request-ID 会被沿用
func RequestIDMiddleware(logger zerolog.Logger) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		id := ctx.GetHeader(HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		ctx.Set(requestIDKey{}, id)
		ctx.Header(HeaderRequestID, id)

		l := logger.With().Str("request_id", id).Logger()
		ctx.Request = ctx.Request.WithContext(l.WithContext(ctx.Request.Context()))
		ctx.Next()
	}
}

// RequestID 返回当前请求的 request id，没有时返回空字符串
func RequestID(ctx *gin.Context) string {
	v, ok := ctx.Get(requestIDKey{})
	if !ok {
		return ""
	}
	id, _ := v.(string)
	return id
}
