package ginx

import (
	"net/http"
	"reflect"

	"github.com/gin-gonic/gin"

	"github.com/jimyag/vmhost/pkg/apierror"
)

// Adapt2 适配无参数、只有返回值的 handler
func Adapt2[T any](fn func(*gin.Context) T) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		renderResponse(ctx, fn(ctx))
	}
}

// Adapt3 适配无参数、有返回值和 error 的 handler
func Adapt3[T any](fn func(*gin.Context) (T, error)) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		result, err := fn(ctx)
		if err != nil {
			renderError(ctx, err)
			return
		}
		renderResponse(ctx, result)
	}
}

// Adapt5 适配有参数、有返回值和 error 的 handler
func Adapt5[TArgs any, TResp any](fn func(*gin.Context, *TArgs) (TResp, error)) gin.HandlerFunc {
	var argsType TArgs
	argsTypeValue := reflect.TypeOf(argsType)

	return func(ctx *gin.Context) {
		args := reflect.New(argsTypeValue).Interface()

		if err := bindArgs(ctx, args); err != nil {
			renderError(ctx, apierror.WrapError(apierror.ErrValidation, err.Error(), err))
			return
		}

		// 验证参数（如果实现了 IsValid 方法）
		if validator, ok := args.(interface{ IsValid() error }); ok {
			if err := validator.IsValid(); err != nil {
				renderError(ctx, apierror.WrapError(apierror.ErrValidation, err.Error(), err))
				return
			}
		}

		result, err := fn(ctx, args.(*TArgs))
		if err != nil {
			renderError(ctx, err)
			return
		}

		renderResponse(ctx, result)
	}
}

// statusOrOK handler 可以在返回前通过 ctx.Status 指定成功状态码（例如 201）
func statusOrOK(ctx *gin.Context) int {
	if !ctx.Writer.Written() && ctx.Writer.Status() != http.StatusOK && ctx.Writer.Status() != 0 {
		return ctx.Writer.Status()
	}
	return http.StatusOK
}
