package ginx

import (
	"net/http"
	"reflect"

	"github.com/gin-gonic/gin"

	"github.com/jimyag/vmhost/pkg/apierror"
)

// Response 成功响应的信封
type Response struct {
	Success    bool `json:"success"`
	Data       any  `json:"data,omitempty"`
	Pagination any  `json:"pagination,omitempty"`
}

// Paged 分页结果，列表和分页信息分开放在信封里
type Paged interface {
	PageItems() any
	PageInfo() any
}

// renderResponse 渲染成功响应
func renderResponse(ctx *gin.Context, response any) {
	if isNil(response) {
		ctx.JSON(statusOrOK(ctx), Response{Success: true})
		return
	}

	if p, ok := response.(Paged); ok {
		ctx.JSON(statusOrOK(ctx), Response{
			Success:    true,
			Data:       p.PageItems(),
			Pagination: p.PageInfo(),
		})
		return
	}

	ctx.JSON(statusOrOK(ctx), Response{Success: true, Data: response})
}

// renderError 渲染错误响应
// 非 *apierror.Error 的错误按 InternalError 处理，原始错误不会输出给调用方
func renderError(ctx *gin.Context, err error) {
	apiErr := apierror.From(err)
	statusCode := apiErr.HTTPStatus
	if statusCode == 0 {
		statusCode = http.StatusInternalServerError
	}
	_ = ctx.Error(err)
	ctx.AbortWithStatusJSON(statusCode, apierror.NewErrorResponse(RequestID(ctx), apiErr))
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Interface:
		return rv.IsNil()
	}
	return false
}
