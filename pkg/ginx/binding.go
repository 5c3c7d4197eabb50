package ginx

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
)

// bindArgs 绑定请求参数到 args 结构体
// 顺序：URI 参数 > Query 参数（仅 GET）> JSON Body（有 body 时）
// 任何一步失败都直接返回，body 中的未知字段会被拒绝
func bindArgs(ctx *gin.Context, args any) error {
	if len(ctx.Params) > 0 {
		if err := ctx.ShouldBindUri(args); err != nil {
			return err
		}
	}

	if ctx.Request.Method == http.MethodGet {
		if err := ctx.ShouldBindQuery(args); err != nil {
			return err
		}
	}

	if hasBody(ctx.Request) {
		return bindStrictJSON(ctx.Request, args)
	}
	return nil
}

func bindStrictJSON(req *http.Request, args any) error {
	dec := json.NewDecoder(req.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(args); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	if dec.More() {
		return fmt.Errorf("invalid request body: trailing data")
	}
	if binding.Validator == nil {
		return nil
	}
	return binding.Validator.ValidateStruct(args)
}

// hasBody ContentLength 为 -1 表示 chunked，长度未知
func hasBody(req *http.Request) bool {
	return req.Body != nil && req.Body != http.NoBody && req.ContentLength != 0
}
