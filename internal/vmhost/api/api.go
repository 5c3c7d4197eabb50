// Package api vmhost 的 REST 接口
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/jimyag/vmhost/internal/vmhost/metrics"
	"github.com/jimyag/vmhost/pkg/ginx"
)

type API struct {
	engine *gin.Engine
	server *http.Server

	vm *VM
}

// New 创建 API，m 为 nil 时不暴露 /metrics
func New(address string, vmService VMServiceInterface, m *metrics.Metrics, logger zerolog.Logger) *API {
	engine := gin.New()
	// handler 直接把 *gin.Context 作为 context 传给 service，需要回退到 request context 才能取到 logger
	engine.ContextWithFallback = true
	engine.Use(gin.Recovery(), ginx.RequestIDMiddleware(logger), accessLog())

	api := &API{
		engine: engine,
		vm:     NewVM(vmService),
	}

	engine.GET("/health", ginx.Adapt2(health))
	if m != nil {
		engine.GET("/metrics", gin.WrapH(m.Handler()))
	}
	api.vm.RegisterRoutes(engine.Group("/api"))

	api.server = &http.Server{
		Addr:              address,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return api
}

// Handler 返回 http.Handler，用于测试
func (a *API) Handler() http.Handler {
	return a.engine
}

// Run 实现 grace.Grace 接口
func (a *API) Run(ctx context.Context) error {
	zerolog.Ctx(ctx).Info().Str("address", a.server.Addr).Msg("API server listening")
	if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown 实现 grace.Grace 接口
func (a *API) Shutdown(ctx context.Context) error {
	return a.server.Shutdown(ctx)
}

// Name 实现 grace.Grace 接口
func (a *API) Name() string {
	return "vmhost-api"
}

type healthResponse struct {
	Status string `json:"status"`
}

func health(*gin.Context) *healthResponse {
	return &healthResponse{Status: "ok"}
}

func accessLog() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()
		ctx.Next()
		zerolog.Ctx(ctx.Request.Context()).Info().
			Str("method", ctx.Request.Method).
			Str("path", ctx.FullPath()).
			Int("status", ctx.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}
