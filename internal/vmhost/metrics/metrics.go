// Package metrics Prometheus 指标
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jimyag/vmhost/pkg/apierror"
)

const namespace = "vmhost"

// 操作结果
const (
	ResultSuccess  = "success"
	ResultError    = "error"
	ResultTimeout  = "timeout"
	resultInternal = "internal"
)

// Metrics 指标集合，每个实例使用独立的 registry
type Metrics struct {
	registry *prometheus.Registry

	operations      *prometheus.CounterVec
	inFlight        prometheus.Gauge
	adapterCalls    *prometheus.CounterVec
	adapterDuration *prometheus.HistogramVec
}

// New 创建并注册所有指标
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Lifecycle operations by action and result code.",
		}, []string{"action", "code"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "operations_in_flight",
			Help:      "Lifecycle operations currently holding a VM.",
		}),
		adapterCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "adapter_calls_total",
			Help:      "Provisioning backend calls by backend, operation and result.",
		}, []string{"backend", "op", "result"}),
		adapterDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "adapter_call_duration_seconds",
			Help:      "Provisioning backend call latency.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"backend", "op"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.operations,
		m.inFlight,
		m.adapterCalls,
		m.adapterDuration,
	)
	return m
}

// Registry 返回底层 registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler /metrics handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveOperation 记录一次生命周期操作的结果
func (m *Metrics) ObserveOperation(action string, err error) {
	m.operations.WithLabelValues(action, Code(err)).Inc()
}

// OperationStarted 进入操作，返回的函数在操作结束时调用
func (m *Metrics) OperationStarted() func() {
	m.inFlight.Inc()
	return m.inFlight.Dec
}

// ObserveAdapterCall 记录一次后端调用
func (m *Metrics) ObserveAdapterCall(backend, op string, started time.Time, err error) {
	m.adapterDuration.WithLabelValues(backend, op).Observe(time.Since(started).Seconds())
	result := ResultSuccess
	switch {
	case isTimeout(err):
		result = ResultTimeout
	case err != nil:
		result = ResultError
	}
	m.adapterCalls.WithLabelValues(backend, op, result).Inc()
}

// Code 把 error 转换为指标标签，nil 为 success
func Code(err error) string {
	if err == nil {
		return ResultSuccess
	}
	var apiErr *apierror.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return resultInternal
}

// isTimeout ErrAdapter 和 ErrAdapterTimeout 共用 Code，用 HTTP 状态区分
func isTimeout(err error) bool {
	var apiErr *apierror.Error
	return errors.As(err, &apiErr) && apiErr.HTTPStatus == apierror.ErrAdapterTimeout.HTTPStatus
}
