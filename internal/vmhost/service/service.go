// Package service VM 生命周期管理
//
// VMService 是唯一可以修改 VM 状态的组件：校验状态转换、调用 provisioning 后端、
// 提交新的状态。后端调用期间不持有 store 的锁，同一个 VM 同一时间最多一个进行中的操作。
package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/jimyag/vmhost/internal/vmhost/entity"
	"github.com/jimyag/vmhost/internal/vmhost/events"
	"github.com/jimyag/vmhost/internal/vmhost/metrics"
	"github.com/jimyag/vmhost/internal/vmhost/store"
	"github.com/jimyag/vmhost/pkg/idgen"
	"github.com/jimyag/vmhost/pkg/provisioner"
)

// DefaultAdapterTimeout 单次后端调用的默认超时
const DefaultAdapterTimeout = 10 * time.Minute

// ClientChecker 可选的客户存在性校验
type ClientChecker interface {
	ClientExists(ctx context.Context, clientID string) (bool, error)
}

// VMService VM 生命周期管理
type VMService struct {
	store          store.Store
	provisioner    provisioner.Provisioner
	publisher      events.Publisher
	metrics        *metrics.Metrics
	clients        ClientChecker
	idGen          *idgen.Generator
	now            func() time.Time
	adapterTimeout time.Duration
	guard          opGuard
}

// Option VMService 的可选配置
type Option func(*VMService)

// WithAdapterTimeout 设置单次后端调用的超时
func WithAdapterTimeout(d time.Duration) Option {
	return func(s *VMService) {
		if d > 0 {
			s.adapterTimeout = d
		}
	}
}

// WithPublisher 设置事件发布
func WithPublisher(p events.Publisher) Option {
	return func(s *VMService) {
		if p != nil {
			s.publisher = p
		}
	}
}

// WithMetrics 设置指标
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *VMService) {
		s.metrics = m
	}
}

// WithClientChecker 创建 VM 时校验 clientId 是否存在
func WithClientChecker(c ClientChecker) Option {
	return func(s *VMService) {
		s.clients = c
	}
}

// WithClock 替换时间来源
func WithClock(now func() time.Time) Option {
	return func(s *VMService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewVMService 创建 VMService
func NewVMService(st store.Store, prov provisioner.Provisioner, opts ...Option) *VMService {
	s := &VMService{
		store:          st,
		provisioner:    prov,
		publisher:      events.Nop{},
		idGen:          idgen.DefaultGenerator(),
		now:            func() time.Time { return time.Now().UTC() },
		adapterTimeout: DefaultAdapterTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Provisioner 返回当前使用的后端
func (s *VMService) Provisioner() provisioner.Provisioner {
	return s.provisioner
}

// finish 每个公开操作结束时调用：记录指标、发布事件
// vm 为 nil 时（例如校验失败、VM 不存在）不发布事件
func (s *VMService) finish(ctx context.Context, action entity.Action, from entity.Status, vm *entity.VM, err error) {
	if s.metrics != nil {
		s.metrics.ObserveOperation(string(action), err)
	}
	if vm == nil {
		return
	}
	ev := events.NewEvent(action, from, vm, err)
	if pubErr := s.publisher.Publish(context.WithoutCancel(ctx), ev); pubErr != nil {
		zerolog.Ctx(ctx).Warn().
			Err(pubErr).
			Str("vm_id", vm.ID).
			Str("event", ev.Type).
			Msg("Failed to publish lifecycle event")
	}
}

func (s *VMService) track() func() {
	if s.metrics == nil {
		return func() {}
	}
	return s.metrics.OperationStarted()
}
