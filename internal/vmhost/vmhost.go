// Package vmhost 提供 vmhost 服务器的主入口和初始化逻辑
package vmhost

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jimmicro/grace"
	"github.com/rs/zerolog"

	"github.com/jimyag/vmhost/internal/vmhost/api"
	"github.com/jimyag/vmhost/internal/vmhost/config"
	"github.com/jimyag/vmhost/internal/vmhost/events"
	"github.com/jimyag/vmhost/internal/vmhost/metrics"
	"github.com/jimyag/vmhost/internal/vmhost/repository"
	"github.com/jimyag/vmhost/internal/vmhost/service"
	"github.com/jimyag/vmhost/internal/vmhost/store"
	"github.com/jimyag/vmhost/pkg/provisioner"
	"github.com/jimyag/vmhost/pkg/provisioner/libvirt"
	"github.com/jimyag/vmhost/pkg/provisioner/memory"
	"github.com/jimyag/vmhost/pkg/provisioner/vagrant"
)

const shutdownTimeout = 30 * time.Second

type Server struct {
	cfg       *config.Config
	api       *api.API
	service   *service.VMService
	store     store.Store
	publisher events.Publisher
	closers   []func() error
}

func New(cfg *config.Config) (*Server, error) {
	logger := zerolog.New(os.Stdout).Level(cfg.LogLevel()).With().Timestamp().Logger()
	zerolog.DefaultContextLogger = &logger

	s := &Server{cfg: cfg}
	ok := false
	defer func() {
		if !ok {
			s.close()
		}
	}()

	// 1. 创建 Record Store
	st, err := newStore(cfg)
	if err != nil {
		return nil, err
	}
	s.store = st
	s.closers = append(s.closers, st.Close)
	logger.Info().Str("driver", cfg.Store.Driver).Str("path", cfg.Store.Path).Msg("Record store ready")

	// 2. 创建 provisioning 后端
	prov, closeProv, err := newProvisioner(cfg)
	if err != nil {
		return nil, err
	}
	if closeProv != nil {
		s.closers = append(s.closers, closeProv)
	}
	logger.Info().Str("backend", prov.Name()).Msg("Provisioner ready")

	// 3. 事件发布，未配置 NATS 时不发布
	s.publisher = events.Nop{}
	if cfg.Events.NATSURL != "" {
		pub, err := events.NewNATSPublisher(cfg.Events.NATSURL, cfg.Events.SubjectPrefix, logger)
		if err != nil {
			return nil, err
		}
		s.publisher = pub
		s.closers = append(s.closers, pub.Close)
		logger.Info().Str("url", cfg.Events.NATSURL).Msg("Publishing lifecycle events to NATS")
	}

	// 4. 创建 VM Service
	m := metrics.New()
	s.service = service.NewVMService(st, prov,
		service.WithAdapterTimeout(cfg.AdapterTimeout),
		service.WithPublisher(s.publisher),
		service.WithMetrics(m),
	)

	// 5. 创建 API
	s.api = api.New(cfg.Address, s.service, m, logger)

	ok = true
	return s, nil
}

func newStore(cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Driver {
	case config.StoreMemory:
		return store.NewMemoryStore(), nil
	case config.StoreSQLite:
		repo, err := repository.New(cfg.Store.Path)
		if err != nil {
			return nil, fmt.Errorf("create sqlite store: %w", err)
		}
		return repo, nil
	case config.StoreBadger:
		bs, err := store.NewBadgerStore(cfg.Store.Path)
		if err != nil {
			return nil, fmt.Errorf("create badger store: %w", err)
		}
		return bs, nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
}

// newProvisioner 返回的 close 函数可能为 nil
func newProvisioner(cfg *config.Config) (provisioner.Provisioner, func() error, error) {
	switch cfg.Provisioner.Driver {
	case config.ProvisionerVagrant:
		c, err := vagrant.New(vagrant.Config{
			Binary:   cfg.Provisioner.Vagrant.Binary,
			Provider: cfg.Provisioner.Vagrant.Provider,
			RootDir:  cfg.Provisioner.Vagrant.RootDir,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("create vagrant provisioner: %w", err)
		}
		return c, nil, nil
	case config.ProvisionerLibvirt:
		c, err := libvirt.New(libvirt.Config{
			URI:      cfg.Provisioner.Libvirt.URI,
			Network:  cfg.Provisioner.Libvirt.Network,
			ImageDir: cfg.Provisioner.Libvirt.ImageDir,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("create libvirt provisioner: %w", err)
		}
		return c, c.Close, nil
	case config.ProvisionerMemory:
		return memory.New(), nil, nil
	}
	return nil, nil, fmt.Errorf("unknown provisioner driver %q", cfg.Provisioner.Driver)
}

// Service 返回 VM 服务
func (s *Server) Service() *service.VMService {
	return s.service
}

func (s *Server) Run(ctx context.Context) error {
	defer s.close()

	// 使用 grace.Shepherd 管理服务生命周期
	services := []grace.Grace{
		s.api,
	}

	shepherd := grace.NewShepherd(
		services,
		grace.WithTimeout(shutdownTimeout),
		grace.WithLogger(&zerologLogger{}),
	)

	shepherd.Start(ctx)
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return errors.Join(s.api.Shutdown(ctx), s.close())
}

// Name 实现 grace.Grace 接口
func (s *Server) Name() string {
	return "vmhost"
}

// close 按创建的逆序关闭资源，只执行一次
func (s *Server) close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

// zerologLogger 实现 grace.Logger 接口
type zerologLogger struct{}

func (l *zerologLogger) Info(msg string, args ...interface{}) {
	logger := zerolog.DefaultContextLogger.Info()
	// 如果有参数，使用 Msgf 格式化消息
	if len(args) > 0 {
		logger.Msgf(msg, args...)
	} else {
		logger.Msg(msg)
	}
}

func (l *zerologLogger) Error(msg string, args ...interface{}) {
	logger := zerolog.DefaultContextLogger.Error()
	if len(args) > 0 {
		logger.Msgf(msg, args...)
	} else {
		logger.Msg(msg)
	}
}
