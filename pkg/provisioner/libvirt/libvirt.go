// Package libvirt 基于 libvirt RPC 的 KVM provisioning 后端
//
//	create  -> 生成 cloud-init 种子（有静态网络时）+ DomainDefineXML（只定义，不启动）
//	start   -> DomainCreate
//	halt    -> DomainShutdown，轮询 DomainGetState 直到 shutoff
//	destroy -> DomainDestroy（运行中时）+ DomainUndefineFlags + 删除种子
//	suspend -> DomainSuspend
//	resume  -> DomainResume
package libvirt

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/digitalocean/go-libvirt"
	"github.com/rs/zerolog"

	"github.com/jimyag/vmhost/pkg/cloudinit"
	"github.com/jimyag/vmhost/pkg/provisioner"
)

const (
	defaultURI      = string(libvirt.QEMUSystem)
	defaultNetwork  = "default"
	defaultImageDir = "/var/lib/libvirt/images"

	defaultShutdownPoll = time.Second
)

// domainConn 需要用到的 libvirt 操作，*libvirt.Libvirt 直接满足
type domainConn interface {
	DomainLookupByName(name string) (libvirt.Domain, error)
	DomainDefineXML(xml string) (libvirt.Domain, error)
	DomainCreate(dom libvirt.Domain) error
	DomainGetState(dom libvirt.Domain, flags uint32) (int32, int32, error)
	DomainShutdown(dom libvirt.Domain) error
	DomainDestroy(dom libvirt.Domain) error
	DomainUndefineFlags(dom libvirt.Domain, flags libvirt.DomainUndefineFlagsValues) error
	DomainSuspend(dom libvirt.Domain) error
	DomainResume(dom libvirt.Domain) error
}

// seeder 生成和清理 cloud-init 种子 ISO，*cloudinit.ISOBuilder 直接满足
type seeder interface {
	Build(ctx context.Context, vmName string, seed *cloudinit.Seed) (string, error)
	Remove(vmName string) error
}

// Config libvirt 后端配置
type Config struct {
	URI      string // 默认 qemu:///system
	Network  string // 网卡接入的 libvirt 网络，默认 default
	ImageDir string // 相对镜像路径的根目录，种子 ISO 也写在这里
}

// Client libvirt 后端
type Client struct {
	conn     domainConn
	seeder   seeder
	closer   func() error

	shutdownPoll time.Duration
	network  string
	imageDir string
}

var (
	_ provisioner.Provisioner = (*Client)(nil)
	_ provisioner.Suspender   = (*Client)(nil)
)

// New 连接 libvirt
func New(cfg Config) (*Client, error) {
	if cfg.URI == "" {
		cfg.URI = defaultURI
	}
	uri, err := url.Parse(cfg.URI)
	if err != nil {
		return nil, fmt.Errorf("parse libvirt uri %q: %w", cfg.URI, err)
	}
	l, err := libvirt.ConnectToURI(uri)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to libvirt at %s: %w", cfg.URI, err)
	}

	c := newClient(l, cfg)
	c.closer = l.Disconnect
	return c, nil
}

func newClient(conn domainConn, cfg Config) *Client {
	if cfg.Network == "" {
		cfg.Network = defaultNetwork
	}
	if cfg.ImageDir == "" {
		cfg.ImageDir = defaultImageDir
	}
	return &Client{
		conn:     conn,
		seeder:   cloudinit.NewISOBuilder(cfg.ImageDir),

		shutdownPoll: defaultShutdownPoll,
		network:  cfg.Network,
		imageDir: cfg.ImageDir,
	}
}

// Close 断开连接
func (c *Client) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer()
}

// Name 实现 provisioner.Provisioner
func (c *Client) Name() string {
	return "libvirt"
}

// Create 定义域，不启动
func (c *Client) Create(ctx context.Context, name, box string, opts ...provisioner.CreateOption) error {
	if box == "" {
		return fmt.Errorf("image is required for domain %s", name)
	}

	options := provisioner.ApplyOptions(opts...)

	if err := call(ctx, func() error {
		if _, err := c.conn.DomainLookupByName(name); err == nil {
			return fmt.Errorf("domain %s already exists", name)
		}
		return nil
	}); err != nil {
		return err
	}

	var seedISO string
	if options.Network != nil {
		iso, err := c.seeder.Build(ctx, name, &cloudinit.Seed{
			Hostname: name,
			Network: &cloudinit.StaticNetwork{
				IP:      options.Network.IP,
				Subnet:  options.Network.Subnet,
				Gateway: options.Network.Gateway,
			},
		})
		if err != nil {
			return fmt.Errorf("build cloud-init seed for %s: %w", name, err)
		}
		seedISO = iso
	}

	err := call(ctx, func() error {
		xml, err := DomainXML(name, box, c.imageDir, c.network, seedISO, options)
		if err != nil {
			return err
		}
		if _, err := c.conn.DomainDefineXML(xml); err != nil {
			return fmt.Errorf("define domain %s: %w", name, err)
		}
		return nil
	})
	if err != nil {
		if seedISO != "" {
			if rmErr := c.seeder.Remove(name); rmErr != nil {
				zerolog.Ctx(ctx).Warn().Err(rmErr).Str("domain", name).Msg("Failed to remove cloud-init seed")
			}
		}
		return err
	}
	zerolog.Ctx(ctx).Debug().Str("domain", name).Str("seed", seedISO).Msg("Domain defined")
	return nil
}

// Start 启动域
func (c *Client) Start(ctx context.Context, name string) error {
	return c.withDomain(ctx, name, "start", c.conn.DomainCreate)
}

// Halt 发送 ACPI 关机并等待域进入 shutoff
// 客户机不响应 ACPI 时一直等到 ctx 结束，返回 ctx 的错误
func (c *Client) Halt(ctx context.Context, name string) error {
	return c.withDomain(ctx, name, "shutdown", func(dom libvirt.Domain) error {
		if err := c.conn.DomainShutdown(dom); err != nil {
			return err
		}
		return c.waitShutoff(ctx, dom)
	})
}

func (c *Client) waitShutoff(ctx context.Context, dom libvirt.Domain) error {
	ticker := time.NewTicker(c.shutdownPoll)
	defer ticker.Stop()

	for {
		state, _, err := c.conn.DomainGetState(dom, 0)
		if err != nil {
			return fmt.Errorf("get domain state: %w", err)
		}
		if libvirt.DomainState(state) == libvirt.DomainShutoff {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("wait for shutoff (last state %d): %w", state, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Suspend 暂停域
func (c *Client) Suspend(ctx context.Context, name string) error {
	return c.withDomain(ctx, name, "suspend", c.conn.DomainSuspend)
}

// Resume 恢复域
func (c *Client) Resume(ctx context.Context, name string) error {
	return c.withDomain(ctx, name, "resume", c.conn.DomainResume)
}

// Destroy 强制关闭（如果在运行）并取消定义
func (c *Client) Destroy(ctx context.Context, name string) error {
	return c.withDomain(ctx, name, "destroy", func(dom libvirt.Domain) error {
		state, _, err := c.conn.DomainGetState(dom, 0)
		if err != nil {
			return fmt.Errorf("get domain state: %w", err)
		}

		switch libvirt.DomainState(state) {
		case libvirt.DomainRunning, libvirt.DomainPaused, libvirt.DomainBlocked, libvirt.DomainPmsuspended:
			if err := c.conn.DomainDestroy(dom); err != nil {
				return fmt.Errorf("force stop: %w", err)
			}
		}

		flags := libvirt.DomainUndefineManagedSave |
			libvirt.DomainUndefineSnapshotsMetadata |
			libvirt.DomainUndefineNvram
		if err := c.conn.DomainUndefineFlags(dom, flags); err != nil {
			return fmt.Errorf("undefine: %w", err)
		}
		return c.seeder.Remove(name)
	})
}

func (c *Client) withDomain(ctx context.Context, name, action string, fn func(libvirt.Domain) error) error {
	return call(ctx, func() error {
		dom, err := c.conn.DomainLookupByName(name)
		if err != nil {
			if isNoDomain(err) {
				return fmt.Errorf("%w: domain %s", provisioner.ErrNotFound, name)
			}
			return fmt.Errorf("lookup domain %s: %w", name, err)
		}
		if err := fn(dom); err != nil {
			return fmt.Errorf("%s domain %s: %w", action, name, err)
		}
		return nil
	})
}

func isNoDomain(err error) bool {
	var lerr libvirt.Error
	return errors.As(err, &lerr) && lerr.Code == uint32(libvirt.ErrNoDomain)
}

// call libvirt RPC 不接受 context，在 goroutine 中执行并等待 ctx
// ctx 结束时立即返回，RPC 本身可能仍在后台完成
func call(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() {
		done <- fn()
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}
