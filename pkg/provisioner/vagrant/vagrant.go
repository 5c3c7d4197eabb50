// Package vagrant 基于 Vagrant CLI 的 provisioning 后端
//
// 每台机器在 RootDir 下有一个独立目录，目录中是生成的 Vagrantfile，
// 所有命令都在该目录下执行：
//
//	create  -> 写 Vagrantfile，vagrant up [--provider X]，vagrant halt
//	start   -> vagrant up
//	halt    -> vagrant halt
//	destroy -> vagrant destroy -f，删除目录
//	suspend -> vagrant suspend
//	resume  -> vagrant resume
package vagrant

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"github.com/jimyag/vmhost/pkg/provisioner"
)

const (
	defaultBinary   = "vagrant"
	defaultProvider = "virtualbox"
	vagrantfileName = "Vagrantfile"
)

// Vagrant 主机名的合法字符
var machineNameRe = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9.-]*$`)

// Config Vagrant 后端配置
type Config struct {
	Binary   string // vagrant 可执行文件，默认 "vagrant"
	Provider string // --provider 参数，为空时使用 vagrant 的默认 provider
	RootDir  string // 机器目录的根目录（必填）
}

// Client Vagrant 后端
type Client struct {
	binary   string
	provider string
	rootDir  string
	runner   Runner
}

var (
	_ provisioner.Provisioner = (*Client)(nil)
	_ provisioner.Suspender   = (*Client)(nil)
)

// New 创建 Vagrant 后端
func New(cfg Config) (*Client, error) {
	if cfg.RootDir == "" {
		return nil, fmt.Errorf("vagrant root dir is required")
	}
	if cfg.Binary == "" {
		cfg.Binary = defaultBinary
	}
	if err := os.MkdirAll(cfg.RootDir, 0o755); err != nil {
		return nil, fmt.Errorf("create vagrant root dir %s: %w", cfg.RootDir, err)
	}
	return &Client{
		binary:   cfg.Binary,
		provider: cfg.Provider,
		rootDir:  cfg.RootDir,
		runner:   ExecRunner{},
	}, nil
}

// WithRunner 替换命令执行器
func (c *Client) WithRunner(r Runner) *Client {
	c.runner = r
	return c
}

// Name 实现 provisioner.Provisioner
func (c *Client) Name() string {
	return "vagrant"
}

// MachineDir 返回机器目录
func (c *Client) MachineDir(name string) string {
	return filepath.Join(c.rootDir, name)
}

// Create 写入 Vagrantfile 并创建机器，完成后机器处于关机状态
func (c *Client) Create(ctx context.Context, name, box string, opts ...provisioner.CreateOption) error {
	if !machineNameRe.MatchString(name) {
		return fmt.Errorf("invalid vagrant machine name %q", name)
	}
	if box == "" {
		return fmt.Errorf("box is required for machine %s", name)
	}

	content, err := RenderVagrantfile(name, box, c.provider, provisioner.ApplyOptions(opts...))
	if err != nil {
		return err
	}

	dir := c.MachineDir(name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create machine dir %s: %w", dir, err)
	}
	path := filepath.Join(dir, vagrantfileName)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("machine %s already exists at %s", name, dir)
		}
		return fmt.Errorf("create %s: %w", path, err)
	}
	if _, err := f.WriteString(content); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}

	args := []string{"up"}
	if c.provider != "" {
		args = append(args, "--provider", c.provider)
	}
	if err := c.run(ctx, name, args...); err != nil {
		return err
	}
	return c.run(ctx, name, "halt")
}

// Start 启动机器
func (c *Client) Start(ctx context.Context, name string) error {
	return c.runExisting(ctx, name, "up")
}

// Halt 关闭机器
func (c *Client) Halt(ctx context.Context, name string) error {
	return c.runExisting(ctx, name, "halt")
}

// Suspend 挂起机器
func (c *Client) Suspend(ctx context.Context, name string) error {
	return c.runExisting(ctx, name, "suspend")
}

// Resume 恢复挂起的机器
func (c *Client) Resume(ctx context.Context, name string) error {
	return c.runExisting(ctx, name, "resume")
}

// Destroy 销毁机器并删除机器目录
func (c *Client) Destroy(ctx context.Context, name string) error {
	if err := c.runExisting(ctx, name, "destroy", "-f"); err != nil {
		return err
	}
	dir := c.MachineDir(name)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove machine dir %s: %w", dir, err)
	}
	return nil
}

func (c *Client) runExisting(ctx context.Context, name string, args ...string) error {
	if !machineNameRe.MatchString(name) {
		return fmt.Errorf("invalid vagrant machine name %q", name)
	}
	if _, err := os.Stat(filepath.Join(c.MachineDir(name), vagrantfileName)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", provisioner.ErrNotFound, name)
		}
		return fmt.Errorf("stat machine %s: %w", name, err)
	}
	return c.run(ctx, name, args...)
}

func (c *Client) run(ctx context.Context, name string, args ...string) error {
	logger := zerolog.Ctx(ctx)
	logger.Debug().
		Str("machine", name).
		Str("command", c.binary+" "+strings.Join(args, " ")).
		Msg("Running vagrant command")

	output, err := c.runner.Run(ctx, c.MachineDir(name), c.binary, args...)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("vagrant %s %s: %w", args[0], name, ctxErr)
		}
		return fmt.Errorf("vagrant %s %s: %w, output: %s", args[0], name, err, strings.TrimSpace(string(output)))
	}
	return nil
}
