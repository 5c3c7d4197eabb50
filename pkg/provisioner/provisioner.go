// Package provisioner 定义 provisioning 后端的抽象边界
//
// 生命周期管理只依赖 Provisioner 接口，具体后端（Vagrant CLI、libvirt、内存实现）通过构造函数注入。
// 任何实现都不能在没有真正调用后端的情况下返回成功，也不能吞掉错误。
package provisioner

import (
	"context"
	"errors"
)

// Provisioner provisioning 后端需要提供的四个能力
type Provisioner interface {
	// Name 后端名称，用于日志和指标
	Name() string
	// Create 使用 box（或镜像）创建名为 name 的机器，创建完成后机器处于关机状态
	Create(ctx context.Context, name, box string, opts ...CreateOption) error
	// Start 启动机器
	Start(ctx context.Context, name string) error
	// Halt 关闭机器
	Halt(ctx context.Context, name string) error
	// Destroy 销毁机器
	Destroy(ctx context.Context, name string) error
}

// Suspender 可选能力：挂起和恢复
// 通过类型断言发现，后端未实现时 suspend/resume 直接失败
type Suspender interface {
	Suspend(ctx context.Context, name string) error
	Resume(ctx context.Context, name string) error
}

var (
	// ErrUnsupported 后端不支持该操作
	ErrUnsupported = errors.New("operation not supported by provisioner")
	// ErrNotFound 后端中不存在该机器
	ErrNotFound = errors.New("machine not found")
)

// Network 网络参数
type Network struct {
	IP      string
	Subnet  string
	Gateway string
}

// CreateOptions 创建机器时的可选参数
// 零值表示使用后端的默认值
type CreateOptions struct {
	CPU       int
	MemoryMB  int
	StorageGB int
	Network   *Network
}

// CreateOption 修改 CreateOptions
type CreateOption func(*CreateOptions)

// WithResources 指定 CPU、内存和磁盘
func WithResources(cpu, memoryMB, storageGB int) CreateOption {
	return func(o *CreateOptions) {
		o.CPU = cpu
		o.MemoryMB = memoryMB
		o.StorageGB = storageGB
	}
}

// WithNetwork 指定静态网络
func WithNetwork(n *Network) CreateOption {
	return func(o *CreateOptions) {
		o.Network = n
	}
}

// ApplyOptions 合并所有 option
func ApplyOptions(opts ...CreateOption) CreateOptions {
	var o CreateOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}
