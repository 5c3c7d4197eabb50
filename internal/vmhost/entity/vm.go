// Package entity 定义业务实体
package entity

import (
	"maps"
	"time"
)

// Status VM 状态
type Status string

const (
	StatusCreating  Status = "creating"
	StatusRunning   Status = "running"
	StatusStopped   Status = "stopped"
	StatusSuspended Status = "suspended"
	StatusDestroyed Status = "destroyed"
	StatusError     Status = "error"
)

// AllStatuses 所有合法状态
var AllStatuses = []Status{
	StatusCreating,
	StatusRunning,
	StatusStopped,
	StatusSuspended,
	StatusDestroyed,
	StatusError,
}

// Valid 判断状态是否合法
func (s Status) Valid() bool {
	for _, st := range AllStatuses {
		if s == st {
			return true
		}
	}
	return false
}

// IsTerminal destroyed 是唯一的终态
func (s Status) IsTerminal() bool {
	return s == StatusDestroyed
}

// Action VM 上尝试过的操作，记录在 LastAction 中
type Action string

const (
	ActionCreate          Action = "create"
	ActionStart           Action = "start"
	ActionStop            Action = "stop"
	ActionSuspend         Action = "suspend"
	ActionResume          Action = "resume"
	ActionRestart         Action = "restart"
	ActionDestroy         Action = "destroy"
	ActionClone           Action = "clone"
	ActionUpdateConfig    Action = "update-config"
	ActionCreateSnapshot  Action = "create-snapshot"
	ActionRestoreSnapshot Action = "restore-snapshot"
)

// NetworkConfig 网络配置
type NetworkConfig struct {
	IP      string `json:"ip,omitempty"`
	Subnet  string `json:"subnet,omitempty"`
	Gateway string `json:"gateway,omitempty"`
}

// VMConfig VM 资源配置
type VMConfig struct {
	CPU       int            `json:"cpu"`               // 虚拟 CPU 数量，必须大于 0
	MemoryMB  int            `json:"memoryMB"`          // 内存大小（MB），必须大于 0
	StorageGB int            `json:"storageGB"`         // 磁盘大小（GB），必须大于 0
	Network   *NetworkConfig `json:"network,omitempty"` // 网络配置（可选）
}

// Clone 深拷贝
func (c VMConfig) Clone() VMConfig {
	out := c
	if c.Network != nil {
		n := *c.Network
		out.Network = &n
	}
	return out
}

// VM 虚拟机
type VM struct {
	ID         string            `json:"id"`                  // VM ID: vm-{sonyflake}
	Name       string            `json:"name"`                // 后端的机器名，在未销毁的 VM 中唯一
	ClientID   string            `json:"clientId"`            // 所属客户
	Template   string            `json:"template"`            // 创建时使用的模板（box/镜像）
	Config     VMConfig          `json:"config"`              // 资源配置
	Status     Status            `json:"status"`              // 当前状态
	LastAction Action            `json:"lastAction"`          // 最后一次尝试的操作
	LastError  string            `json:"lastError,omitempty"` // 最后一次失败的原因
	Metadata   map[string]string `json:"metadata,omitempty"`  // 附加标签
	CreatedAt  time.Time         `json:"createdAt"`
	UpdatedAt  time.Time         `json:"updatedAt"`
}

// Clone 深拷贝，store 只对外返回副本
func (v *VM) Clone() *VM {
	if v == nil {
		return nil
	}
	out := *v
	out.Config = v.Config.Clone()
	if v.Metadata != nil {
		out.Metadata = maps.Clone(v.Metadata)
	}
	return &out
}

// Snapshot 快照描述
type Snapshot struct {
	ID        string    `json:"id"`   // snap-{sonyflake}
	Name      string    `json:"name"` // 快照名称
	VMID      string    `json:"vmId"` // 所属 VM
	CreatedAt time.Time `json:"createdAt"`
}
