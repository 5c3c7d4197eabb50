package entity

import (
	"fmt"
	"strings"
)

// CreateVMRequest 创建 VM 请求
type CreateVMRequest struct {
	Name     string            `json:"name"`
	ClientID string            `json:"clientId"`
	Template string            `json:"template"`
	Config   VMConfig          `json:"config"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// IsValid 校验请求
func (r *CreateVMRequest) IsValid() error {
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if strings.TrimSpace(r.Template) == "" {
		return fmt.Errorf("template is required")
	}
	return r.Config.Validate()
}

// Validate 校验资源配置
func (c VMConfig) Validate() error {
	if c.CPU <= 0 {
		return fmt.Errorf("config.cpu must be positive, got %d", c.CPU)
	}
	if c.MemoryMB <= 0 {
		return fmt.Errorf("config.memoryMB must be positive, got %d", c.MemoryMB)
	}
	if c.StorageGB <= 0 {
		return fmt.Errorf("config.storageGB must be positive, got %d", c.StorageGB)
	}
	return nil
}

// ListVMsRequest 列出 VM 请求
type ListVMsRequest struct {
	Status   Status `form:"status"   json:"status,omitempty"`
	ClientID string `form:"clientId" json:"clientId,omitempty"`
	Page     int    `form:"page"     json:"page,omitempty"`  // 从 1 开始，默认 1
	Limit    int    `form:"limit"    json:"limit,omitempty"` // 默认 10，最大 100
}

// Pagination 分页信息
type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

// ListVMsResponse 列出 VM 响应
type ListVMsResponse struct {
	VMs        []*VM      `json:"vms"`
	Pagination Pagination `json:"pagination"`
}

// PageItems 响应信封中的 data
func (r *ListVMsResponse) PageItems() any {
	return r.VMs
}

// PageInfo 响应信封中的 pagination
func (r *ListVMsResponse) PageInfo() any {
	return r.Pagination
}

// VMRequest 针对单个 VM 的请求（start/stop/suspend/resume/restart/destroy/get）
type VMRequest struct {
	ID string `uri:"id" json:"-"`
}

// UpdateConfigRequest 更新配置请求
// nil 表示不修改
type UpdateConfigRequest struct {
	ID        string         `uri:"id"             json:"-"`
	CPU       *int           `json:"cpu,omitempty"`
	MemoryMB  *int           `json:"memoryMB,omitempty"`
	StorageGB *int           `json:"storageGB,omitempty"`
	Network   *NetworkConfig `json:"network,omitempty"`
}

// IsEmpty 是否没有任何修改
func (r *UpdateConfigRequest) IsEmpty() bool {
	return r.CPU == nil && r.MemoryMB == nil && r.StorageGB == nil && r.Network == nil
}

// Apply 将修改合并到 cfg 上，返回新的配置
func (r *UpdateConfigRequest) Apply(cfg VMConfig) VMConfig {
	out := cfg.Clone()
	if r.CPU != nil {
		out.CPU = *r.CPU
	}
	if r.MemoryMB != nil {
		out.MemoryMB = *r.MemoryMB
	}
	if r.StorageGB != nil {
		out.StorageGB = *r.StorageGB
	}
	if r.Network != nil {
		n := *r.Network
		out.Network = &n
	}
	return out
}

// CloneVMRequest 克隆 VM 请求
type CloneVMRequest struct {
	ID   string `uri:"id"   json:"-"`
	Name string `json:"name"`
}

// CreateSnapshotRequest 创建快照请求
type CreateSnapshotRequest struct {
	ID   string `uri:"id"   json:"-"`
	Name string `json:"name"`
}

// IsValid 校验请求
func (r *CreateSnapshotRequest) IsValid() error {
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("name is required")
	}
	return nil
}

// RestoreSnapshotRequest 恢复快照请求
type RestoreSnapshotRequest struct {
	ID         string `uri:"id"         json:"-"`
	SnapshotID string `uri:"snapshotId" json:"-"`
}

// ListSnapshotsResponse 列出快照响应
type ListSnapshotsResponse struct {
	Snapshots []*Snapshot `json:"snapshots"`
}
