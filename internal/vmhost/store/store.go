// Package store VM 记录存储
//
// 所有实现只对外返回副本，状态只能通过 Update 修改。
package store

import (
	"context"
	"slices"

	"github.com/jimyag/vmhost/internal/vmhost/entity"
)

// Store VM 记录存储接口
type Store interface {
	// Insert 插入新记录，ID 已存在时返回 ErrConflict
	Insert(ctx context.Context, vm *entity.VM) error
	// Get 获取记录，不存在时返回 ErrNotFound
	Get(ctx context.Context, id string) (*entity.VM, error)
	// Update 原子的读-改-写
	// fn 收到的是副本，fn 返回 error 时不写入，Update 原样返回该 error
	Update(ctx context.Context, id string, fn func(vm *entity.VM) error) (*entity.VM, error)
	// List 按插入顺序返回满足 filter 的记录
	List(ctx context.Context, filter Filter) ([]*entity.VM, error)
	// ExistsByName 是否存在名为 name 且状态不在 excluding 中的记录
	ExistsByName(ctx context.Context, name string, excluding ...entity.Status) (bool, error)

	// InsertSnapshot 保存快照描述
	InsertSnapshot(ctx context.Context, snap *entity.Snapshot) error
	// GetSnapshot 获取快照，不存在时返回 ErrNotFound
	GetSnapshot(ctx context.Context, id string) (*entity.Snapshot, error)
	// ListSnapshots 按创建顺序返回某个 VM 的快照
	ListSnapshots(ctx context.Context, vmID string) ([]*entity.Snapshot, error)

	Close() error
}

// Filter 列表过滤条件，零值表示不过滤
type Filter struct {
	Status   entity.Status
	ClientID string
}

// Match 判断记录是否满足过滤条件
func (f Filter) Match(vm *entity.VM) bool {
	if f.Status != "" && vm.Status != f.Status {
		return false
	}
	if f.ClientID != "" && vm.ClientID != f.ClientID {
		return false
	}
	return true
}

// NameTaken 名称是否被 vm 占用
func NameTaken(vm *entity.VM, name string, excluding []entity.Status) bool {
	return vm.Name == name && !slices.Contains(excluding, vm.Status)
}
