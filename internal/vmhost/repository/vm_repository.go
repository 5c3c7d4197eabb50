package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/jimyag/vmhost/internal/vmhost/entity"
	"github.com/jimyag/vmhost/internal/vmhost/repository/model"
	"github.com/jimyag/vmhost/internal/vmhost/store"
)

// Insert 插入 VM 记录
func (r *Repository) Insert(ctx context.Context, vm *entity.VM) error {
	m, err := vmEntityToModel(vm)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&model.VM{}).Where("id = ?", vm.ID).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return store.ErrVMExists(vm.ID)
		}
		return tx.Create(m).Error
	})
}

// Get 根据 ID 获取 VM 记录
func (r *Repository) Get(ctx context.Context, id string) (*entity.VM, error) {
	m, err := getVM(r.db.WithContext(ctx), id)
	if err != nil {
		return nil, err
	}
	return vmModelToEntity(m)
}

func getVM(db *gorm.DB, id string) (*model.VM, error) {
	var m model.VM
	if err := db.Where("id = ?", id).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, store.ErrVMNotFound(id)
		}
		return nil, err
	}
	return &m, nil
}

// Update 在事务中读取、修改并写回 VM 记录
func (r *Repository) Update(ctx context.Context, id string, fn func(vm *entity.VM) error) (*entity.VM, error) {
	var out *entity.VM
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		m, err := getVM(tx, id)
		if err != nil {
			return err
		}
		vm, err := vmModelToEntity(m)
		if err != nil {
			return err
		}
		if err := fn(vm); err != nil {
			return err
		}
		vm.ID = id

		next, err := vmEntityToModel(vm)
		if err != nil {
			return err
		}
		if err := tx.Save(next).Error; err != nil {
			return fmt.Errorf("save vm %s: %w", id, err)
		}
		out = vm
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// List 按插入顺序列出 VM 记录
func (r *Repository) List(ctx context.Context, filter store.Filter) ([]*entity.VM, error) {
	var models []*model.VM
	query := r.db.WithContext(ctx).Model(&model.VM{})

	// 应用过滤器
	if filter.Status != "" {
		query = query.Where("status = ?", string(filter.Status))
	}
	if filter.ClientID != "" {
		query = query.Where("client_id = ?", filter.ClientID)
	}

	if err := query.Order("rowid").Find(&models).Error; err != nil {
		return nil, err
	}

	out := make([]*entity.VM, 0, len(models))
	for _, m := range models {
		vm, err := vmModelToEntity(m)
		if err != nil {
			return nil, err
		}
		out = append(out, vm)
	}
	return out, nil
}

// ExistsByName 名称是否被状态不在 excluding 中的 VM 占用
func (r *Repository) ExistsByName(ctx context.Context, name string, excluding ...entity.Status) (bool, error) {
	query := r.db.WithContext(ctx).Model(&model.VM{}).Where("name = ?", name)
	if len(excluding) > 0 {
		statuses := make([]string, 0, len(excluding))
		for _, s := range excluding {
			statuses = append(statuses, string(s))
		}
		query = query.Where("status NOT IN ?", statuses)
	}

	var count int64
	if err := query.Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}
