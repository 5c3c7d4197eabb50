package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/jimyag/vmhost/internal/vmhost/entity"
	"github.com/jimyag/vmhost/internal/vmhost/repository/model"
	"github.com/jimyag/vmhost/internal/vmhost/store"
)

// InsertSnapshot 保存快照描述
func (r *Repository) InsertSnapshot(ctx context.Context, snap *entity.Snapshot) error {
	m, err := snapshotEntityToModel(snap)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&model.Snapshot{}).Where("id = ?", snap.ID).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return store.ErrSnapshotExists(snap.ID)
		}
		return tx.Create(m).Error
	})
}

// GetSnapshot 根据 ID 获取快照
func (r *Repository) GetSnapshot(ctx context.Context, id string) (*entity.Snapshot, error) {
	var m model.Snapshot
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, store.ErrSnapshotNotFound(id)
		}
		return nil, err
	}
	return snapshotModelToEntity(&m)
}

// ListSnapshots 按创建顺序列出 VM 的快照
func (r *Repository) ListSnapshots(ctx context.Context, vmID string) ([]*entity.Snapshot, error) {
	var models []*model.Snapshot
	if err := r.db.WithContext(ctx).
		Where("vm_id = ?", vmID).
		Order("rowid").
		Find(&models).Error; err != nil {
		return nil, err
	}

	out := make([]*entity.Snapshot, 0, len(models))
	for _, m := range models {
		snap, err := snapshotModelToEntity(m)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, nil
}
