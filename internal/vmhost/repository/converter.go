package repository

import (
	"encoding/json"
	"fmt"

	"github.com/jinzhu/copier"

	"github.com/jimyag/vmhost/internal/vmhost/entity"
	"github.com/jimyag/vmhost/internal/vmhost/repository/model"
)

// vmEntityToModel 将 entity.VM 转换为 model.VM
func vmEntityToModel(e *entity.VM) (*model.VM, error) {
	m := &model.VM{}
	if err := copier.Copy(m, e); err != nil {
		return nil, err
	}

	m.Status = string(e.Status)
	m.LastAction = string(e.LastAction)

	// 配置展开成列
	m.CPU = e.Config.CPU
	m.MemoryMB = e.Config.MemoryMB
	m.StorageGB = e.Config.StorageGB
	if e.Config.Network != nil {
		data, err := json.Marshal(e.Config.Network)
		if err != nil {
			return nil, fmt.Errorf("marshal network: %w", err)
		}
		m.NetworkJSON = string(data)
	}
	if len(e.Metadata) > 0 {
		data, err := json.Marshal(e.Metadata)
		if err != nil {
			return nil, fmt.Errorf("marshal metadata: %w", err)
		}
		m.MetaJSON = string(data)
	}

	return m, nil
}

// vmModelToEntity 将 model.VM 转换为 entity.VM
func vmModelToEntity(m *model.VM) (*entity.VM, error) {
	e := &entity.VM{}
	if err := copier.Copy(e, m); err != nil {
		return nil, err
	}

	e.Status = entity.Status(m.Status)
	e.LastAction = entity.Action(m.LastAction)
	e.Config = entity.VMConfig{
		CPU:       m.CPU,
		MemoryMB:  m.MemoryMB,
		StorageGB: m.StorageGB,
	}
	if m.NetworkJSON != "" {
		var n entity.NetworkConfig
		if err := json.Unmarshal([]byte(m.NetworkJSON), &n); err != nil {
			return nil, fmt.Errorf("unmarshal network of %s: %w", m.ID, err)
		}
		e.Config.Network = &n
	}
	if m.MetaJSON != "" {
		if err := json.Unmarshal([]byte(m.MetaJSON), &e.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata of %s: %w", m.ID, err)
		}
	}

	return e, nil
}

// snapshotEntityToModel 将 entity.Snapshot 转换为 model.Snapshot
func snapshotEntityToModel(e *entity.Snapshot) (*model.Snapshot, error) {
	m := &model.Snapshot{}
	if err := copier.Copy(m, e); err != nil {
		return nil, err
	}
	return m, nil
}

// snapshotModelToEntity 将 model.Snapshot 转换为 entity.Snapshot
func snapshotModelToEntity(m *model.Snapshot) (*entity.Snapshot, error) {
	e := &entity.Snapshot{}
	if err := copier.Copy(e, m); err != nil {
		return nil, err
	}
	return e, nil
}
