package model

import "time"

// Snapshot vm_snapshots 表
type Snapshot struct {
	ID        string    `gorm:"primaryKey;type:text;column:id"`                                // snap-{sonyflake}
	Name      string    `gorm:"type:text;not null;column:name"`                                // 快照名称
	VMID      string    `gorm:"type:text;not null;index:idx_vm_snapshots_vm_id;column:vm_id"` // 所属 VM
	CreatedAt time.Time `gorm:"type:datetime;not null;autoCreateTime:false;column:created_at"`
}

// TableName 指定表名
func (Snapshot) TableName() string {
	return "vm_snapshots"
}
