package model

import (
	"time"
)

// VM vms 表
type VM struct {
	ID          string    `gorm:"primaryKey;type:text;column:id"`                               // vm-{sonyflake}
	Name        string    `gorm:"type:text;not null;index:idx_vms_name;column:name"`            // 机器名
	ClientID    string    `gorm:"type:text;index:idx_vms_client_id;column:client_id"`           // 所属客户
	Template    string    `gorm:"type:text;not null;column:template"`                           // box/镜像
	Status      string    `gorm:"type:text;not null;index:idx_vms_status;column:status"`        // creating, running, stopped, suspended, destroyed, error
	LastAction  string    `gorm:"type:text;column:last_action"`                                 // 最后一次尝试的操作
	LastError   string    `gorm:"type:text;column:last_error"`                                  // 最后一次失败的原因
	CPU         int       `gorm:"type:integer;not null;column:cpu"`                             // 虚拟 CPU 数量
	MemoryMB    int       `gorm:"type:integer;not null;column:memory_mb"`                       // 内存大小（MB）
	StorageGB   int       `gorm:"type:integer;not null;column:storage_gb"`                      // 磁盘大小（GB）
	NetworkJSON string    `gorm:"type:text;column:network"`                                     // NetworkConfig JSON，为空表示未配置
	MetaJSON    string    `gorm:"type:text;column:metadata"`                                    // map[string]string JSON
	CreatedAt   time.Time `gorm:"type:datetime;not null;autoCreateTime:false;column:created_at"` // 由业务层设置
	UpdatedAt   time.Time `gorm:"type:datetime;not null;autoUpdateTime:false;column:updated_at"` // 由业务层设置
}

// TableName 指定表名
func (VM) TableName() string {
	return "vms"
}
