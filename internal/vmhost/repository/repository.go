// Package repository 基于 GORM + SQLite 的持久化 VM 记录存储
package repository

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite" // 纯 Go SQLite 驱动，不需要 CGO

	"github.com/jimyag/vmhost/internal/vmhost/repository/model"
	"github.com/jimyag/vmhost/internal/vmhost/store"
)

// Repository 数据库仓库，实现 store.Store
type Repository struct {
	db *gorm.DB
}

var _ store.Store = (*Repository)(nil)

// New 打开（必要时创建）dbPath 处的 SQLite 数据库并迁移表结构
func New(dbPath string) (*Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	sqlDB, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// 单连接，事务串行执行，Update 的读-改-写不会交错
	sqlDB.SetMaxOpenConns(1)

	db, err := gorm.Open(sqlite.Dialector{
		DriverName: "sqlite",
		DSN:        dbPath,
		Conn:       sqlDB,
	}, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("open gorm database: %w", err)
	}

	if err := migrate(db); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return &Repository{db: db}, nil
}

func migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&model.VM{}, &model.Snapshot{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}

	// 名称冲突检查只看未销毁的记录
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_vms_live_name
		ON vms(name)
		WHERE status <> 'destroyed'
	`).Error; err != nil {
		return fmt.Errorf("create live name index: %w", err)
	}
	return nil
}

// Close 关闭数据库连接
func (r *Repository) Close() error {
	if r.db == nil {
		return nil
	}
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
