// Package idgen 提供递增 ID 生成器
//
// 使用 Sonyflake 算法生成全局唯一且递增的 ID：
//   - 全局唯一
//   - 时间有序（递增）
//   - 64 位整数
//
// 生成的 ID 格式：
//   - VM ID: vm-{递增数字}
//   - Snapshot ID: snap-{递增数字}
//
// 使用方式：
//
//	gen := idgen.New()
//	vmID, err := gen.GenerateVMID()
//	// vmID: "vm-1234567890"
//
//	// 或使用包级别的便捷函数
//	snapID, err := idgen.GenerateSnapshotID()
package idgen
