package idgen

import (
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/sony/sonyflake"
)

// Generator 递增 ID 生成器
// 使用 Sonyflake 算法生成全局唯一且递增的 ID
type Generator struct {
	sf *sonyflake.Sonyflake
}

var (
	defaultGenerator     *Generator
	defaultGeneratorOnce sync.Once
)

// DefaultGenerator 返回默认的 ID 生成器
func DefaultGenerator() *Generator {
	defaultGeneratorOnce.Do(func() {
		defaultGenerator = New()
	})
	return defaultGenerator
}

// New 创建新的 ID 生成器
func New() *Generator {
	sf := sonyflake.NewSonyflake(sonyflake.Settings{
		StartTime: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		MachineID: machineID,
	})
	if sf == nil {
		sf = sonyflake.NewSonyflake(sonyflake.Settings{
			StartTime: time.Now(),
			MachineID: machineID,
		})
	}

	return &Generator{
		sf: sf,
	}
}

// machineID 优先使用私有 IP 的低 16 位，没有私有 IP（容器、CI）时退化为 pid
func machineID() (uint16, error) {
	addrs, err := net.InterfaceAddrs()
	if err == nil {
		for _, a := range addrs {
			ipnet, ok := a.(*net.IPNet)
			if !ok || ipnet.IP.IsLoopback() {
				continue
			}
			if ip := ipnet.IP.To4(); ip != nil && ip.IsPrivate() {
				return uint16(ip[2])<<8 + uint16(ip[3]), nil
			}
		}
	}
	return uint16(os.Getpid()), nil
}

// generateIDWithPrefix 生成带前缀的 ID
func (g *Generator) generateIDWithPrefix(prefix, errorMsg string) (string, error) {
	id, err := g.sf.NextID()
	if err != nil {
		return "", fmt.Errorf("%s: %w", errorMsg, err)
	}
	return fmt.Sprintf("%s-%d", prefix, id), nil
}

// GenerateVMID 生成 VM ID（格式：vm-{递增 ID}）
func (g *Generator) GenerateVMID() (string, error) {
	return g.generateIDWithPrefix("vm", "generate vm ID")
}

// GenerateSnapshotID 生成快照 ID（格式：snap-{递增 ID}）
func (g *Generator) GenerateSnapshotID() (string, error) {
	return g.generateIDWithPrefix("snap", "generate snapshot ID")
}

// GenerateID 生成通用递增 ID
func (g *Generator) GenerateID() (uint64, error) {
	return g.sf.NextID()
}

// GenerateVMID 使用默认生成器生成 VM ID
func GenerateVMID() (string, error) {
	return DefaultGenerator().GenerateVMID()
}

// GenerateSnapshotID 使用默认生成器生成快照 ID
func GenerateSnapshotID() (string, error) {
	return DefaultGenerator().GenerateSnapshotID()
}
