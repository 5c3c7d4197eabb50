package cloudinit

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kdomanski/iso9660"
)

// volumeID NoCloud 数据源按卷标识别种子盘
const volumeID = "CIDATA"

// ISOBuilder cloud-init ISO 构建器
type ISOBuilder struct {
	generator *Generator
	outputDir string
}

// NewISOBuilder 创建新的 ISO 构建器，ISO 写入 outputDir
func NewISOBuilder(outputDir string) *ISOBuilder {
	return &ISOBuilder{
		generator: NewGenerator(),
		outputDir: outputDir,
	}
}

// Build 生成 cloud-init ISO 镜像，返回 ISO 文件路径
func (b *ISOBuilder) Build(ctx context.Context, vmName string, seed *Seed) (string, error) {
	if vmName == "" {
		return "", fmt.Errorf("VM name is required")
	}
	if seed == nil {
		seed = &Seed{}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	image, err := b.Image(seed)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(b.outputDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	// 先写临时文件再改名
	isoPath := b.Path(vmName)
	tmp := isoPath + ".tmp"
	if err := os.WriteFile(tmp, image, 0o644); err != nil {
		return "", fmt.Errorf("failed to write ISO: %w", err)
	}
	if err := os.Rename(tmp, isoPath); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("failed to write ISO: %w", err)
	}
	return isoPath, nil
}

// Image 在内存中生成 NoCloud ISO
func (b *ISOBuilder) Image(seed *Seed) ([]byte, error) {
	metaData, err := b.generator.GenerateMetaData(seed.Hostname)
	if err != nil {
		return nil, fmt.Errorf("failed to generate meta-data: %w", err)
	}
	userData, err := b.generator.GenerateUserData(seed.Hostname)
	if err != nil {
		return nil, fmt.Errorf("failed to generate user-data: %w", err)
	}
	networkConfig, err := b.generator.GenerateNetworkConfig(seed.Network)
	if err != nil {
		return nil, fmt.Errorf("failed to generate network-config: %w", err)
	}

	writer, err := iso9660.NewWriter()
	if err != nil {
		return nil, fmt.Errorf("failed to create ISO writer: %w", err)
	}
	defer func() {
		_ = writer.Cleanup()
	}()

	files := []struct {
		name    string
		content string
	}{
		{"meta-data", metaData},
		{"user-data", userData},
		{"network-config", networkConfig},
	}
	for _, f := range files {
		// 没有静态网络时不写 network-config，镜像走默认 DHCP
		if f.content == "" {
			continue
		}
		if err := writer.AddFile(bytes.NewReader([]byte(f.content)), f.name); err != nil {
			return nil, fmt.Errorf("failed to add %s: %w", f.name, err)
		}
	}

	var buf bytes.Buffer
	if err := writer.WriteTo(&buf, volumeID); err != nil {
		return nil, fmt.Errorf("failed to write ISO image: %w", err)
	}
	return buf.Bytes(), nil
}

// Remove 清理 cloud-init ISO 文件，文件不存在时不报错
func (b *ISOBuilder) Remove(vmName string) error {
	if err := os.Remove(b.Path(vmName)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove cloud-init ISO: %w", err)
	}
	return nil
}

// Path 获取 cloud-init ISO 路径
func (b *ISOBuilder) Path(vmName string) string {
	return filepath.Join(b.outputDir, fmt.Sprintf("%s-cidata.iso", vmName))
}
