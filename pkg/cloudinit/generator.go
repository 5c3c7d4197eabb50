package cloudinit

import (
	"fmt"
	"net"
	"net/netip"
	"strings"

	"gopkg.in/yaml.v3"
)

const defaultPrefixLen = 24

// Generator cloud-init 配置生成器
type Generator struct{}

// NewGenerator 创建新的 cloud-init 生成器
func NewGenerator() *Generator {
	return &Generator{}
}

// GenerateMetaData 生成 meta-data 文件内容
// instance-id 使用主机名，同名机器重建后 cloud-init 会重新执行
func (g *Generator) GenerateMetaData(hostname string) (string, error) {
	if hostname == "" {
		hostname = "localhost"
	}

	yamlData, err := yaml.Marshal(&MetaData{
		InstanceID:    "iid-" + hostname,
		LocalHostname: hostname,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal meta-data to YAML: %w", err)
	}
	return string(yamlData), nil
}

// GenerateUserData 生成 user-data 文件内容
func (g *Generator) GenerateUserData(hostname string) (string, error) {
	yamlData, err := yaml.Marshal(&UserData{
		Hostname:       hostname,
		ManageEtcHosts: hostname != "",
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal user-data to YAML: %w", err)
	}

	// 添加 cloud-config header
	return "#cloud-config\n" + string(yamlData), nil
}

// GenerateNetworkConfig 生成 network-config 文件内容
// network 为 nil 时返回空字符串，机器使用镜像默认的 DHCP
func (g *Generator) GenerateNetworkConfig(network *StaticNetwork) (string, error) {
	if network == nil {
		return "", nil
	}

	address, err := addressCIDR(network.IP, network.Subnet)
	if err != nil {
		return "", err
	}

	eth := Ethernet{
		Match:     &Match{Name: "e*"},
		Addresses: []string{address},
	}
	if network.Gateway != "" {
		gw, err := netip.ParseAddr(network.Gateway)
		if err != nil {
			return "", fmt.Errorf("invalid gateway %q: %w", network.Gateway, err)
		}
		eth.Routes = []Route{{To: "default", Via: gw.String()}}
	}

	yamlData, err := yaml.Marshal(&NetworkData{
		Version:   2,
		Ethernets: map[string]Ethernet{"primary": eth},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal network-config to YAML: %w", err)
	}
	return string(yamlData), nil
}

// addressCIDR 把 IP 和子网合成 ip/prefix
func addressCIDR(ip, subnet string) (string, error) {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return "", fmt.Errorf("invalid ip %q: %w", ip, err)
	}

	bits := defaultPrefixLen
	switch {
	case subnet == "":
	case strings.Contains(subnet, "/"):
		prefix, err := netip.ParsePrefix(subnet)
		if err != nil {
			return "", fmt.Errorf("invalid subnet %q: %w", subnet, err)
		}
		if !prefix.Contains(addr) {
			return "", fmt.Errorf("ip %s is outside subnet %s", addr, prefix)
		}
		bits = prefix.Bits()
	default:
		// 点分十进制掩码
		mask := net.ParseIP(subnet).To4()
		if mask == nil {
			return "", fmt.Errorf("invalid subnet mask %q", subnet)
		}
		ones, size := net.IPMask(mask).Size()
		if size == 0 {
			return "", fmt.Errorf("non-canonical subnet mask %q", subnet)
		}
		bits = ones
	}
	return netip.PrefixFrom(addr, bits).String(), nil
}
