// Package cloudinit 生成 cloud-init NoCloud 种子（meta-data、user-data、network-config）并打包成 ISO
package cloudinit

// Seed 一台机器的种子参数
type Seed struct {
	Hostname string         // 主机名，同时写入 meta-data 和 user-data
	Network  *StaticNetwork // 静态网络，为 nil 时使用 DHCP
}

// StaticNetwork 静态 IPv4 配置
type StaticNetwork struct {
	IP      string // 如 10.0.0.5
	Subnet  string // CIDR（10.0.0.0/24）或掩码（255.255.255.0），为空时按 /24
	Gateway string
}

// ============================================================================
// 标准的 cloud-init 数据结构（可直接序列化为 YAML）
// ============================================================================

// MetaData 标准的 cloud-init meta-data 结构
type MetaData struct {
	InstanceID    string `yaml:"instance-id"`
	LocalHostname string `yaml:"local-hostname"`
}

// UserData 标准的 cloud-init user-data 结构（只包含用到的字段）
type UserData struct {
	Hostname         string `yaml:"hostname,omitempty"`
	PreserveHostname bool   `yaml:"preserve_hostname"`
	ManageEtcHosts   bool   `yaml:"manage_etc_hosts,omitempty"`
}

// NetworkData 标准的 cloud-init network-config 结构（netplan v2）
type NetworkData struct {
	Version   int                 `yaml:"version"`
	Ethernets map[string]Ethernet `yaml:"ethernets"`
}

// Ethernet 以太网接口配置
type Ethernet struct {
	Match     *Match   `yaml:"match,omitempty"`
	DHCP4     bool     `yaml:"dhcp4"`
	Addresses []string `yaml:"addresses,omitempty"` // CIDR 格式，如：192.168.1.100/24
	Routes    []Route  `yaml:"routes,omitempty"`
}

// Match 按网卡名匹配
type Match struct {
	Name string `yaml:"name"`
}

// Route 路由
type Route struct {
	To  string `yaml:"to"`
	Via string `yaml:"via"`
}
