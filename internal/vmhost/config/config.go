// Package config vmhost 配置
//
// 优先级：环境变量 > 配置文件（YAML）> 默认值。
// 配置文件通过 --config 或环境变量 VMHOST_CONFIG 指定。
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// 存储驱动
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
	StoreBadger = "badger"
)

// provisioning 后端
const (
	ProvisionerVagrant = "vagrant"
	ProvisionerLibvirt = "libvirt"
	ProvisionerMemory  = "memory"
)

const (
	defaultAddress        = "0.0.0.0:7777"
	defaultAdapterTimeout = 10 * time.Minute
	defaultSubjectPrefix  = "vmhost"
)

type Config struct {
	// Address HTTP 监听地址，环境变量 VMHOST_ADDRESS
	Address string `yaml:"address"`

	// DataDir 数据目录，sqlite/badger 文件和 vagrant 机器目录默认放在这里
	// 环境变量 VMHOST_DATA_DIR，默认 ~/.local/share/vmhost
	DataDir string `yaml:"data_dir"`

	Log         LogConfig         `yaml:"log"`
	Store       StoreConfig       `yaml:"store"`
	Provisioner ProvisionerConfig `yaml:"provisioner"`
	Events      EventsConfig      `yaml:"events"`

	// AdapterTimeout 单次后端调用的超时，环境变量 VMHOST_ADAPTER_TIMEOUT（例如 "15m"）
	AdapterTimeout time.Duration `yaml:"adapter_timeout"`
}

type LogConfig struct {
	// Level zerolog 日志级别，环境变量 VMHOST_LOG_LEVEL
	Level string `yaml:"level"`
}

type StoreConfig struct {
	// Driver memory | sqlite | badger，环境变量 VMHOST_STORE_DRIVER
	Driver string `yaml:"driver"`
	// Path sqlite 文件或 badger 目录，环境变量 VMHOST_STORE_PATH
	Path string `yaml:"path"`
}

type ProvisionerConfig struct {
	// Driver vagrant | libvirt | memory，环境变量 VMHOST_PROVISIONER
	Driver  string        `yaml:"driver"`
	Vagrant VagrantConfig `yaml:"vagrant"`
	Libvirt LibvirtConfig `yaml:"libvirt"`
}

type VagrantConfig struct {
	Binary   string `yaml:"binary"`   // VMHOST_VAGRANT_BINARY
	Provider string `yaml:"provider"` // VMHOST_VAGRANT_PROVIDER
	RootDir  string `yaml:"root_dir"` // VMHOST_VAGRANT_ROOT_DIR
}

type LibvirtConfig struct {
	// URI 支持 qemu:///system、qemu+ssh://user@host/system、qemu+tcp://host/system
	// 环境变量 LIBVIRT_URI 或 VMHOST_LIBVIRT_URI
	URI      string `yaml:"uri"`
	Network  string `yaml:"network"`   // VMHOST_LIBVIRT_NETWORK
	ImageDir string `yaml:"image_dir"` // VMHOST_LIBVIRT_IMAGE_DIR
}

type EventsConfig struct {
	// NATSURL 为空时不发布事件，环境变量 VMHOST_NATS_URL
	NATSURL       string `yaml:"nats_url"`
	SubjectPrefix string `yaml:"subject_prefix"` // VMHOST_EVENTS_SUBJECT_PREFIX
}

// New 加载配置，path 为空时读取 VMHOST_CONFIG
func New(path string) (*Config, error) {
	return load(path, os.Getenv)
}

func load(path string, getenv func(string) string) (*Config, error) {
	cfg := &Config{}

	if path == "" {
		path = getenv("VMHOST_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(getenv); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	set := func(dst *string, keys ...string) {
		for _, key := range keys {
			if v := getenv(key); v != "" {
				*dst = v
				return
			}
		}
	}

	set(&c.Address, "VMHOST_ADDRESS")
	set(&c.DataDir, "VMHOST_DATA_DIR")
	set(&c.Log.Level, "VMHOST_LOG_LEVEL")
	set(&c.Store.Driver, "VMHOST_STORE_DRIVER")
	set(&c.Store.Path, "VMHOST_STORE_PATH")
	set(&c.Provisioner.Driver, "VMHOST_PROVISIONER")
	set(&c.Provisioner.Vagrant.Binary, "VMHOST_VAGRANT_BINARY")
	set(&c.Provisioner.Vagrant.Provider, "VMHOST_VAGRANT_PROVIDER")
	set(&c.Provisioner.Vagrant.RootDir, "VMHOST_VAGRANT_ROOT_DIR")
	// 1. 优先使用 LIBVIRT_URI，2. 其次 VMHOST_LIBVIRT_URI
	set(&c.Provisioner.Libvirt.URI, "LIBVIRT_URI", "VMHOST_LIBVIRT_URI")
	set(&c.Provisioner.Libvirt.Network, "VMHOST_LIBVIRT_NETWORK")
	set(&c.Provisioner.Libvirt.ImageDir, "VMHOST_LIBVIRT_IMAGE_DIR")
	set(&c.Events.NATSURL, "VMHOST_NATS_URL")
	set(&c.Events.SubjectPrefix, "VMHOST_EVENTS_SUBJECT_PREFIX")

	if v := getenv("VMHOST_ADAPTER_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse VMHOST_ADAPTER_TIMEOUT: %w", err)
		}
		c.AdapterTimeout = d
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Address == "" {
		c.Address = defaultAddress
	}
	if c.DataDir == "" {
		c.DataDir = defaultDataDir()
	}
	if c.Log.Level == "" {
		c.Log.Level = zerolog.InfoLevel.String()
	}
	if c.Store.Driver == "" {
		c.Store.Driver = StoreMemory
	}
	if c.Store.Path == "" {
		switch c.Store.Driver {
		case StoreSQLite:
			c.Store.Path = filepath.Join(c.DataDir, "vmhost.db")
		case StoreBadger:
			c.Store.Path = filepath.Join(c.DataDir, "badger")
		}
	}
	if c.Provisioner.Driver == "" {
		c.Provisioner.Driver = ProvisionerVagrant
	}
	if c.Provisioner.Vagrant.Binary == "" {
		c.Provisioner.Vagrant.Binary = "vagrant"
	}
	if c.Provisioner.Vagrant.RootDir == "" {
		c.Provisioner.Vagrant.RootDir = filepath.Join(c.DataDir, "machines")
	}
	if c.Provisioner.Libvirt.URI == "" {
		c.Provisioner.Libvirt.URI = "qemu:///system"
	}
	if c.Provisioner.Libvirt.ImageDir == "" {
		c.Provisioner.Libvirt.ImageDir = filepath.Join(c.DataDir, "images")
	}
	if c.AdapterTimeout == 0 {
		c.AdapterTimeout = defaultAdapterTimeout
	}
	if c.Events.SubjectPrefix == "" {
		c.Events.SubjectPrefix = defaultSubjectPrefix
	}
}

// Validate 校验枚举值和超时
func (c *Config) Validate() error {
	var errs []error
	if !slices.Contains([]string{StoreMemory, StoreSQLite, StoreBadger}, c.Store.Driver) {
		errs = append(errs, fmt.Errorf("store.driver must be one of memory, sqlite, badger, got %q", c.Store.Driver))
	}
	if !slices.Contains([]string{ProvisionerVagrant, ProvisionerLibvirt, ProvisionerMemory}, c.Provisioner.Driver) {
		errs = append(errs, fmt.Errorf("provisioner.driver must be one of vagrant, libvirt, memory, got %q", c.Provisioner.Driver))
	}
	if _, err := zerolog.ParseLevel(strings.ToLower(c.Log.Level)); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if c.AdapterTimeout <= 0 {
		errs = append(errs, fmt.Errorf("adapter_timeout must be positive, got %s", c.AdapterTimeout))
	}
	if c.Address == "" {
		errs = append(errs, errors.New("address is required"))
	}
	return errors.Join(errs...)
}

// LogLevel 解析后的日志级别，Validate 通过后不会失败
func (c *Config) LogLevel() zerolog.Level {
	level, err := zerolog.ParseLevel(strings.ToLower(c.Log.Level))
	if err != nil {
		return zerolog.InfoLevel
	}
	return level
}

// defaultDataDir 获取默认数据目录
func defaultDataDir() string {
	// 使用用户主目录下的 .local/share/vmhost
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "vmhost")
	}
	// 如果无法获取主目录，使用当前目录下的 data
	return filepath.Join(".", "data")
}
