package document

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"sort"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"docodm/errors"
)

// 内置驱动名
const (
	DriverMongo  = "mongodb"
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

// PoolConfig 连接池配置
type PoolConfig struct {
	MaxSize     uint64        `yaml:"max_size"`
	MinSize     uint64        `yaml:"min_size"`
	MaxIdleTime time.Duration `yaml:"max_idle_time"`
}

// ConnectionConfig 单个命名连接的配置：URL 与离散字段二选一
type ConnectionConfig struct {
	Driver   string `yaml:"driver"`
	URL      string `yaml:"url"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	Pool                   PoolConfig        `yaml:"pool"`
	ServerSelectionTimeout time.Duration     `yaml:"server_selection_timeout"`
	SocketTimeout          time.Duration     `yaml:"socket_timeout"`
	ConnectTimeout         time.Duration     `yaml:"connect_timeout"`
	Options                map[string]string `yaml:"options"`
}

// Config 命名连接集合，Default 指定默认连接
type Config struct {
	Default     string                      `yaml:"default"`
	Connections map[string]ConnectionConfig `yaml:"connections"`
}

// URI 返回连接串：优先使用 URL，否则由离散字段拼装
func (c ConnectionConfig) URI() string {
	if c.URL != "" {
		return c.URL
	}
	host := c.Host
	if host == "" {
		host = "localhost"
	}
	port := c.Port
	if port == 0 {
		port = 27017
	}
	u := url.URL{
		Scheme: "mongodb",
		Host:   net.JoinHostPort(host, strconv.Itoa(port)),
		Path:   "/" + c.Database,
	}
	if c.Username != "" {
		u.User = url.UserPassword(c.Username, c.Password)
	}
	if len(c.Options) > 0 {
		q := url.Values{}
		for k, v := range c.Options {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// DatabaseName 返回数据库名：显式字段优先，其次取 URL 路径
func (c ConnectionConfig) DatabaseName() string {
	if c.Database != "" {
		return c.Database
	}
	if c.URL == "" {
		return ""
	}
	u, err := url.Parse(c.URL)
	if err != nil || len(u.Path) <= 1 {
		return ""
	}
	return u.Path[1:]
}

// DefineConfig 校验并补全配置：
//   - 至少一个连接；只有一个连接且未指定默认连接时，自动设为默认；
//   - 驱动缺省为 mongodb；
//   - mongodb 需要 url 或 host，sqlite 需要 database（文件路径或 :memory:）；
//   - 超时与连接池参数不可为负。
func DefineConfig(cfg Config) (Config, error) {
	if len(cfg.Connections) == 0 {
		return cfg, errors.NewConfigurationError("no connections defined")
	}
	if cfg.Default == "" {
		if len(cfg.Connections) != 1 {
			return cfg, errors.NewConfigurationError("default connection is required when more than one connection is defined")
		}
		for name := range cfg.Connections {
			cfg.Default = name
		}
	}
	if _, ok := cfg.Connections[cfg.Default]; !ok {
		return cfg, errors.NewConfigurationError(fmt.Sprintf("default connection %q is not defined", cfg.Default))
	}

	names := make([]string, 0, len(cfg.Connections))
	for name := range cfg.Connections {
		names = append(names, name)
	}
	sort.Strings(names)

	normalized := make(map[string]ConnectionConfig, len(cfg.Connections))
	for _, name := range names {
		conn := cfg.Connections[name]
		if conn.Driver == "" {
			conn.Driver = DriverMongo
		}
		if err := validateConnection(name, conn); err != nil {
			return cfg, err
		}
		normalized[name] = conn
	}
	cfg.Connections = normalized
	return cfg, nil
}

func validateConnection(name string, conn ConnectionConfig) error {
	fail := func(msg string) error {
		return errors.NewError(errors.ErrCodeConfiguration, msg).WithContext("connection", name)
	}
	switch conn.Driver {
	case DriverMongo:
		if conn.URL == "" && conn.Host == "" {
			return fail("mongodb connection requires url or host")
		}
		if conn.URL != "" {
			if _, err := url.Parse(conn.URL); err != nil {
				return fail("malformed connection url")
			}
		}
		if conn.DatabaseName() == "" {
			return fail("mongodb connection requires a database name")
		}
	case DriverSQLite:
		if conn.Database == "" && conn.URL == "" {
			return fail("sqlite connection requires database (file path or :memory:)")
		}
	}
	if conn.Port < 0 || conn.Port > 65535 {
		return fail("port out of range")
	}
	if conn.ServerSelectionTimeout < 0 || conn.SocketTimeout < 0 || conn.ConnectTimeout < 0 || conn.Pool.MaxIdleTime < 0 {
		return fail("timeouts must not be negative")
	}
	if conn.Pool.MaxSize > 0 && conn.Pool.MinSize > conn.Pool.MaxSize {
		return fail("pool.min_size exceeds pool.max_size")
	}
	return nil
}

// LoadConfig 从 YAML 文件加载配置，支持 ${ENV} 环境变量展开
func LoadConfig(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.WrapError(err, errors.ErrCodeConfiguration, "failed to read config file").
			WithContext("path", path)
	}
	return ParseConfig(raw)
}

// ParseConfig 解析 YAML 配置内容
func ParseConfig(raw []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(raw))), &cfg); err != nil {
		return Config{}, errors.WrapError(err, errors.ErrCodeConfiguration, "malformed config")
	}
	return DefineConfig(cfg)
}
