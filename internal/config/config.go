package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"OpenMCP-Wallet/pkg/logger"
)

// Config 描述了 walletd 启动阶段需要加载的全部配置。
type Config struct {
	Server    ServerConfig    `json:"server"`
	Log       logger.Config   `json:"log"`
	Connector ConnectorConfig `json:"connector"`
	Injected  InjectedConfig  `json:"injected"`
	Session   SessionConfig   `json:"session"`
	Events    EventsConfig    `json:"events"`
	Auth      AuthConfig      `json:"auth"`
}

// ServerConfig 控制 API 服务的监听地址。
type ServerConfig struct {
	Address string `json:"address"`
}

// ConnectorConfig 对应 provider 选择机制的初始化参数。
type ConnectorConfig struct {
	CacheProvider           bool        `json:"cache_provider"`
	DisableInjectedProvider bool        `json:"disable_injected_provider"`
	DefaultProvider         string      `json:"default_provider"`
	ProvidersFile           string      `json:"providers_file"`
	Cache                   CacheConfig `json:"cache"`
}

// CacheConfig 决定已选 provider 的缓存位置。
type CacheConfig struct {
	Driver string      `json:"driver"`
	Key    string      `json:"key"`
	Redis  RedisConfig `json:"redis"`
	MySQL  MySQLConfig `json:"mysql"`
}

// RedisConfig 描述 Redis 连接参数。
type RedisConfig struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// MySQLConfig 描述 MySQL 连接参数。
type MySQLConfig struct {
	DSN          string `json:"dsn"`
	MaxOpenConns int    `json:"max_open_conns"`
	MaxIdleConns int    `json:"max_idle_conns"`
}

// InjectedConfig 描述进程内注入式 provider 的初始状态。
type InjectedConfig struct {
	ChainID  int64    `json:"chain_id"`
	Accounts []string `json:"accounts"`
}

// SessionConfig 控制会话控制器的行为。
type SessionConfig struct {
	// EventTimeoutSeconds 限制 networkChanged 触发的链 ID 重查；0 表示不限时。
	EventTimeoutSeconds int `json:"event_timeout_seconds"`
}

// EventTimeout 返回事件处理的超时时间。
func (s SessionConfig) EventTimeout() time.Duration {
	if s.EventTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(s.EventTimeoutSeconds) * time.Second
}

// EventsConfig 决定会话生命周期事件的投递方式。
type EventsConfig struct {
	Driver   string         `json:"driver"`
	Buffer   int            `json:"buffer"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RabbitMQConfig 描述 RabbitMQ 投递参数。
type RabbitMQConfig struct {
	URL        string `json:"url"`
	Exchange   string `json:"exchange"`
	RoutingKey string `json:"routing_key"`
}

// AuthConfig 控制 API 的认证方式。
type AuthConfig struct {
	Mode   string        `json:"mode"`
	Tokens []TokenConfig `json:"tokens"`
}

// TokenConfig 描述一个静态 bearer token 及其权限。
type TokenConfig struct {
	Name        string   `json:"name"`
	Token       string   `json:"token"`
	Permissions []string `json:"permissions"`
	Disabled    bool     `json:"disabled"`
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("配置文件路径为空")
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Connector.Cache.Driver == "" {
		c.Connector.Cache.Driver = "memory"
	}
	if c.Connector.Cache.Key == "" {
		c.Connector.Cache.Key = "walletd:cached-provider"
	}
	if c.Connector.ProvidersFile != "" && !filepath.IsAbs(c.Connector.ProvidersFile) {
		c.Connector.ProvidersFile = filepath.Join(baseDir, c.Connector.ProvidersFile)
	}

	if c.Injected.ChainID == 0 {
		c.Injected.ChainID = 1337
	}

	if c.Events.Driver == "" {
		c.Events.Driver = "log"
	}
	if c.Events.Buffer <= 0 {
		c.Events.Buffer = 256
	}
	if c.Events.RabbitMQ.Exchange == "" {
		c.Events.RabbitMQ.Exchange = "walletd.session"
	}
	if c.Events.RabbitMQ.RoutingKey == "" {
		c.Events.RabbitMQ.RoutingKey = "session.lifecycle"
	}

	if c.Auth.Mode == "" {
		c.Auth.Mode = "disabled"
	}
	for i := range c.Auth.Tokens {
		if strings.HasPrefix(c.Auth.Tokens[i].Token, "env:") {
			c.Auth.Tokens[i].Token = os.Getenv(strings.TrimPrefix(c.Auth.Tokens[i].Token, "env:"))
		}
	}

	if c.Log.Audit.Path != "" && !filepath.IsAbs(c.Log.Audit.Path) {
		c.Log.Audit.Path = filepath.Join(baseDir, c.Log.Audit.Path)
	}
}

func (c *Config) validate() error {
	switch c.Connector.Cache.Driver {
	case "memory":
	case "redis":
		if c.Connector.Cache.Redis.Address == "" {
			return errors.New("redis 缓存需要配置 address")
		}
	case "mysql":
		if c.Connector.Cache.MySQL.DSN == "" {
			return errors.New("mysql 缓存需要配置 dsn")
		}
	default:
		return fmt.Errorf("未知的缓存驱动: %s", c.Connector.Cache.Driver)
	}

	switch c.Events.Driver {
	case "log", "none":
	case "rabbitmq":
		if c.Events.RabbitMQ.URL == "" {
			return errors.New("rabbitmq 事件投递需要配置 url")
		}
	default:
		return fmt.Errorf("未知的事件驱动: %s", c.Events.Driver)
	}

	switch c.Auth.Mode {
	case "disabled":
	case "token":
		if len(c.Auth.Tokens) == 0 {
			return errors.New("token 认证需要至少配置一个 token")
		}
	default:
		return fmt.Errorf("未知的认证模式: %s", c.Auth.Mode)
	}
	return nil
}
