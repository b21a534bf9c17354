package connector

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"OpenMCP-Wallet/deploy/migrations"

	"github.com/go-sql-driver/mysql"
)

// MySQLCacheConfig 描述 MySQL 缓存的连接参数。
type MySQLCacheConfig struct {
	DSN          string
	Key          string
	MaxOpenConns int
	MaxIdleConns int
}

// MySQLCache 将已选 provider 存放在 wallet_provider_cache 表中。
type MySQLCache struct {
	db  *sql.DB
	key string
}

var providerCacheSchema = strings.TrimSpace(migrations.ProviderCacheSchema)

// NewMySQLCache 连接 MySQL 并确保缓存表存在。
func NewMySQLCache(ctx context.Context, cfg MySQLCacheConfig) (*MySQLCache, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("MySQL DSN 不能为空")
	}
	if _, err := mysql.ParseDSN(cfg.DSN); err != nil {
		return nil, fmt.Errorf("解析 MySQL DSN 失败: %w", err)
	}

	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("连接 MySQL 失败: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	} else {
		db.SetMaxOpenConns(4)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	} else {
		db.SetMaxIdleConns(2)
	}
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("无法连接到 MySQL: %w", err)
	}

	cache, err := newMySQLCache(ctx, db, cfg.Key)
	if err != nil {
		db.Close()
		return nil, err
	}
	return cache, nil
}

func newMySQLCache(ctx context.Context, db *sql.DB, key string) (*MySQLCache, error) {
	if key == "" {
		key = "walletd:cached-provider"
	}
	if _, err := db.ExecContext(ctx, providerCacheSchema); err != nil {
		return nil, fmt.Errorf("初始化 wallet_provider_cache 表失败: %w", err)
	}
	return &MySQLCache{db: db, key: key}, nil
}

// Load implements Cache.
func (c *MySQLCache) Load(ctx context.Context) (string, error) {
	var name string
	err := c.db.QueryRowContext(ctx, `SELECT provider FROM wallet_provider_cache WHERE cache_key = ?`, c.key).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("读取 MySQL 缓存失败: %w", err)
	}
	return name, nil
}

// Store implements Cache.
func (c *MySQLCache) Store(ctx context.Context, name string) error {
	const stmt = `INSERT INTO wallet_provider_cache (cache_key, provider, updated_at) VALUES (?, ?, ?)
        ON DUPLICATE KEY UPDATE provider = VALUES(provider), updated_at = VALUES(updated_at)`
	if _, err := c.db.ExecContext(ctx, stmt, c.key, name, time.Now().Unix()); err != nil {
		return fmt.Errorf("写入 MySQL 缓存失败: %w", err)
	}
	return nil
}

// Clear implements Cache.
func (c *MySQLCache) Clear(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, `DELETE FROM wallet_provider_cache WHERE cache_key = ?`, c.key); err != nil {
		return fmt.Errorf("清除 MySQL 缓存失败: %w", err)
	}
	return nil
}

// Close 关闭数据库连接池。
func (c *MySQLCache) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}
