package migrations

import "embed"

// Files 暴露所有 SQL 迁移文件。
//
//go:embed *.sql
var Files embed.FS

// ProviderCacheSchema 是 wallet_provider_cache 表的建表语句。
//
//go:embed 0001_wallet_provider_cache.sql
var ProviderCacheSchema string
