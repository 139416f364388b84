// Package testutil 提供测试用的 sqlite 数据库与 redis 实例
package testutil

import (
	"path/filepath"
	"testing"

	"revledger/internal/config"
	"revledger/internal/infrastructure/database"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/spf13/viper"
	"gorm.io/gorm"
)

const MainAccountName = "Main Revenue"

// NewConfig 只含默认值的配置，主账户名与 NewDB 一致
func NewConfig(t testing.TB) *config.Config {
	t.Helper()
	v := viper.New()
	config.SetDefaults(v)
	cfg := &config.Config{}
	if err := v.Unmarshal(cfg); err != nil {
		t.Fatalf("unmarshal default config: %v", err)
	}
	cfg.Ledger.MainAccountName = MainAccountName
	return cfg
}

// NewDB 在临时目录创建已迁移、已初始化主账户的 sqlite 数据库
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()
	cfg := &config.DatabaseConfig{
		Driver:   "sqlite",
		Path:     filepath.Join(t.TempDir(), "ledger.db"),
		LogLevel: "silent",
	}
	db, err := database.Open(cfg, MainAccountName)
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

// NewRedis 启动内存 redis，并返回连接到它的客户端
func NewRedis(t testing.TB) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}
