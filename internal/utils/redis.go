// 包 utils：Redis 连接工具，统一环境变量读取与可选 DB 选择
package utils

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"latlon-utils/internal/logger"
)

// DefaultCacheTTL：查询结果在 Redis 中的缺省保留时间
const DefaultCacheTTL = 24 * time.Hour

// OpenRedis：使用地址与密码打开 Redis 客户端；地址为空时返回 nil
func OpenRedis(addr, pass string) *redis.Client {
	if addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{Addr: addr, Password: pass})
}

// OpenRedisFromEnv：从环境变量打开 Redis 客户端，支持 REDIS_DB 选择
// 约束：REDIS_HOST 与 REDIS_ENABLED 均未设置时返回 nil，查询服务退化为无共享缓存
func OpenRedisFromEnv() *redis.Client {
	host := strings.TrimSpace(os.Getenv("REDIS_HOST"))
	if host == "" && os.Getenv("REDIS_ENABLED") != "true" {
		return nil
	}
	if host == "" {
		host = "127.0.0.1"
	}
	port := os.Getenv("REDIS_PORT")
	if port == "" {
		port = "6379"
	}
	addr := host + ":" + port
	db := 0
	if v := os.Getenv("REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			db = n
		}
	}
	logger.L().Debug("redis_env", "addr", addr, "db", db)
	return redis.NewClient(&redis.Options{Addr: addr, Password: os.Getenv("REDIS_PASS"), DB: db})
}

// CacheTTLFromEnv：REDIS_TTL 为秒数或 Go 时长；无效时使用 DefaultCacheTTL
func CacheTTLFromEnv() time.Duration {
	v := strings.TrimSpace(os.Getenv("REDIS_TTL"))
	if v == "" {
		return DefaultCacheTTL
	}
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d
	}
	return DefaultCacheTTL
}
