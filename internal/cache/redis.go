// 包 cache：两级结果缓存（进程内 + Redis），供图层与围栏查询复用
package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"fence-api/internal/config"
	"fence-api/internal/logger"
)

// OpenRedis：按配置打开共享层客户端
// 约束：地址为空返回 nil，缓存退化为纯本地层；连通性探测失败只告警不中断启动
func OpenRedis(cfg config.RedisConfig) *redis.Client {
	if cfg.Host == "" {
		return nil
	}
	rc := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rc.Ping(ctx).Err(); err != nil {
		logger.L().Warn("redis_ping_fail", "addr", cfg.RedisAddr(), "err", err)
	}
	return rc
}
