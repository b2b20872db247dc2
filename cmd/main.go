// 程序入口：仅负责读取配置、初始化依赖并启动服务；API 注册在 internal/api 以便扩展
package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"fence-api/internal/api"
	"fence-api/internal/cache"
	"fence-api/internal/config"
	"fence-api/internal/dbpool"
	"fence-api/internal/fence"
	"fence-api/internal/geocode"
	"fence-api/internal/layers"
	"fence-api/internal/logger"
	"fence-api/internal/metrics"
	"fence-api/internal/middleware"
	"fence-api/internal/migrate"
	"fence-api/internal/store"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load(".env")
	cfg, err := config.Load()
	if err != nil {
		logger.Setup("info", "").Error("config_load_error", "err", err)
		os.Exit(1)
	}
	l := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	l.Debug("log_init_ok")
	l.Debug("config_api_base", "base", cfg.APIBase)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	pools, err := dbpool.Open(ctx, cfg.DB)
	cancel()
	if err != nil {
		l.Error("db_open_error", "err", err)
		os.Exit(1)
	}
	defer pools.Close()
	l.Info("db_open_ok")

	wdb, err := pools.Write()
	if err != nil {
		l.Error("db_acquire_error", "err", err)
		os.Exit(1)
	}
	if err := migrate.EnsureSchema(wdb); err != nil {
		l.Error("schema_error", "err", err)
		os.Exit(1)
	}

	rc := cache.OpenRedis(cfg.Redis)
	if rc == nil {
		l.Info("redis_disabled")
	}
	cm := cache.NewManager(rc, cfg.Cache)

	st := store.New(pools)
	fences := fence.NewManager(st, cm, cfg.Fence)
	layerSvc := layers.New(pools, cm, cfg.SlowQueryThreshold)
	geo := geocode.New(cfg.Geocode, cm)

	apiMux := api.BuildRoutes(api.Deps{
		Fences:  fences,
		Layers:  layerSvc,
		Geocode: geo,
		Cache:   cm,
		Pools:   pools,
	})

	mux := http.NewServeMux()
	mux.Handle("/api/", apiMux)
	mux.Handle("/metrics", metrics.Handler())

	handler := logger.AccessMiddleware(l)(mux)
	handler = middleware.Metrics(handler)
	if cfg.RateLimitEnabled {
		handler = middleware.RateLimit(cfg.RateLimitQPS)(handler)
	}

	s := &http.Server{Addr: cfg.Addr, Handler: handler}
	l.Info("listening", "addr", cfg.Addr)
	if err := s.ListenAndServe(); err != nil {
		l.Error("server_error", "err", err)
		os.Exit(1)
	}
}
