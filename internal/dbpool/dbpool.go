// 包 dbpool：读写分离的 PostgreSQL 连接池组
// 背景：一个主库写池 + 多个只读副本池，总连接数受全局预算约束
package dbpool

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"

	_ "github.com/lib/pq"

	"fence-api/internal/config"
	"fence-api/internal/logger"
)

// ErrNotInitialized：启动期未完成建池就取连接
var ErrNotInitialized = errors.New("database pools not initialized")

// Pools：进程内唯一的连接池组
// 约束：只在启动期 Open 一次，之后只读；副本轮询游标用显式原子计数，
// 分发确定性强于按时间取模
type Pools struct {
	write    *sql.DB
	replicas []*sql.DB
	cursor   atomic.Uint64
}

// SizePools：按预算拆分写池与单个读池的连接上限
// 背景：总预算扣除安全余量后，写池先拿一半（受 WriteMaxSize 封顶），
// 剩余均分给各副本（受 ReadMaxSize 封顶）
// 约束：两侧都钳制在 2 以上，保证退化配置下仍可服务
func SizePools(cfg config.DBConfig) (writeSize, readSize int) {
	budget := cfg.MaxTotalConnections - cfg.SafetyMargin
	writeSize = budget / 2
	if writeSize > cfg.WriteMaxSize {
		writeSize = cfg.WriteMaxSize
	}
	if writeSize < 2 {
		writeSize = 2
	}

	replicas := len(cfg.Replicas)
	if replicas == 0 {
		replicas = 1
	}
	readSize = (budget - writeSize) / replicas
	if readSize > cfg.ReadMaxSize {
		readSize = cfg.ReadMaxSize
	}
	if readSize < 2 {
		readSize = 2
	}
	return writeSize, readSize
}

// Open：建立写池与全部副本读池并逐个探活
// 约束：任何一个池连不上都整体失败；没有配置副本时读请求回落到写池
func Open(ctx context.Context, cfg config.DBConfig) (*Pools, error) {
	writeSize, readSize := SizePools(cfg)

	write, err := openOne(ctx, cfg.WriteDSN(), writeSize)
	if err != nil {
		return nil, fmt.Errorf("open write pool: %w", err)
	}

	p := &Pools{write: write}
	for i := range cfg.Replicas {
		db, err := openOne(ctx, cfg.ReplicaDSN(i), readSize)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("open replica %d: %w", i, err)
		}
		p.replicas = append(p.replicas, db)
	}

	logger.L().Info("db_pools_ready",
		"write_size", writeSize, "read_size", readSize, "replicas", len(p.replicas))
	return p, nil
}

func openOne(ctx context.Context, dsn string, maxOpen int) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxOpen / 2)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Acquire：取连接池
// 背景：读请求在副本间轮询；写请求、以及无副本时的读请求走写池
func (p *Pools) Acquire(readOnly bool) (*sql.DB, error) {
	if p == nil || p.write == nil {
		return nil, ErrNotInitialized
	}
	if !readOnly || len(p.replicas) == 0 {
		return p.write, nil
	}
	i := p.cursor.Add(1) - 1
	return p.replicas[i%uint64(len(p.replicas))], nil
}

// Write：写池直达入口，供迁移等必须落主库的路径使用
func (p *Pools) Write() (*sql.DB, error) {
	return p.Acquire(false)
}

func (p *Pools) Close() {
	if p == nil {
		return
	}
	if p.write != nil {
		p.write.Close()
	}
	for _, db := range p.replicas {
		db.Close()
	}
}

// Healthy：读写两侧是否都可达
func (p *Pools) Healthy(ctx context.Context) bool {
	if p == nil || p.write == nil {
		return false
	}
	if err := p.write.PingContext(ctx); err != nil {
		return false
	}
	for _, db := range p.replicas {
		if err := db.PingContext(ctx); err != nil {
			return false
		}
	}
	return true
}
