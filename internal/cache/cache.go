package cache

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"fence-api/internal/config"
	"fence-api/internal/logger"
	"fence-api/internal/metrics"
)

// localEntry：本地层条目，写入时刻定死过期时间
type localEntry struct {
	payload  []byte
	expireAt time.Time
}

// Manager：两级结果缓存
// 背景：本地层是带容量上限的进程内 map，扛热点键；共享层是 Redis，
// 扛实例间复用。Redis 不可用时共享层静默跳过，读写全部落本地层
// 约束：本地层写满即丢弃新写（不淘汰旧键），条目靠读取时惰性过期
type Manager struct {
	mu    sync.Mutex
	local map[string]localEntry

	rc  *redis.Client
	cfg config.CacheConfig

	hits, misses int64
}

func NewManager(rc *redis.Client, cfg config.CacheConfig) *Manager {
	return &Manager{
		local: make(map[string]localEntry),
		rc:    rc,
		cfg:   cfg,
	}
}

// Get：本地层优先，未命中再查共享层并回填本地
func (m *Manager) Get(ctx context.Context, key string) ([]byte, bool) {
	if payload, ok := m.localGet(key); ok {
		metrics.LocalCacheHitsTotal.Inc()
		m.mu.Lock()
		m.hits++
		m.mu.Unlock()
		return payload, true
	}
	metrics.LocalCacheMissesTotal.Inc()

	if m.rc != nil {
		payload, err := m.rc.Get(ctx, key).Bytes()
		if err == nil {
			metrics.SharedCacheHitsTotal.Inc()
			m.localSet(key, payload)
			m.mu.Lock()
			m.hits++
			m.mu.Unlock()
			return payload, true
		}
		if err != redis.Nil {
			logger.L().Debug("cache_shared_get_fail", "err", err)
		}
		metrics.SharedCacheMissesTotal.Inc()
	}

	m.mu.Lock()
	m.misses++
	m.mu.Unlock()
	return nil, false
}

// Set：双层写入
// 约束：载荷上限只管共享层，超限结果仍进本地层；共享层 TTL 按资源种类区分
func (m *Manager) Set(ctx context.Context, kind, key string, payload []byte) {
	m.localSet(key, payload)
	if m.cfg.MaxPayloadBytes > 0 && len(payload) > m.cfg.MaxPayloadBytes {
		logger.L().Debug("cache_payload_too_large", "kind", kind, "bytes", len(payload))
		return
	}
	if m.rc != nil {
		if err := m.rc.Set(ctx, key, payload, m.cfg.TTLFor(kind)).Err(); err != nil {
			logger.L().Debug("cache_shared_set_fail", "kind", kind, "err", err)
		}
	}
}

// InvalidateAll：围栏数据变更后的粗粒度失效
// 背景：围栏会渗入图层查询结果，精确失效要追踪空间相交，代价不划算；
// 变更低频，直接清空本服务前缀下的所有键
// 约束：共享层用 SCAN 按前缀删除，不动同库里其他服务的键
func (m *Manager) InvalidateAll(ctx context.Context) {
	m.mu.Lock()
	m.local = make(map[string]localEntry)
	m.mu.Unlock()
	metrics.CacheInvalidationsTotal.Inc()

	if m.rc == nil {
		return
	}
	var cursor uint64
	deleted := 0
	for {
		keys, next, err := m.rc.Scan(ctx, cursor, keyPrefix+"*", 500).Result()
		if err != nil {
			logger.L().Warn("cache_invalidate_scan_fail", "err", err)
			return
		}
		if len(keys) > 0 {
			if err := m.rc.Del(ctx, keys...).Err(); err != nil {
				logger.L().Warn("cache_invalidate_del_fail", "err", err)
				return
			}
			deleted += len(keys)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	logger.L().Info("cache_invalidated", "shared_keys", deleted)
}

// Stats：运行期统计快照
type Stats struct {
	LocalEntries int     `json:"local_entries"`
	Hits         int64   `json:"hits"`
	Misses       int64   `json:"misses"`
	HitRate      float64 `json:"hit_rate"`
	SharedUp     bool    `json:"shared_up"`
}

func (m *Manager) Stats(ctx context.Context) Stats {
	m.mu.Lock()
	s := Stats{
		LocalEntries: len(m.local),
		Hits:         m.hits,
		Misses:       m.misses,
	}
	m.mu.Unlock()
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	if m.rc != nil {
		pctx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		s.SharedUp = m.rc.Ping(pctx).Err() == nil
	}
	return s
}

func (m *Manager) localGet(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.local[key]
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expireAt) {
		delete(m.local, key)
		return nil, false
	}
	return e.payload, true
}

func (m *Manager) localSet(key string, payload []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.local[key]; !exists && len(m.local) >= m.cfg.LocalMaxEntries {
		return
	}
	m.local[key] = localEntry{payload: payload, expireAt: time.Now().Add(m.cfg.LocalTTL)}
}
