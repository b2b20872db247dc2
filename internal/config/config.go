// 包 config：进程启动时一次性解析的分层配置
// 背景：默认值 → 环境变量覆盖 → 校验，产出最终结构体；业务代码只接收结构体，
// 不在运行期读环境变量，也没有静默回退链
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Replica：单个读副本的连接目标
type Replica struct {
	Host string
	Port int
}

// DBConfig：主库与读副本连接配置，以及连接预算
type DBConfig struct {
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string

	// 连接预算：总量减去安全余量后按读写拆分，见 dbpool.SizePools
	MaxTotalConnections int
	SafetyMargin        int
	WriteMaxSize        int
	ReadMaxSize         int
	Replicas            []Replica

	// PostGIS 复杂空间查询可能较慢，语句级超时放宽到 120s
	StatementTimeout time.Duration
}

// RedisConfig：共享缓存层连接配置
type RedisConfig struct {
	Host     string
	Port     int
	DB       int
	Password string
}

// CacheConfig：两级缓存参数
type CacheConfig struct {
	LocalMaxEntries int
	LocalTTL        time.Duration
	MaxPayloadBytes int
	// 按资源种类区分的共享层 TTL；未配置的种类使用 DefaultTTL
	KindTTL    map[string]time.Duration
	DefaultTTL time.Duration
}

// FenceConfig：围栏校验阈值与默认样式
type FenceConfig struct {
	MinArea     float64 // 平方米
	MaxArea     float64
	MinVertices int
	MaxVertices int

	DefaultColor         string
	DefaultOpacity       float64
	DefaultStrokeColor   string
	DefaultStrokeWidth   float64
	DefaultStrokeOpacity float64

	MaxMergeFences int
	MaxSplitParts  int
}

// GeocodeConfig：Google 地理编码外部服务配置
type GeocodeConfig struct {
	APIKey        string
	BaseURL       string
	Language      string
	Region        string
	Timeout       time.Duration
	MaxRetries    int
	BackoffFactor float64
}

// Config：进程级配置入口
type Config struct {
	Addr    string
	APIBase string

	LogLevel  string
	LogFormat string

	DB      DBConfig
	Redis   RedisConfig
	Cache   CacheConfig
	Fence   FenceConfig
	Geocode GeocodeConfig

	RateLimitEnabled bool
	RateLimitQPS     int

	SlowQueryThreshold time.Duration
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		switch strings.ToLower(v) {
		case "true", "1", "yes", "on":
			return true
		default:
			return false
		}
	}
	return def
}

// parseReplicas：解析 "host:port,host:port" 形式的读副本列表
// 约束：端口缺省为 5432；空串表示没有读副本，读请求回落到主库
func parseReplicas(s string) []Replica {
	if s == "" {
		return nil
	}
	var out []Replica
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		host := item
		port := 5432
		if i := strings.LastIndex(item, ":"); i > 0 {
			host = item[:i]
			if n, err := strconv.Atoi(item[i+1:]); err == nil {
				port = n
			}
		}
		out = append(out, Replica{Host: host, Port: port})
	}
	return out
}

// Load：构建最终配置
// 背景：仅在进程启动时调用一次；DB_PASSWORD 为必填项，缺失直接报错退出而非带病运行
func Load() (*Config, error) {
	cfg := &Config{
		Addr:      getEnv("ADDR", ":8000"),
		APIBase:   getEnv("API_BASE", "/api"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", ""),
		DB: DBConfig{
			Host:                getEnv("DB_HOST", "localhost"),
			Port:                getEnvInt("DB_PORT", 5432),
			Name:                getEnv("DB_NAME", "gisdb"),
			User:                getEnv("DB_USER", "postgres"),
			Password:            os.Getenv("DB_PASSWORD"),
			SSLMode:             getEnv("DB_SSLMODE", "disable"),
			MaxTotalConnections: getEnvInt("MAX_TOTAL_CONNECTIONS", 50),
			SafetyMargin:        getEnvInt("CONNECTION_SAFETY_MARGIN", 10),
			WriteMaxSize:        getEnvInt("WRITE_DB_MAX_SIZE", 10),
			ReadMaxSize:         getEnvInt("READ_DB_MAX_SIZE", 8),
			Replicas:            parseReplicas(os.Getenv("DB_READ_REPLICAS")),
			StatementTimeout:    120 * time.Second,
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			DB:       getEnvInt("REDIS_DB", 0),
			Password: os.Getenv("REDIS_PASSWORD"),
		},
		Cache: CacheConfig{
			LocalMaxEntries: getEnvInt("CACHE_LOCAL_MAX_ENTRIES", 1000),
			LocalTTL:        time.Duration(getEnvInt("CACHE_LOCAL_TTL", 300)) * time.Second,
			MaxPayloadBytes: getEnvInt("CACHE_MAX_PAYLOAD_BYTES", 10*1024*1024),
			KindTTL: map[string]time.Duration{
				"buildings":        3600 * time.Second,
				"land_polygons":    7200 * time.Second,
				"roads":            1800 * time.Second,
				"pois":             1800 * time.Second,
				"fence_list":       300 * time.Second,
				"fence_detail":     600 * time.Second,
				"fence_geojson":    1800 * time.Second,
				"overlap_analysis": 900 * time.Second,
				"layer_analysis":   1800 * time.Second,
				"fence_stats":      3600 * time.Second,
				"fence_history":    1800 * time.Second,
				"fence_groups":     3600 * time.Second,
				"geocode":          3600 * time.Second,
			},
			DefaultTTL: 3600 * time.Second,
		},
		Fence: FenceConfig{
			MinArea:              getEnvFloat("FENCE_MIN_AREA", 10),
			MaxArea:              getEnvFloat("FENCE_MAX_AREA", 100000000),
			MinVertices:          getEnvInt("FENCE_MIN_VERTICES", 3),
			MaxVertices:          getEnvInt("FENCE_MAX_VERTICES", 10000),
			DefaultColor:         "#FF0000",
			DefaultOpacity:       0.3,
			DefaultStrokeColor:   "#FF0000",
			DefaultStrokeWidth:   2,
			DefaultStrokeOpacity: 0.8,
			MaxMergeFences:       getEnvInt("FENCE_MAX_MERGE", 10),
			MaxSplitParts:        getEnvInt("FENCE_MAX_SPLIT_PARTS", 20),
		},
		Geocode: GeocodeConfig{
			APIKey:        os.Getenv("GOOGLE_API_KEY"),
			BaseURL:       getEnv("GOOGLE_GEOCODE_URL", "https://maps.googleapis.com/maps/api/geocode/json"),
			Language:      getEnv("GOOGLE_LANGUAGE", "id,en"),
			Region:        getEnv("GOOGLE_REGION", "id"),
			Timeout:       time.Duration(getEnvInt("GOOGLE_TIMEOUT", 5)) * time.Second,
			MaxRetries:    getEnvInt("GOOGLE_MAX_RETRIES", 3),
			BackoffFactor: 0.3,
		},
		RateLimitEnabled:   getEnvBool("RATE_LIMIT_ENABLED", false),
		RateLimitQPS:       getEnvInt("RATE_LIMIT_QPS", 200),
		SlowQueryThreshold: time.Duration(getEnvFloat("LOG_SLOW_THRESHOLD", 1.0) * float64(time.Second)),
	}

	if cfg.DB.Password == "" {
		return nil, errors.New("required env DB_PASSWORD is not set")
	}
	if cfg.DB.MaxTotalConnections <= cfg.DB.SafetyMargin {
		return nil, fmt.Errorf("MAX_TOTAL_CONNECTIONS=%d must exceed CONNECTION_SAFETY_MARGIN=%d",
			cfg.DB.MaxTotalConnections, cfg.DB.SafetyMargin)
	}
	return cfg, nil
}

// WriteDSN：主库 DSN，带 application_name 与语句超时
func (d DBConfig) WriteDSN() string {
	return d.dsn(d.Host, d.Port, "fence_map_service")
}

// ReplicaDSN：第 i 个读副本的 DSN
func (d DBConfig) ReplicaDSN(i int) string {
	r := d.Replicas[i]
	return d.dsn(r.Host, r.Port, fmt.Sprintf("fence_map_service_read%d", i+1))
}

func (d DBConfig) dsn(host string, port int, appName string) string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s&application_name=%s&options=-c%%20statement_timeout%%3D%d",
		d.User, d.Password, host, port, d.Name, d.SSLMode, appName,
		int(d.StatementTimeout/time.Millisecond),
	)
}

// RedisAddr：host:port 形式的地址
func (r RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// TTLFor：按资源种类取共享层 TTL
func (c CacheConfig) TTLFor(kind string) time.Duration {
	if ttl, ok := c.KindTTL[kind]; ok {
		return ttl
	}
	return c.DefaultTTL
}
