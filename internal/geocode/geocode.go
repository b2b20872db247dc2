// 包 geocode：Google Geocoding 外部服务客户端
// 背景：正反向地理编码都是软失败语义，外部服务抖动不拖垮主链路
package geocode

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"fence-api/internal/cache"
	"fence-api/internal/config"
	"fence-api/internal/logger"
	"fence-api/internal/metrics"
)

// Result：一次编码结果，保留 Google 原始首条结果供前端细用
type Result struct {
	Lat              float64         `json:"lat"`
	Lng              float64         `json:"lng"`
	FormattedAddress string          `json:"formatted_address"`
	Name             string          `json:"name,omitempty"`
	PlaceID          string          `json:"place_id,omitempty"`
	Types            []string        `json:"types,omitempty"`
	GoogleResult     json.RawMessage `json:"google_result,omitempty"`
}

type googleResult struct {
	FormattedAddress  string `json:"formatted_address"`
	PlaceID           string `json:"place_id"`
	AddressComponents []struct {
		LongName string   `json:"long_name"`
		Types    []string `json:"types"`
	} `json:"address_components"`
	Types    []string `json:"types"`
	Geometry struct {
		Location struct {
			Lat float64 `json:"lat"`
			Lng float64 `json:"lng"`
		} `json:"location"`
	} `json:"geometry"`
}

type googleResponse struct {
	Status       string         `json:"status"`
	ErrorMessage string         `json:"error_message"`
	Results      []googleResult `json:"results"`
}

// Client：带缓存与重试的编码客户端
type Client struct {
	cfg    config.GeocodeConfig
	cm     *cache.Manager
	client *http.Client
}

func New(cfg config.GeocodeConfig, cm *cache.Manager) *Client {
	return &Client{
		cfg:    cfg,
		cm:     cm,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Forward：地址转坐标
// 约束：未配置密钥、重试耗尽、无结果都返回 (nil, nil)，由调用方按软失败处理
func (c *Client) Forward(ctx context.Context, address string) (*Result, error) {
	if address == "" {
		return nil, nil
	}
	return c.lookup(ctx, map[string]string{"address": address})
}

// Reverse：坐标转建筑/地点名
// 约束：只认 establishment/point_of_interest/premise 类结果；名称短于 3 个字符视为无效
func (c *Client) Reverse(ctx context.Context, lat, lng float64) (*Result, error) {
	r, err := c.lookup(ctx, map[string]string{
		"latlng":      fmt.Sprintf("%f,%f", lat, lng),
		"result_type": "establishment|point_of_interest|premise",
	})
	if err != nil || r == nil {
		return nil, err
	}
	if utf8.RuneCountInString(strings.TrimSpace(r.Name)) < 3 {
		logger.L().Warn("geocode_reverse_name_invalid", "lat", lat, "lng", lng, "name", r.Name)
		return nil, nil
	}
	return r, nil
}

// placeName：从地址分量里挑地点名；无分量时退回格式化地址首段，限长 95 字符
func placeName(r googleResult) string {
	name := ""
	for _, comp := range r.AddressComponents {
		for _, t := range comp.Types {
			if t == "establishment" || t == "point_of_interest" || t == "premise" {
				name = comp.LongName
				break
			}
		}
		if name != "" {
			break
		}
	}
	if name == "" {
		name = r.FormattedAddress
		if i := strings.Index(name, ","); i >= 0 {
			name = strings.TrimSpace(name[:i])
		}
	}
	if runes := []rune(name); len(runes) > 95 {
		name = string(runes[:95]) + "..."
	}
	return name
}

func (c *Client) lookup(ctx context.Context, params map[string]string) (*Result, error) {
	if c.cfg.APIKey == "" {
		logger.L().Debug("geocode_no_key")
		return nil, nil
	}

	key := c.cacheKey(params)
	if payload, ok := c.cm.Get(ctx, key); ok {
		var r Result
		if err := json.Unmarshal(payload, &r); err == nil {
			return &r, nil
		}
	}

	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			// 指数退避：backoff * 2^(attempt-1) 秒
			delay := time.Duration(c.cfg.BackoffFactor * float64(uint(1)<<(attempt-1)) * float64(time.Second))
			logger.L().Warn("geocode_retry", "attempt", attempt, "err", lastErr)
			select {
			case <-ctx.Done():
				return nil, nil
			case <-time.After(delay):
			}
		}
		r, err := c.request(ctx, params)
		if err == nil {
			payload, merr := json.Marshal(r)
			if merr == nil {
				c.cm.Set(ctx, "geocode", key, payload)
			}
			return r, nil
		}
		lastErr = err
	}

	metrics.GeocodeFailTotal.Inc()
	logger.L().Error("geocode_fail", "err", lastErr)
	return nil, nil
}

var errNoResults = errors.New("no geocoding results")

func (c *Client) request(ctx context.Context, params map[string]string) (*Result, error) {
	q := url.Values{}
	for k, v := range params {
		q.Set(k, v)
	}
	q.Set("key", c.cfg.APIKey)
	q.Set("language", c.cfg.Language)
	q.Set("region", c.cfg.Region)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	t0 := time.Now()
	metrics.GeocodeRequestsTotal.Inc()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("geocode http %d", resp.StatusCode)
	}

	var g googleResponse
	if err := json.NewDecoder(resp.Body).Decode(&g); err != nil {
		return nil, err
	}
	dur := time.Since(t0).Milliseconds()
	metrics.GeocodeDurationMs.Observe(float64(dur))
	logger.L().Debug("geocode_resp", "status", g.Status, "results", len(g.Results), "duration_ms", dur)

	if g.Status != "OK" {
		if g.ErrorMessage != "" {
			return nil, fmt.Errorf("geocode status %s: %s", g.Status, g.ErrorMessage)
		}
		return nil, fmt.Errorf("geocode status %s", g.Status)
	}
	if len(g.Results) == 0 {
		return nil, errNoResults
	}

	first := g.Results[0]
	raw, _ := json.Marshal(first)
	return &Result{
		Lat:              first.Geometry.Location.Lat,
		Lng:              first.Geometry.Location.Lng,
		FormattedAddress: first.FormattedAddress,
		Name:             placeName(first),
		PlaceID:          first.PlaceID,
		Types:            first.Types,
		GoogleResult:     raw,
	}, nil
}

func (c *Client) cacheKey(params map[string]string) string {
	q := url.Values{}
	for k, v := range params {
		q.Set(k, v)
	}
	sum := md5.Sum([]byte(q.Encode()))
	return "fenceapi:geocode:" + hex.EncodeToString(sum[:])
}
