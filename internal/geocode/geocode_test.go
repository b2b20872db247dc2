package geocode

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fence-api/internal/cache"
	"fence-api/internal/config"
)

func testClient(t *testing.T, handler http.HandlerFunc) (*Client, *cache.Manager) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cm := cache.NewManager(nil, config.CacheConfig{
		LocalMaxEntries: 100,
		LocalTTL:        time.Minute,
		MaxPayloadBytes: 1 << 20,
		DefaultTTL:      time.Hour,
	})
	return New(config.GeocodeConfig{
		APIKey:        "test-key",
		BaseURL:       srv.URL,
		Language:      "zh-CN",
		Region:        "cn",
		Timeout:       2 * time.Second,
		MaxRetries:    3,
		BackoffFactor: 0.001,
	}, cm), cm
}

func okResponse() string {
	return `{
		"status": "OK",
		"results": [{
			"formatted_address": "北京市海淀区",
			"geometry": {"location": {"lat": 39.905, "lng": 116.305}}
		}]
	}`
}

func TestForward(t *testing.T) {
	var gotAddress string
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAddress = r.URL.Query().Get("address")
		assert.Equal(t, "test-key", r.URL.Query().Get("key"))
		w.Write([]byte(okResponse()))
	})

	res, err := c.Forward(context.Background(), "海淀区")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "海淀区", gotAddress)
	assert.InDelta(t, 39.905, res.Lat, 1e-9)
	assert.InDelta(t, 116.305, res.Lng, 1e-9)
	assert.Equal(t, "北京市海淀区", res.FormattedAddress)
	assert.NotEmpty(t, res.GoogleResult)
}

func TestReverseSendsLatLng(t *testing.T) {
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.URL.Query().Get("latlng"))
		assert.Equal(t, "establishment|point_of_interest|premise", r.URL.Query().Get("result_type"))
		w.Write([]byte(okResponse()))
	})
	res, err := c.Reverse(context.Background(), 39.9, 116.3)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "北京市海淀区", res.Name)
}

func TestReverseExtractsPlaceName(t *testing.T) {
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"status": "OK",
			"results": [{
				"formatted_address": "中关村软件园, 海淀区, 北京市",
				"place_id": "ChIJtest",
				"types": ["establishment"],
				"address_components": [
					{"long_name": "海淀区", "types": ["sublocality"]},
					{"long_name": "中关村软件园", "types": ["establishment", "point_of_interest"]}
				],
				"geometry": {"location": {"lat": 40.04, "lng": 116.28}}
			}]
		}`))
	})
	res, err := c.Reverse(context.Background(), 40.04, 116.28)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "中关村软件园", res.Name)
	assert.Equal(t, "ChIJtest", res.PlaceID)
}

func TestReverseFallsBackToAddressSegment(t *testing.T) {
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"status": "OK",
			"results": [{
				"formatted_address": "知春路 23 号, 海淀区",
				"geometry": {"location": {"lat": 39.97, "lng": 116.33}}
			}]
		}`))
	})
	res, err := c.Reverse(context.Background(), 39.97, 116.33)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "知春路 23 号", res.Name)
}

func TestReverseRejectsShortName(t *testing.T) {
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"status": "OK",
			"results": [{
				"formatted_address": "口",
				"geometry": {"location": {"lat": 39.9, "lng": 116.3}}
			}]
		}`))
	})
	res, err := c.Reverse(context.Background(), 39.9, 116.3)
	assert.NoError(t, err)
	assert.Nil(t, res)
}

func TestForwardCachesResult(t *testing.T) {
	calls := 0
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(okResponse()))
	})

	_, err := c.Forward(context.Background(), "海淀区")
	require.NoError(t, err)
	res, err := c.Forward(context.Background(), "海淀区")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, 1, calls)
}

func TestRetryThenSucceed(t *testing.T) {
	calls := 0
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(okResponse()))
	})

	res, err := c.Forward(context.Background(), "x")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, 3, calls)
}

func TestSoftFailOnExhaustedRetries(t *testing.T) {
	calls := 0
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		json.NewEncoder(w).Encode(map[string]string{"status": "OVER_QUERY_LIMIT"})
	})

	res, err := c.Forward(context.Background(), "x")
	assert.NoError(t, err)
	assert.Nil(t, res)
	assert.Equal(t, 3, calls)
}

func TestSoftFailOnZeroResults(t *testing.T) {
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"OK","results":[]}`))
	})
	res, err := c.Forward(context.Background(), "乌有乡")
	assert.NoError(t, err)
	assert.Nil(t, res)
}

func TestNoKeyIsSoftFail(t *testing.T) {
	cm := cache.NewManager(nil, config.CacheConfig{LocalMaxEntries: 10, LocalTTL: time.Minute})
	c := New(config.GeocodeConfig{MaxRetries: 3}, cm)
	res, err := c.Forward(context.Background(), "x")
	assert.NoError(t, err)
	assert.Nil(t, res)
}

func TestEmptyAddress(t *testing.T) {
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("should not be called")
	})
	res, err := c.Forward(context.Background(), "")
	assert.NoError(t, err)
	assert.Nil(t, res)
}
