package cache

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// keyPrefix：共享层键前缀，失效扫描只作用于该前缀
const keyPrefix = "fenceapi:"

// Key：资源名 + 规范化参数摘要构成的缓存键
// 背景：参数按名字典序拼接后取 md5，空值参数不参与；
// 同一查询无论参数书写顺序如何都命中同一个键
// 约束：bbox 类参数四舍五入到 4 位小数，避免微小抖动打散缓存
func Key(resource string, params map[string]string) string {
	parts := make([]string, 0, len(params))
	for name, value := range params {
		if value == "" {
			continue
		}
		parts = append(parts, name+"="+normalizeParam(name, value))
	}
	sort.Strings(parts)
	sum := md5.Sum([]byte(strings.Join(parts, "&")))
	return keyPrefix + resource + ":" + hex.EncodeToString(sum[:])
}

// normalizeParam：坐标类参数按 4 位小数归一
func normalizeParam(name string, value string) string {
	switch name {
	case "min_lon", "min_lat", "max_lon", "max_lat", "lon", "lat", "bbox":
		if strings.Contains(value, ",") {
			fields := strings.Split(value, ",")
			for i, f := range fields {
				fields[i] = roundCoord(f)
			}
			return strings.Join(fields, ",")
		}
		return roundCoord(value)
	}
	return value
}

func roundCoord(s string) string {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return s
	}
	return fmt.Sprintf("%.4f", v)
}
