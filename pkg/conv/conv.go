// Package conv 提供 YAML/JSON 配置 map 的取值与类型转换工具，用于 Node 构建器。
package conv

import (
	"fmt"
	"time"
)

// ToFloat64 将 any 转为 float64。
// 支持 float64、float32、int、int64、int32；bool 视为 1.0/0.0。
func ToFloat64(v any) (float64, bool) {
	if v == nil {
		return 0, false
	}
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case int32:
		return float64(val), true
	case bool:
		if val {
			return 1.0, true
		}
		return 0.0, true
	default:
		return 0, false
	}
}

// ConfigGet 从 map[string]any（如 YAML/JSON 解析结果）按 key 取 T，取不到或类型不符时返回 defaultVal。
func ConfigGet[T any](m map[string]any, key string, defaultVal T) T {
	if m == nil {
		return defaultVal
	}
	v, ok := m[key]
	if !ok {
		return defaultVal
	}
	t, ok := v.(T)
	if !ok {
		return defaultVal
	}
	return t
}

// ConfigGetInt 从 config 取 int。YAML/JSON 常得到 int 或 float64，此处统一处理。
func ConfigGetInt(m map[string]any, key string, defaultVal int) int {
	if f, ok := ToFloat64(lookup(m, key)); ok {
		return int(f)
	}
	return defaultVal
}

// ConfigGetFloat 从 config 取 float64。
func ConfigGetFloat(m map[string]any, key string, defaultVal float64) float64 {
	if f, ok := ToFloat64(lookup(m, key)); ok {
		return f
	}
	return defaultVal
}

// ConfigGetDuration 从 config 取时长，支持 "30s" 形式的字符串或按秒计的数字。
func ConfigGetDuration(m map[string]any, key string, defaultVal time.Duration) time.Duration {
	v := lookup(m, key)
	if s, ok := v.(string); ok {
		if d, err := time.ParseDuration(s); err == nil {
			return d
		}
		return defaultVal
	}
	if f, ok := ToFloat64(v); ok {
		return time.Duration(f * float64(time.Second))
	}
	return defaultVal
}

// SliceAnyToString 将 []any 转为 []string。
// 元素为 string 直接保留，为数字时格式化为 "%.0f"。
func SliceAnyToString(v any) []string {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, e := range raw {
		if s, ok := e.(string); ok {
			out = append(out, s)
			continue
		}
		if f, ok := ToFloat64(e); ok {
			out = append(out, fmt.Sprintf("%.0f", f))
		}
	}
	return out
}

func lookup(m map[string]any, key string) any {
	if m == nil {
		return nil
	}
	return m[key]
}
