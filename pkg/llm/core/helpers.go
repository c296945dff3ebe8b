package core

import (
	"encoding/json"
	"strconv"
)

// ═══════════════════════════════════════════════════════════════════════════
// 无类型 JSON 取值
// ═══════════════════════════════════════════════════════════════════════════
//
// 解码到 map[string]any 的厂商响应字段类型并不稳定：数字可能是 float64、
// json.Number 或字符串，对象可能缺失或为 null。以下函数在类型不符时返回零值。

// GetString 取字符串
func GetString(v any) string {
	s, _ := v.(string)
	return s
}

// GetInt64 取整数，接受 JSON 数字、json.Number 与十进制字符串，小数部分截断
func GetInt64(v any) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int:
		return int64(n)
	case int64:
		return n
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i
		}
		f, _ := n.Float64()
		return int64(f)
	case string:
		i, _ := strconv.ParseInt(n, 10, 64)
		return i
	default:
		return 0
	}
}

// GetInt 同 GetInt64，用于索引与 token 计数
func GetInt(v any) int { return int(GetInt64(v)) }

// GetMap 取对象，null 或其他类型返回 nil
func GetMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

// GetSlice 取数组
func GetSlice(v any) []any {
	s, _ := v.([]any)
	return s
}

// Lookup 沿键路径逐层取值，任一层缺失返回 nil
//
//	Lookup(event, "delta", "stop_reason")
func Lookup(v any, keys ...string) any {
	for _, k := range keys {
		m := GetMap(v)
		if m == nil {
			return nil
		}
		v = m[k]
	}
	return v
}
